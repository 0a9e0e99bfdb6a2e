package bus

import (
	"sync"
	"time"
)

// Subscriber is one connected listener's outbound queue. Ordering is
// preserved per (room, subscriber) because every room a subscriber
// belongs to funnels through this single channel.
type Subscriber struct {
	token    Token
	rooms    map[string]struct{}
	outbound chan *Event

	mu       sync.Mutex
	fullSince time.Time

	closeOnce sync.Once
	closed    chan struct{}
}

func newSubscriber(token Token, rooms []string, bufferSize int) *Subscriber {
	roomSet := make(map[string]struct{}, len(rooms))
	for _, r := range rooms {
		roomSet[r] = struct{}{}
	}
	return &Subscriber{
		token:    token,
		rooms:    roomSet,
		outbound: make(chan *Event, bufferSize),
		closed:   make(chan struct{}),
	}
}

// Token returns the subscriber's subscription token.
func (s *Subscriber) Token() Token {
	return s.token
}

// Outbound is the channel to drain for delivery to the transport (e.g. a
// websocket write pump).
func (s *Subscriber) Outbound() <-chan *Event {
	return s.outbound
}

// Done is closed once the subscriber has been unsubscribed.
func (s *Subscriber) Done() <-chan struct{} {
	return s.closed
}

// send attempts a non-blocking delivery. It returns false if the
// outbound buffer is currently full, in which case fullFor starts
// tracking how long that has been true.
func (s *Subscriber) send(evt *Event) bool {
	select {
	case s.outbound <- evt:
		s.mu.Lock()
		s.fullSince = time.Time{}
		s.mu.Unlock()
		return true
	default:
		s.mu.Lock()
		if s.fullSince.IsZero() {
			s.fullSince = time.Now()
		}
		s.mu.Unlock()
		return false
	}
}

// fullFor reports how long the outbound buffer has been continuously
// full; zero if it is not currently full.
func (s *Subscriber) fullFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fullSince.IsZero() {
		return 0
	}
	return time.Since(s.fullSince)
}

// heartbeat is a best-effort keepalive tick; a full buffer here is just
// another dropped message, not a disconnect by itself (only Publish's
// SlowConsumerTimeout check drops subscribers).
func (s *Subscriber) heartbeat() {
	s.send(&Event{Type: "heartbeat", CreatedAt: time.Now()})
}

func (s *Subscriber) close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		close(s.outbound)
	})
}
