// Package bus is the real-time fan-out layer (spec.md §4.B): a
// single-process pub/sub with room namespaces, delivered to subscribers
// on a best-effort, at-most-once basis. The Bus never persists anything
// and its failure is silent to domain logic — the Store stays the
// source of truth.
package bus

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"swarmcore.io/swarm/internal/pkg/logger"
)

// Room name prefixes recognized by the bus (spec.md §4.B). Callers build
// the full room name themselves, e.g. RoomTicket+":"+ticketID.
const (
	RoomSession = "session"
	RoomTicket  = "ticket"
	RoomProject = "project"
	RoomFleet   = "vm:fleet"
	RoomTenant  = "tenant"
)

// EventDisconnected is the Event.Type sent (best-effort) to a subscriber
// that is about to be dropped for being too slow.
const EventDisconnected = "disconnected"

// Config tunes buffering and liveness.
type Config struct {
	// BufferSize is the outbound channel depth per subscriber.
	BufferSize int
	// SlowConsumerTimeout is how long a subscriber's outbound buffer may
	// stay full before the subscriber is dropped.
	SlowConsumerTimeout time.Duration
	// HeartbeatInterval is the keepalive tick period.
	HeartbeatInterval time.Duration
}

// DefaultConfig returns sensible defaults matching spec.md §4.B (30s
// heartbeat).
func DefaultConfig() Config {
	return Config{
		BufferSize:          256,
		SlowConsumerTimeout: 5 * time.Second,
		HeartbeatInterval:   30 * time.Second,
	}
}

// Token identifies one subscription. Unsubscribe(token) is idempotent.
type Token string

// Bus is a room-scoped pub/sub. The zero value is not usable; use New.
type Bus struct {
	cfg Config

	mu      sync.RWMutex
	rooms   map[string]map[Token]*Subscriber
	tokens  map[Token]*Subscriber
	roomSeq map[string]uint64

	published uint64
	delivered uint64
	dropped   uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	nextID uint64
}

// New creates a Bus and starts its heartbeat loop, stopped by Shutdown.
func New(cfg Config) *Bus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.SlowConsumerTimeout <= 0 {
		cfg.SlowConsumerTimeout = DefaultConfig().SlowConsumerTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultConfig().HeartbeatInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		cfg:     cfg,
		rooms:   make(map[string]map[Token]*Subscriber),
		tokens:  make(map[Token]*Subscriber),
		roomSeq: make(map[string]uint64),
		ctx:     ctx,
		cancel:  cancel,
	}

	b.wg.Add(1)
	go b.heartbeatLoop()

	return b
}

// Subscribe registers a new subscriber for the given rooms and returns its
// outbound queue plus a token for Unsubscribe.
func (b *Bus) Subscribe(rooms []string) (*Subscriber, Token) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	token := Token(formatToken(b.nextID))
	sub := newSubscriber(token, rooms, b.cfg.BufferSize)

	for _, room := range rooms {
		if b.rooms[room] == nil {
			b.rooms[room] = make(map[Token]*Subscriber)
		}
		b.rooms[room][token] = sub
	}
	b.tokens[token] = sub

	return sub, token
}

// Unsubscribe removes a subscriber from all its rooms and closes its
// outbound queue. Safe to call more than once for the same token.
func (b *Bus) Unsubscribe(token Token) {
	b.mu.Lock()
	sub, ok := b.tokens[token]
	if !ok {
		b.mu.Unlock()
		return
	}
	delete(b.tokens, token)
	for room := range sub.rooms {
		if subs, ok := b.rooms[room]; ok {
			delete(subs, token)
			if len(subs) == 0 {
				delete(b.rooms, room)
			}
		}
	}
	b.mu.Unlock()

	sub.close()
}

// Publish delivers event to the union of subscribers across rooms,
// deduplicated per subscriber. event.Room is stamped with the room whose
// sequence counter is incremented; rooms additionally fans the same
// message out to other namespaces (e.g. a ticket event mirrored into its
// session's room) without a second sequence allocation.
//
// Failures to individual subscribers never propagate to other
// subscribers or to the caller (spec.md §4.B failure model): a full
// outbound buffer only logs a warning until SlowConsumerTimeout elapses,
// at which point that subscriber alone is dropped.
func (b *Bus) Publish(rooms []string, event *Event) {
	if event.Room != "" {
		b.mu.Lock()
		b.roomSeq[event.Room]++
		event.Seq = b.roomSeq[event.Room]
		b.mu.Unlock()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	b.mu.RLock()
	seen := make(map[Token]*Subscriber)
	for _, room := range rooms {
		for token, sub := range b.rooms[room] {
			seen[token] = sub
		}
	}
	b.mu.RUnlock()

	b.mu.Lock()
	b.published++
	b.mu.Unlock()

	var toDrop []Token
	for token, sub := range seen {
		if sub.send(event) {
			b.mu.Lock()
			b.delivered++
			b.mu.Unlock()
			continue
		}
		if sub.fullFor() >= b.cfg.SlowConsumerTimeout {
			toDrop = append(toDrop, token)
			continue
		}
		logger.Warn("bus: subscriber buffer full, message dropped",
			zap.String("token", string(token)), zap.String("room", event.Room))
	}

	for _, token := range toDrop {
		logger.Warn("bus: dropping slow subscriber", zap.String("token", string(token)))
		b.mu.Lock()
		b.dropped++
		sub := b.tokens[token]
		b.mu.Unlock()
		if sub != nil {
			sub.send(&Event{Type: EventDisconnected, CreatedAt: time.Now()})
		}
		b.Unsubscribe(token)
	}
}

// Stats reports bus counters (mirrors the dispatcher-style
// published/delivered/dropped triple the rest of the pack exposes).
type Stats struct {
	Published   uint64 `json:"published"`
	Delivered   uint64 `json:"delivered"`
	Dropped     uint64 `json:"dropped"`
	Rooms       int    `json:"rooms"`
	Subscribers int    `json:"subscribers"`
}

// Stats returns a snapshot of the bus's counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{
		Published:   b.published,
		Delivered:   b.delivered,
		Dropped:     b.dropped,
		Rooms:       len(b.rooms),
		Subscribers: len(b.tokens),
	}
}

// Shutdown stops the heartbeat loop and closes every subscriber's queue.
// Bus shutdown is silent to domain logic: callers never need to check it
// before writing to the Store.
func (b *Bus) Shutdown() {
	b.cancel()
	b.wg.Wait()

	b.mu.Lock()
	tokens := make([]Token, 0, len(b.tokens))
	for token := range b.tokens {
		tokens = append(tokens, token)
	}
	b.mu.Unlock()

	for _, token := range tokens {
		b.Unsubscribe(token)
	}
}

func (b *Bus) heartbeatLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.mu.RLock()
			subs := make([]*Subscriber, 0, len(b.tokens))
			for _, sub := range b.tokens {
				subs = append(subs, sub)
			}
			b.mu.RUnlock()

			for _, sub := range subs {
				sub.heartbeat()
			}
		}
	}
}

func formatToken(id uint64) string {
	const hex = "0123456789abcdef"
	if id == 0 {
		return "0"
	}
	var buf [16]byte
	i := len(buf)
	for id > 0 {
		i--
		buf[i] = hex[id%16]
		id /= 16
	}
	return string(buf[i:])
}
