package bus

import (
	"testing"
	"time"
)

func TestPublishDeliversToSubscribedRoom(t *testing.T) {
	b := New(Config{BufferSize: 4, SlowConsumerTimeout: time.Second, HeartbeatInterval: time.Hour})
	defer b.Shutdown()

	sub, _ := b.Subscribe([]string{"ticket:t-1"})
	b.Publish([]string{"ticket:t-1"}, NewEvent("ticket:t-1", "ticket.claimed", map[string]string{"id": "t-1"}))

	select {
	case evt := <-sub.Outbound():
		if evt.Type != "ticket.claimed" || evt.Seq != 1 {
			t.Errorf("evt = %+v, want type=ticket.claimed seq=1", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishDedupesAcrossRooms(t *testing.T) {
	b := New(Config{BufferSize: 4, SlowConsumerTimeout: time.Second, HeartbeatInterval: time.Hour})
	defer b.Shutdown()

	sub, _ := b.Subscribe([]string{"ticket:t-1", "session:s-1"})
	b.Publish([]string{"ticket:t-1", "session:s-1"}, NewEvent("ticket:t-1", "ticket.completed", nil))

	select {
	case <-sub.Outbound():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for first event")
	}

	select {
	case extra := <-sub.Outbound():
		t.Fatalf("got unexpected second delivery: %+v", extra)
	default:
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := New(DefaultConfig())
	defer b.Shutdown()

	_, token := b.Subscribe([]string{"vm:fleet"})
	b.Unsubscribe(token)
	b.Unsubscribe(token)

	if stats := b.Stats(); stats.Subscribers != 0 {
		t.Errorf("Subscribers = %d, want 0", stats.Subscribers)
	}
}

func TestSlowConsumerIsDropped(t *testing.T) {
	b := New(Config{BufferSize: 1, SlowConsumerTimeout: 10 * time.Millisecond, HeartbeatInterval: time.Hour})
	defer b.Shutdown()

	sub, _ := b.Subscribe([]string{"tenant:acme"})

	for i := 0; i < 3; i++ {
		b.Publish([]string{"tenant:acme"}, NewEvent("tenant:acme", "tick", nil))
	}
	time.Sleep(20 * time.Millisecond)
	b.Publish([]string{"tenant:acme"}, NewEvent("tenant:acme", "tick", nil))

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("expected slow subscriber to be dropped")
	}

	if stats := b.Stats(); stats.Dropped == 0 {
		t.Errorf("Dropped = %d, want > 0", stats.Dropped)
	}
}
