package domain

import "time"

// AuditEvent is an append-only record of a state change, the source of
// truth for recovery and observability (spec.md §3, I6: every state
// change appends an event).
type AuditEvent struct {
	ID        string
	SessionID string
	TicketID  string
	FromState string
	ToState   string
	Action    string
	Actor     Actor
	ActorID   string
	Metadata  map[string]interface{}
	CreatedAt time.Time
}
