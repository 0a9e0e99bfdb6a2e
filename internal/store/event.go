package store

import (
	"context"
	"fmt"

	"swarmcore.io/swarm/ent"
	"swarmcore.io/swarm/ent/auditevent"
	"swarmcore.io/swarm/internal/domain"
)

// InsertEvent appends an audit record of a state change (spec.md §4.A
// insert_event; I6: every state change appends an event). The append-only
// table is named AuditEvent in code (see ent/schema/audit_event.go) to
// avoid colliding with the Bus's unrelated Event vocabulary.
func (s *Store) InsertEvent(ctx context.Context, e *domain.AuditEvent) error {
	create := s.ent.AuditEvent.Create().
		SetID(e.ID).
		SetAction(e.Action).
		SetActor(auditevent.Actor(e.Actor))
	if e.SessionID != "" {
		create = create.SetSessionID(e.SessionID)
	}
	if e.TicketID != "" {
		create = create.SetTicketID(e.TicketID)
	}
	if e.FromState != "" {
		create = create.SetFromState(e.FromState)
	}
	if e.ToState != "" {
		create = create.SetToState(e.ToState)
	}
	if e.ActorID != "" {
		create = create.SetActorID(e.ActorID)
	}
	if e.Metadata != nil {
		create = create.SetMetadata(e.Metadata)
	}
	if _, err := create.Save(ctx); err != nil {
		return fmt.Errorf("insert audit event %s: %w", e.ID, err)
	}
	return nil
}

// ListEventsForTicket returns a ticket's event log oldest-first, the
// input to R1 (replaying the log from draft reproduces current state).
func (s *Store) ListEventsForTicket(ctx context.Context, ticketID string) ([]*domain.AuditEvent, error) {
	rows, err := s.ent.AuditEvent.Query().
		Where(auditevent.TicketIDEQ(ticketID)).
		Order(ent.Asc(auditevent.FieldCreatedAt)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("list events for ticket %s: %w", ticketID, err)
	}
	out := make([]*domain.AuditEvent, len(rows))
	for i, row := range rows {
		out[i] = &domain.AuditEvent{
			ID:        row.ID,
			SessionID: row.SessionID,
			TicketID:  row.TicketID,
			FromState: row.FromState,
			ToState:   row.ToState,
			Action:    row.Action,
			Actor:     domain.Actor(row.Actor),
			ActorID:   row.ActorID,
			Metadata:  row.Metadata,
			CreatedAt: row.CreatedAt,
		}
	}
	return out, nil
}
