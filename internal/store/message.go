package store

import (
	"context"
	"fmt"

	"swarmcore.io/swarm/ent"
	"swarmcore.io/swarm/ent/message"
	"swarmcore.io/swarm/internal/domain"
)

// InsertMessage persists one chat turn within a session
// (spec.md §4.A insert_message).
func (s *Store) InsertMessage(ctx context.Context, m *domain.Message) error {
	create := s.ent.Message.Create().
		SetID(m.ID).
		SetSessionID(m.SessionID).
		SetRole(message.Role(m.Role)).
		SetContent(m.Content)
	if m.MessageType != "" {
		create = create.SetMessageType(m.MessageType)
	}
	if m.Metadata != nil {
		create = create.SetMetadata(m.Metadata)
	}
	if _, err := create.Save(ctx); err != nil {
		return fmt.Errorf("insert message %s: %w", m.ID, err)
	}
	return nil
}

// ListMessages returns a session's messages oldest-first, the clarification
// turn protocol's conversation history input (spec.md §4.C).
func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]*domain.Message, error) {
	rows, err := s.ent.Message.Query().
		Where(message.SessionIDEQ(sessionID)).
		Order(ent.Asc(message.FieldCreatedAt)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("list messages for session %s: %w", sessionID, err)
	}
	out := make([]*domain.Message, len(rows))
	for i, row := range rows {
		out[i] = &domain.Message{
			ID:          row.ID,
			SessionID:   row.SessionID,
			Role:        domain.MessageRole(row.Role),
			Content:     row.Content,
			MessageType: row.MessageType,
			Metadata:    row.Metadata,
			CreatedAt:   row.CreatedAt,
		}
	}
	return out, nil
}
