package store

import (
	"context"
	"fmt"

	"swarmcore.io/swarm/ent/approval"
	"swarmcore.io/swarm/internal/domain"
)

// InsertApproval records a human decision against a session
// (spec.md §4.A insert_approval).
func (s *Store) InsertApproval(ctx context.Context, a *domain.Approval) error {
	create := s.ent.Approval.Create().
		SetID(a.ID).
		SetSessionID(a.SessionID).
		SetKind(approval.Kind(a.Kind)).
		SetApprover(a.Approver)
	if a.IP != "" {
		create = create.SetIP(a.IP)
	}
	if a.UserAgent != "" {
		create = create.SetUserAgent(a.UserAgent)
	}
	if a.Data != nil {
		create = create.SetData(a.Data)
	}
	if _, err := create.Save(ctx); err != nil {
		return fmt.Errorf("insert approval %s: %w", a.ID, err)
	}
	return nil
}

// ListApprovals returns a session's approvals oldest-first.
func (s *Store) ListApprovals(ctx context.Context, sessionID string) ([]*domain.Approval, error) {
	rows, err := s.ent.Approval.Query().
		Where(approval.SessionIDEQ(sessionID)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("list approvals for session %s: %w", sessionID, err)
	}
	out := make([]*domain.Approval, len(rows))
	for i, row := range rows {
		out[i] = &domain.Approval{
			ID:        row.ID,
			SessionID: row.SessionID,
			Kind:      domain.ApprovalKind(row.Kind),
			Approver:  row.Approver,
			IP:        row.IP,
			UserAgent: row.UserAgent,
			Data:      row.Data,
			CreatedAt: row.CreatedAt,
		}
	}
	return out, nil
}
