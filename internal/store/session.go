package store

import (
	"context"
	"fmt"

	"swarmcore.io/swarm/ent"
	"swarmcore.io/swarm/ent/session"
	"swarmcore.io/swarm/internal/domain"
	apperrors "swarmcore.io/swarm/internal/pkg/errors"
)

// InsertSession persists a new Session in `input` state (spec.md §4.A
// insert_session).
func (s *Store) InsertSession(ctx context.Context, sess *domain.Session) error {
	create := s.ent.Session.Create().
		SetID(sess.ID).
		SetTenantID(sess.TenantID).
		SetState(session.State(sess.State)).
		SetProjectName(sess.ProjectName).
		SetDescription(sess.Description).
		SetSourceType(session.SourceType(sess.SourceType)).
		SetProgress(sess.Progress)
	if sess.ProjectID != "" {
		create = create.SetProjectID(sess.ProjectID)
	}
	if sess.Gathered != nil {
		create = create.SetGathered(sess.Gathered)
	}
	if sess.RepoURL != "" {
		create = create.SetRepoURL(sess.RepoURL)
	}
	if _, err := create.Save(ctx); err != nil {
		return fmt.Errorf("insert session %s: %w", sess.ID, err)
	}
	return nil
}

// GetSession fetches a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	row, err := s.ent.Session.Get(ctx, id)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, apperrors.NotFound(apperrors.CodeSessionNotFound, fmt.Sprintf("session %s not found", id))
		}
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return fromEntSession(row), nil
}

// SessionFieldUpdate carries the subset of session fields a caller wants
// to change; only non-nil pointers are applied.
type SessionFieldUpdate struct {
	State      *domain.SessionState
	Gathered   map[string]interface{}
	DraftSpec  map[string]interface{}
	FinalSpec  map[string]interface{}
	Progress   *int
	Analysis   map[string]interface{}
	ProjectID  *string
}

// UpdateSessionFields applies a conditional update against expectedState
// (spec.md §4.C's transition table), mirroring UpdateTicketFields.
func (s *Store) UpdateSessionFields(ctx context.Context, id string, fields SessionFieldUpdate, expectedState *domain.SessionState) error {
	q := s.ent.Session.Update().Where(session.IDEQ(id))
	if expectedState != nil {
		q = q.Where(session.StateEQ(session.State(*expectedState)))
	}

	if fields.State != nil {
		q = q.SetState(session.State(*fields.State))
	}
	if fields.Gathered != nil {
		q = q.SetGathered(fields.Gathered)
	}
	if fields.DraftSpec != nil {
		q = q.SetDraftSpec(fields.DraftSpec)
	}
	if fields.FinalSpec != nil {
		q = q.SetFinalSpec(fields.FinalSpec)
	}
	if fields.Progress != nil {
		q = q.SetProgress(*fields.Progress)
	}
	if fields.Analysis != nil {
		q = q.SetAnalysis(fields.Analysis)
	}
	if fields.ProjectID != nil {
		q = q.SetProjectID(*fields.ProjectID)
	}

	affected, err := q.Save(ctx)
	if err != nil {
		return fmt.Errorf("update session %s: %w", id, err)
	}
	if affected == 0 {
		from := ""
		if expectedState != nil {
			from = string(*expectedState)
		}
		to := ""
		if fields.State != nil {
			to = string(*fields.State)
		}
		return apperrors.ErrSessionInvalidTransitionf(from, to)
	}
	return nil
}

func fromEntSession(row *ent.Session) *domain.Session {
	return &domain.Session{
		ID:          row.ID,
		TenantID:    row.TenantID,
		ProjectID:   row.ProjectID,
		State:       domain.SessionState(row.State),
		ProjectName: row.ProjectName,
		Description: row.Description,
		Gathered:    row.Gathered,
		DraftSpec:   row.DraftSpec,
		FinalSpec:   row.FinalSpec,
		Progress:    row.Progress,
		SourceType:  domain.SessionSourceType(row.SourceType),
		RepoURL:     row.RepoURL,
		Analysis:    row.Analysis,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
}
