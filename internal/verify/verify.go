// Package verify implements Verification + Cascade (spec.md §4.G): on
// agent result, runs the verifier adapter against the ticket's branch;
// on pass opens a PR via the VCS adapter and completes the ticket; on
// fail either resets it to ready with agent-facing feedback or fails it
// once attempts are exhausted. Completing a ticket cascades its
// dependents from blocked to ready.
package verify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"swarmcore.io/swarm/internal/adapters/verifier"
	"swarmcore.io/swarm/internal/adapters/vcs"
	"swarmcore.io/swarm/internal/bus"
	"swarmcore.io/swarm/internal/domain"
	"swarmcore.io/swarm/internal/generator"
	"swarmcore.io/swarm/internal/pkg/logger"
	"swarmcore.io/swarm/internal/sessionsm"
	"swarmcore.io/swarm/internal/store"

	"github.com/google/uuid"
)

// Config tunes the verification pass (spec.md §6).
type Config struct {
	MaxAttempts int
	RepoOwner   string
	RepoName    string
	BaseBranch  string
	Phases      []string
}

// DefaultConfig matches the Dispatcher's documented max_attempts and a
// conventional single-branch PR base.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseBranch:  "main",
		Phases:      []string{"go build ./...", "go test ./..."},
	}
}

// Verifier runs verification + cascade for one ticket at a time.
type Verifier struct {
	store    *store.Store
	bus      *bus.Bus
	sessions *sessionsm.Machine
	verifier verifier.Adapter
	vcs      vcs.Adapter
	cfg      Config
}

// New builds a Verifier.
func New(st *store.Store, b *bus.Bus, sessions *sessionsm.Machine, v verifier.Adapter, vc vcs.Adapter, cfg Config) *Verifier {
	return &Verifier{store: st, bus: b, sessions: sessions, verifier: v, vcs: vc, cfg: cfg}
}

// Complete runs the full verification + cascade flow for a ticket the
// Dispatcher believes an agent has just finished (spec.md §4.G steps 1-5).
func (v *Verifier) Complete(ctx context.Context, ticketID string) error {
	t, err := v.store.GetTicket(ctx, ticketID)
	if err != nil {
		return fmt.Errorf("fetch ticket %s: %w", ticketID, err)
	}
	if t.State.Terminal() {
		return nil // already completed/failed/cancelled by a prior attempt
	}

	if err := v.moveToReview(ctx, t); err != nil {
		return err
	}

	result, err := v.verifier.Verify(ctx, verifier.Request{
		TicketID: t.ID,
		Branch:   t.BranchName,
		Repo:     v.cfg.RepoName,
		Attempt:  t.Attempt,
		Phases:   v.cfg.Phases,
	})
	if err != nil {
		logger.Warn("verify: verifier adapter unreachable, treating as a failed attempt",
			zap.String("ticket_id", t.ID), zap.Error(err))
		return v.failAttempt(ctx, t, "verifier unreachable: "+err.Error())
	}

	if result.Status == verifier.StatusPassed {
		return v.pass(ctx, t)
	}
	return v.rejectedAttempt(ctx, t, result)
}

func (v *Verifier) moveToReview(ctx context.Context, t *domain.Ticket) error {
	if t.State == domain.TicketReview {
		return nil
	}
	from := t.State
	to := domain.TicketReview
	if err := v.store.UpdateTicketFields(ctx, t.ID, store.TicketFieldUpdate{State: &to}, &from); err != nil {
		return fmt.Errorf("move ticket %s to review: %w", t.ID, err)
	}
	v.recordAndPublish(ctx, t, string(from), string(to), "verification_started")
	t.State = to
	return nil
}

// pass opens a PR and completes the ticket (spec.md §4.G step 3).
func (v *Verifier) pass(ctx context.Context, t *domain.Ticket) error {
	prURL, err := v.vcs.OpenPR(ctx, v.cfg.RepoOwner, v.cfg.RepoName,
		fmt.Sprintf("%s: %s", t.ID, t.Title), t.Description, t.BranchName, v.cfg.BaseBranch)
	if err != nil {
		return v.failAttempt(ctx, t, "open pr failed: "+err.Error())
	}

	from := t.State
	to := domain.TicketCompleted
	passed := domain.VerificationPassed
	now := time.Now()
	if err := v.store.UpdateTicketFields(ctx, t.ID, store.TicketFieldUpdate{
		State:              &to,
		PRURL:              &prURL,
		VerificationStatus: &passed,
		CompletedAt:        &now,
	}, &from); err != nil {
		return fmt.Errorf("complete ticket %s: %w", t.ID, err)
	}
	v.recordAndPublish(ctx, t, string(from), string(to), "verified")
	t.State = to

	if err := v.Cascade(ctx, t.ID); err != nil {
		logger.Error("verify: cascade after completion", zap.String("ticket_id", t.ID), zap.Error(err))
	}
	v.checkSessionCompletion(ctx, t.SessionID)
	return nil
}

// rejectedAttempt handles a verifier fail verdict (spec.md §4.G steps
// 4-5): not an error, a normal path that may produce a retry.
func (v *Verifier) rejectedAttempt(ctx context.Context, t *domain.Ticket, result *verifier.Result) error {
	return v.failAttempt(ctx, t, result.FeedbackForAgent)
}

// retryOutcome decides where a failed verification attempt goes next
// (spec.md §4.G steps 4-5): back to ready while attempts remain, or to
// failed once the next attempt reaches max_attempts.
func retryOutcome(nextAttempt, maxAttempts int) domain.TicketState {
	if nextAttempt < maxAttempts {
		return domain.TicketReady
	}
	return domain.TicketFailed
}

func (v *Verifier) failAttempt(ctx context.Context, t *domain.Ticket, feedback string) error {
	from := t.State
	attempt := t.Attempt + 1
	rejections := t.RejectionCount + 1
	failed := domain.VerificationFailed

	if retryOutcome(attempt, v.cfg.MaxAttempts) == domain.TicketReady {
		to := domain.TicketReady
		outputs := mergeOutput(t.Outputs, "last_feedback", feedback)
		if err := v.store.UpdateTicketFields(ctx, t.ID, store.TicketFieldUpdate{
			State:              &to,
			Attempt:            &attempt,
			RejectionCount:     &rejections,
			VerificationStatus: &failed,
			Outputs:            &outputs,
			ClearLease:         true,
			ErrorMessage:       &feedback,
		}, &from); err != nil {
			return fmt.Errorf("reset ticket %s to ready after verification failure: %w", t.ID, err)
		}
		v.recordAndPublish(ctx, t, string(from), string(to), "verification_failed_retry")
		v.checkSessionCompletion(ctx, t.SessionID)
		return nil
	}

	to := domain.TicketFailed
	if err := v.store.UpdateTicketFields(ctx, t.ID, store.TicketFieldUpdate{
		State:              &to,
		Attempt:            &attempt,
		RejectionCount:     &rejections,
		VerificationStatus: &failed,
		ErrorMessage:       &feedback,
	}, &from); err != nil {
		return fmt.Errorf("fail ticket %s after exhausted attempts: %w", t.ID, err)
	}
	v.recordAndPublish(ctx, t, string(from), string(to), "verification_failed_exhausted")
	v.checkSessionCompletion(ctx, t.SessionID)
	return nil
}

// Cascade re-checks every descendant blocked on ticketID and advances
// the ones whose dependencies are now all completed (spec.md §4.G
// cascade steps 1-3; R3: idempotent against a descendant that's already
// non-blocked).
func (v *Verifier) Cascade(ctx context.Context, ticketID string) error {
	descendants, err := v.store.DescendantsBlockedOn(ctx, ticketID)
	if err != nil {
		return fmt.Errorf("fetch descendants blocked on %s: %w", ticketID, err)
	}

	for _, d := range descendants {
		ready, err := v.allDependenciesCompleted(ctx, d)
		if err != nil {
			logger.Error("verify: check dependency completion", zap.String("ticket_id", d.ID), zap.Error(err))
			continue
		}
		if !ready {
			continue
		}
		from := d.State

		// The epic ticket exists for backlog tracking only and never goes
		// to an agent (spec.md §4.D rule 1); once its dependencies are all
		// done, complete it directly instead of unblocking it to ready.
		if d.Priority == generator.PriorityEpic {
			to := domain.TicketCompleted
			skipped := domain.VerificationSkipped
			now := time.Now()
			if err := v.store.UpdateTicketFields(ctx, d.ID, store.TicketFieldUpdate{
				State:              &to,
				VerificationStatus: &skipped,
				CompletedAt:        &now,
			}, &from); err != nil {
				logger.Error("verify: cascade epic completion", zap.String("ticket_id", d.ID), zap.Error(err))
				continue
			}
			v.recordAndPublish(ctx, d, string(from), string(to), "epic_auto_completed")
			continue
		}

		to := domain.TicketReady
		if err := v.store.UpdateTicketFields(ctx, d.ID, store.TicketFieldUpdate{State: &to}, &from); err != nil {
			logger.Error("verify: cascade unblock", zap.String("ticket_id", d.ID), zap.Error(err))
			continue
		}
		v.recordAndPublish(ctx, d, string(from), string(to), "cascade_unblocked")
	}
	return nil
}

func (v *Verifier) allDependenciesCompleted(ctx context.Context, t *domain.Ticket) (bool, error) {
	for _, depID := range t.Dependencies {
		dep, err := v.store.GetTicket(ctx, depID)
		if err != nil {
			return false, err
		}
		if dep.State != domain.TicketCompleted {
			return false, nil
		}
	}
	return true, nil
}

func (v *Verifier) checkSessionCompletion(ctx context.Context, sessionID string) {
	if v.sessions == nil || sessionID == "" {
		return
	}
	sess, err := v.store.GetSession(ctx, sessionID)
	if err != nil {
		logger.Warn("verify: fetch session for completion check", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	if err := v.sessions.CheckCascade(ctx, sess); err != nil {
		logger.Error("verify: session completion check", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func mergeOutput(outputs map[string]interface{}, key string, value interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(outputs)+1)
	for k, v := range outputs {
		merged[k] = v
	}
	merged[key] = value
	return merged
}

func (v *Verifier) recordAndPublish(ctx context.Context, t *domain.Ticket, from, to, action string) {
	evt := &domain.AuditEvent{
		ID:        newID(),
		TicketID:  t.ID,
		FromState: from,
		ToState:   to,
		Action:    action,
		Actor:     domain.ActorSystem,
	}
	if err := v.store.InsertEvent(ctx, evt); err != nil {
		logger.Warn("verify: record audit event", zap.String("ticket_id", t.ID), zap.Error(err))
	}
	if v.bus == nil {
		return
	}
	room := bus.RoomTicket + ":" + t.ID
	v.bus.Publish([]string{room, bus.RoomSession + ":" + t.SessionID}, bus.NewEvent(room, "ticket.update", map[string]string{
		"ticket_id": t.ID,
		"from":      from,
		"to":        to,
		"action":    action,
	}))
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
