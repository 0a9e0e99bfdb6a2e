package sessionsm

import (
	"context"
	"fmt"

	"swarmcore.io/swarm/internal/domain"
	apperrors "swarmcore.io/swarm/internal/pkg/errors"
	"swarmcore.io/swarm/internal/store"
)

// StartBuild activates ticket generation for an approved session
// (spec.md §4.C's "approved -> building"). Generator.Activate is the
// caller's responsibility once this transition succeeds; the state
// machine only guards the precondition and records the transition.
func (m *Machine) StartBuild(ctx context.Context, sess *domain.Session, confirmed bool) error {
	if sess.State != domain.SessionApproved {
		return apperrors.ErrSessionInvalidTransitionf(string(sess.State), string(domain.SessionBuilding))
	}
	if !confirmed {
		return apperrors.InvalidState("SESSION_BUILD_NOT_CONFIRMED",
			fmt.Sprintf("session %s start-build requires an explicit confirmation", sess.ID))
	}
	if len(sess.FinalSpec) == 0 {
		return apperrors.InvalidState("SESSION_SPEC_MISSING",
			fmt.Sprintf("session %s has no final spec to build from", sess.ID))
	}
	return m.transition(ctx, sess, domain.SessionBuilding, domain.ActorUser, "start-build", store.SessionFieldUpdate{})
}

// CheckCascade re-evaluates a building session's tickets and advances it
// to completed/failed when the table's cascade preconditions are met
// (spec.md §4.C). It is a no-op outside the building state, so callers
// (the Cascade worker, §5) may invoke it unconditionally after every
// ticket completion or failure.
func (m *Machine) CheckCascade(ctx context.Context, sess *domain.Session) error {
	if sess.State != domain.SessionBuilding {
		return nil
	}

	byState, err := m.store.SessionTicketsByState(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("cascade check for session %s: %w", sess.ID, err)
	}

	// A failed ticket has, by the time it reaches that terminal state,
	// already exhausted its retries (P5: attempt <= max_attempts is
	// enforced before the transition to failed), so failure cascades
	// without waiting on sibling tickets. A cancelled ticket leaves its
	// descendants permanently blocked the same way (spec.md §4.E
	// "Cancellation"): nothing will ever satisfy a dependency on a
	// cancelled or failed ticket, so the session fails rather than
	// waiting forever on a blocked ticket that can't reach terminal state.
	if len(byState[domain.TicketFailed]) > 0 || hasPermanentlyBlockedDescendant(byState) {
		return m.transition(ctx, sess, domain.SessionFailed, domain.ActorSystem, "cascade", store.SessionFieldUpdate{})
	}

	allTerminal := true
	completed := 0
	for state, tickets := range byState {
		if state == domain.TicketCompleted {
			completed += len(tickets)
		}
		if !state.Terminal() {
			allTerminal = false
		}
	}
	if allTerminal && completed > 0 {
		return m.transition(ctx, sess, domain.SessionCompleted, domain.ActorSystem, "cascade", store.SessionFieldUpdate{})
	}
	return nil
}

// hasPermanentlyBlockedDescendant reports whether any still-blocked
// ticket depends on a ticket that has reached cancelled or failed — a
// dependency that will never complete, so the blocked ticket can never
// become ready on its own (spec.md §4.E "Cancellation").
func hasPermanentlyBlockedDescendant(byState map[domain.TicketState][]*domain.Ticket) bool {
	deadDeps := make(map[string]bool)
	for _, t := range byState[domain.TicketCancelled] {
		deadDeps[t.ID] = true
	}
	for _, t := range byState[domain.TicketFailed] {
		deadDeps[t.ID] = true
	}
	if len(deadDeps) == 0 {
		return false
	}
	for _, t := range byState[domain.TicketBlocked] {
		for _, dep := range t.Dependencies {
			if deadDeps[dep] {
				return true
			}
		}
	}
	return false
}

// Cancel moves any non-terminal session to cancelled on user request.
func (m *Machine) Cancel(ctx context.Context, sess *domain.Session) error {
	if sess.State.Terminal() {
		return apperrors.ErrSessionInvalidTransitionf(string(sess.State), string(domain.SessionCancelled))
	}
	return m.transition(ctx, sess, domain.SessionCancelled, domain.ActorUser, "cancel", store.SessionFieldUpdate{})
}
