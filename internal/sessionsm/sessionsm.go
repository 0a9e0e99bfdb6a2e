// Package sessionsm drives the Session lifecycle (spec.md §4.C): the
// clarification-turn protocol, spec generation/review, and the
// build-activation handoff that hands a Session's tickets to the
// Generator. Every transition is validated against
// domain.CanTransitionSession, persisted through the Store under its
// expected-state guard, audited, and fanned out on the Bus.
package sessionsm

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"swarmcore.io/swarm/internal/adapters/llm"
	"swarmcore.io/swarm/internal/bus"
	"swarmcore.io/swarm/internal/domain"
	apperrors "swarmcore.io/swarm/internal/pkg/errors"
	"swarmcore.io/swarm/internal/pkg/logger"
	"swarmcore.io/swarm/internal/store"
)

// Config tunes the clarification protocol's thresholds (spec.md §6).
type Config struct {
	MinDescriptionLength   int
	MaxClarificationTurns  int
	CoverageReadyThreshold int
}

// DefaultConfig matches spec.md §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		MinDescriptionLength:   20,
		MaxClarificationTurns:  10,
		CoverageReadyThreshold: 80,
	}
}

// Machine drives one tenant's Session transitions.
type Machine struct {
	store *store.Store
	bus   *bus.Bus
	llm   llm.Adapter
	cfg   Config
}

// New builds a Machine backed by st, fanning out on b and calling adapter
// for clarification turns and spec generation/revision.
func New(st *store.Store, b *bus.Bus, adapter llm.Adapter, cfg Config) *Machine {
	return &Machine{store: st, bus: b, llm: adapter, cfg: cfg}
}

// transition validates from->to, applies fields under the expected-state
// guard, and emits the audit + bus side effects common to every
// operation in this package.
func (m *Machine) transition(ctx context.Context, sess *domain.Session, to domain.SessionState, actor domain.Actor, trigger string, fields store.SessionFieldUpdate) error {
	if !domain.CanTransitionSession(sess.State, to) {
		return apperrors.ErrSessionInvalidTransitionf(string(sess.State), string(to))
	}
	from := sess.State
	fields.State = &to

	if err := m.store.UpdateSessionFields(ctx, sess.ID, fields, &from); err != nil {
		return err
	}

	m.recordEvent(ctx, sess.ID, string(from), string(to), trigger, actor)
	m.publish(sess.ID, bus.NewEvent(bus.RoomSession+":"+sess.ID, "session.state", map[string]string{
		"session_id": sess.ID,
		"from":       string(from),
		"to":         string(to),
		"trigger":    trigger,
	}))
	sess.State = to
	return nil
}

func (m *Machine) recordEvent(ctx context.Context, sessionID, from, to, action string, actor domain.Actor) {
	evt := &domain.AuditEvent{
		ID:        newID(),
		SessionID: sessionID,
		FromState: from,
		ToState:   to,
		Action:    action,
		Actor:     actor,
	}
	if err := m.store.InsertEvent(ctx, evt); err != nil {
		logger.Warn("sessionsm: failed to record audit event",
			zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (m *Machine) publish(sessionID string, evt *bus.Event) {
	if m.bus == nil {
		return
	}
	rooms := []string{bus.RoomSession + ":" + sessionID}
	m.bus.Publish(rooms, evt)
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
