// Package leasemonitor runs the two periodic tasks that keep ticket
// leases honest (spec.md §4.F): a heartbeat publisher that extends
// lease_expiry for every in_progress ticket, and a stale reclaimer that
// returns abandoned tickets to ready (or fails them once attempts are
// exhausted).
package leasemonitor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"swarmcore.io/swarm/internal/bus"
	"swarmcore.io/swarm/internal/domain"
	"swarmcore.io/swarm/internal/pkg/logger"
	"swarmcore.io/swarm/internal/store"
)

// Config tunes both loops' intervals plus the attempt ceiling the
// reclaimer enforces (spec.md §6 lease_monitor defaults).
type Config struct {
	HeartbeatInterval time.Duration
	ReaperInterval    time.Duration
	StaleThreshold    time.Duration
	LeaseDuration     time.Duration
	MaxAttempts       int
}

// DefaultConfig matches spec.md §6's documented defaults (H=30s, R=60s,
// S=5m).
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		ReaperInterval:    60 * time.Second,
		StaleThreshold:    5 * time.Minute,
		LeaseDuration:     30 * time.Minute,
		MaxAttempts:       3,
	}
}

// Monitor runs the heartbeat publisher and stale reclaimer as two
// independent loops, each a ticker+stopCh+sync.Once shape shared with
// Dispatcher.Start/Stop. Intended to run on a single coordinator process
// only (spec.md §4.F: "running multiple coordinators requires an external
// lock").
type Monitor struct {
	store *store.Store
	bus   *bus.Bus
	cfg   Config

	heartbeatStop     chan struct{}
	heartbeatStopOnce sync.Once
	reaperStop        chan struct{}
	reaperStopOnce    sync.Once
}

// New builds a Monitor.
func New(st *store.Store, b *bus.Bus, cfg Config) *Monitor {
	return &Monitor{
		store:         st,
		bus:           b,
		cfg:           cfg,
		heartbeatStop: make(chan struct{}),
		reaperStop:    make(chan struct{}),
	}
}

// Start launches both loops.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.cfg.HeartbeatInterval)
		defer ticker.Stop()

		m.publishHeartbeats(ctx)
		for {
			select {
			case <-ticker.C:
				m.publishHeartbeats(ctx)
			case <-m.heartbeatStop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(m.cfg.ReaperInterval)
		defer ticker.Stop()

		m.reclaimStale(ctx)
		for {
			select {
			case <-ticker.C:
				m.reclaimStale(ctx)
			case <-m.reaperStop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts both loops. Safe to call more than once.
func (m *Monitor) Stop() {
	m.heartbeatStopOnce.Do(func() { close(m.heartbeatStop) })
	m.reaperStopOnce.Do(func() { close(m.reaperStop) })
}

func (m *Monitor) publishHeartbeats(ctx context.Context) {
	n, err := m.store.RefreshHeartbeats(ctx, m.cfg.LeaseDuration)
	if err != nil {
		logger.Error("leasemonitor: refresh heartbeats", zap.Error(err))
		return
	}
	if n > 0 {
		logger.Info("leasemonitor: heartbeats refreshed", zap.Int64("count", n))
	}
}

// reclaimStale transitions every ticket whose last_heartbeat predates
// stale_threshold back to ready with attempt+1, or to failed once
// max_attempts is exhausted (spec.md §4.F step 2).
func (m *Monitor) reclaimStale(ctx context.Context) {
	deadline := time.Now().Add(-m.cfg.StaleThreshold)
	stale, err := m.store.ListStale(ctx, deadline)
	if err != nil {
		logger.Error("leasemonitor: list stale tickets", zap.Error(err))
		return
	}

	for _, t := range stale {
		m.reclaim(ctx, t)
	}
}

func (m *Monitor) reclaim(ctx context.Context, t *domain.Ticket) {
	from := t.State
	attempt := t.Attempt + 1
	reason := "lease expired: no heartbeat within stale_threshold"
	to, clearLease, action := reclaimOutcome(attempt, m.cfg.MaxAttempts)

	update := store.TicketFieldUpdate{
		State:        &to,
		Attempt:      &attempt,
		ErrorMessage: &reason,
	}
	if clearLease {
		update.ClearLease = true
	}
	if err := m.store.UpdateTicketFields(ctx, t.ID, update, &from); err != nil {
		logger.Error("leasemonitor: reclaim stale ticket", zap.String("ticket_id", t.ID), zap.String("to", string(to)), zap.Error(err))
		return
	}
	m.recordAndPublish(ctx, t, string(from), string(to), action)
}

// reclaimOutcome decides where a stale ticket goes next (spec.md §4.F
// step 2): back to ready with its lease cleared while attempts remain,
// or to failed once the next attempt reaches max_attempts.
func reclaimOutcome(nextAttempt, maxAttempts int) (to domain.TicketState, clearLease bool, action string) {
	if nextAttempt < maxAttempts {
		return domain.TicketReady, true, "lease_reclaimed"
	}
	return domain.TicketFailed, false, "lease_reclaim_attempts_exhausted"
}

func (m *Monitor) recordAndPublish(ctx context.Context, t *domain.Ticket, from, to, action string) {
	evt := &domain.AuditEvent{
		ID:        newID(),
		TicketID:  t.ID,
		FromState: from,
		ToState:   to,
		Action:    action,
		Actor:     domain.ActorSystem,
	}
	if err := m.store.InsertEvent(ctx, evt); err != nil {
		logger.Warn("leasemonitor: record audit event", zap.String("ticket_id", t.ID), zap.Error(err))
	}
	if m.bus == nil {
		return
	}
	room := bus.RoomTicket + ":" + t.ID
	m.bus.Publish([]string{room, bus.RoomSession + ":" + t.SessionID}, bus.NewEvent(room, "ticket.update", map[string]string{
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
