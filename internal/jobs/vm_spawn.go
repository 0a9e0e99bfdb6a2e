// Package jobs holds the River job args/workers that run outside the
// Dispatcher's poll loop so VM spawn and verification never block ticket
// claiming (spec.md §4.E step 3, §4.G), grounded on the teacher's
// VMCreateWorker claim-check shape: the job carries only an id, the
// worker re-fetches the row, checks idempotency, calls the external
// adapter outside any open transaction, then persists the outcome.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"swarmcore.io/swarm/internal/bus"
	"swarmcore.io/swarm/internal/domain"
	"swarmcore.io/swarm/internal/pkg/logger"
	"swarmcore.io/swarm/internal/provider"
	"swarmcore.io/swarm/internal/store"
)

// VMSpawnArgs carries only the ticket id (claim-check pattern, same as
// the teacher's VMCreateArgs).
type VMSpawnArgs struct {
	TicketID string `json:"ticket_id"`
}

func (VMSpawnArgs) Kind() string { return "vm_spawn" }

func (VMSpawnArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       "vm_operations",
		MaxAttempts: 3,
		UniqueOpts:  river.UniqueOpts{ByArgs: true, ByQueue: true},
	}
}

// VMSpawnConfig tunes the microVM template spec.md §4.H leaves
// unspecified beyond "an isolated execution environment" — every
// ticket's agent runs the same runner image, sized uniformly; per-ticket
// sizing is not part of this spec.
type VMSpawnConfig struct {
	Cluster       string
	Namespace     string
	AgentImage    string
	AgentCPU      int
	AgentMemoryMB int
	AgentDiskGB   int

	// HealthTimeout/HealthPoll bound how long Work waits for the spawned
	// VM to report HealthReady before treating the attempt as failed
	// (spec.md §4.E step 3 "transition... when the VM acknowledges
	// readiness").
	HealthTimeout time.Duration
	HealthPoll    time.Duration

	MaxAttempts int
}

// DefaultVMSpawnConfig matches spec.md §6's documented defaults.
func DefaultVMSpawnConfig() VMSpawnConfig {
	return VMSpawnConfig{
		Cluster:       "default",
		Namespace:     "swarm-agents",
		AgentImage:    "ghcr.io/swarmcore/agent-runner:latest",
		AgentCPU:      2,
		AgentMemoryMB: 2048,
		AgentDiskGB:   10,
		HealthTimeout: 2 * time.Minute,
		HealthPoll:    5 * time.Second,
		MaxAttempts:   3,
	}
}

// VMSpawnWorker requests a microVM for a freshly claimed ticket, waits
// for it to become reachable, and transitions the ticket to
// in_progress. A spawn failure or health timeout is an attempt failure,
// not a fatal one: the caller still has attempts remaining.
type VMSpawnWorker struct {
	river.WorkerDefaults[VMSpawnArgs]
	store   *store.Store
	bus     *bus.Bus
	backend provider.Backend
	cfg     VMSpawnConfig
}

// NewVMSpawnWorker builds a VMSpawnWorker.
func NewVMSpawnWorker(st *store.Store, b *bus.Bus, backend provider.Backend, cfg VMSpawnConfig) *VMSpawnWorker {
	return &VMSpawnWorker{store: st, bus: b, backend: backend, cfg: cfg}
}

func (w *VMSpawnWorker) Work(ctx context.Context, job *river.Job[VMSpawnArgs]) error {
	t, err := w.store.GetTicket(ctx, job.Args.TicketID)
	if err != nil {
		return fmt.Errorf("fetch ticket %s: %w", job.Args.TicketID, err)
	}
	if t.State != domain.TicketClaimed {
		logger.Info("vm_spawn: ticket no longer claimed, skipping duplicate execution",
			zap.String("ticket_id", t.ID), zap.String("state", string(t.State)))
		return nil
	}

	spawnJob := provider.JobContext{
		TicketID:           t.ID,
		Cluster:             w.cfg.Cluster,
		Namespace:           w.cfg.Namespace,
		Image:               w.cfg.AgentImage,
		CPU:                 w.cfg.AgentCPU,
		MemoryMB:             w.cfg.AgentMemoryMB,
		DiskGB:               w.cfg.AgentDiskGB,
		AcceptanceCriteria:   criteriaText(t.AcceptanceCriteria),
		RepoRef:              t.BranchName,
	}

	inst, err := w.backend.Spawn(ctx, spawnJob)
	if err != nil {
		logger.Error("vm_spawn: spawn vm", zap.String("ticket_id", t.ID), zap.Error(err))
		return w.failAttempt(ctx, t, "vm spawn failed: "+err.Error())
	}

	vmID := inst.VMID
	claimed := domain.TicketClaimed
	if err := w.store.UpdateTicketFields(ctx, t.ID, store.TicketFieldUpdate{
		VMID:    &vmID,
		Outputs: &map[string]interface{}{"vm_endpoint": inst.Endpoint},
	}, &claimed); err != nil {
		logger.Error("vm_spawn: persist spawned vm id", zap.String("ticket_id", t.ID), zap.Error(err))
	}
	t.VMID = vmID

	if !w.awaitReady(ctx, inst.VMID) {
		logger.Warn("vm_spawn: vm never became ready", zap.String("ticket_id", t.ID), zap.String("vm_id", vmID))
		_ = w.backend.Teardown(ctx, inst.TeardownHandle)
		return w.failAttempt(ctx, t, "vm did not become ready before spawn_health_timeout")
	}

	to := domain.TicketInProgress
	if err := w.store.UpdateTicketFields(ctx, t.ID, store.TicketFieldUpdate{State: &to}, &claimed); err != nil {
		return fmt.Errorf("transition ticket %s to in_progress: %w", t.ID, err)
	}
	w.recordAndPublish(ctx, t, string(domain.TicketClaimed), string(domain.TicketInProgress), "vm_ready")
	return nil
}

// awaitReady polls Health until HealthReady, the timeout elapses, or ctx
// is cancelled. Returns false on timeout/cancellation/unreachable.
func (w *VMSpawnWorker) awaitReady(ctx context.Context, vmID string) bool {
	deadline := time.Now().Add(w.cfg.HealthTimeout)
	ticker := time.NewTicker(w.cfg.HealthPoll)
	defer ticker.Stop()

	for {
		h, err := w.backend.Health(ctx, vmID)
		if err == nil && h.Status == provider.HealthReady {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return false
		}
	}
}

// failAttempt implements spec.md §4.E step 6: increment attempt; if
// below max_attempts reset to ready, otherwise transition to failed.
func (w *VMSpawnWorker) failAttempt(ctx context.Context, t *domain.Ticket, reason string) error {
	attempt := t.Attempt + 1
	if attempt < w.cfg.MaxAttempts {
		to := domain.TicketReady
		if err := w.store.UpdateTicketFields(ctx, t.ID, store.TicketFieldUpdate{
			State:        &to,
			Attempt:      &attempt,
			ClearLease:   true,
			ErrorMessage: &reason,
		}, nil); err != nil {
			return fmt.Errorf("reset ticket %s to ready after failed attempt: %w", t.ID, err)
		}
		w.recordAndPublish(ctx, t, string(t.State), string(domain.TicketReady), "attempt_failed")
		return nil
	}

	to := domain.TicketFailed
	if err := w.store.UpdateTicketFields(ctx, t.ID, store.TicketFieldUpdate{
		State:        &to,
		Attempt:      &attempt,
		ErrorMessage: &reason,
	}, nil); err != nil {
		return fmt.Errorf("fail ticket %s after exhausted attempts: %w", t.ID, err)
	}
	w.recordAndPublish(ctx, t, string(t.State), string(domain.TicketFailed), "attempts_exhausted")
	return nil
}

func (w *VMSpawnWorker) recordAndPublish(ctx context.Context, t *domain.Ticket, from, to, action string) {
	evt := &domain.AuditEvent{
		ID:        newID(),
		TicketID:  t.ID,
		FromState: from,
		ToState:   to,
		Action:    action,
		Actor:     domain.ActorSystem,
	}
	if err := w.store.InsertEvent(ctx, evt); err != nil {
		logger.Warn("vm_spawn: record audit event", zap.String("ticket_id", t.ID), zap.Error(err))
	}
	if w.bus == nil {
		return
	}
	room := bus.RoomTicket + ":" + t.ID
	w.bus.Publish([]string{room, bus.RoomSession + ":" + t.SessionID}, bus.NewEvent(room, "ticket.update", map[string]string{
		"ticket_id": t.ID,
		"from":      from,
		"to":        to,
		"action":    action,
	}))
}

func criteriaText(criteria []domain.AcceptanceCriterion) []string {
	out := make([]string, len(criteria))
	for i, c := range criteria {
		out[i] = c.Text
	}
	return out
}
