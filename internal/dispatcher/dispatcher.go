// Package dispatcher reconciles ready tickets with available microVM
// capacity (spec.md §4.E): a ticker-driven poll loop claims ready work
// under a fleet-wide and per-tenant concurrency cap and hands each claim
// off as a vm_spawn River job, so the poll loop never blocks on the VM
// backend.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"swarmcore.io/swarm/internal/bus"
	"swarmcore.io/swarm/internal/domain"
	"swarmcore.io/swarm/internal/jobs"
	"swarmcore.io/swarm/internal/pkg/logger"
	"swarmcore.io/swarm/internal/pkg/worker"
	"swarmcore.io/swarm/internal/store"
)

// Config tunes the poll loop (spec.md §6 dispatcher defaults).
type Config struct {
	PollInterval         time.Duration
	BatchSize            int
	MaxFleet             int
	TenantConcurrencyCap int
	LeaseDuration        time.Duration
}

// DefaultConfig matches spec.md §6's documented defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:         5 * time.Second,
		BatchSize:            10,
		MaxFleet:             10,
		TenantConcurrencyCap: 10,
		LeaseDuration:        30 * time.Minute,
	}
}

// riverInserter is the one River method the Dispatcher needs, narrowed
// for testability the way internal/provider narrows VM-backend clients.
type riverInserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*river.JobInsertResult, error)
}

// Dispatcher is the single coordinator process's agent-pull claim loop
// (spec.md §4.E, §5 "single coordinator process with multiple concurrent
// tasks"). It never holds a store transaction open across a VM spawn.
type Dispatcher struct {
	store *store.Store
	bus   *bus.Bus
	river riverInserter
	pools *worker.Pools
	cfg   Config

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New builds a Dispatcher. riverClient receives the vm_spawn jobs this
// loop enqueues; pools runs claim attempts concurrently so one slow
// ClaimNextReady call doesn't stall the rest of a tick's candidates.
func New(st *store.Store, b *bus.Bus, riverClient riverInserter, pools *worker.Pools, cfg Config) *Dispatcher {
	return &Dispatcher{
		store:  st,
		bus:    b,
		river:  riverClient,
		pools:  pools,
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}
}

// Start begins the poll loop: a ticker+stopCh+ctx.Done select shape
// (initial tick, then periodic), the same idiom leasemonitor.Monitor uses
// for its own two loops.
func (d *Dispatcher) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(d.cfg.PollInterval)
		defer ticker.Stop()

		d.reconcile(ctx)
		for {
			select {
			case <-ticker.C:
				d.reconcile(ctx)
			case <-d.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the poll loop. Safe to call more than once.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
	})
}

// reconcile runs one poll cycle: size a claim batch per tenant with ready
// work, subject to max_fleet and the per-tenant concurrency cap, then
// claims and dispatches each candidate (spec.md §4.E steps 1-3). max_fleet
// is enforced fleet-wide: fleetBudget is fetched once per tick and debited
// as each tenant's batch is sized, since CountInFlight won't reflect a
// claim made earlier in the same tick until it's committed.
func (d *Dispatcher) reconcile(ctx context.Context) {
	tenants, err := d.store.ListTenantsWithReadyWork(ctx)
	if err != nil {
		logger.Error("dispatcher: list tenants with ready work", zap.Error(err))
		return
	}

	fleetInFlight, err := d.store.CountInFlightFleetWide(ctx)
	if err != nil {
		logger.Error("dispatcher: count fleet-wide in-flight", zap.Error(err))
		return
	}
	fleetBudget := d.cfg.MaxFleet - fleetInFlight

	for _, tenantID := range tenants {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if fleetBudget <= 0 {
			return
		}
		fleetBudget -= d.reconcileTenant(ctx, tenantID, fleetBudget)
	}
}

// reconcileTenant sizes and dispatches tenantID's next claim batch against
// the fleet-wide budget remaining at this point in the tick, and returns
// how many candidates it claimed so the caller can debit that budget.
func (d *Dispatcher) reconcileTenant(ctx context.Context, tenantID string, fleetBudget int) int {
	inFlight, err := d.store.CountInFlight(ctx, tenantID)
	if err != nil {
		logger.Error("dispatcher: count in-flight", zap.String("tenant_id", tenantID), zap.Error(err))
		return 0
	}

	batch := computeBatch(fleetBudget, d.cfg.TenantConcurrencyCap, inFlight, d.cfg.BatchSize)
	if batch <= 0 {
		return 0
	}

	candidates, err := d.store.ListReadyCandidates(ctx, tenantID, batch)
	if err != nil {
		logger.Error("dispatcher: list ready candidates", zap.String("tenant_id", tenantID), zap.Error(err))
		return 0
	}

	for _, candidate := range candidates {
		t := candidate
		if err := d.pools.Dispatch.Submit(ctx, func(taskCtx context.Context) {
			d.claimAndDispatch(taskCtx, tenantID)
		}); err != nil {
			logger.Warn("dispatcher: submit claim task", zap.String("ticket_id", t.ID), zap.Error(err))
		}
	}
	return len(candidates)
}

// claimAndDispatch performs one claim attempt for tenantID (spec.md §4.E
// steps 2-3). It does not target a specific ticket id: ClaimNextReady
// itself picks the highest-priority ready row, so a lost race (another
// coordinator task claiming first) is a normal no-op, not an error.
func (d *Dispatcher) claimAndDispatch(ctx context.Context, tenantID string) {
	vmID := newVMPlaceholderID()
	t, err := d.store.ClaimNextReady(ctx, tenantID, domain.AssigneeAgent, "", vmID, d.cfg.LeaseDuration)
	if err != nil {
		logger.Error("dispatcher: claim next ready", zap.String("tenant_id", tenantID), zap.Error(err))
		return
	}
	if t == nil {
		return // another coordinator task (or poll cycle) claimed it first
	}

	d.recordAndPublish(ctx, t, string(domain.TicketReady), string(domain.TicketClaimed), "claim")

	if _, err := d.river.Insert(ctx, jobs.VMSpawnArgs{TicketID: t.ID}, nil); err != nil {
		logger.Error("dispatcher: enqueue vm_spawn job", zap.String("ticket_id", t.ID), zap.Error(err))
	}
}

func newVMPlaceholderID() string {
	// The real composite vm id (cluster/namespace/name) is only known once
	// VMSpawnWorker's Spawn call succeeds; ClaimNextReady needs a non-empty
	// value to persist immediately so I2 (one VM per ticket) holds from the
	// moment of claim.
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return "pending-" + id.String()
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// computeBatch sizes one tenant's next claim batch: never more than the
// fleet-wide budget remaining this tick or the tenant's own concurrency cap
// allows given its current in_flight count, and never more than batch_size
// (spec.md §4.E step 1, §5 "max_fleet is never exceeded"). A zero or
// negative tenantCap means no separate per-tenant limit is configured, so
// the tenant is bounded only by the fleet-wide budget.
func computeBatch(fleetBudget, tenantCap, inFlight, batchSize int) int {
	budget := fleetBudget
	if tenantCap > 0 {
		if tenantRemaining := tenantCap - inFlight; tenantRemaining < budget {
			budget = tenantRemaining
		}
	}
	return min(budget, batchSize)
}

func (d *Dispatcher) recordAndPublish(ctx context.Context, t *domain.Ticket, from, to, action string) {
	evt := &domain.AuditEvent{
		ID:        newID(),
		TicketID:  t.ID,
		FromState: from,
		ToState:   to,
		Action:    action,
		Actor:     domain.ActorSystem,
	}
	if err := d.store.InsertEvent(ctx, evt); err != nil {
		logger.Warn("dispatcher: record audit event", zap.String("ticket_id", t.ID), zap.Error(err))
	}
	if d.bus == nil {
		return
	}
	room := bus.RoomTicket + ":" + t.ID
	d.bus.Publish([]string{room, bus.RoomSession + ":" + t.SessionID}, bus.NewEvent(room, "ticket.update", map[string]string{
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
