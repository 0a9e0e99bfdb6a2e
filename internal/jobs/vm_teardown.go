package jobs

import (
	"context"
	"fmt"
	"strings"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"swarmcore.io/swarm/internal/pkg/logger"
	"swarmcore.io/swarm/internal/provider"
)

// VMTeardownArgs carries the vm id to tear down after a ticket cancel
// (spec.md §4.E "Cancellation"): same claim-check shape as VMSpawnArgs,
// but there's no ticket row left to re-fetch state from — the ticket is
// already cancelled by the time this job runs, the vm id is all the
// worker needs.
type VMTeardownArgs struct {
	TicketID string `json:"ticket_id"`
	VMID     string `json:"vm_id"`
}

func (VMTeardownArgs) Kind() string { return "vm_teardown" }

func (VMTeardownArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       "vm_operations",
		MaxAttempts: 3,
		UniqueOpts:  river.UniqueOpts{ByArgs: true, ByQueue: true},
	}
}

// VMTeardownWorker deletes the microVM backing a cancelled ticket, off
// the request path for the same reason VMSpawnWorker runs off it: a slow
// backend delete must never block POST /tickets/{id}/cancel.
type VMTeardownWorker struct {
	river.WorkerDefaults[VMTeardownArgs]
	backend provider.Backend
}

// NewVMTeardownWorker builds a VMTeardownWorker.
func NewVMTeardownWorker(backend provider.Backend) *VMTeardownWorker {
	return &VMTeardownWorker{backend: backend}
}

func (w *VMTeardownWorker) Work(ctx context.Context, job *river.Job[VMTeardownArgs]) error {
	if strings.TrimSpace(job.Args.VMID) == "" || strings.HasPrefix(job.Args.VMID, "pending-") {
		// Cancelled before vm_spawn produced a real handle; VMSpawnWorker's
		// own claimed-state check will no-op it when it eventually runs.
		return nil
	}
	if err := w.backend.Teardown(ctx, job.Args.VMID); err != nil {
		logger.Error("vm_teardown: teardown vm",
			zap.String("ticket_id", job.Args.TicketID), zap.String("vm_id", job.Args.VMID), zap.Error(err))
		return fmt.Errorf("teardown vm %s for ticket %s: %w", job.Args.VMID, job.Args.TicketID, err)
	}
	logger.Info("vm_teardown: vm torn down",
		zap.String("ticket_id", job.Args.TicketID), zap.String("vm_id", job.Args.VMID))
	return nil
}
