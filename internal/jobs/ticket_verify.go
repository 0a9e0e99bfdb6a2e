package jobs

import (
	"context"

	"github.com/riverqueue/river"
)

// TicketVerifyArgs carries only the ticket id (claim-check pattern).
// Enqueued by the agent-facing /tickets/{id}/complete handler so the
// HTTP response returns immediately while verification and cascade run
// here (spec.md §4.G).
type TicketVerifyArgs struct {
	TicketID string `json:"ticket_id"`
}

func (TicketVerifyArgs) Kind() string { return "ticket_verify" }

func (TicketVerifyArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       "verification",
		MaxAttempts: 3,
		UniqueOpts:  river.UniqueOpts{ByArgs: true, ByQueue: true},
	}
}

// verifier is the one method TicketVerifyWorker needs from
// internal/verify.Verifier, narrowed here to avoid a jobs->verify
// compile-time coupling any tighter than the call it actually makes.
type verifier interface {
	Complete(ctx context.Context, ticketID string) error
}

// TicketVerifyWorker runs Verification + Cascade for one ticket.
type TicketVerifyWorker struct {
	river.WorkerDefaults[TicketVerifyArgs]
	verifier verifier
}

// NewTicketVerifyWorker builds a TicketVerifyWorker.
func NewTicketVerifyWorker(v verifier) *TicketVerifyWorker {
	return &TicketVerifyWorker{verifier: v}
}

func (w *TicketVerifyWorker) Work(ctx context.Context, job *river.Job[TicketVerifyArgs]) error {
	return w.verifier.Complete(ctx, job.Args.TicketID)
}
