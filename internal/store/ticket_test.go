package store

import (
	"testing"
	"time"

	"swarmcore.io/swarm/internal/domain"
)

func TestDeref(t *testing.T) {
	if got := deref(nil); got != "" {
		t.Errorf("deref(nil) = %q, want empty", got)
	}
	s := "value"
	if got := deref(&s); got != "value" {
		t.Errorf("deref(&s) = %q, want %q", got, "value")
	}
}

func TestToEntCriteria(t *testing.T) {
	in := []domain.AcceptanceCriterion{
		{ID: "AC-1", Text: "returns 200", Status: domain.CriterionSatisfied},
		{ID: "AC-2", Text: "returns 404", Status: domain.CriterionPartial},
	}
	out := toEntCriteria(in)
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
	if out[0].ID != "AC-1" || out[0].Status != "satisfied" {
		t.Errorf("out[0] = %+v, want id=AC-1 status=satisfied", out[0])
	}
	if out[1].ID != "AC-2" || out[1].Status != "partial" {
		t.Errorf("out[1] = %+v, want id=AC-2 status=partial", out[1])
	}
}

// fakeRow implements rowScanner over a fixed slice of values, mirroring
// pgx.Row.Scan's argument-copy semantics for a single claim_next_ready
// result row.
type fakeRow struct {
	values []interface{}
}

func (f fakeRow) Scan(dest ...interface{}) error {
	for i, d := range dest {
		switch v := d.(type) {
		case *string:
			*v = f.values[i].(string)
		case **string:
			*v = f.values[i].(*string)
		case *int:
			*v = f.values[i].(int)
		case *domain.TicketState:
			*v = f.values[i].(domain.TicketState)
		case *domain.VerificationStatus:
			*v = f.values[i].(domain.VerificationStatus)
		case **time.Time:
			*v = f.values[i].(*time.Time)
		case *time.Time:
			*v = f.values[i].(time.Time)
		case *[]byte:
			*v = f.values[i].([]byte)
		}
	}
	return nil
}

func TestScanTicket(t *testing.T) {
	now := time.Now().UTC()
	var projectID, description, parentID *string
	var assigneeKind, assigneeIdentity, vmID *string
	var branchName, prURL, errorMessage *string
	var leaseExpiry, heartbeat, startedAt, completedAt *time.Time

	row := fakeRow{values: []interface{}{
		"t-1", "tenant-1", "sess-1", projectID, "Add /health endpoint", description, parentID,
		100, domain.TicketReady, assigneeKind, assigneeIdentity, vmID, leaseExpiry, heartbeat,
		[]byte(`["t-0"]`), branchName, prURL, []byte(`[{"id":"AC-1","text":"x","status":"satisfied"}]`),
		0, domain.VerificationPending,
		0, []byte(`{}`), errorMessage, startedAt, completedAt, now, now,
	}}

	ticket, err := scanTicket(row)
	if err != nil {
		t.Fatalf("scanTicket() error = %v", err)
	}
	if ticket.ID != "t-1" || ticket.TenantID != "tenant-1" {
		t.Errorf("ticket = %+v, want id=t-1 tenant=tenant-1", ticket)
	}
	if len(ticket.Dependencies) != 1 || ticket.Dependencies[0] != "t-0" {
		t.Errorf("ticket.Dependencies = %v, want [t-0]", ticket.Dependencies)
	}
	if len(ticket.AcceptanceCriteria) != 1 || ticket.AcceptanceCriteria[0].ID != "AC-1" {
		t.Errorf("ticket.AcceptanceCriteria = %v, want one entry AC-1", ticket.AcceptanceCriteria)
	}
}
