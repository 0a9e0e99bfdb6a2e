package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"swarmcore.io/swarm/ent"
	"swarmcore.io/swarm/ent/schema"
	"swarmcore.io/swarm/ent/ticket"
	"swarmcore.io/swarm/internal/domain"
	apperrors "swarmcore.io/swarm/internal/pkg/errors"
)

// InsertTicket persists a newly generated ticket in `draft` (spec.md §4.A
// insert_ticket). Activation (§4.D) moves it to ready/blocked afterward.
func (s *Store) InsertTicket(ctx context.Context, t *domain.Ticket) error {
	create := s.ent.Ticket.Create().
		SetID(t.ID).
		SetTenantID(t.TenantID).
		SetSessionID(t.SessionID).
		SetTitle(t.Title).
		SetPriority(t.Priority).
		SetState(ticket.State(t.State)).
		SetDependencies(t.Dependencies).
		SetAcceptanceCriteria(toEntCriteria(t.AcceptanceCriteria))
	if t.ProjectID != "" {
		create = create.SetProjectID(t.ProjectID)
	}
	if t.Description != "" {
		create = create.SetDescription(t.Description)
	}
	if t.ParentID != "" {
		create = create.SetParentID(t.ParentID)
	}
	if _, err := create.Save(ctx); err != nil {
		return fmt.Errorf("insert ticket %s: %w", t.ID, err)
	}
	return nil
}

// InsertTicketsAtomic persists the Generator's compiled ticket DAG (the
// epic, feature, verification, and packaging tickets and their
// dependency edges) in one ent transaction, generalizing
// approval_atomic.go's single-transaction multi-row-insert shape from
// "one VM row" to "N ticket rows."
func (s *Store) InsertTicketsAtomic(ctx context.Context, tickets []*domain.Ticket) error {
	tx, err := s.ent.Tx(ctx)
	if err != nil {
		return fmt.Errorf("begin ticket batch tx: %w", err)
	}

	for _, t := range tickets {
		create := tx.Ticket.Create().
			SetID(t.ID).
			SetTenantID(t.TenantID).
			SetSessionID(t.SessionID).
			SetTitle(t.Title).
			SetPriority(t.Priority).
			SetState(ticket.State(t.State)).
			SetDependencies(t.Dependencies).
			SetAcceptanceCriteria(toEntCriteria(t.AcceptanceCriteria))
		if t.ProjectID != "" {
			create = create.SetProjectID(t.ProjectID)
		}
		if t.Description != "" {
			create = create.SetDescription(t.Description)
		}
		if t.ParentID != "" {
			create = create.SetParentID(t.ParentID)
		}
		if _, err := create.Save(ctx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert ticket %s in batch: %w", t.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ticket batch tx: %w", err)
	}
	return nil
}

// GetTicket fetches a ticket by id.
func (s *Store) GetTicket(ctx context.Context, id string) (*domain.Ticket, error) {
	row, err := s.ent.Ticket.Get(ctx, id)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, apperrors.ErrTicketNotFoundf(id)
		}
		return nil, fmt.Errorf("get ticket %s: %w", id, err)
	}
	return fromEntTicket(row), nil
}

// GetTicketByVMID fetches the ticket currently bound to vmID, the lookup
// the agent-facing /claim handler uses to resolve "the job assigned to
// me" once the VM backend has handed the spawned agent its own VM id.
func (s *Store) GetTicketByVMID(ctx context.Context, vmID string) (*domain.Ticket, error) {
	row, err := s.ent.Ticket.Query().Where(ticket.VMIDEQ(vmID)).Only(ctx)
	if err != nil {
		if ent.IsNotFound(err) {
			return nil, apperrors.ErrTicketNotFoundf(vmID)
		}
		return nil, fmt.Errorf("get ticket by vm %s: %w", vmID, err)
	}
	return fromEntTicket(row), nil
}

// TicketFieldUpdate carries the subset of ticket fields a caller wants to
// change. Only non-nil pointers are applied (spec.md §4.A
// update_ticket_fields(id, fields, expected_state?)).
type TicketFieldUpdate struct {
	State              *domain.TicketState
	AssigneeKind       *domain.AssigneeKind
	AssigneeIdentity   *string
	VMID               *string
	LeaseExpiry        *time.Time
	ClearLease         bool
	LastHeartbeat      *time.Time
	BranchName         *string
	PRURL              *string
	AcceptanceCriteria *[]domain.AcceptanceCriterion
	Attempt            *int
	VerificationStatus *domain.VerificationStatus
	RejectionCount     *int
	Outputs            *map[string]interface{}
	ErrorMessage       *string
	StartedAt          *time.Time
	CompletedAt        *time.Time
}

// UpdateTicketFields applies a conditional update. When expectedState is
// non-nil the update only takes effect if the row's current state matches;
// a mismatch returns ErrTicketInvalidTransitionf rather than silently
// no-op'ing, so callers can tell a lost race from a real error.
func (s *Store) UpdateTicketFields(ctx context.Context, id string, fields TicketFieldUpdate, expectedState *domain.TicketState) error {
	q := s.ent.Ticket.Update().Where(ticket.IDEQ(id))
	if expectedState != nil {
		q = q.Where(ticket.StateEQ(ticket.State(*expectedState)))
	}

	if fields.State != nil {
		q = q.SetState(ticket.State(*fields.State))
	}
	if fields.AssigneeKind != nil {
		q = q.SetAssigneeKind(ticket.AssigneeKind(*fields.AssigneeKind))
	}
	if fields.AssigneeIdentity != nil {
		q = q.SetAssigneeIdentity(*fields.AssigneeIdentity)
	}
	if fields.VMID != nil {
		q = q.SetVMID(*fields.VMID)
	}
	if fields.ClearLease {
		q = q.ClearLeaseExpiry().ClearVMID().ClearAssigneeIdentity().ClearAssigneeKind()
	}
	if fields.LeaseExpiry != nil {
		q = q.SetLeaseExpiry(*fields.LeaseExpiry)
	}
	if fields.LastHeartbeat != nil {
		q = q.SetLastHeartbeat(*fields.LastHeartbeat)
	}
	if fields.BranchName != nil {
		q = q.SetBranchName(*fields.BranchName)
	}
	if fields.PRURL != nil {
		q = q.SetPrURL(*fields.PRURL)
	}
	if fields.AcceptanceCriteria != nil {
		q = q.SetAcceptanceCriteria(toEntCriteria(*fields.AcceptanceCriteria))
	}
	if fields.Attempt != nil {
		q = q.SetAttempt(*fields.Attempt)
	}
	if fields.VerificationStatus != nil {
		q = q.SetVerificationStatus(ticket.VerificationStatus(*fields.VerificationStatus))
	}
	if fields.RejectionCount != nil {
		q = q.SetRejectionCount(*fields.RejectionCount)
	}
	if fields.Outputs != nil {
		q = q.SetOutputs(*fields.Outputs)
	}
	if fields.ErrorMessage != nil {
		q = q.SetErrorMessage(*fields.ErrorMessage)
	}
	if fields.StartedAt != nil {
		q = q.SetStartedAt(*fields.StartedAt)
	}
	if fields.CompletedAt != nil {
		q = q.SetCompletedAt(*fields.CompletedAt)
	}

	affected, err := q.Save(ctx)
	if err != nil {
		return fmt.Errorf("update ticket %s: %w", id, err)
	}
	if affected == 0 {
		expected := ""
		if expectedState != nil {
			expected = string(*expectedState)
		}
		return apperrors.ErrTicketInvalidTransitionf(expected, "requested update")
	}
	return nil
}

// ClaimNextReady atomically selects one `ready` ticket with the highest
// priority tier (lowest Priority value), FIFO within tier, and transitions
// it to `claimed` with the given assignee and lease (spec.md §4.A, §4.E).
//
// Dependency satisfaction is not re-checked here: P1 guarantees that a
// ticket only ever reaches `ready` once every dependency is `completed`
// (enforced by the Generator's activation step and the Cascade), so the
// claim query only needs to scan by (tenant_id, state, priority,
// created_at) — the index ent.schema/ticket.go declares for this purpose.
//
// The row-level lock uses "FOR UPDATE SKIP LOCKED" so N concurrent
// claimers scale linearly and never double-claim (R2, spec.md §5).
func (s *Store) ClaimNextReady(ctx context.Context, tenantID string, assigneeKind domain.AssigneeKind, assigneeIdentity, vmID string, leaseDuration time.Duration) (*domain.Ticket, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	expiry := now.Add(leaseDuration)

	row := tx.QueryRow(ctx, `
		UPDATE tickets SET
			state = 'claimed',
			assignee_kind = $1,
			assignee_identity = $2,
			vm_id = $3,
			lease_expiry = $4,
			last_heartbeat = $5,
			updated_at = $5
		WHERE id = (
			SELECT id FROM tickets
			WHERE tenant_id = $6 AND state = 'ready'
			ORDER BY priority ASC, created_at ASC, id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+ticketColumns, string(assigneeKind), assigneeIdentity, vmID, expiry, now, tenantID)

	t, err := scanTicket(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("claim next ready ticket: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim tx: %w", err)
	}
	return t, nil
}

// ListReadyCandidates returns up to limit `ready` tickets in claim order,
// a read-only view the Dispatcher uses to size its next claim batch
// (spec.md §4.A, §4.E step 1).
func (s *Store) ListReadyCandidates(ctx context.Context, tenantID string, limit int) ([]*domain.Ticket, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE tenant_id = $1 AND state = 'ready'
		ORDER BY priority ASC, created_at ASC, id ASC
		LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list ready candidates: %w", err)
	}
	defer rows.Close()
	return scanTickets(rows)
}

// ListStale returns tickets in claimed|in_progress whose last_heartbeat
// predates deadline — the Lease Monitor's stale reclaimer input
// (spec.md §4.A, §4.F).
func (s *Store) ListStale(ctx context.Context, deadline time.Time) ([]*domain.Ticket, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE state IN ('claimed', 'in_progress') AND last_heartbeat < $1`, deadline)
	if err != nil {
		return nil, fmt.Errorf("list stale tickets: %w", err)
	}
	defer rows.Close()
	return scanTickets(rows)
}

// RefreshHeartbeats extends last_heartbeat and lease_expiry for every
// in_progress ticket in one bulk UPDATE (spec.md §4.F heartbeat
// publisher). Swarm runs a single coordinator process, so "every
// ticket this coordinator owns" is simply every in_progress ticket.
func (s *Store) RefreshHeartbeats(ctx context.Context, leaseDuration time.Duration) (int64, error) {
	now := time.Now()
	tag, err := s.pool.Exec(ctx, `
		UPDATE tickets
		SET last_heartbeat = $1, lease_expiry = $2
		WHERE state = 'in_progress'`, now, now.Add(leaseDuration))
	if err != nil {
		return 0, fmt.Errorf("refresh heartbeats: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DescendantsBlockedOn returns tickets currently `blocked` whose
// dependencies JSON array contains ticketID — the Cascade's fan-out input
// (spec.md §4.A, §4.G).
func (s *Store) DescendantsBlockedOn(ctx context.Context, ticketID string) ([]*domain.Ticket, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ticketColumns+` FROM tickets
		WHERE state = 'blocked' AND dependencies @> $1::jsonb`, fmt.Sprintf(`[%q]`, ticketID))
	if err != nil {
		return nil, fmt.Errorf("list descendants blocked on %s: %w", ticketID, err)
	}
	defer rows.Close()
	return scanTickets(rows)
}

// ListTenantsWithReadyWork returns the distinct tenant ids currently
// holding at least one `ready` ticket, the Dispatcher's per-poll fan-out
// set (no separate tenant registry exists in this system; tenant_id is a
// ticket/session attribute only, spec.md §3).
func (s *Store) ListTenantsWithReadyWork(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT tenant_id FROM tickets WHERE state = 'ready'`)
	if err != nil {
		return nil, fmt.Errorf("list tenants with ready work: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var tenantID string
		if err := rows.Scan(&tenantID); err != nil {
			return nil, fmt.Errorf("scan tenant id: %w", err)
		}
		out = append(out, tenantID)
	}
	return out, rows.Err()
}

// CountInFlight returns the number of tickets in claimed|in_progress for a
// tenant, the Dispatcher's in_flight figure when sizing its next claim
// batch (spec.md §4.E step 1, §5 "max_fleet is never exceeded").
func (s *Store) CountInFlight(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM tickets
		WHERE tenant_id = $1 AND state IN ('claimed', 'in_progress')`, tenantID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count in-flight tickets for tenant %s: %w", tenantID, err)
	}
	return count, nil
}

// CountInFlightFleetWide returns the number of tickets in claimed|in_progress
// across every tenant, the Dispatcher's fleet-wide in_flight figure (spec.md
// §4.E step 1, §5 "max_fleet is never exceeded" — the global cap, not a
// per-tenant one).
func (s *Store) CountInFlightFleetWide(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM tickets
		WHERE state IN ('claimed', 'in_progress')`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count fleet-wide in-flight tickets: %w", err)
	}
	return count, nil
}

// SessionTicketsByState groups a session's tickets by state, used for the
// session-completion check run at every ticket terminal transition
// (spec.md §4.G).
func (s *Store) SessionTicketsByState(ctx context.Context, sessionID string) (map[domain.TicketState][]*domain.Ticket, error) {
	rows, err := s.ent.Ticket.Query().
		Where(ticket.SessionIDEQ(sessionID)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("list session %s tickets: %w", sessionID, err)
	}
	out := make(map[domain.TicketState][]*domain.Ticket, len(rows))
	for _, row := range rows {
		t := fromEntTicket(row)
		out[t.State] = append(out[t.State], t)
	}
	return out, nil
}

const ticketColumns = `id, tenant_id, session_id, project_id, title, description, parent_id,
	priority, state, assignee_kind, assignee_identity, vm_id, lease_expiry, last_heartbeat,
	dependencies, branch_name, pr_url, acceptance_criteria, attempt, verification_status,
	rejection_count, outputs, error_message, started_at, completed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTicket(row rowScanner) (*domain.Ticket, error) {
	var (
		t                        domain.Ticket
		projectID, description   *string
		parentID, assigneeKind   *string
		assigneeIdentity, vmID   *string
		branchName, prURL        *string
		errorMessage             *string
		leaseExpiry, heartbeat   *time.Time
		startedAt, completedAt   *time.Time
		dependencies             []byte
		acceptanceCriteria       []byte
		outputs                  []byte
	)
	if err := row.Scan(
		&t.ID, &t.TenantID, &t.SessionID, &projectID, &t.Title, &description, &parentID,
		&t.Priority, &t.State, &assigneeKind, &assigneeIdentity, &vmID, &leaseExpiry, &heartbeat,
		&dependencies, &branchName, &prURL, &acceptanceCriteria, &t.Attempt, &t.VerificationStatus,
		&t.RejectionCount, &outputs, &errorMessage, &startedAt, &completedAt, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}

	t.ProjectID = deref(projectID)
	t.Description = deref(description)
	t.ParentID = deref(parentID)
	t.AssigneeKind = domain.AssigneeKind(deref(assigneeKind))
	t.AssigneeIdentity = deref(assigneeIdentity)
	t.VMID = deref(vmID)
	t.BranchName = deref(branchName)
	t.PRURL = deref(prURL)
	t.ErrorMessage = deref(errorMessage)
	t.LeaseExpiry = leaseExpiry
	t.LastHeartbeat = heartbeat
	t.StartedAt = startedAt
	t.CompletedAt = completedAt

	if len(dependencies) > 0 {
		if err := json.Unmarshal(dependencies, &t.Dependencies); err != nil {
			return nil, fmt.Errorf("unmarshal dependencies for ticket %s: %w", t.ID, err)
		}
	}
	if len(acceptanceCriteria) > 0 {
		if err := json.Unmarshal(acceptanceCriteria, &t.AcceptanceCriteria); err != nil {
			return nil, fmt.Errorf("unmarshal acceptance criteria for ticket %s: %w", t.ID, err)
		}
	}
	if len(outputs) > 0 {
		if err := json.Unmarshal(outputs, &t.Outputs); err != nil {
			return nil, fmt.Errorf("unmarshal outputs for ticket %s: %w", t.ID, err)
		}
	}
	return &t, nil
}

func scanTickets(rows pgx.Rows) ([]*domain.Ticket, error) {
	var out []*domain.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func toEntCriteria(in []domain.AcceptanceCriterion) []schema.AcceptanceCriterion {
	out := make([]schema.AcceptanceCriterion, len(in))
	for i, c := range in {
		out[i] = schema.AcceptanceCriterion{ID: c.ID, Text: c.Text, Status: string(c.Status)}
	}
	return out
}

func fromEntTicket(row *ent.Ticket) *domain.Ticket {
	t := &domain.Ticket{
		ID:                 row.ID,
		TenantID:           row.TenantID,
		SessionID:          row.SessionID,
		ProjectID:          row.ProjectID,
		Title:              row.Title,
		Description:        row.Description,
		ParentID:           row.ParentID,
		Priority:           row.Priority,
		State:              domain.TicketState(row.State),
		AssigneeKind:       domain.AssigneeKind(row.AssigneeKind),
		AssigneeIdentity:   row.AssigneeIdentity,
		VMID:               row.VMID,
		LeaseExpiry:        row.LeaseExpiry,
		LastHeartbeat:      row.LastHeartbeat,
		Dependencies:       row.Dependencies,
		BranchName:         row.BranchName,
		PRURL:              row.PrURL,
		Attempt:            row.Attempt,
		VerificationStatus: domain.VerificationStatus(row.VerificationStatus),
		RejectionCount:     row.RejectionCount,
		Outputs:            row.Outputs,
		ErrorMessage:       row.ErrorMessage,
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
		StartedAt:          row.StartedAt,
		CompletedAt:        row.CompletedAt,
	}
	t.AcceptanceCriteria = make([]domain.AcceptanceCriterion, len(row.AcceptanceCriteria))
	for i, c := range row.AcceptanceCriteria {
		t.AcceptanceCriteria[i] = domain.AcceptanceCriterion{
			ID:     c.ID,
			Text:   c.Text,
			Status: domain.CriterionStatus(c.Status),
		}
	}
	return t
}
