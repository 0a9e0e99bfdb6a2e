// Package domain holds the plain value types and state tables shared by
// every component of the execution core. Types here carry no persistence
// or transport concerns; the Store translates between these and the
// generated ent rows, the API layer between these and wire payloads.
package domain

import "time"

// TicketState is the state of a Ticket's lifecycle.
type TicketState string

const (
	TicketDraft      TicketState = "draft"
	TicketReady      TicketState = "ready"
	TicketClaimed    TicketState = "claimed"
	TicketInProgress TicketState = "in_progress"
	TicketReview     TicketState = "review"
	TicketBlocked    TicketState = "blocked"
	TicketHold       TicketState = "hold"
	TicketCompleted  TicketState = "completed"
	TicketFailed     TicketState = "failed"
	TicketCancelled  TicketState = "cancelled"
)

// Terminal reports whether a ticket state never transitions further under
// normal operation (I4: completed is monotonic; failed/cancelled are
// likewise sinks).
func (s TicketState) Terminal() bool {
	switch s {
	case TicketCompleted, TicketFailed, TicketCancelled:
		return true
	default:
		return false
	}
}

// AssigneeKind distinguishes an agent-claimed ticket from one held for a
// human (e.g. transitioned to hold).
type AssigneeKind string

const (
	AssigneeAgent AssigneeKind = "agent"
	AssigneeHuman AssigneeKind = "human"
)

// VerificationStatus is the outcome of the most recent verifier pass.
type VerificationStatus string

const (
	VerificationPending VerificationStatus = "pending"
	VerificationPassed  VerificationStatus = "passed"
	VerificationFailed  VerificationStatus = "failed"
	VerificationSkipped VerificationStatus = "skipped"
)

// CriterionStatus is the state of a single acceptance criterion.
type CriterionStatus string

const (
	CriterionSatisfied CriterionStatus = "satisfied"
	CriterionPartial   CriterionStatus = "partial"
	CriterionBlocked   CriterionStatus = "blocked"
)

// AcceptanceCriterion is one line item of a ticket's acceptance criteria.
type AcceptanceCriterion struct {
	ID     string          `json:"id"`
	Text   string          `json:"text"`
	Status CriterionStatus `json:"status"`
}

// Ticket is the unit of agent work dispatched against an isolated microVM.
type Ticket struct {
	ID                  string
	TenantID            string
	SessionID           string
	ProjectID           string
	Title               string
	Description         string
	ParentID            string
	Priority            int
	State               TicketState
	AssigneeKind        AssigneeKind
	AssigneeIdentity    string
	VMID                string
	LeaseExpiry         *time.Time
	LastHeartbeat       *time.Time
	Dependencies        []string
	BranchName          string
	PRURL               string
	AcceptanceCriteria  []AcceptanceCriterion
	Attempt             int
	VerificationStatus  VerificationStatus
	RejectionCount      int
	Outputs             map[string]interface{}
	ErrorMessage        string
	CreatedAt           time.Time
	UpdatedAt           time.Time
	StartedAt           *time.Time
	CompletedAt         *time.Time
}

// TicketTransitions is the allowed-transition table for Ticket.State,
// mirroring spec.md §3's state space plus the "cancelled from any
// non-terminal state" rule.
var TicketTransitions = map[TicketState][]TicketState{
	TicketDraft:      {TicketReady, TicketBlocked, TicketCancelled},
	TicketReady:      {TicketClaimed, TicketCancelled},
	TicketClaimed:    {TicketInProgress, TicketReady, TicketFailed, TicketCancelled},
	TicketInProgress: {TicketReview, TicketReady, TicketFailed, TicketCancelled},
	TicketReview:     {TicketCompleted, TicketReady, TicketFailed, TicketCancelled},
	TicketBlocked:    {TicketReady, TicketCancelled},
	TicketHold:       {TicketReady, TicketCancelled},
	TicketCompleted:  {},
	TicketFailed:     {},
	TicketCancelled:  {},
}

// CanTransition reports whether a ticket may move from `from` to `to`.
func CanTransition(from, to TicketState) bool {
	if from == to {
		return false
	}
	for _, allowed := range TicketTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
