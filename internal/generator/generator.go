// Package generator compiles an approved session's final spec into a
// ticket DAG and activates it (spec.md §4.D).
package generator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"swarmcore.io/swarm/internal/domain"
	apperrors "swarmcore.io/swarm/internal/pkg/errors"
	"swarmcore.io/swarm/internal/store"
)

const (
	// PriorityEpic marks the single backlog-tracking ticket Compile emits
	// per session (spec.md §4.D rule 1: "for backlog tracking only; does
	// not block work"). Cascade uses it to complete the epic directly
	// instead of handing it to an agent.
	PriorityEpic         = 100
	priorityFeature      = 50
	priorityVerification = 10
	priorityPackaging    = 5
)

// Compile builds the ticket DAG for sess's final spec: one epic ticket,
// one or more feature tickets, a verification ticket depending on every
// feature, and a packaging ticket depending on verification. All
// returned tickets start in `draft` (spec.md §4.D rules 1-5).
func Compile(sess *domain.Session) ([]*domain.Ticket, error) {
	spec, err := decodeSpec(sess.FinalSpec)
	if err != nil {
		return nil, fmt.Errorf("decode final spec for session %s: %w", sess.ID, err)
	}
	if len(spec.Features) == 0 {
		return nil, apperrors.InvalidState("SESSION_SPEC_NO_FEATURES",
			fmt.Sprintf("session %s's final spec has no features to compile", sess.ID))
	}

	base := func(title, description string, priority int) *domain.Ticket {
		return &domain.Ticket{
			ID:          newTicketID(),
			TenantID:    sess.TenantID,
			SessionID:   sess.ID,
			ProjectID:   sess.ProjectID,
			Title:       title,
			Description: description,
			Priority:    priority,
			State:       domain.TicketDraft,
		}
	}

	featureTickets := make([]*domain.Ticket, 0, len(spec.Features))
	for i, feature := range spec.Features {
		t := base(feature, feature, priorityFeature)
		t.AcceptanceCriteria = acceptanceFor(spec, i)
		featureTickets = append(featureTickets, t)
	}

	verification := base("Verify "+spec.Title, "Run acceptance criteria and automated checks against all feature tickets.", priorityVerification)
	verification.Dependencies = ticketIDs(featureTickets)

	packaging := base("Package "+spec.Title, "Produce the packaged/deployable output once verification passes.", priorityPackaging)
	packaging.Dependencies = []string{verification.ID}

	all := append(append([]*domain.Ticket{}, featureTickets...), verification, packaging)

	epic := base(spec.Title, spec.Summary, PriorityEpic)
	epic.Dependencies = leaves(all)

	all = append([]*domain.Ticket{epic}, all...)

	if cycle := detectCycle(all); cycle != "" {
		return nil, apperrors.ErrTicketCycleDetectedf()
	}
	return all, nil
}

// Activate moves every `draft` ticket of sess to `ready` (no unmet
// dependencies) or `blocked` (spec.md §4.D's activation step, called at
// `approved -> building`). It returns the count of tickets now eligible
// (i.e. moved to ready).
func Activate(ctx context.Context, st *store.Store, sess *domain.Session) (int, error) {
	byState, err := st.SessionTicketsByState(ctx, sess.ID)
	if err != nil {
		return 0, fmt.Errorf("list draft tickets for session %s: %w", sess.ID, err)
	}
	drafts := byState[domain.TicketDraft]
	if len(drafts) == 0 {
		return 0, nil
	}

	if cycle := detectCycle(drafts); cycle != "" {
		return 0, apperrors.ErrTicketCycleDetectedf()
	}

	ready := 0
	draftState := domain.TicketDraft
	for _, t := range drafts {
		to := domain.TicketBlocked
		if len(t.Dependencies) == 0 {
			to = domain.TicketReady
			ready++
		}
		fields := store.TicketFieldUpdate{State: &to}
		if err := st.UpdateTicketFields(ctx, t.ID, fields, &draftState); err != nil {
			return 0, fmt.Errorf("activate ticket %s: %w", t.ID, err)
		}
	}
	return ready, nil
}

func acceptanceFor(spec *domain.GeneratedSpec, featureIndex int) []domain.AcceptanceCriterion {
	var text string
	switch {
	case len(spec.Acceptance) == len(spec.Features) && featureIndex < len(spec.Acceptance):
		text = spec.Acceptance[featureIndex]
	case len(spec.Acceptance) > 0:
		// Acceptance criteria don't line up 1:1 with features; attach the
		// whole list so nothing from the spec is silently dropped.
		out := make([]domain.AcceptanceCriterion, len(spec.Acceptance))
		for i, a := range spec.Acceptance {
			out[i] = domain.AcceptanceCriterion{ID: newTicketID(), Text: a, Status: domain.CriterionBlocked}
		}
		return out
	default:
		return nil
	}
	return []domain.AcceptanceCriterion{{ID: newTicketID(), Text: text, Status: domain.CriterionBlocked}}
}

func ticketIDs(tickets []*domain.Ticket) []string {
	ids := make([]string, len(tickets))
	for i, t := range tickets {
		ids[i] = t.ID
	}
	return ids
}

// leaves returns the ids of tickets nothing else depends on, the "all
// downstream leaves" the epic ticket depends on for backlog tracking
// only (spec.md §4.D rule 1).
func leaves(tickets []*domain.Ticket) []string {
	referenced := make(map[string]bool)
	for _, t := range tickets {
		for _, dep := range t.Dependencies {
			referenced[dep] = true
		}
	}
	var out []string
	for _, t := range tickets {
		if !referenced[t.ID] {
			out = append(out, t.ID)
		}
	}
	return out
}

func decodeSpec(m map[string]interface{}) (*domain.GeneratedSpec, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var spec domain.GeneratedSpec
	if err := json.Unmarshal(b, &spec); err != nil {
		return nil, err
	}
	return &spec, nil
}

func newTicketID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
