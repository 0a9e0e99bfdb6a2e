package sessionsm

import (
	"context"
	"encoding/json"
	"fmt"

	"swarmcore.io/swarm/internal/adapters/llm"
	"swarmcore.io/swarm/internal/domain"
	apperrors "swarmcore.io/swarm/internal/pkg/errors"
	"swarmcore.io/swarm/internal/store"
)

// ClarificationReply is the structured record the LLM adapter is asked
// to return on each clarification turn (spec.md §4.C).
type ClarificationReply struct {
	Message      string                 `json:"message"`
	Gathered     map[string]interface{} `json:"gathered"`
	Progress     int                    `json:"progress"`
	ReadyForSpec bool                   `json:"ready_for_spec"`
	NextCategory string                 `json:"next_category"`
}

const clarifySystemPrompt = `You are gathering requirements for a new software project. ` +
	`Ask one focused question at a time covering project_type, tech_stack, scale, ` +
	`features, and constraints. Reply with a JSON object: ` +
	`{"message": "...", "gathered": {...}, "progress": 0-100, "ready_for_spec": bool, "next_category": "..."}`

// CreateSession validates the initial description, persists a Session in
// `input` state, and immediately advances it to `clarifying` (spec.md
// §4.C's "input -> clarifying" row, triggered at creation time since the
// description already satisfies that row's precondition).
func (m *Machine) CreateSession(ctx context.Context, tenantID, projectName, description string, source domain.SessionSourceType) (*domain.Session, error) {
	if len(description) < m.cfg.MinDescriptionLength {
		return nil, apperrors.ErrInvalidRequestFieldf("description")
	}

	sess := &domain.Session{
		ID:          newID(),
		TenantID:    tenantID,
		ProjectName: projectName,
		Description: description,
		State:       domain.SessionInput,
		SourceType:  source,
		Gathered:    map[string]interface{}{},
	}
	if err := m.store.InsertSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("insert session %s: %w", sess.ID, err)
	}

	zero := 0
	if err := m.transition(ctx, sess, domain.SessionClarifying, domain.ActorUser, "start",
		store.SessionFieldUpdate{Progress: &zero}); err != nil {
		return nil, err
	}
	return sess, nil
}

// Respond runs one clarification turn: it persists the user's message,
// calls the LLM adapter with the gathered context and recent history,
// merges the structured reply into gathered context, recomputes
// progress, and transitions to `ready_for_docs` once coverage clears the
// threshold or the turn limit is reached.
func (m *Machine) Respond(ctx context.Context, sess *domain.Session, message string) (*ClarificationReply, error) {
	if sess.State != domain.SessionClarifying {
		return nil, apperrors.ErrSessionInvalidTransitionf(string(sess.State), string(domain.SessionClarifying))
	}

	userMsg := &domain.Message{ID: newID(), SessionID: sess.ID, Role: domain.RoleUser, Content: message}
	if err := m.store.InsertMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("insert user message %s: %w", userMsg.ID, err)
	}

	history, err := m.store.ListMessages(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("list messages for session %s: %w", sess.ID, err)
	}

	rawText, reply, err := m.callClarify(ctx, sess, history)
	if err != nil {
		return nil, err
	}

	if reply == nil {
		assistantMsg := &domain.Message{
			ID: newID(), SessionID: sess.ID, Role: domain.RoleAssistant,
			Content: rawText, MessageType: "parse_error",
		}
		if err := m.store.InsertMessage(ctx, assistantMsg); err != nil {
			return nil, fmt.Errorf("insert assistant message %s: %w", assistantMsg.ID, err)
		}
		m.recordEvent(ctx, sess.ID, string(sess.State), string(sess.State), "clarify.parse_error", domain.ActorSystem)
		return &ClarificationReply{Message: rawText}, nil
	}

	gathered := deepMerge(sess.Gathered, reply.Gathered)
	progress := computeProgress(gathered)

	assistantMsg := &domain.Message{ID: newID(), SessionID: sess.ID, Role: domain.RoleAssistant, Content: reply.Message}
	if err := m.store.InsertMessage(ctx, assistantMsg); err != nil {
		return nil, fmt.Errorf("insert assistant message %s: %w", assistantMsg.ID, err)
	}

	turns := countUserTurns(history)
	to := domain.SessionClarifying
	if progress >= m.cfg.CoverageReadyThreshold || turns >= m.cfg.MaxClarificationTurns {
		to = domain.SessionReadyForDocs
	}

	fields := store.SessionFieldUpdate{Gathered: gathered, Progress: &progress}
	if err := m.transition(ctx, sess, to, domain.ActorUser, "respond", fields); err != nil {
		return nil, err
	}

	sess.Gathered = gathered
	sess.Progress = progress
	reply.Progress = progress
	return reply, nil
}

// Skip forces a clarifying session to ready_for_docs on user override,
// honoring the table's "user skip ... user override with >= 50% coverage"
// clause.
func (m *Machine) Skip(ctx context.Context, sess *domain.Session) error {
	if sess.State != domain.SessionClarifying {
		return apperrors.ErrSessionInvalidTransitionf(string(sess.State), string(domain.SessionReadyForDocs))
	}
	if sess.Progress < 50 {
		return apperrors.InvalidState("SESSION_COVERAGE_TOO_LOW",
			fmt.Sprintf("session %s coverage %d%% is below the 50%% override floor", sess.ID, sess.Progress))
	}
	return m.transition(ctx, sess, domain.SessionReadyForDocs, domain.ActorUser, "skip", store.SessionFieldUpdate{})
}

func countUserTurns(history []*domain.Message) int {
	n := 0
	for _, msg := range history {
		if msg.Role == domain.RoleUser {
			n++
		}
	}
	return n
}

// callClarify assembles the clarification prompt and calls the LLM
// adapter. A returned (text, nil, nil) means the reply didn't parse as
// the structured record; the caller records a parse-error event instead
// of advancing coverage (spec.md §4.C).
func (m *Machine) callClarify(ctx context.Context, sess *domain.Session, history []*domain.Message) (string, *ClarificationReply, error) {
	msgs := make([]llm.Message, 0, len(history))
	for _, h := range history {
		msgs = append(msgs, llm.Message{Role: string(h.Role), Content: h.Content})
	}

	result, err := m.llm.Complete(ctx, clarifySystemPrompt, msgs, 1024, "")
	if err != nil {
		return "", nil, fmt.Errorf("clarification completion for session %s: %w", sess.ID, err)
	}

	reply, parseErr := parseClarificationReply(result.Text)
	if parseErr != nil {
		return result.Text, nil, nil
	}
	return result.Text, reply, nil
}

func parseClarificationReply(text string) (*ClarificationReply, error) {
	var reply ClarificationReply
	if err := json.Unmarshal([]byte(text), &reply); err != nil {
		return nil, fmt.Errorf("parse clarification reply: %w", err)
	}
	return &reply, nil
}
