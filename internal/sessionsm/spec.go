package sessionsm

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"swarmcore.io/swarm/internal/adapters/llm"
	"swarmcore.io/swarm/internal/domain"
	apperrors "swarmcore.io/swarm/internal/pkg/errors"
	"swarmcore.io/swarm/internal/pkg/logger"
	"swarmcore.io/swarm/internal/store"
)

// GenerateSpec produces the draft spec blob from gathered context
// (spec.md §4.C's "ready_for_docs -> reviewing").
func (m *Machine) GenerateSpec(ctx context.Context, sess *domain.Session) (*domain.GeneratedSpec, error) {
	if sess.State != domain.SessionReadyForDocs {
		return nil, apperrors.ErrSessionInvalidTransitionf(string(sess.State), string(domain.SessionReviewing))
	}
	if len(sess.Gathered) == 0 {
		return nil, apperrors.InvalidState("SESSION_GATHERED_EMPTY",
			fmt.Sprintf("session %s has no gathered context to generate a spec from", sess.ID))
	}

	spec, err := m.requestSpec(ctx, sess, specGenSystemPrompt(sess), nil)
	if err != nil {
		return nil, err
	}

	draft := specToMap(spec)
	if err := m.transition(ctx, sess, domain.SessionReviewing, domain.ActorSystem, "generate-spec",
		store.SessionFieldUpdate{DraftSpec: draft}); err != nil {
		return nil, err
	}
	sess.DraftSpec = draft
	return spec, nil
}

// UpdateSpec applies a direct user edit to the draft spec while reviewing.
func (m *Machine) UpdateSpec(ctx context.Context, sess *domain.Session, spec *domain.GeneratedSpec) error {
	if sess.State != domain.SessionReviewing {
		return apperrors.ErrSessionInvalidTransitionf(string(sess.State), string(domain.SessionReviewing))
	}

	draft := specToMap(spec)
	if err := m.transition(ctx, sess, domain.SessionReviewing, domain.ActorUser, "update-spec",
		store.SessionFieldUpdate{DraftSpec: draft}); err != nil {
		return err
	}
	sess.DraftSpec = draft
	return nil
}

// RequestRevision sends the current draft plus user feedback back to the
// LLM adapter and replaces the draft with its reply.
func (m *Machine) RequestRevision(ctx context.Context, sess *domain.Session, feedback string) (*domain.GeneratedSpec, error) {
	if sess.State != domain.SessionReviewing {
		return nil, apperrors.ErrSessionInvalidTransitionf(string(sess.State), string(domain.SessionReviewing))
	}

	current := mapToSpec(sess.DraftSpec)
	revised, err := m.requestSpec(ctx, sess, revisionSystemPrompt(current, feedback), nil)
	if err != nil {
		return nil, err
	}

	draft := specToMap(revised)
	if err := m.transition(ctx, sess, domain.SessionReviewing, domain.ActorUser, "request-revision",
		store.SessionFieldUpdate{DraftSpec: draft}); err != nil {
		return nil, err
	}
	sess.DraftSpec = draft

	record := &domain.Approval{
		ID: newID(), SessionID: sess.ID, Kind: domain.ApprovalRevisionRequest,
		Data: map[string]interface{}{"feedback": feedback},
	}
	if err := m.store.InsertApproval(ctx, record); err != nil {
		logger.Warn("sessionsm: failed to record revision request", zap.String("session_id", sess.ID), zap.Error(err))
	}
	return revised, nil
}

// Approve snapshots the draft into the final spec and records the human
// decision (spec.md §4.C's "reviewing -> approved").
func (m *Machine) Approve(ctx context.Context, sess *domain.Session, approver, ip, userAgent string) error {
	if sess.State != domain.SessionReviewing {
		return apperrors.ErrSessionInvalidTransitionf(string(sess.State), string(domain.SessionApproved))
	}
	if len(sess.DraftSpec) == 0 {
		return apperrors.InvalidState("SESSION_SPEC_MISSING",
			fmt.Sprintf("session %s has no draft spec to approve", sess.ID))
	}

	final := cloneMap(sess.DraftSpec)
	if err := m.transition(ctx, sess, domain.SessionApproved, domain.ActorUser, "approve",
		store.SessionFieldUpdate{FinalSpec: final}); err != nil {
		return err
	}
	sess.FinalSpec = final

	record := &domain.Approval{
		ID: newID(), SessionID: sess.ID, Kind: domain.ApprovalSpecApproval,
		Approver: approver, IP: ip, UserAgent: userAgent,
	}
	if err := m.store.InsertApproval(ctx, record); err != nil {
		logger.Warn("sessionsm: failed to record spec approval", zap.String("session_id", sess.ID), zap.Error(err))
	}
	return nil
}

func (m *Machine) requestSpec(ctx context.Context, sess *domain.Session, system string, messages []llm.Message) (*domain.GeneratedSpec, error) {
	result, err := m.llm.Complete(ctx, system, messages, 2048, "")
	if err != nil {
		return nil, fmt.Errorf("spec generation for session %s: %w", sess.ID, err)
	}

	var spec domain.GeneratedSpec
	if err := json.Unmarshal([]byte(result.Text), &spec); err != nil {
		return nil, fmt.Errorf("parse generated spec for session %s: %w", sess.ID, err)
	}
	return &spec, nil
}

func specGenSystemPrompt(sess *domain.Session) string {
	gathered, _ := json.Marshal(sess.Gathered)
	return fmt.Sprintf(`Produce a project spec as JSON {"title","summary","goals":[],"features":[],`+
		`"non_goals":[],"risks":[],"acceptance":[]} from this gathered context: %s`, gathered)
}

func revisionSystemPrompt(current *domain.GeneratedSpec, feedback string) string {
	currentJSON, _ := json.Marshal(current)
	return fmt.Sprintf(`Revise this spec JSON based on the feedback, replying with the full replacement `+
		`JSON object in the same shape. Current spec: %s. Feedback: %s`, currentJSON, feedback)
}

func specToMap(spec *domain.GeneratedSpec) map[string]interface{} {
	b, err := json.Marshal(spec)
	if err != nil {
		return map[string]interface{}{}
	}
	var out map[string]interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return map[string]interface{}{}
	}
	return out
}

func mapToSpec(in map[string]interface{}) *domain.GeneratedSpec {
	spec := &domain.GeneratedSpec{}
	b, err := json.Marshal(in)
	if err != nil {
		return spec
	}
	_ = json.Unmarshal(b, spec)
	return spec
}
