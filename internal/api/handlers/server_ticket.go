package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"swarmcore.io/swarm/internal/bus"
	"swarmcore.io/swarm/internal/domain"
	"swarmcore.io/swarm/internal/jobs"
	"swarmcore.io/swarm/internal/pkg/logger"
	apperrors "swarmcore.io/swarm/internal/pkg/errors"
	"swarmcore.io/swarm/internal/store"
)

// claimRequest is the body of POST /claim (spec.md §6). The ticket has
// already been claimed and its VM spawned by the Dispatcher's own poll
// loop (spec.md §4.E): this endpoint is how the agent booted inside that
// VM resolves "the job assigned to me", identified by the VM id the
// backend handed it at spawn time.
type claimRequest struct {
	AgentID   string `json:"agent_id" binding:"required"`
	ProjectID string `json:"project_id"`
}

// PostClaim handles POST /claim.
func (s *Server) PostClaim(c *gin.Context) {
	var req claimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.ErrInvalidRequestFieldf("agent_id"))
		return
	}

	t, err := s.store.GetTicketByVMID(c.Request.Context(), req.AgentID)
	if err != nil {
		c.Status(http.StatusNoContent)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ticket": ticketView(t),
		"project_settings": gin.H{
			"project_id": t.ProjectID,
			"branch":     t.BranchName,
		},
	})
}

type heartbeatRequest struct {
	AgentID string `json:"agent_id" binding:"required"`
}

// PostTicketHeartbeat handles POST /tickets/{id}/heartbeat. The agent
// inside the VM calls this while executing; the Lease Monitor's own
// publisher (internal/leasemonitor) separately refreshes every
// in_progress ticket on a fixed interval regardless of agent activity,
// so this endpoint only needs to extend this one ticket's lease early
// in response to real agent liveness.
func (s *Server) PostTicketHeartbeat(c *gin.Context) {
	ticketID := c.Param("id")
	var req heartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.ErrInvalidRequestFieldf("agent_id"))
		return
	}

	t, err := s.store.GetTicket(c.Request.Context(), ticketID)
	if err != nil {
		c.Error(err)
		return
	}
	if t.AssigneeIdentity != req.AgentID && t.VMID != req.AgentID {
		c.Error(apperrors.ErrLeaseNotOwnedf(ticketID, req.AgentID))
		return
	}

	now := time.Now()
	leaseExpiry := now.Add(s.leaseDuration)
	if err := s.store.UpdateTicketFields(c.Request.Context(), ticketID, store.TicketFieldUpdate{
		LastHeartbeat: &now,
		LeaseExpiry:   &leaseExpiry,
	}, nil); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"lease_expires": leaseExpiry})
}

// completeRequest is the body of POST /tickets/{id}/complete (spec.md
// §6): the agent's structured result, including the per-criterion
// status the Dispatcher (spec.md §4.E step 4) treats any `blocked` entry
// in as a failed attempt.
type completeRequest struct {
	AgentID        string          `json:"agent_id" binding:"required"`
	Success        bool            `json:"success"`
	PRURL          string          `json:"pr_url"`
	Error          string          `json:"error"`
	CriteriaStatus []criterionView `json:"criteria_status"`
	FilesChanged   []string        `json:"files_changed"`
}

type criterionView struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// mergeCriteriaStatus applies the agent's reported per-criterion status
// onto the ticket's existing acceptance criteria, keyed by id, so each
// criterion's original text survives a completion report that only ever
// echoes back id+status. It also reports whether any criterion came back
// blocked.
func mergeCriteriaStatus(existing []domain.AcceptanceCriterion, updates []criterionView) ([]domain.AcceptanceCriterion, bool) {
	statusByID := make(map[string]domain.CriterionStatus, len(updates))
	for _, u := range updates {
		statusByID[u.ID] = domain.CriterionStatus(u.Status)
	}

	blocked := false
	merged := make([]domain.AcceptanceCriterion, len(existing))
	for i, criterion := range existing {
		merged[i] = criterion
		if status, ok := statusByID[criterion.ID]; ok {
			merged[i].Status = status
			if status == domain.CriterionBlocked {
				blocked = true
			}
		}
	}
	return merged, blocked
}

// PostTicketComplete handles POST /tickets/{id}/complete. It records the
// agent's reported result and, unless the agent itself reported a fatal
// failure or a blocked criterion, enqueues ticket_verify so Verification
// + Cascade (internal/verify, spec.md §4.G) runs off the request path.
func (s *Server) PostTicketComplete(c *gin.Context) {
	ticketID := c.Param("id")
	var req completeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.ErrInvalidRequestFieldf("agent_id"))
		return
	}

	t, err := s.store.GetTicket(c.Request.Context(), ticketID)
	if err != nil {
		c.Error(err)
		return
	}
	if t.State != domain.TicketInProgress {
		c.Error(apperrors.ErrTicketNotReadyf(ticketID, string(t.State)))
		return
	}

	criteria, blocked := mergeCriteriaStatus(t.AcceptanceCriteria, req.CriteriaStatus)

	outputs := map[string]interface{}{"files_changed": req.FilesChanged}
	fields := store.TicketFieldUpdate{
		Outputs: &outputs,
	}
	if req.PRURL != "" {
		fields.PRURL = &req.PRURL
	}
	if len(req.CriteriaStatus) > 0 {
		fields.AcceptanceCriteria = &criteria
	}

	claimed := domain.TicketInProgress
	if !req.Success || blocked {
		// A blocked criterion is a failed attempt (spec.md §4.E step 4):
		// retry now rather than leaving the ticket in_progress for the
		// stale-lease reaper to eventually catch.
		msg := req.Error
		if msg == "" {
			msg = "agent reported an unsatisfied acceptance criterion"
		}
		attempt := t.Attempt + 1
		to := domain.TicketReady
		clearLease := true
		if attempt >= s.maxAttempts {
			to = domain.TicketFailed
			clearLease = false
		}
		fields.State = &to
		fields.Attempt = &attempt
		fields.ClearLease = clearLease
		fields.ErrorMessage = &msg
		if err := s.store.UpdateTicketFields(c.Request.Context(), ticketID, fields, &claimed); err != nil {
			c.Error(err)
			return
		}
		c.Status(http.StatusAccepted)
		return
	}

	to := domain.TicketReview
	fields.State = &to
	if err := s.store.UpdateTicketFields(c.Request.Context(), ticketID, fields, &claimed); err != nil {
		c.Error(err)
		return
	}

	if s.river != nil {
		if _, err := s.river.Insert(c.Request.Context(), jobs.TicketVerifyArgs{TicketID: ticketID}, nil); err != nil {
			c.Error(err)
			return
		}
	}

	c.Status(http.StatusAccepted)
}

type releaseRequest struct {
	AgentID string `json:"agent_id" binding:"required"`
}

// PostTicketRelease handles POST /tickets/{id}/release — voluntary
// return without completion. Treated the same as an attempt failure
// (spec.md §4.E step 6): retry if attempts remain, else fail.
func (s *Server) PostTicketRelease(c *gin.Context) {
	ticketID := c.Param("id")
	var req releaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.ErrInvalidRequestFieldf("agent_id"))
		return
	}

	t, err := s.store.GetTicket(c.Request.Context(), ticketID)
	if err != nil {
		c.Error(err)
		return
	}
	if t.State.Terminal() {
		c.Status(http.StatusNoContent)
		return
	}

	attempt := t.Attempt + 1
	msg := "agent released ticket without completion"
	from := t.State
	var to domain.TicketState
	var clearLease bool
	if attempt < s.maxAttempts {
		to = domain.TicketReady
		clearLease = true
	} else {
		to = domain.TicketFailed
	}

	if err := s.store.UpdateTicketFields(c.Request.Context(), ticketID, store.TicketFieldUpdate{
		State:        &to,
		Attempt:      &attempt,
		ClearLease:   clearLease,
		ErrorMessage: &msg,
	}, &from); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PostTicketCancel handles POST /tickets/{id}/cancel (spec.md §4.E
// "Cancellation", §5 "Cancellation & timeouts"). An operator cancels
// work that's no longer wanted: the ticket moves straight to cancelled
// from any non-terminal state, its microVM (if any) is torn down off
// the request path via vm_teardown, and the owning session is
// re-checked since this may be the last ticket blocking it.
func (s *Server) PostTicketCancel(c *gin.Context) {
	ticketID := c.Param("id")

	t, err := s.store.GetTicket(c.Request.Context(), ticketID)
	if err != nil {
		c.Error(err)
		return
	}
	if t.State.Terminal() {
		c.Status(http.StatusNoContent)
		return
	}

	from := t.State
	to := domain.TicketCancelled
	msg := "cancelled by operator request"
	if err := s.store.UpdateTicketFields(c.Request.Context(), ticketID, store.TicketFieldUpdate{
		State:        &to,
		ErrorMessage: &msg,
	}, &from); err != nil {
		c.Error(err)
		return
	}
	s.recordAndPublish(c.Request.Context(), t, string(from), string(to), "cancel")

	if s.river != nil && t.VMID != "" {
		if _, err := s.river.Insert(c.Request.Context(), jobs.VMTeardownArgs{TicketID: ticketID, VMID: t.VMID}, nil); err != nil {
			logger.Warn("ticket cancel: enqueue vm teardown",
				zap.String("ticket_id", ticketID), zap.String("vm_id", t.VMID), zap.Error(err))
		}
	}

	s.checkSessionCompletion(c.Request.Context(), t.SessionID)
	c.Status(http.StatusNoContent)
}

// recordAndPublish records a ticket state transition as an audit event
// and fans it out on the event bus, the same idiom internal/verify and
// internal/dispatcher use for every ticket transition they drive.
func (s *Server) recordAndPublish(ctx context.Context, t *domain.Ticket, from, to, action string) {
	evt := &domain.AuditEvent{
		ID:        newEventID(),
		TicketID:  t.ID,
		FromState: from,
		ToState:   to,
		Action:    action,
		Actor:     domain.ActorUser,
	}
	if err := s.store.InsertEvent(ctx, evt); err != nil {
		logger.Warn("record audit event", zap.String("ticket_id", t.ID), zap.Error(err))
	}
	if s.bus == nil {
		return
	}
	room := bus.RoomTicket + ":" + t.ID
	s.bus.Publish([]string{room, bus.RoomSession + ":" + t.SessionID}, bus.NewEvent(room, "ticket.update", map[string]string{
		"ticket_id": t.ID,
		"from":      from,
		"to":        to,
		"action":    action,
	}))
}

// checkSessionCompletion re-runs the building session's cascade check
// after a ticket transition that may have unblocked or permanently
// blocked the rest of its DAG (mirrors internal/verify's helper of the
// same name).
func (s *Server) checkSessionCompletion(ctx context.Context, sessionID string) {
	if s.sessions == nil || sessionID == "" {
		return
	}
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		logger.Warn("fetch session for completion check", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	if err := s.sessions.CheckCascade(ctx, sess); err != nil {
		logger.Error("session completion check", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func ticketView(t *domain.Ticket) gin.H {
	return gin.H{
		"id":                  t.ID,
		"session_id":          t.SessionID,
		"project_id":          t.ProjectID,
		"title":               t.Title,
		"description":         t.Description,
		"state":               t.State,
		"acceptance_criteria": t.AcceptanceCriteria,
		"branch_name":         t.BranchName,
		"attempt":             t.Attempt,
	}
}

// GetTicket handles GET /tickets/{id}.
func (s *Server) GetTicket(c *gin.Context) {
	t, err := s.store.GetTicket(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, ticketView(t))
}
