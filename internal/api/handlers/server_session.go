package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"swarmcore.io/swarm/internal/domain"
	"swarmcore.io/swarm/internal/generator"
	apperrors "swarmcore.io/swarm/internal/pkg/errors"
)

type createSessionRequest struct {
	TenantID    string `json:"tenant_id" binding:"required"`
	ProjectName string `json:"project_name" binding:"required"`
	Description string `json:"description" binding:"required"`
}

// PostSession handles POST /sessions (spec.md §6).
func (s *Server) PostSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.ErrInvalidRequestFieldf("description"))
		return
	}

	sess, err := s.sessions.CreateSession(c.Request.Context(), req.TenantID, req.ProjectName, req.Description, domain.SourceAPI)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, sessionView(sess))
}

func (s *Server) loadSession(c *gin.Context) (*domain.Session, bool) {
	sess, err := s.store.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return nil, false
	}
	return sess, true
}

type respondRequest struct {
	Message string `json:"message" binding:"required"`
}

// PostSessionRespond handles POST /sessions/{id}/respond.
func (s *Server) PostSessionRespond(c *gin.Context) {
	sess, ok := s.loadSession(c)
	if !ok {
		return
	}
	var req respondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.ErrInvalidRequestFieldf("message"))
		return
	}
	reply, err := s.sessions.Respond(c.Request.Context(), sess, req.Message)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

// PostSessionSkip handles POST /sessions/{id}/skip.
func (s *Server) PostSessionSkip(c *gin.Context) {
	sess, ok := s.loadSession(c)
	if !ok {
		return
	}
	if err := s.sessions.Skip(c.Request.Context(), sess); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, sessionView(sess))
}

// PostSessionGenerateSpec handles POST /sessions/{id}/generate-spec.
func (s *Server) PostSessionGenerateSpec(c *gin.Context) {
	sess, ok := s.loadSession(c)
	if !ok {
		return
	}
	spec, err := s.sessions.GenerateSpec(c.Request.Context(), sess)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, spec)
}

// PostSessionUpdateSpec handles POST /sessions/{id}/update-spec.
func (s *Server) PostSessionUpdateSpec(c *gin.Context) {
	sess, ok := s.loadSession(c)
	if !ok {
		return
	}
	var spec domain.GeneratedSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.Error(apperrors.ErrInvalidRequestFieldf("spec"))
		return
	}
	if err := s.sessions.UpdateSpec(c.Request.Context(), sess, &spec); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, sessionView(sess))
}

type requestRevisionRequest struct {
	Feedback string `json:"feedback" binding:"required"`
}

// PostSessionRequestRevision handles POST /sessions/{id}/request-revision.
func (s *Server) PostSessionRequestRevision(c *gin.Context) {
	sess, ok := s.loadSession(c)
	if !ok {
		return
	}
	var req requestRevisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.ErrInvalidRequestFieldf("feedback"))
		return
	}
	spec, err := s.sessions.RequestRevision(c.Request.Context(), sess, req.Feedback)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, spec)
}

// PostSessionApprove handles POST /sessions/{id}/approve.
func (s *Server) PostSessionApprove(c *gin.Context) {
	sess, ok := s.loadSession(c)
	if !ok {
		return
	}
	approver := actorFromCtx(c)
	if err := s.sessions.Approve(c.Request.Context(), sess, approver, c.ClientIP(), c.Request.UserAgent()); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, sessionView(sess))
}

type startBuildRequest struct {
	Confirmed bool `json:"confirmed"`
}

// PostSessionStartBuild handles POST /sessions/{id}/start-build. It
// advances the session to building and immediately activates the
// Generator's compiled tickets (spec.md §4.D's activation step),
// returning the count of tickets now eligible to be claimed.
func (s *Server) PostSessionStartBuild(c *gin.Context) {
	sess, ok := s.loadSession(c)
	if !ok {
		return
	}
	var req startBuildRequest
	_ = c.ShouldBindJSON(&req)

	if err := s.sessions.StartBuild(c.Request.Context(), sess, req.Confirmed); err != nil {
		c.Error(err)
		return
	}

	tickets, err := generator.Compile(sess)
	if err != nil {
		c.Error(err)
		return
	}
	if err := s.store.InsertTicketsAtomic(c.Request.Context(), tickets); err != nil {
		c.Error(err)
		return
	}
	ready, err := generator.Activate(c.Request.Context(), s.store, sess)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"session": sessionView(sess), "tickets_ready": ready})
}

// PostSessionCancel handles POST /sessions/{id}/cancel.
func (s *Server) PostSessionCancel(c *gin.Context) {
	sess, ok := s.loadSession(c)
	if !ok {
		return
	}
	if err := s.sessions.Cancel(c.Request.Context(), sess); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, sessionView(sess))
}

// GetSession handles GET /sessions/{id}.
func (s *Server) GetSession(c *gin.Context) {
	sess, ok := s.loadSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sessionView(sess))
}

// GetSessionMessages handles GET /sessions/{id}/messages.
func (s *Server) GetSessionMessages(c *gin.Context) {
	msgs, err := s.store.ListMessages(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func sessionView(sess *domain.Session) gin.H {
	return gin.H{
		"id":           sess.ID,
		"tenant_id":    sess.TenantID,
		"project_name": sess.ProjectName,
		"state":        sess.State,
		"progress":     sess.Progress,
		"gathered":     sess.Gathered,
		"draft_spec":   sess.DraftSpec,
		"final_spec":   sess.FinalSpec,
	}
}
