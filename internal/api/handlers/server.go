// Package handlers implements the HTTP surface named in spec.md §6: the
// agent-facing pull endpoints (claim/heartbeat/complete/release) and the
// HITL session endpoints. Route registration lives in internal/app's
// router, not here — handlers only implement gin.HandlerFunc methods.
//
// Import Path (ADR-0016): swarmcore.io/swarm/internal/api/handlers
package handlers

import (
	"context"
	"time"

	"github.com/riverqueue/river"

	"swarmcore.io/swarm/internal/api/middleware"
	"swarmcore.io/swarm/internal/bus"
	"swarmcore.io/swarm/internal/config"
	"swarmcore.io/swarm/internal/sessionsm"
	"swarmcore.io/swarm/internal/store"
)

// riverInserter is the one River method this package calls directly:
// enqueueing ticket_verify off the agent-facing complete handler so the
// HTTP response returns before verification runs (spec.md §4.G).
type riverInserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*river.JobInsertResult, error)
}

// Server implements every handler method, grouped across
// server_ticket.go, server_session.go, server_ws.go, server_health.go.
type Server struct {
	store         *store.Store
	bus           *bus.Bus
	sessions      *sessionsm.Machine
	river         riverInserter
	jwtCfg        middleware.JWTConfig
	operators     []config.OperatorConfig
	leaseDuration time.Duration
	maxAttempts   int
}

// ServerDeps holds all dependencies for creating a Server (ADR-0013:
// manual DI, no Wire/Dig).
type ServerDeps struct {
	Store         *store.Store
	Bus           *bus.Bus
	Sessions      *sessionsm.Machine
	River         riverInserter
	JWTCfg        middleware.JWTConfig
	Operators     []config.OperatorConfig
	LeaseDuration time.Duration
	MaxAttempts   int
}

// NewServer creates a new Server with all dependencies.
func NewServer(deps ServerDeps) *Server {
	return &Server{
		store:         deps.Store,
		bus:           deps.Bus,
		sessions:      deps.Sessions,
		river:         deps.River,
		jwtCfg:        deps.JWTCfg,
		operators:     deps.Operators,
		leaseDuration: deps.LeaseDuration,
		maxAttempts:   deps.MaxAttempts,
	}
}

// actorFromCtx extracts the authenticated user ID from the request context.
func actorFromCtx(c interface{ GetString(string) string }) string {
	if uid := c.GetString("user_id"); uid != "" {
		return uid
	}
	return "anonymous"
}
