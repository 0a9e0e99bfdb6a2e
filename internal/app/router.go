package app

import (
	"slices"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"swarmcore.io/swarm/internal/api/handlers"
	"swarmcore.io/swarm/internal/api/middleware"
	"swarmcore.io/swarm/internal/config"
)

// Public routes that do NOT require JWT authentication.
var publicPrefixes = []string{
	"/api/v1/auth/login",
	"/api/v1/health/",
	"/api/v1/events",
}

func newRouter(cfg *config.Config, server *handlers.Server, jwtCfg middleware.JWTConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.ErrorHandler())

	router.Use(cors.New(buildCORSConfig(cfg)))

	router.Use(jwtSkipPublic(jwtCfg))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health/live", server.GetLiveness)
		v1.GET("/health/ready", server.GetReadiness)

		v1.POST("/auth/login", server.PostLogin)

		// Agent-facing pull model (spec.md §6).
		v1.POST("/claim", server.PostClaim)
		v1.GET("/tickets/:id", server.GetTicket)
		v1.POST("/tickets/:id/heartbeat", server.PostTicketHeartbeat)
		v1.POST("/tickets/:id/complete", server.PostTicketComplete)
		v1.POST("/tickets/:id/release", server.PostTicketRelease)
		v1.POST("/tickets/:id/cancel", server.PostTicketCancel)

		// HITL sessions.
		v1.POST("/sessions", server.PostSession)
		v1.GET("/sessions/:id", server.GetSession)
		v1.GET("/sessions/:id/messages", server.GetSessionMessages)
		v1.POST("/sessions/:id/respond", server.PostSessionRespond)
		v1.POST("/sessions/:id/skip", server.PostSessionSkip)
		v1.POST("/sessions/:id/generate-spec", server.PostSessionGenerateSpec)
		v1.POST("/sessions/:id/update-spec", server.PostSessionUpdateSpec)
		v1.POST("/sessions/:id/request-revision", server.PostSessionRequestRevision)
		v1.POST("/sessions/:id/approve", server.PostSessionApprove)
		v1.POST("/sessions/:id/start-build", server.PostSessionStartBuild)
		v1.POST("/sessions/:id/cancel", server.PostSessionCancel)

		// Real-time event stream.
		v1.GET("/events", server.GetEventStream)
	}
	return router
}

func buildCORSConfig(cfg *config.Config) cors.Config {
	allowAllOrigins := cfg.Server.UnsafeAllowAllOrigins
	allowedOrigins := sanitizeAllowedOrigins(cfg.Server.AllowedOrigins)

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: cfg.Server.AllowCredentials,
		MaxAge:           12 * time.Hour,
	}

	if allowAllOrigins {
		corsCfg.AllowAllOrigins = true
		// gin-contrib/cors docs: AllowAllOrigins cannot be used with credentials.
		corsCfg.AllowCredentials = false
		return corsCfg
	}

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:3000", "http://127.0.0.1:3000"}
	}
	corsCfg.AllowOrigins = allowedOrigins
	return corsCfg
}

func sanitizeAllowedOrigins(origins []string) []string {
	cleaned := make([]string, 0, len(origins))
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "" || origin == "*" {
			continue
		}
		cleaned = append(cleaned, origin)
	}
	return slices.Compact(cleaned)
}

// jwtSkipPublic returns middleware that applies JWT auth only on non-public routes.
func jwtSkipPublic(jwtCfg middleware.JWTConfig) gin.HandlerFunc {
	jwtMw := middleware.JWTAuthWithConfig(jwtCfg)
	return func(c *gin.Context) {
		for _, prefix := range publicPrefixes {
			if strings.HasPrefix(c.Request.URL.Path, prefix) {
				c.Next()
				return
			}
		}
		jwtMw(c)
	}
}
