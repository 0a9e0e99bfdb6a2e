package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"swarmcore.io/swarm/internal/pkg/logger"
)

// GetEventStream handles the event-stream upgrade (spec.md §6): a
// websocket connection fanned out from the Bus, scoped to the rooms
// named in the `rooms` query parameter (comma-separated, e.g.
// `?rooms=session:abc,tenant:acme`). internal/bus.ServeWS blocks for
// the connection's lifetime, so this handler returns only once the
// client disconnects.
func (s *Server) GetEventStream(c *gin.Context) {
	raw := c.Query("rooms")
	var rooms []string
	for _, r := range strings.Split(raw, ",") {
		if r = strings.TrimSpace(r); r != "" {
			rooms = append(rooms, r)
		}
	}
	if len(rooms) == 0 {
		rooms = []string{"tenant:" + c.GetString("tenant_id")}
	}

	if err := s.bus.ServeWS(c.Writer, c.Request, rooms); err != nil {
		logger.Warn("event stream upgrade failed", zap.Error(err), zap.Strings("rooms", rooms))
	}
}
