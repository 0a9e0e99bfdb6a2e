package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"swarmcore.io/swarm/internal/api/middleware"
	"swarmcore.io/swarm/internal/config"
	"swarmcore.io/swarm/internal/pkg/logger"
)

const passwordHashCost = 12

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
	TenantID  string `json:"tenant_id"`
}

// PostLogin handles POST /auth/login. There is no User entity in this
// system (Ticket/Session authorization is flat tenant matching, see
// middleware.RequireTenantMatch), so the account list is declared in
// config rather than queried from a table.
func (s *Server) PostLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "message": err.Error()})
		return
	}

	op, ok := findOperator(s.operators, req.Username)
	if !ok {
		logger.Warn("login failed: unknown operator", zap.String("username", req.Username))
		c.JSON(http.StatusUnauthorized, gin.H{"code": "INVALID_CREDENTIALS"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(req.Password)); err != nil {
		logger.Warn("login failed: bad password", zap.String("username", req.Username))
		c.JSON(http.StatusUnauthorized, gin.H{"code": "INVALID_CREDENTIALS"})
		return
	}

	token, expiresAt, err := middleware.GenerateTenantToken(s.jwtCfg, op.Username, op.Username, op.TenantID, op.Roles, op.Permissions)
	if err != nil {
		logger.Error("failed to generate token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR"})
		return
	}

	c.JSON(http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: expiresAt.Format("2006-01-02T15:04:05Z07:00"),
		TenantID:  op.TenantID,
	})
}

func findOperator(operators []config.OperatorConfig, username string) (config.OperatorConfig, bool) {
	for _, op := range operators {
		if op.Username == username {
			return op, true
		}
	}
	return config.OperatorConfig{}, false
}

// HashPassword hashes a password with bcrypt, for operators populating
// auth.operators in config.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), passwordHashCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
