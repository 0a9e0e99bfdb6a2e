package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"swarmcore.io/swarm/internal/api/middleware"
	"swarmcore.io/swarm/internal/config"
)

func TestHashPassword_UsesConfiguredCost(t *testing.T) {
	hash, err := HashPassword("Passw0rd!Example")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}

	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		t.Fatalf("bcrypt.Cost() error = %v", err)
	}
	if cost != passwordHashCost {
		t.Fatalf("bcrypt cost = %d, want %d", cost, passwordHashCost)
	}
}

func newLoginTestServer(t *testing.T) *Server {
	t.Helper()
	hash, err := HashPassword("Passw0rd!Example")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return NewServer(ServerDeps{
		JWTCfg: middleware.JWTConfig{
			SigningKey: []byte("test-signing-key-1234567890123456"),
			Issuer:     "swarm",
			ExpiresIn:  time.Hour,
		},
		Operators: []config.OperatorConfig{
			{
				Username:     "alice",
				PasswordHash: hash,
				TenantID:     "tenant-acme",
				Roles:        []string{"operator"},
				Permissions:  []string{"session:write"},
			},
		},
	})
}

func TestPostLogin_IssuesTenantScopedToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	server := newLoginTestServer(t)

	body, _ := json.Marshal(loginRequest{Username: "alice", Password: "Passw0rd!Example"})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")

	server.PostLogin(c)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}

	var resp loginResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("expected a non-empty token")
	}

	claims, err := server.jwtCfg.ValidateToken(c.Request.Context(), resp.Token)
	if err != nil {
		t.Fatalf("validate issued token: %v", err)
	}
	if claims.TenantID != "tenant-acme" {
		t.Fatalf("tenant_id = %q, want tenant-acme", claims.TenantID)
	}
}

func TestPostLogin_RejectsBadPassword(t *testing.T) {
	gin.SetMode(gin.TestMode)
	server := newLoginTestServer(t)

	body, _ := json.Marshal(loginRequest{Username: "alice", Password: "wrong"})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")

	server.PostLogin(c)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, want 401", w.Code)
	}
}

func TestPostLogin_RejectsUnknownUsername(t *testing.T) {
	gin.SetMode(gin.TestMode)
	server := newLoginTestServer(t)

	body, _ := json.Marshal(loginRequest{Username: "nobody", Password: "whatever"})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")

	server.PostLogin(c)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d, want 401", w.Code)
	}
}
