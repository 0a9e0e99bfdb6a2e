package app

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"swarmcore.io/swarm/internal/api/middleware"
	"swarmcore.io/swarm/internal/config"
)

func TestSanitizeAllowedOrigins(t *testing.T) {
	got := sanitizeAllowedOrigins([]string{
		"  http://localhost:3000  ",
		"",
		"*",
		"http://localhost:3000",
		"https://example.com",
	})

	require.Equal(t, []string{
		"http://localhost:3000",
		"https://example.com",
	}, got)
}

func TestBuildCORSConfig_AllowAllForcesCredentialsOff(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			UnsafeAllowAllOrigins: true,
			AllowCredentials:      true,
		},
	}

	corsCfg := buildCORSConfig(cfg)
	require.True(t, corsCfg.AllowAllOrigins)
	require.False(t, corsCfg.AllowCredentials)
}

func TestBuildCORSConfig_UsesDefaultOriginsWhenEmpty(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{
			UnsafeAllowAllOrigins: false,
			AllowedOrigins:        []string{"", "*", "   "},
			AllowCredentials:      true,
		},
	}

	corsCfg := buildCORSConfig(cfg)
	require.False(t, corsCfg.AllowAllOrigins)
	require.Equal(t, []string{
		"http://localhost:3000",
		"http://127.0.0.1:3000",
	}, corsCfg.AllowOrigins)
	require.True(t, corsCfg.AllowCredentials)
}

func TestJWTSkipPublic_SkipsAuthLoginAndHealthAndEvents(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mw := jwtSkipPublic(middleware.JWTConfig{SigningKey: []byte("router-test-key-1234567890123456")})

	for _, path := range []string{"/api/v1/auth/login", "/api/v1/health/live", "/api/v1/events"} {
		router := gin.New()
		router.Use(mw)
		router.Any(path, func(c *gin.Context) { c.Status(http.StatusOK) })

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, w.Code, "expected %s to skip JWT auth", path)
	}
}

func TestJWTSkipPublic_RequiresAuthForTickets(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mw := jwtSkipPublic(middleware.JWTConfig{SigningKey: []byte("router-test-key-1234567890123456")})

	router := gin.New()
	router.Use(mw)
	router.POST("/api/v1/claim", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/claim", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
