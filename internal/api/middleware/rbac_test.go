package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRequireTenantMatch(t *testing.T) {
	t.Parallel()
	gin.SetMode(gin.TestMode)

	resolve := func(tenantID string, err error) TenantResolver {
		return func(context.Context, string) (string, error) { return tenantID, err }
	}

	run := func(callerTenant string, resourceID string, resolver TenantResolver) int {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		c.Params = gin.Params{{Key: "ticket_id", Value: resourceID}}
		if callerTenant != "" {
			c.Set("tenant_id", callerTenant)
		}
		RequireTenantMatch("ticket", "ticket_id", resolver)(c)
		return w.Code
	}

	t.Run("matching tenant allowed", func(t *testing.T) {
		t.Parallel()
		status := run("tenant-a", "t1", resolve("tenant-a", nil))
		if status != http.StatusOK {
			t.Fatalf("status = %d, want %d", status, http.StatusOK)
		}
	})

	t.Run("mismatched tenant forbidden", func(t *testing.T) {
		t.Parallel()
		status := run("tenant-a", "t1", resolve("tenant-b", nil))
		if status != http.StatusForbidden {
			t.Fatalf("status = %d, want %d", status, http.StatusForbidden)
		}
	})

	t.Run("missing tenant context forbidden", func(t *testing.T) {
		t.Parallel()
		status := run("", "t1", resolve("tenant-a", nil))
		if status != http.StatusForbidden {
			t.Fatalf("status = %d, want %d", status, http.StatusForbidden)
		}
	})

	t.Run("resolver error treated as not found", func(t *testing.T) {
		t.Parallel()
		status := run("tenant-a", "missing", resolve("", errors.New("not found")))
		if status != http.StatusNotFound {
			t.Fatalf("status = %d, want %d", status, http.StatusNotFound)
		}
	})
}

func TestRequirePermission(t *testing.T) {
	t.Parallel()

	gin.SetMode(gin.TestMode)

	run := func(perms interface{}, required string) (int, bool) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		if perms != nil {
			c.Set("permissions", perms)
		}

		called := false
		RequirePermission(required)(c)
		if !c.IsAborted() {
			called = true
		}
		return w.Code, called
	}

	t.Run("platform admin bypasses required permission", func(t *testing.T) {
		t.Parallel()
		status, called := run([]string{"platform:admin"}, "system:delete")
		if status != http.StatusOK {
			t.Fatalf("status = %d, want %d", status, http.StatusOK)
		}
		if !called {
			t.Fatal("middleware unexpectedly aborted for platform:admin")
		}
	})

	t.Run("specific permission allowed", func(t *testing.T) {
		t.Parallel()
		status, called := run([]string{"system:read"}, "system:read")
		if status != http.StatusOK {
			t.Fatalf("status = %d, want %d", status, http.StatusOK)
		}
		if !called {
			t.Fatal("middleware unexpectedly aborted with matching permission")
		}
	})

	t.Run("missing permission forbidden", func(t *testing.T) {
		t.Parallel()
		status, called := run([]string{"system:read"}, "system:delete")
		if status != http.StatusForbidden {
			t.Fatalf("status = %d, want %d", status, http.StatusForbidden)
		}
		if called {
			t.Fatal("middleware should abort when permission missing")
		}
	})
}
