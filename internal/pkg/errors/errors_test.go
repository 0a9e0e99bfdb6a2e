package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "without wrapped error",
			err:  New(CategoryNotFound, "TICKET_NOT_FOUND", "ticket not found"),
			want: "NOT_FOUND/TICKET_NOT_FOUND: ticket not found",
		},
		{
			name: "with wrapped error",
			err:  Wrap(fmt.Errorf("db error"), CategoryFatal, "DB_ERROR", "database failure"),
			want: "FATAL/DB_ERROR: database failure: db error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("inner error")
	appErr := Wrap(inner, CategoryFatal, "CODE", "msg")

	if !errors.Is(appErr, inner) {
		t.Error("errors.Is should match inner error")
	}
}

func TestIsAppError(t *testing.T) {
	appErr := NotFound("NOT_FOUND", "resource not found")
	wrapped := fmt.Errorf("wrapped: %w", appErr)

	got, ok := IsAppError(wrapped)
	if !ok {
		t.Fatal("IsAppError should return true for wrapped AppError")
	}
	if got.Code != "NOT_FOUND" {
		t.Errorf("Code = %q, want NOT_FOUND", got.Code)
	}
}

func TestIsCategory(t *testing.T) {
	appErr := InvalidState("TICKET_NOT_READY", "not ready")
	wrapped := fmt.Errorf("wrapped: %w", appErr)

	if !IsCategory(wrapped, CategoryInvalidState) {
		t.Error("IsCategory should match the wrapped category")
	}
	if IsCategory(wrapped, CategoryConflict) {
		t.Error("IsCategory should not match an unrelated category")
	}
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		wantStatus int
	}{
		{"InvalidState", InvalidState("IS", "invalid state"), http.StatusConflict},
		{"NotFound", NotFound("NF", "not found"), http.StatusNotFound},
		{"Conflict", Conflict("CF", "conflict"), http.StatusConflict},
		{"Transient", Transient("TR", "transient", nil), http.StatusServiceUnavailable},
		{"Fatal", Fatal("FA", "fatal", nil), http.StatusInternalServerError},
		{"Timeout", Timeout("TO", "timeout"), http.StatusGatewayTimeout},
		{"PolicyViolation", PolicyViolation("PV", "policy"), http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.HTTPStatus != tt.wantStatus {
				t.Errorf("HTTPStatus = %d, want %d", tt.err.HTTPStatus, tt.wantStatus)
			}
		})
	}
}
