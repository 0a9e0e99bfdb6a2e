package leasemonitor

import (
	"testing"

	"swarmcore.io/swarm/internal/domain"
)

func TestReclaimOutcomeRetriesWithAttemptsRemaining(t *testing.T) {
	to, clearLease, action := reclaimOutcome(1, 3)
	if to != domain.TicketReady {
		t.Fatalf("to = %q, want ready", to)
	}
	if !clearLease {
		t.Fatal("clearLease should be true when retrying")
	}
	if action != "lease_reclaimed" {
		t.Fatalf("action = %q, want lease_reclaimed", action)
	}
}

func TestReclaimOutcomeFailsOnceAttemptsExhausted(t *testing.T) {
	to, clearLease, action := reclaimOutcome(3, 3)
	if to != domain.TicketFailed {
		t.Fatalf("to = %q, want failed", to)
	}
	if clearLease {
		t.Fatal("clearLease should be false once failed")
	}
	if action != "lease_reclaim_attempts_exhausted" {
		t.Fatalf("action = %q, want lease_reclaim_attempts_exhausted", action)
	}
}

func TestReclaimOutcomeFailsWhenAttemptExceedsMax(t *testing.T) {
	to, _, _ := reclaimOutcome(5, 3)
	if to != domain.TicketFailed {
		t.Fatalf("to = %q, want failed", to)
	}
}

func TestDefaultConfigMatchesDocumentedDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.HeartbeatInterval.Seconds() != 30 {
		t.Fatalf("HeartbeatInterval = %v, want 30s", cfg.HeartbeatInterval)
	}
	if cfg.ReaperInterval.Seconds() != 60 {
		t.Fatalf("ReaperInterval = %v, want 60s", cfg.ReaperInterval)
	}
	if cfg.StaleThreshold.Minutes() != 5 {
		t.Fatalf("StaleThreshold = %v, want 5m", cfg.StaleThreshold)
	}
}
