package verify

import (
	"testing"

	"swarmcore.io/swarm/internal/domain"
)

func TestRetryOutcomeRetriesWithAttemptsRemaining(t *testing.T) {
	if got := retryOutcome(1, 3); got != domain.TicketReady {
		t.Fatalf("retryOutcome(1, 3) = %q, want ready", got)
	}
}

func TestRetryOutcomeFailsOnceAttemptsExhausted(t *testing.T) {
	if got := retryOutcome(3, 3); got != domain.TicketFailed {
		t.Fatalf("retryOutcome(3, 3) = %q, want failed", got)
	}
}

func TestRetryOutcomeFailsWhenAttemptExceedsMax(t *testing.T) {
	if got := retryOutcome(5, 3); got != domain.TicketFailed {
		t.Fatalf("retryOutcome(5, 3) = %q, want failed", got)
	}
}

func TestMergeOutputPreservesExistingKeysAndAddsNew(t *testing.T) {
	base := map[string]interface{}{"vm_endpoint": "http://x"}
	merged := mergeOutput(base, "last_feedback", "fix the tests")
	if merged["vm_endpoint"] != "http://x" {
		t.Fatal("mergeOutput should preserve existing keys")
	}
	if merged["last_feedback"] != "fix the tests" {
		t.Fatal("mergeOutput should add the new key")
	}
	if len(base) != 1 {
		t.Fatal("mergeOutput should not mutate its input")
	}
}

func TestMergeOutputHandlesNilBase(t *testing.T) {
	merged := mergeOutput(nil, "k", "v")
	if merged["k"] != "v" {
		t.Fatal("mergeOutput(nil, ...) should still produce the new key")
	}
}

func TestDefaultConfigHasBuildAndTestPhases(t *testing.T) {
	cfg := DefaultConfig()
	if len(cfg.Phases) == 0 {
		t.Fatal("DefaultConfig should ship at least one phase")
	}
	if cfg.MaxAttempts != 3 {
		t.Fatalf("MaxAttempts = %d, want 3", cfg.MaxAttempts)
	}
}
