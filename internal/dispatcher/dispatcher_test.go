package dispatcher

import (
	"strings"
	"testing"
)

func TestComputeBatchRespectsFleetCap(t *testing.T) {
	got := computeBatch(2, 10, 0, 10)
	if got != 2 {
		t.Fatalf("computeBatch = %d, want 2", got)
	}
}

func TestComputeBatchRespectsTenantCap(t *testing.T) {
	got := computeBatch(100, 3, 1, 10)
	if got != 2 {
		t.Fatalf("computeBatch = %d, want 2", got)
	}
}

func TestComputeBatchRespectsBatchSize(t *testing.T) {
	got := computeBatch(100, 100, 0, 4)
	if got != 4 {
		t.Fatalf("computeBatch = %d, want 4", got)
	}
}

func TestComputeBatchZeroTenantCapFallsBackToFleet(t *testing.T) {
	got := computeBatch(5, 0, 2, 10)
	if got != 5 {
		t.Fatalf("computeBatch = %d, want 5", got)
	}
}

func TestComputeBatchAtCapacityReturnsNonPositive(t *testing.T) {
	got := computeBatch(5, 5, 5, 10)
	if got > 0 {
		t.Fatalf("computeBatch = %d, want <= 0", got)
	}
}

func TestComputeBatchOverCapacityReturnsNonPositive(t *testing.T) {
	got := computeBatch(5, 5, 9, 10)
	if got > 0 {
		t.Fatalf("computeBatch = %d, want <= 0", got)
	}
}

func TestNewVMPlaceholderIDHasPendingPrefix(t *testing.T) {
	id := newVMPlaceholderID()
	if !strings.HasPrefix(id, "pending-") {
		t.Fatalf("newVMPlaceholderID() = %q, want pending- prefix", id)
	}
	if newVMPlaceholderID() == newVMPlaceholderID() {
		t.Fatal("newVMPlaceholderID() should not repeat")
	}
}

func TestMinHelper(t *testing.T) {
	if min(3, 5) != 3 {
		t.Fatal("min(3, 5) should be 3")
	}
	if min(5, 3) != 3 {
		t.Fatal("min(5, 3) should be 3")
	}
	if min(-1, 0) != -1 {
		t.Fatal("min(-1, 0) should be -1")
	}
}

func TestNewIDAndNewVMPlaceholderIDDiffer(t *testing.T) {
	if newID() == newVMPlaceholderID() {
		t.Fatal("newID() and newVMPlaceholderID() should never collide")
	}
}
