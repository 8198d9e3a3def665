package gpu_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/distgpu/runner/internal/gpu"
)

func newTestLedger(t *testing.T, ttl time.Duration) *gpu.Ledger {
	t.Helper()
	dir := t.TempDir()
	return gpu.NewLedger(filepath.Join(dir, "gpu.lock"), filepath.Join(dir, "gpu_history.json"), ttl)
}

func TestTryReserve_PicksLowestFreeIndices(t *testing.T) {
	l := newTestLedger(t, time.Hour)

	got, err := l.TryReserve(nil, []int{3, 1, 2, 0}, 2)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Fatalf("expected [0 1], got %v", got)
	}
}

func TestTryReserve_DoesNotDoubleAssign(t *testing.T) {
	l := newTestLedger(t, time.Hour)

	first, err := l.TryReserve(nil, []int{0, 1}, 1)
	if err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	if len(first) != 1 || first[0] != 0 {
		t.Fatalf("expected [0], got %v", first)
	}

	second, err := l.TryReserve(nil, []int{0, 1}, 1)
	if err != nil {
		t.Fatalf("second reserve: %v", err)
	}
	if len(second) != 1 || second[0] != 1 {
		t.Fatalf("expected [1], got %v", second)
	}
}

func TestTryReserve_InsufficientReturnsEmpty(t *testing.T) {
	l := newTestLedger(t, time.Hour)

	got, err := l.TryReserve(nil, []int{0}, 2)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no reservation, got %v", got)
	}
}

func TestRelease_FreesGPUForReuse(t *testing.T) {
	l := newTestLedger(t, time.Hour)

	got, err := l.TryReserve(nil, []int{0}, 1)
	if err != nil || len(got) != 1 {
		t.Fatalf("reserve: %v %v", got, err)
	}
	if err := l.Release(got); err != nil {
		t.Fatalf("release: %v", err)
	}

	again, err := l.TryReserve(nil, []int{0}, 1)
	if err != nil {
		t.Fatalf("reserve after release: %v", err)
	}
	if len(again) != 1 || again[0] != 0 {
		t.Fatalf("expected gpu 0 reusable, got %v", again)
	}
}

func TestTryReserve_SweepsExpiredReservations(t *testing.T) {
	l := newTestLedger(t, time.Nanosecond)

	first, err := l.TryReserve(nil, []int{0}, 1)
	if err != nil || len(first) != 1 {
		t.Fatalf("reserve: %v %v", first, err)
	}
	time.Sleep(2 * time.Millisecond)

	again, err := l.TryReserve(nil, []int{0}, 1)
	if err != nil {
		t.Fatalf("reserve after ttl: %v", err)
	}
	if len(again) != 1 || again[0] != 0 {
		t.Fatalf("expected expired reservation to be reclaimable, got %v", again)
	}
}

func TestTryReserve_CandidateFilterRestrictsChoices(t *testing.T) {
	l := newTestLedger(t, time.Hour)

	got, err := l.TryReserve([]int{2, 3}, []int{0, 1, 2, 3}, 1)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if len(got) != 1 || got[0] != 2 {
		t.Fatalf("expected candidate-restricted [2], got %v", got)
	}
}

// TestTryReserve_AllFree_ReturnsSubsetEvenWhenNotAllAvailable reproduces the
// scheduler's own calling convention: a runner configured with a --gpus
// subset smaller than the host's full GPU count, reserving with
// ReserveAllFree rather than demanding an exact count. The old "n =
// len(available)" call site demanded every host-visible GPU be free and in
// the candidate set, which starved any runner partitioning a host's GPUs.
func TestTryReserve_AllFree_ReturnsSubsetEvenWhenNotAllAvailable(t *testing.T) {
	l := newTestLedger(t, time.Hour)

	// Host has 4 GPUs, this runner only claims 2 of them via --gpus.
	got, err := l.TryReserve([]int{0, 1}, []int{0, 1, 2, 3}, gpu.ReserveAllFree)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Fatalf("expected candidate-restricted [0 1], got %v", got)
	}
}

func TestTryReserve_AllFree_ReturnsRemainingAfterPriorReservation(t *testing.T) {
	l := newTestLedger(t, time.Hour)

	first, err := l.TryReserve([]int{0, 1, 2, 3}, []int{0, 1, 2, 3}, 1)
	if err != nil || len(first) != 1 {
		t.Fatalf("first reserve: %v %v", first, err)
	}

	// A second caller asking for "whatever's free" must still get the
	// remaining GPUs instead of bailing because not every GPU is free.
	got, err := l.TryReserve([]int{0, 1, 2, 3}, []int{0, 1, 2, 3}, gpu.ReserveAllFree)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 remaining free gpus, got %v", got)
	}
}

func TestTryReserve_AllFree_NoneFreeReturnsEmptyNotError(t *testing.T) {
	l := newTestLedger(t, time.Hour)

	first, err := l.TryReserve(nil, []int{0}, 1)
	if err != nil || len(first) != 1 {
		t.Fatalf("first reserve: %v %v", first, err)
	}

	got, err := l.TryReserve(nil, []int{0}, gpu.ReserveAllFree)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no free gpus, got %v", got)
	}
}
