package noncetracker

import (
	"testing"

	"ledgerchain/internal/types"
)

func TestReserveCommitAdvancesCurrent(t *testing.T) {
	tr := New()
	var addr types.Address
	addr[0] = 0x01

	if err := tr.CheckAndReserve(addr, 0); err != nil {
		t.Fatalf("reserve 0: %v", err)
	}
	if err := tr.Commit(addr, 0); err != nil {
		t.Fatalf("commit 0: %v", err)
	}
	if got := tr.Current(addr); got != 1 {
		t.Fatalf("current = %d, want 1", got)
	}
}

func TestReserveRejectsGap(t *testing.T) {
	tr := New()
	var addr types.Address
	if err := tr.CheckAndReserve(addr, 3); err != ErrGap {
		t.Fatalf("expected ErrGap, got %v", err)
	}
}

func TestReserveRejectsStale(t *testing.T) {
	tr := New()
	var addr types.Address
	if err := tr.CheckAndReserve(addr, 0); err != nil {
		t.Fatalf("reserve 0: %v", err)
	}
	if err := tr.Commit(addr, 0); err != nil {
		t.Fatalf("commit 0: %v", err)
	}
	if err := tr.CheckAndReserve(addr, 0); err != ErrStale {
		t.Fatalf("expected ErrStale, got %v", err)
	}
}

func TestReserveRejectsReuse(t *testing.T) {
	tr := New()
	var addr types.Address
	if err := tr.CheckAndReserve(addr, 0); err != nil {
		t.Fatalf("reserve 0: %v", err)
	}
	if err := tr.CheckAndReserve(addr, 0); err != ErrReused {
		t.Fatalf("expected ErrReused, got %v", err)
	}
}

func TestReleaseFreesSlotForReuse(t *testing.T) {
	tr := New()
	var addr types.Address
	if err := tr.CheckAndReserve(addr, 0); err != nil {
		t.Fatalf("reserve 0: %v", err)
	}
	tr.Release(addr, 0)
	if got := tr.PendingCount(addr); got != 0 {
		t.Fatalf("pending count = %d, want 0", got)
	}
	if err := tr.CheckAndReserve(addr, 0); err != nil {
		t.Fatalf("reserve after release: %v", err)
	}
}

func TestMultiplePendingInOrder(t *testing.T) {
	tr := New()
	var addr types.Address
	for n := uint64(0); n < 3; n++ {
		if err := tr.CheckAndReserve(addr, n); err != nil {
			t.Fatalf("reserve %d: %v", n, err)
		}
	}
	if got := tr.PendingCount(addr); got != 3 {
		t.Fatalf("pending count = %d, want 3", got)
	}
	if err := tr.CheckAndReserve(addr, 3); err != nil {
		t.Fatalf("reserve 3: %v", err)
	}
	if err := tr.Commit(addr, 0); err != nil {
		t.Fatalf("commit 0: %v", err)
	}
	if got := tr.Current(addr); got != 1 {
		t.Fatalf("current = %d, want 1", got)
	}
}

func TestSnapshotIndependentOfLaterMutation(t *testing.T) {
	tr := New()
	var addr types.Address
	if err := tr.CheckAndReserve(addr, 0); err != nil {
		t.Fatalf("reserve 0: %v", err)
	}
	if err := tr.Commit(addr, 0); err != nil {
		t.Fatalf("commit 0: %v", err)
	}
	snap := tr.Snapshot()

	if err := tr.CheckAndReserve(addr, 1); err != nil {
		t.Fatalf("reserve 1: %v", err)
	}
	if err := tr.Commit(addr, 1); err != nil {
		t.Fatalf("commit 1: %v", err)
	}

	if got := snap.Current(addr); got != 1 {
		t.Fatalf("snapshot current = %d, want 1 (unaffected by later commit)", got)
	}
	if got := tr.Current(addr); got != 2 {
		t.Fatalf("live current = %d, want 2", got)
	}
}

func TestRestoreRollsBackState(t *testing.T) {
	tr := New()
	var addr types.Address
	if err := tr.CheckAndReserve(addr, 0); err != nil {
		t.Fatalf("reserve 0: %v", err)
	}
	if err := tr.Commit(addr, 0); err != nil {
		t.Fatalf("commit 0: %v", err)
	}
	snap := tr.Snapshot()

	if err := tr.CheckAndReserve(addr, 1); err != nil {
		t.Fatalf("reserve 1: %v", err)
	}
	if err := tr.Commit(addr, 1); err != nil {
		t.Fatalf("commit 1: %v", err)
	}

	tr.Restore(snap)
	if got := tr.Current(addr); got != 1 {
		t.Fatalf("current after restore = %d, want 1", got)
	}
	if got := tr.PendingCount(addr); got != 0 {
		t.Fatalf("pending count after restore = %d, want 0", got)
	}
}
