package tracker

import "testing"

func TestFirstObservationIsZero(t *testing.T) {
	tr := New()
	drx, dtx := tr.Delta(1, 5000, 3000)
	if drx != 0 || dtx != 0 {
		t.Fatalf("first delta: got (%d,%d), want (0,0)", drx, dtx)
	}
}

func TestMonotonicSumEqualsFinal(t *testing.T) {
	// For monotonically non-decreasing readings the deltas must sum to the
	// final cumulative value.
	tr := New()
	readings := []struct{ rx, tx int64 }{
		{0, 0}, {100, 50}, {100, 50}, {250, 300}, {1000, 1000},
	}
	var sumRx, sumTx int64
	for _, r := range readings {
		drx, dtx := tr.Delta(7, r.rx, r.tx)
		if drx < 0 || dtx < 0 {
			t.Fatalf("negative delta (%d,%d)", drx, dtx)
		}
		sumRx += drx
		sumTx += dtx
	}
	if sumRx != 1000 || sumTx != 1000 {
		t.Fatalf("sum: got (%d,%d), want (1000,1000)", sumRx, sumTx)
	}
}

func TestCounterReset(t *testing.T) {
	tr := New()
	tr.Delta(1, 5_000_000, 2_000_000)
	drx, dtx := tr.Delta(1, 1_000, 500)
	if drx != 1_000 || dtx != 500 {
		t.Fatalf("reset delta: got (%d,%d), want (1000,500)", drx, dtx)
	}
	// Baseline must have advanced to the post-reset reading.
	drx, dtx = tr.Delta(1, 1_500, 700)
	if drx != 500 || dtx != 200 {
		t.Fatalf("post-reset delta: got (%d,%d), want (500,200)", drx, dtx)
	}
}

func TestMixedDirectionReset(t *testing.T) {
	// Only one direction resets; the other keeps counting.
	tr := New()
	tr.Delta(1, 1000, 1000)
	drx, dtx := tr.Delta(1, 10, 1200)
	if drx != 10 {
		t.Fatalf("rx after reset: got %d, want 10", drx)
	}
	if dtx != 200 {
		t.Fatalf("tx: got %d, want 200", dtx)
	}
}

func TestForget(t *testing.T) {
	tr := New()
	tr.Delta(1, 1000, 1000)
	tr.Forget(1)
	drx, dtx := tr.Delta(1, 2000, 2000)
	if drx != 0 || dtx != 0 {
		t.Fatalf("after Forget: got (%d,%d), want (0,0)", drx, dtx)
	}
}

func TestPeersIndependent(t *testing.T) {
	tr := New()
	tr.Delta(1, 100, 100)
	drx, _ := tr.Delta(2, 500, 500)
	if drx != 0 {
		t.Fatalf("peer 2 first delta: got %d, want 0", drx)
	}
	drx, _ = tr.Delta(1, 150, 100)
	if drx != 50 {
		t.Fatalf("peer 1 delta: got %d, want 50", drx)
	}
}
