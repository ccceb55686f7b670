// Package tracker converts cumulative router byte counters into per-poll deltas.
package tracker

import "sync"

type baseline struct {
	rx int64
	tx int64
}

// Tracker keeps the last-seen raw counters per peer. Baselines live in
// memory only: a process restart loses them, which costs at most one
// under-counted interval per peer.
type Tracker struct {
	mu   sync.Mutex
	last map[int64]baseline
}

func New() *Tracker {
	return &Tracker{last: make(map[int64]baseline)}
}

// Delta returns the non-negative usage since the previous reading for the
// peer and stores the current reading as the new baseline.
//
// The first reading for a peer establishes the baseline and yields (0, 0).
// A reading below the baseline is treated as a counter reset: the new value
// is taken as the usage accrued since the reset. This is an approximation,
// not exact accounting.
func (t *Tracker) Delta(peerID int64, rx, tx int64) (drx, dtx int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, ok := t.last[peerID]
	t.last[peerID] = baseline{rx: rx, tx: tx}
	if !ok {
		return 0, 0
	}

	drx = rx - prev.rx
	if drx < 0 {
		drx = rx
	}
	dtx = tx - prev.tx
	if dtx < 0 {
		dtx = tx
	}
	return drx, dtx
}

// Forget drops the baseline for a peer so the next reading re-baselines
// with a zero delta. Used after a metrics reset or peer deletion.
func (t *Tracker) Forget(peerID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.last, peerID)
}
