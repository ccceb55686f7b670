// Package poller runs the accounting loop: on every tick it polls each
// configured router for WireGuard peer counters, converts them into
// usage deltas, folds the deltas into the rollup store and drives
// quota/window enforcement through the actuator.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/blikh/mikrotik-wg-meter/internal/enforce"
	"github.com/blikh/mikrotik-wg-meter/internal/metrics"
	"github.com/blikh/mikrotik-wg-meter/internal/quota"
	"github.com/blikh/mikrotik-wg-meter/internal/routeros"
	"github.com/blikh/mikrotik-wg-meter/internal/store"
	"github.com/blikh/mikrotik-wg-meter/internal/tracker"
)

// Poller drives the scheduled accounting ticks. Routers are polled
// concurrently, one worker per router; ticks for a single router never
// overlap (a tick is skipped while the previous poll of that router is
// still running).
type Poller struct {
	store   *store.Store
	tracker *tracker.Tracker
	act     *enforce.Actuator
	dial    enforce.RouterDialer
	logger  *slog.Logger

	mu       sync.Mutex
	inflight map[int64]bool
}

func New(st *store.Store, tr *tracker.Tracker, act *enforce.Actuator, dial enforce.RouterDialer, logger *slog.Logger) *Poller {
	return &Poller{
		store:    st,
		tracker:  tr,
		act:      act,
		dial:     dial,
		logger:   logger,
		inflight: make(map[int64]bool),
	}
}

// Run ticks until ctx is cancelled. Settings are re-read at the start
// of every tick, so interval or reset-day edits take effect within one
// interval.
func (p *Poller) Run(ctx context.Context) error {
	for {
		set, err := p.store.GetSettings()
		if err != nil {
			p.logger.Error("read settings", "error", err)
			set = store.DefaultSettings
		}
		p.Tick(ctx, set)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(set.PollIntervalSec) * time.Second):
		}
	}
}

// Tick polls every router that has at least one selected peer. It
// returns once all router workers spawned by this tick have finished.
func (p *Poller) Tick(ctx context.Context, set store.Settings) {
	routers, err := p.store.ListRouters()
	if err != nil {
		p.logger.Error("list routers", "error", err)
		return
	}

	timeout := time.Duration(set.PollIntervalSec) * time.Second / 2
	var wg sync.WaitGroup
	tracked := 0
	for _, r := range routers {
		peers, err := p.store.SelectedPeersByRouter(r.ID)
		if err != nil {
			p.logger.Error("list selected peers", "router", r.Name, "error", err)
			continue
		}
		if len(peers) == 0 {
			continue
		}
		tracked += len(peers)

		if !p.tryAcquire(r.ID) {
			p.logger.Warn("previous poll still running, skipping tick", "router", r.Name)
			metrics.PollsTotal.WithLabelValues("skipped").Inc()
			continue
		}

		wg.Add(1)
		go func(r store.Router, peers map[string]store.Peer) {
			defer wg.Done()
			defer p.release(r.ID)

			pollCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			if err := p.pollRouter(pollCtx, r, peers, set); err != nil {
				p.logger.Error("poll failed", "router", r.Name, "error", err)
				metrics.PollsTotal.WithLabelValues("error").Inc()
				metrics.RouterReachable.WithLabelValues(r.Name).Set(0)
			} else {
				metrics.PollsTotal.WithLabelValues("ok").Inc()
				metrics.RouterReachable.WithLabelValues(r.Name).Set(1)
			}
			metrics.PollDuration.Observe(time.Since(start).Seconds())
		}(r, peers)
	}
	metrics.PeersTracked.Set(float64(tracked))
	wg.Wait()
}

func (p *Poller) tryAcquire(routerID int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inflight[routerID] {
		return false
	}
	p.inflight[routerID] = true
	return true
}

func (p *Poller) release(routerID int64) {
	p.mu.Lock()
	delete(p.inflight, routerID)
	p.mu.Unlock()
}

// pollRouter is one unit of work: a single listPeers call feeds every
// selected peer of the router through delta tracking, rollup recording
// and enforcement. A listPeers failure aborts the whole unit with
// nothing written; a per-peer enforcement failure only skips that peer.
func (p *Poller) pollRouter(ctx context.Context, r store.Router, selected map[string]store.Peer, set store.Settings) error {
	link, err := p.dial(r)
	if err != nil {
		return err
	}
	snaps, err := link.ListPeers(ctx, "")
	if err != nil {
		return err
	}

	now := time.Now()
	loc := set.Location()
	for _, snap := range snaps {
		peer, ok := selected[snap.PublicKey]
		if !ok {
			continue
		}

		drx, dtx := p.tracker.Delta(peer.ID, snap.RxBytes, snap.TxBytes)
		if err := p.store.RecordSample(peer.ID, now, drx, dtx, set.MonthlyResetDay, loc); err != nil {
			p.logger.Error("record sample", "peer", peer.ID, "error", err)
			continue
		}
		metrics.BytesAccounted.WithLabelValues("rx").Add(float64(drx))
		metrics.BytesAccounted.WithLabelValues("tx").Add(float64(dtx))

		if err := p.store.UpdatePeerLive(peer.ID, snap.Endpoint, snap.HandshakeAge, now); err != nil {
			p.logger.Error("update peer live", "peer", peer.ID, "error", err)
		}
		// The router is the source of truth for the current state.
		if snap.Disabled != peer.Disabled {
			if err := p.store.SetPeerDisabled(peer.ID, snap.Disabled); err != nil {
				p.logger.Error("sync peer state", "peer", peer.ID, "error", err)
				continue
			}
			peer.Disabled = snap.Disabled
		}

		if err := p.enforcePeer(ctx, link, peer, set, now); err != nil {
			p.logger.Error("enforce peer", "peer", peer.ID, "error", err)
		}
	}

	return p.store.TouchRouterPolled(r.ID, now)
}

func (p *Poller) enforcePeer(ctx context.Context, link routeros.Client, peer store.Peer, set store.Settings, now time.Time) error {
	q, err := p.store.GetQuota(peer.ID)
	if err != nil {
		return err
	}
	rx, tx, err := p.store.CurrentCycleUsage(peer.ID, now, set.MonthlyResetDay, set.Location())
	if err != nil {
		return err
	}
	lastKind, err := p.store.LastActionKind(peer.ID)
	if err != nil {
		return err
	}

	d := quota.Evaluate(q, rx+tx, lastKind, now)
	if d.Disable == peer.Disabled {
		return nil
	}
	metrics.ActionsTotal.WithLabelValues(d.Kind).Inc()
	return p.act.Apply(ctx, link, peer, d, now)
}
