// Package enforce reconciles a peer's router-side enabled/disabled
// state with the desired state decided by the quota engine, writing an
// audit row for every transition attempt.
package enforce

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/blikh/mikrotik-wg-meter/internal/quota"
	"github.com/blikh/mikrotik-wg-meter/internal/routeros"
	"github.com/blikh/mikrotik-wg-meter/internal/store"
)

// RouterDialer builds a protocol client from a router profile. Injected
// so tests can substitute a fake link.
type RouterDialer func(r store.Router) (routeros.Client, error)

// Actuator applies enforcement transitions through RouterLink clients.
type Actuator struct {
	store  *store.Store
	dial   RouterDialer
	logger *slog.Logger
}

func New(st *store.Store, dial RouterDialer, logger *slog.Logger) *Actuator {
	return &Actuator{store: st, dial: dial, logger: logger}
}

// Apply moves peer to the desired state over an already-open link. When
// the peer is already in the desired state it does nothing: no router
// call, no audit row. A router failure leaves the stored state
// untouched and logs a router_*_failed row; desired != current persists
// so the next tick retries.
func (a *Actuator) Apply(ctx context.Context, link routeros.Client, peer store.Peer, d quota.Decision, now time.Time) error {
	if d.Disable == peer.Disabled {
		return nil
	}

	if err := link.SetPeerDisabled(ctx, peer.RouterOSID, d.Disable); err != nil {
		kind := store.ActionRouterEnableFail
		if d.Disable {
			kind = store.ActionRouterDisableFail
		}
		if aerr := a.store.AppendAction(peer.ID, now, kind, err.Error()); aerr != nil {
			a.logger.Error("append failure action", "peer", peer.ID, "error", aerr)
		}
		return fmt.Errorf("enforce: set peer %d disabled=%v: %w", peer.ID, d.Disable, err)
	}

	if err := a.store.SetPeerDisabled(peer.ID, d.Disable); err != nil {
		return err
	}
	if err := a.store.AppendAction(peer.ID, now, d.Kind, d.Note); err != nil {
		return err
	}
	a.logger.Info("peer state changed",
		"peer", peer.ID, "disabled", d.Disable, "kind", d.Kind, "note", d.Note)
	return nil
}

// Manual sets a peer's state on user request. Manual actions are
// authoritative: a manual disable stays in force across policy
// evaluations until a manual enable. The router call is made even when
// the stored state already matches, so the router is re-synced after a
// missed transition.
func (a *Actuator) Manual(ctx context.Context, peerID int64, disable bool) error {
	peer, err := a.store.GetPeer(peerID)
	if err != nil {
		return err
	}
	router, err := a.store.GetRouter(peer.RouterID)
	if err != nil {
		return err
	}
	link, err := a.dial(router)
	if err != nil {
		return err
	}

	now := time.Now()
	if err := link.SetPeerDisabled(ctx, peer.RouterOSID, disable); err != nil {
		kind := store.ActionRouterEnableFail
		if disable {
			kind = store.ActionRouterDisableFail
		}
		if aerr := a.store.AppendAction(peer.ID, now, kind, err.Error()); aerr != nil {
			a.logger.Error("append failure action", "peer", peer.ID, "error", aerr)
		}
		return fmt.Errorf("enforce: manual set peer %d disabled=%v: %w", peerID, disable, err)
	}

	if err := a.store.SetPeerDisabled(peer.ID, disable); err != nil {
		return err
	}
	kind := store.ActionManualEnable
	if disable {
		kind = store.ActionManualDisable
	}
	return a.store.AppendAction(peer.ID, now, kind, "by operator")
}

// Reconcile re-evaluates one peer immediately, outside the scheduled
// tick. Called after a quota or window edit so the change takes effect
// without waiting a full poll interval.
func (a *Actuator) Reconcile(ctx context.Context, peerID int64) error {
	peer, err := a.store.GetPeer(peerID)
	if err != nil {
		return err
	}
	router, err := a.store.GetRouter(peer.RouterID)
	if err != nil {
		return err
	}
	q, err := a.store.GetQuota(peerID)
	if err != nil {
		return err
	}
	set, err := a.store.GetSettings()
	if err != nil {
		return err
	}

	now := time.Now()
	rx, tx, err := a.store.CurrentCycleUsage(peerID, now, set.MonthlyResetDay, set.Location())
	if err != nil {
		return err
	}
	lastKind, err := a.store.LastActionKind(peerID)
	if err != nil {
		return err
	}

	d := quota.Evaluate(q, rx+tx, lastKind, now)
	if d.Disable == peer.Disabled {
		return nil
	}
	link, err := a.dial(router)
	if err != nil {
		return err
	}
	return a.Apply(ctx, link, peer, d, now)
}
