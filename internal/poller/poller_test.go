package poller

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/blikh/mikrotik-wg-meter/internal/enforce"
	"github.com/blikh/mikrotik-wg-meter/internal/routeros"
	"github.com/blikh/mikrotik-wg-meter/internal/secrets"
	"github.com/blikh/mikrotik-wg-meter/internal/store"
	"github.com/blikh/mikrotik-wg-meter/internal/tracker"
)

// fakeLink serves canned peer snapshots and counts calls.
type fakeLink struct {
	mu        sync.Mutex
	snaps     []routeros.PeerSnapshot
	listErr   error
	listCalls int
	setCalls  int
	block     chan struct{} // when set, ListPeers waits for a signal
}

func (f *fakeLink) ListInterfaces(ctx context.Context) ([]routeros.InterfaceInfo, error) {
	return nil, nil
}

func (f *fakeLink) ListPeers(ctx context.Context, iface string) ([]routeros.PeerSnapshot, error) {
	f.mu.Lock()
	f.listCalls++
	block := f.block
	err := f.listErr
	snaps := append([]routeros.PeerSnapshot(nil), f.snaps...)
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, routeros.ErrUnreachable
		}
	}
	if err != nil {
		return nil, err
	}
	return snaps, nil
}

func (f *fakeLink) SetPeerDisabled(ctx context.Context, id string, disabled bool) error {
	f.mu.Lock()
	f.setCalls++
	f.mu.Unlock()
	return nil
}

func (f *fakeLink) setSnaps(snaps []routeros.PeerSnapshot) {
	f.mu.Lock()
	f.snaps = snaps
	f.mu.Unlock()
}

type testEnv struct {
	store  *store.Store
	poller *Poller
	link   *fakeLink
	peerID int64
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	st, err := store.Open(filepath.Join(t.TempDir(), "test.sqlite"), secrets.NewBox("pass"), logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	routerID, err := st.CreateRouter(store.Router{Name: "mik", Host: "h", Password: "pw"})
	if err != nil {
		t.Fatal(err)
	}
	peerID, err := st.ImportPeer(store.Peer{
		RouterID: routerID, Interface: "wg0", PublicKey: "pk1",
		RouterOSID: "*1", Selected: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	link := &fakeLink{}
	dial := func(store.Router) (routeros.Client, error) { return link, nil }
	tr := tracker.New()
	act := enforce.New(st, dial, logger)
	return &testEnv{
		store:  st,
		poller: New(st, tr, act, dial, logger),
		link:   link,
		peerID: peerID,
	}
}

func (e *testEnv) tick(t *testing.T) {
	t.Helper()
	set, err := e.store.GetSettings()
	if err != nil {
		t.Fatal(err)
	}
	e.poller.Tick(context.Background(), set)
}

func TestTickRecordsDeltas(t *testing.T) {
	e := setup(t)

	e.link.setSnaps([]routeros.PeerSnapshot{
		{ID: "*1", PublicKey: "pk1", RxBytes: 1000, TxBytes: 500, Endpoint: "1.2.3.4:51820", HandshakeAge: 10},
	})
	e.tick(t) // baseline tick, delta 0

	e.link.setSnaps([]routeros.PeerSnapshot{
		{ID: "*1", PublicKey: "pk1", RxBytes: 1500, TxBytes: 700, Endpoint: "1.2.3.4:51820", HandshakeAge: 5},
	})
	e.tick(t)

	rx, tx, err := e.store.CurrentCycleUsage(e.peerID, time.Now(), 1, time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	if rx != 500 || tx != 200 {
		t.Fatalf("cycle usage: rx=%d tx=%d, want 500/200", rx, tx)
	}

	peer, err := e.store.GetPeer(e.peerID)
	if err != nil {
		t.Fatal(err)
	}
	if peer.Endpoint != "1.2.3.4:51820" || peer.HandshakeAgeSec != 5 {
		t.Fatalf("live fields: %+v", peer)
	}
}

func TestTickCounterReset(t *testing.T) {
	e := setup(t)

	e.link.setSnaps([]routeros.PeerSnapshot{{ID: "*1", PublicKey: "pk1", RxBytes: 5_000_000, TxBytes: 0}})
	e.tick(t)
	e.link.setSnaps([]routeros.PeerSnapshot{{ID: "*1", PublicKey: "pk1", RxBytes: 1_000, TxBytes: 0}})
	e.tick(t)

	rx, _, err := e.store.CurrentCycleUsage(e.peerID, time.Now(), 1, time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	if rx != 1_000 {
		t.Fatalf("rx after reset: got %d, want 1000", rx)
	}
}

func TestUnreachableRouterWritesNothing(t *testing.T) {
	e := setup(t)
	e.link.listErr = routeros.ErrUnreachable

	for i := 0; i < 3; i++ {
		e.tick(t)
	}

	rx, tx, err := e.store.CurrentCycleUsage(e.peerID, time.Now(), 1, time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	if rx != 0 || tx != 0 {
		t.Fatalf("samples written for unreachable router: rx=%d tx=%d", rx, tx)
	}
	actions, err := e.store.ListActions(e.peerID, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(actions) != 0 {
		t.Fatalf("actions written for unreachable router: %+v", actions)
	}
	peer, err := e.store.GetPeer(e.peerID)
	if err != nil {
		t.Fatal(err)
	}
	if peer.LastSeenUnix != 0 {
		t.Fatal("live fields updated for unreachable router")
	}
	router, err := e.store.GetRouter(peer.RouterID)
	if err != nil {
		t.Fatal(err)
	}
	if router.LastPollUnix != 0 {
		t.Fatal("last poll time advanced for unreachable router")
	}
}

func TestQuotaEnforcedDuringTick(t *testing.T) {
	e := setup(t)
	if err := e.store.SetQuota(store.Quota{PeerID: e.peerID, MonthlyLimitBytes: 1000}); err != nil {
		t.Fatal(err)
	}

	e.link.setSnaps([]routeros.PeerSnapshot{{ID: "*1", PublicKey: "pk1", RxBytes: 0, TxBytes: 0}})
	e.tick(t) // baseline
	e.link.setSnaps([]routeros.PeerSnapshot{{ID: "*1", PublicKey: "pk1", RxBytes: 900, TxBytes: 600}})
	e.tick(t) // 1500 bytes used, over the 1000 limit

	peer, err := e.store.GetPeer(e.peerID)
	if err != nil {
		t.Fatal(err)
	}
	if !peer.Disabled {
		t.Fatal("over-quota peer not disabled")
	}
	if e.link.setCalls != 1 {
		t.Fatalf("SetPeerDisabled calls: %d, want 1", e.link.setCalls)
	}
	actions, err := e.store.ListActions(e.peerID, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(actions) != 1 || actions[0].Kind != store.ActionQuotaDisable {
		t.Fatalf("actions: %+v", actions)
	}

	// Next tick: state already matches, no further router calls.
	e.link.setSnaps([]routeros.PeerSnapshot{{ID: "*1", PublicKey: "pk1", RxBytes: 900, TxBytes: 600, Disabled: true}})
	e.tick(t)
	if e.link.setCalls != 1 {
		t.Fatalf("redundant SetPeerDisabled: %d calls", e.link.setCalls)
	}
}

func TestOverlappingTickSkipped(t *testing.T) {
	e := setup(t)
	block := make(chan struct{})
	e.link.mu.Lock()
	e.link.block = block
	e.link.snaps = []routeros.PeerSnapshot{{ID: "*1", PublicKey: "pk1"}}
	e.link.mu.Unlock()

	set, err := e.store.GetSettings()
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		e.poller.Tick(context.Background(), set)
		close(done)
	}()

	// Wait until the first tick is inside ListPeers, then tick again.
	deadline := time.After(2 * time.Second)
	for {
		e.link.mu.Lock()
		calls := e.link.listCalls
		e.link.mu.Unlock()
		if calls == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first tick never reached ListPeers")
		case <-time.After(5 * time.Millisecond):
		}
	}

	e.poller.Tick(context.Background(), set) // must skip, not queue
	e.link.mu.Lock()
	calls := e.link.listCalls
	e.link.mu.Unlock()
	if calls != 1 {
		t.Fatalf("overlapping tick polled the router: %d calls", calls)
	}

	close(block)
	<-done
}

func TestUnselectedPeerIgnored(t *testing.T) {
	e := setup(t)
	if err := e.store.SetPeerSelected(e.peerID, false); err != nil {
		t.Fatal(err)
	}
	e.link.setSnaps([]routeros.PeerSnapshot{{ID: "*1", PublicKey: "pk1", RxBytes: 100}})
	e.tick(t)

	if e.link.listCalls != 0 {
		t.Fatalf("router with no selected peers polled: %d calls", e.link.listCalls)
	}
}
