package enforce

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/blikh/mikrotik-wg-meter/internal/quota"
	"github.com/blikh/mikrotik-wg-meter/internal/routeros"
	"github.com/blikh/mikrotik-wg-meter/internal/secrets"
	"github.com/blikh/mikrotik-wg-meter/internal/store"
)

// fakeLink counts SetPeerDisabled calls and can be told to fail.
type fakeLink struct {
	setCalls int
	lastID   string
	lastSet  bool
	fail     error
}

func (f *fakeLink) ListInterfaces(ctx context.Context) ([]routeros.InterfaceInfo, error) {
	return nil, nil
}

func (f *fakeLink) ListPeers(ctx context.Context, iface string) ([]routeros.PeerSnapshot, error) {
	return nil, nil
}

func (f *fakeLink) SetPeerDisabled(ctx context.Context, id string, disabled bool) error {
	f.setCalls++
	f.lastID = id
	f.lastSet = disabled
	return f.fail
}

func testSetup(t *testing.T) (*store.Store, *Actuator, *fakeLink, int64) {
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
		RouterOSID: "*7", Selected: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	link := &fakeLink{}
	act := New(st, func(store.Router) (routeros.Client, error) { return link, nil }, logger)
	return st, act, link, peerID
}

func TestApplyNoopWhenStateMatches(t *testing.T) {
	st, act, link, peerID := testSetup(t)
	peer, _ := st.GetPeer(peerID)

	d := quota.Decision{Disable: false, Kind: store.ActionQuotaEnable}
	if err := act.Apply(context.Background(), link, peer, d, time.Now()); err != nil {
		t.Fatal(err)
	}
	if link.setCalls != 0 {
		t.Fatalf("router called %d times for a no-op", link.setCalls)
	}
	actions, _ := st.ListActions(peerID, 10, 0)
	if len(actions) != 0 {
		t.Fatalf("no-op wrote actions: %+v", actions)
	}
}

func TestApplyDisableTransition(t *testing.T) {
	st, act, link, peerID := testSetup(t)
	peer, _ := st.GetPeer(peerID)

	d := quota.Decision{Disable: true, Kind: store.ActionQuotaDisable, Note: "quota exceeded: 1.1GB/1.0GB"}
	if err := act.Apply(context.Background(), link, peer, d, time.Now()); err != nil {
		t.Fatal(err)
	}
	if link.setCalls != 1 || !link.lastSet || link.lastID != "*7" {
		t.Fatalf("router call: calls=%d id=%s set=%v", link.setCalls, link.lastID, link.lastSet)
	}

	got, _ := st.GetPeer(peerID)
	if !got.Disabled {
		t.Fatal("stored state not flipped")
	}
	actions, _ := st.ListActions(peerID, 10, 0)
	if len(actions) != 1 || actions[0].Kind != store.ActionQuotaDisable {
		t.Fatalf("actions: %+v", actions)
	}
	if actions[0].Note != "quota exceeded: 1.1GB/1.0GB" {
		t.Fatalf("note: %q", actions[0].Note)
	}
}

func TestApplyRouterFailureKeepsState(t *testing.T) {
	st, act, link, peerID := testSetup(t)
	peer, _ := st.GetPeer(peerID)
	link.fail = routeros.ErrUnreachable

	d := quota.Decision{Disable: true, Kind: store.ActionQuotaDisable}
	err := act.Apply(context.Background(), link, peer, d, time.Now())
	if !errors.Is(err, routeros.ErrUnreachable) {
		t.Fatalf("got %v, want ErrUnreachable", err)
	}

	got, _ := st.GetPeer(peerID)
	if got.Disabled {
		t.Fatal("state changed despite router failure")
	}
	actions, _ := st.ListActions(peerID, 10, 0)
	if len(actions) != 1 || actions[0].Kind != store.ActionRouterDisableFail {
		t.Fatalf("actions: %+v", actions)
	}
}

func TestManualDisableThenPolicyKeepsIt(t *testing.T) {
	st, act, link, peerID := testSetup(t)

	if err := act.Manual(context.Background(), peerID, true); err != nil {
		t.Fatal(err)
	}
	if link.setCalls != 1 {
		t.Fatalf("router calls: %d", link.setCalls)
	}
	kind, _ := st.LastActionKind(peerID)
	if kind != store.ActionManualDisable {
		t.Fatalf("last kind: %s", kind)
	}

	// A reconcile with a fully permissive policy must not re-enable.
	if err := act.Reconcile(context.Background(), peerID); err != nil {
		t.Fatal(err)
	}
	got, _ := st.GetPeer(peerID)
	if !got.Disabled {
		t.Fatal("policy re-enabled a manually disabled peer")
	}
	if link.setCalls != 1 {
		t.Fatalf("reconcile touched the router: %d calls", link.setCalls)
	}
}

func TestReconcileAppliesWindowEdit(t *testing.T) {
	st, act, link, peerID := testSetup(t)

	// Expire the peer's window, then reconcile.
	q := store.Quota{PeerID: peerID, ValidUntilUnix: time.Now().Add(-time.Hour).Unix()}
	if err := st.SetQuota(q); err != nil {
		t.Fatal(err)
	}
	if err := act.Reconcile(context.Background(), peerID); err != nil {
		t.Fatal(err)
	}
	got, _ := st.GetPeer(peerID)
	if !got.Disabled {
		t.Fatal("expired window not enforced")
	}
	if link.setCalls != 1 {
		t.Fatalf("router calls: %d", link.setCalls)
	}
	actions, _ := st.ListActions(peerID, 10, 0)
	if len(actions) != 1 || actions[0].Kind != store.ActionWindowDisable {
		t.Fatalf("actions: %+v", actions)
	}

	// Reconcile again: already in the desired state, no router call.
	if err := act.Reconcile(context.Background(), peerID); err != nil {
		t.Fatal(err)
	}
	if link.setCalls != 1 {
		t.Fatalf("redundant router call on reconcile: %d", link.setCalls)
	}
}
