package routeros

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
)

// restTestClient points a rest-http client at an httptest server.
func restTestClient(t *testing.T, handler http.Handler) *restClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(u.Port())
	return newRESTClient(Profile{
		Host:     u.Hostname(),
		Port:     port,
		Username: "admin",
		Password: "pw",
	}, false, false)
}

func TestRESTListPeers(t *testing.T) {
	c := restTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/interface/wireguard/peers" {
			t.Errorf("path: %s", r.URL.Path)
		}
		if user, pass, ok := r.BasicAuth(); !ok || user != "admin" || pass != "pw" {
			t.Error("missing basic auth")
		}
		json.NewEncoder(w).Encode([]map[string]string{
			{".id": "*1", "interface": "wgmik", "public-key": "pk1", "rx": "100", "tx": "200", "disabled": "false", "last-handshake": "30s"},
			{".id": "*2", "interface": "other", "public-key": "pk2", "rx": "1", "tx": "1"},
		})
	}))

	peers, err := c.ListPeers(context.Background(), "wgmik")
	if err != nil {
		t.Fatalf("ListPeers: %v", err)
	}
	if len(peers) != 1 {
		t.Fatalf("got %d peers, want 1 (interface filter)", len(peers))
	}
	p := peers[0]
	if p.ID != "*1" || p.RxBytes != 100 || p.TxBytes != 200 || p.HandshakeAge != 30 {
		t.Fatalf("peer: %+v", p)
	}
}

func TestRESTSetPeerDisabled(t *testing.T) {
	var got map[string]string
	c := restTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/rest/interface/wireguard/peers/set" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte("[]"))
	}))

	if err := c.SetPeerDisabled(context.Background(), "*8", true); err != nil {
		t.Fatalf("SetPeerDisabled: %v", err)
	}
	if got["numbers"] != "*8" || got["disabled"] != "yes" {
		t.Fatalf("payload: %v", got)
	}
}

func TestRESTAuthFailed(t *testing.T) {
	c := restTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	_, err := c.ListPeers(context.Background(), "")
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("got %v, want ErrAuthFailed", err)
	}
}

func TestRESTProtocolError(t *testing.T) {
	c := restTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	_, err := c.ListPeers(context.Background(), "")
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("got %v, want ErrProtocol", err)
	}
}

func TestRESTUnreachable(t *testing.T) {
	// Closed port: connection refused maps to ErrUnreachable.
	srv := httptest.NewServer(http.NotFoundHandler())
	u, _ := url.Parse(srv.URL)
	srv.Close()

	port, _ := strconv.Atoi(u.Port())
	c := newRESTClient(Profile{Host: u.Hostname(), Port: port}, false, false)
	_, err := c.ListPeers(context.Background(), "")
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("got %v, want ErrUnreachable", err)
	}
}
