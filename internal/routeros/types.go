// Package routeros talks to MikroTik RouterOS devices over the REST API or
// the binary API sentence protocol, normalized behind a single Client
// capability. The rest of the daemon never branches on the transport.
package routeros

import (
	"context"
	"errors"
	"fmt"
)

// Error taxonomy. Adapters wrap every failure in exactly one of these so the
// poller and the API layer can classify without knowing the transport.
var (
	// ErrUnreachable covers network failures and timeouts. Retried next tick.
	ErrUnreachable = errors.New("router unreachable")
	// ErrAuthFailed covers rejected credentials.
	ErrAuthFailed = errors.New("router authentication failed")
	// ErrProtocol covers malformed or unexpected responses.
	ErrProtocol = errors.New("router protocol error")
)

// PeerSnapshot is one WireGuard peer as reported by the router, with live
// cumulative counters.
type PeerSnapshot struct {
	ID             string // RouterOS internal .id
	Interface      string
	Name           string
	PublicKey      string
	AllowedAddress string
	Disabled       bool
	RxBytes        int64
	TxBytes        int64
	// HandshakeAge is seconds since the last handshake, 0 when the peer has
	// never completed one.
	HandshakeAge int64
	Endpoint     string
}

// InterfaceInfo describes a WireGuard interface on the router.
type InterfaceInfo struct {
	Name       string
	PublicKey  string
	ListenPort int
}

// Client is the capability every router adapter must provide. All calls are
// bounded by the context deadline.
type Client interface {
	ListInterfaces(ctx context.Context) ([]InterfaceInfo, error)
	ListPeers(ctx context.Context, iface string) ([]PeerSnapshot, error)
	// SetPeerDisabled is idempotent: setting the current state is a no-op
	// success on the router side.
	SetPeerDisabled(ctx context.Context, id string, disabled bool) error
}

// Profile holds the connection parameters for one router. The password is
// already decrypted by the caller.
type Profile struct {
	Host      string
	Proto     string // rest | rest-http | api | api-plain
	Port      int
	Username  string
	Password  string
	TLSVerify bool
}

// NewClient selects an adapter from the profile's proto. The choice happens
// once at construction; callers only see the Client capability.
func NewClient(p Profile) (Client, error) {
	switch p.Proto {
	case "rest":
		if p.Port == 0 {
			p.Port = 443
		}
		return newRESTClient(p, true, true), nil
	case "rest-http":
		if p.Port == 0 {
			p.Port = 80
		}
		return newRESTClient(p, false, false), nil
	case "api":
		if p.Port == 0 {
			p.Port = 8729
		}
		return newAPIClient(p, true), nil
	case "api-plain":
		if p.Port == 0 {
			p.Port = 8728
		}
		return newAPIClient(p, false), nil
	default:
		return nil, fmt.Errorf("routeros: unknown proto %q", p.Proto)
	}
}
