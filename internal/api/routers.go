package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/blikh/mikrotik-wg-meter/internal/routeros"
	"github.com/blikh/mikrotik-wg-meter/internal/store"
)

type routerRequest struct {
	Name      string `json:"name"`
	Host      string `json:"host"`
	Proto     string `json:"proto"`
	Port      int    `json:"port"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	TLSVerify bool   `json:"tls_verify"`
}

func (rr routerRequest) toRouter(id int64) (store.Router, error) {
	if rr.Host == "" {
		return store.Router{}, errors.New("host is required")
	}
	if rr.Proto == "" {
		rr.Proto = "rest"
	}
	switch rr.Proto {
	case "rest", "rest-http", "api", "api-plain":
	default:
		return store.Router{}, errors.New("unknown proto " + rr.Proto)
	}
	if rr.Name == "" {
		rr.Name = rr.Host
	}
	return store.Router{
		ID: id, Name: rr.Name, Host: rr.Host, Proto: rr.Proto, Port: rr.Port,
		Username: rr.Username, Password: rr.Password, TLSVerify: rr.TLSVerify,
	}, nil
}

func (s *Server) handleRouters(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		routers, err := s.store.ListRouters()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, routers)
	case http.MethodPost:
		var req routerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		router, err := req.toRouter(0)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		id, err := s.store.CreateRouter(router)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		router.ID = id
		writeJSON(w, http.StatusCreated, router)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleRouterRoute dispatches /api/routers/<id>[/test|/interfaces|/peers|/import].
func (s *Server) handleRouterRoute(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/routers/")
	idStr, sub, _ := strings.Cut(rest, "/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid router id"})
		return
	}

	switch sub {
	case "":
		s.handleRouter(w, r, id)
	case "test":
		s.handleRouterTest(w, r, id)
	case "interfaces":
		s.handleRouterInterfaces(w, r, id)
	case "peers":
		s.handleRouterLivePeers(w, r, id)
	case "import":
		s.handleRouterImport(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleRouter(w http.ResponseWriter, r *http.Request, id int64) {
	switch r.Method {
	case http.MethodGet:
		router, err := s.store.GetRouter(id)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, router)
	case http.MethodPut:
		var req routerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		router, err := req.toRouter(id)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		if err := s.store.UpdateRouter(router); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, router)
	case http.MethodDelete:
		if err := s.store.DeleteRouter(id); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleRouterTest opens a connection and lists interfaces, surfacing
// the error taxonomy (unreachable, auth failed, protocol error) to the
// operator synchronously.
func (s *Server) handleRouterTest(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	link, router, err := s.linkFor(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	ctx, cancel := contextWithTimeout(r)
	defer cancel()

	ifaces, err := link.ListInterfaces(ctx)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":    false,
			"error": err.Error(),
			"kind":  errorKind(err),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"router":     router.Name,
		"interfaces": len(ifaces),
	})
}

func (s *Server) handleRouterInterfaces(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	link, _, err := s.linkFor(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	ctx, cancel := contextWithTimeout(r)
	defer cancel()

	ifaces, err := link.ListInterfaces(ctx)
	if err != nil {
		writeRouterError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ifaces)
}

type livePeer struct {
	routeros.PeerSnapshot
	Online   bool   `json:"online"`
	Country  string `json:"country,omitempty"`
	Imported bool   `json:"imported"`
	PeerID   int64  `json:"peer_id,omitempty"`
}

// handleRouterLivePeers lists the router's peers as the router sees
// them right now, annotated with online state, endpoint country and
// whether each peer is already imported.
func (s *Server) handleRouterLivePeers(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	link, _, err := s.linkFor(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	set, err := s.store.GetSettings()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	imported, err := s.importedByKey(id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	ctx, cancel := contextWithTimeout(r)
	defer cancel()

	snaps, err := link.ListPeers(ctx, r.URL.Query().Get("interface"))
	if err != nil {
		writeRouterError(w, err)
		return
	}

	out := make([]livePeer, 0, len(snaps))
	for _, snap := range snaps {
		lp := livePeer{
			PeerSnapshot: snap,
			Online:       snap.HandshakeAge > 0 && snap.HandshakeAge <= int64(set.OnlineThresholdSec),
			Country:      s.geo.Country(snap.Endpoint),
		}
		if p, ok := imported[snap.PublicKey]; ok {
			lp.Imported = true
			lp.PeerID = p.ID
		}
		out = append(out, lp)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleRouterImport imports the requested public keys for accounting.
func (s *Server) handleRouterImport(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		PublicKeys []string `json:"public_keys"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.PublicKeys) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "public_keys is required"})
		return
	}

	link, _, err := s.linkFor(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	ctx, cancel := contextWithTimeout(r)
	defer cancel()

	snaps, err := link.ListPeers(ctx, "")
	if err != nil {
		writeRouterError(w, err)
		return
	}
	byKey := make(map[string]routeros.PeerSnapshot, len(snaps))
	for _, snap := range snaps {
		byKey[snap.PublicKey] = snap
	}

	now := time.Now()
	imported := make([]int64, 0, len(req.PublicKeys))
	for _, key := range req.PublicKeys {
		snap, ok := byKey[key]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "peer not on router: " + key})
			return
		}
		peerID, err := s.store.ImportPeer(store.Peer{
			RouterID:        id,
			Interface:       snap.Interface,
			Name:            snap.Name,
			PublicKey:       snap.PublicKey,
			AllowedAddress:  snap.AllowedAddress,
			RouterOSID:      snap.ID,
			Selected:        true,
			Disabled:        snap.Disabled,
			Endpoint:        snap.Endpoint,
			HandshakeAgeSec: snap.HandshakeAge,
			LastSeenUnix:    now.Unix(),
		})
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		imported = append(imported, peerID)
	}
	writeJSON(w, http.StatusOK, map[string]any{"imported": imported})
}

func (s *Server) linkFor(routerID int64) (routeros.Client, store.Router, error) {
	router, err := s.store.GetRouter(routerID)
	if err != nil {
		return nil, store.Router{}, err
	}
	link, err := s.dial(router)
	if err != nil {
		return nil, store.Router{}, err
	}
	return link, router, nil
}

func (s *Server) importedByKey(routerID int64) (map[string]store.Peer, error) {
	peers, err := s.store.ListPeers()
	if err != nil {
		return nil, err
	}
	out := make(map[string]store.Peer)
	for _, p := range peers {
		if p.RouterID == routerID {
			out[p.PublicKey] = p
		}
	}
	return out, nil
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, routeros.ErrAuthFailed):
		return "auth_failed"
	case errors.Is(err, routeros.ErrProtocol):
		return "protocol_error"
	default:
		return "unreachable"
	}
}

func writeRouterError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeStoreError(w, err)
		return
	}
	status := http.StatusBadGateway
	if errors.Is(err, routeros.ErrAuthFailed) {
		status = http.StatusUnauthorized
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "kind": errorKind(err)})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}
