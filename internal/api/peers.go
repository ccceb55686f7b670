package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/blikh/mikrotik-wg-meter/internal/store"
)

type peerView struct {
	store.Peer
	Online       bool   `json:"online"`
	Country      string `json:"country,omitempty"`
	CycleRx      int64  `json:"cycle_rx"`
	CycleTx      int64  `json:"cycle_tx"`
	LimitBytes   int64  `json:"limit_bytes"`
	LastPollUnix int64  `json:"router_last_poll_unix"`
}

func (s *Server) peerView(p store.Peer, set store.Settings, routerPoll map[int64]int64, now time.Time) (peerView, error) {
	rx, tx, err := s.store.CurrentCycleUsage(p.ID, now, set.MonthlyResetDay, set.Location())
	if err != nil {
		return peerView{}, err
	}
	q, err := s.store.GetQuota(p.ID)
	if err != nil {
		return peerView{}, err
	}
	return peerView{
		Peer:         p,
		Online:       p.HandshakeAgeSec > 0 && p.HandshakeAgeSec <= int64(set.OnlineThresholdSec),
		Country:      s.geo.Country(p.Endpoint),
		CycleRx:      rx,
		CycleTx:      tx,
		LimitBytes:   q.MonthlyLimitBytes,
		LastPollUnix: routerPoll[p.RouterID],
	}, nil
}

func (s *Server) handleListPeers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	peers, err := s.store.ListPeers()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	set, err := s.store.GetSettings()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	routers, err := s.store.ListRouters()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	routerPoll := make(map[int64]int64, len(routers))
	for _, router := range routers {
		routerPoll[router.ID] = router.LastPollUnix
	}

	now := time.Now()
	out := make([]peerView, 0, len(peers))
	for _, p := range peers {
		v, err := s.peerView(p, set, routerPoll, now)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

// handlePeerRoute dispatches
// /api/peers/<id>[/quota|/usage/...|/reset|/reconcile].
func (s *Server) handlePeerRoute(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/peers/")
	idStr, sub, _ := strings.Cut(rest, "/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid peer id"})
		return
	}

	switch {
	case sub == "":
		s.handlePeer(w, r, id)
	case sub == "quota":
		s.handlePeerQuota(w, r, id)
	case strings.HasPrefix(sub, "usage/"):
		s.handlePeerUsage(w, r, id, strings.TrimPrefix(sub, "usage/"))
	case sub == "reset":
		s.handlePeerReset(w, r, id)
	case sub == "reconcile":
		s.handlePeerReconcile(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handlePeer(w http.ResponseWriter, r *http.Request, id int64) {
	switch r.Method {
	case http.MethodGet:
		p, err := s.store.GetPeer(id)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		set, err := s.store.GetSettings()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		router, err := s.store.GetRouter(p.RouterID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		v, err := s.peerView(p, set, map[int64]int64{router.ID: router.LastPollUnix}, time.Now())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, v)
	case http.MethodPatch:
		s.handlePeerPatch(w, r, id)
	case http.MethodDelete:
		if _, err := s.store.GetPeer(id); err != nil {
			writeStoreError(w, err)
			return
		}
		if err := s.store.DeletePeer(id); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		s.tracker.Forget(id)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handlePeerPatch updates name and selection directly; a disabled edit
// is a manual enforcement action and goes through the actuator so the
// router is told and the audit trail records manual_{disable,enable}.
func (s *Server) handlePeerPatch(w http.ResponseWriter, r *http.Request, id int64) {
	var req struct {
		Name     *string `json:"name"`
		Selected *bool   `json:"selected"`
		Disabled *bool   `json:"disabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if _, err := s.store.GetPeer(id); err != nil {
		writeStoreError(w, err)
		return
	}

	if req.Name != nil {
		if err := s.store.RenamePeer(id, *req.Name); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
	}
	if req.Selected != nil {
		if err := s.store.SetPeerSelected(id, *req.Selected); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
	}
	if req.Disabled != nil {
		ctx, cancel := contextWithTimeout(r)
		defer cancel()
		if err := s.act.Manual(ctx, id, *req.Disabled); err != nil {
			writeRouterError(w, err)
			return
		}
	}

	p, err := s.store.GetPeer(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handlePeerQuota reads or replaces the peer's policy. A successful
// edit reconciles immediately so it does not wait for the next tick;
// a reconcile failure is reported but the edit stays.
func (s *Server) handlePeerQuota(w http.ResponseWriter, r *http.Request, id int64) {
	switch r.Method {
	case http.MethodGet:
		q, err := s.store.GetQuota(id)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, q)
	case http.MethodPut:
		if _, err := s.store.GetPeer(id); err != nil {
			writeStoreError(w, err)
			return
		}
		var q store.Quota
		if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		if q.MonthlyLimitBytes < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "monthly_limit_bytes must not be negative"})
			return
		}
		q.PeerID = id
		if err := s.store.SetQuota(q); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}

		ctx, cancel := contextWithTimeout(r)
		defer cancel()
		if err := s.act.Reconcile(ctx, id); err != nil {
			s.logger.Warn("reconcile after quota edit failed", "peer", id, "error", err)
			writeJSON(w, http.StatusOK, map[string]any{"quota": q, "reconcile_error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"quota": q})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handlePeerUsage(w http.ResponseWriter, r *http.Request, id int64, kind string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	switch kind {
	case "daily":
		days := queryInt(r, "days", 30)
		out, err := s.store.QueryDaily(id, days)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, out)
	case "monthly":
		months := queryInt(r, "months", 12)
		out, err := s.store.QueryMonthly(id, months)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, out)
	case "raw":
		window := time.Duration(queryInt(r, "window_sec", 3600)) * time.Second
		bucket := time.Duration(queryInt(r, "bucket_sec", 60)) * time.Second
		out, err := s.store.QueryRaw(id, window, bucket)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, out)
	default:
		http.NotFound(w, r)
	}
}

// handlePeerReset wipes the peer's usage history and drops its counter
// baseline so the next poll re-baselines with a zero delta.
func (s *Server) handlePeerReset(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, err := s.store.GetPeer(id); err != nil {
		writeStoreError(w, err)
		return
	}
	if err := s.store.ResetPeerMetrics(id); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.tracker.Forget(id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePeerReconcile(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := contextWithTimeout(r)
	defer cancel()
	if err := s.act.Reconcile(ctx, id); err != nil {
		writeRouterError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
