package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/blikh/mikrotik-wg-meter/internal/store"
)

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var peerID int64
	if v := r.URL.Query().Get("peer_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid peer_id"})
			return
		}
		peerID = id
	}
	limit := queryInt(r, "limit", 50)
	offset := 0
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	actions, err := s.store.ListActions(peerID, limit, offset)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if actions == nil {
		actions = []store.Action{}
	}
	writeJSON(w, http.StatusOK, actions)
}

type peerSummary struct {
	PeerID     int64  `json:"peer_id"`
	Name       string `json:"name"`
	CycleRx    int64  `json:"cycle_rx"`
	CycleTx    int64  `json:"cycle_tx"`
	LimitBytes int64  `json:"limit_bytes"`
	Disabled   bool   `json:"disabled"`
}

// handleSummary reports the current billing cycle across all peers.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
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

	now := time.Now()
	loc := set.Location()
	cycleStart := store.CycleStart(now, set.MonthlyResetDay, loc)

	out := make([]peerSummary, 0, len(peers))
	var totalRx, totalTx int64
	for _, p := range peers {
		rx, tx, err := s.store.CurrentCycleUsage(p.ID, now, set.MonthlyResetDay, loc)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		q, err := s.store.GetQuota(p.ID)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		totalRx += rx
		totalTx += tx
		out = append(out, peerSummary{
			PeerID:     p.ID,
			Name:       p.Name,
			CycleRx:    rx,
			CycleTx:    tx,
			LimitBytes: q.MonthlyLimitBytes,
			Disabled:   p.Disabled,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cycle_start": cycleStart.Format("2006-01-02"),
		"total_rx":    totalRx,
		"total_tx":    totalTx,
		"peers":       out,
	})
}
