// Package api exposes the dashboard JSON API: router and peer
// management, usage queries, quota edits and the enforcement action
// log.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/blikh/mikrotik-wg-meter/internal/enforce"
	"github.com/blikh/mikrotik-wg-meter/internal/geoip"
	"github.com/blikh/mikrotik-wg-meter/internal/store"
	"github.com/blikh/mikrotik-wg-meter/internal/tracker"
)

// Server serves the JSON API.
type Server struct {
	store   *store.Store
	tracker *tracker.Tracker
	act     *enforce.Actuator
	dial    enforce.RouterDialer
	geo     *geoip.Resolver
	listen  string
	logger  *slog.Logger
}

func New(
	st *store.Store,
	tr *tracker.Tracker,
	act *enforce.Actuator,
	dial enforce.RouterDialer,
	geo *geoip.Resolver,
	listen string,
	logger *slog.Logger,
) *Server {
	return &Server{
		store:   st,
		tracker: tr,
		act:     act,
		dial:    dial,
		geo:     geo,
		listen:  listen,
		logger:  logger,
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("api: listen %s: %w", s.listen, err)
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	s.logger.Info("api server started", "listen", s.listen)
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: serve: %w", err)
	}
	return nil
}

// Handler builds the route table. Exposed separately so tests can mount
// it on httptest servers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/settings", s.handleSettings)
	mux.HandleFunc("/api/routers", s.handleRouters)
	mux.HandleFunc("/api/routers/", s.handleRouterRoute)
	mux.HandleFunc("/api/peers", s.handleListPeers)
	mux.HandleFunc("/api/peers/", s.handlePeerRoute)
	mux.HandleFunc("/api/actions", s.handleActions)
	mux.HandleFunc("/api/summary", s.handleSummary)
	return mux
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		set, err := s.store.GetSettings()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, set)
	case http.MethodPut:
		var set store.Settings
		if err := json.NewDecoder(r.Body).Decode(&set); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		if err := s.store.PutSettings(set); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, set)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// contextWithTimeout bounds a router call made on behalf of an API
// request, so a dead router cannot hold the HTTP worker.
func contextWithTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), 15*time.Second)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
