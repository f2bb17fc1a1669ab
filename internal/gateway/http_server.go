package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/talon-ai/talon/internal/sessions"
)

// buildVersion is overridden at release build time via -ldflags.
var buildVersion = "dev"

// startHTTPServer brings up the C8 HTTP surface: JSON health/sessions
// endpoints, Prometheus metrics, and the /ws admin control plane. A zero
// HTTPPort disables the HTTP surface entirely (useful for tests driving the
// gateway purely through the agentic loop).
func (s *Server) startHTTPServer(ctx context.Context) error {
	if s == nil || s.config == nil || s.config.Server.HTTPPort == 0 {
		return nil
	}

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.HTTPPort)
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/sessions", s.requireAuth(s.handleSessionsList))
	mux.Handle("/ws", s.wsControl)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	s.httpServer = server
	s.httpListener = listener

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if s.logger != nil {
				s.logger.Error("http server error", "error", err)
			}
		}
	}()

	if s.logger != nil {
		s.logger.Info("starting http server", "addr", addr)
	}

	return nil
}

// stopHTTPServer gracefully shuts down the HTTP listener, waiting for
// in-flight requests to drain or ctx to expire, whichever comes first.
func (s *Server) stopHTTPServer(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return nil
	}
	shutdownCtx := ctx
	var cancel context.CancelFunc
	if shutdownCtx == nil {
		shutdownCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	err := s.httpServer.Shutdown(shutdownCtx)
	s.httpServer = nil
	s.httpListener = nil
	return err
}

// requireAuth wraps a handler so it rejects requests that fail auth.Service
// validation whenever auth is enabled. It mirrors the /ws control plane's own
// authenticateRequest so admin clients can use the same bearer token for
// both the HTTP and WebSocket surfaces.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.authService != nil && s.authService.Enabled() {
			if s.wsControl == nil || s.wsControl.authenticateRequest(r) == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

type healthStats struct {
	Sessions  int `json:"sessions"`
	WSClients int `json:"wsClients"`
}

type healthResponse struct {
	Status        string      `json:"status"`
	Version       string      `json:"version"`
	UptimeSeconds float64     `json:"uptimeSeconds"`
	Stats         healthStats `json:"stats"`
}

// handleHealth reports liveness, uptime, and coarse session/connection
// counts. It never fails: an unavailable session store is reported as zero
// sessions rather than a 5xx, since health checks must stay cheap and robust.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	sessionCount := 0
	if s.sessions != nil {
		if list, err := s.sessions.List(r.Context(), "", sessions.ListOptions{}); err == nil {
			sessionCount = len(list)
		}
	}

	resp := healthResponse{
		Status:        "ok",
		Version:       buildVersion,
		UptimeSeconds: time.Since(s.startTime).Seconds(),
		Stats: healthStats{
			Sessions:  sessionCount,
			WSClients: s.wsControl.clientCount(),
		},
	}

	data, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil && s.logger != nil {
		s.logger.Debug("health write failed", "error", err)
	}
}

type sessionSummary struct {
	ID           string `json:"id"`
	Channel      string `json:"channel"`
	State        string `json:"state"`
	MessageCount int    `json:"messageCount"`
}

// handleSessionsList returns a lightweight summary of every known session,
// suitable for an admin dashboard that shouldn't pull full message history.
func (s *Server) handleSessionsList(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if s.sessions == nil {
		http.Error(w, "session store unavailable", http.StatusServiceUnavailable)
		return
	}

	list, err := s.sessions.List(r.Context(), "", sessions.ListOptions{})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	summaries := make([]sessionSummary, 0, len(list))
	for _, session := range list {
		messageCount := 0
		if history, err := s.sessions.GetHistory(r.Context(), session.ID, 0); err == nil {
			messageCount = len(history)
		}
		summaries = append(summaries, sessionSummary{
			ID:           session.ID,
			Channel:      string(session.Channel),
			State:        "active",
			MessageCount: messageCount,
		})
	}

	data, err := json.Marshal(map[string]any{"sessions": summaries})
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil && s.logger != nil {
		s.logger.Debug("sessions write failed", "error", err)
	}
}
