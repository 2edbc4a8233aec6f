// Package http exposes the hub's read and control surface: health and metrics
// endpoints, current-state queries, a server-sent-events change stream, and
// the override/dismiss controls.
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/seismic-feed-hub/internal/domain"
	"github.com/couchcryptid/seismic-feed-hub/internal/engine"
)

// Hub is the engine surface the server needs.
type Hub interface {
	CheckReadiness(ctx context.Context) error
	Display() domain.DisplayRecord
	Stations() []domain.StationReading
	ConnectionStatus() map[domain.SourceID]domain.ConnectionState
	Alert(ctx context.Context) (*domain.EewAlert, error)
	Events(ctx context.Context) ([]domain.QuakeEvent, error)
	Select(ctx context.Context, q domain.QuakeEvent) error
	Dismiss(ctx context.Context) error
	Subscribe() <-chan engine.Change
	Unsubscribe(ch <-chan engine.Change)
}

// Server exposes the hub over HTTP.
type Server struct {
	httpServer *http.Server
	hub        Hub
	logger     *slog.Logger
}

// NewServer creates the HTTP server with all hub routes.
func NewServer(addr string, hub Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:        addr,
			Handler:     mux,
			ReadTimeout: 10 * time.Second,
			// No WriteTimeout: /api/events holds its response open.
			IdleTimeout: 60 * time.Second,
		},
		hub:    hub,
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/current", s.handleCurrent)
	mux.HandleFunc("GET /api/alert", s.handleAlert)
	mux.HandleFunc("GET /api/quakes", s.handleQuakes)
	mux.HandleFunc("GET /api/stations", s.handleStations)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("POST /api/select", s.handleSelect)
	mux.HandleFunc("POST /api/dismiss", s.handleDismiss)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.hub.CheckReadiness(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.ConnectionStatus())
}

func (s *Server) handleCurrent(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.Display())
}

func (s *Server) handleAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := s.hub.Alert(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if alert == nil {
		writeJSON(w, http.StatusOK, map[string]any{"alert": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alert": alert})
}

func (s *Server) handleQuakes(w http.ResponseWriter, r *http.Request) {
	events, err := s.hub.Events(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleStations(w http.ResponseWriter, _ *http.Request) {
	readings := s.hub.Stations()
	if readings == nil {
		readings = []domain.StationReading{}
	}
	writeJSON(w, http.StatusOK, readings)
}

// handleEvents streams changes as server-sent events until the client leaves.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch := s.hub.Subscribe()
	defer s.hub.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case c, open := <-ch:
			if !open {
				return
			}
			data, err := json.Marshal(c)
			if err != nil {
				s.logger.Warn("encode change failed", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", c.Trigger, data)
			flusher.Flush()
		}
	}
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var q domain.QuakeEvent
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid event body"})
		return
	}
	if q.Time.IsZero() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "event time is required"})
		return
	}
	if err := s.hub.Select(r.Context(), q); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "selected"})
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	if err := s.hub.Dismiss(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "dismissed"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
