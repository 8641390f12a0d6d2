// Package http serves health, readiness, metrics and read-only warehouse
// endpoints while the pipeline runs.
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/inmet-weather-etl/internal/domain"
)

// Catalog is the read side of the store exposed over HTTP.
type Catalog interface {
	Stations(ctx context.Context) ([]domain.StationRecord, error)
	Manifests(ctx context.Context, year int) ([]domain.RunManifest, error)
}

// Server exposes health, readiness, metrics and catalog HTTP endpoints.
type Server struct {
	httpServer *http.Server
	catalog    Catalog
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics,
// /stations and /manifests routes.
func NewServer(addr string, ready sharedobs.ReadinessChecker, catalog Catalog, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		catalog: catalog,
		logger:  logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /stations", s.handleStations)
	mux.HandleFunc("GET /manifests", s.handleManifests)

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

func (s *Server) handleStations(w http.ResponseWriter, r *http.Request) {
	stations, err := s.catalog.Stations(r.Context())
	if err != nil {
		s.internalError(w, "list stations", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stations": stations})
}

// handleManifests lists run manifests, optionally filtered by ?year=.
// Reject records are omitted unless ?rejects=true.
func (s *Server) handleManifests(w http.ResponseWriter, r *http.Request) {
	year := 0
	if v := r.URL.Query().Get("year"); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil || y <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "year must be a positive integer"})
			return
		}
		year = y
	}
	withRejects, _ := strconv.ParseBool(r.URL.Query().Get("rejects"))

	manifests, err := s.catalog.Manifests(r.Context(), year)
	if err != nil {
		s.internalError(w, "list manifests", err)
		return
	}
	if manifests == nil {
		manifests = []domain.RunManifest{}
	}
	if !withRejects {
		for i := range manifests {
			manifests[i].Rejects = nil
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"manifests": manifests})
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op+" failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": op + " failed"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
