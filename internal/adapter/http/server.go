// Package http exposes the read-only dashboard API over the curated and
// features tables, plus health and metrics endpoints.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bradfordwx/weatherlab/internal/domain"
)

// DashboardReader reads curated and feature rows for display. Implemented by
// the postgres store. The dashboard never writes.
type DashboardReader interface {
	LoadCuratedRange(ctx context.Context, from, to *time.Time) ([]domain.Observation, error)
	LoadFeatures(ctx context.Context, modelVersion string, from, to *time.Time) ([]domain.FeatureRow, error)
	ClusterSummary(ctx context.Context, modelVersion string) ([]domain.ClusterCount, error)
	ModelVersions(ctx context.Context) ([]string, error)
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server serves the dashboard API: /healthz, /readyz, /metrics, and
// /api/{curated,features,clusters,model-versions}.
type Server struct {
	httpServer          *http.Server
	reader              DashboardReader
	pinger              Pinger
	defaultModelVersion string
	logger              *slog.Logger
}

// NewServer creates the dashboard HTTP server. defaultModelVersion is used
// when a request omits the model_version query parameter.
func NewServer(addr string, reader DashboardReader, pinger Pinger, defaultModelVersion string, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		reader:              reader,
		pinger:              pinger,
		defaultModelVersion: defaultModelVersion,
		logger:              logger,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /api/curated", s.handleCurated)
	mux.HandleFunc("GET /api/features", s.handleFeatures)
	mux.HandleFunc("GET /api/clusters", s.handleClusters)
	mux.HandleFunc("GET /api/model-versions", s.handleModelVersions)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("dashboard starting", "addr", s.httpServer.Addr)
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

	if err := s.pinger.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleCurated(w http.ResponseWriter, r *http.Request) {
	from, to, ok := parseRange(w, r)
	if !ok {
		return
	}

	rows, err := s.reader.LoadCuratedRange(r.Context(), from, to)
	if err != nil {
		s.serveError(w, "load curated", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(rows),
		"rows":  emptyIfNil(rows),
	})
}

func (s *Server) handleFeatures(w http.ResponseWriter, r *http.Request) {
	from, to, ok := parseRange(w, r)
	if !ok {
		return
	}
	version := s.modelVersion(r)

	rows, err := s.reader.LoadFeatures(r.Context(), version, from, to)
	if err != nil {
		s.serveError(w, "load features", err)
		return
	}

	// An empty result is a degraded-but-valid state: the model version has
	// not been computed yet. Readers get an empty list, not an error.
	resp := map[string]any{
		"model_version": version,
		"count":         len(rows),
		"rows":          emptyIfNil(rows),
	}
	if len(rows) == 0 {
		resp["message"] = "no features for this model version"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClusters(w http.ResponseWriter, r *http.Request) {
	version := s.modelVersion(r)

	summary, err := s.reader.ClusterSummary(r.Context(), version)
	if err != nil {
		s.serveError(w, "cluster summary", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"model_version": version,
		"clusters":      emptyIfNil(summary),
	})
}

func (s *Server) handleModelVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.reader.ModelVersions(r.Context())
	if err != nil {
		s.serveError(w, "model versions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"model_versions": emptyIfNil(versions)})
}

func (s *Server) modelVersion(r *http.Request) string {
	if v := r.URL.Query().Get("model_version"); v != "" {
		return v
	}
	return s.defaultModelVersion
}

func (s *Server) serveError(w http.ResponseWriter, op string, err error) {
	s.logger.Error("dashboard query failed", "op", op, "error", err)
	status := http.StatusInternalServerError
	if errors.Is(err, domain.ErrStore) {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// parseRange reads optional RFC 3339 from/to query parameters. On a bad
// value it writes a 400 and returns ok=false.
func parseRange(w http.ResponseWriter, r *http.Request) (from, to *time.Time, ok bool) {
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"from", &from}, {"to", &to}} {
		raw := r.URL.Query().Get(p.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid " + p.name + ": expected RFC 3339 timestamp",
			})
			return nil, nil, false
		}
		*p.dst = &t
	}
	return from, to, true
}

func emptyIfNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
