// Package api serves a read-only view of the live run and of stored runs.
// GET endpoints are public. POST endpoints require a bearer token.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/talgya/gerrysort/internal/engine"
	"github.com/talgya/gerrysort/internal/metrics"
	"github.com/talgya/gerrysort/internal/persistence"
)

// Server serves simulation state over HTTP.
type Server struct {
	Sim      *engine.Simulation // Live run, nil when only serving stored runs
	Eng      *engine.Engine
	DB       *persistence.DB // nil disables the run endpoints
	RunID    string          // Stored id of the live run
	AdminKey string          // Bearer token for POST endpoints. Empty = POST disabled.
	Limiter  *RateLimiter    // nil disables rate limiting
}

// Handler builds the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/history", s.handleHistory)
	mux.HandleFunc("GET /api/v1/plan", s.handlePlan)
	mux.HandleFunc("GET /api/v1/runs", s.handleRuns)
	mux.HandleFunc("GET /api/v1/runs/{id}", s.handleRun)
	mux.HandleFunc("GET /api/v1/runs/{id}/snapshots", s.handleSnapshots)
	mux.HandleFunc("GET /api/v1/runs/{id}/plans/{round}", s.handleStoredPlan)
	mux.HandleFunc("GET /api/v1/jobs", s.handleJobs)
	mux.HandleFunc("POST /api/v1/stop", s.adminOnly(s.handleStop))
	mux.Handle("GET /metrics", metrics.Handler())

	var h http.Handler = mux
	if s.Limiter != nil {
		h = RateLimitMiddleware(s.Limiter, h)
	}
	return instrument(corsMiddleware(h))
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "", "live", s.Sim != nil, "db", s.DB != nil)

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdown); err != nil {
			return err
		}
		slog.Info("HTTP API stopped")
		return nil
	}
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set GERRYSORT_CORS_ORIGINS to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("GERRYSORT_CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument counts requests by route pattern and status code.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly requires the admin bearer token.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey == "" {
			http.Error(w, "admin endpoints disabled (no GERRYSORT_ADMIN_KEY set)", http.StatusForbidden)
			return
		}
		if !s.checkBearerToken(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) live(w http.ResponseWriter) bool {
	if s.Sim == nil {
		http.Error(w, "no live run", http.StatusNotFound)
		return false
	}
	return true
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.live(w) {
		return
	}
	latest := s.Sim.Latest()
	writeJSON(w, map[string]any{
		"name":             "gerrysort",
		"run_id":           s.RunID,
		"seed":             s.Sim.Source.Seed(),
		"round":            s.Sim.Round(),
		"max_rounds":       s.Sim.Params().MaxRounds,
		"status":           s.Sim.Status().String(),
		"control":          s.Sim.Control().String(),
		"projected_winner": latest.ProjectedWinner,
		"seats":            latest.Seats,
		"efficiency_gap":   latest.EfficiencyGap,
		"unhappy":          latest.Unhappy,
		"households":       latest.TotalPopulation,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if !s.live(w) {
		return
	}
	writeJSON(w, s.Sim.History())
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	if !s.live(w) {
		return
	}
	plan := s.Sim.LastPlan()
	if plan == nil {
		http.Error(w, "no plan committed in the last round", http.StatusNotFound)
		return
	}
	writeJSON(w, plan)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if s.Eng == nil {
		http.Error(w, "no live run", http.StatusNotFound)
		return
	}
	s.Eng.Stop()
	slog.Info("engine stop requested", "round", s.Sim.Round())
	writeJSON(w, map[string]any{"round": s.Sim.Round(), "message": "stopping after current round"})
}

func (s *Server) stored(w http.ResponseWriter) bool {
	if s.DB == nil {
		http.Error(w, "database not available", http.StatusServiceUnavailable)
		return false
	}
	return true
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if !s.stored(w) {
		return
	}
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 1000 {
			limit = v
		}
	}
	runs, err := s.DB.ListRuns(limit)
	if err != nil {
		serverError(w, "list runs", err)
		return
	}
	writeJSON(w, runs)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if !s.stored(w) {
		return
	}
	run, err := s.DB.GetRun(r.PathValue("id"))
	if errors.Is(err, persistence.ErrNotFound) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		serverError(w, "get run", err)
		return
	}
	writeJSON(w, run)
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	if !s.stored(w) {
		return
	}
	snaps, err := s.DB.LoadSnapshots(r.PathValue("id"))
	if err != nil {
		serverError(w, "load snapshots", err)
		return
	}
	if len(snaps) == 0 {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		if err := persistence.WriteCSV(w, snaps); err != nil {
			slog.Error("write csv", "error", err)
		}
		return
	}
	writeJSON(w, snaps)
}

func (s *Server) handleStoredPlan(w http.ResponseWriter, r *http.Request) {
	if !s.stored(w) {
		return
	}
	round, err := strconv.Atoi(r.PathValue("round"))
	if err != nil {
		http.Error(w, "invalid round", http.StatusBadRequest)
		return
	}
	layer := r.URL.Query().Get("layer")
	if layer == "" {
		layer = "congressional"
	}
	plan, err := s.DB.LoadPlan(r.PathValue("id"), round, layer)
	if errors.Is(err, persistence.ErrNotFound) {
		http.Error(w, "plan not found", http.StatusNotFound)
		return
	}
	if err != nil {
		serverError(w, "load plan", err)
		return
	}
	writeJSON(w, plan)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if !s.stored(w) {
		return
	}
	jobs, err := s.DB.Jobs()
	if err != nil {
		serverError(w, "list jobs", err)
		return
	}
	writeJSON(w, jobs)
}

func serverError(w http.ResponseWriter, what string, err error) {
	slog.Error(what+" failed", "error", err)
	http.Error(w, what+" failed", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
