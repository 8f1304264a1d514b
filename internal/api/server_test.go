package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/gerrysort/internal/engine"
	"github.com/talgya/gerrysort/internal/persistence"
	"github.com/talgya/gerrysort/internal/stats"
	"github.com/talgya/gerrysort/internal/world"
)

func testServer(t *testing.T) (*Server, string) {
	t.Helper()
	ds, _, err := world.Generate(world.SmallTestConfig())
	require.NoError(t, err)
	p := engine.DefaultParams()
	p.MaxRounds = 1
	p.Seed = 11
	p.Spawn.NPop = 300
	p.Redistrict.EnsembleSize = 5
	sim, err := engine.New(ds, p, nil)
	require.NoError(t, err)

	db, err := persistence.Open("sqlite", filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	run, err := db.CreateRun("", sim.Source.Seed(), p)
	require.NoError(t, err)

	eng := engine.NewEngine(sim)
	eng.OnRound = func(r engine.Report) error {
		if err := db.SaveSnapshot(run.ID, r.Snapshot); err != nil {
			return err
		}
		if r.Plan != nil {
			return db.SavePlan(run.ID, r.Snapshot.Round, "congressional", r.Plan)
		}
		return nil
	}
	require.NoError(t, db.SaveSnapshot(run.ID, sim.Latest()))
	require.NoError(t, eng.Run(context.Background()))
	require.NoError(t, db.FinishRun(run.ID, nil))

	return &Server{Sim: sim, Eng: eng, DB: db, RunID: run.ID, AdminKey: "secret"}, run.ID
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestStatusAndHistory(t *testing.T) {
	s, runID := testServer(t)
	h := s.Handler()

	rec := get(t, h, "/api/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "converged", status["status"])
	assert.Equal(t, runID, status["run_id"])
	assert.EqualValues(t, 1, status["round"])

	rec = get(t, h, "/api/v1/history")
	require.Equal(t, http.StatusOK, rec.Code)
	var hist []stats.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hist))
	assert.Len(t, hist, 2)
}

func TestStoredRuns(t *testing.T) {
	s, runID := testServer(t)
	h := s.Handler()

	rec := get(t, h, "/api/v1/runs")
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []persistence.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, persistence.RunConverged, runs[0].Status)

	rec = get(t, h, "/api/v1/runs/"+runID+"/snapshots")
	require.Equal(t, http.StatusOK, rec.Code)
	var snaps []stats.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snaps))
	assert.Len(t, snaps, 2)

	rec = get(t, h, "/api/v1/runs/"+runID+"/snapshots?format=csv")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Len(t, strings.Split(strings.TrimSpace(rec.Body.String()), "\n"), 3)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/v1/runs/nope").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/v1/runs/nope/snapshots").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/api/v1/runs/"+runID+"/plans/x").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/v1/runs/"+runID+"/plans/9").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/api/v1/jobs").Code)
}

func TestWithoutLiveRunOrDB(t *testing.T) {
	h := (&Server{}).Handler()
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/v1/status").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/v1/plan").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/api/v1/runs").Code)
}

func TestStopRequiresToken(t *testing.T) {
	s, _ := testServer(t)
	h := s.Handler()

	post := func(token string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/stop", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusUnauthorized, post(""))
	assert.Equal(t, http.StatusUnauthorized, post("wrong"))
	assert.Equal(t, http.StatusOK, post("secret"))

	s.AdminKey = ""
	assert.Equal(t, http.StatusForbidden, post("secret"))
	assert.Equal(t, http.StatusMethodNotAllowed, get(t, h, "/api/v1/stop").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := testServer(t)
	h := s.Handler()
	get(t, h, "/api/v1/status")

	rec := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gerrysort_rounds_total")
	assert.Contains(t, rec.Body.String(), `gerrysort_http_requests_total{code="200",route="GET /api/v1/status"}`)
}

func TestRateLimiter(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewRateLimiter(1, 2)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.Equal(t, 1, rl.RetryAfter("a"))
	assert.True(t, rl.Allow("b"))

	now = now.Add(time.Second)
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))

	h := RateLimitMiddleware(rl, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "a, 10.0.0.1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	assert.True(t, NewRateLimiter(0, 0).Allow("x"))
}
