package sweep

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/gerrysort/internal/config"
	"github.com/talgya/gerrysort/internal/persistence"
	"github.com/talgya/gerrysort/internal/world"
)

func TestExpand(t *testing.T) {
	jobs, err := Expand(map[string][]string{
		"simulation.beta":      {"0", "100"},
		"simulation.tolerance": {"0.25", "0.5", "0.75"},
	}, 2, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 12)

	ids := map[string]bool{}
	for i, j := range jobs {
		ids[j.ID] = true
		assert.Equal(t, int64(10+i), j.Seed)
		assert.Len(t, j.Overrides, 2)
	}
	assert.Len(t, ids, 12)
	assert.Equal(t, "simulation.beta=0,simulation.tolerance=0.25", jobs[0].Key())
	assert.Equal(t, 1, jobs[1].Repeat)

	again, err := Expand(map[string][]string{
		"simulation.tolerance": {"0.25", "0.5", "0.75"},
		"simulation.beta":      {"0", "100"},
	}, 2, 10)
	require.NoError(t, err)
	assert.Equal(t, jobs, again)

	single, err := Expand(nil, 3, 0)
	require.NoError(t, err)
	assert.Len(t, single, 3)
	assert.Zero(t, single[0].Seed)

	_, err = Expand(nil, 0, 0)
	assert.Error(t, err)
	_, err = Expand(map[string][]string{"simulation.beta": {}}, 1, 0)
	assert.Error(t, err)
}

func TestMemoryQueue(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	require.NoError(t, q.Push(ctx, Job{ID: "a"}, Job{ID: "b"}))

	j, ok, err := q.Pop(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", j.ID)
	assert.Equal(t, 1, q.InFlight())

	j.Attempts++
	require.NoError(t, q.Requeue(ctx, j))
	n, _ := q.Len(ctx)
	assert.Equal(t, 2, n)

	j, _, _ = q.Pop(ctx)
	assert.Equal(t, "b", j.ID)
	require.NoError(t, q.Ack(ctx, j))
	j, _, _ = q.Pop(ctx)
	assert.Equal(t, "a", j.ID)
	assert.Equal(t, 1, j.Attempts)
	require.NoError(t, q.Ack(ctx, j))

	_, ok, err = q.Pop(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, q.InFlight())
}

type flakyRunner struct {
	mu    sync.Mutex
	calls map[string]int
	fails map[string]int // job id -> failures before success, -1 always
}

func (f *flakyRunner) run(_ context.Context, j Job) (string, error) {
	f.mu.Lock()
	f.calls[j.ID]++
	n := f.calls[j.ID]
	want := f.fails[j.ID]
	f.mu.Unlock()

	switch {
	case j.ID == "panics":
		panic("bad job")
	case want < 0 || n <= want:
		return "", errors.New("transient")
	}
	return "run-" + j.ID, nil
}

func TestPoolRequeuesAndIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	var jobs []Job
	for _, id := range []string{"ok1", "ok2", "flaky", "broken", "panics", "ok3"} {
		jobs = append(jobs, Job{ID: id})
	}
	require.NoError(t, q.Push(ctx, jobs...))

	fr := &flakyRunner{
		calls: map[string]int{},
		fails: map[string]int{"flaky": 2, "broken": -1},
	}
	pool := &Pool{Queue: q, Run: fr.run, Workers: 3, MaxAttempts: 3}

	sum, err := pool.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Done)
	assert.Equal(t, 2, sum.Failed)
	assert.Equal(t, 2+2+2, sum.Requeued)
	assert.Equal(t, 3, fr.calls["flaky"])
	assert.Equal(t, 3, fr.calls["broken"])
	assert.Equal(t, 1, fr.calls["ok1"])
	assert.Zero(t, q.InFlight())
}

func openLedger(t *testing.T) *persistence.DB {
	t.Helper()
	db, err := persistence.Open("sqlite", filepath.Join(t.TempDir(), "sweep.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPoolResumesFromLedger(t *testing.T) {
	ctx := context.Background()
	db := openLedger(t)
	jobs, err := Expand(map[string][]string{"simulation.beta": {"1", "2", "3"}}, 1, 5)
	require.NoError(t, err)

	fr := &flakyRunner{calls: map[string]int{}, fails: map[string]int{jobs[2].ID: -1}}
	q := NewMemoryQueue()
	require.NoError(t, q.Push(ctx, jobs...))
	sum, err := (&Pool{Queue: q, Run: fr.run, Ledger: db, Workers: 2, MaxAttempts: 1}).Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Done: 2, Failed: 1}, sum)

	// Second pass only retries the failed job.
	fr.fails = map[string]int{}
	q = NewMemoryQueue()
	require.NoError(t, q.Push(ctx, jobs...))
	sum, err = (&Pool{Queue: q, Run: fr.run, Ledger: db, Workers: 2, MaxAttempts: 1}).Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, Summary{Done: 1, Skipped: 2}, sum)
	assert.Equal(t, 1, fr.calls[jobs[0].ID])
	assert.Equal(t, 2, fr.calls[jobs[2].ID])

	done, err := db.CompletedJobs()
	require.NoError(t, err)
	assert.Len(t, done, 3)
}

func TestPoolStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := NewMemoryQueue()
	require.NoError(t, q.Push(ctx, Job{ID: "a"}, Job{ID: "b"}))
	calls := 0
	run := func(context.Context, Job) (string, error) {
		calls++
		cancel()
		return "r", nil
	}
	_, err := (&Pool{Queue: q, Run: run, Workers: 1}).Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRunnerStoresRuns(t *testing.T) {
	ctx := context.Background()
	db := openLedger(t)
	ds, _, err := world.Generate(world.SmallTestConfig())
	require.NoError(t, err)

	base := config.Default()
	base.Simulation.MaxRounds = 2
	base.Simulation.NPop = 400
	base.Simulation.EnsembleSize = 10
	base.Simulation.SavePlans = true
	r := &Runner{Base: base, Dataset: ds, DB: db}

	jobs, err := Expand(map[string][]string{"simulation.order": {"gerrymander_then_sort", "sort_then_gerrymander"}}, 1, 3)
	require.NoError(t, err)
	q := NewMemoryQueue()
	require.NoError(t, q.Push(ctx, jobs...))
	sum, err := (&Pool{Queue: q, Run: r.Job, Ledger: db, Workers: 2, MaxAttempts: 2}).Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Done)

	runs, err := db.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, run := range runs {
		assert.Equal(t, persistence.RunConverged, run.Status)
		assert.Equal(t, 2, run.Rounds)
		snaps, err := db.LoadSnapshots(run.ID)
		require.NoError(t, err)
		assert.Len(t, snaps, 3)
	}

	// A bad override fails the job without touching the others.
	_, err = r.Job(ctx, Job{ID: "bad", Overrides: map[string]string{"simulation.tolerance": "-1"}})
	assert.Error(t, err)
}

func TestRedisQueue(t *testing.T) {
	addr := os.Getenv("GERRYSORT_TEST_REDIS")
	if addr == "" {
		t.Skip("GERRYSORT_TEST_REDIS not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rc, err := OpenRedis(ctx, addr)
	require.NoError(t, err)
	defer rc.Close()

	q := NewRedisQueue(rc, "gerrysort:test:"+time.Now().Format("150405.000"), 100*time.Millisecond)
	defer q.Clear(ctx)
	require.NoError(t, q.Push(ctx, Job{ID: "a"}, Job{ID: "b"}))

	j, ok, err := q.Pop(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", j.ID)
	j.Attempts++
	require.NoError(t, q.Requeue(ctx, j))

	j, _, err = q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", j.ID)
	require.NoError(t, q.Ack(ctx, j))

	// An unacked job is recovered from the processing list.
	j, _, err = q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, j.Attempts)
	n, err := q.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	l, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, l)
}
