package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/talgya/gerrysort/internal/metrics"
	"github.com/talgya/gerrysort/internal/persistence"
)

// RunFunc executes one job and returns the id of the run it produced.
type RunFunc func(ctx context.Context, job Job) (runID string, err error)

// Ledger records job outcomes so a sweep can be resumed.
type Ledger interface {
	MarkJob(rec persistence.JobRecord) error
	CompletedJobs() (map[string]bool, error)
}

// Summary counts job outcomes of one pool run.
type Summary struct {
	Done     int `json:"done"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
	Requeued int `json:"requeued"`
}

// Pool drains a queue with a fixed number of workers. A failing or
// panicking job is requeued until it has been tried MaxAttempts times and
// never stops its siblings.
type Pool struct {
	Queue       Queue
	Run         RunFunc
	Ledger      Ledger // Optional
	Workers     int
	MaxAttempts int

	mu      sync.Mutex
	summary Summary
}

// Drain runs jobs until the queue is empty or ctx is done. Only queue and
// ledger failures are returned; job failures are counted in the summary.
func (p *Pool) Drain(ctx context.Context) (Summary, error) {
	workers := max(p.Workers, 1)
	attempts := max(p.MaxAttempts, 1)

	done := map[string]bool{}
	if p.Ledger != nil {
		var err error
		if done, err = p.Ledger.CompletedJobs(); err != nil {
			return Summary{}, fmt.Errorf("load completed jobs: %w", err)
		}
	}

	p.summary = Summary{}
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			return p.work(ctx, w, attempts, done)
		})
	}
	err := g.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	slog.Info("sweep drained",
		"done", p.summary.Done,
		"failed", p.summary.Failed,
		"skipped", p.summary.Skipped,
		"requeued", p.summary.Requeued,
	)
	return p.summary, err
}

func (p *Pool) count(f func(*Summary)) {
	p.mu.Lock()
	f(&p.summary)
	p.mu.Unlock()
}

func (p *Pool) work(ctx context.Context, worker, attempts int, done map[string]bool) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		job, ok, err := p.Queue.Pop(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("worker %d: pop: %w", worker, err)
		}
		if !ok {
			return nil
		}

		if done[job.ID] {
			p.count(func(s *Summary) { s.Skipped++ })
			metrics.JobsTotal.WithLabelValues("skipped").Inc()
			if err := p.Queue.Ack(ctx, job); err != nil {
				return fmt.Errorf("worker %d: ack: %w", worker, err)
			}
			continue
		}

		start := time.Now()
		runID, runErr := p.safeRun(ctx, job)
		metrics.JobDuration.Observe(time.Since(start).Seconds())
		job.Attempts++

		switch {
		case runErr == nil:
			p.count(func(s *Summary) { s.Done++ })
			metrics.JobsTotal.WithLabelValues(persistence.JobDone).Inc()
			slog.Info("job done", "worker", worker, "job", job.ID, "run", runID, "params", job.Key())
			if err := p.mark(job, runID, persistence.JobDone, nil); err != nil {
				return err
			}
			if err := p.Queue.Ack(ctx, job); err != nil {
				return fmt.Errorf("worker %d: ack: %w", worker, err)
			}
		case job.Attempts < attempts:
			p.count(func(s *Summary) { s.Requeued++ })
			metrics.JobsTotal.WithLabelValues("requeued").Inc()
			slog.Warn("job failed, requeued", "worker", worker, "job", job.ID, "attempt", job.Attempts, "error", runErr)
			if err := p.Queue.Requeue(ctx, job); err != nil {
				return fmt.Errorf("worker %d: requeue: %w", worker, err)
			}
		default:
			p.count(func(s *Summary) { s.Failed++ })
			metrics.JobsTotal.WithLabelValues(persistence.JobFailed).Inc()
			slog.Error("job failed", "worker", worker, "job", job.ID, "attempts", job.Attempts, "error", runErr)
			if err := p.mark(job, runID, persistence.JobFailed, runErr); err != nil {
				return err
			}
			if err := p.Queue.Ack(ctx, job); err != nil {
				return fmt.Errorf("worker %d: ack: %w", worker, err)
			}
		}
	}
}

// safeRun turns a panicking job into an error.
func (p *Pool) safeRun(ctx context.Context, job Job) (runID string, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("job panic", "job", job.ID, "stack", string(debug.Stack()))
			err = fmt.Errorf("job %s panicked: %v", job.ID, r)
		}
	}()
	return p.Run(ctx, job)
}

func (p *Pool) mark(job Job, runID, status string, runErr error) error {
	if p.Ledger == nil {
		return nil
	}
	rec := persistence.JobRecord{ID: job.ID, RunID: runID, Status: status, Attempts: job.Attempts}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if err := p.Ledger.MarkJob(rec); err != nil {
		return fmt.Errorf("record job %s: %w", job.ID, err)
	}
	return nil
}
