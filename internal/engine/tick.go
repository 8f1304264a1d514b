package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/talgya/gerrysort/internal/stats"
)

// Report is handed to the round callback after every completed round.
type Report struct {
	Snapshot stats.Snapshot
	Plan     map[string]string // Committed plan, nil when not redistricted
}

// Engine drives a Simulation round by round until it converges.
type Engine struct {
	Sim      *Simulation
	Interval time.Duration // Minimum wall time per round, 0 runs flat out

	// OnRound is called after each round. A non-nil error stops the run.
	OnRound func(Report) error

	stopped atomic.Bool
}

// NewEngine creates an engine that runs rounds back to back.
func NewEngine(sim *Simulation) *Engine {
	return &Engine{Sim: sim}
}

// Run blocks until the simulation converges, Stop is called, ctx is
// cancelled or a round fails. Convergence and Stop return nil.
func (e *Engine) Run(ctx context.Context) error {
	e.stopped.Store(false)
	slog.Info("simulation engine started", "round", e.Sim.Round(), "max_rounds", e.Sim.Params().MaxRounds)

	for !e.stopped.Load() {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()

		snap, err := e.Sim.Step(ctx)
		if errors.Is(err, ErrConverged) {
			break
		}
		if err != nil {
			slog.Error("round failed", "round", e.Sim.Round()+1, "error", err)
			return err
		}
		if e.OnRound != nil {
			if err := e.OnRound(Report{Snapshot: snap, Plan: e.Sim.LastPlan()}); err != nil {
				return err
			}
		}
		if e.Sim.Status() == Converged {
			break
		}

		if elapsed := time.Since(start); elapsed < e.Interval {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(e.Interval - elapsed):
			}
		}
	}

	slog.Info("simulation engine stopped", "round", e.Sim.Round(), "status", e.Sim.Status())
	return nil
}

// Stop halts the loop after the current round.
func (e *Engine) Stop() {
	e.stopped.Store(true)
}
