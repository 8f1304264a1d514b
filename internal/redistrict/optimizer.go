package redistrict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/talgya/gerrysort/internal/entropy"
	"github.com/talgya/gerrysort/internal/hierarchy"
)

// Options configure the optimizer.
type Options struct {
	Layer              hierarchy.Layer
	Epsilon            float64
	EnsembleSize       int
	Sigma              float64
	Intervention       Intervention
	InterventionWeight float64
	CompetitiveMargin  float64
	Attempts           int           // Searches tried before giving up on a round
	Timeout            time.Duration // Per attempt; 0 means none
}

// DefaultOptions returns the standard optimizer settings.
func DefaultOptions() Options {
	return Options{
		Layer:             hierarchy.Congressional,
		Epsilon:           0.01,
		EnsembleSize:      250,
		Sigma:             0.01,
		CompetitiveMargin: 0.1,
		Attempts:          3,
	}
}

// Result is the outcome of one redistricting.
type Result struct {
	Delta     hierarchy.Delta
	ChangeMap float64 // Reassigned share of all precincts
	Score     float64 // Noiseless objective of the chosen plan
	Attempts  int
	Plan      map[string]string // Precinct id to district id
}

// Optimizer searches for and commits district plans.
type Optimizer struct {
	searcher Searcher
	opts     Options
	src      *entropy.Source
}

// NewOptimizer creates an optimizer drawing its seeds from src.
func NewOptimizer(searcher Searcher, opts Options, src *entropy.Source) *Optimizer {
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	return &Optimizer{searcher: searcher, opts: opts, src: src}
}

// Options returns the optimizer settings.
func (o *Optimizer) Options() Options { return o.opts }

// Propose searches for a plan for the layer without touching idx. target
// is the Blue share of the population, used when control is Fair.
// ErrNoFeasiblePartition is returned after every attempt failed.
func (o *Optimizer) Propose(ctx context.Context, idx *hierarchy.Index, control hierarchy.Control, target float64, round int) (Result, error) {
	g, current, labels := Snapshot(idx, o.opts.Layer)
	c := Constraints{Parts: len(labels), Epsilon: o.opts.Epsilon, Contiguous: true}
	if c.Parts == 0 {
		return Result{}, fmt.Errorf("redistrict %s: %w", o.opts.Layer, hierarchy.ErrNotFound)
	}

	var lastErr error
	for n := 0; n < o.opts.Attempts; n++ {
		obj := &PlanObjective{
			Control:      control,
			Target:       target,
			Intervention: o.opts.Intervention,
			Weight:       o.opts.InterventionWeight,
			Margin:       o.opts.CompetitiveMargin,
			Sigma:        o.opts.Sigma,
			Rand:         o.src.Attempt(entropy.StreamScoreNoise, round, n),
		}
		best, err := o.search(ctx, g, current, c, obj, o.src.Attempt(entropy.StreamRedistrict, round, n))
		if err != nil {
			lastErr = err
			if errors.Is(err, ErrNoFeasiblePartition) && ctx.Err() == nil {
				slog.Warn("redistricting attempt failed", "round", round, "attempt", n+1, "error", err)
				continue
			}
			return Result{Attempts: n + 1}, err
		}
		if !g.Valid(best, c) {
			lastErr = fmt.Errorf("searcher returned an invalid plan: %w", ErrNoFeasiblePartition)
			slog.Warn("redistricting attempt failed", "round", round, "attempt", n+1, "error", lastErr)
			continue
		}

		ids := Reconcile(g, best, current, labels)
		plan := make(map[string]string, g.Len())
		for i, node := range g.Nodes {
			plan[node.ID] = ids[best[i]]
		}
		delta := idx.DiffAssignment(o.opts.Layer, plan)
		res := Result{
			Delta:    delta,
			Score:    obj.Base(g.Stats(best, c.Parts)),
			Attempts: n + 1,
			Plan:     plan,
		}
		if g.Len() > 0 {
			res.ChangeMap = float64(len(delta.Moves)) / float64(g.Len())
		}
		return res, nil
	}
	return Result{Attempts: o.opts.Attempts}, lastErr
}

func (o *Optimizer) search(ctx context.Context, g *Graph, current Assignment, c Constraints, obj Objective, rng *rand.Rand) (Assignment, error) {
	if o.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
	}
	return o.searcher.Search(ctx, g, current, c, obj, o.opts.EnsembleSize, rng)
}

// Redistrict proposes a plan and commits its delta to idx.
func (o *Optimizer) Redistrict(ctx context.Context, idx *hierarchy.Index, control hierarchy.Control, target float64, round int) (Result, error) {
	res, err := o.Propose(ctx, idx, control, target, round)
	if err != nil {
		return res, err
	}
	if _, err := idx.ApplyDelta(res.Delta); err != nil {
		return res, fmt.Errorf("apply plan: %w", err)
	}
	slog.Debug("plan committed", "round", round, "control", control, "moves", len(res.Delta.Moves),
		"change_map", res.ChangeMap, "score", res.Score)
	return res, nil
}
