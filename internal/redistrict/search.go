package redistrict

import (
	"context"
	"errors"
	"math/rand"
)

// ErrNoFeasiblePartition reports that no contiguous, population-balanced
// plan could be produced within the search budget. It is retryable with a
// fresh seed.
var ErrNoFeasiblePartition = errors.New("no feasible partition")

// Searcher proposes partitions of g and returns the best one it observed.
// budget is the number of proposal steps. Implementations return the best
// plan so far once ctx is done.
type Searcher interface {
	Search(ctx context.Context, g *Graph, initial Assignment, c Constraints, obj Objective, budget int, rng *rand.Rand) (Assignment, error)
}

// BestOf scores each candidate once and returns the highest, earliest first
// on ties. Candidates that violate c are skipped.
func BestOf(g *Graph, c Constraints, obj Objective, candidates ...Assignment) (Assignment, float64, error) {
	var (
		best  Assignment
		score float64
	)
	for _, cand := range candidates {
		if !g.Valid(cand, c) {
			continue
		}
		s := obj.Score(g.Stats(cand, c.Parts))
		if best == nil || s > score {
			best, score = cand, s
		}
	}
	if best == nil {
		return nil, 0, ErrNoFeasiblePartition
	}
	return best.Clone(), score, nil
}

// FixedSearcher returns the best of a fixed candidate list. Used to drive
// the optimizer with known plans.
type FixedSearcher struct {
	Candidates []Assignment
}

// Search implements Searcher.
func (f FixedSearcher) Search(_ context.Context, g *Graph, _ Assignment, c Constraints, obj Objective, _ int, _ *rand.Rand) (Assignment, error) {
	best, _, err := BestOf(g, c, obj, f.Candidates...)
	return best, err
}
