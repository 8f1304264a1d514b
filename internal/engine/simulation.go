// Simulation ties the hierarchy, households, sorting and redistricting
// together and runs them round by round.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/talgya/gerrysort/internal/agents"
	"github.com/talgya/gerrysort/internal/dataset"
	"github.com/talgya/gerrysort/internal/entropy"
	"github.com/talgya/gerrysort/internal/hierarchy"
	"github.com/talgya/gerrysort/internal/metrics"
	"github.com/talgya/gerrysort/internal/redistrict"
	"github.com/talgya/gerrysort/internal/stats"
)

// Status is the lifecycle state of a run.
type Status uint8

const (
	Initializing Status = iota
	Running
	Converged
)

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Converged:
		return "converged"
	}
	return "initializing"
}

// ErrConverged is returned by Step once the run has finished.
var ErrConverged = errors.New("simulation converged")

// Simulation holds the complete state of one run.
type Simulation struct {
	Index      *hierarchy.Index
	Population *agents.Population
	Sorter     *agents.Sorter
	Optimizer  *redistrict.Optimizer
	Source     *entropy.Source
	params     Params
	chambers   []hierarchy.Layer

	mu       sync.RWMutex
	round    int
	status   Status
	control  hierarchy.Control
	history  []stats.Snapshot
	lastPlan map[string]string
}

// New builds the hierarchy from ds, spawns the population and records the
// round-zero snapshot. searcher nil means recombination.
func New(ds *dataset.Dataset, p Params, searcher redistrict.Searcher) (*Simulation, error) {
	idx, err := ds.Build()
	if err != nil {
		return nil, err
	}
	return NewFromIndex(idx, p, searcher)
}

// NewFromIndex runs initialization over an already built index.
func NewFromIndex(idx *hierarchy.Index, p Params, searcher redistrict.Searcher) (*Simulation, error) {
	if searcher == nil {
		searcher = redistrict.DefaultReCom()
	}
	src := entropy.NewSource(p.Seed)
	s := &Simulation{
		Index:  idx,
		Source: src,
		params: p,
		status: Initializing,
	}
	if err := s.resolveChambers(); err != nil {
		return nil, err
	}
	p.Stats.Chambers = s.chambers
	s.params.Stats = p.Stats

	pop, err := buildPopulation(idx, p.Spawn, src)
	if err != nil {
		return nil, err
	}
	s.Population = pop
	utility := agents.NewUtilityModel(idx, p.Utility)
	s.Sorter = agents.NewSorter(idx, utility, p.Sort, src.Rand(entropy.StreamSort))
	s.Optimizer = redistrict.NewOptimizer(searcher, p.Redistrict, src)

	if err := s.refresh(); err != nil {
		return nil, err
	}
	snap := stats.Compute(idx, pop, s.params.Stats)

	switch c := p.InitialControl; c {
	case "", "model":
		s.control, _ = stats.ProjectedWinner(snap, s.chambers)
	default:
		if s.control, err = hierarchy.ParseControl(c); err != nil {
			return nil, err
		}
	}
	snap.Control = s.control.String()
	s.history = append(s.history, snap)
	s.status = Running

	slog.Info("simulation initialized",
		"seed", src.Seed(),
		"precincts", len(idx.Precincts()),
		"counties", len(idx.Counties()),
		"households", humanize.Comma(int64(pop.Len())),
		"control", s.control,
		"projected_winner", snap.ProjectedWinner,
	)
	return s, nil
}

// resolveChambers picks the layers whose majorities decide control.
func (s *Simulation) resolveChambers() error {
	legislature := s.Index.HasLayer(hierarchy.StateHouse) && s.Index.HasLayer(hierarchy.StateSenate)
	switch s.params.Rule {
	case RuleLegislature:
		if !legislature {
			return fmt.Errorf("%w: legislature control needs state house and senate districts", dataset.ErrDataInconsistency)
		}
		s.chambers = []hierarchy.Layer{hierarchy.StateHouse, hierarchy.StateSenate}
	case RuleFixed:
		if legislature {
			s.chambers = []hierarchy.Layer{hierarchy.StateHouse, hierarchy.StateSenate}
		} else {
			s.chambers = []hierarchy.Layer{hierarchy.Congressional}
		}
	default:
		s.chambers = []hierarchy.Layer{hierarchy.Congressional}
	}
	return nil
}

// refresh recomputes majorities then household utilities.
func (s *Simulation) refresh() error {
	s.Index.UpdateMajorities()
	_, err := s.Sorter.UpdateUtilities(s.Population)
	return err
}

// Params returns the resolved parameters.
func (s *Simulation) Params() Params { return s.params }

// Round returns the number of completed rounds.
func (s *Simulation) Round() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.round
}

// Status returns the lifecycle state.
func (s *Simulation) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Control returns the current controlling party.
func (s *Simulation) Control() hierarchy.Control {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.control
}

// History returns a copy of the snapshots, round zero first.
func (s *Simulation) History() []stats.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]stats.Snapshot(nil), s.history...)
}

// Latest returns the most recent snapshot.
func (s *Simulation) Latest() stats.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.history[len(s.history)-1]
}

// LastPlan returns the precinct to district map committed in the most
// recent round, nil when that round did not redistrict.
func (s *Simulation) LastPlan() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastPlan
}

// Step runs one round and returns its snapshot.
func (s *Simulation) Step(ctx context.Context) (stats.Snapshot, error) {
	if s.Status() == Converged {
		return stats.Snapshot{}, ErrConverged
	}
	round := s.Round() + 1
	control := s.Control()

	var (
		moves   int
		outcome redistrictOutcome
		err     error
	)
	switch s.params.Order {
	case SortThenGerrymander:
		if moves, err = s.sortPhase(); err != nil {
			return stats.Snapshot{}, err
		}
		if outcome, err = s.redistrictPhase(ctx, control, round); err != nil {
			return stats.Snapshot{}, err
		}
	default:
		if outcome, err = s.redistrictPhase(ctx, control, round); err != nil {
			return stats.Snapshot{}, err
		}
		if moves, err = s.sortPhase(); err != nil {
			return stats.Snapshot{}, err
		}
	}
	if err := s.refresh(); err != nil {
		return stats.Snapshot{}, err
	}
	if slog.Default().Enabled(ctx, slog.LevelDebug) {
		if err := s.Index.CheckInvariants(); err != nil {
			return stats.Snapshot{}, fmt.Errorf("round %d: %w", round, err)
		}
	}

	snap := stats.Compute(s.Index, s.Population, s.params.Stats)
	snap.Round = round
	snap.Control = control.String()
	snap.Moves = moves
	snap.ChangeMap = outcome.changeMap
	snap.RedistrictSkipped = outcome.skipped

	s.mu.Lock()
	s.round = round
	s.history = append(s.history, snap)
	s.lastPlan = outcome.plan
	if round >= s.params.MaxRounds {
		s.status = Converged
	} else if s.params.Rule != RuleFixed {
		s.control, _ = stats.ProjectedWinner(snap, s.chambers)
	}
	s.mu.Unlock()

	metrics.RoundsTotal.Inc()
	metrics.MovesTotal.Add(float64(moves))
	metrics.EfficiencyGap.Set(snap.EfficiencyGap)
	congress := snap.SeatsOf(hierarchy.Congressional)
	slog.Info("round report",
		"round", round,
		"control", control,
		"moves", humanize.Comma(int64(moves)),
		"red_seats", congress.Red,
		"blue_seats", congress.Blue,
		"efficiency_gap", fmt.Sprintf("%.4f", snap.EfficiencyGap),
		"change_map", fmt.Sprintf("%.3f", snap.ChangeMap),
		"unhappy", humanize.Comma(int64(snap.Unhappy)),
		"redistrict_skipped", snap.RedistrictSkipped,
	)
	return snap, nil
}

// sortPhase runs one self-sorting round against current majorities and
// the utilities they imply.
func (s *Simulation) sortPhase() (int, error) {
	if !s.params.Sorting {
		return 0, nil
	}
	if err := s.refresh(); err != nil {
		return 0, fmt.Errorf("sorting: %w", err)
	}
	res, err := s.Sorter.Round(s.Population)
	if err != nil {
		return 0, fmt.Errorf("sorting: %w", err)
	}
	return res.Moves, nil
}

type redistrictOutcome struct {
	changeMap float64
	skipped   bool
	plan      map[string]string
}

// redistrictPhase commits a new plan. A plan that cannot be found after
// every attempt skips redistricting for the round.
func (s *Simulation) redistrictPhase(ctx context.Context, control hierarchy.Control, round int) (redistrictOutcome, error) {
	if !s.params.Gerrymandering {
		return redistrictOutcome{}, nil
	}
	start := time.Now()
	res, err := s.Optimizer.Redistrict(ctx, s.Index, control, s.Population.BlueShare(), round)
	metrics.RedistrictDuration.Observe(time.Since(start).Seconds())
	if errors.Is(err, redistrict.ErrNoFeasiblePartition) {
		metrics.RedistrictFailuresTotal.Inc()
		slog.Warn("redistricting skipped", "round", round, "attempts", res.Attempts, "error", err)
		return redistrictOutcome{skipped: true}, nil
	}
	if err != nil {
		return redistrictOutcome{}, fmt.Errorf("redistricting round %d: %w", round, err)
	}
	s.Population.Rebind(s.Index, res.Delta)
	s.Index.UpdateMajorities()
	metrics.ReassignedPrecinctsTotal.Add(float64(len(res.Delta.Moves)))
	return redistrictOutcome{changeMap: res.ChangeMap, plan: res.Plan}, nil
}
