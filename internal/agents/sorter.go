package agents

import (
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/paulmach/orb"

	"github.com/talgya/gerrysort/internal/geo"
	"github.com/talgya/gerrysort/internal/hierarchy"
)

// SortParams are the tunables of self-sorting.
type SortParams struct {
	Tolerance      float64 // Unhappy iff utility < Tolerance
	Beta           float64 // Boltzmann inverse temperature
	NMovingOptions int
	Cooldown       int     // Rounds a household waits after moving
	DistanceDecay  float64 // 0 ignores distance
}

// RoundResult summarizes one sorting round.
type RoundResult struct {
	Moves           int `json:"moves"`
	Evaluated       int `json:"evaluated"`
	SkippedCooldown int `json:"skipped_cooldown"`
	NoCapacity      int `json:"no_capacity"`
}

// option is a candidate destination.
type option struct {
	precinctID string
	location   orb.Point
	utility    float64
	discounted float64
}

// Sorter runs the per-household relocation state machine. Majority colors
// are read as they stood at the start of the round; commits go through the
// index one at a time.
type Sorter struct {
	idx     *hierarchy.Index
	utility *UtilityModel
	params  SortParams
	rng     *rand.Rand

	geographic bool
	diameter   float64
	pickers    map[string]weighted
}

// NewSorter creates a sorter over idx.
func NewSorter(idx *hierarchy.Index, utility *UtilityModel, params SortParams, rng *rand.Rand) *Sorter {
	s := &Sorter{
		idx:        idx,
		utility:    utility,
		params:     params,
		rng:        rng,
		geographic: geo.Geographic(idx.CRS),
		pickers:    make(map[string]weighted),
	}
	s.diameter = geo.Diameter(idx.Bound(), s.geographic)

	// Candidate precincts within a county are drawn by recorded population.
	for _, c := range idx.Counties() {
		w := make([]float64, len(c.Precincts))
		for i, pid := range c.Precincts {
			if p, err := idx.Precinct(pid); err == nil {
				w[i] = float64(p.SourcePopulation)
			}
		}
		s.pickers[c.ID()] = newWeighted(w, rng)
	}
	return s
}

// UpdateUtilities recomputes every household's utility and unhappy flag
// against the current majorities. Returns the number of unhappy households.
func (s *Sorter) UpdateUtilities(pop *Population) (int, error) {
	unhappy := 0
	for _, h := range pop.All() {
		u, err := s.utility.At(h.Party, h.PrecinctID)
		if err != nil {
			return 0, fmt.Errorf("utility of household %d: %w", h.ID, err)
		}
		h.Utility = u
		h.Unhappy = u < s.params.Tolerance
		if h.Unhappy {
			unhappy++
		}
	}
	return unhappy, nil
}

// Round visits every household once in population order.
func (s *Sorter) Round(pop *Population) (RoundResult, error) {
	var res RoundResult
	for _, h := range pop.All() {
		if !h.Unhappy {
			h.tick()
			continue
		}
		if h.LastMoved < s.params.Cooldown {
			res.SkippedCooldown++
			h.tick()
			continue
		}
		res.Evaluated++

		opts, err := s.candidates(h)
		if err != nil {
			return res, err
		}
		if len(opts) == 0 {
			res.NoCapacity++
			h.tick()
			continue
		}

		scores := make([]float64, len(opts))
		for i, o := range opts {
			scores[i] = o.discounted
		}
		choice := Choose(s.params.Beta, h.Utility, scores, s.rng)
		if choice == Stay {
			h.tick()
			continue
		}

		o := opts[choice]
		if err := pop.Relocate(s.idx, h, o.precinctID, o.location); err != nil {
			return res, err
		}
		h.Utility = o.utility
		h.LastMoved = 0
		res.Moves++
	}
	slog.Debug("sorting round", "moves", res.Moves, "evaluated", res.Evaluated,
		"cooldown", res.SkippedCooldown, "no_capacity", res.NoCapacity)
	return res, nil
}

// candidates draws destinations in random counties other than the
// household's own that still have spare capacity. Returns none when every
// other county is full.
func (s *Sorter) candidates(h *Household) ([]option, error) {
	var open []*hierarchy.County
	for _, c := range s.idx.Counties() {
		if c.ID() != h.CountyID && c.HasSpace() && len(c.Precincts) > 0 {
			open = append(open, c)
		}
	}
	if len(open) == 0 || s.params.NMovingOptions <= 0 {
		return nil, nil
	}

	opts := make([]option, 0, s.params.NMovingOptions)
	for len(opts) < s.params.NMovingOptions {
		c := open[s.rng.Intn(len(open))]
		pid := c.Precincts[s.pickers[c.ID()].draw()]
		pr, err := s.idx.Precinct(pid)
		if err != nil {
			return nil, err
		}
		loc := pr.RandomPoint(s.rng)
		u, err := s.utility.At(h.Party, pid)
		if err != nil {
			return nil, err
		}
		opts = append(opts, option{
			precinctID: pid,
			location:   loc,
			utility:    u,
			discounted: Discount(u, s.normDistance(h.Location, loc), s.params.DistanceDecay),
		})
	}
	return opts, nil
}

func (s *Sorter) normDistance(a, b orb.Point) float64 {
	if s.diameter <= 0 || s.params.DistanceDecay == 0 {
		return 0
	}
	d := geo.Distance(a, b, s.geographic) / s.diameter
	if d > 1 {
		return 1
	}
	return d
}
