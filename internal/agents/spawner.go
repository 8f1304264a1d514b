package agents

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/talgya/gerrysort/internal/entropy"
	"github.com/talgya/gerrysort/internal/hierarchy"
)

// SpawnConfig controls initial population generation.
type SpawnConfig struct {
	NPop        int     // Target population across all counties
	CapacityMul float64 // Scales every county's capacity
}

// Spawner creates households for the simulation.
type Spawner struct {
	rng    *rand.Rand
	nextID HouseholdID
}

// NewSpawner creates a spawner drawing from rng.
func NewSpawner(rng *rand.Rand) *Spawner {
	return &Spawner{rng: rng, nextID: 1}
}

// Spawn populates every county of the index. Each county receives
// ceil(share·npop) households, its capacity is scaled from the recorded
// capacity-to-population ratio, and each household lands in a precinct
// drawn by recorded vote total with party Red at the county's Red share.
func (s *Spawner) Spawn(idx *hierarchy.Index, cfg SpawnConfig) (*Population, error) {
	if cfg.NPop <= 0 {
		return nil, fmt.Errorf("spawn: npop must be positive, got %d", cfg.NPop)
	}
	if cfg.CapacityMul <= 0 {
		cfg.CapacityMul = 1
	}
	pop := NewPopulation()

	for _, c := range idx.Counties() {
		n := int(math.Ceil(c.PopulationShare * float64(cfg.NPop)))
		c.Capacity = countyCapacity(c, n, cfg.CapacityMul)
		if n == 0 || len(c.Precincts) == 0 {
			continue
		}

		weights := make([]float64, len(c.Precincts))
		for i, pid := range c.Precincts {
			p, err := idx.Precinct(pid)
			if err != nil {
				return nil, fmt.Errorf("spawn county %s: %w", c.ID(), err)
			}
			weights[i] = float64(p.SourceVotes())
		}
		pick := newWeighted(weights, s.rng)
		redShare := c.SourceRedShare()

		for i := 0; i < n; i++ {
			pid := c.Precincts[pick.draw()]
			pr, _ := idx.Precinct(pid)
			party := hierarchy.Blue
			if redShare > s.rng.Float64() {
				party = hierarchy.Red
			}
			h := &Household{
				ID:        s.nextID,
				Party:     party,
				Location:  pr.RandomPoint(s.rng),
				LastMoved: NeverMoved,
			}
			s.nextID++
			if err := pop.Settle(idx, h, pid); err != nil {
				return nil, err
			}
		}
	}
	return pop, nil
}

func countyCapacity(c *hierarchy.County, n int, mul float64) int {
	ratio := 1.0
	if c.SourcePopulation > 0 && c.SourceCapacity > 0 {
		ratio = float64(c.SourceCapacity) / float64(c.SourcePopulation)
	}
	return int(math.Ceil(ratio * float64(n) * mul))
}

// weighted draws indices proportionally to non-negative weights, uniformly
// when every weight is zero.
type weighted struct {
	dist distuv.Categorical
	n    int
}

func newWeighted(w []float64, rng *rand.Rand) weighted {
	clean := make([]float64, len(w))
	total := 0.0
	for i, v := range w {
		if v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0) {
			clean[i] = v
			total += v
		}
	}
	if total == 0 {
		for i := range clean {
			clean[i] = 1
		}
	}
	if len(clean) == 0 {
		return weighted{}
	}
	return weighted{dist: distuv.NewCategorical(clean, entropy.Adapt(rng)), n: len(clean)}
}

// draw returns -1 when there is nothing to draw from.
func (w weighted) draw() int {
	if w.n == 0 {
		return -1
	}
	return int(w.dist.Rand())
}
