package agents

import (
	"fmt"
	"sort"

	"github.com/paulmach/orb"

	"github.com/talgya/gerrysort/internal/hierarchy"
)

// Population is the fixed set of households of a run, in the stable order
// the sorting engine visits them.
type Population struct {
	households []*Household
	byID       map[HouseholdID]*Household
	byPrecinct map[string]map[HouseholdID]*Household

	NRed  int
	NBlue int
}

// NewPopulation creates an empty population.
func NewPopulation() *Population {
	return &Population{
		byID:       make(map[HouseholdID]*Household),
		byPrecinct: make(map[string]map[HouseholdID]*Household),
	}
}

// Len returns the number of households.
func (p *Population) Len() int { return len(p.households) }

// All returns households in visiting order. Callers must not modify the slice.
func (p *Population) All() []*Household { return p.households }

// Get returns a household by id.
func (p *Population) Get(id HouseholdID) (*Household, bool) {
	h, ok := p.byID[id]
	return h, ok
}

// Settle adds a new household to the population and counts it in the index.
func (p *Population) Settle(idx *hierarchy.Index, h *Household, precinctID string) error {
	if _, dup := p.byID[h.ID]; dup {
		return fmt.Errorf("household %d already settled", h.ID)
	}
	if err := idx.AddResident(precinctID, h.Party); err != nil {
		return fmt.Errorf("settle household %d: %w", h.ID, err)
	}
	h.bind(idx, precinctID)
	p.households = append(p.households, h)
	p.byID[h.ID] = h
	p.index(h)
	if h.Party == hierarchy.Red {
		p.NRed++
	} else {
		p.NBlue++
	}
	return nil
}

// Relocate moves a household to a new precinct and location. The index is
// updated first; on error neither the index nor the household changes.
func (p *Population) Relocate(idx *hierarchy.Index, h *Household, precinctID string, loc orb.Point) error {
	if err := idx.MoveResident(h.Party, h.PrecinctID, precinctID); err != nil {
		return fmt.Errorf("relocate household %d: %w", h.ID, err)
	}
	p.unindex(h)
	h.bind(idx, precinctID)
	h.Location = loc
	p.index(h)
	return nil
}

// InPrecinct returns the residents of a precinct ordered by id.
func (p *Population) InPrecinct(precinctID string) []*Household {
	m := p.byPrecinct[precinctID]
	out := make([]*Household, 0, len(m))
	for _, h := range m {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Rebind refreshes the district ids of residents of reassigned precincts.
func (p *Population) Rebind(idx *hierarchy.Index, delta hierarchy.Delta) {
	for _, m := range delta.Moves {
		for _, h := range p.byPrecinct[m.PrecinctID] {
			h.DistrictIDs[delta.Layer] = idx.DistrictOf(delta.Layer, m.PrecinctID)
		}
	}
}

// Counts tallies happy and unhappy households per party.
type Counts struct {
	Happy       int `json:"happy" db:"happy"`
	Unhappy     int `json:"unhappy" db:"unhappy"`
	HappyRed    int `json:"happy_red" db:"happy_red"`
	HappyBlue   int `json:"happy_blue" db:"happy_blue"`
	UnhappyRed  int `json:"unhappy_red" db:"unhappy_red"`
	UnhappyBlue int `json:"unhappy_blue" db:"unhappy_blue"`
}

// Happiness counts happy and unhappy households by party.
func (p *Population) Happiness() Counts {
	var c Counts
	for _, h := range p.households {
		switch {
		case h.Unhappy && h.Party == hierarchy.Red:
			c.UnhappyRed++
		case h.Unhappy:
			c.UnhappyBlue++
		case h.Party == hierarchy.Red:
			c.HappyRed++
		default:
			c.HappyBlue++
		}
	}
	c.Happy = c.HappyRed + c.HappyBlue
	c.Unhappy = c.UnhappyRed + c.UnhappyBlue
	return c
}

// MeanUtility returns the average household utility, 0 when empty.
func (p *Population) MeanUtility() float64 {
	if len(p.households) == 0 {
		return 0
	}
	sum := 0.0
	for _, h := range p.households {
		sum += h.Utility
	}
	return sum / float64(len(p.households))
}

// BlueShare returns the Blue fraction of the population, 0.5 when empty.
func (p *Population) BlueShare() float64 {
	n := p.NRed + p.NBlue
	if n == 0 {
		return 0.5
	}
	return float64(p.NBlue) / float64(n)
}

func (p *Population) index(h *Household) {
	m := p.byPrecinct[h.PrecinctID]
	if m == nil {
		m = make(map[HouseholdID]*Household)
		p.byPrecinct[h.PrecinctID] = m
	}
	m[h.ID] = h
}

func (p *Population) unindex(h *Household) {
	delete(p.byPrecinct[h.PrecinctID], h.ID)
}
