// Package agents provides the household model, population bookkeeping, the
// utility model and the Boltzmann self-sorting engine.
package agents

import (
	"math"

	"github.com/paulmach/orb"

	"github.com/talgya/gerrysort/internal/hierarchy"
)

// HouseholdID is a unique identifier for a household.
type HouseholdID uint64

// NeverMoved is the initial LastMoved value of a household.
const NeverMoved = math.MaxInt

// Household is a partisan resident bound to a precinct. It holds ids of
// its enclosing units, never references to them.
type Household struct {
	ID       HouseholdID     `json:"id"`
	Party    hierarchy.Party `json:"party"`
	Location orb.Point       `json:"location"`

	PrecinctID  string                      `json:"precinct_id"`
	CountyID    string                      `json:"county_id"`
	DistrictIDs [hierarchy.NumLayers]string `json:"district_ids"`

	Utility   float64 `json:"utility"`
	Unhappy   bool    `json:"unhappy"`
	LastMoved int     `json:"last_moved"` // Rounds since last relocation
}

// tick advances the rounds-since-moved counter without overflowing.
func (h *Household) tick() {
	if h.LastMoved < NeverMoved {
		h.LastMoved++
	}
}

// bind refreshes the unit ids of the household from the index.
func (h *Household) bind(idx *hierarchy.Index, precinctID string) {
	h.PrecinctID = precinctID
	h.CountyID = idx.CountyOf(precinctID)
	for _, l := range idx.Layers() {
		h.DistrictIDs[l] = idx.DistrictOf(l, precinctID)
	}
}
