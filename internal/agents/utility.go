package agents

import (
	"fmt"
	"math"

	"github.com/talgya/gerrysort/internal/hierarchy"
)

// CombineMode selects how match indicators combine into a utility.
type CombineMode uint8

const (
	Multiplicative CombineMode = iota // A·ΠXᵢ^aᵢ
	Additive                          // A·ΣaᵢXᵢ/Σaᵢ
)

// ParseCombineMode maps a config name to a CombineMode.
func ParseCombineMode(s string) (CombineMode, error) {
	switch s {
	case "", "multiplicative":
		return Multiplicative, nil
	case "additive":
		return Additive, nil
	}
	return Multiplicative, fmt.Errorf("unknown utility mode %q", s)
}

// UtilityParams are the weights of the household utility. Indicators are
// X1 precinct majority match, X2 county majority match, X3 congressional
// district majority match and X4 urbanicity preference. A match scores 1,
// a mismatch scores the corresponding credit.
type UtilityParams struct {
	Scale            float64
	Alpha            [4]float64
	Mode             CombineMode
	PrecinctMismatch float64
	CountyMismatch   float64
	DistrictMismatch float64

	// Urbanicity[party][category] is X4.
	Urbanicity [2][4]float64
}

// DefaultUtilityParams returns unit exponents with the standard credits.
func DefaultUtilityParams() UtilityParams {
	return UtilityParams{
		Scale:            1,
		Alpha:            [4]float64{1, 1, 1, 1},
		Mode:             Multiplicative,
		PrecinctMismatch: 0.25,
		CountyMismatch:   0.5,
		DistrictMismatch: 0.75,
		Urbanicity: [2][4]float64{
			hierarchy.Red:  {hierarchy.Rural: 1, hierarchy.SmallTown: 1, hierarchy.LargeTown: 0.75, hierarchy.Urban: 0.5},
			hierarchy.Blue: {hierarchy.Rural: 0.5, hierarchy.SmallTown: 0.75, hierarchy.LargeTown: 1, hierarchy.Urban: 1},
		},
	}
}

// UtilityModel evaluates household utility against the current majorities
// of the index.
type UtilityModel struct {
	params UtilityParams
	idx    *hierarchy.Index
}

// NewUtilityModel creates a utility model over an index.
func NewUtilityModel(idx *hierarchy.Index, params UtilityParams) *UtilityModel {
	return &UtilityModel{params: params, idx: idx}
}

// Params returns the model weights.
func (m *UtilityModel) Params() UtilityParams { return m.params }

// At returns the utility a household of party p would have in a precinct.
func (m *UtilityModel) At(p hierarchy.Party, precinctID string) (float64, error) {
	pr, err := m.idx.Precinct(precinctID)
	if err != nil {
		return 0, err
	}
	c, err := m.idx.County(m.idx.CountyOf(precinctID))
	if err != nil {
		return 0, err
	}

	x := [4]float64{
		credit(pr.Majority(), p, m.params.PrecinctMismatch),
		credit(c.Majority(), p, m.params.CountyMismatch),
		1,
		m.params.Urbanicity[p][c.Urbanicity],
	}
	if m.idx.HasLayer(hierarchy.Congressional) {
		d, err := m.idx.District(hierarchy.Congressional, m.idx.DistrictOf(hierarchy.Congressional, precinctID))
		if err != nil {
			return 0, err
		}
		x[2] = credit(d.Majority(), p, m.params.DistrictMismatch)
	}
	return m.combine(x), nil
}

func (m *UtilityModel) combine(x [4]float64) float64 {
	a := m.params.Alpha
	if m.params.Mode == Additive {
		num, den := 0.0, 0.0
		for i := range x {
			num += a[i] * x[i]
			den += a[i]
		}
		if den == 0 {
			return 0
		}
		return m.params.Scale * num / den
	}
	u := m.params.Scale
	for i := range x {
		u *= math.Pow(x[i], a[i])
	}
	return u
}

func credit(c hierarchy.Color, p hierarchy.Party, mismatch float64) float64 {
	if c.Matches(p) {
		return 1
	}
	return mismatch
}

// Discount lowers a utility by the normalized relocation distance.
// decay 0 leaves it unchanged.
func Discount(u, normDist, decay float64) float64 {
	return u * (1 - decay*normDist)
}
