package stats

import (
	"math"

	"github.com/talgya/gerrysort/internal/agents"
	"github.com/talgya/gerrysort/internal/hierarchy"
)

// Options select what Compute measures.
type Options struct {
	Layer             hierarchy.Layer   // Layer the fairness metrics are taken on
	Chambers          []hierarchy.Layer // Layers that must agree for control
	CompetitiveMargin float64
}

// DefaultOptions measures and decides control on the congressional layer.
func DefaultOptions() Options {
	return Options{
		Layer:             hierarchy.Congressional,
		Chambers:          []hierarchy.Layer{hierarchy.Congressional},
		CompetitiveMargin: 0.1,
	}
}

// LayerSeats is the seat count of one district layer.
type LayerSeats struct {
	Layer string `json:"layer"`
	SeatCount
}

// Snapshot is the statistics of one round. Round fields are filled in by
// the simulation; Compute owns the rest.
type Snapshot struct {
	Round             int     `json:"round" db:"round"`
	Control           string  `json:"control" db:"control"`
	Moves             int     `json:"moves" db:"moves"`
	ChangeMap         float64 `json:"change_map" db:"change_map"`
	RedistrictSkipped bool    `json:"redistrict_skipped" db:"redistrict_skipped"`

	Seats           []LayerSeats `json:"seats" db:"-"`
	ProjectedWinner string       `json:"projected_winner" db:"projected_winner"`
	ProjectedMargin int          `json:"projected_margin" db:"projected_margin"`

	EfficiencyGap    float64  `json:"efficiency_gap" db:"efficiency_gap"`
	MeanMedian       *float64 `json:"mean_median" db:"mean_median"`
	Declination      *float64 `json:"declination" db:"declination"`
	MaxPopDeviation  float64  `json:"max_pop_deviation" db:"max_pop_deviation"`
	MeanPopDeviation float64  `json:"mean_pop_deviation" db:"mean_pop_deviation"`
	PopVariance      float64  `json:"pop_variance" db:"pop_variance"`
	Compactness      float64  `json:"compactness" db:"compactness"`
	Competitiveness  float64  `json:"competitiveness" db:"competitiveness"`
	CompetitiveSeats int      `json:"competitive_seats" db:"competitive_seats"`
	Segregation      float64  `json:"segregation" db:"segregation"`

	agents.Counts
	AvgUtility      float64 `json:"avg_utility" db:"avg_utility"`
	TotalPopulation int     `json:"total_population" db:"total_population"`
	BlueShare       float64 `json:"blue_share" db:"blue_share"`
}

// SeatsOf returns the seat count of a layer, zero when absent.
func (s Snapshot) SeatsOf(l hierarchy.Layer) SeatCount {
	for _, ls := range s.Seats {
		if ls.Layer == l.String() {
			return ls.SeatCount
		}
	}
	return SeatCount{}
}

// LayerVotes returns the per-district results of a layer in id order.
func LayerVotes(idx *hierarchy.Index, l hierarchy.Layer) []Votes {
	ds := idx.Districts(l)
	out := make([]Votes, len(ds))
	for i, d := range ds {
		t := d.Tally()
		out[i] = Votes{Red: t.Red, Blue: t.Blue}
	}
	return out
}

// Compute measures the current state. Calling it twice without a state
// change yields equal snapshots.
func Compute(idx *hierarchy.Index, pop *agents.Population, opts Options) Snapshot {
	var s Snapshot
	for _, l := range idx.Layers() {
		s.Seats = append(s.Seats, LayerSeats{Layer: l.String(), SeatCount: Seats(LayerVotes(idx, l))})
	}
	winner, margin := ProjectedWinner(s, opts.Chambers)
	s.ProjectedWinner = winner.String()
	s.ProjectedMargin = margin

	total := idx.TotalPopulation()
	s.TotalPopulation = total
	votes := LayerVotes(idx, opts.Layer)
	s.EfficiencyGap = EfficiencyGap(votes, total)
	s.MeanMedian = Optional(MeanMedian(votes))
	s.Declination = Optional(Declination(votes))

	districts := idx.Districts(opts.Layer)
	pops := make([]int, len(districts))
	compact := 0.0
	for i, d := range districts {
		pops[i] = d.Tally().Population
		compact += d.Compactness()
	}
	if len(districts) > 0 {
		s.Compactness = compact / float64(len(districts))
	}
	dev := PopulationDeviation(pops)
	s.MaxPopDeviation, s.MeanPopDeviation, s.PopVariance = dev.Max, dev.Mean, dev.Variance
	s.Competitiveness, s.CompetitiveSeats = Competitiveness(votes, opts.CompetitiveMargin)

	precincts := idx.Precincts()
	tallies := make([]hierarchy.Tally, len(precincts))
	for i, p := range precincts {
		tallies[i] = p.Tally()
	}
	s.Segregation = Segregation(tallies)

	if pop != nil {
		s.Counts = pop.Happiness()
		s.AvgUtility = pop.MeanUtility()
		s.BlueShare = pop.BlueShare()
	}
	return s
}

// ProjectedWinner returns the party that holds more seats than the other
// in every chamber, and the summed seat margin over those chambers. Fair
// with margin 0 when the chambers disagree or any is tied.
func ProjectedWinner(s Snapshot, chambers []hierarchy.Layer) (hierarchy.Control, int) {
	if len(chambers) == 0 {
		return hierarchy.ControlFair, 0
	}
	redAll, blueAll := true, true
	margin := 0
	for _, l := range chambers {
		c := s.SeatsOf(l)
		redAll = redAll && c.Red > c.Blue
		blueAll = blueAll && c.Blue > c.Red
		margin += c.Red - c.Blue
	}
	switch {
	case redAll:
		return hierarchy.ControlRepublicans, margin
	case blueAll:
		return hierarchy.ControlDemocrats, -margin
	}
	return hierarchy.ControlFair, 0
}

// Optional maps NaN to nil.
func Optional(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}
