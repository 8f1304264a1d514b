// Package stats derives fairness, competitiveness, compactness and
// segregation metrics from the current hierarchy and population. Every
// function here is pure.
package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/talgya/gerrysort/internal/hierarchy"
)

// Votes is the two-party result of one district.
type Votes struct {
	Red  int
	Blue int
}

// Total returns Red + Blue.
func (v Votes) Total() int { return v.Red + v.Blue }

// BlueShare returns the Blue fraction, 0.5 when empty.
func (v Votes) BlueShare() float64 {
	if v.Total() == 0 {
		return 0.5
	}
	return float64(v.Blue) / float64(v.Total())
}

// Winner returns the strict majority color.
func (v Votes) Winner() hierarchy.Color {
	return hierarchy.Tally{Population: v.Total(), Red: v.Red, Blue: v.Blue}.Majority()
}

// Wasted returns the votes each side cast beyond what it needed to win, or
// for a loser all of its votes. A tied district wastes nothing.
func (v Votes) Wasted() (red, blue int) {
	threshold := (v.Total() + 1) / 2
	switch v.Winner() {
	case hierarchy.ColorRed:
		return v.Red - threshold, v.Blue
	case hierarchy.ColorBlue:
		return v.Red, v.Blue - threshold
	}
	return 0, 0
}

// SeatCount tallies district winners of one layer.
type SeatCount struct {
	Red  int `json:"red"`
	Blue int `json:"blue"`
	Tied int `json:"tied"`
}

// Total returns the number of seats.
func (s SeatCount) Total() int { return s.Red + s.Blue + s.Tied }

// Seats counts winners.
func Seats(votes []Votes) SeatCount {
	var s SeatCount
	for _, v := range votes {
		switch v.Winner() {
		case hierarchy.ColorRed:
			s.Red++
		case hierarchy.ColorBlue:
			s.Blue++
		default:
			s.Tied++
		}
	}
	return s
}

// EfficiencyGap returns (Blue wasted − Red wasted) / total population. 0
// when nobody votes.
func EfficiencyGap(votes []Votes, totalPopulation int) float64 {
	if totalPopulation == 0 {
		return 0
	}
	var red, blue int
	for _, v := range votes {
		r, b := v.Wasted()
		red += r
		blue += b
	}
	return float64(blue-red) / float64(totalPopulation)
}

func blueShares(votes []Votes) []float64 {
	shares := make([]float64, len(votes))
	for i, v := range votes {
		shares[i] = v.BlueShare()
	}
	sort.Float64s(shares)
	return shares
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// MeanMedian returns mean − median of the district Blue shares. NaN when
// there are no districts.
func MeanMedian(votes []Votes) float64 {
	if len(votes) == 0 {
		return math.NaN()
	}
	shares := blueShares(votes)
	return stat.Mean(shares, nil) - median(shares)
}

// Declination compares the mean Blue share of Red-won and Blue-won
// districts against the 50% line. Tied districts are left out. NaN when
// either side won no district.
func Declination(votes []Votes) float64 {
	var red, blue []float64
	for _, v := range votes {
		switch v.Winner() {
		case hierarchy.ColorRed:
			red = append(red, v.BlueShare())
		case hierarchy.ColorBlue:
			blue = append(blue, v.BlueShare())
		}
	}
	if len(red) == 0 || len(blue) == 0 {
		return math.NaN()
	}
	n := float64(len(red) + len(blue))
	thetaRed := math.Atan((1 - 2*stat.Mean(red, nil)) * n / float64(len(red)))
	thetaBlue := math.Atan((2*stat.Mean(blue, nil) - 1) * n / float64(len(blue)))
	return 2 * (thetaBlue - thetaRed) / math.Pi
}

// Deviation is the spread of district populations around the ideal.
type Deviation struct {
	Max      float64 `json:"max"`
	Mean     float64 `json:"mean"`
	Variance float64 `json:"variance"`
}

// PopulationDeviation returns max and mean |pop − ideal| / ideal and the
// population variance. The ideal is the mean district population.
func PopulationDeviation(pops []int) Deviation {
	if len(pops) == 0 {
		return Deviation{}
	}
	x := make([]float64, len(pops))
	for i, p := range pops {
		x[i] = float64(p)
	}
	ideal := stat.Mean(x, nil)
	d := Deviation{Variance: stat.PopVariance(x, nil)}
	if ideal == 0 {
		return d
	}
	sum := 0.0
	for _, p := range x {
		dev := math.Abs(p-ideal) / ideal
		d.Max = math.Max(d.Max, dev)
		sum += dev
	}
	d.Mean = sum / float64(len(x))
	return d
}

// Competitiveness returns the mean of 1 − |blue − red| share across
// districts and the number of districts whose share gap is below margin.
func Competitiveness(votes []Votes, margin float64) (float64, int) {
	if len(votes) == 0 {
		return 0, 0
	}
	sum, seats := 0.0, 0
	for _, v := range votes {
		gap := math.Abs(2*v.BlueShare() - 1)
		sum += 1 - gap
		if gap < margin {
			seats++
		}
	}
	return sum / float64(len(votes)), seats
}

// Segregation returns, averaged over units with at least two residents,
// the chance that another resident of the same unit shares one's party.
func Segregation(tallies []hierarchy.Tally) float64 {
	var vals []float64
	for _, t := range tallies {
		n := t.Population
		if n < 2 {
			continue
		}
		same := float64(t.Red*(t.Red-1) + t.Blue*(t.Blue-1))
		vals = append(vals, same/float64(n*(n-1)))
	}
	if len(vals) == 0 {
		return 0
	}
	return stat.Mean(vals, nil)
}
