package redistrict

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/talgya/gerrysort/internal/hierarchy"
)

// Objective scores a plan from its part aggregates; higher is better.
type Objective interface {
	Score(parts []PartStats) float64
}

// ObjectiveFunc adapts a function to Objective.
type ObjectiveFunc func(parts []PartStats) float64

// Score implements Objective.
func (f ObjectiveFunc) Score(parts []PartStats) float64 { return f(parts) }

// Intervention names the secondary term blended into the partisan score.
type Intervention uint8

const (
	InterventionNone Intervention = iota
	InterventionCompetitive
	InterventionCompact
)

// ParseIntervention maps a config name to an Intervention.
func ParseIntervention(s string) (Intervention, error) {
	switch s {
	case "", "none":
		return InterventionNone, nil
	case "competitive":
		return InterventionCompetitive, nil
	case "compact":
		return InterventionCompact, nil
	}
	return InterventionNone, fmt.Errorf("unknown intervention %q", s)
}

func (i Intervention) String() string {
	switch i {
	case InterventionCompetitive:
		return "competitive"
	case InterventionCompact:
		return "compact"
	}
	return "none"
}

// PlanObjective is the redistricting actor's objective. A party in control
// maximizes its seat share; fair control minimizes the gap between the Blue
// seat share and Target, the Blue population share.
type PlanObjective struct {
	Control      hierarchy.Control
	Target       float64
	Intervention Intervention
	Weight       float64 // Share of the secondary term, in [0,1]
	Margin       float64 // Competitive when |blue-red| share gap is below
	Sigma        float64 // Std-dev of the score noise
	Rand         *rand.Rand
}

// Score implements Objective. It adds zero-mean Gaussian noise when Sigma
// is positive.
func (o *PlanObjective) Score(parts []PartStats) float64 {
	s := o.Base(parts)
	if o.Sigma > 0 && o.Rand != nil {
		s += o.Sigma * o.Rand.NormFloat64()
	}
	return s
}

// Base is the noiseless score.
func (o *PlanObjective) Base(parts []PartStats) float64 {
	if len(parts) == 0 {
		return 0
	}
	k := float64(len(parts))
	red, blue := 0, 0
	for _, p := range parts {
		switch p.Majority() {
		case hierarchy.ColorRed:
			red++
		case hierarchy.ColorBlue:
			blue++
		}
	}

	var partisan float64
	switch o.Control {
	case hierarchy.ControlRepublicans:
		partisan = float64(red) / k
	case hierarchy.ControlDemocrats:
		partisan = float64(blue) / k
	default:
		partisan = -math.Abs(float64(blue)/k - o.Target)
	}

	var secondary float64
	switch o.Intervention {
	case InterventionCompetitive:
		secondary = CompetitiveFraction(parts, o.Margin)
	case InterventionCompact:
		secondary = MeanCompactness(parts)
	default:
		return partisan
	}
	w := math.Max(0, math.Min(1, o.Weight))
	return (1-w)*partisan + w*secondary
}

// CompetitiveFraction returns the share of parts whose two-party vote gap
// is below margin.
func CompetitiveFraction(parts []PartStats, margin float64) float64 {
	if len(parts) == 0 {
		return 0
	}
	n := 0
	for _, p := range parts {
		t := hierarchy.Tally{Population: p.Population, Red: p.Red, Blue: p.Blue}
		if math.Abs(t.BlueShare()-t.RedShare()) < margin {
			n++
		}
	}
	return float64(n) / float64(len(parts))
}

// MeanCompactness returns the mean Polsby–Popper score of the parts.
func MeanCompactness(parts []PartStats) float64 {
	if len(parts) == 0 {
		return 0
	}
	sum := 0.0
	for _, p := range parts {
		sum += p.Compactness()
	}
	return sum / float64(len(parts))
}
