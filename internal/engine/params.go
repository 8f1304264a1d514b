package engine

import (
	"fmt"

	"github.com/talgya/gerrysort/internal/agents"
	"github.com/talgya/gerrysort/internal/config"
	"github.com/talgya/gerrysort/internal/hierarchy"
	"github.com/talgya/gerrysort/internal/redistrict"
	"github.com/talgya/gerrysort/internal/stats"
)

// Order is the sequence of the two phases within a round.
type Order uint8

const (
	GerrymanderThenSort Order = iota
	SortThenGerrymander
)

func (o Order) String() string {
	if o == SortThenGerrymander {
		return "sort_then_gerrymander"
	}
	return "gerrymander_then_sort"
}

// ControlRule decides how the controlling party follows election results.
type ControlRule uint8

const (
	RuleCongressional ControlRule = iota // Majority of congressional seats
	RuleLegislature                      // Majorities of both state chambers
	RuleFixed                            // Never changes
)

// Params are the resolved tunables of one run.
type Params struct {
	MaxRounds      int
	Sorting        bool
	Gerrymandering bool
	Order          Order
	Rule           ControlRule
	InitialControl string // "model" or a party name
	Seed           int64

	Spawn      agents.SpawnConfig
	Sort       agents.SortParams
	Utility    agents.UtilityParams
	Redistrict redistrict.Options
	Stats      stats.Options
}

// ParamsFromConfig resolves and checks the simulation section.
func ParamsFromConfig(c config.SimulationConfig) (Params, error) {
	p := Params{
		MaxRounds:      c.MaxRounds,
		Sorting:        c.Sorting,
		Gerrymandering: c.Gerrymandering,
		InitialControl: c.InitialControl,
		Seed:           c.Seed,
		Spawn:          agents.SpawnConfig{NPop: c.NPop, CapacityMul: c.CapacityMul},
		Sort: agents.SortParams{
			Tolerance:      c.Tolerance,
			Beta:           c.Beta,
			NMovingOptions: c.NMovingOptions,
			Cooldown:       c.MovingCooldown,
			DistanceDecay:  c.DistanceDecay,
		},
	}

	switch c.Order {
	case "", "gerrymander_then_sort":
		p.Order = GerrymanderThenSort
	case "sort_then_gerrymander":
		p.Order = SortThenGerrymander
	default:
		return p, fmt.Errorf("unknown order %q", c.Order)
	}
	switch c.ControlRule {
	case "", "congressional":
		p.Rule = RuleCongressional
	case "legislature":
		p.Rule = RuleLegislature
	case "fixed":
		p.Rule = RuleFixed
	default:
		return p, fmt.Errorf("unknown control rule %q", c.ControlRule)
	}
	if c.InitialControl != "model" {
		if _, err := hierarchy.ParseControl(c.InitialControl); err != nil {
			return p, err
		}
	}

	mode, err := agents.ParseCombineMode(c.Utility.Mode)
	if err != nil {
		return p, err
	}
	u := agents.DefaultUtilityParams()
	u.Scale = c.Utility.Scale
	u.Mode = mode
	u.PrecinctMismatch = c.Utility.PrecinctMismatch
	u.CountyMismatch = c.Utility.CountyMismatch
	u.DistrictMismatch = c.Utility.DistrictMismatch
	if len(c.Utility.Alpha) != 4 || len(c.Utility.Urbanicity.Red) != 4 || len(c.Utility.Urbanicity.Blue) != 4 {
		return p, fmt.Errorf("utility weights need 4 entries each")
	}
	copy(u.Alpha[:], c.Utility.Alpha)
	copy(u.Urbanicity[hierarchy.Red][:], c.Utility.Urbanicity.Red)
	copy(u.Urbanicity[hierarchy.Blue][:], c.Utility.Urbanicity.Blue)
	p.Utility = u

	iv, err := redistrict.ParseIntervention(c.Intervention)
	if err != nil {
		return p, err
	}
	p.Redistrict = redistrict.Options{
		Layer:              hierarchy.Congressional,
		Epsilon:            c.Epsilon,
		EnsembleSize:       c.EnsembleSize,
		Sigma:              c.Sigma,
		Intervention:       iv,
		InterventionWeight: c.InterventionWeight,
		CompetitiveMargin:  c.CompetitiveMargin,
		Attempts:           c.RedistrictAttempts,
		Timeout:            c.RedistrictTimeout,
	}
	p.Stats = stats.DefaultOptions()
	p.Stats.CompetitiveMargin = c.CompetitiveMargin
	return p, nil
}

// DefaultParams resolves the default configuration.
func DefaultParams() Params {
	p, err := ParamsFromConfig(config.Default().Simulation)
	if err != nil {
		panic(err)
	}
	return p
}
