// Package hierarchy provides the geographic unit model (precincts, counties,
// districts), their population and party tallies, and the spatial index that
// maps precincts to their parent units.
package hierarchy

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a unit id is not registered.
var ErrNotFound = errors.New("unit not found")

// Party is a household's binary party affiliation.
type Party uint8

const (
	Red  Party = iota // Republican
	Blue              // Democratic
)

func (p Party) String() string {
	if p == Red {
		return "Red"
	}
	return "Blue"
}

// Color is the majority party of a unit, Tied when counts are equal.
type Color uint8

const (
	ColorTied Color = iota
	ColorRed
	ColorBlue
)

func (c Color) String() string {
	switch c {
	case ColorRed:
		return "Red"
	case ColorBlue:
		return "Blue"
	default:
		return "Tied"
	}
}

// Matches reports whether the color is won by party p.
func (c Color) Matches(p Party) bool {
	return (c == ColorRed && p == Red) || (c == ColorBlue && p == Blue)
}

// Layer identifies a district map.
type Layer uint8

const (
	Congressional Layer = iota
	StateHouse
	StateSenate
)

// NumLayers is the number of district layers.
const NumLayers = 3

func (l Layer) String() string {
	switch l {
	case Congressional:
		return "congressional"
	case StateHouse:
		return "state_house"
	case StateSenate:
		return "state_senate"
	default:
		return fmt.Sprintf("layer(%d)", uint8(l))
	}
}

// Level selects a registry in the index for id lookups and sampling.
type Level uint8

const (
	LevelPrecinct Level = iota
	LevelCounty
	LevelCongressional
	LevelStateHouse
	LevelStateSenate
)

// DistrictLevel returns the Level for a district layer.
func DistrictLevel(l Layer) Level {
	return LevelCongressional + Level(l)
}

// Urbanicity categorizes counties along the rural–urban continuum.
type Urbanicity uint8

const (
	Rural Urbanicity = iota
	SmallTown
	LargeTown
	Urban
)

// ParseUrbanicity maps dataset category names to Urbanicity.
func ParseUrbanicity(s string) (Urbanicity, error) {
	switch s {
	case "rural":
		return Rural, nil
	case "small_town":
		return SmallTown, nil
	case "large_town":
		return LargeTown, nil
	case "urban":
		return Urban, nil
	}
	return Rural, fmt.Errorf("unknown urbanicity %q", s)
}

func (u Urbanicity) String() string {
	switch u {
	case SmallTown:
		return "small_town"
	case LargeTown:
		return "large_town"
	case Urban:
		return "urban"
	default:
		return "rural"
	}
}

// Tally counts residents of a unit by party.
// Population == Red + Blue outside of an in-flight update.
type Tally struct {
	Population int `json:"population"`
	Red        int `json:"red"`
	Blue       int `json:"blue"`
}

// Add counts one resident of party p.
func (t *Tally) Add(p Party) {
	t.Population++
	if p == Red {
		t.Red++
	} else {
		t.Blue++
	}
}

// Remove uncounts one resident of party p.
func (t *Tally) Remove(p Party) {
	t.Population--
	if p == Red {
		t.Red--
	} else {
		t.Blue--
	}
}

// Plus returns t + o.
func (t Tally) Plus(o Tally) Tally {
	return Tally{Population: t.Population + o.Population, Red: t.Red + o.Red, Blue: t.Blue + o.Blue}
}

// Minus returns t - o.
func (t Tally) Minus(o Tally) Tally {
	return Tally{Population: t.Population - o.Population, Red: t.Red - o.Red, Blue: t.Blue - o.Blue}
}

// Consistent reports whether the counts are non-negative and sum up.
func (t Tally) Consistent() bool {
	return t.Red >= 0 && t.Blue >= 0 && t.Population == t.Red+t.Blue
}

// Majority returns the party holding more residents.
func (t Tally) Majority() Color {
	switch {
	case t.Red > t.Blue:
		return ColorRed
	case t.Blue > t.Red:
		return ColorBlue
	default:
		return ColorTied
	}
}

// RedShare returns the Red fraction, 0.5 for an empty unit.
func (t Tally) RedShare() float64 {
	if t.Population == 0 {
		return 0.5
	}
	return float64(t.Red) / float64(t.Population)
}

// BlueShare returns the Blue fraction, 0.5 for an empty unit.
func (t Tally) BlueShare() float64 {
	if t.Population == 0 {
		return 0.5
	}
	return float64(t.Blue) / float64(t.Population)
}

// Control is the party whose objective drives redistricting, or Fair.
type Control uint8

const (
	ControlFair Control = iota
	ControlRepublicans
	ControlDemocrats
)

// ParseControl maps config and report names to a Control.
func ParseControl(s string) (Control, error) {
	switch s {
	case "Republicans", "Republican", "republicans", "red":
		return ControlRepublicans, nil
	case "Democrats", "Democratic", "democrats", "blue":
		return ControlDemocrats, nil
	case "Fair", "Tied", "fair", "tied":
		return ControlFair, nil
	}
	return ControlFair, fmt.Errorf("unknown control %q", s)
}

func (c Control) String() string {
	switch c {
	case ControlRepublicans:
		return "Republicans"
	case ControlDemocrats:
		return "Democrats"
	default:
		return "Fair"
	}
}

// Party returns the controlling party; ok is false for Fair.
func (c Control) Party() (Party, bool) {
	switch c {
	case ControlRepublicans:
		return Red, true
	case ControlDemocrats:
		return Blue, true
	}
	return Red, false
}
