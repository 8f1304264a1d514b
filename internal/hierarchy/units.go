package hierarchy

import (
	"math/rand"

	"github.com/paulmach/orb"

	"github.com/talgya/gerrysort/internal/geo"
)

// GeoUnit is the capability set shared by precincts, counties and districts.
type GeoUnit interface {
	ID() string
	Geometry() orb.MultiPolygon
	Tally() Tally
	Majority() Color
	UpdateMajority()
	Contains(pt orb.Point) bool
	RandomPoint(rng *rand.Rand) orb.Point
}

// unit holds the fields every variant carries.
type unit struct {
	id    string
	geom  orb.MultiPolygon
	tally Tally
	color Color
}

func (u *unit) ID() string                         { return u.id }
func (u *unit) Geometry() orb.MultiPolygon         { return u.geom }
func (u *unit) Tally() Tally                       { return u.tally }
func (u *unit) Majority() Color                    { return u.color }
func (u *unit) UpdateMajority()                    { u.color = u.tally.Majority() }
func (u *unit) Contains(pt orb.Point) bool         { return geo.Contains(u.geom, pt) }
func (u *unit) RandomPoint(r *rand.Rand) orb.Point { return geo.RandomPoint(u.geom, r) }

// Precinct is the leaf voting unit.
type Precinct struct {
	unit

	CountyID  string
	Area      float64
	Perimeter float64

	// Source attributes from the loaded election.
	SourcePopulation int
	SourceRed        int
	SourceBlue       int
}

// NewPrecinct creates a precinct with its geometry measures precomputed.
func NewPrecinct(id, countyID string, geom orb.MultiPolygon) *Precinct {
	return &Precinct{
		unit:      unit{id: id, geom: geom},
		CountyID:  countyID,
		Area:      geo.Area(geom),
		Perimeter: geo.Perimeter(geom),
	}
}

// SourceVotes returns the total two-party vote recorded for the precinct.
func (p *Precinct) SourceVotes() int {
	return p.SourceRed + p.SourceBlue
}

// County is a mid-level unit with a soft residency capacity.
type County struct {
	unit

	Name       string
	Urbanicity Urbanicity
	Capacity   int
	Precincts  []string

	// Source attributes used to size the initial population and capacity.
	SourcePopulation int
	SourceCapacity   int
	SourceRed        int
	SourceBlue       int
	PopulationShare  float64
}

// NewCounty creates a county.
func NewCounty(id string, geom orb.MultiPolygon, urb Urbanicity) *County {
	return &County{unit: unit{id: id, geom: geom}, Name: id, Urbanicity: urb}
}

// HasSpace reports whether the county is below capacity.
func (c *County) HasSpace() bool {
	return c.tally.Population < c.Capacity
}

// SourceRedShare returns the recorded two-party Red vote share, 0.5 when absent.
func (c *County) SourceRedShare() float64 {
	total := c.SourceRed + c.SourceBlue
	if total == 0 {
		return 0.5
	}
	return float64(c.SourceRed) / float64(total)
}

// District is an electoral unit whose boundary is redrawn by redistricting.
type District struct {
	unit

	Layer     Layer
	Precincts []string
	Area      float64
	Perimeter float64
}

// NewDistrict creates an empty district; geometry is set by dissolving members.
func NewDistrict(id string, layer Layer) *District {
	return &District{unit: unit{id: id}, Layer: layer}
}

// Compactness returns the Polsby–Popper score of the district.
func (d *District) Compactness() float64 {
	return geo.PolsbyPopper(d.Area, d.Perimeter)
}

func (d *District) removeMember(precinctID string) {
	for i, id := range d.Precincts {
		if id == precinctID {
			d.Precincts = append(d.Precincts[:i], d.Precincts[i+1:]...)
			return
		}
	}
}

func (d *District) hasMember(precinctID string) bool {
	for _, id := range d.Precincts {
		if id == precinctID {
			return true
		}
	}
	return false
}
