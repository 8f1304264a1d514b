// Package dataset loads the normalized precinct/county GeoJSON schema and
// builds the geographic hierarchy from it.
package dataset

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"

	"github.com/talgya/gerrysort/internal/geo"
	"github.com/talgya/gerrysort/internal/hierarchy"
)

// ErrDataInconsistency is the fatal load-time error class: CRS mismatch,
// missing attributes, dangling parent references or invalid geometry.
var ErrDataInconsistency = errors.New("data inconsistency")

// Attribute names of the normalized schema.
const (
	AttrID               = "id"
	AttrCounty           = "county"
	AttrCountyName       = "county_name"
	AttrCongDist         = "congdist"
	AttrHouseDist        = "housedist"
	AttrSenDist          = "sendist"
	AttrPopulation       = "population"
	AttrUrbanicity       = "urbanicity"
	AttrCountyPopulation = "county_population"
	AttrPopulationShare  = "population_share"
	AttrCapacity         = "capacity"
)

// LayerAttrs maps each district layer to its precinct attribute.
var LayerAttrs = map[hierarchy.Layer]string{
	hierarchy.Congressional: AttrCongDist,
	hierarchy.StateHouse:    AttrHouseDist,
	hierarchy.StateSenate:   AttrSenDist,
}

// Precinct is one precinct row.
type Precinct struct {
	ID         string
	County     string
	Districts  map[hierarchy.Layer]string
	Population int
	Red        int
	Blue       int
	Geometry   orb.MultiPolygon
}

// County is one county row. Red and Blue are summed from member precincts.
type County struct {
	ID              string
	Name            string
	Urbanicity      hierarchy.Urbanicity
	Population      int
	PopulationShare float64
	Capacity        int
	Red             int
	Blue            int
	Geometry        orb.MultiPolygon
}

// Dataset is a validated, normalized input.
type Dataset struct {
	CRS       string
	Election  string
	Precincts []Precinct
	Counties  []County
	Layers    []hierarchy.Layer
}

func inconsistent(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDataInconsistency, fmt.Sprintf(format, args...))
}

// Validate checks referential integrity and fills derived county fields.
func (ds *Dataset) Validate() error {
	if len(ds.Precincts) == 0 {
		return inconsistent("no precincts")
	}
	if len(ds.Layers) == 0 || ds.Layers[0] != hierarchy.Congressional {
		return inconsistent("congressional district layer is required")
	}

	counties := make(map[string]*County, len(ds.Counties))
	for i := range ds.Counties {
		c := &ds.Counties[i]
		if _, dup := counties[c.ID]; dup {
			return inconsistent("duplicate county %s", c.ID)
		}
		if c.Population < 0 || c.Capacity < 0 {
			return inconsistent("county %s has negative population or capacity", c.ID)
		}
		c.Red, c.Blue = 0, 0
		counties[c.ID] = c
	}

	ids := make(map[string]bool, len(ds.Precincts))
	for _, p := range ds.Precincts {
		if p.ID == "" {
			return inconsistent("precinct without id")
		}
		if ids[p.ID] {
			return inconsistent("duplicate precinct %s", p.ID)
		}
		ids[p.ID] = true
		if len(p.Geometry) == 0 || geo.Area(p.Geometry) <= 0 {
			return inconsistent("precinct %s has empty or degenerate geometry", p.ID)
		}
		if p.Population < 0 || p.Red < 0 || p.Blue < 0 {
			return inconsistent("precinct %s has negative counts", p.ID)
		}
		c, ok := counties[p.County]
		if !ok {
			return inconsistent("precinct %s references unknown county %q", p.ID, p.County)
		}
		c.Red += p.Red
		c.Blue += p.Blue
		for _, layer := range ds.Layers {
			if p.Districts[layer] == "" {
				return inconsistent("precinct %s has no %s district", p.ID, layer)
			}
		}
	}

	total := 0
	for _, c := range ds.Counties {
		total += c.Population
	}
	if total == 0 {
		return inconsistent("total county population is zero")
	}
	for i := range ds.Counties {
		c := &ds.Counties[i]
		if c.PopulationShare <= 0 {
			c.PopulationShare = float64(c.Population) / float64(total)
		}
	}
	return nil
}

// Build registers every unit of the dataset in a new index, binds precincts
// to their parents, derives adjacency and dissolves district geometry.
// The returned index holds no residents yet.
func (ds *Dataset) Build() (*hierarchy.Index, error) {
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	idx := hierarchy.NewIndex(ds.CRS)

	for _, c := range ds.Counties {
		hc := hierarchy.NewCounty(c.ID, c.Geometry, c.Urbanicity)
		if c.Name != "" {
			hc.Name = c.Name
		}
		hc.SourcePopulation = c.Population
		hc.SourceCapacity = c.Capacity
		hc.SourceRed = c.Red
		hc.SourceBlue = c.Blue
		hc.PopulationShare = c.PopulationShare
		idx.AddCounty(hc)
	}

	seen := make(map[hierarchy.Layer]map[string]bool)
	for _, layer := range ds.Layers {
		seen[layer] = make(map[string]bool)
	}
	for _, p := range ds.Precincts {
		for _, layer := range ds.Layers {
			did := p.Districts[layer]
			if !seen[layer][did] {
				seen[layer][did] = true
				idx.AddDistrict(hierarchy.NewDistrict(did, layer))
			}
		}
	}

	for _, p := range ds.Precincts {
		hp := hierarchy.NewPrecinct(p.ID, p.County, p.Geometry)
		hp.SourcePopulation = p.Population
		hp.SourceRed = p.Red
		hp.SourceBlue = p.Blue
		idx.AddPrecinct(hp)
		binding := make(map[hierarchy.Layer]string, len(ds.Layers))
		for _, layer := range ds.Layers {
			binding[layer] = p.Districts[layer]
		}
		if err := idx.Bind(p.ID, p.County, binding); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDataInconsistency, err)
		}
	}

	idx.BuildAdjacency()
	idx.DissolveAll()
	return idx, nil
}

// TotalVotes returns the two-party vote of the dataset.
func (ds *Dataset) TotalVotes() (red, blue int) {
	for _, p := range ds.Precincts {
		red += p.Red
		blue += p.Blue
	}
	return red, blue
}

// BlueVoteShare returns the statewide two-party Blue share, 0.5 without votes.
func (ds *Dataset) BlueVoteShare() float64 {
	red, blue := ds.TotalVotes()
	if red+blue == 0 {
		return 0.5
	}
	return float64(blue) / float64(red+blue)
}

func toInt(v float64) int {
	return int(math.Round(v))
}
