package dataset

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb/geojson"

	"github.com/talgya/gerrysort/internal/geo"
	"github.com/talgya/gerrysort/internal/hierarchy"
)

// DefaultCRS applies when a GeoJSON document carries no crs member.
const DefaultCRS = "EPSG:4326"

// Load reads a precinct layer and an optional separate county layer.
// An empty countyPath means county attributes ride on the precinct features.
func Load(precinctPath, countyPath, election string) (*Dataset, error) {
	f, err := os.Open(precinctPath)
	if err != nil {
		return nil, fmt.Errorf("open precincts: %w", err)
	}
	defer f.Close()

	ds, err := Decode(f, election)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", precinctPath, err)
	}
	if countyPath != "" {
		if err := decodeCountyFile(ds, countyPath); err != nil {
			return nil, err
		}
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

func decodeCountyFile(ds *Dataset, countyPath string) error {
	cf, err := os.Open(countyPath)
	if err != nil {
		return fmt.Errorf("open counties: %w", err)
	}
	defer cf.Close()
	if err := ds.DecodeCounties(cf); err != nil {
		return fmt.Errorf("decode %s: %w", countyPath, err)
	}
	return nil
}

type crsMember struct {
	CRS *struct {
		Properties struct {
			Name string `json:"name"`
		} `json:"properties"`
	} `json:"crs"`
}

// normalizeCRS turns OGC URNs into the short EPSG:n form.
func normalizeCRS(name string) string {
	switch {
	case name == "":
		return DefaultCRS
	case strings.HasSuffix(name, "CRS84"):
		return "CRS84"
	case strings.HasPrefix(name, "urn:ogc:def:crs:EPSG"):
		parts := strings.Split(name, ":")
		return "EPSG:" + parts[len(parts)-1]
	}
	return name
}

func decodeCollection(r io.Reader) (*geojson.FeatureCollection, string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", err
	}
	var member crsMember
	if err := json.Unmarshal(data, &member); err != nil {
		return nil, "", inconsistent("malformed GeoJSON: %v", err)
	}
	crs := ""
	if member.CRS != nil {
		crs = member.CRS.Properties.Name
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, "", inconsistent("malformed GeoJSON: %v", err)
	}
	return fc, normalizeCRS(crs), nil
}

// Decode parses a precinct FeatureCollection. Vote columns are
// <election>_R and <election>_D. County attributes found on precinct
// features are collected with the first occurrence winning; conflicting
// values are rejected.
func Decode(r io.Reader, election string) (*Dataset, error) {
	fc, crs, err := decodeCollection(r)
	if err != nil {
		return nil, err
	}
	ds := &Dataset{CRS: crs, Election: election}
	redCol, blueCol := election+"_R", election+"_D"

	layerSet := map[hierarchy.Layer]bool{}
	counties := map[string]*County{}

	for i, f := range fc.Features {
		props := f.Properties
		id, ok := str(props, AttrID)
		if !ok {
			return nil, inconsistent("feature %d: missing %q", i, AttrID)
		}
		mp, ok := geo.AsMulti(f.Geometry)
		if !ok {
			return nil, inconsistent("precinct %s: geometry is not polygonal", id)
		}
		p := Precinct{ID: id, Geometry: mp, Districts: map[hierarchy.Layer]string{}}
		if p.County, ok = str(props, AttrCounty); !ok {
			return nil, inconsistent("precinct %s: missing %q", id, AttrCounty)
		}
		for layer, attr := range LayerAttrs {
			if v, ok := str(props, attr); ok {
				p.Districts[layer] = v
				layerSet[layer] = true
			}
		}
		pop, ok := num(props, AttrPopulation)
		if !ok {
			return nil, inconsistent("precinct %s: missing %q", id, AttrPopulation)
		}
		red, okR := num(props, redCol)
		blue, okB := num(props, blueCol)
		if !okR || !okB {
			return nil, inconsistent("precinct %s: missing vote columns %s/%s", id, redCol, blueCol)
		}
		p.Population, p.Red, p.Blue = toInt(pop), toInt(red), toInt(blue)
		ds.Precincts = append(ds.Precincts, p)

		if err := mergeCounty(counties, p.County, props); err != nil {
			return nil, err
		}
	}

	for _, layer := range []hierarchy.Layer{hierarchy.Congressional, hierarchy.StateHouse, hierarchy.StateSenate} {
		if layerSet[layer] {
			ds.Layers = append(ds.Layers, layer)
		}
	}
	ds.Counties = sortedCounties(counties)
	return ds, nil
}

// mergeCounty records county attributes carried on a precinct feature.
func mergeCounty(counties map[string]*County, id string, props geojson.Properties) error {
	c, err := countyFromProps(id, props, false)
	if err != nil {
		return err
	}
	prev, ok := counties[id]
	if !ok {
		counties[id] = c
		return nil
	}
	if _, has := props[AttrUrbanicity]; has && prev.Urbanicity != c.Urbanicity {
		return inconsistent("county %s: conflicting %q", id, AttrUrbanicity)
	}
	if _, has := props[AttrCountyPopulation]; has && prev.Population != c.Population {
		return inconsistent("county %s: conflicting %q", id, AttrCountyPopulation)
	}
	if _, has := props[AttrCapacity]; has && prev.Capacity != c.Capacity {
		return inconsistent("county %s: conflicting %q", id, AttrCapacity)
	}
	return nil
}

func countyFromProps(id string, props geojson.Properties, required bool) (*County, error) {
	c := &County{ID: id, Name: id}
	if name, ok := str(props, AttrCountyName); ok {
		c.Name = name
	}
	if s, ok := str(props, AttrUrbanicity); ok {
		u, err := hierarchy.ParseUrbanicity(s)
		if err != nil {
			return nil, inconsistent("county %s: %v", id, err)
		}
		c.Urbanicity = u
	} else if required {
		return nil, inconsistent("county %s: missing %q", id, AttrUrbanicity)
	}
	if v, ok := num(props, AttrCountyPopulation); ok {
		c.Population = toInt(v)
	} else if required {
		return nil, inconsistent("county %s: missing %q", id, AttrCountyPopulation)
	}
	if v, ok := num(props, AttrCapacity); ok {
		c.Capacity = toInt(v)
	} else if required {
		return nil, inconsistent("county %s: missing %q", id, AttrCapacity)
	}
	if v, ok := num(props, AttrPopulationShare); ok {
		c.PopulationShare = v
	}
	return c, nil
}

// DecodeCounties replaces county attributes with a separate county layer.
// The layer's CRS must match the precinct layer.
func (ds *Dataset) DecodeCounties(r io.Reader) error {
	fc, crs, err := decodeCollection(r)
	if err != nil {
		return err
	}
	if crs != ds.CRS {
		return inconsistent("county layer CRS %s does not match precinct CRS %s", crs, ds.CRS)
	}
	counties := map[string]*County{}
	for i, f := range fc.Features {
		id, ok := str(f.Properties, AttrID)
		if !ok {
			id, ok = str(f.Properties, AttrCounty)
		}
		if !ok {
			return inconsistent("county feature %d: missing %q", i, AttrID)
		}
		c, err := countyFromProps(id, f.Properties, true)
		if err != nil {
			return err
		}
		if mp, ok := geo.AsMulti(f.Geometry); ok {
			c.Geometry = mp
		}
		counties[id] = c
	}
	ds.Counties = sortedCounties(counties)
	return nil
}

func sortedCounties(m map[string]*County) []County {
	out := make([]County, 0, len(m))
	for _, c := range m {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// str reads an identifier that may be encoded as a string or a number.
func str(props geojson.Properties, key string) (string, bool) {
	switch v := props[key].(type) {
	case string:
		return v, v != ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case json.Number:
		return v.String(), true
	}
	return "", false
}

// num reads a numeric attribute that may be encoded as a string.
func num(props geojson.Properties, key string) (float64, bool) {
	switch v := props[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}
