package world

import (
	"fmt"
	"io"

	"github.com/paulmach/orb/geojson"

	"github.com/talgya/gerrysort/internal/dataset"
)

// WriteGeoJSON encodes a dataset as a precinct FeatureCollection in the
// normalized schema, county attributes carried on every precinct.
func WriteGeoJSON(w io.Writer, ds *dataset.Dataset) error {
	counties := make(map[string]dataset.County, len(ds.Counties))
	for _, c := range ds.Counties {
		counties[c.ID] = c
	}

	fc := geojson.NewFeatureCollection()
	fc.ExtraMembers = geojson.Properties{
		"crs": map[string]any{
			"type":       "name",
			"properties": map[string]any{"name": ds.CRS},
		},
	}
	for _, p := range ds.Precincts {
		f := geojson.NewFeature(p.Geometry)
		f.Properties[dataset.AttrID] = p.ID
		f.Properties[dataset.AttrCounty] = p.County
		f.Properties[dataset.AttrPopulation] = p.Population
		f.Properties[ds.Election+"_R"] = p.Red
		f.Properties[ds.Election+"_D"] = p.Blue
		for layer, did := range p.Districts {
			f.Properties[dataset.LayerAttrs[layer]] = did
		}
		if c, ok := counties[p.County]; ok {
			f.Properties[dataset.AttrCountyName] = c.Name
			f.Properties[dataset.AttrUrbanicity] = c.Urbanicity.String()
			f.Properties[dataset.AttrCountyPopulation] = c.Population
			f.Properties[dataset.AttrCapacity] = c.Capacity
		}
		fc.Append(f)
	}

	data, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal geojson: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write geojson: %w", err)
	}
	return nil
}
