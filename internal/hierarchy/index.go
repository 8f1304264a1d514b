package hierarchy

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/paulmach/orb"

	"github.com/talgya/gerrysort/internal/geo"
)

// Index is the id-keyed registry of every geographic unit plus the
// precinct→parent assignment maps. The maps are the single source of truth
// for ownership; every tally mutation goes through the index.
type Index struct {
	CRS string

	precincts map[string]*Precinct
	counties  map[string]*County
	districts [NumLayers]map[string]*District

	precinctCounty   map[string]string
	precinctDistrict [NumLayers]map[string]string

	// Sorted ids for deterministic sampling under a fixed seed.
	precinctIDs []string
	countyIDs   []string
	districtIDs [NumLayers][]string

	// Shared boundary length between adjacent precincts.
	neighbors map[string]map[string]float64
}

// NewIndex creates an empty index.
func NewIndex(crs string) *Index {
	x := &Index{
		CRS:            crs,
		precincts:      make(map[string]*Precinct),
		counties:       make(map[string]*County),
		precinctCounty: make(map[string]string),
		neighbors:      make(map[string]map[string]float64),
	}
	for l := 0; l < NumLayers; l++ {
		x.districts[l] = make(map[string]*District)
		x.precinctDistrict[l] = make(map[string]string)
	}
	return x
}

// AddPrecinct registers a precinct. Its county binding is made with Bind.
func (x *Index) AddPrecinct(p *Precinct) {
	if _, ok := x.precincts[p.id]; !ok {
		x.precinctIDs = insertSorted(x.precinctIDs, p.id)
	}
	x.precincts[p.id] = p
}

// AddCounty registers a county.
func (x *Index) AddCounty(c *County) {
	if _, ok := x.counties[c.id]; !ok {
		x.countyIDs = insertSorted(x.countyIDs, c.id)
	}
	x.counties[c.id] = c
}

// AddDistrict registers a district in its layer.
func (x *Index) AddDistrict(d *District) {
	if _, ok := x.districts[d.Layer][d.id]; !ok {
		x.districtIDs[d.Layer] = insertSorted(x.districtIDs[d.Layer], d.id)
	}
	x.districts[d.Layer][d.id] = d
}

func insertSorted(ids []string, id string) []string {
	i := sort.SearchStrings(ids, id)
	ids = append(ids, "")
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	return ids
}

// Bind attaches a precinct to its county and to one district per layer.
// Layers absent from districtIDs are left unbound.
func (x *Index) Bind(precinctID, countyID string, districtIDs map[Layer]string) error {
	p, ok := x.precincts[precinctID]
	if !ok {
		return fmt.Errorf("bind precinct %s: %w", precinctID, ErrNotFound)
	}
	c, ok := x.counties[countyID]
	if !ok {
		return fmt.Errorf("bind precinct %s to county %s: %w", precinctID, countyID, ErrNotFound)
	}
	for layer, did := range districtIDs {
		if _, ok := x.districts[layer][did]; !ok {
			return fmt.Errorf("bind precinct %s to %s district %s: %w", precinctID, layer, did, ErrNotFound)
		}
	}

	p.CountyID = countyID
	x.precinctCounty[precinctID] = countyID
	c.Precincts = append(c.Precincts, precinctID)
	for layer, did := range districtIDs {
		d := x.districts[layer][did]
		x.precinctDistrict[layer][precinctID] = did
		d.Precincts = append(d.Precincts, precinctID)
	}
	return nil
}

// SetNeighbors records a shared boundary between two precincts.
func (x *Index) SetNeighbors(a, b string, length float64) {
	if a == b {
		return
	}
	if x.neighbors[a] == nil {
		x.neighbors[a] = make(map[string]float64)
	}
	if x.neighbors[b] == nil {
		x.neighbors[b] = make(map[string]float64)
	}
	x.neighbors[a][b] = length
	x.neighbors[b][a] = length
}

// BuildAdjacency derives precinct adjacency from shared boundary segments.
func (x *Index) BuildAdjacency() {
	shapes := make([]orb.MultiPolygon, len(x.precinctIDs))
	for i, id := range x.precinctIDs {
		shapes[i] = x.precincts[id].geom
	}
	for _, e := range geo.SharedBoundaries(shapes) {
		x.SetNeighbors(x.precinctIDs[e.I], x.precinctIDs[e.J], e.Length)
	}
}

// Neighbors returns adjacent precinct ids in sorted order.
func (x *Index) Neighbors(precinctID string) []string {
	out := make([]string, 0, len(x.neighbors[precinctID]))
	for id := range x.neighbors[precinctID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SharedLength returns the boundary length shared by two precincts.
func (x *Index) SharedLength(a, b string) float64 {
	return x.neighbors[a][b]
}

// Unit returns any registered unit by level and id.
func (x *Index) Unit(level Level, id string) (GeoUnit, error) {
	switch level {
	case LevelPrecinct:
		if p, ok := x.precincts[id]; ok {
			return p, nil
		}
	case LevelCounty:
		if c, ok := x.counties[id]; ok {
			return c, nil
		}
	case LevelCongressional, LevelStateHouse, LevelStateSenate:
		if d, ok := x.districts[level-LevelCongressional][id]; ok {
			return d, nil
		}
	}
	return nil, fmt.Errorf("level %d id %s: %w", level, id, ErrNotFound)
}

// Precinct returns a precinct by id.
func (x *Index) Precinct(id string) (*Precinct, error) {
	if p, ok := x.precincts[id]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("precinct %s: %w", id, ErrNotFound)
}

// County returns a county by id.
func (x *Index) County(id string) (*County, error) {
	if c, ok := x.counties[id]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("county %s: %w", id, ErrNotFound)
}

// District returns a district by layer and id.
func (x *Index) District(layer Layer, id string) (*District, error) {
	if d, ok := x.districts[layer][id]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("%s district %s: %w", layer, id, ErrNotFound)
}

// RandomID draws a uniformly random registered id at the given level.
// Returns "" when the level is empty.
func (x *Index) RandomID(level Level, rng *rand.Rand) string {
	ids := x.IDs(level)
	if len(ids) == 0 {
		return ""
	}
	return ids[rng.Intn(len(ids))]
}

// IDs returns the sorted ids registered at a level. Callers must not modify it.
func (x *Index) IDs(level Level) []string {
	switch level {
	case LevelPrecinct:
		return x.precinctIDs
	case LevelCounty:
		return x.countyIDs
	case LevelCongressional, LevelStateHouse, LevelStateSenate:
		return x.districtIDs[level-LevelCongressional]
	}
	return nil
}

// Precincts returns all precincts in id order.
func (x *Index) Precincts() []*Precinct {
	out := make([]*Precinct, len(x.precinctIDs))
	for i, id := range x.precinctIDs {
		out[i] = x.precincts[id]
	}
	return out
}

// Counties returns all counties in id order.
func (x *Index) Counties() []*County {
	out := make([]*County, len(x.countyIDs))
	for i, id := range x.countyIDs {
		out[i] = x.counties[id]
	}
	return out
}

// Districts returns the districts of a layer in id order.
func (x *Index) Districts(layer Layer) []*District {
	ids := x.districtIDs[layer]
	out := make([]*District, len(ids))
	for i, id := range ids {
		out[i] = x.districts[layer][id]
	}
	return out
}

// Layers returns the layers that have at least one district.
func (x *Index) Layers() []Layer {
	var out []Layer
	for l := Layer(0); l < NumLayers; l++ {
		if len(x.districtIDs[l]) > 0 {
			out = append(out, l)
		}
	}
	return out
}

// HasLayer reports whether a layer has districts.
func (x *Index) HasLayer(l Layer) bool {
	return len(x.districtIDs[l]) > 0
}

// CountyOf returns the county owning a precinct.
func (x *Index) CountyOf(precinctID string) string {
	return x.precinctCounty[precinctID]
}

// DistrictOf returns the district owning a precinct in a layer.
func (x *Index) DistrictOf(layer Layer, precinctID string) string {
	return x.precinctDistrict[layer][precinctID]
}

// Assignment returns a copy of the precinct→district map of a layer.
func (x *Index) Assignment(layer Layer) map[string]string {
	out := make(map[string]string, len(x.precinctDistrict[layer]))
	for k, v := range x.precinctDistrict[layer] {
		out[k] = v
	}
	return out
}

// TotalPopulation sums county populations.
func (x *Index) TotalPopulation() int {
	total := 0
	for _, c := range x.counties {
		total += c.tally.Population
	}
	return total
}

// Bound returns the bounding box of all precincts.
func (x *Index) Bound() orb.Bound {
	var b orb.Bound
	first := true
	for _, id := range x.precinctIDs {
		pb := x.precincts[id].geom.Bound()
		if first {
			b = pb
			first = false
			continue
		}
		b = b.Union(pb)
	}
	return b
}

// chain resolves every unit that owns a resident of the precinct.
type chain struct {
	precinct  *Precinct
	county    *County
	districts []*District
}

func (x *Index) resolve(precinctID string) (chain, error) {
	p, ok := x.precincts[precinctID]
	if !ok {
		return chain{}, fmt.Errorf("precinct %s: %w", precinctID, ErrNotFound)
	}
	c, ok := x.counties[x.precinctCounty[precinctID]]
	if !ok {
		return chain{}, fmt.Errorf("county of precinct %s: %w", precinctID, ErrNotFound)
	}
	ch := chain{precinct: p, county: c}
	for l := Layer(0); l < NumLayers; l++ {
		if !x.HasLayer(l) {
			continue
		}
		d, ok := x.districts[l][x.precinctDistrict[l][precinctID]]
		if !ok {
			return chain{}, fmt.Errorf("%s district of precinct %s: %w", l, precinctID, ErrNotFound)
		}
		ch.districts = append(ch.districts, d)
	}
	return ch, nil
}

func (ch chain) add(p Party) {
	ch.precinct.tally.Add(p)
	ch.county.tally.Add(p)
	for _, d := range ch.districts {
		d.tally.Add(p)
	}
}

func (ch chain) remove(p Party) {
	ch.precinct.tally.Remove(p)
	ch.county.tally.Remove(p)
	for _, d := range ch.districts {
		d.tally.Remove(p)
	}
}

// AddResident counts a resident of party p in the precinct and all its parents.
func (x *Index) AddResident(precinctID string, p Party) error {
	ch, err := x.resolve(precinctID)
	if err != nil {
		return err
	}
	ch.add(p)
	return nil
}

// RemoveResident uncounts a resident of party p from the precinct and its parents.
func (x *Index) RemoveResident(precinctID string, p Party) error {
	ch, err := x.resolve(precinctID)
	if err != nil {
		return err
	}
	ch.remove(p)
	return nil
}

// MoveResident relocates a resident between precincts. Both ownership chains
// are resolved before any counter changes.
func (x *Index) MoveResident(p Party, fromPrecinct, toPrecinct string) error {
	from, err := x.resolve(fromPrecinct)
	if err != nil {
		return fmt.Errorf("move from: %w", err)
	}
	to, err := x.resolve(toPrecinct)
	if err != nil {
		return fmt.Errorf("move to: %w", err)
	}
	from.remove(p)
	to.add(p)
	return nil
}

// UpdateMajorities refreshes the majority color of every unit.
func (x *Index) UpdateMajorities() {
	for _, p := range x.precincts {
		p.UpdateMajority()
	}
	for _, c := range x.counties {
		c.UpdateMajority()
	}
	for l := 0; l < NumLayers; l++ {
		for _, d := range x.districts[l] {
			d.UpdateMajority()
		}
	}
}

// DissolveAll rebuilds the geometry of every district from its members.
func (x *Index) DissolveAll() {
	for l := 0; l < NumLayers; l++ {
		for _, d := range x.districts[l] {
			x.dissolve(d)
		}
	}
	for _, c := range x.counties {
		if len(c.geom) == 0 {
			parts := make([]orb.MultiPolygon, 0, len(c.Precincts))
			for _, pid := range c.Precincts {
				parts = append(parts, x.precincts[pid].geom)
			}
			c.geom = geo.Dissolve(parts)
		}
	}
}

func (x *Index) dissolve(d *District) {
	parts := make([]orb.MultiPolygon, 0, len(d.Precincts))
	members := make(map[string]bool, len(d.Precincts))
	area, perim := 0.0, 0.0
	for _, pid := range d.Precincts {
		p := x.precincts[pid]
		parts = append(parts, p.geom)
		members[pid] = true
		area += p.Area
		perim += p.Perimeter
	}
	shared := 0.0
	for _, pid := range d.Precincts {
		for nid, l := range x.neighbors[pid] {
			if members[nid] && pid < nid {
				shared += l
			}
		}
	}
	d.geom = geo.Dissolve(parts)
	d.Area = area
	d.Perimeter = geo.DissolvedPerimeter(perim, shared)
}

// Recount rebuilds district tallies of a layer from member precinct tallies.
func (x *Index) Recount(layer Layer) {
	for _, d := range x.districts[layer] {
		x.recountDistrict(d)
	}
}

func (x *Index) recountDistrict(d *District) {
	var t Tally
	for _, pid := range d.Precincts {
		t = t.Plus(x.precincts[pid].tally)
	}
	d.tally = t
}
