// Package geo provides the planar geometry primitives the simulation consumes:
// containment, area, perimeter, random points, dissolve, shared boundaries and
// distances. Geometries are orb multipolygons in a projected or geographic CRS.
package geo

import (
	"math"
	"math/rand"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
)

// maxRandomPointDraws bounds rejection sampling in RandomPoint.
const maxRandomPointDraws = 1000

// AsMulti converts a polygonal geometry into a MultiPolygon.
// Returns false for non-polygonal geometries.
func AsMulti(g orb.Geometry) (orb.MultiPolygon, bool) {
	switch v := g.(type) {
	case orb.Polygon:
		return orb.MultiPolygon{v}, true
	case orb.MultiPolygon:
		return v, true
	case orb.Bound:
		return orb.MultiPolygon{v.ToPolygon()}, true
	default:
		return nil, false
	}
}

// Area returns the planar area of mp.
func Area(mp orb.MultiPolygon) float64 {
	if len(mp) == 0 {
		return 0
	}
	return planar.Area(mp)
}

// Perimeter returns the total boundary length of mp, holes included.
func Perimeter(mp orb.MultiPolygon) float64 {
	if len(mp) == 0 {
		return 0
	}
	return planar.Length(mp)
}

// Contains reports whether pt lies inside mp (holes excluded).
func Contains(mp orb.MultiPolygon, pt orb.Point) bool {
	if len(mp) == 0 {
		return false
	}
	if !mp.Bound().Contains(pt) {
		return false
	}
	return planar.MultiPolygonContains(mp, pt)
}

// Centroid returns the area-weighted centroid of mp.
func Centroid(mp orb.MultiPolygon) orb.Point {
	c, _ := planar.CentroidArea(mp)
	return c
}

// RandomPoint draws a uniform point inside mp by rejection sampling within
// its bounding box. Degenerate shapes fall back to the centroid.
func RandomPoint(mp orb.MultiPolygon, rng *rand.Rand) orb.Point {
	if len(mp) == 0 {
		return orb.Point{}
	}
	b := mp.Bound()
	w := b.Max.X() - b.Min.X()
	h := b.Max.Y() - b.Min.Y()
	for i := 0; i < maxRandomPointDraws; i++ {
		pt := orb.Point{b.Min.X() + rng.Float64()*w, b.Min.Y() + rng.Float64()*h}
		if planar.MultiPolygonContains(mp, pt) {
			return pt
		}
	}
	return Centroid(mp)
}

// Dissolve merges member geometries into one MultiPolygon. Members are kept
// as separate polygons; shared interior edges are accounted for by callers
// through SharedBoundaries rather than by polygon union.
func Dissolve(parts []orb.MultiPolygon) orb.MultiPolygon {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make(orb.MultiPolygon, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// DissolvedPerimeter returns the boundary length of a union of units given the
// sum of their perimeters and the total length of boundary shared between
// member pairs. Each shared edge is counted once in shared.
func DissolvedPerimeter(sumPerimeters, shared float64) float64 {
	p := sumPerimeters - 2*shared
	if p < 0 {
		return 0
	}
	return p
}

// PolsbyPopper returns 4πA/P², or 0 for a zero perimeter.
func PolsbyPopper(area, perimeter float64) float64 {
	if perimeter <= 0 {
		return 0
	}
	return 4 * math.Pi * area / (perimeter * perimeter)
}

// Geographic reports whether a CRS identifier denotes lon/lat coordinates.
func Geographic(crs string) bool {
	switch crs {
	case "EPSG:4326", "epsg:4326", "urn:ogc:def:crs:OGC:1.3:CRS84", "CRS84", "EPSG:4269":
		return true
	}
	return false
}

// Distance returns the distance between two points: meters on the sphere for
// geographic coordinates, CRS units otherwise.
func Distance(a, b orb.Point, geographic bool) float64 {
	if geographic {
		return orbgeo.Distance(a, b)
	}
	return planar.Distance(a, b)
}

// Diameter returns the bounding-box diagonal of a bound, used to normalize
// relocation distances into [0, 1].
func Diameter(b orb.Bound, geographic bool) float64 {
	return Distance(b.Min, b.Max, geographic)
}
