package geo

import (
	"math"
	"math/rand"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func square(x, y, size float64) orb.MultiPolygon {
	return orb.MultiPolygon{{{
		{x, y}, {x + size, y}, {x + size, y + size}, {x, y + size}, {x, y},
	}}}
}

func TestAreaPerimeter(t *testing.T) {
	sq := square(0, 0, 2)
	assert.InDelta(t, 4.0, Area(sq), 1e-9)
	assert.InDelta(t, 8.0, Perimeter(sq), 1e-9)
	assert.InDelta(t, math.Pi/4, PolsbyPopper(Area(sq), Perimeter(sq)), 1e-9)
	assert.Equal(t, 0.0, PolsbyPopper(1, 0))
}

func TestContains(t *testing.T) {
	sq := square(0, 0, 1)
	assert.True(t, Contains(sq, orb.Point{0.5, 0.5}))
	assert.False(t, Contains(sq, orb.Point{1.5, 0.5}))
	assert.False(t, Contains(nil, orb.Point{0, 0}))
}

func TestRandomPointInside(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	sq := square(10, 10, 3)
	for i := 0; i < 200; i++ {
		pt := RandomPoint(sq, rng)
		require.True(t, Contains(sq, pt), "point %v outside", pt)
	}
}

func TestSharedBoundaries(t *testing.T) {
	shapes := []orb.MultiPolygon{
		square(0, 0, 1),
		square(1, 0, 1),
		square(5, 5, 1),
	}
	edges := SharedBoundaries(shapes)
	require.Len(t, edges, 1)
	assert.Equal(t, 0, edges[0].I)
	assert.Equal(t, 1, edges[0].J)
	assert.InDelta(t, 1.0, edges[0].Length, 1e-9)

	// Two unit squares dissolve into a 2x1 rectangle.
	p := DissolvedPerimeter(Perimeter(shapes[0])+Perimeter(shapes[1]), edges[0].Length)
	assert.InDelta(t, 6.0, p, 1e-9)
}

func TestDissolve(t *testing.T) {
	d := Dissolve([]orb.MultiPolygon{square(0, 0, 1), square(1, 0, 1)})
	assert.Len(t, d, 2)
	assert.InDelta(t, 2.0, Area(d), 1e-9)
	assert.True(t, Contains(d, orb.Point{1.5, 0.5}))
}

func TestDistance(t *testing.T) {
	assert.InDelta(t, 5.0, Distance(orb.Point{0, 0}, orb.Point{3, 4}, false), 1e-9)
	// One degree of longitude at the equator is ~111 km.
	d := Distance(orb.Point{0, 0}, orb.Point{1, 0}, true)
	assert.InDelta(t, 111_000, d, 1_000)
	assert.True(t, Geographic("EPSG:4326"))
	assert.False(t, Geographic("EPSG:5070"))
}
