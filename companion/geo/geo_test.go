package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A rough square around a fairway near Toronto.
var fairway = Polygon{
	{Lat: 43.6400, Lon: -79.3900},
	{Lat: 43.6400, Lon: -79.3880},
	{Lat: 43.6420, Lon: -79.3880},
	{Lat: 43.6420, Lon: -79.3900},
}

func TestPolygonContains(t *testing.T) {
	tests := []struct {
		name  string
		point Point
		want  bool
	}{
		{"center", Point{Lat: 43.6410, Lon: -79.3890}, true},
		{"outside north", Point{Lat: 43.6430, Lon: -79.3890}, false},
		{"outside east", Point{Lat: 43.6410, Lon: -79.3870}, false},
		{"far away", Point{Lat: 0, Lon: 0}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fairway.Contains(tt.point))
		})
	}
}

func TestPolygonDegenerate(t *testing.T) {
	// Fewer than three vertices can enclose nothing.
	assert.False(t, Polygon{}.Contains(Point{}))
	assert.False(t, Polygon{{Lat: 1, Lon: 1}, {Lat: 2, Lon: 2}}.Contains(Point{Lat: 1.5, Lon: 1.5}))
}

func TestDistanceM(t *testing.T) {
	// Two points about 111 km apart (one degree of latitude).
	a := Point{Lat: 43.0, Lon: -79.0}
	b := Point{Lat: 44.0, Lon: -79.0}

	d := DistanceM(a, b)
	assert.InDelta(t, 111195, d, 200)

	// Zero distance to self.
	assert.InDelta(t, 0, DistanceM(a, a), 0.001)
}

func TestNearestHoleByPin(t *testing.T) {
	holes := []HoleRegion{
		{Number: 1, Pin: Point{Lat: 43.6410, Lon: -79.3890}},
		{Number: 2, Pin: Point{Lat: 43.6500, Lon: -79.3890}},
	}

	h, dist, ok := NearestHole(Point{Lat: 43.6412, Lon: -79.3890}, holes)
	require.True(t, ok)
	assert.Equal(t, 1, h.Number)
	assert.Less(t, dist, 100.0)
}

func TestNearestHoleBoundaryWins(t *testing.T) {
	// Standing inside hole 1's boundary beats a closer pin on hole 2.
	holes := []HoleRegion{
		{Number: 1, Pin: Point{Lat: 43.6418, Lon: -79.3898}, Boundary: fairway},
		{Number: 2, Pin: Point{Lat: 43.6402, Lon: -79.3890}},
	}

	// Near hole 2's pin but inside hole 1's fairway.
	h, _, ok := NearestHole(Point{Lat: 43.6403, Lon: -79.3890}, holes)
	require.True(t, ok)
	assert.Equal(t, 1, h.Number)
}

func TestNearestHoleEmpty(t *testing.T) {
	_, _, ok := NearestHole(Point{}, nil)
	assert.False(t, ok)
}
