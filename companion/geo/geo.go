// Package geo provides course geometry: point-in-polygon containment and
// nearest-hole detection for geofencing. Pure functions, no concurrency.
package geo

import "math"

// earthRadiusM is the mean Earth radius in meters.
const earthRadiusM = 6371000.0

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Polygon is a closed ring of vertices. The closing edge from the last vertex
// back to the first is implicit.
type Polygon []Point

// Contains reports whether p lies inside the polygon, using the even-odd ray
// casting rule. Points exactly on an edge may land on either side; course
// boundaries are far coarser than that ambiguity.
func (poly Polygon) Contains(p Point) bool {
	if len(poly) < 3 {
		return false
	}
	inside := false
	j := len(poly) - 1
	for i := 0; i < len(poly); i++ {
		vi, vj := poly[i], poly[j]
		if (vi.Lat > p.Lat) != (vj.Lat > p.Lat) {
			crossLon := (vj.Lon-vi.Lon)*(p.Lat-vi.Lat)/(vj.Lat-vi.Lat) + vi.Lon
			if p.Lon < crossLon {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

// DistanceM returns the great-circle distance between two points in meters.
func DistanceM(a, b Point) float64 {
	latA := a.Lat * math.Pi / 180
	latB := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(latA)*math.Cos(latB)*sinLon*sinLon
	return 2 * earthRadiusM * math.Asin(math.Sqrt(h))
}

// HoleRegion is the playable area of a single hole.
type HoleRegion struct {
	Number   int     `json:"number"`
	Pin      Point   `json:"pin"`
	Boundary Polygon `json:"boundary,omitempty"`
}

// NearestHole returns the hole whose pin is closest to p and the distance to
// it in meters. A hole whose boundary contains p wins outright regardless of
// pin distance. Returns false when holes is empty.
func NearestHole(p Point, holes []HoleRegion) (HoleRegion, float64, bool) {
	if len(holes) == 0 {
		return HoleRegion{}, 0, false
	}

	best := holes[0]
	bestDist := DistanceM(p, holes[0].Pin)
	for _, h := range holes {
		if h.Boundary.Contains(p) {
			return h, DistanceM(p, h.Pin), true
		}
		if d := DistanceM(p, h.Pin); d < bestDist {
			best, bestDist = h, d
		}
	}
	return best, bestDist, true
}
