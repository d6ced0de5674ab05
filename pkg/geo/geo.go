// Package geo holds the spherical geometry shared by parsing, snapping and
// the search heuristic. Distances are in metres.
package geo

import "math"

// EarthRadiusMeters is the mean Earth radius.
const EarthRadiusMeters = 6_371_000.0

const (
	radPerDeg      = math.Pi / 180
	metersPerDeg   = radPerDeg * EarthRadiusMeters
	minCosLatitude = 0.01
)

// Haversine returns the great-circle distance between two points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	sinLat := math.Sin((lat2 - lat1) * radPerDeg / 2)
	sinLon := math.Sin((lon2 - lon1) * radPerDeg / 2)
	a := sinLat*sinLat + math.Cos(lat1*radPerDeg)*math.Cos(lat2*radPerDeg)*sinLon*sinLon
	return 2 * EarthRadiusMeters * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// PolylineLength sums the great-circle lengths of consecutive points.
func PolylineLength(lats, lons []float64) float64 {
	var d float64
	for i := 1; i < len(lats); i++ {
		d += Haversine(lats[i-1], lons[i-1], lats[i], lons[i])
	}
	return d
}

// Span returns the latitude and longitude offsets covering meters around
// a point at lat. Longitude spans are capped near the poles.
func Span(lat, meters float64) (dLat, dLon float64) {
	dLat = meters / metersPerDeg
	dLon = dLat / math.Max(math.Cos(lat*radPerDeg), minCosLatitude)
	return dLat, dLon
}

// PointToSegmentDist returns the distance from P to segment AB and the
// position of the closest point as a fraction of AB in [0, 1]. It works in a
// local equirectangular projection, which is accurate for snapping-scale
// distances.
func PointToSegmentDist(pLat, pLon, aLat, aLon, bLat, bLon float64) (dist float64, ratio float64) {
	if aLat == bLat && aLon == bLon {
		return planarDist(pLat-aLat, pLon-aLon, math.Cos(aLat*radPerDeg)), 0
	}
	cosLat := math.Cos((aLat + bLat) / 2 * radPerDeg)

	dx, dy := (bLon-aLon)*cosLat, bLat-aLat
	px, py := (pLon-aLon)*cosLat, pLat-aLat
	if lenSq := dx*dx + dy*dy; lenSq > 0 {
		ratio = min(max((px*dx+py*dy)/lenSq, 0), 1)
	}
	ex, ey := px-ratio*dx, py-ratio*dy
	return math.Sqrt(ex*ex+ey*ey) * metersPerDeg, ratio
}

func planarDist(dLat, dLon, cosLat float64) float64 {
	x := dLon * cosLat
	return math.Sqrt(x*x+dLat*dLat) * metersPerDeg
}
