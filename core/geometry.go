package core

import "math"

// EarthRadiusKm is the mean Earth radius used for great-circle distances.
const EarthRadiusKm = 6371.0

// LatLon is a WGS84 coordinate in decimal degrees.
type LatLon struct {
	Lat, Lon float64
}

// Valid reports whether the coordinate is in range and not the (0,0)
// placeholder firmware reports when it has no GPS fix.
func (p LatLon) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) {
		return false
	}
	if p.Lat < -90 || p.Lat > 90 || p.Lon < -180 || p.Lon > 180 {
		return false
	}
	return !(p.Lat == 0 && p.Lon == 0)
}

// DistanceKm returns the haversine distance between two coordinates.
func (p LatLon) DistanceKm(other LatLon) float64 {
	lat1 := degToRad(p.Lat)
	lat2 := degToRad(other.Lat)
	dLat := lat2 - lat1
	dLon := degToRad(other.Lon - p.Lon)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	if a > 1 {
		a = 1
	}
	return 2 * EarthRadiusKm * math.Asin(math.Sqrt(a))
}

// DistanceMeters is DistanceKm in metres.
func (p LatLon) DistanceMeters(other LatLon) float64 {
	return p.DistanceKm(other) * 1000
}

func degToRad(d float64) float64 {
	return d * math.Pi / 180.0
}

// latLonFrom builds a coordinate from optional pointers.
func latLonFrom(lat, lon *float64) (LatLon, bool) {
	if lat == nil || lon == nil {
		return LatLon{}, false
	}
	p := LatLon{Lat: *lat, Lon: *lon}
	return p, p.Valid()
}
