// Package geo provides the coordinate types and distance math shared by
// the proximity tracker and the location ingestion route. It has zero
// external dependencies — everything here is pure Go.
package geo

import (
	"math"
	"time"
)

// EarthRadiusMeters is the mean earth radius of the spherical
// approximation used by DistanceMeters.
const EarthRadiusMeters = 6371000.0

// Coordinates is a WGS84 position in decimal degrees.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Fix is a single GPS sample as reported by the device.
type Fix struct {
	Coordinates
	AccuracyM float64   `json:"accuracyM,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Valid reports whether both coordinates are finite numbers. DistanceMeters
// does not check this itself; NaN inputs propagate through the formula.
func (c Coordinates) Valid() bool {
	return !math.IsNaN(c.Lat) && !math.IsInf(c.Lat, 0) &&
		!math.IsNaN(c.Lng) && !math.IsInf(c.Lng, 0)
}

// DistanceMeters returns the great-circle distance between two points
// using the haversine formula on a spherical earth.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	φ1 := lat1 * math.Pi / 180
	φ2 := lat2 * math.Pi / 180
	dφ := (lat2 - lat1) * math.Pi / 180
	dλ := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dφ/2)*math.Sin(dφ/2) +
		math.Cos(φ1)*math.Cos(φ2)*math.Sin(dλ/2)*math.Sin(dλ/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}

// Distance is DistanceMeters over Coordinates values.
func Distance(a, b Coordinates) float64 {
	return DistanceMeters(a.Lat, a.Lng, b.Lat, b.Lng)
}
