// Package geo holds the coordinate types and distance math shared by the
// tracking engine.
package geo

import (
	"math"
	"time"
)

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Fix is a single location update from the location source. SpeedMS and
// Heading are negative when the source does not know them.
type Fix struct {
	Point     Point
	SpeedMS   float64
	AccuracyM float64
	Heading   float64
	Timestamp time.Time
}

// SpeedKnown reports whether the fix carries a valid speed reading.
func (f Fix) SpeedKnown() bool {
	return f.SpeedMS >= 0
}

const earthRadius = 6371000 // meters

// Distance returns the great-circle distance between two points in meters
// using the haversine formula.
func Distance(a, b Point) float64 {
	if a.Lat == b.Lat && a.Lon == b.Lon {
		return 0
	}

	lat1Rad := a.Lat * math.Pi / 180
	lat2Rad := b.Lat * math.Pi / 180
	deltaLat := (b.Lat - a.Lat) * math.Pi / 180
	deltaLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadius * c
}
