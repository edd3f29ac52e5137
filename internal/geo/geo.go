// Package geo provides the coordinate rounding shared by the cache,
// subscription, and alert layers. Coordinates are snapped to 2 decimal
// degrees (about a 1.1 km cell) so distinct requesters inside the same
// cell share one cache entry and one subscription timer.
package geo

import (
	"fmt"
	"math"
)

// Epsilon is the tolerance used when matching a listener's requested
// coordinates against a published event.
const Epsilon = 0.01

// Round snaps a coordinate to 2 decimal degrees.
func Round(v float64) float64 {
	return math.Round(v*100) / 100
}

// Key builds a cache/registry key of the form "prefix:lat:lon" from
// rounded coordinates.
func Key(prefix string, lat, lon float64) string {
	return fmt.Sprintf("%s:%.2f:%.2f", prefix, Round(lat), Round(lon))
}

// CloseEnough reports whether two coordinates are within Epsilon of each
// other on both axes.
func CloseEnough(lat1, lon1, lat2, lon2 float64) bool {
	return math.Abs(lat1-lat2) <= Epsilon && math.Abs(lon1-lon2) <= Epsilon
}

// ValidCoords reports whether lat/lon are finite and inside the valid
// geographic ranges.
func ValidCoords(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lon) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
