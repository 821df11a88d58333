// Package optimize runs the route optimization pipeline: validation,
// geocoding, matrix fetch, solving, and metrics assembly.
package optimize

import (
	"strings"

	"github.com/optimap/optimap/internal/matrix"
)

// Stop is one delivery location. Coordinates may be absent when the
// stop is submitted by address and awaits geocoding.
type Stop struct {
	Lat             *float64
	Lon             *float64
	Address         string
	OriginalAddress string
	Geocoded        bool
}

// HasCoordinates reports whether both latitude and longitude are set.
func (s Stop) HasCoordinates() bool {
	return s.Lat != nil && s.Lon != nil
}

// NeedsGeocoding reports whether the stop must be resolved from its
// address before routing.
func (s Stop) NeedsGeocoding() bool {
	return !s.HasCoordinates() && strings.TrimSpace(s.Address) != ""
}

// Request is one optimization job: the stops to visit and the index of
// the depot the route starts and ends at.
type Request struct {
	Stops      []Stop
	DepotIndex int
}

// Metrics are the totals for one walked route.
type Metrics struct {
	DistanceMeters float64
	TimeSeconds    float64
}

// Result is a completed optimization. Route and Order both include the
// closing return to the depot, so their length is stop count + 1.
type Result struct {
	Route                []Stop
	Order                []int
	Optimized            Metrics
	Baseline             Metrics
	DistanceSavedMeters  float64
	TimeSavedSeconds     float64
	DistanceSavedPercent float64
	TimeSavedPercent     float64

	// Geometry is the road-following shape of the optimized route in
	// [lon, lat] positions. Nil when the geometry fetch failed; that is
	// never an error.
	Geometry matrix.Geometry
}
