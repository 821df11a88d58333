// Package models defines the wire types of the OptiMap API.
package models

import (
	"github.com/optimap/optimap/internal/optimize"
)

// OptimizeRequest is the body of POST /v1/routes/optimize.
type OptimizeRequest struct {
	Stops      []StopInput `json:"stops"`
	DepotIndex int         `json:"depot_index"`
}

// StopInput is one requested stop. Either a coordinate pair or an
// address must be present.
type StopInput struct {
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Address   string   `json:"address,omitempty"`
}

// Pipeline converts the request into the orchestrator's input model.
func (r OptimizeRequest) Pipeline() optimize.Request {
	stops := make([]optimize.Stop, len(r.Stops))
	for i, s := range r.Stops {
		stops[i] = optimize.Stop{
			Lat:     s.Latitude,
			Lon:     s.Longitude,
			Address: s.Address,
		}
	}
	return optimize.Request{
		Stops:      stops,
		DepotIndex: r.DepotIndex,
	}
}

// Location is one stop in the optimized route, coordinates always
// present. GeocodingConfidence is reserved; no provider reports it yet,
// so it serializes as null.
type Location struct {
	Latitude            float64  `json:"latitude"`
	Longitude           float64  `json:"longitude"`
	Address             string   `json:"address,omitempty"`
	OriginalAddress     string   `json:"original_address,omitempty"`
	Geocoded            bool     `json:"geocoded"`
	GeocodingConfidence *float64 `json:"geocoding_confidence"`
}

// RouteMetrics totals one route.
type RouteMetrics struct {
	TotalDistanceMeters float64 `json:"total_distance_meters"`
	TotalTimeSeconds    float64 `json:"total_time_seconds"`
}

// LineString is a GeoJSON LineString of [lon, lat] positions.
type LineString struct {
	Type        string      `json:"type"`
	Coordinates [][]float64 `json:"coordinates"`
}

// OptimizeResponse is the body of a successful optimization. The
// optimized route lists stops in visiting order with the depot repeated
// at the end.
type OptimizeResponse struct {
	OptimizedRoute          []Location   `json:"optimized_route"`
	OptimizedMetrics        RouteMetrics `json:"optimized_metrics"`
	BaselineMetrics         RouteMetrics `json:"baseline_metrics"`
	DistanceSavedMeters     float64      `json:"distance_saved_meters"`
	TimeSavedSeconds        float64      `json:"time_saved_seconds"`
	DistanceSavedPercentage float64      `json:"distance_saved_percentage"`
	TimeSavedPercentage     float64      `json:"time_saved_percentage"`
	RouteGeometry           *LineString  `json:"route_geometry,omitempty"`
}

// NewOptimizeResponse renders a pipeline result onto the wire model.
func NewOptimizeResponse(result *optimize.Result) OptimizeResponse {
	route := make([]Location, len(result.Route))
	for i, stop := range result.Route {
		route[i] = Location{
			Latitude:        *stop.Lat,
			Longitude:       *stop.Lon,
			Address:         stop.Address,
			OriginalAddress: stop.OriginalAddress,
			Geocoded:        stop.Geocoded,
		}
	}

	resp := OptimizeResponse{
		OptimizedRoute: route,
		OptimizedMetrics: RouteMetrics{
			TotalDistanceMeters: result.Optimized.DistanceMeters,
			TotalTimeSeconds:    result.Optimized.TimeSeconds,
		},
		BaselineMetrics: RouteMetrics{
			TotalDistanceMeters: result.Baseline.DistanceMeters,
			TotalTimeSeconds:    result.Baseline.TimeSeconds,
		},
		DistanceSavedMeters:     result.DistanceSavedMeters,
		TimeSavedSeconds:        result.TimeSavedSeconds,
		DistanceSavedPercentage: result.DistanceSavedPercent,
		TimeSavedPercentage:     result.TimeSavedPercent,
	}
	if result.Geometry != nil {
		resp.RouteGeometry = &LineString{
			Type:        "LineString",
			Coordinates: result.Geometry,
		}
	}
	return resp
}
