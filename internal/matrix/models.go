// Package matrix fetches all-pairs travel costs between stops from a
// routing service, plus best-effort route geometry for display.
package matrix

import (
	"context"
	"errors"
	"net"
)

// Sentinel errors for matrix operations.
var (
	// ErrInsufficientCoordinates indicates fewer than two coordinates were supplied.
	ErrInsufficientCoordinates = errors.New("at least two coordinates are required")
	// ErrTimeout indicates the routing service did not answer within the deadline.
	ErrTimeout = errors.New("routing request timed out")
	// ErrServiceUnavailable indicates the routing service is down or answered with an error.
	ErrServiceUnavailable = errors.New("routing service unavailable")
)

// Error codes carried by Error.Code.
const (
	CodeTimeout      = "timeout"
	CodeServiceError = "service_error"
	// CodeUnavailable marks failures where the service was not even
	// tried, such as an open circuit breaker.
	CodeUnavailable = "unavailable"
)

// Coordinate represents a geographic point.
type Coordinate struct {
	Lat float64
	Lon float64
}

// CostMatrix holds all-pairs travel costs between stops. Both matrices
// are N x N and index-aligned with the coordinates that produced them.
// Distances are meters, Durations seconds.
type CostMatrix struct {
	Distances [][]float64
	Durations [][]float64
}

// Size returns N, the number of stops the matrix covers.
func (m CostMatrix) Size() int {
	return len(m.Distances)
}

// Geometry is a route shape as [lon, lat] positions in GeoJSON order.
type Geometry [][]float64

// Provider computes cost matrices and route geometry.
type Provider interface {
	// ComputeMatrix fetches the full distance and duration matrices for
	// the given coordinates in one round trip.
	ComputeMatrix(ctx context.Context, coords []Coordinate) (CostMatrix, error)
	// ComputeRouteGeometry fetches the road-following shape for a route
	// visiting the coordinates in order.
	ComputeRouteGeometry(ctx context.Context, coords []Coordinate) (Geometry, error)
	// Name returns the provider identifier for logging and metrics.
	Name() string
}

// Error provides detailed error information from a routing provider.
type Error struct {
	Provider string // Provider that generated the error
	Code     string // One of CodeTimeout, CodeServiceError, CodeUnavailable
	Message  string // Human-readable error message
	Err      error  // Underlying error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the failure is transient. Shape violations
// and provider-reported errors are modeled as service errors and share
// the transient classification; the caller decides whether to retry.
func (e *Error) IsRetryable() bool {
	return errors.Is(e.Err, ErrTimeout) || errors.Is(e.Err, ErrServiceUnavailable)
}

// TransportError classifies a transport-level failure into a domain
// error: deadline and network timeouts become CodeTimeout, everything
// else CodeServiceError.
func TransportError(provider string, err error) *Error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{
			Provider: provider,
			Code:     CodeTimeout,
			Message:  "routing request timed out",
			Err:      ErrTimeout,
		}
	}
	return &Error{
		Provider: provider,
		Code:     CodeServiceError,
		Message:  "failed to reach routing service",
		Err:      ErrServiceUnavailable,
	}
}
