// Package geocode resolves free-text addresses to geographic coordinates
// through a configuration-selected provider, with caching, pacing, and
// bounded retries.
package geocode

import (
	"context"
	"errors"
	"net"
)

// Sentinel errors for geocoding operations.
var (
	// ErrNotFound indicates the provider returned no candidate for the address.
	ErrNotFound = errors.New("address not found")
	// ErrTimeout indicates the provider did not answer within the deadline.
	ErrTimeout = errors.New("geocoding request timed out")
	// ErrServiceUnavailable indicates the provider is down or answered with an error.
	ErrServiceUnavailable = errors.New("geocoding service unavailable")
	// ErrEmptyAddress indicates a blank address was submitted.
	ErrEmptyAddress = errors.New("address cannot be empty")
	// ErrMissingAPIKey indicates the selected provider requires an API key that is not configured.
	ErrMissingAPIKey = errors.New("geocoding API key is required")
)

// Error codes carried by Error.Code.
const (
	CodeNotFound     = "not_found"
	CodeTimeout      = "timeout"
	CodeServiceError = "service_error"
)

// Provider geocodes one address per call.
type Provider interface {
	// Geocode resolves an address to a coordinate. A definitive empty
	// result is ErrNotFound (wrapped in *Error), never retried.
	Geocode(ctx context.Context, address string) (Coordinate, error)
	// Name returns the provider identifier for logging and metrics.
	Name() string
}

// Coordinate represents a geographic point.
type Coordinate struct {
	Lat float64
	Lon float64
}

// BatchResult is one slot of a batch resolution, aligned by index with
// the input addresses. Exactly one of Coordinate or Err is meaningful.
type BatchResult struct {
	Coordinate Coordinate
	Err        error
}

// Error provides detailed error information from a geocoding provider.
type Error struct {
	Provider string // Provider that generated the error
	Code     string // One of CodeNotFound, CodeTimeout, CodeServiceError
	Address  string // Address being resolved, when known
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

// IsRetryable returns true if the error is transient and the lookup
// could be retried. Not-found results are never retryable.
func (e *Error) IsRetryable() bool {
	return errors.Is(e.Err, ErrTimeout) || errors.Is(e.Err, ErrServiceUnavailable)
}

// TransportError classifies a transport-level failure into a domain
// error: deadline and network timeouts become CodeTimeout, everything
// else CodeServiceError.
func TransportError(provider, address string, err error) *Error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{
			Provider: provider,
			Code:     CodeTimeout,
			Address:  address,
			Message:  "geocoding request timed out",
			Err:      ErrTimeout,
		}
	}
	return &Error{
		Provider: provider,
		Code:     CodeServiceError,
		Address:  address,
		Message:  "failed to reach geocoding provider",
		Err:      ErrServiceUnavailable,
	}
}
