package geocode

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/optimap/optimap/internal/geocache"
	"github.com/optimap/optimap/internal/telemetry"
)

// Config holds configuration for the Resolver.
type Config struct {
	// Provider performs the actual lookups (required). Rate-limit pacing
	// lives in the provider's HTTP layer so retries are paced too; see
	// the Pace hook on the provider client configs.
	Provider Provider

	// Cache, when set, is consulted before any provider call and filled
	// after a successful one. Cache hits touch no network and consume no
	// pacing budget.
	Cache *geocache.Cache

	// Metrics, when set, records per-provider request durations and
	// cache hit/miss counts.
	Metrics *telemetry.ProviderMetrics

	// Logger for resolver operations.
	Logger zerolog.Logger
}

// Resolver turns free-text addresses into coordinates using one
// configured provider. Safe for concurrent use.
type Resolver struct {
	provider Provider
	cache    *geocache.Cache
	metrics  *telemetry.ProviderMetrics
	logger   zerolog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(cfg Config) *Resolver {
	return &Resolver{
		provider: cfg.Provider,
		cache:    cfg.Cache,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}
}

// Resolve geocodes a single address. The cache is checked first; on a
// miss the provider is called and a successful result is cached before
// returning. Failures carry a *Error with code not_found, timeout, or
// service_error.
func (r *Resolver) Resolve(ctx context.Context, address string) (Coordinate, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return Coordinate{}, ErrEmptyAddress
	}

	if r.cache != nil {
		if cached, ok := r.cache.Get(ctx, address); ok {
			if r.metrics != nil {
				r.metrics.RecordCacheHit(r.provider.Name(), "geocode")
			}
			return Coordinate{Lat: cached.Lat, Lon: cached.Lon}, nil
		}
		if r.metrics != nil {
			r.metrics.RecordCacheMiss(r.provider.Name(), "geocode")
		}
	}

	r.logger.Debug().
		Str("address", address).
		Str("provider", r.provider.Name()).
		Msg("geocoding address")

	start := time.Now()
	coord, err := r.provider.Geocode(ctx, address)
	if r.metrics != nil {
		r.metrics.RecordRequest(r.provider.Name(), "geocode", time.Since(start), err)
	}
	if err != nil {
		var gerr *Error
		if errors.As(err, &gerr) {
			return Coordinate{}, err
		}
		return Coordinate{}, &Error{
			Provider: r.provider.Name(),
			Code:     CodeServiceError,
			Address:  address,
			Message:  "failed to geocode address",
			Err:      err,
		}
	}

	if r.cache != nil {
		r.cache.Set(ctx, address, geocache.Coordinate{Lat: coord.Lat, Lon: coord.Lon})
	}

	r.logger.Info().
		Str("address", address).
		Float64("lat", coord.Lat).
		Float64("lon", coord.Lon).
		Str("provider", r.provider.Name()).
		Msg("geocoded address")

	return coord, nil
}

// ResolveBatch geocodes all addresses concurrently, one goroutine per
// address. Each result slot is aligned with its input index; a failing
// address never aborts its siblings.
func (r *Resolver) ResolveBatch(ctx context.Context, addresses []string) []BatchResult {
	results := make([]BatchResult, len(addresses))
	if len(addresses) == 0 {
		return results
	}

	var wg sync.WaitGroup
	for i, address := range addresses {
		wg.Add(1)
		go func(i int, address string) {
			defer wg.Done()
			coord, err := r.Resolve(ctx, address)
			if err != nil {
				results[i] = BatchResult{Err: err}
				return
			}
			results[i] = BatchResult{Coordinate: coord}
		}(i, address)
	}
	wg.Wait()

	succeeded := 0
	for _, res := range results {
		if res.Err == nil {
			succeeded++
		}
	}
	r.logger.Info().
		Int("total", len(addresses)).
		Int("succeeded", succeeded).
		Msg("batch geocoding complete")

	return results
}

// CacheStats returns the address cache statistics, or false when no
// cache is configured.
func (r *Resolver) CacheStats() (geocache.Stats, bool) {
	if r.cache == nil {
		return geocache.Stats{}, false
	}
	return r.cache.Stats(), true
}
