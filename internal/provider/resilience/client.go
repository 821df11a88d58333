// Package resilience wraps outbound HTTP calls to routing and geocoding
// providers with circuit breaking, retries with exponential backoff, and
// per-attempt pacing.
package resilience

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned without touching the network when the
// circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ClientConfig configures a provider-facing HTTP client. Zero values
// take the documented defaults.
type ClientConfig struct {
	// Name identifies this client in breaker naming, logs, and registry entries.
	Name string

	// Timeout bounds each individual HTTP attempt.
	// Default: 10 seconds
	Timeout time.Duration

	// MaxRetries is the maximum number of retry attempts after the first try.
	// Default: 3
	MaxRetries uint64

	// InitialInterval seeds the exponential backoff between retries.
	// Default: 100ms
	InitialInterval time.Duration

	// MaxInterval caps how far the backoff grows.
	// Default: 5 seconds
	MaxInterval time.Duration

	// Pace, when set, runs before every attempt, including retries.
	// Upstream services with hard minimum-spacing rules get their pacing
	// applied here so a retry can never fire early. A Pace error aborts
	// the request without further attempts.
	Pace func(ctx context.Context) error

	// Registry, when set, receives this client under Name and gets a
	// success/failure record for every attempt.
	Registry *Registry

	// Logger receives circuit breaker state transitions. The zero value
	// discards them.
	Logger zerolog.Logger

	// BreakerMaxRequests is the number of probe requests allowed through
	// while the circuit is half-open.
	// Default: 1
	BreakerMaxRequests uint32

	// BreakerInterval resets the failure counts cyclically while the
	// circuit is closed. Zero keeps counts for the life of the closed state.
	BreakerInterval time.Duration

	// BreakerTimeout is how long the circuit stays open before allowing
	// a half-open probe.
	// Default: 60 seconds
	BreakerTimeout time.Duration

	// ReadyToTrip decides when accumulated failures open the circuit.
	// If nil, uses DefaultReadyToTrip (50% failure rate with 5+ requests).
	ReadyToTrip func(counts gobreaker.Counts) bool
}

// DefaultClientConfig returns the baseline settings the provider
// clients adjust from.
func DefaultClientConfig(name string) ClientConfig {
	return ClientConfig{
		Name:               name,
		Timeout:            10 * time.Second,
		MaxRetries:         3,
		InitialInterval:    100 * time.Millisecond,
		MaxInterval:        5 * time.Second,
		BreakerMaxRequests: 1,
		BreakerTimeout:     60 * time.Second,
		ReadyToTrip:        DefaultReadyToTrip,
	}
}

// DefaultReadyToTrip opens the circuit once at least 5 requests have been
// made and the failure rate is 50% or higher.
func DefaultReadyToTrip(counts gobreaker.Counts) bool {
	failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
	return counts.Requests >= 5 && failureRatio >= 0.5
}

// Client sends provider requests through a circuit breaker with
// retries.
type Client struct {
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker[*http.Response]
	config         ClientConfig
}

// NewClient builds a Client, filling zero-value settings with their
// defaults, and self-registers it when a Registry is configured.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = 100 * time.Millisecond
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = 5 * time.Second
	}
	if cfg.BreakerMaxRequests == 0 {
		cfg.BreakerMaxRequests = 1
	}
	if cfg.BreakerTimeout == 0 {
		cfg.BreakerTimeout = 60 * time.Second
	}
	if cfg.ReadyToTrip == nil {
		cfg.ReadyToTrip = DefaultReadyToTrip
	}

	client := &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		circuitBreaker: newBreaker(cfg),
		config:         cfg,
	}

	if cfg.Registry != nil && cfg.Name != "" {
		cfg.Registry.Register(cfg.Name, client)
	}

	return client
}

// newBreaker builds the gobreaker instance, logging every state
// transition. Opens log at warn, a recovery back to closed at info.
func newBreaker(cfg ClientConfig) *gobreaker.CircuitBreaker[*http.Response] {
	log := cfg.Logger
	return gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{ //nolint:bodyclose // type parameter, no response here
		Name:        cfg.Name,
		MaxRequests: cfg.BreakerMaxRequests,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: cfg.ReadyToTrip,
		OnStateChange: func(name string, from, to gobreaker.State) {
			evt := log.Warn()
			if to == gobreaker.StateClosed {
				evt = log.Info()
			}
			evt.Str("provider", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})
}

// Do sends the request, retrying transient failures (5xx, 429, network
// errors) with exponential backoff. Every attempt passes through the
// configured Pace hook, and an open circuit fails fast with
// ErrCircuitOpen.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.DoWithContext(req.Context(), req)
}

// DoWithContext is Do under an explicit context, which also governs the
// backoff waits between attempts.
func (c *Client) DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.config.InitialInterval
	bo.MaxInterval = c.config.MaxInterval
	bo.MaxElapsedTime = 0 // retries are bounded by WithMaxRetries, not time

	backoffWithRetries := backoff.WithMaxRetries(bo, c.config.MaxRetries)
	backoffWithContext := backoff.WithContext(backoffWithRetries, ctx)

	var lastResp *http.Response

	operation := func() error {
		// Pacing applies per attempt so retries honour the upstream
		// minimum spacing just like first calls.
		if c.config.Pace != nil {
			if err := c.config.Pace(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}

		// Transient statuses are surfaced as errors so they count
		// against the circuit breaker and trigger a retry.
		resp, err := c.circuitBreaker.Execute(func() (*http.Response, error) { //nolint:bodyclose // caller is responsible for closing
			reqClone := req.Clone(ctx)
			r, err := c.httpClient.Do(reqClone)
			if err != nil {
				return nil, err
			}

			if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
				return r, &TransientError{StatusCode: r.StatusCode}
			}

			return r, nil
		})

		if err != nil {
			c.recordFailure(err)

			if errors.Is(err, gobreaker.ErrOpenState) {
				return backoff.Permanent(ErrCircuitOpen)
			}
			if errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(ErrCircuitOpen)
			}

			// Keep the response of a transient status so the caller can
			// still inspect it after retries run out.
			if resp != nil {
				lastResp = resp
			}
			return err
		}

		lastResp = resp
		c.recordSuccess()

		// Success or client error, neither is retryable.
		return nil
	}

	err := backoff.Retry(operation, backoffWithContext)
	if err != nil {
		if lastResp != nil {
			return lastResp, nil
		}
		return nil, err
	}

	return lastResp, nil
}

func (c *Client) recordSuccess() {
	if c.config.Registry != nil && c.config.Name != "" {
		c.config.Registry.RecordSuccess(c.config.Name)
	}
}

func (c *Client) recordFailure(err error) {
	if c.config.Registry != nil && c.config.Name != "" {
		c.config.Registry.RecordFailure(c.config.Name, err)
	}
}

// TransientError represents an HTTP status that signals temporary
// unavailability upstream (5xx or 429).
type TransientError struct {
	StatusCode int
}

func (e *TransientError) Error() string {
	return "transient upstream error: " + http.StatusText(e.StatusCode)
}

// Name returns the configured client name.
func (c *Client) Name() string {
	return c.config.Name
}

// CircuitBreakerState exposes the breaker state for health reporting.
func (c *Client) CircuitBreakerState() gobreaker.State {
	return c.circuitBreaker.State()
}

// CircuitBreakerCounts exposes the rolling request counts for health
// reporting.
func (c *Client) CircuitBreakerCounts() gobreaker.Counts {
	return c.circuitBreaker.Counts()
}
