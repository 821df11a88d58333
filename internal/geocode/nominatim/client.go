// Package nominatim geocodes addresses through the OpenStreetMap
// Nominatim search API.
package nominatim

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/optimap/optimap/internal/geocode"
	"github.com/optimap/optimap/internal/provider/resilience"
)

const (
	// ProviderName identifies this geocoding provider.
	ProviderName = "nominatim"

	// DefaultBaseURL is the public Nominatim instance.
	DefaultBaseURL = "https://nominatim.openstreetmap.org"

	// DefaultTimeout is the per-request timeout.
	DefaultTimeout = 10 * time.Second

	// Nominatim's usage policy requires an identifying User-Agent.
	userAgent = "OptiMap-RouteOptimizer/1.0 (https://github.com/optimap/optimap)"
)

// HTTPDoer is an interface for executing HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds configuration for the Nominatim client.
type ClientConfig struct {
	// BaseURL is the API base URL (optional, defaults to the public instance).
	BaseURL string

	// Timeout is the request timeout (optional, defaults to 10s).
	Timeout time.Duration

	// Pace, when set, runs before every outbound attempt, retries
	// included. Use it to honour Nominatim's one-request-per-second
	// policy via a shared pacer.
	Pace func(ctx context.Context) error

	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a resilient client with geocoding retry settings.
	HTTPClient HTTPDoer

	// Registry is the provider registry for health tracking (optional).
	Registry *resilience.Registry

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client is a Nominatim geocoding client.
type Client struct {
	baseURL    string
	httpClient HTTPDoer
	logger     zerolog.Logger
}

// NewClient creates a new Nominatim client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		clientCfg := resilience.DefaultClientConfig(ProviderName)
		clientCfg.Timeout = timeout
		clientCfg.MaxRetries = 2 // 3 attempts total
		clientCfg.InitialInterval = 2 * time.Second
		clientCfg.MaxInterval = 10 * time.Second
		clientCfg.Pace = cfg.Pace
		clientCfg.Registry = cfg.Registry
		clientCfg.Logger = cfg.Logger
		httpClient = resilience.NewClient(clientCfg)
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     cfg.Logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// Geocode resolves an address via the Nominatim search endpoint. The
// first candidate wins; an empty candidate list is a not-found result.
func (c *Client) Geocode(ctx context.Context, address string) (geocode.Coordinate, error) {
	params := url.Values{}
	params.Set("q", address)
	params.Set("format", "json")
	params.Set("limit", "1")
	params.Set("addressdetails", "1")

	reqURL := fmt.Sprintf("%s/search?%s", c.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return geocode.Coordinate{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	c.logger.Debug().Str("address", address).Msg("requesting geocode from nominatim")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return geocode.Coordinate{}, geocode.TransportError(ProviderName, address, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return geocode.Coordinate{}, &geocode.Error{
			Provider: ProviderName,
			Code:     geocode.CodeServiceError,
			Address:  address,
			Message:  fmt.Sprintf("geocoding API returned status %d", resp.StatusCode),
			Err:      geocode.ErrServiceUnavailable,
		}
	}

	var candidates []searchResult
	if err := json.NewDecoder(resp.Body).Decode(&candidates); err != nil {
		return geocode.Coordinate{}, &geocode.Error{
			Provider: ProviderName,
			Code:     geocode.CodeServiceError,
			Address:  address,
			Message:  "malformed geocoding response",
			Err:      geocode.ErrServiceUnavailable,
		}
	}

	if len(candidates) == 0 {
		return geocode.Coordinate{}, &geocode.Error{
			Provider: ProviderName,
			Code:     geocode.CodeNotFound,
			Address:  address,
			Message:  "Address not found: " + address,
			Err:      geocode.ErrNotFound,
		}
	}

	// Nominatim encodes coordinates as strings.
	lat, latErr := strconv.ParseFloat(candidates[0].Lat, 64)
	lon, lonErr := strconv.ParseFloat(candidates[0].Lon, 64)
	if latErr != nil || lonErr != nil {
		return geocode.Coordinate{}, &geocode.Error{
			Provider: ProviderName,
			Code:     geocode.CodeServiceError,
			Address:  address,
			Message:  "malformed coordinates in geocoding response",
			Err:      geocode.ErrServiceUnavailable,
		}
	}

	return geocode.Coordinate{Lat: lat, Lon: lon}, nil
}

type searchResult struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}
