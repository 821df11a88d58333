// Package googlemaps geocodes addresses through the Google Maps
// Geocoding API.
package googlemaps

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/optimap/optimap/internal/geocode"
	"github.com/optimap/optimap/internal/provider/resilience"
)

const (
	// ProviderName identifies this geocoding provider.
	ProviderName = "google"

	// DefaultBaseURL is the Google Maps API base URL.
	DefaultBaseURL = "https://maps.googleapis.com"

	// DefaultTimeout is the per-request timeout.
	DefaultTimeout = 10 * time.Second

	statusOK          = "OK"
	statusZeroResults = "ZERO_RESULTS"
)

// HTTPDoer is an interface for executing HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds configuration for the Google Maps client.
type ClientConfig struct {
	// APIKey is the Google Maps API key (required).
	APIKey string

	// BaseURL is the API base URL (optional).
	BaseURL string

	// Timeout is the request timeout (optional, defaults to 10s).
	Timeout time.Duration

	// Pace, when set, runs before every outbound attempt, retries included.
	Pace func(ctx context.Context) error

	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a resilient client with geocoding retry settings.
	HTTPClient HTTPDoer

	// Registry is the provider registry for health tracking (optional).
	Registry *resilience.Registry

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client is a Google Maps geocoding client.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient HTTPDoer
	logger     zerolog.Logger
}

// NewClient creates a new Google Maps client. The API key is validated
// on first use, not at construction.
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
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     cfg.Logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// Geocode resolves an address via the Google Maps Geocoding API.
func (c *Client) Geocode(ctx context.Context, address string) (geocode.Coordinate, error) {
	if c.apiKey == "" {
		return geocode.Coordinate{}, &geocode.Error{
			Provider: ProviderName,
			Code:     geocode.CodeServiceError,
			Address:  address,
			Message:  "Google Maps API key is required",
			Err:      geocode.ErrMissingAPIKey,
		}
	}

	params := url.Values{}
	params.Set("address", address)
	params.Set("key", c.apiKey)

	reqURL := fmt.Sprintf("%s/maps/api/geocode/json?%s", c.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return geocode.Coordinate{}, fmt.Errorf("creating request: %w", err)
	}

	c.logger.Debug().Str("address", address).Msg("requesting geocode from google maps")

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

	var gmResp geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&gmResp); err != nil {
		return geocode.Coordinate{}, &geocode.Error{
			Provider: ProviderName,
			Code:     geocode.CodeServiceError,
			Address:  address,
			Message:  "malformed geocoding response",
			Err:      geocode.ErrServiceUnavailable,
		}
	}

	switch gmResp.Status {
	case statusOK:
		// fall through to result parsing
	case statusZeroResults:
		return geocode.Coordinate{}, &geocode.Error{
			Provider: ProviderName,
			Code:     geocode.CodeNotFound,
			Address:  address,
			Message:  "Address not found: " + address,
			Err:      geocode.ErrNotFound,
		}
	default:
		return geocode.Coordinate{}, &geocode.Error{
			Provider: ProviderName,
			Code:     geocode.CodeServiceError,
			Address:  address,
			Message:  "Google Maps API error: " + gmResp.Status,
			Err:      geocode.ErrServiceUnavailable,
		}
	}

	if len(gmResp.Results) == 0 {
		return geocode.Coordinate{}, &geocode.Error{
			Provider: ProviderName,
			Code:     geocode.CodeNotFound,
			Address:  address,
			Message:  "Address not found: " + address,
			Err:      geocode.ErrNotFound,
		}
	}

	loc := gmResp.Results[0].Geometry.Location
	return geocode.Coordinate{Lat: loc.Lat, Lon: loc.Lng}, nil
}

type geocodeResponse struct {
	Status  string `json:"status"`
	Results []struct {
		Geometry struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
		} `json:"geometry"`
	} `json:"results"`
}
