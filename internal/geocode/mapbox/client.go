// Package mapbox geocodes addresses through the Mapbox Places API.
package mapbox

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
	ProviderName = "mapbox"

	// DefaultBaseURL is the Mapbox API base URL.
	DefaultBaseURL = "https://api.mapbox.com"

	// DefaultTimeout is the per-request timeout.
	DefaultTimeout = 10 * time.Second
)

// HTTPDoer is an interface for executing HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds configuration for the Mapbox client.
type ClientConfig struct {
	// APIKey is the Mapbox access token (required).
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

// Client is a Mapbox geocoding client.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient HTTPDoer
	logger     zerolog.Logger
}

// NewClient creates a new Mapbox client. The access token is validated
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

// Geocode resolves an address via Mapbox forward geocoding. Mapbox
// returns GeoJSON features with [lon, lat] coordinate order.
func (c *Client) Geocode(ctx context.Context, address string) (geocode.Coordinate, error) {
	if c.apiKey == "" {
		return geocode.Coordinate{}, &geocode.Error{
			Provider: ProviderName,
			Code:     geocode.CodeServiceError,
			Address:  address,
			Message:  "Mapbox API key is required",
			Err:      geocode.ErrMissingAPIKey,
		}
	}

	params := url.Values{}
	params.Set("access_token", c.apiKey)
	params.Set("limit", "1")

	reqURL := fmt.Sprintf("%s/geocoding/v5/mapbox.places/%s.json?%s",
		c.baseURL, url.PathEscape(address), params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return geocode.Coordinate{}, fmt.Errorf("creating request: %w", err)
	}

	c.logger.Debug().Str("address", address).Msg("requesting geocode from mapbox")

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

	var mbResp placesResponse
	if err := json.NewDecoder(resp.Body).Decode(&mbResp); err != nil {
		return geocode.Coordinate{}, &geocode.Error{
			Provider: ProviderName,
			Code:     geocode.CodeServiceError,
			Address:  address,
			Message:  "malformed geocoding response",
			Err:      geocode.ErrServiceUnavailable,
		}
	}

	if len(mbResp.Features) == 0 {
		return geocode.Coordinate{}, &geocode.Error{
			Provider: ProviderName,
			Code:     geocode.CodeNotFound,
			Address:  address,
			Message:  "Address not found: " + address,
			Err:      geocode.ErrNotFound,
		}
	}

	coords := mbResp.Features[0].Geometry.Coordinates
	if len(coords) < 2 {
		return geocode.Coordinate{}, &geocode.Error{
			Provider: ProviderName,
			Code:     geocode.CodeServiceError,
			Address:  address,
			Message:  "malformed coordinates in geocoding response",
			Err:      geocode.ErrServiceUnavailable,
		}
	}

	return geocode.Coordinate{Lat: coords[1], Lon: coords[0]}, nil
}

type placesResponse struct {
	Features []struct {
		Geometry struct {
			Coordinates []float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"features"`
}
