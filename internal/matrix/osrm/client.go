// Package osrm fetches distance matrices and route geometry from an
// OSRM (Open Source Routing Machine) instance.
package osrm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/optimap/optimap/internal/matrix"
	"github.com/optimap/optimap/internal/provider/resilience"
	"github.com/optimap/optimap/pkg/polyline"
)

const (
	// ProviderName identifies this routing provider.
	ProviderName = "osrm"

	// DefaultBaseURL is the public OSRM demo instance.
	DefaultBaseURL = "http://router.project-osrm.org"

	// DefaultProfile is the routing profile used when none is configured.
	DefaultProfile = "driving"

	// DefaultTimeout is the per-request timeout. Table requests for large
	// stop counts are the slowest calls this service makes.
	DefaultTimeout = 30 * time.Second

	codeOK = "Ok"
)

// HTTPDoer is an interface for executing HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds configuration for the OSRM client.
type ClientConfig struct {
	// BaseURL is the API base URL (optional, defaults to the demo instance).
	BaseURL string

	// Profile is the routing profile, e.g. driving (optional).
	Profile string

	// Timeout is the request timeout (optional, defaults to 30s).
	Timeout time.Duration

	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a resilient client with routing retry settings.
	HTTPClient HTTPDoer

	// Registry is the provider registry for health tracking (optional).
	Registry *resilience.Registry

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client is an OSRM routing client.
type Client struct {
	baseURL    string
	profile    string
	httpClient HTTPDoer
	logger     zerolog.Logger
}

// NewClient creates a new OSRM client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	profile := cfg.Profile
	if profile == "" {
		profile = DefaultProfile
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
		clientCfg.Registry = cfg.Registry
		clientCfg.Logger = cfg.Logger
		httpClient = resilience.NewClient(clientCfg)
	}

	return &Client{
		baseURL:    baseURL,
		profile:    profile,
		httpClient: httpClient,
		logger:     cfg.Logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// ComputeMatrix fetches the full distance and duration matrices for the
// given coordinates in a single table request.
func (c *Client) ComputeMatrix(ctx context.Context, coords []matrix.Coordinate) (matrix.CostMatrix, error) {
	if len(coords) < 2 {
		return matrix.CostMatrix{}, matrix.ErrInsufficientCoordinates
	}

	n := len(coords)
	reqURL := fmt.Sprintf("%s/table/v1/%s/%s?annotations=distance,duration",
		c.baseURL, c.profile, formatCoordinates(coords))

	c.logger.Debug().Int("stops", n).Msg("requesting distance matrix from osrm")

	var body tableResponse
	if err := c.get(ctx, reqURL, &body); err != nil {
		return matrix.CostMatrix{}, err
	}

	if body.Code != codeOK {
		return matrix.CostMatrix{}, c.apiError(body.Message)
	}

	if len(body.Distances) == 0 || len(body.Durations) == 0 {
		return matrix.CostMatrix{}, c.serviceError("Invalid response: missing distance or duration data")
	}
	if len(body.Distances) != n || len(body.Durations) != n {
		return matrix.CostMatrix{}, c.serviceError(fmt.Sprintf(
			"Matrix dimension mismatch: expected %dx%d, got %dx%d",
			n, n, len(body.Distances), len(body.Durations)))
	}

	distances, err := densify("distances", body.Distances, n)
	if err != nil {
		return matrix.CostMatrix{}, err
	}
	durations, err := densify("durations", body.Durations, n)
	if err != nil {
		return matrix.CostMatrix{}, err
	}

	c.logger.Debug().Int("stops", n).Msg("distance matrix computed")

	return matrix.CostMatrix{Distances: distances, Durations: durations}, nil
}

// ComputeRouteGeometry fetches the road-following shape for a route that
// visits the coordinates in order. Positions come back [lon, lat].
func (c *Client) ComputeRouteGeometry(ctx context.Context, coords []matrix.Coordinate) (matrix.Geometry, error) {
	if len(coords) < 2 {
		return nil, matrix.ErrInsufficientCoordinates
	}

	reqURL := fmt.Sprintf("%s/route/v1/%s/%s?overview=full&geometries=polyline",
		c.baseURL, c.profile, formatCoordinates(coords))

	var body routeResponse
	if err := c.get(ctx, reqURL, &body); err != nil {
		return nil, err
	}

	if body.Code != codeOK {
		return nil, c.apiError(body.Message)
	}
	if len(body.Routes) == 0 {
		return nil, c.serviceError("Invalid response: missing route data")
	}

	return matrix.Geometry(polyline.Decode(body.Routes[0].Geometry)), nil
}

func (c *Client) get(ctx context.Context, reqURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return &matrix.Error{
				Provider: ProviderName,
				Code:     matrix.CodeUnavailable,
				Message:  "routing service temporarily unavailable",
				Err:      matrix.ErrServiceUnavailable,
			}
		}
		return matrix.TransportError(ProviderName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.serviceError(fmt.Sprintf("routing API returned status %d", resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return c.serviceError("malformed routing response")
	}
	return nil
}

func (c *Client) apiError(message string) *matrix.Error {
	if message == "" {
		message = "Unknown OSRM API error"
	}
	return c.serviceError("OSRM API error: " + message)
}

func (c *Client) serviceError(message string) *matrix.Error {
	return &matrix.Error{
		Provider: ProviderName,
		Code:     matrix.CodeServiceError,
		Message:  message,
		Err:      matrix.ErrServiceUnavailable,
	}
}

// densify validates one NxN matrix and strips the pointer layer used to
// detect null cells. OSRM reports unroutable pairs as nulls; a single
// null poisons the whole optimization, so it is rejected here.
func densify(name string, rows [][]*float64, n int) ([][]float64, error) {
	out := make([][]float64, n)
	for i, row := range rows {
		if len(row) != n {
			return nil, &matrix.Error{
				Provider: ProviderName,
				Code:     matrix.CodeServiceError,
				Message:  fmt.Sprintf("Invalid response: %s row %d has %d cells, expected %d", name, i, len(row), n),
				Err:      matrix.ErrServiceUnavailable,
			}
		}
		out[i] = make([]float64, n)
		for j, cell := range row {
			if cell == nil {
				return nil, &matrix.Error{
					Provider: ProviderName,
					Code:     matrix.CodeServiceError,
					Message:  fmt.Sprintf("Invalid response: no route between stops %d and %d", i, j),
					Err:      matrix.ErrServiceUnavailable,
				}
			}
			out[i][j] = *cell
		}
	}
	return out, nil
}

// formatCoordinates renders coordinates the way OSRM paths expect:
// lon,lat pairs joined by semicolons.
func formatCoordinates(coords []matrix.Coordinate) string {
	parts := make([]string, len(coords))
	for i, c := range coords {
		parts[i] = strconv.FormatFloat(c.Lon, 'f', -1, 64) + "," + strconv.FormatFloat(c.Lat, 'f', -1, 64)
	}
	return strings.Join(parts, ";")
}

type tableResponse struct {
	Code      string       `json:"code"`
	Message   string       `json:"message"`
	Distances [][]*float64 `json:"distances"`
	Durations [][]*float64 `json:"durations"`
}

type routeResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Geometry string `json:"geometry"`
	} `json:"routes"`
}
