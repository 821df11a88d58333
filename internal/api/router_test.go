package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optimap/optimap/internal/api"
	"github.com/optimap/optimap/internal/api/handler"
	"github.com/optimap/optimap/internal/api/models"
	"github.com/optimap/optimap/internal/geocache"
	"github.com/optimap/optimap/internal/geocode"
	"github.com/optimap/optimap/internal/optimize"
	"github.com/optimap/optimap/internal/provider/resilience"
)

// stubOptimizeService returns a canned result or error without running
// the real pipeline.
type stubOptimizeService struct {
	result  *optimize.Result
	err     error
	calls   int
	lastReq optimize.Request
}

func (s *stubOptimizeService) Optimize(_ context.Context, req optimize.Request) (*optimize.Result, error) {
	s.calls++
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

// stubGeocoder resolves every address to the same coordinate.
type stubGeocoder struct{}

func (stubGeocoder) Geocode(_ context.Context, _ string) (geocode.Coordinate, error) {
	return geocode.Coordinate{Lat: 35.994, Lon: -78.8986}, nil
}

func (stubGeocoder) Name() string { return "stub" }

func newTestRouter(svc handler.OptimizeService) http.Handler {
	logger := zerolog.New(io.Discard)
	return api.NewRouter(api.RouterConfig{
		Version:   "test",
		BuildTime: "2024-01-01T00:00:00Z",
		Logger:    logger,
		Optimize:  svc,
	})
}

// sampleResult is a three-stop optimization with the middle stops
// swapped relative to input order.
func sampleResult() *optimize.Result {
	depot := optimize.Stop{Lat: floatPtr(35.9940), Lon: floatPtr(-78.8986)}
	first := optimize.Stop{Lat: floatPtr(35.9886), Lon: floatPtr(-78.9072)}
	second := optimize.Stop{Lat: floatPtr(36.0014), Lon: floatPtr(-78.9382)}

	return &optimize.Result{
		Route:                []optimize.Stop{depot, first, second, depot},
		Order:                []int{0, 2, 1, 0},
		Optimized:            optimize.Metrics{DistanceMeters: 9000, TimeSeconds: 1200},
		Baseline:             optimize.Metrics{DistanceMeters: 10000, TimeSeconds: 1500},
		DistanceSavedMeters:  1000,
		TimeSavedSeconds:     300,
		DistanceSavedPercent: 10,
		TimeSavedPercent:     20,
		Geometry: [][]float64{
			{-78.8986, 35.9940},
			{-78.9072, 35.9886},
			{-78.9382, 36.0014},
			{-78.8986, 35.9940},
		},
	}
}

func optimizeRequestBody(t *testing.T) []byte {
	t.Helper()
	input := models.OptimizeRequest{
		Stops: []models.StopInput{
			{Latitude: floatPtr(35.9940), Longitude: floatPtr(-78.8986)},
			{Latitude: floatPtr(36.0014), Longitude: floatPtr(-78.9382)},
			{Latitude: floatPtr(35.9886), Longitude: floatPtr(-78.9072)},
		},
		DepotIndex: 0,
	}
	body, err := json.Marshal(input)
	require.NoError(t, err)
	return body
}

func postOptimize(router http.Handler, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/routes/optimize", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeProblem(t *testing.T, w *httptest.ResponseRecorder) models.Problem {
	t.Helper()
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	var problem models.Problem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &problem))
	return problem
}

func TestRouter_HealthCheck(t *testing.T) {
	router := newTestRouter(&stubOptimizeService{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	var health models.Health
	err := json.Unmarshal(w.Body.Bytes(), &health)
	require.NoError(t, err)

	assert.Equal(t, models.HealthStatusOK, health.Status)
	assert.Equal(t, "test", health.Details["version"])
}

func TestRouter_ReadinessCheck(t *testing.T) {
	router := newTestRouter(&stubOptimizeService{})

	req := httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var health models.Health
	err := json.Unmarshal(w.Body.Bytes(), &health)
	require.NoError(t, err)

	assert.Equal(t, models.HealthStatusOK, health.Status)
}

func TestRouter_OptimizeRoute(t *testing.T) {
	svc := &stubOptimizeService{result: sampleResult()}
	router := newTestRouter(svc)

	w := postOptimize(router, optimizeRequestBody(t))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp models.OptimizeResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	require.NoError(t, err)

	require.Len(t, resp.OptimizedRoute, 4)
	assert.Equal(t, resp.OptimizedRoute[0].Latitude, resp.OptimizedRoute[3].Latitude)
	assert.Equal(t, 9000.0, resp.OptimizedMetrics.TotalDistanceMeters)
	assert.Equal(t, 1200.0, resp.OptimizedMetrics.TotalTimeSeconds)
	assert.Equal(t, 10000.0, resp.BaselineMetrics.TotalDistanceMeters)
	assert.Equal(t, 1000.0, resp.DistanceSavedMeters)
	assert.Equal(t, 300.0, resp.TimeSavedSeconds)
	assert.Equal(t, 10.0, resp.DistanceSavedPercentage)
	assert.Equal(t, 20.0, resp.TimeSavedPercentage)

	require.NotNil(t, resp.RouteGeometry)
	assert.Equal(t, "LineString", resp.RouteGeometry.Type)
	assert.Len(t, resp.RouteGeometry.Coordinates, 4)

	// The service receives the decoded stops, not the raw JSON.
	assert.Equal(t, 1, svc.calls)
	assert.Len(t, svc.lastReq.Stops, 3)
	assert.Equal(t, 0, svc.lastReq.DepotIndex)
}

func TestRouter_OptimizeRoute_ConfidenceIsAlwaysNull(t *testing.T) {
	router := newTestRouter(&stubOptimizeService{result: sampleResult()})

	w := postOptimize(router, optimizeRequestBody(t))

	require.Equal(t, http.StatusOK, w.Code)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw))

	route, ok := raw["optimized_route"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, route)

	stop, ok := route[0].(map[string]any)
	require.True(t, ok)

	// The key is present with an explicit null, not omitted.
	val, ok := stop["geocoding_confidence"]
	assert.True(t, ok)
	assert.Nil(t, val)
}

func TestRouter_OptimizeRoute_ValidationProblem(t *testing.T) {
	svc := &stubOptimizeService{
		err: optimize.NewError(optimize.KindInvalidDepotIndex,
			"Depot index 5 is out of bounds for 3 stops",
			optimize.Detail{Field: "depot_index", Message: "Index 5 is invalid for 3 stops (valid range: 0-2)", Value: 5},
		),
	}
	router := newTestRouter(svc)

	w := postOptimize(router, optimizeRequestBody(t))

	assert.Equal(t, http.StatusBadRequest, w.Code)

	problem := decodeProblem(t, w)
	assert.Equal(t, models.ProblemTypeValidation, problem.Type)
	assert.Equal(t, http.StatusBadRequest, problem.Status)
	assert.Equal(t, "INVALID_DEPOT_INDEX", problem.Code)
	assert.Equal(t, "Depot index 5 is out of bounds for 3 stops", problem.Detail)
	assert.Equal(t, "/v1/routes/optimize", problem.Instance)
	assert.NotEmpty(t, problem.TraceID)
	assert.NotEmpty(t, problem.Suggestion)
	require.Len(t, problem.Errors, 1)
	assert.Equal(t, "depot_index", problem.Errors[0].Field)
}

func TestRouter_OptimizeRoute_GeocodingProblem(t *testing.T) {
	svc := &stubOptimizeService{
		err: optimize.NewError(optimize.KindGeocodingFailed,
			"Failed to geocode 1 address(es)",
			optimize.Detail{Field: "stops[1].address", Message: "Address not found: nowhere", Value: "nowhere"},
		),
	}
	router := newTestRouter(svc)

	w := postOptimize(router, optimizeRequestBody(t))

	assert.Equal(t, http.StatusBadRequest, w.Code)

	problem := decodeProblem(t, w)
	assert.Equal(t, models.ProblemTypeGeocoding, problem.Type)
	assert.Equal(t, "GEOCODING_FAILED", problem.Code)
	require.Len(t, problem.Errors, 1)
	assert.Equal(t, "stops[1].address", problem.Errors[0].Field)
	assert.Equal(t, "nowhere", problem.Errors[0].Value)
}

func TestRouter_OptimizeRoute_RoutingUnavailableProblem(t *testing.T) {
	svc := &stubOptimizeService{
		err: optimize.NewError(optimize.KindRoutingUnavailable, ""),
	}
	router := newTestRouter(svc)

	w := postOptimize(router, optimizeRequestBody(t))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	problem := decodeProblem(t, w)
	assert.Equal(t, models.ProblemTypeRoutingUpstream, problem.Type)
	assert.Equal(t, "ROUTING_SERVICE_UNAVAILABLE", problem.Code)
	assert.NotEmpty(t, problem.Detail)
}

func TestRouter_OptimizeRoute_RoutingTimeoutProblem(t *testing.T) {
	svc := &stubOptimizeService{
		err: optimize.NewError(optimize.KindRoutingTimeout, "Routing service request timed out after 30s"),
	}
	router := newTestRouter(svc)

	w := postOptimize(router, optimizeRequestBody(t))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	problem := decodeProblem(t, w)
	assert.Equal(t, "ROUTING_SERVICE_TIMEOUT", problem.Code)
}

func TestRouter_OptimizeRoute_SolverProblem(t *testing.T) {
	svc := &stubOptimizeService{
		err: optimize.NewError(optimize.KindSolverNoSolution, ""),
	}
	router := newTestRouter(svc)

	w := postOptimize(router, optimizeRequestBody(t))

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	problem := decodeProblem(t, w)
	assert.Equal(t, models.ProblemTypeInternal, problem.Type)
	assert.Equal(t, "SOLVER_NO_SOLUTION", problem.Code)
}

func TestRouter_OptimizeRoute_UnclassifiedError(t *testing.T) {
	svc := &stubOptimizeService{err: errors.New("connection reset")}
	router := newTestRouter(svc)

	w := postOptimize(router, optimizeRequestBody(t))

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	problem := decodeProblem(t, w)
	assert.Equal(t, models.ProblemTypeInternal, problem.Type)
	assert.Empty(t, problem.Code)
	// The raw error never leaks to the client.
	assert.NotContains(t, problem.Detail, "connection reset")
}

func TestRouter_OptimizeRoute_MalformedJSON(t *testing.T) {
	svc := &stubOptimizeService{result: sampleResult()}
	router := newTestRouter(svc)

	w := postOptimize(router, []byte(`{"stops": [`))

	assert.Equal(t, http.StatusBadRequest, w.Code)

	problem := decodeProblem(t, w)
	assert.Equal(t, "INVALID_INPUT", problem.Code)
	assert.Equal(t, 0, svc.calls)
}

func TestRouter_OptimizeRoute_UnknownFieldRejected(t *testing.T) {
	svc := &stubOptimizeService{result: sampleResult()}
	router := newTestRouter(svc)

	body := []byte(`{"stops": [{"latitude": 1, "longitude": 2}], "vehicles": 3}`)
	w := postOptimize(router, body)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	problem := decodeProblem(t, w)
	assert.Equal(t, "INVALID_INPUT", problem.Code)
	assert.Contains(t, problem.Detail, "unknown field")
	assert.Equal(t, 0, svc.calls)
}

func TestRouter_OptimizeRoute_RequiresJSONContentType(t *testing.T) {
	svc := &stubOptimizeService{result: sampleResult()}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/v1/routes/optimize", bytes.NewReader(optimizeRequestBody(t)))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
	assert.Equal(t, 0, svc.calls)
}

func TestRouter_GeocodingCacheStats(t *testing.T) {
	logger := zerolog.New(io.Discard)
	cache := geocache.New(geocache.Config{Logger: logger})
	resolver := geocode.NewResolver(geocode.Config{
		Provider: stubGeocoder{},
		Cache:    cache,
		Logger:   logger,
	})

	// One miss then one hit.
	_, err := resolver.Resolve(context.Background(), "710 W Main St, Durham")
	require.NoError(t, err)
	_, err = resolver.Resolve(context.Background(), "710 W Main St, Durham")
	require.NoError(t, err)

	router := api.NewRouter(api.RouterConfig{
		Version:  "test",
		Logger:   logger,
		Optimize: &stubOptimizeService{},
		Resolver: resolver,
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/geocoding/cache/stats", http.NoBody)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var stats models.GeocodeCacheStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))

	assert.True(t, stats.Enabled)
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, geocache.DefaultMaxEntries, stats.MaxEntries)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 50.0, stats.HitRatePercent)
	assert.Equal(t, uint64(2), stats.TotalRequests)
	assert.Equal(t, 30.0, stats.TTLDays)
}

func TestRouter_GeocodingCacheStats_NoResolver(t *testing.T) {
	router := newTestRouter(&stubOptimizeService{})

	req := httptest.NewRequest(http.MethodGet, "/v1/geocoding/cache/stats", http.NoBody)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var stats models.GeocodeCacheStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))

	assert.False(t, stats.Enabled)
	assert.Zero(t, stats.TotalRequests)
}

func TestRouter_SystemStatus(t *testing.T) {
	registry := resilience.NewRegistry()
	_ = resilience.NewClient(resilience.ClientConfig{Name: "osrm", Registry: registry})
	_ = resilience.NewClient(resilience.ClientConfig{Name: "nominatim", Registry: registry})

	router := api.NewRouter(api.RouterConfig{
		Version:  "test",
		Logger:   zerolog.New(io.Discard),
		Optimize: &stubOptimizeService{},
		Registry: registry,
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/ops/status", http.NoBody)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var status models.SystemStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))

	assert.Equal(t, models.HealthStatusOK, status.Status)
	require.Len(t, status.Providers, 2)

	names := []string{status.Providers[0].Provider, status.Providers[1].Provider}
	assert.Contains(t, names, "osrm")
	assert.Contains(t, names, "nominatim")

	for _, p := range status.Providers {
		assert.Equal(t, models.HealthStatusOK, p.Status)
		assert.Equal(t, "closed", p.CircuitState)
		assert.Zero(t, p.Requests)
	}
}

func TestRouter_RequestID_Generated(t *testing.T) {
	router := newTestRouter(&stubOptimizeService{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	requestID := w.Header().Get("X-Request-Id")
	assert.NotEmpty(t, requestID)
	assert.Contains(t, requestID, "req_")
}

func TestRouter_RequestID_Preserved(t *testing.T) {
	router := newTestRouter(&stubOptimizeService{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	req.Header.Set("X-Request-Id", "custom_request_id")
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, "custom_request_id", w.Header().Get("X-Request-Id"))
}

func TestRouter_NotFound(t *testing.T) {
	router := newTestRouter(&stubOptimizeService{})

	req := httptest.NewRequest(http.MethodGet, "/v1/nonexistent", http.NoBody)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)

	problem := decodeProblem(t, w)
	assert.Equal(t, models.ProblemTypeNotFound, problem.Type)
	assert.NotEmpty(t, problem.TraceID)
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	router := newTestRouter(&stubOptimizeService{})

	req := httptest.NewRequest(http.MethodGet, "/v1/routes/optimize", http.NoBody)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	problem := decodeProblem(t, w)
	assert.Equal(t, models.ProblemTypeMethodNotAllowed, problem.Type)
}

func TestRouter_SecurityHeaders(t *testing.T) {
	router := newTestRouter(&stubOptimizeService{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}

func TestRouter_CORSPreflight(t *testing.T) {
	router := api.NewRouter(api.RouterConfig{
		Version:        "test",
		Logger:         zerolog.New(io.Discard),
		Optimize:       &stubOptimizeService{},
		AllowedOrigins: []string{"https://app.optimap.dev"},
	})

	req := httptest.NewRequest(http.MethodOptions, "/v1/routes/optimize", http.NoBody)
	req.Header.Set("Origin", "https://app.optimap.dev")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, "https://app.optimap.dev", w.Header().Get("Access-Control-Allow-Origin"))
}

func floatPtr(f float64) *float64 {
	return &f
}
