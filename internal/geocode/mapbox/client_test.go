package mapbox_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/optimap/optimap/internal/geocode"
	"github.com/optimap/optimap/internal/geocode/mapbox"
	"github.com/optimap/optimap/internal/provider/resilience"
)

func TestClient_Name(t *testing.T) {
	client := mapbox.NewClient(mapbox.ClientConfig{APIKey: "key", Logger: zerolog.Nop()})
	assert.Equal(t, "mapbox", client.Name())
}

func TestClient_Geocode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/geocoding/v5/mapbox.places/710 W Main St.json", r.URL.Path)
		assert.Equal(t, "test-token", r.URL.Query().Get("access_token"))
		assert.Equal(t, "1", r.URL.Query().Get("limit"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"features": [{"geometry": {"coordinates": [-97.7431, 30.2672]}}]
		}`))
	}))
	defer server.Close()

	client := mapbox.NewClient(mapbox.ClientConfig{
		BaseURL:    server.URL,
		APIKey:     "test-token",
		HTTPClient: resilience.NewClient(resilience.DefaultClientConfig("mapbox-test")),
		Logger:     zerolog.Nop(),
	})

	coord, err := client.Geocode(context.Background(), "710 W Main St")
	require.NoError(t, err)
	assert.InDelta(t, 30.2672, coord.Lat, 1e-9, "latitude comes second in the GeoJSON pair")
	assert.InDelta(t, -97.7431, coord.Lon, 1e-9)
}

func TestClient_Geocode_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"features": []}`))
	}))
	defer server.Close()

	client := mapbox.NewClient(mapbox.ClientConfig{
		BaseURL:    server.URL,
		APIKey:     "test-token",
		HTTPClient: resilience.NewClient(resilience.DefaultClientConfig("mapbox-test")),
		Logger:     zerolog.Nop(),
	})

	_, err := client.Geocode(context.Background(), "nowhere")
	require.Error(t, err)
	assert.ErrorIs(t, err, geocode.ErrNotFound)

	var gerr *geocode.Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, "mapbox", gerr.Provider)
	assert.Equal(t, "nowhere", gerr.Address)
}

func TestClient_Geocode_MissingAPIKey(t *testing.T) {
	client := mapbox.NewClient(mapbox.ClientConfig{Logger: zerolog.Nop()})

	_, err := client.Geocode(context.Background(), "somewhere")
	require.Error(t, err)
	assert.ErrorIs(t, err, geocode.ErrMissingAPIKey)
}

func TestClient_Geocode_TruncatedCoordinates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"features": [{"geometry": {"coordinates": [-97.7431]}}]}`))
	}))
	defer server.Close()

	client := mapbox.NewClient(mapbox.ClientConfig{
		BaseURL:    server.URL,
		APIKey:     "test-token",
		HTTPClient: resilience.NewClient(resilience.DefaultClientConfig("mapbox-test")),
		Logger:     zerolog.Nop(),
	})

	_, err := client.Geocode(context.Background(), "somewhere")
	require.Error(t, err)
	assert.ErrorIs(t, err, geocode.ErrServiceUnavailable)
}
