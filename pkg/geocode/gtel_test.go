package geocode

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/gtel-dmp/geopipe/internal/resilience"
)

func newTestGeocoder(baseURL string) *geocoder {
	return &geocoder{
		baseURL:    baseURL,
		apiKey:     "test-key",
		httpClient: http.DefaultClient,
		limiter:    rate.NewLimiter(rate.Inf, 1),
	}
}

func TestGeocodeGTEL_Rooftop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.URL.Query().Get("apikey"))
		assert.Equal(t, "Thành Sen, Thạch Hà, Hà Tĩnh", r.URL.Query().Get("address"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"status": "OK",
			"results": [{
				"formatted_address": "Thành Sen, Thạch Hà, Hà Tĩnh, Vietnam",
				"place_id": "ChIJwards123",
				"types": ["administrative_area_level_3", "political"],
				"address_components": [
					{"long_name": "Thành Sen", "short_name": "Thành Sen", "types": ["administrative_area_level_3"]},
					{"long_name": "Hà Tĩnh", "short_name": "HT", "types": ["administrative_area_level_1"]}
				],
				"geometry": {
					"location": {"lat": 18.3428, "lng": 105.9057},
					"location_type": "ROOFTOP"
				},
				"navigation_points": [
					{"location": {"latitude": 18.3429, "longitude": 105.9055}},
					{"location": {"latitude": 18.3431, "longitude": 105.9060}}
				]
			}]
		}`)
	}))
	defer srv.Close()

	g := newTestGeocoder(srv.URL)
	result, err := g.geocodeGTEL(context.Background(), AddressInput{
		Name: "Thành Sen", District: "Thạch Hà", City: "Hà Tĩnh",
	})
	require.NoError(t, err)
	assert.True(t, result.Matched)
	assert.InDelta(t, 18.3428, result.Latitude, 0.0001)
	assert.InDelta(t, 105.9057, result.Longitude, 0.0001)
	assert.Equal(t, "ROOFTOP", result.LocationType)
	assert.Equal(t, "ChIJwards123", result.PlaceID)
	assert.Len(t, result.Components, 2)
	assert.Equal(t, "HT", result.Components[1].ShortName)
	assert.Equal(t, []string{"administrative_area_level_3", "political"}, result.Types)
	require.Len(t, result.Waypoints, 2)
	assert.InDelta(t, 18.3429, result.Waypoints[0].Latitude, 0.0001)
}

func TestGeocodeGTEL_ZeroResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"status": "ZERO_RESULTS", "results": []}`)
	}))
	defer srv.Close()

	g := newTestGeocoder(srv.URL)
	result, err := g.geocodeGTEL(context.Background(), AddressInput{Name: "Nowhere"})
	require.NoError(t, err)
	assert.False(t, result.Matched)
}

func TestGeocodeGTEL_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	g := newTestGeocoder(srv.URL)
	_, err := g.geocodeGTEL(context.Background(), AddressInput{Name: "Thành Sen"})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestGeocodeGTEL_ClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	g := newTestGeocoder(srv.URL)
	_, err := g.geocodeGTEL(context.Background(), AddressInput{Name: "Thành Sen"})
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
}

func TestGeocodeGTEL_MalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"status": "OK", "results": [`)
	}))
	defer srv.Close()

	g := newTestGeocoder(srv.URL)
	_, err := g.geocodeGTEL(context.Background(), AddressInput{Name: "Thành Sen"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse response")
}

func TestGeocodeGTEL_MissingAPIKey(t *testing.T) {
	g := newTestGeocoder("http://unused")
	g.apiKey = ""
	_, err := g.geocodeGTEL(context.Background(), AddressInput{Name: "Thành Sen"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api key not configured")
}

func TestGeocode_CircuitBreakerShortCircuits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 2})
	client := NewClient("test-key",
		WithBaseURL(srv.URL),
		WithRateLimit(1000),
		WithCircuitBreaker(cb),
	)

	for i := 0; i < 2; i++ {
		_, err := client.Geocode(context.Background(), AddressInput{Name: "Thành Sen"})
		require.Error(t, err)
	}

	_, err := client.Geocode(context.Background(), AddressInput{Name: "Thành Sen"})
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
}
