// Package geocode provides address geocoding via the GTEL Maps geocoding API
// (a Google-compatible proxy).
package geocode

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/gtel-dmp/geopipe/internal/resilience"
)

const defaultBaseURL = "https://maps.gtelmaps.vn/api/google/geocode/v1/search"

// Client geocodes addresses against the external geocoding service.
type Client interface {
	// Geocode geocodes a single address.
	Geocode(ctx context.Context, addr AddressInput) (*Result, error)
}

// AddressInput represents an address to geocode.
type AddressInput struct {
	Name     string
	District string
	City     string
}

// Result holds the geocoding output for an address.
type Result struct {
	FormattedAddress string
	Latitude         float64
	Longitude        float64
	LocationType     string // "ROOFTOP", "RANGE_INTERPOLATED", "GEOMETRIC_CENTER", "APPROXIMATE"
	PlaceID          string
	Components       []Component
	Types            []string
	Waypoints        []Waypoint
	Matched          bool
}

// Component is one structured address component.
type Component struct {
	LongName  string
	ShortName string
	Kinds     []string
}

// Waypoint is a navigation point returned alongside a geocode result.
type Waypoint struct {
	Latitude  float64
	Longitude float64
}

// Option configures the geocoder.
type Option func(*geocoder)

// WithBaseURL overrides the geocoding endpoint URL.
func WithBaseURL(u string) Option {
	return func(g *geocoder) {
		if u != "" {
			g.baseURL = u
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(g *geocoder) {
		g.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(g *geocoder) {
		g.httpClient.Timeout = d
	}
}

// WithRateLimit sets the requests-per-second rate limit for geocoding calls.
func WithRateLimit(rps float64) Option {
	return func(g *geocoder) {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithCircuitBreaker runs each call through the given breaker so a string of
// upstream failures short-circuits further calls instead of burning quota.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(g *geocoder) {
		g.breaker = cb
	}
}

type geocoder struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *resilience.CircuitBreaker
}

// NewClient creates a geocoding Client with the given API key and options.
func NewClient(apiKey string, opts ...Option) Client {
	g := &geocoder{
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(5, 5),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Geocode geocodes a single address, respecting the rate limit and, when
// configured, the circuit breaker.
func (g *geocoder) Geocode(ctx context.Context, addr AddressInput) (*Result, error) {
	if g.breaker == nil {
		return g.geocodeGTEL(ctx, addr)
	}
	return resilience.ExecuteVal(ctx, g.breaker, func(ctx context.Context) (*Result, error) {
		return g.geocodeGTEL(ctx, addr)
	})
}
