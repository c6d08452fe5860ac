package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/rotisserie/eris"

	"github.com/gtel-dmp/geopipe/internal/resilience"
)

// gtelGeocodeResponse is the JSON response from the GTEL Maps geocode API.
// The payload mirrors the Google Geocoding API response shape.
type gtelGeocodeResponse struct {
	Results []gtelResult `json:"results"`
	Status  string       `json:"status"`
}

type gtelResult struct {
	FormattedAddress  string   `json:"formatted_address"`
	PlaceID           string   `json:"place_id"`
	Types             []string `json:"types"`
	AddressComponents []struct {
		LongName  string   `json:"long_name"`
		ShortName string   `json:"short_name"`
		Types     []string `json:"types"`
	} `json:"address_components"`
	Geometry struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
		LocationType string `json:"location_type"`
	} `json:"geometry"`
	NavigationPoints []struct {
		Location struct {
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"location"`
	} `json:"navigation_points"`
}

// geocodeGTEL performs a single geocode request against the GTEL Maps API.
// 5xx and 429 responses come back wrapped as transient so the transport-level
// retry can distinguish them from permanent failures.
func (g *geocoder) geocodeGTEL(ctx context.Context, addr AddressInput) (*Result, error) {
	if g.apiKey == "" {
		return nil, eris.New("geocode: api key not configured")
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: rate limit")
	}

	params := url.Values{
		"address": {FormatAddress(addr)},
		"apikey":  {g.apiKey},
	}

	reqURL := g.baseURL + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: build request")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		// Network and timeout errors are classified by resilience.IsTransient.
		return nil, eris.Wrap(err, "geocode: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("geocode: service returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: read body")
	}

	var gtelResp gtelGeocodeResponse
	if err := json.Unmarshal(body, &gtelResp); err != nil {
		return nil, eris.Wrap(err, "geocode: parse response")
	}

	if gtelResp.Status != "OK" || len(gtelResp.Results) == 0 {
		if gtelResp.Status == "ZERO_RESULTS" {
			return &Result{Matched: false}, nil
		}
		return nil, eris.Errorf("geocode: service status %q", gtelResp.Status)
	}

	first := gtelResp.Results[0]
	result := &Result{
		FormattedAddress: first.FormattedAddress,
		Latitude:         first.Geometry.Location.Lat,
		Longitude:        first.Geometry.Location.Lng,
		LocationType:     first.Geometry.LocationType,
		PlaceID:          first.PlaceID,
		Types:            first.Types,
		Matched:          true,
	}
	for _, c := range first.AddressComponents {
		result.Components = append(result.Components, Component{
			LongName:  c.LongName,
			ShortName: c.ShortName,
			Kinds:     c.Types,
		})
	}
	for _, np := range first.NavigationPoints {
		result.Waypoints = append(result.Waypoints, Waypoint{
			Latitude:  np.Location.Latitude,
			Longitude: np.Location.Longitude,
		})
	}
	return result, nil
}
