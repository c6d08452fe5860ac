package model

import "time"

// GeocodeLoad is one raw geocode result staged for a ward. LoadID is an
// opaque per-call identifier; a ward re-attempted after a crash produces a
// second load with a fresh LoadID, so the staging tables carry at-least-once
// semantics and consolidation dedups on PlaceID.
type GeocodeLoad struct {
	LoadID           string             `json:"load_id"`
	WardID           int64              `json:"ward_id"`
	FormattedAddress string             `json:"formatted_address"`
	Latitude         float64            `json:"latitude"`
	Longitude        float64            `json:"longitude"`
	LocationType     string             `json:"location_type"`
	PlaceID          string             `json:"place_id"`
	Components       []AddressComponent `json:"components,omitempty"`
	TypeTags         []string           `json:"type_tags,omitempty"`
	Waypoints        []Waypoint         `json:"waypoints,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
}

// AddressComponent is one structured piece of a geocoded address.
type AddressComponent struct {
	LongName  string   `json:"long_name"`
	ShortName string   `json:"short_name"`
	Kinds     []string `json:"kinds,omitempty"`
}

// Waypoint is a navigation point attached to a geocode result.
type Waypoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ValidCoordinates reports whether the load's coordinate pair lies within
// geographic bounds. Loads failing this check must never reach the
// consolidated view.
func (g *GeocodeLoad) ValidCoordinates() bool {
	return g.Latitude >= -90 && g.Latitude <= 90 &&
		g.Longitude >= -180 && g.Longitude <= 180
}

// GeocodeFailure records a ward whose geocode attempt failed, for operator
// follow-up. Failed wards are not retried automatically on later runs.
type GeocodeFailure struct {
	ID       int64     `json:"id"`
	WardID   int64     `json:"ward_id"`
	Address  string    `json:"address"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}
