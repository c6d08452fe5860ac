// Package consolidate builds the warehouse table from staged geocode loads.
// The staging tables carry at-least-once delivery (a crashed ingestion run
// re-stages its batch), so consolidation deduplicates on place_id before
// writing, making the downstream table safe to rebuild at any time.
package consolidate

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/gtel-dmp/geopipe/internal/db"
	"github.com/gtel-dmp/geopipe/internal/model"
)

// DefaultTargetTable is the warehouse table consolidation writes to.
const DefaultTargetTable = "warehouse.geocoded_wards"

// targetColumns is the column set written per consolidated row, in COPY order.
var targetColumns = []string{
	"place_id", "ward_id", "formatted_address", "latitude", "longitude",
	"location_type", "components", "type_tags",
	"waypoint_count", "waypoints", "route_length_m", "consolidated_at",
}

// Outcome summarizes a consolidation run.
type Outcome struct {
	Scanned      int   `json:"scanned"`      // staged loads read
	Consolidated int64 `json:"consolidated"` // rows upserted
	Duplicates   int   `json:"duplicates"`   // loads collapsed by place_id dedup
	Invalid      int   `json:"invalid"`      // loads dropped for missing or out-of-range coordinates
}

// stagedLoad is a staged geocode result as read back from the raw schema.
// Coordinates are nullable there, so presence is tracked alongside the load.
type stagedLoad struct {
	model.GeocodeLoad
	hasCoords bool
}

// Consolidator reads staged geocode loads and upserts them into the
// warehouse table.
type Consolidator struct {
	pool  db.Pool
	table string
}

// Option configures a Consolidator.
type Option func(*Consolidator)

// WithTargetTable overrides the warehouse table name.
func WithTargetTable(table string) Option {
	return func(c *Consolidator) {
		if table != "" {
			c.table = table
		}
	}
}

// New creates a Consolidator over the given pool.
func New(pool db.Pool, opts ...Option) *Consolidator {
	c := &Consolidator{pool: pool, table: DefaultTargetTable}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run reads all staged loads, deduplicates by place_id (the most recently
// staged load wins), drops loads with out-of-range coordinates, and bulk-
// upserts the result. Re-running against unchanged staging data is a no-op
// on the warehouse contents.
func (c *Consolidator) Run(ctx context.Context) (Outcome, error) {
	log := zap.L().With(zap.String("component", "consolidate"))

	loads, err := c.fetchLoads(ctx)
	if err != nil {
		return Outcome{}, err
	}

	outcome := Outcome{Scanned: len(loads)}
	if len(loads) == 0 {
		log.Info("no staged loads to consolidate")
		return outcome, nil
	}

	deduped := dedupeByPlaceID(loads)
	outcome.Duplicates = len(loads) - len(deduped)

	now := time.Now().UTC()
	rows := make([][]any, 0, len(deduped))
	for _, load := range deduped {
		if !load.hasCoords || !load.ValidCoordinates() {
			outcome.Invalid++
			log.Warn("dropping load with missing or out-of-range coordinates",
				zap.String("load_id", load.LoadID),
				zap.Int64("ward_id", load.WardID),
				zap.Bool("coords_present", load.hasCoords),
				zap.Float64("latitude", load.Latitude),
				zap.Float64("longitude", load.Longitude),
			)
			continue
		}
		rows = append(rows, consolidatedRow(&load.GeocodeLoad, now))
	}

	if len(rows) == 0 {
		log.Info("no valid loads after dedup", zap.Int("scanned", outcome.Scanned))
		return outcome, nil
	}

	written, err := db.BulkUpsert(ctx, c.pool, db.UpsertConfig{
		Table:        c.table,
		Columns:      targetColumns,
		ConflictKeys: []string{"place_id"},
	}, rows)
	if err != nil {
		return outcome, eris.Wrap(err, "consolidate: upsert warehouse rows")
	}
	outcome.Consolidated = written

	log.Info("consolidation complete",
		zap.Int("scanned", outcome.Scanned),
		zap.Int("duplicates", outcome.Duplicates),
		zap.Int("invalid", outcome.Invalid),
		zap.Int64("consolidated", outcome.Consolidated),
	)
	return outcome, nil
}

// fetchLoads reads every staged load with its sub-collections. Loads without
// a place_id (unmatched results never stage, but legacy rows may exist) are
// excluded at the source. Coordinates are scanned as nullable: a NULL pair
// must reach the caller as missing, not as (0,0).
func (c *Consolidator) fetchLoads(ctx context.Context) ([]*stagedLoad, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT load_id, ward_id, formatted_address, latitude, longitude,
		        COALESCE(location_type, ''), place_id, created_at
		 FROM raw.geocode_results
		 WHERE place_id IS NOT NULL AND place_id <> ''
		 ORDER BY created_at, load_id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "consolidate: query geocode results")
	}
	defer rows.Close()

	var loads []*stagedLoad
	byID := make(map[string]*stagedLoad)
	for rows.Next() {
		var load stagedLoad
		var lat, lng *float64
		if err := rows.Scan(&load.LoadID, &load.WardID, &load.FormattedAddress,
			&lat, &lng, &load.LocationType,
			&load.PlaceID, &load.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "consolidate: scan geocode result")
		}
		if lat != nil && lng != nil {
			load.Latitude, load.Longitude = *lat, *lng
			load.hasCoords = true
		}
		loads = append(loads, &load)
		byID[load.LoadID] = &load
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "consolidate: iterate geocode results")
	}
	if len(loads) == 0 {
		return nil, nil
	}

	if err := c.attachComponents(ctx, byID); err != nil {
		return nil, err
	}
	if err := c.attachTypeTags(ctx, byID); err != nil {
		return nil, err
	}
	if err := c.attachWaypoints(ctx, byID); err != nil {
		return nil, err
	}
	return loads, nil
}

func (c *Consolidator) attachComponents(ctx context.Context, byID map[string]*stagedLoad) error {
	rows, err := c.pool.Query(ctx,
		`SELECT load_id, long_name, COALESCE(short_name, ''), kinds
		 FROM raw.geocode_components ORDER BY id`,
	)
	if err != nil {
		return eris.Wrap(err, "consolidate: query components")
	}
	defer rows.Close()

	for rows.Next() {
		var loadID string
		var comp model.AddressComponent
		if err := rows.Scan(&loadID, &comp.LongName, &comp.ShortName, &comp.Kinds); err != nil {
			return eris.Wrap(err, "consolidate: scan component")
		}
		if load, ok := byID[loadID]; ok {
			load.Components = append(load.Components, comp)
		}
	}
	return eris.Wrap(rows.Err(), "consolidate: iterate components")
}

func (c *Consolidator) attachTypeTags(ctx context.Context, byID map[string]*stagedLoad) error {
	rows, err := c.pool.Query(ctx,
		`SELECT load_id, type_tag FROM raw.geocode_types ORDER BY id`,
	)
	if err != nil {
		return eris.Wrap(err, "consolidate: query type tags")
	}
	defer rows.Close()

	for rows.Next() {
		var loadID, tag string
		if err := rows.Scan(&loadID, &tag); err != nil {
			return eris.Wrap(err, "consolidate: scan type tag")
		}
		if load, ok := byID[loadID]; ok {
			load.TypeTags = append(load.TypeTags, tag)
		}
	}
	return eris.Wrap(rows.Err(), "consolidate: iterate type tags")
}

func (c *Consolidator) attachWaypoints(ctx context.Context, byID map[string]*stagedLoad) error {
	rows, err := c.pool.Query(ctx,
		`SELECT load_id, latitude, longitude
		 FROM raw.geocode_waypoints ORDER BY load_id, seq`,
	)
	if err != nil {
		return eris.Wrap(err, "consolidate: query waypoints")
	}
	defer rows.Close()

	for rows.Next() {
		var loadID string
		var wp model.Waypoint
		if err := rows.Scan(&loadID, &wp.Latitude, &wp.Longitude); err != nil {
			return eris.Wrap(err, "consolidate: scan waypoint")
		}
		if load, ok := byID[loadID]; ok {
			load.Waypoints = append(load.Waypoints, wp)
		}
	}
	return eris.Wrap(rows.Err(), "consolidate: iterate waypoints")
}

// dedupeByPlaceID collapses loads sharing a place_id, keeping the most
// recently staged one. Input order is creation order, so last write wins.
// Output is sorted by ward ID for deterministic upsert batches.
func dedupeByPlaceID(loads []*stagedLoad) []*stagedLoad {
	latest := make(map[string]*stagedLoad, len(loads))
	for _, load := range loads {
		latest[load.PlaceID] = load
	}

	out := make([]*stagedLoad, 0, len(latest))
	for _, load := range latest {
		out = append(out, load)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].WardID != out[j].WardID {
			return out[i].WardID < out[j].WardID
		}
		return out[i].PlaceID < out[j].PlaceID
	})
	return out
}

// consolidatedRow flattens one load into the warehouse column order. The
// waypoint-derived columns all read from one LineString built per load.
func consolidatedRow(load *model.GeocodeLoad, now time.Time) []any {
	route := waypointLine(load.Waypoints)
	return []any{
		load.PlaceID,
		load.WardID,
		load.FormattedAddress,
		load.Latitude,
		load.Longitude,
		load.LocationType,
		joinComponents(load.Components),
		strings.Join(distinct(load.TypeTags), ","),
		route.NumCoords(),
		formatWaypoints(route),
		routeLengthM(route),
		now,
	}
}

// joinComponents renders distinct component long names in order.
func joinComponents(comps []model.AddressComponent) string {
	names := make([]string, 0, len(comps))
	for _, c := range comps {
		names = append(names, c.LongName)
	}
	return strings.Join(distinct(names), ", ")
}

// distinct keeps first occurrences, preserving order.
func distinct(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// waypointLine models a load's ordered navigation points as a LineString in
// lng/lat axis order.
func waypointLine(wps []model.Waypoint) *geom.LineString {
	flat := make([]float64, 0, len(wps)*2)
	for _, wp := range wps {
		flat = append(flat, wp.Longitude, wp.Latitude)
	}
	return geom.NewLineStringFlat(geom.XY, flat)
}

// formatWaypoints renders the route's "(lat,lng)" pairs separated by "; ",
// rounded to six decimal places (about 10cm of precision, matching what the
// upstream API returns).
func formatWaypoints(route *geom.LineString) string {
	coords := route.Coords()
	parts := make([]string, 0, len(coords))
	for _, c := range coords {
		parts = append(parts, fmt.Sprintf("(%.6f,%.6f)", c[1], c[0]))
	}
	return strings.Join(parts, "; ")
}

// earthRadiusM is the mean Earth radius used for geodesic segment lengths.
const earthRadiusM = 6_371_000.0

// routeLengthM sums the great-circle lengths of the route's segments. Fewer
// than two points means no route.
func routeLengthM(route *geom.LineString) float64 {
	var total float64
	coords := route.Coords()
	for i := 1; i < len(coords); i++ {
		total += haversineM(coords[i-1], coords[i])
	}
	return total
}

// haversineM returns the great-circle distance in meters between two XY
// coords (lng, lat in degrees).
func haversineM(a, b geom.Coord) float64 {
	lat1 := a[1] * math.Pi / 180
	lat2 := b[1] * math.Pi / 180
	dLat := lat2 - lat1
	dLng := (b[0] - a[0]) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusM * math.Asin(math.Sqrt(h))
}
