package consolidate

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gtel-dmp/geopipe/internal/model"
)

func newMockConsolidator(t *testing.T) (*Consolidator, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return New(mock), mock
}

func validLoad(loadID, placeID string, wardID int64, at time.Time) *stagedLoad {
	return &stagedLoad{
		GeocodeLoad: model.GeocodeLoad{
			LoadID:           loadID,
			WardID:           wardID,
			FormattedAddress: "Thạch Hạ, Hà Tĩnh, Vietnam",
			Latitude:         18.37,
			Longitude:        105.92,
			LocationType:     "APPROXIMATE",
			PlaceID:          placeID,
			CreatedAt:        at,
		},
		hasCoords: true,
	}
}

func TestDedupeByPlaceID_LatestWins(t *testing.T) {
	base := time.Now()
	first := validLoad("load-1", "place-a", 1, base)
	second := validLoad("load-2", "place-a", 1, base.Add(time.Minute))
	second.FormattedAddress = "updated address"
	other := validLoad("load-3", "place-b", 2, base)

	// Input arrives in staging order; the later load for place-a must win.
	out := dedupeByPlaceID([]*stagedLoad{first, second, other})
	require.Len(t, out, 2)
	assert.Equal(t, "load-2", out[0].LoadID)
	assert.Equal(t, "updated address", out[0].FormattedAddress)
	assert.Equal(t, "load-3", out[1].LoadID)
}

func TestDedupeByPlaceID_SortedByWardID(t *testing.T) {
	out := dedupeByPlaceID([]*stagedLoad{
		validLoad("l1", "p1", 9, time.Now()),
		validLoad("l2", "p2", 3, time.Now()),
		validLoad("l3", "p3", 5, time.Now()),
	})
	require.Len(t, out, 3)
	assert.Equal(t, int64(3), out[0].WardID)
	assert.Equal(t, int64(5), out[1].WardID)
	assert.Equal(t, int64(9), out[2].WardID)
}

func TestConsolidatedRow_Flattening(t *testing.T) {
	load := validLoad("load-1", "place-a", 7, time.Now())
	load.Components = []model.AddressComponent{
		{LongName: "Thạch Hạ", Kinds: []string{"administrative_area_level_3"}},
		{LongName: "Hà Tĩnh", Kinds: []string{"administrative_area_level_1"}},
		{LongName: "Thạch Hạ", Kinds: []string{"political"}}, // duplicate name
	}
	load.TypeTags = []string{"political", "political", "administrative_area_level_3"}
	load.Waypoints = []model.Waypoint{
		{Latitude: 18.37, Longitude: 105.92},
		{Latitude: 18.38, Longitude: 105.93},
	}

	now := time.Now().UTC()
	row := consolidatedRow(&load.GeocodeLoad, now)
	require.Len(t, row, len(targetColumns))

	assert.Equal(t, "place-a", row[0])
	assert.Equal(t, int64(7), row[1])
	assert.Equal(t, "Thạch Hạ, Hà Tĩnh", row[6])
	assert.Equal(t, "political,administrative_area_level_3", row[7])
	assert.Equal(t, 2, row[8])
	assert.Equal(t, "(18.370000,105.920000); (18.380000,105.930000)", row[9])
	assert.Greater(t, row[10].(float64), 0.0)
	assert.Equal(t, now, row[11])
}

func TestRouteLengthM(t *testing.T) {
	assert.Zero(t, routeLengthM(waypointLine(nil)))
	assert.Zero(t, routeLengthM(waypointLine([]model.Waypoint{{Latitude: 18.37, Longitude: 105.92}})))

	// One degree of latitude is about 111.2 km.
	length := routeLengthM(waypointLine([]model.Waypoint{
		{Latitude: 18.0, Longitude: 105.92},
		{Latitude: 19.0, Longitude: 105.92},
	}))
	assert.InDelta(t, 111_195, length, 200)

	// Segments accumulate.
	twoHops := routeLengthM(waypointLine([]model.Waypoint{
		{Latitude: 18.0, Longitude: 105.92},
		{Latitude: 19.0, Longitude: 105.92},
		{Latitude: 20.0, Longitude: 105.92},
	}))
	assert.InDelta(t, 2*length, twoHops, 500)
}

func TestDistinct(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, distinct([]string{"a", "b", "a", "", "c", "b"}))
	assert.Empty(t, distinct(nil))
}

// fptr wraps a coordinate so mock rows carry the *float64 the nullable
// latitude/longitude columns are scanned into.
func fptr(f float64) *float64 { return &f }

func expectFetchLoads(mock pgxmock.PgxPoolIface, results *pgxmock.Rows) {
	mock.ExpectQuery(`FROM raw\.geocode_results`).WillReturnRows(results)
	mock.ExpectQuery(`FROM raw\.geocode_components`).
		WillReturnRows(mock.NewRows([]string{"load_id", "long_name", "short_name", "kinds"}))
	mock.ExpectQuery(`FROM raw\.geocode_types`).
		WillReturnRows(mock.NewRows([]string{"load_id", "type_tag"}))
	mock.ExpectQuery(`FROM raw\.geocode_waypoints`).
		WillReturnRows(mock.NewRows([]string{"load_id", "latitude", "longitude"}))
}

func TestRun_EmptyStagingIsNoOp(t *testing.T) {
	c, mock := newMockConsolidator(t)

	mock.ExpectQuery(`FROM raw\.geocode_results`).
		WillReturnRows(mock.NewRows([]string{
			"load_id", "ward_id", "formatted_address", "latitude", "longitude",
			"location_type", "place_id", "created_at",
		}))

	outcome, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, outcome.Scanned)
	assert.Zero(t, outcome.Consolidated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_DedupsAndUpserts(t *testing.T) {
	c, mock := newMockConsolidator(t)
	base := time.Now()

	results := mock.NewRows([]string{
		"load_id", "ward_id", "formatted_address", "latitude", "longitude",
		"location_type", "place_id", "created_at",
	}).
		AddRow("load-1", int64(1), "Thạch Hạ, Hà Tĩnh", fptr(18.37), fptr(105.92), "APPROXIMATE", "place-a", base).
		AddRow("load-2", int64(1), "Thạch Hạ, Hà Tĩnh", fptr(18.37), fptr(105.92), "APPROXIMATE", "place-a", base.Add(time.Second)).
		AddRow("load-3", int64(2), "Thạch Trung, Hà Tĩnh", fptr(18.40), fptr(105.90), "APPROXIMATE", "place-b", base)
	expectFetchLoads(mock, results)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_warehouse_geocoded_wards"}, targetColumns).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "warehouse"\."geocoded_wards" .* ON CONFLICT \("place_id"\) DO UPDATE`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()
	mock.ExpectRollback().Maybe()

	outcome, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, outcome.Scanned)
	assert.Equal(t, 1, outcome.Duplicates)
	assert.Zero(t, outcome.Invalid)
	assert.Equal(t, int64(2), outcome.Consolidated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_DropsInvalidCoordinates(t *testing.T) {
	c, mock := newMockConsolidator(t)
	base := time.Now()

	results := mock.NewRows([]string{
		"load_id", "ward_id", "formatted_address", "latitude", "longitude",
		"location_type", "place_id", "created_at",
	}).
		AddRow("load-1", int64(1), "ok", fptr(18.37), fptr(105.92), "APPROXIMATE", "place-a", base).
		AddRow("load-2", int64(2), "bad", fptr(95.0), fptr(105.92), "APPROXIMATE", "place-b", base)
	expectFetchLoads(mock, results)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_warehouse_geocoded_wards"}, targetColumns).
		WillReturnResult(1)
	mock.ExpectExec(`ON CONFLICT`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectRollback().Maybe()

	outcome, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Invalid)
	assert.Equal(t, int64(1), outcome.Consolidated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_RejectsNullCoordinates(t *testing.T) {
	c, mock := newMockConsolidator(t)
	base := time.Now()

	// Staging coordinates are nullable. A load whose geocode stored no
	// coordinates must be dropped as invalid, not written as (0,0).
	results := mock.NewRows([]string{
		"load_id", "ward_id", "formatted_address", "latitude", "longitude",
		"location_type", "place_id", "created_at",
	}).
		AddRow("load-1", int64(1), "no coords", nil, nil, "APPROXIMATE", "place-a", base)
	expectFetchLoads(mock, results)

	// No upsert expectations: nothing valid survives.
	outcome, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.Scanned)
	assert.Equal(t, 1, outcome.Invalid)
	assert.Zero(t, outcome.Consolidated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_NullCoordinatesAmongValid(t *testing.T) {
	c, mock := newMockConsolidator(t)
	base := time.Now()

	results := mock.NewRows([]string{
		"load_id", "ward_id", "formatted_address", "latitude", "longitude",
		"location_type", "place_id", "created_at",
	}).
		AddRow("load-1", int64(1), "ok", fptr(18.37), fptr(105.92), "APPROXIMATE", "place-a", base).
		AddRow("load-2", int64(2), "no coords", nil, nil, "APPROXIMATE", "place-b", base)
	expectFetchLoads(mock, results)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_warehouse_geocoded_wards"}, targetColumns).
		WillReturnResult(1)
	mock.ExpectExec(`ON CONFLICT`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectRollback().Maybe()

	outcome, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.Scanned)
	assert.Equal(t, 1, outcome.Invalid)
	assert.Equal(t, int64(1), outcome.Consolidated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunChecks_AllPass(t *testing.T) {
	c, mock := newMockConsolidator(t)

	mock.ExpectQuery(`HAVING count\(\*\) > 1`).
		WillReturnRows(mock.NewRows([]string{"count"}).AddRow(int64(0)))
	mock.ExpectQuery(`NOT BETWEEN -90 AND 90`).
		WillReturnRows(mock.NewRows([]string{"count"}).AddRow(int64(0)))
	mock.ExpectQuery(`formatted_address IS NULL`).
		WillReturnRows(mock.NewRows([]string{"count"}).AddRow(int64(0)))

	results, err := c.RunChecks(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.True(t, r.Passed, r.Name)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunChecks_ReportsViolations(t *testing.T) {
	c, mock := newMockConsolidator(t)

	mock.ExpectQuery(`HAVING count\(\*\) > 1`).
		WillReturnRows(mock.NewRows([]string{"count"}).AddRow(int64(0)))
	mock.ExpectQuery(`NOT BETWEEN -90 AND 90`).
		WillReturnRows(mock.NewRows([]string{"count"}).AddRow(int64(2)))
	mock.ExpectQuery(`formatted_address IS NULL`).
		WillReturnRows(mock.NewRows([]string{"count"}).AddRow(int64(0)))

	results, err := c.RunChecks(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.True(t, results[0].Passed)
	assert.False(t, results[1].Passed)
	assert.Equal(t, int64(2), results[1].Violations)
	assert.Contains(t, results[1].Detail, "coordinate_range")
	assert.NoError(t, mock.ExpectationsWereMet())
}
