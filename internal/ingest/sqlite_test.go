package ingest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gtel-dmp/geopipe/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "geopipe.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestSQLiteStore_ImportAndList(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	created, err := s.ImportWards(ctx, []model.WardInput{
		{Name: "Thạch Hạ", District: "Thạch Hà", City: "Hà Tĩnh"},
		{Name: "Thạch Trung", City: "Hà Tĩnh"},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.Equal(t, int64(1), created[0].ID)
	assert.Equal(t, int64(2), created[1].ID)

	wards, err := s.ListWards(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, wards, 2)
	assert.Equal(t, "Thạch Hạ", wards[0].Name)

	ward, err := s.GetWard(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "Thạch Trung", ward.Name)

	_, err = s.GetWard(ctx, 99)
	require.ErrorIs(t, err, ErrWardNotFound)

	n, err := s.CountWards(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestSQLiteStore_WatermarkRoundTrip(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	value, err := s.Watermark(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), value, "missing state row reads as zero")

	require.NoError(t, s.SetWatermark(ctx, 7))
	require.NoError(t, s.SetWatermark(ctx, 12))

	value, err = s.Watermark(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(12), value)
}

func TestSQLiteStore_UnprocessedWards(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := s.ImportWards(ctx, []model.WardInput{
		{Name: "a"}, {Name: "b"}, {Name: "c"}, {Name: "d"},
	})
	require.NoError(t, err)

	wards, err := s.UnprocessedWards(ctx, 1, 2)
	require.NoError(t, err)
	require.Len(t, wards, 2)
	assert.Equal(t, int64(2), wards[0].ID)
	assert.Equal(t, int64(3), wards[1].ID)

	wards, err = s.UnprocessedWards(ctx, 4, 10)
	require.NoError(t, err)
	assert.Empty(t, wards)
}

func TestSQLiteStore_CountUnprocessed(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	// Leave an ID gap so the count can't be derived from the total.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO wards (id, name) VALUES (1, 'a'), (2, 'b'), (10, 'c'), (11, 'd')`)
	require.NoError(t, err)

	n, err := s.CountUnprocessed(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.CountUnprocessed(ctx, 11)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLiteStore_InsertLoadWithChildren(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	created, err := s.ImportWards(ctx, []model.WardInput{{Name: "Thạch Hạ"}})
	require.NoError(t, err)

	load := &model.GeocodeLoad{
		LoadID:           "11111111-1111-1111-1111-111111111111",
		WardID:           created[0].ID,
		FormattedAddress: "Thạch Hạ, Hà Tĩnh, Vietnam",
		Latitude:         18.37,
		Longitude:        105.92,
		LocationType:     "APPROXIMATE",
		PlaceID:          "ChIJabc",
		TypeTags:         []string{"political", "administrative_area_level_3"},
		Components: []model.AddressComponent{
			{LongName: "Thạch Hạ", ShortName: "Thạch Hạ", Kinds: []string{"administrative_area_level_3", "political"}},
		},
		Waypoints: []model.Waypoint{
			{Latitude: 18.37, Longitude: 105.92},
			{Latitude: 18.38, Longitude: 105.93},
		},
	}
	require.NoError(t, s.InsertLoad(ctx, load))

	n, err := s.CountLoads(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSQLiteStore_FailureLog(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordFailure(ctx, 3, "Nowhere, Hà Tĩnh", "no geocode match"))
	require.NoError(t, s.RecordFailure(ctx, 4, "Elsewhere", "upstream timeout"))

	failures, err := s.ListFailures(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failures, 2)

	n, err := s.CountFailures(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestSQLiteStore_RunLock(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	locked, err := s.AcquireRunLock(ctx)
	require.NoError(t, err)
	assert.True(t, locked)

	locked, err = s.AcquireRunLock(ctx)
	require.NoError(t, err)
	assert.False(t, locked, "second acquire while held must fail")

	require.NoError(t, s.ReleaseRunLock(ctx))

	locked, err = s.AcquireRunLock(ctx)
	require.NoError(t, err)
	assert.True(t, locked, "lock reacquirable after release")
}

func TestSQLiteStore_EndToEndBatch(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := s.ImportWards(ctx, []model.WardInput{
		{Name: "Thạch Hạ", City: "Hà Tĩnh"},
		{Name: "Thạch Trung", City: "Hà Tĩnh"},
	})
	require.NoError(t, err)

	cp := NewCheckpointer(s, newFakeGeocoder(alwaysOK), noRetry())
	outcome, err := cp.RunBatch(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.Succeeded)
	assert.Equal(t, int64(2), outcome.Watermark)

	value, err := s.Watermark(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), value)

	n, err := s.CountLoads(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
