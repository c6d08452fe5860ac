package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/gtel-dmp/geopipe/internal/db"
	"github.com/gtel-dmp/geopipe/internal/model"
)

// runLockKey is the advisory lock key guarding the watermark critical
// section. One key per deployment: concurrent batch runs against the same
// database are rejected.
const runLockKey = 7_421_001

// PostgresStore implements Store using pgx against the raw schema.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()

	// lockTx holds the open transaction carrying the run advisory lock, so
	// the lock stays pinned to one pooled session until released.
	lockMu sync.Mutex
	lockTx pgx.Tx
}

// NewPostgresStore wraps an existing pool (used by tests and callers that
// manage the pool themselves).
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// NewPostgres connects a pool from the DSN and returns a store that owns it.
func NewPostgres(ctx context.Context, connString string, maxConns, minConns int32) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: parse postgres config")
	}

	if maxConns > 0 {
		pgxCfg.MaxConns = maxConns
	}
	if minConns > 0 {
		pgxCfg.MinConns = minConns
	}
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: create connection pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "ingest: ping database")
	}

	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool exposes the underlying pool for subsystems that share the connection
// (consolidation).
func (s *PostgresStore) Pool() db.Pool { return s.pool }

// Close releases the pool if this store owns it.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// ImportWards appends wards and returns them with their assigned IDs.
// IDs come from the sequence and are strictly ascending in insert order.
func (s *PostgresStore) ImportWards(ctx context.Context, wards []model.WardInput) ([]model.Ward, error) {
	if len(wards) == 0 {
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: import wards: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	created := make([]model.Ward, 0, len(wards))
	for _, w := range wards {
		var ward model.Ward
		err := tx.QueryRow(ctx,
			`INSERT INTO raw.wards (name, district, city)
			 VALUES ($1, $2, $3)
			 RETURNING id, name, COALESCE(district, ''), COALESCE(city, ''), created_at`,
			w.Name, nilIfEmpty(w.District), nilIfEmpty(w.City),
		).Scan(&ward.ID, &ward.Name, &ward.District, &ward.City, &ward.CreatedAt)
		if err != nil {
			return nil, eris.Wrap(err, "ingest: insert ward")
		}
		created = append(created, ward)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "ingest: import wards: commit")
	}
	return created, nil
}

// ListWards returns wards ordered by ID.
func (s *PostgresStore) ListWards(ctx context.Context, limit, offset int) ([]model.Ward, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, COALESCE(district, ''), COALESCE(city, ''), created_at
		 FROM raw.wards ORDER BY id LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: list wards")
	}
	defer rows.Close()

	return scanWards(rows)
}

// GetWard returns a single ward by ID.
func (s *PostgresStore) GetWard(ctx context.Context, id int64) (*model.Ward, error) {
	var ward model.Ward
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, COALESCE(district, ''), COALESCE(city, ''), created_at
		 FROM raw.wards WHERE id = $1`,
		id,
	).Scan(&ward.ID, &ward.Name, &ward.District, &ward.City, &ward.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWardNotFound
		}
		return nil, eris.Wrapf(err, "ingest: get ward %d", id)
	}
	return &ward, nil
}

// UnprocessedWards selects up to limit wards with ID strictly above afterID,
// ascending. The ordering is load-bearing: it keeps the watermark a
// contiguous prefix of attempted records.
func (s *PostgresStore) UnprocessedWards(ctx context.Context, afterID int64, limit int) ([]model.Ward, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, COALESCE(district, ''), COALESCE(city, ''), created_at
		 FROM raw.wards WHERE id > $1 ORDER BY id LIMIT $2`,
		afterID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: select unprocessed wards")
	}
	defer rows.Close()

	return scanWards(rows)
}

// Watermark reads the current watermark, defaulting to 0 when the state row
// does not exist yet.
func (s *PostgresStore) Watermark(ctx context.Context) (int64, error) {
	var value int64
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM raw.ingestion_state WHERE key = $1`,
		WatermarkKey,
	).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, eris.Wrap(err, "ingest: read watermark")
	}
	return value, nil
}

// SetWatermark upserts the watermark row.
func (s *PostgresStore) SetWatermark(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO raw.ingestion_state (key, value, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		WatermarkKey, id,
	)
	if err != nil {
		return eris.Wrapf(err, "ingest: set watermark %d", id)
	}
	return nil
}

// InsertLoad stages one geocode result and its sub-collections in a single
// transaction, so a partially-written load is never visible downstream.
func (s *PostgresStore) InsertLoad(ctx context.Context, load *model.GeocodeLoad) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "ingest: insert load: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO raw.geocode_results
		 (load_id, ward_id, formatted_address, latitude, longitude, location_type, place_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		load.LoadID, load.WardID, load.FormattedAddress,
		load.Latitude, load.Longitude, load.LocationType, load.PlaceID,
	)
	if err != nil {
		return eris.Wrapf(err, "ingest: insert geocode result for ward %d", load.WardID)
	}

	for _, comp := range load.Components {
		if _, err := tx.Exec(ctx,
			`INSERT INTO raw.geocode_components (load_id, long_name, short_name, kinds)
			 VALUES ($1, $2, $3, $4)`,
			load.LoadID, comp.LongName, comp.ShortName, comp.Kinds,
		); err != nil {
			return eris.Wrap(err, "ingest: insert address component")
		}
	}

	for _, tag := range load.TypeTags {
		if _, err := tx.Exec(ctx,
			`INSERT INTO raw.geocode_types (load_id, type_tag) VALUES ($1, $2)`,
			load.LoadID, tag,
		); err != nil {
			return eris.Wrap(err, "ingest: insert type tag")
		}
	}

	for seq, wp := range load.Waypoints {
		if _, err := tx.Exec(ctx,
			`INSERT INTO raw.geocode_waypoints (load_id, seq, latitude, longitude)
			 VALUES ($1, $2, $3, $4)`,
			load.LoadID, seq, wp.Latitude, wp.Longitude,
		); err != nil {
			return eris.Wrap(err, "ingest: insert waypoint")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "ingest: insert load: commit")
	}
	return nil
}

// RecordFailure appends a failed attempt for operator follow-up.
func (s *PostgresStore) RecordFailure(ctx context.Context, wardID int64, address, errMsg string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO raw.geocode_failures (ward_id, address, error) VALUES ($1, $2, $3)`,
		wardID, address, errMsg,
	)
	if err != nil {
		return eris.Wrapf(err, "ingest: record failure for ward %d", wardID)
	}
	return nil
}

// ListFailures returns the most recent failures.
func (s *PostgresStore) ListFailures(ctx context.Context, limit int) ([]model.GeocodeFailure, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, ward_id, address, error, failed_at
		 FROM raw.geocode_failures ORDER BY failed_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: list failures")
	}
	defer rows.Close()

	var failures []model.GeocodeFailure
	for rows.Next() {
		var f model.GeocodeFailure
		if err := rows.Scan(&f.ID, &f.WardID, &f.Address, &f.Error, &f.FailedAt); err != nil {
			return nil, eris.Wrap(err, "ingest: scan failure")
		}
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

// AcquireRunLock takes the advisory lock guarding ingestion runs. The lock
// is transaction-scoped and its transaction is kept open until
// ReleaseRunLock, pinning the lock to a single pooled session for the whole
// run. Session-level locks cannot be used here: acquire and release would go
// through different pool connections, leaking the lock on release and
// re-entering it when the holding connection serves a second caller.
// Returns false without blocking when another run holds it.
func (s *PostgresStore) AcquireRunLock(ctx context.Context) (bool, error) {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	if s.lockTx != nil {
		return false, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, eris.Wrap(err, "ingest: begin run lock transaction")
	}

	var acquired bool
	if err := tx.QueryRow(ctx,
		`SELECT pg_try_advisory_xact_lock($1)`, runLockKey,
	).Scan(&acquired); err != nil {
		_ = tx.Rollback(ctx)
		return false, eris.Wrap(err, "ingest: acquire run lock")
	}
	if !acquired {
		if err := tx.Rollback(ctx); err != nil {
			return false, eris.Wrap(err, "ingest: discard run lock transaction")
		}
		return false, nil
	}

	s.lockTx = tx
	return true, nil
}

// ReleaseRunLock drops the advisory lock by rolling back its transaction.
func (s *PostgresStore) ReleaseRunLock(ctx context.Context) error {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	if s.lockTx == nil {
		return nil
	}
	tx := s.lockTx
	s.lockTx = nil
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return eris.Wrap(err, "ingest: release run lock")
	}
	return nil
}

// CountWards returns the total ward count.
func (s *PostgresStore) CountWards(ctx context.Context) (int64, error) {
	return s.countRows(ctx, `SELECT count(*) FROM raw.wards`)
}

// CountUnprocessed returns the number of wards beyond the given watermark.
// Counted directly rather than derived from CountWards: ward IDs are not
// dense (rolled-back imports burn sequence values).
func (s *PostgresStore) CountUnprocessed(ctx context.Context, afterID int64) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM raw.wards WHERE id > $1`, afterID,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "ingest: count unprocessed wards")
	}
	return n, nil
}

// CountLoads returns the total staged geocode result count.
func (s *PostgresStore) CountLoads(ctx context.Context) (int64, error) {
	return s.countRows(ctx, `SELECT count(*) FROM raw.geocode_results`)
}

// CountFailures returns the total recorded failure count.
func (s *PostgresStore) CountFailures(ctx context.Context) (int64, error) {
	return s.countRows(ctx, `SELECT count(*) FROM raw.geocode_failures`)
}

func (s *PostgresStore) countRows(ctx context.Context, query string) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "ingest: count rows")
	}
	return n, nil
}

func scanWards(rows pgx.Rows) ([]model.Ward, error) {
	var wards []model.Ward
	for rows.Next() {
		var w model.Ward
		if err := rows.Scan(&w.ID, &w.Name, &w.District, &w.City, &w.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "ingest: scan ward")
		}
		wards = append(wards, w)
	}
	return wards, rows.Err()
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
