package ingest

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/gtel-dmp/geopipe/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Intended for local
// development and single-process use; SQLite has no schemas, so the raw
// tables live unqualified and the run lock is a state row rather than an
// advisory lock.
type SQLiteStore struct {
	db *sql.DB
}

// runLockStateKey is the ingestion_state key used as the run lock flag.
const runLockStateKey = "ingestion_run_lock"

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sdb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := sdb.Exec(pragma); err != nil {
			sdb.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sdb}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS wards (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL,
	district   TEXT,
	city       TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS ingestion_state (
	key        TEXT PRIMARY KEY,
	value      INTEGER NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS geocode_results (
	load_id           TEXT PRIMARY KEY,
	ward_id           INTEGER NOT NULL REFERENCES wards(id),
	formatted_address TEXT NOT NULL,
	latitude          REAL,
	longitude         REAL,
	location_type     TEXT,
	place_id          TEXT,
	created_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS geocode_components (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	load_id    TEXT NOT NULL REFERENCES geocode_results(load_id) ON DELETE CASCADE,
	long_name  TEXT NOT NULL,
	short_name TEXT,
	kinds      TEXT
);

CREATE TABLE IF NOT EXISTS geocode_types (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	load_id  TEXT NOT NULL REFERENCES geocode_results(load_id) ON DELETE CASCADE,
	type_tag TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS geocode_waypoints (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	load_id   TEXT NOT NULL REFERENCES geocode_results(load_id) ON DELETE CASCADE,
	seq       INTEGER NOT NULL,
	latitude  REAL NOT NULL,
	longitude REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS geocode_failures (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	ward_id   INTEGER NOT NULL,
	address   TEXT,
	error     TEXT NOT NULL,
	failed_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_geocode_results_ward_id ON geocode_results(ward_id);
CREATE INDEX IF NOT EXISTS idx_geocode_results_place_id ON geocode_results(place_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ImportWards(ctx context.Context, wards []model.WardInput) ([]model.Ward, error) {
	if len(wards) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: import wards: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	created := make([]model.Ward, 0, len(wards))
	now := time.Now().UTC()
	for _, w := range wards {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO wards (name, district, city) VALUES (?, ?, ?)`,
			w.Name, w.District, w.City,
		)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: insert ward")
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: ward id")
		}
		created = append(created, model.Ward{
			ID: id, Name: w.Name, District: w.District, City: w.City, CreatedAt: now,
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: import wards: commit")
	}
	return created, nil
}

func (s *SQLiteStore) ListWards(ctx context.Context, limit, offset int) ([]model.Ward, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, COALESCE(district, ''), COALESCE(city, ''), created_at
		 FROM wards ORDER BY id LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list wards")
	}
	defer rows.Close()

	return scanSQLWards(rows)
}

func (s *SQLiteStore) GetWard(ctx context.Context, id int64) (*model.Ward, error) {
	var w model.Ward
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, COALESCE(district, ''), COALESCE(city, ''), created_at
		 FROM wards WHERE id = ?`,
		id,
	).Scan(&w.ID, &w.Name, &w.District, &w.City, &w.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrWardNotFound
		}
		return nil, eris.Wrapf(err, "sqlite: get ward %d", id)
	}
	return &w, nil
}

func (s *SQLiteStore) UnprocessedWards(ctx context.Context, afterID int64, limit int) ([]model.Ward, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, COALESCE(district, ''), COALESCE(city, ''), created_at
		 FROM wards WHERE id > ? ORDER BY id LIMIT ?`,
		afterID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: select unprocessed wards")
	}
	defer rows.Close()

	return scanSQLWards(rows)
}

func (s *SQLiteStore) Watermark(ctx context.Context) (int64, error) {
	var value int64
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM ingestion_state WHERE key = ?`, WatermarkKey,
	).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, eris.Wrap(err, "sqlite: read watermark")
	}
	return value, nil
}

func (s *SQLiteStore) SetWatermark(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ingestion_state (key, value, updated_at)
		 VALUES (?, ?, datetime('now'))
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = datetime('now')`,
		WatermarkKey, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set watermark %d", id)
	}
	return nil
}

func (s *SQLiteStore) InsertLoad(ctx context.Context, load *model.GeocodeLoad) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert load: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO geocode_results
		 (load_id, ward_id, formatted_address, latitude, longitude, location_type, place_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		load.LoadID, load.WardID, load.FormattedAddress,
		load.Latitude, load.Longitude, load.LocationType, load.PlaceID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert geocode result for ward %d", load.WardID)
	}

	for _, comp := range load.Components {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO geocode_components (load_id, long_name, short_name, kinds) VALUES (?, ?, ?, ?)`,
			load.LoadID, comp.LongName, comp.ShortName, strings.Join(comp.Kinds, ","),
		); err != nil {
			return eris.Wrap(err, "sqlite: insert address component")
		}
	}

	for _, tag := range load.TypeTags {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO geocode_types (load_id, type_tag) VALUES (?, ?)`,
			load.LoadID, tag,
		); err != nil {
			return eris.Wrap(err, "sqlite: insert type tag")
		}
	}

	for seq, wp := range load.Waypoints {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO geocode_waypoints (load_id, seq, latitude, longitude) VALUES (?, ?, ?, ?)`,
			load.LoadID, seq, wp.Latitude, wp.Longitude,
		); err != nil {
			return eris.Wrap(err, "sqlite: insert waypoint")
		}
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: insert load: commit")
	}
	return nil
}

func (s *SQLiteStore) RecordFailure(ctx context.Context, wardID int64, address, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO geocode_failures (ward_id, address, error) VALUES (?, ?, ?)`,
		wardID, address, errMsg,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: record failure for ward %d", wardID)
	}
	return nil
}

func (s *SQLiteStore) ListFailures(ctx context.Context, limit int) ([]model.GeocodeFailure, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ward_id, COALESCE(address, ''), error, failed_at
		 FROM geocode_failures ORDER BY failed_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list failures")
	}
	defer rows.Close()

	var failures []model.GeocodeFailure
	for rows.Next() {
		var f model.GeocodeFailure
		if err := rows.Scan(&f.ID, &f.WardID, &f.Address, &f.Error, &f.FailedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan failure")
		}
		failures = append(failures, f)
	}
	return failures, rows.Err()
}

// AcquireRunLock flips the run-lock state row from 0 to 1. SQLite has no
// advisory locks, so this guards against overlapping runs within and across
// processes sharing the database file.
func (s *SQLiteStore) AcquireRunLock(ctx context.Context) (bool, error) {
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO ingestion_state (key, value) VALUES (?, 0)`,
		runLockStateKey,
	); err != nil {
		return false, eris.Wrap(err, "sqlite: init run lock")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE ingestion_state SET value = 1, updated_at = datetime('now')
		 WHERE key = ? AND value = 0`,
		runLockStateKey,
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: acquire run lock")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: run lock rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) ReleaseRunLock(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE ingestion_state SET value = 0, updated_at = datetime('now') WHERE key = ?`,
		runLockStateKey,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: release run lock")
	}
	return nil
}

func (s *SQLiteStore) CountWards(ctx context.Context) (int64, error) {
	return s.countRows(ctx, `SELECT count(*) FROM wards`)
}

func (s *SQLiteStore) CountUnprocessed(ctx context.Context, afterID int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM wards WHERE id > ?`, afterID,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: count unprocessed wards")
	}
	return n, nil
}

func (s *SQLiteStore) CountLoads(ctx context.Context) (int64, error) {
	return s.countRows(ctx, `SELECT count(*) FROM geocode_results`)
}

func (s *SQLiteStore) CountFailures(ctx context.Context) (int64, error) {
	return s.countRows(ctx, `SELECT count(*) FROM geocode_failures`)
}

func (s *SQLiteStore) countRows(ctx context.Context, query string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "sqlite: count rows")
	}
	return n, nil
}

func scanSQLWards(rows *sql.Rows) ([]model.Ward, error) {
	var wards []model.Ward
	for rows.Next() {
		var w model.Ward
		if err := rows.Scan(&w.ID, &w.Name, &w.District, &w.City, &w.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan ward")
		}
		wards = append(wards, w)
	}
	return wards, rows.Err()
}
