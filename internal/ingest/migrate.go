package ingest

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gtel-dmp/geopipe/internal/db"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrationLockKey guards concurrent migration runs (e.g. overlapping deploys).
const migrationLockKey = 7_421_002

// Migrate runs all pending SQL migrations in lexicographic order. It creates
// the raw schema and its schema_migrations tracking table if needed, then
// applies any .sql files not yet recorded.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return migratePool(ctx, s.pool)
}

func migratePool(ctx context.Context, pool db.Pool) error {
	log := zap.L().With(zap.String("component", "ingest.migrate"))

	// The lock is transaction-scoped and held in a dedicated open
	// transaction so it stays on one pooled session while the migration
	// statements run through the pool. Rolling back releases it.
	lockTx, err := pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "ingest: begin migration lock transaction")
	}
	defer func() {
		if err := lockTx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			log.Warn("failed to release migration advisory lock", zap.Error(err))
		}
	}()
	if _, err := lockTx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", migrationLockKey); err != nil {
		return eris.Wrap(err, "ingest: acquire migration advisory lock")
	}

	if err := ensureMigrationTable(ctx, pool); err != nil {
		return err
	}

	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return eris.Wrap(err, "ingest: read migration dir")
	}

	// Lexicographic = numeric order with zero-padded names.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	applied, err := appliedMigrations(ctx, pool)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		name := entry.Name()
		if applied[name] {
			continue
		}

		data, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return eris.Wrapf(err, "ingest: read migration %s", name)
		}

		log.Info("applying migration", zap.String("file", name))

		if _, err := pool.Exec(ctx, string(data)); err != nil {
			return eris.Wrapf(err, "ingest: apply migration %s", name)
		}

		if _, err := pool.Exec(ctx,
			"INSERT INTO raw.schema_migrations (filename, applied_at) VALUES ($1, now())",
			name,
		); err != nil {
			return eris.Wrapf(err, "ingest: record migration %s", name)
		}

		log.Info("migration applied", zap.String("file", name))
	}

	return nil
}

// ensureMigrationTable creates the schema and migration tracking table if they don't exist.
func ensureMigrationTable(ctx context.Context, pool db.Pool) error {
	sql := `
		CREATE SCHEMA IF NOT EXISTS raw;
		CREATE TABLE IF NOT EXISTS raw.schema_migrations (
			id         SERIAL PRIMARY KEY,
			filename   TEXT NOT NULL UNIQUE,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`
	if _, err := pool.Exec(ctx, sql); err != nil {
		return eris.Wrap(err, "ingest: ensure migration table")
	}
	return nil
}

// appliedMigrations returns the set of migration filenames already applied.
func appliedMigrations(ctx context.Context, pool db.Pool) (map[string]bool, error) {
	rows, err := pool.Query(ctx, "SELECT filename FROM raw.schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "ingest: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "ingest: scan migration row")
		}
		applied[name] = true
	}
	return applied, rows.Err()
}
