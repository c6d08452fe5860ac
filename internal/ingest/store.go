// Package ingest implements incremental, checkpointed geocoding ingestion:
// ward import, watermark tracking, batch selection, and staging of raw
// geocode results.
package ingest

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/gtel-dmp/geopipe/internal/model"
)

// WatermarkKey is the ingestion_state key holding the highest ward ID that
// has been fully attempted.
const WatermarkKey = "last_processed_ward_id"

// ErrWardNotFound is returned when a ward lookup misses.
var ErrWardNotFound = eris.New("ingest: ward not found")

// ErrRunLocked is returned when another ingestion run holds the run lock.
// The watermark read-modify-write is a critical section; concurrent batch
// runs against the same watermark are rejected, not serialized.
var ErrRunLocked = eris.New("ingest: another ingestion run is in progress")

// Counts summarizes store contents for status reporting.
type Counts struct {
	Wards     int64 `json:"wards"`
	Loads     int64 `json:"loads"`
	Failures  int64 `json:"failures"`
	Watermark int64 `json:"watermark"`
}

// Store defines the persistence interface for the ingestion subsystem.
type Store interface {
	// Wards (append-only; IDs are assigned ascending and never mutated)
	ImportWards(ctx context.Context, wards []model.WardInput) ([]model.Ward, error)
	ListWards(ctx context.Context, limit, offset int) ([]model.Ward, error)
	GetWard(ctx context.Context, id int64) (*model.Ward, error)
	UnprocessedWards(ctx context.Context, afterID int64, limit int) ([]model.Ward, error)

	// Watermark
	Watermark(ctx context.Context) (int64, error)
	SetWatermark(ctx context.Context, id int64) error

	// Staging
	InsertLoad(ctx context.Context, load *model.GeocodeLoad) error
	RecordFailure(ctx context.Context, wardID int64, address, errMsg string) error
	ListFailures(ctx context.Context, limit int) ([]model.GeocodeFailure, error)

	// Run lock — held for the duration of a batch invocation.
	AcquireRunLock(ctx context.Context) (bool, error)
	ReleaseRunLock(ctx context.Context) error

	// Status
	CountWards(ctx context.Context) (int64, error)
	CountUnprocessed(ctx context.Context, afterID int64) (int64, error)
	CountLoads(ctx context.Context) (int64, error)
	CountFailures(ctx context.Context) (int64, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
