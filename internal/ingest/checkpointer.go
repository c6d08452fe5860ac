package ingest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gtel-dmp/geopipe/internal/model"
	"github.com/gtel-dmp/geopipe/internal/resilience"
	"github.com/gtel-dmp/geopipe/pkg/geocode"
)

// DefaultBatchSize bounds records per invocation when the caller passes 0.
const DefaultBatchSize = 50

// Checkpointer drives incremental geocoding over the append-only ward table.
//
// Progress is tracked by a single persisted watermark: the highest ward ID
// fully attempted. A batch selects wards strictly above the watermark in
// ascending ID order, attempts each one, and only then advances the
// watermark to the highest attempted ID — so the watermark always covers a
// contiguous prefix of attempted records and a crashed run resumes without
// skipping anything.
//
// Semantics are at-most-one-attempt per ward across runs: a ward whose
// geocode call fails is counted, recorded for operator follow-up, and left
// behind the watermark. It is NOT retried on a later run. The only retry is
// transport-level, bounded, within a single attempt.
//
// A crash after staging writes but before the watermark commit causes the
// next run to re-attempt the same batch, so the staging tables carry
// at-least-once delivery; consolidation dedups downstream.
type Checkpointer struct {
	store    Store
	geocoder geocode.Client
	retry    resilience.RetryConfig
}

// CheckpointerOption configures a Checkpointer.
type CheckpointerOption func(*Checkpointer)

// WithRetryConfig overrides the transport-level retry policy for geocode calls.
func WithRetryConfig(cfg resilience.RetryConfig) CheckpointerOption {
	return func(c *Checkpointer) {
		c.retry = cfg
	}
}

// NewCheckpointer creates a Checkpointer over the given store and geocoder.
func NewCheckpointer(store Store, gc geocode.Client, opts ...CheckpointerOption) *Checkpointer {
	c := &Checkpointer{
		store:    store,
		geocoder: gc,
		retry:    resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RunBatch selects up to batchSize unprocessed wards, geocodes each one
// sequentially, stages successful results, and advances the watermark past
// every attempted ward. An empty selection is an idempotent no-op.
//
// Cancellation is cooperative between record attempts: a cancelled batch
// returns an error without writing the watermark; staging rows already
// flushed stay behind and are safe to re-attempt.
func (c *Checkpointer) RunBatch(ctx context.Context, batchSize int) (model.BatchOutcome, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	log := zap.L().With(zap.String("component", "ingest.checkpointer"))

	locked, err := c.store.AcquireRunLock(ctx)
	if err != nil {
		return model.BatchOutcome{}, eris.Wrap(err, "ingest: acquire run lock")
	}
	if !locked {
		return model.BatchOutcome{}, ErrRunLocked
	}
	defer func() {
		if relErr := c.store.ReleaseRunLock(ctx); relErr != nil {
			log.Warn("failed to release run lock", zap.Error(relErr))
		}
	}()

	watermark, err := c.store.Watermark(ctx)
	if err != nil {
		return model.BatchOutcome{}, eris.Wrap(err, "ingest: read watermark")
	}

	wards, err := c.store.UnprocessedWards(ctx, watermark, batchSize)
	if err != nil {
		return model.BatchOutcome{}, eris.Wrap(err, "ingest: select unprocessed wards")
	}

	if len(wards) == 0 {
		log.Info("no unprocessed wards", zap.Int64("watermark", watermark))
		return model.BatchOutcome{Watermark: watermark}, nil
	}

	log.Info("processing batch",
		zap.Int("wards", len(wards)),
		zap.Int64("watermark", watermark),
	)

	outcome := model.BatchOutcome{Watermark: watermark}
	for _, ward := range wards {
		// Cooperative cancellation point: a cancelled run must not commit
		// a watermark covering unattempted wards.
		select {
		case <-ctx.Done():
			return outcome, eris.Wrap(ctx.Err(), "ingest: batch cancelled")
		default:
		}

		outcome.Attempted++
		if c.attemptWard(ctx, log, ward) {
			outcome.Succeeded++
		} else {
			outcome.Failed++
			outcome.FailedIDs = append(outcome.FailedIDs, ward.ID)
		}
	}

	// Batch durability point: every selected ward has been attempted, so the
	// watermark moves to the highest attempted ID regardless of per-record
	// failures.
	newWatermark := wards[len(wards)-1].ID
	if err := c.store.SetWatermark(ctx, newWatermark); err != nil {
		return outcome, eris.Wrapf(err, "ingest: commit watermark %d", newWatermark)
	}
	outcome.Watermark = newWatermark

	log.Info("batch complete",
		zap.Int("attempted", outcome.Attempted),
		zap.Int("succeeded", outcome.Succeeded),
		zap.Int("failed", outcome.Failed),
		zap.Int64("watermark", newWatermark),
	)
	return outcome, nil
}

// attemptWard geocodes and stages a single ward. Failures are isolated: they
// are logged and recorded, never propagated, so one bad record cannot abort
// the batch.
func (c *Checkpointer) attemptWard(ctx context.Context, log *zap.Logger, ward model.Ward) bool {
	addr := geocode.AddressInput{Name: ward.Name, District: ward.District, City: ward.City}
	oneLine := geocode.FormatAddress(addr)

	result, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*geocode.Result, error) {
		return c.geocoder.Geocode(ctx, addr)
	})
	if err != nil {
		log.Warn("geocode failed",
			zap.Int64("ward_id", ward.ID),
			zap.String("address", oneLine),
			zap.Error(err),
		)
		c.recordFailure(ctx, log, ward.ID, oneLine, err.Error())
		return false
	}
	if !result.Matched {
		log.Warn("geocode unmatched",
			zap.Int64("ward_id", ward.ID),
			zap.String("address", oneLine),
		)
		c.recordFailure(ctx, log, ward.ID, oneLine, "no geocode match")
		return false
	}

	load := loadFromResult(ward.ID, result)
	if err := c.store.InsertLoad(ctx, load); err != nil {
		log.Warn("staging write failed",
			zap.Int64("ward_id", ward.ID),
			zap.String("load_id", load.LoadID),
			zap.Error(err),
		)
		c.recordFailure(ctx, log, ward.ID, oneLine, err.Error())
		return false
	}

	log.Debug("ward geocoded",
		zap.Int64("ward_id", ward.ID),
		zap.String("place_id", load.PlaceID),
	)
	return true
}

func (c *Checkpointer) recordFailure(ctx context.Context, log *zap.Logger, wardID int64, addr, msg string) {
	if err := c.store.RecordFailure(ctx, wardID, addr, msg); err != nil {
		log.Warn("failed to record geocode failure",
			zap.Int64("ward_id", wardID),
			zap.Error(err),
		)
	}
}

// loadFromResult maps a geocode API result to a staging load with a fresh
// opaque load ID.
func loadFromResult(wardID int64, r *geocode.Result) *model.GeocodeLoad {
	load := &model.GeocodeLoad{
		LoadID:           uuid.New().String(),
		WardID:           wardID,
		FormattedAddress: r.FormattedAddress,
		Latitude:         r.Latitude,
		Longitude:        r.Longitude,
		LocationType:     r.LocationType,
		PlaceID:          r.PlaceID,
		TypeTags:         r.Types,
		CreatedAt:        time.Now().UTC(),
	}
	for _, comp := range r.Components {
		load.Components = append(load.Components, model.AddressComponent{
			LongName:  comp.LongName,
			ShortName: comp.ShortName,
			Kinds:     comp.Kinds,
		})
	}
	for _, wp := range r.Waypoints {
		load.Waypoints = append(load.Waypoints, model.Waypoint{
			Latitude:  wp.Latitude,
			Longitude: wp.Longitude,
		})
	}
	return load
}

// RunAll drains the unprocessed backlog by invoking RunBatch until an empty
// outcome, aggregating per-batch results. maxBatches caps the number of
// iterations (0 = unbounded).
func (c *Checkpointer) RunAll(ctx context.Context, batchSize, maxBatches int) (model.BatchOutcome, error) {
	log := zap.L().With(zap.String("component", "ingest.checkpointer"))

	var total model.BatchOutcome
	for batches := 0; ; batches++ {
		if maxBatches > 0 && batches >= maxBatches {
			log.Info("batch cap reached", zap.Int("max_batches", maxBatches))
			return total, nil
		}

		outcome, err := c.RunBatch(ctx, batchSize)
		total = total.Merge(outcome)
		if err != nil {
			return total, err
		}
		if outcome.Empty() {
			log.Info("backlog drained",
				zap.Int("attempted", total.Attempted),
				zap.Int("succeeded", total.Succeeded),
				zap.Int("failed", total.Failed),
				zap.Int64("watermark", total.Watermark),
			)
			return total, nil
		}
	}
}
