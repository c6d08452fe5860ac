package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/gtel-dmp/geopipe/internal/ingest"
	"github.com/gtel-dmp/geopipe/internal/resilience"
	"github.com/gtel-dmp/geopipe/pkg/geocode"
)

// openStore creates the configured ingestion store. Callers must Close it.
func openStore(ctx context.Context) (ingest.Store, error) {
	if err := cfg.Validate("store"); err != nil {
		return nil, err
	}

	switch cfg.Store.Driver {
	case "sqlite":
		return ingest.NewSQLite(cfg.Store.SQLitePath)
	default:
		return ingest.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.MaxConns, cfg.Store.MinConns)
	}
}

// openPostgresStore is openStore restricted to the postgres backend, for
// subsystems that need the shared pool (consolidation).
func openPostgresStore(ctx context.Context) (*ingest.PostgresStore, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	ps, ok := st.(*ingest.PostgresStore)
	if !ok {
		_ = st.Close()
		return nil, eris.New("this command requires the postgres store driver")
	}
	return ps, nil
}

// newGeocoder builds the geocode client from config, with rate limiting,
// bounded transport retries, and a circuit breaker.
func newGeocoder() geocode.Client {
	return geocode.NewClient(cfg.Geocode.APIKey,
		geocode.WithBaseURL(cfg.Geocode.BaseURL),
		geocode.WithTimeout(time.Duration(cfg.Geocode.TimeoutSecs)*time.Second),
		geocode.WithRateLimit(cfg.Geocode.RateLimitRPS),
		geocode.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig())),
	)
}

// newRetryConfig builds the transport retry policy for geocode calls.
func newRetryConfig() resilience.RetryConfig {
	retryCfg := resilience.DefaultRetryConfig()
	if cfg.Geocode.MaxRetries > 0 {
		retryCfg.MaxAttempts = cfg.Geocode.MaxRetries
	}
	retryCfg.OnRetry = resilience.RetryLogger("gtel_maps", "geocode")
	return retryCfg
}

// newCheckpointer wires the checkpointer with the configured retry policy.
func newCheckpointer(st ingest.Store) *ingest.Checkpointer {
	return ingest.NewCheckpointer(st, newGeocoder(), ingest.WithRetryConfig(newRetryConfig()))
}
