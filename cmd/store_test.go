package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gtel-dmp/geopipe/internal/config"
)

func TestNewRetryConfig(t *testing.T) {
	orig := cfg
	t.Cleanup(func() { cfg = orig })

	cfg = &config.Config{Geocode: config.GeocodeConfig{MaxRetries: 5}}
	rc := newRetryConfig()
	assert.Equal(t, 5, rc.MaxAttempts)
	assert.NotNil(t, rc.OnRetry, "transport retries must be logged")

	// Zero config keeps the default attempt budget.
	cfg = &config.Config{}
	rc = newRetryConfig()
	assert.Equal(t, 3, rc.MaxAttempts)
	assert.NotNil(t, rc.OnRetry)
}
