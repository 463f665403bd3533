package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEmbeddedDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "ecommerce_events", cfg.AMQP.Exchange)
	assert.Equal(t, 3, cfg.AMQP.MaxRetries)
	assert.Equal(t, time.Second, cfg.AMQP.RetryDelay)
	assert.Equal(t, 10, cfg.AMQP.Prefetch)
	assert.Equal(t, time.Second, cfg.Outbox.PollInterval)
	assert.Equal(t, 50, cfg.Outbox.BatchSize)
	assert.Equal(t, 5, cfg.Webhooks.Breaker.FailThreshold)
	assert.Equal(t, 30000, cfg.Webhooks.Breaker.OpenForMs)
	assert.Equal(t, 168*time.Hour, cfg.Redis.DedupTTL)
}

func TestLoadMissingUserFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load("/does/not/exist.yaml")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
}
