package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "razvoz.sqlite3", cfg.DBPath)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 4*time.Hour, cfg.BatchTTL)
	assert.Equal(t, 24*time.Hour, cfg.OperationLimit)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.False(t, cfg.PartialGrants)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, "razvoz.dispatch", cfg.KafkaTopic)
}

func TestLoadFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RAZVOZ_DB", "/var/lib/razvoz.db")
	t.Setenv("RAZVOZ_BATCH_TTL", "6h")
	t.Setenv("RAZVOZ_OPERATION_LIMIT", "12h")
	t.Setenv("RAZVOZ_PARTIAL_GRANTS", "true")
	t.Setenv("RAZVOZ_KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("RAZVOZ_REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/razvoz.db", cfg.DBPath)
	assert.Equal(t, 6*time.Hour, cfg.BatchTTL)
	assert.Equal(t, 12*time.Hour, cfg.OperationLimit)
	assert.True(t, cfg.PartialGrants)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Chdir(t.TempDir())

	tests := []struct {
		key   string
		value string
	}{
		{"RAZVOZ_BATCH_TTL", "soon"},
		{"RAZVOZ_OPERATION_LIMIT", "-1h"},
		{"RAZVOZ_SWEEP_INTERVAL", "0s"},
		{"RAZVOZ_PARTIAL_GRANTS", "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.ErrorContains(t, err, tt.key)
		})
	}
}
