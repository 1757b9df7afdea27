package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, BackendPostgres, cfg.Backend)
	assert.Equal(t, "1000000.0000", cfg.MaxTransferAmount.String())
	assert.Equal(t, 5*time.Second, cfg.LockTimeout)
	assert.Equal(t, 30*time.Second, cfg.ProcessTimeout)
	assert.Equal(t, 4, cfg.QueueWorkers)
	assert.Equal(t, 5, cfg.QueueMaxAttempts)
	assert.Equal(t, 2*time.Minute, cfg.StalePendingAfter)
	assert.Equal(t, 5*time.Minute, cfg.StaleProcessingAfter)
	assert.Equal(t, time.Hour, cfg.PendingExpireAfter)
	assert.Equal(t, time.Minute, cfg.ReconciliationInterval)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LEDGER_BACKEND", "memory")
	t.Setenv("QUEUE_WORKERS", "8")
	t.Setenv("LEDGER_LOCK_TIMEOUT", "750ms")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("MAX_TRANSFER_AMOUNT", "2500.5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Backend)
	assert.Equal(t, 8, cfg.QueueWorkers)
	assert.Equal(t, 750*time.Millisecond, cfg.LockTimeout)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "2500.5000", cfg.MaxTransferAmount.String())
}

func TestLoad_Rejects(t *testing.T) {
	cases := map[string][2]string{
		"unknown backend":   {"LEDGER_BACKEND", "sqlite"},
		"bad duration":      {"LOCK_TIMEOUT", "soon"},
		"negative duration": {"PROCESS_TIMEOUT", "-1s"},
		"bad amount":        {"MAX_TRANSFER_AMOUNT", "lots"},
		"fractional cents":  {"MAX_TRANSFER_AMOUNT", "1.00001"},
		"short secret":      {"JWT_SECRET", "too-short"},
		"inverted backoff":  {"QUEUE_BACKOFF_MAX", "1ms"},
		"expiry too short":  {"PENDING_EXPIRE_AFTER", "1m"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(env[0], env[1])
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
