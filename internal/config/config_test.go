package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, envFile, err := Load()
	require.NoError(t, err)

	assert.False(t, envFile)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, uint32(5), cfg.BreakerFailures)
	assert.Equal(t, "USD", cfg.Currency)
	assert.Equal(t, 30*time.Minute, cfg.SessionIdleTimeout)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("SAVE_TIMEOUT", "750ms")
	t.Setenv("REDIS_DB", "3")

	cfg, _, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.HTTPPort)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 750*time.Millisecond, cfg.SaveTimeout)
	assert.Equal(t, 3, cfg.RedisDB)
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CART_CURRENCY=EUR\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("CART_CURRENCY") })

	cfg, envFile, err := Load()
	require.NoError(t, err)

	assert.True(t, envFile)
	assert.Equal(t, "EUR", cfg.Currency)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := map[string]string{
		"REQUEST_TIMEOUT":      "soon",
		"SHUTDOWN_TIMEOUT":     "0s",
		"SAVE_TIMEOUT":         "-1s",
		"SESSION_IDLE_TIMEOUT": "0",
		"REDIS_DB":             "zero",
		"BREAKER_FAILURES":     "0",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv(key, value)

			_, _, err := Load()
			assert.ErrorContains(t, err, key)
		})
	}
}
