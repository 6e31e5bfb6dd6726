package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/matchpulse")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("PRODUCER_API_TOKEN", "test-producer-token")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, int64(10000), cfg.MaxConnections)
	assert.Equal(t, 20, cfg.MaxConnectionsPerIP)
	assert.Equal(t, 32, cfg.SendBufferSize)
	assert.Equal(t, "30s", cfg.HeartbeatInterval.String())
	assert.Equal(t, "1m0s", cfg.CleanupInterval.String())
	assert.Equal(t, "5m0s", cfg.IdleTimeout.String())
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "9999")
	t.Setenv("HEARTBEAT_INTERVAL", "10s")
	t.Setenv("IDLE_TIMEOUT", "1m")
	t.Setenv("MAX_CONNECTIONS", "500")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.Port)
	assert.Equal(t, "10s", cfg.HeartbeatInterval.String())
	assert.Equal(t, "1m0s", cfg.IdleTimeout.String())
	assert.Equal(t, int64(500), cfg.MaxConnections)
}

func TestLoad_MissingRequired(t *testing.T) {
	vars := []string{"DATABASE_URL", "REDIS_URL", "JWT_SECRET", "PRODUCER_API_TOKEN"}

	for _, missing := range vars {
		t.Run(missing, func(t *testing.T) {
			setRequiredEnv(t)
			t.Setenv(missing, "")

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), missing)
		})
	}
}

func TestLoad_ShortJWTSecret(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("JWT_SECRET", "too-short")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestLoad_IdleTimeoutMustExceedHeartbeat(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("HEARTBEAT_INTERVAL", "2m")
	t.Setenv("IDLE_TIMEOUT", "1m")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IDLE_TIMEOUT")
}

func TestLoad_InvalidInterval(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("CLEANUP_INTERVAL", "0s")

	_, err := Load()
	require.Error(t, err)
}
