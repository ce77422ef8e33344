package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("JWT_SECRET", "change-this-secret-in-production")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultSync(), cfg.Sync)
	assert.Equal(t, ":8080", cfg.Server.Port)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadSyncOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("SYNC_THROTTLE_INTERVAL", "32ms")
	t.Setenv("SYNC_DEBOUNCE_WINDOW", "1") // bare number is seconds
	t.Setenv("HISTORY_DEPTH", "10")
	t.Setenv("LOG_JSON", "yes")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 32*time.Millisecond, cfg.Sync.ThrottleInterval)
	assert.Equal(t, time.Second, cfg.Sync.DebounceWindow)
	assert.Equal(t, 10, cfg.Sync.HistoryDepth)
	assert.True(t, cfg.Log.JSON)

	t.Setenv("HISTORY_DEPTH", "0")
	_, err = Load()
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: "5432", User: "u", Password: "p", DBName: "canvas", SSLMode: "disable", TimeZone: "UTC"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=canvas sslmode=disable TimeZone=UTC", c.DSN())
}
