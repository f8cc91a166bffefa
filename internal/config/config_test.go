package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "duckdb", cfg.Storage.Type)
	assert.Equal(t, "binance", cfg.Providers.BarSource)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	payload := `{
		"storage": {"type": "memory"},
		"logging": {"level": "debug", "format": "text"},
		"defaults": {"symbols": ["ETHUSDT"], "timeframes": ["5m", "1h"]}
	}`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o644))

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []string{"ETHUSDT"}, cfg.Defaults.Symbols)
	// Unset sections keep their defaults.
	assert.Equal(t, "binance", cfg.Providers.BarSource)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"), nil)
	assert.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"storage": {"type": "memory"}}`), 0o644))

	t.Setenv("STORAGE_TYPE", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/marketdata")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("DEFAULT_SYMBOLS", "BTCUSDT, ETHUSDT")
	t.Setenv("FETCH_MAX_RETRIES", "5")
	t.Setenv("METRICS_ENABLED", "true")

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Storage.Type)
	assert.Equal(t, "postgres://localhost:5432/marketdata", cfg.Storage.DSN)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Defaults.Symbols)
	assert.Equal(t, 5, cfg.Fetch.MaxRetries)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown storage type", func(c *Config) { c.Storage.Type = "sqlite" }},
		{"postgres without dsn", func(c *Config) { c.Storage.Type = "postgres"; c.Storage.DSN = "" }},
		{"duckdb without path", func(c *Config) { c.Storage.Path = "" }},
		{"unknown bar source", func(c *Config) { c.Providers.BarSource = "kraken" }},
		{"unknown tick source", func(c *Config) { c.Providers.TickSource = "binance" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"file output without path", func(c *Config) { c.Logging.Output = "file" }},
		{"bad retry duration", func(c *Config) { c.Fetch.RetryInitial = "soon" }},
		{"bad default timeframe", func(c *Config) { c.Defaults.Timeframes = []string{"7m"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDurationAccessors(t *testing.T) {
	cfg := Default()

	initial, err := cfg.RetryInitial()
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, initial)

	maxDelay, err := cfg.RetryMax()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, maxDelay)

	timeout, err := cfg.QueryTimeout()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, timeout)
}
