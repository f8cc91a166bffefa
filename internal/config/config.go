// Package config provides layered configuration for the market data
// framework. Values load in priority order: environment variables override a
// JSON config file, which overrides built-in defaults. A .env file in the
// working directory is folded into the environment before resolution, so
// local development and the deployed service configure themselves the same
// way.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/St0rmMaster/binance-data-framework/internal/timeframe"
)

// Config is the complete application configuration.
type Config struct {
	AppName string `json:"app_name" env:"APP_NAME"`

	Storage   StorageConfig   `json:"storage"`
	Providers ProvidersConfig `json:"providers"`
	Fetch     FetchConfig     `json:"fetch"`
	Logging   LoggingConfig   `json:"logging"`
	Metrics   MetricsConfig   `json:"metrics"`
	Defaults  DefaultsConfig  `json:"defaults"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Type string `json:"type" env:"STORAGE_TYPE"` // "duckdb", "postgres", "memory"

	// Path is the DuckDB database file.
	Path string `json:"path" env:"STORAGE_PATH"`

	// DSN is the Postgres connection string. When the database sits behind
	// an SQL proxy the DSN points at the local proxy listener.
	DSN string `json:"dsn" env:"DATABASE_URL"`

	MaxConns     int    `json:"max_conns" env:"STORAGE_MAX_CONNS"`
	QueryTimeout string `json:"query_timeout" env:"STORAGE_QUERY_TIMEOUT"`
}

// ProvidersConfig configures the upstream data sources.
type ProvidersConfig struct {
	// BarSource and TickSource name the providers serving each data kind.
	BarSource  string `json:"bar_source" env:"BAR_SOURCE"`   // "binance"
	TickSource string `json:"tick_source" env:"TICK_SOURCE"` // "dukascopy", "" to disable

	BinanceBaseURL   string `json:"binance_base_url" env:"BINANCE_BASE_URL"`
	DukascopyBaseURL string `json:"dukascopy_base_url" env:"DUKASCOPY_BASE_URL"`
}

// FetchConfig tunes the range acquisition retry policy.
type FetchConfig struct {
	RetryInitial string `json:"retry_initial" env:"FETCH_RETRY_INITIAL"`
	RetryMax     string `json:"retry_max" env:"FETCH_RETRY_MAX"`
	MaxRetries   int    `json:"max_retries" env:"FETCH_MAX_RETRIES"`
}

// LoggingConfig configures structured logging output.
type LoggingConfig struct {
	Level      string `json:"level" env:"LOG_LEVEL"`   // debug, info, warn, error
	Format     string `json:"format" env:"LOG_FORMAT"` // json, text
	Output     string `json:"output" env:"LOG_OUTPUT"` // stdout, stderr, file
	FilePath   string `json:"file_path" env:"LOG_FILE_PATH"`
	MaxSizeMB  int    `json:"max_size_mb" env:"LOG_MAX_SIZE"`
	MaxBackups int    `json:"max_backups" env:"LOG_MAX_BACKUPS"`
	MaxAgeDays int    `json:"max_age_days" env:"LOG_MAX_AGE"`
	Compress   bool   `json:"compress" env:"LOG_COMPRESS"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" env:"METRICS_ENABLED"`
	Addr    string `json:"addr" env:"METRICS_ADDR"`
	Path    string `json:"path" env:"METRICS_PATH"`
}

// DefaultsConfig holds the symbols and timeframes operations fall back to
// when the caller names none.
type DefaultsConfig struct {
	Symbols    []string `json:"symbols" env:"DEFAULT_SYMBOLS"`
	Timeframes []string `json:"timeframes" env:"DEFAULT_TIMEFRAMES"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		AppName: "marketdata",
		Storage: StorageConfig{
			Type:         "duckdb",
			Path:         "marketdata.db",
			MaxConns:     4,
			QueryTimeout: "30s",
		},
		Providers: ProvidersConfig{
			BarSource:  "binance",
			TickSource: "dukascopy",
		},
		Fetch: FetchConfig{
			RetryInitial: "500ms",
			RetryMax:     "30s",
			MaxRetries:   3,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
			Path:    "/metrics",
		},
		Defaults: DefaultsConfig{
			Symbols:    []string{"BTCUSDT"},
			Timeframes: []string{"1h"},
		},
	}
}

// Load resolves the configuration from defaults, an optional JSON file, and
// the environment. configPath may be empty.
func Load(configPath string, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Missing .env is the normal case outside development.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Debug("no .env file loaded", "error", err)
	}

	cfg := Default()

	if configPath != "" {
		if err := loadFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}
	loadEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger.Info("configuration loaded",
		"config_path", configPath,
		"storage_type", cfg.Storage.Type,
		"bar_source", cfg.Providers.BarSource,
		"log_level", cfg.Logging.Level)
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("config file %s does not exist", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func loadEnv(cfg *Config) {
	setString(&cfg.AppName, "APP_NAME")

	setString(&cfg.Storage.Type, "STORAGE_TYPE")
	setString(&cfg.Storage.Path, "STORAGE_PATH")
	setString(&cfg.Storage.DSN, "DATABASE_URL")
	setInt(&cfg.Storage.MaxConns, "STORAGE_MAX_CONNS")
	setString(&cfg.Storage.QueryTimeout, "STORAGE_QUERY_TIMEOUT")

	setString(&cfg.Providers.BarSource, "BAR_SOURCE")
	setString(&cfg.Providers.TickSource, "TICK_SOURCE")
	setString(&cfg.Providers.BinanceBaseURL, "BINANCE_BASE_URL")
	setString(&cfg.Providers.DukascopyBaseURL, "DUKASCOPY_BASE_URL")

	setString(&cfg.Fetch.RetryInitial, "FETCH_RETRY_INITIAL")
	setString(&cfg.Fetch.RetryMax, "FETCH_RETRY_MAX")
	setInt(&cfg.Fetch.MaxRetries, "FETCH_MAX_RETRIES")

	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setString(&cfg.Logging.Format, "LOG_FORMAT")
	setString(&cfg.Logging.Output, "LOG_OUTPUT")
	setString(&cfg.Logging.FilePath, "LOG_FILE_PATH")
	setInt(&cfg.Logging.MaxSizeMB, "LOG_MAX_SIZE")
	setInt(&cfg.Logging.MaxBackups, "LOG_MAX_BACKUPS")
	setInt(&cfg.Logging.MaxAgeDays, "LOG_MAX_AGE")
	setBool(&cfg.Logging.Compress, "LOG_COMPRESS")

	setBool(&cfg.Metrics.Enabled, "METRICS_ENABLED")
	setString(&cfg.Metrics.Addr, "METRICS_ADDR")
	setString(&cfg.Metrics.Path, "METRICS_PATH")

	setList(&cfg.Defaults.Symbols, "DEFAULT_SYMBOLS")
	setList(&cfg.Defaults.Timeframes, "DEFAULT_TIMEFRAMES")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1"
	}
}

func setList(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		*dst = parts
	}
}

// Validate rejects configurations the process cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case "duckdb":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for duckdb")
		}
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage.type %q", c.Storage.Type)
	}

	switch c.Providers.BarSource {
	case "", "binance":
	default:
		return fmt.Errorf("unknown providers.bar_source %q", c.Providers.BarSource)
	}
	switch c.Providers.TickSource {
	case "", "dukascopy":
	default:
		return fmt.Errorf("unknown providers.tick_source %q", c.Providers.TickSource)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging.level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unknown logging.format %q", c.Logging.Format)
	}
	if c.Logging.Output == "file" && c.Logging.FilePath == "" {
		return fmt.Errorf("logging.file_path is required when logging to file")
	}

	if _, err := c.RetryInitial(); err != nil {
		return fmt.Errorf("fetch.retry_initial: %w", err)
	}
	if _, err := c.RetryMax(); err != nil {
		return fmt.Errorf("fetch.retry_max: %w", err)
	}

	for _, tf := range c.Defaults.Timeframes {
		if !timeframe.IsValid(tf) {
			return fmt.Errorf("unknown default timeframe %q", tf)
		}
	}
	return nil
}

// RetryInitial parses the initial retry delay.
func (c *Config) RetryInitial() (time.Duration, error) {
	return time.ParseDuration(c.Fetch.RetryInitial)
}

// RetryMax parses the retry delay ceiling.
func (c *Config) RetryMax() (time.Duration, error) {
	return time.ParseDuration(c.Fetch.RetryMax)
}

// QueryTimeout parses the storage query timeout.
func (c *Config) QueryTimeout() (time.Duration, error) {
	return time.ParseDuration(c.Storage.QueryTimeout)
}
