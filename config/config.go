package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store kinds.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Config holds the service configuration.
type Config struct {
	Store      string `yaml:"store"`
	DSN        string `yaml:"dsn"`
	SQLitePath string `yaml:"sqlite_path"`
	NATSURL    string `yaml:"nats_url"`
	RedisAddr  string `yaml:"redis_addr"`

	// SnapshotEvery takes a snapshot every N versions; 0 disables snapshots.
	SnapshotEvery        int64         `yaml:"snapshot_every"`
	CommandMaxRetries    int           `yaml:"command_max_retries"`
	RetryInitialInterval time.Duration `yaml:"retry_initial_interval"`

	RelayWorkers   int           `yaml:"relay_workers"`
	RelayBatchSize int           `yaml:"relay_batch_size"`
	RelayInterval  time.Duration `yaml:"relay_interval"`

	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Store:                StoreMemory,
		SQLitePath:           "eventlog.db",
		SnapshotEvery:        5,
		CommandMaxRetries:    3,
		RetryInitialInterval: 10 * time.Millisecond,
		RelayWorkers:         3,
		RelayBatchSize:       10,
		RelayInterval:        2 * time.Second,
		LogLevel:             "INFO",
		MetricsAddr:          ":9090",
	}
}

// Load reads the YAML file at path, if any, over the defaults and then applies
// APP_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %q: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	str("APP_STORE", &c.Store)
	str("APP_DSN", &c.DSN)
	str("APP_SQLITE_PATH", &c.SQLitePath)
	str("APP_NATS_URL", &c.NATSURL)
	str("APP_REDIS_ADDR", &c.RedisAddr)
	str("APP_LOG_LEVEL", &c.LogLevel)
	str("APP_METRICS_ADDR", &c.MetricsAddr)

	var errs []error
	if v := os.Getenv("APP_SNAPSHOT_EVERY"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("APP_SNAPSHOT_EVERY: %w", err))
		}
		c.SnapshotEvery = n
	}
	if v := os.Getenv("APP_COMMAND_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("APP_COMMAND_MAX_RETRIES: %w", err))
		}
		c.CommandMaxRetries = n
	}
	if v := os.Getenv("APP_RETRY_INITIAL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("APP_RETRY_INITIAL_INTERVAL: %w", err))
		}
		c.RetryInitialInterval = d
	}
	return errors.Join(errs...)
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.DSN == "" {
			errs = append(errs, errors.New("dsn is required for the postgres store"))
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("sqlite_path is required for the sqlite store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	if c.SnapshotEvery < 0 {
		errs = append(errs, fmt.Errorf("snapshot_every must not be negative, got %d", c.SnapshotEvery))
	}
	if c.CommandMaxRetries < 0 {
		errs = append(errs, fmt.Errorf("command_max_retries must not be negative, got %d", c.CommandMaxRetries))
	}
	if c.RetryInitialInterval < 0 {
		errs = append(errs, fmt.Errorf("retry_initial_interval must not be negative, got %s", c.RetryInitialInterval))
	}
	if c.RelayWorkers < 0 || c.RelayBatchSize <= 0 || c.RelayInterval <= 0 {
		errs = append(errs, errors.New("relay settings must be positive"))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}
