// Package config loads and validates archiver configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Fetcher  FetcherConfig  `mapstructure:"fetcher"`
	Acquire  AcquireConfig  `mapstructure:"acquire"`
	Workers  WorkersConfig  `mapstructure:"workers"`
	Output   OutputConfig   `mapstructure:"output"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                int `mapstructure:"port"`
	ReadTimeoutSeconds  int `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds int `mapstructure:"write_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// FetcherConfig governs upstream requests.
type FetcherConfig struct {
	UserAgent            string  `mapstructure:"user_agent"`
	Cookie               string  `mapstructure:"cookie"`
	DetailTimeoutSeconds int     `mapstructure:"detail_timeout_seconds"`
	UnitTimeoutSeconds   int     `mapstructure:"unit_timeout_seconds"`
	DetailBackoffMs      int     `mapstructure:"detail_backoff_ms"`
	UnitBackoffMs        int     `mapstructure:"unit_backoff_ms"`
	TimeoutRetryDelayMs  int     `mapstructure:"timeout_retry_delay_ms"`
	MaxAttempts          int     `mapstructure:"max_attempts"`
	RatePerSecond        float64 `mapstructure:"rate_per_second"`
	Burst                int     `mapstructure:"burst"`
	// BaseURLs overrides the site root per platform tag.
	BaseURLs map[string]string `mapstructure:"base_urls"`
}

// AcquireConfig bounds per-job acquisition.
type AcquireConfig struct {
	Concurrency     int `mapstructure:"concurrency"`
	MaxListingPages int `mapstructure:"max_listing_pages"`
}

// WorkersConfig sizes the job worker pool and queue.
type WorkersConfig struct {
	Count      int `mapstructure:"count"`
	QueueDepth int `mapstructure:"queue_depth"`
}

// OutputConfig sets where packaged documents are written.
type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

// StorageConfig selects the artifact sink.
type StorageConfig struct {
	Backend string      `mapstructure:"backend"`
	Prefix  string      `mapstructure:"prefix"`
	Local   LocalConfig `mapstructure:"local"`
	GCS     GCSConfig   `mapstructure:"gcs"`
	S3      S3Config    `mapstructure:"s3"`
}

// LocalConfig configures the filesystem sink.
type LocalConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// GCSConfig configures the GCS sink.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
}

// S3Config configures the S3 sink.
type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

// DatabaseConfig selects the job store and unit cache backend.
type DatabaseConfig struct {
	Backend  string         `mapstructure:"backend"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
}

// PostgresConfig configures the pgx pool.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
}

// SQLiteConfig configures the embedded unit cache.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// Storage and database backends.
const (
	BackendMemory   = "memory"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendS3       = "s3"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Load builds a Config from an optional .env file, an optional config file
// and ARCHIVER_* environment variables.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("ARCHIVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout_seconds", 15)
	v.SetDefault("server.write_timeout_seconds", 120)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("fetcher.user_agent", "serial-archiver/0.1")
	v.SetDefault("fetcher.cookie", "")
	v.SetDefault("fetcher.detail_timeout_seconds", 20)
	v.SetDefault("fetcher.unit_timeout_seconds", 12)
	v.SetDefault("fetcher.detail_backoff_ms", 1000)
	v.SetDefault("fetcher.unit_backoff_ms", 500)
	v.SetDefault("fetcher.timeout_retry_delay_ms", 300)
	v.SetDefault("fetcher.max_attempts", 3)
	v.SetDefault("fetcher.rate_per_second", 4.0)
	v.SetDefault("fetcher.burst", 4)
	v.SetDefault("acquire.concurrency", 5)
	v.SetDefault("acquire.max_listing_pages", 100)
	v.SetDefault("workers.count", 2)
	v.SetDefault("workers.queue_depth", 64)
	v.SetDefault("output.dir", "output")
	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.prefix", "")
	v.SetDefault("storage.local.base_dir", "exports")
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.region", "")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.access_key", "")
	v.SetDefault("storage.s3.secret_key", "")
	v.SetDefault("database.backend", BackendMemory)
	v.SetDefault("database.postgres.dsn", "")
	v.SetDefault("database.postgres.max_conns", 10)
	v.SetDefault("database.sqlite.path", "data/cache.db")
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_id", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Fetcher.MaxAttempts <= 0 {
		return fmt.Errorf("fetcher.max_attempts must be > 0")
	}
	if c.Fetcher.DetailTimeoutSeconds <= 0 || c.Fetcher.UnitTimeoutSeconds <= 0 {
		return fmt.Errorf("fetcher timeouts must be > 0")
	}
	if c.Acquire.Concurrency <= 0 {
		return fmt.Errorf("acquire.concurrency must be > 0")
	}
	if c.Workers.Count <= 0 {
		return fmt.Errorf("workers.count must be > 0")
	}
	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir is required")
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendLocal:
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir is required for the local backend")
		}
	case BackendGCS:
		if c.Storage.GCS.Bucket == "" {
			return fmt.Errorf("storage.gcs.bucket is required for the gcs backend")
		}
	case BackendS3:
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	switch c.Database.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Database.Postgres.DSN == "" {
			return fmt.Errorf("database.postgres.dsn is required for the postgres backend")
		}
	case BackendSQLite:
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("database.backend %q is not supported", c.Database.Backend)
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicID == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_id are required when pubsub is enabled")
	}
	return nil
}

// DetailTimeout returns the work detail request timeout.
func (c FetcherConfig) DetailTimeout() time.Duration {
	return time.Duration(c.DetailTimeoutSeconds) * time.Second
}

// UnitTimeout returns the unit content request timeout.
func (c FetcherConfig) UnitTimeout() time.Duration {
	return time.Duration(c.UnitTimeoutSeconds) * time.Second
}

// DetailBackoff returns the linear backoff base for detail and listing calls.
func (c FetcherConfig) DetailBackoff() time.Duration {
	return time.Duration(c.DetailBackoffMs) * time.Millisecond
}

// UnitBackoff returns the linear backoff base for unit content calls.
func (c FetcherConfig) UnitBackoff() time.Duration {
	return time.Duration(c.UnitBackoffMs) * time.Millisecond
}

// TimeoutRetryDelay returns the fixed delay before retrying a timed out call.
func (c FetcherConfig) TimeoutRetryDelay() time.Duration {
	return time.Duration(c.TimeoutRetryDelayMs) * time.Millisecond
}

// ReadTimeout returns the HTTP server read timeout.
func (c ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

// WriteTimeout returns the HTTP server write timeout.
func (c ServerConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}
