// Package config provides configuration for the reqgrid service and CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by LoadFromEnv.
const EnvPrefix = "REQGRID_"

// Source types.
const (
	SourceFile    = "file"
	SourceSQLite  = "sqlite"
	SourceObjects = "objects"
)

// Storage types.
const (
	StorageLocal = "local"
	StorageS3    = "s3"
)

// Config holds the configuration for reqgrid.
type Config struct {
	// DataDir is the base directory for caches and temporary files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// HTTP configuration
	HTTP HTTPConfig `json:"http" yaml:"http"`

	// gRPC configuration
	GRPC GRPCConfig `json:"grpc" yaml:"grpc"`

	// Source selects where rows are loaded from
	Source SourceConfig `json:"source" yaml:"source"`

	// Storage configuration for object sources and exports
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Query configuration
	Query QueryConfig `json:"query" yaml:"query"`

	// Telemetry configuration
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`

	// Stats configuration for filter usage tracking
	Stats StatsConfig `json:"stats" yaml:"stats"`

	// Export configuration
	Export ExportConfig `json:"export" yaml:"export"`

	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// Addr is the HTTP listen address
	Addr string `json:"addr" yaml:"addr"`

	// ReadTimeout is the HTTP read timeout
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the HTTP idle timeout
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// GRPCConfig holds gRPC server configuration.
type GRPCConfig struct {
	// Addr is the gRPC server address
	Addr string `json:"addr" yaml:"addr"`

	// Enabled controls whether the gRPC health service runs
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// SourceConfig selects and configures the row source.
type SourceConfig struct {
	// Type is file, sqlite, or objects
	Type string `json:"type" yaml:"type"`

	// Path is the log file (file) or database (sqlite)
	Path string `json:"path" yaml:"path"`

	// Table is the sqlite request table
	Table string `json:"table" yaml:"table"`

	// Prefix selects log objects in storage (objects)
	Prefix string `json:"prefix" yaml:"prefix"`

	// Watch reloads a file source when the file changes
	Watch bool `json:"watch" yaml:"watch"`

	// Debounce collapses bursts of file changes
	Debounce time.Duration `json:"debounce" yaml:"debounce"`

	// ReloadInterval periodically reloads non-file sources (0 disables)
	ReloadInterval time.Duration `json:"reload_interval" yaml:"reload_interval"`
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// CacheDir holds downloaded log objects
	CacheDir string `json:"cache_dir" yaml:"cache_dir"`

	// CacheMaxBytes bounds the download cache
	CacheMaxBytes int64 `json:"cache_max_bytes" yaml:"cache_max_bytes"`

	// Concurrency is the number of parallel downloads
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle enables path-style addressing (MinIO)
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`
}

// QueryConfig holds query defaults.
type QueryConfig struct {
	// DefaultLimit is the page size when a request has no limit
	DefaultLimit int `json:"default_limit" yaml:"default_limit"`

	// MaxLimit caps the page size
	MaxLimit int `json:"max_limit" yaml:"max_limit"`

	// JoinedFacets lists sequence fields faceted by their joined value
	JoinedFacets []string `json:"joined_facets" yaml:"joined_facets"`
}

// TelemetryConfig holds tracing configuration.
type TelemetryConfig struct {
	// ServiceName is reported as service.name
	ServiceName string `json:"service_name" yaml:"service_name"`

	// Exporter is none, stdout, or otlp
	Exporter string `json:"exporter" yaml:"exporter"`

	// Endpoint is the OTLP gRPC endpoint
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// SampleRatio is the fraction of root traces sampled
	SampleRatio float64 `json:"sample_ratio" yaml:"sample_ratio"`
}

// StatsConfig holds filter usage tracking configuration.
type StatsConfig struct {
	// Window is how long an unused field stays in the stats
	Window time.Duration `json:"window" yaml:"window"`

	// PruneInterval is how often stale fields are dropped
	PruneInterval time.Duration `json:"prune_interval" yaml:"prune_interval"`
}

// ExportConfig holds result export configuration.
type ExportConfig struct {
	// Enabled exposes the export endpoint
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Prefix is the object prefix exports are written under
	Prefix string `json:"prefix" yaml:"prefix"`

	// Retention deletes exports older than this; 0 keeps them forever
	Retention time.Duration `json:"retention" yaml:"retention"`

	// SweepInterval is how often expired exports are looked for
	SweepInterval time.Duration `json:"sweep_interval" yaml:"sweep_interval"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data/reqgrid",
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		GRPC: GRPCConfig{
			Addr:    ":9090",
			Enabled: false,
		},
		Source: SourceConfig{
			Type:     SourceFile,
			Path:     "./access.log",
			Table:    "requests",
			Prefix:   "logs/",
			Watch:    true,
			Debounce: 500 * time.Millisecond,
		},
		Storage: StorageConfig{
			Type:          StorageLocal,
			CacheMaxBytes: 1 << 30,
			Concurrency:   4,
			S3: S3Config{
				Region: "us-east-1",
			},
		},
		Query: QueryConfig{
			DefaultLimit: 50,
			MaxLimit:     1000,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "reqgrid",
			Exporter:    "none",
			SampleRatio: 1.0,
		},
		Stats: StatsConfig{
			Window:        time.Hour,
			PruneInterval: 10 * time.Minute,
		},
		Export: ExportConfig{
			Enabled:       true,
			Prefix:        "exports",
			Retention:     7 * 24 * time.Hour,
			SweepInterval: time.Hour,
		},
		ShutdownTimeout: 30 * time.Second,
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/reqgrid"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}
	if c.Storage.CacheDir == "" {
		c.Storage.CacheDir = filepath.Join(c.DataDir, "cache")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	switch c.Source.Type {
	case SourceFile, SourceSQLite:
		if c.Source.Path == "" {
			return fmt.Errorf("source.path is required for source type %s", c.Source.Type)
		}
	case SourceObjects:
	default:
		return fmt.Errorf("invalid source type: %s (must be file, sqlite, or objects)", c.Source.Type)
	}

	if c.Storage.Type != StorageLocal && c.Storage.Type != StorageS3 {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}
	if c.Storage.Type == StorageS3 && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	if c.Query.DefaultLimit <= 0 {
		return fmt.Errorf("query.default_limit must be positive, got %d", c.Query.DefaultLimit)
	}
	if c.Query.MaxLimit > 0 && c.Query.DefaultLimit > c.Query.MaxLimit {
		return fmt.Errorf("query.default_limit %d exceeds query.max_limit %d", c.Query.DefaultLimit, c.Query.MaxLimit)
	}

	switch c.Telemetry.Exporter {
	case "", "none", "stdout", "otlp":
	default:
		return fmt.Errorf("invalid telemetry exporter: %s (must be none, stdout, or otlp)", c.Telemetry.Exporter)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be between 0 and 1, got %v", c.Telemetry.SampleRatio)
	}

	if c.Export.Retention < 0 {
		return fmt.Errorf("export.retention must not be negative, got %v", c.Export.Retention)
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv overrides cfg from REQGRID_* environment variables.
// Values that fail to parse are ignored.
func LoadFromEnv(cfg *Config) {
	str := func(name string, dst *string) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			*dst = v == "true" || v == "1"
		}
	}
	integer := func(name string, dst *int) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v := os.Getenv(EnvPrefix + name); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}

	str("DATA_DIR", &cfg.DataDir)

	str("HTTP_ADDR", &cfg.HTTP.Addr)
	str("GRPC_ADDR", &cfg.GRPC.Addr)
	boolean("GRPC_ENABLED", &cfg.GRPC.Enabled)

	str("SOURCE_TYPE", &cfg.Source.Type)
	str("SOURCE_PATH", &cfg.Source.Path)
	str("SOURCE_TABLE", &cfg.Source.Table)
	str("SOURCE_PREFIX", &cfg.Source.Prefix)
	boolean("SOURCE_WATCH", &cfg.Source.Watch)
	duration("SOURCE_RELOAD_INTERVAL", &cfg.Source.ReloadInterval)

	str("STORAGE_TYPE", &cfg.Storage.Type)
	str("STORAGE_PATH", &cfg.Storage.Path)
	str("STORAGE_CACHE_DIR", &cfg.Storage.CacheDir)
	integer("STORAGE_CONCURRENCY", &cfg.Storage.Concurrency)
	str("S3_BUCKET", &cfg.Storage.S3.Bucket)
	str("S3_REGION", &cfg.Storage.S3.Region)
	str("S3_ENDPOINT", &cfg.Storage.S3.Endpoint)
	boolean("S3_USE_PATH_STYLE", &cfg.Storage.S3.UsePathStyle)

	integer("QUERY_DEFAULT_LIMIT", &cfg.Query.DefaultLimit)
	integer("QUERY_MAX_LIMIT", &cfg.Query.MaxLimit)

	str("TELEMETRY_EXPORTER", &cfg.Telemetry.Exporter)
	str("TELEMETRY_ENDPOINT", &cfg.Telemetry.Endpoint)
	if v := os.Getenv(EnvPrefix + "TELEMETRY_SAMPLE_RATIO"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Telemetry.SampleRatio = f
		}
	}

	duration("STATS_WINDOW", &cfg.Stats.Window)
	boolean("EXPORT_ENABLED", &cfg.Export.Enabled)
	str("EXPORT_PREFIX", &cfg.Export.Prefix)
	duration("EXPORT_RETENTION", &cfg.Export.Retention)
	duration("SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout)
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir, c.Storage.CacheDir}
	if c.Storage.Type == StorageLocal {
		dirs = append(dirs, c.Storage.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
