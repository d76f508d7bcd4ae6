// Package config loads the daemon configuration.
//
// Values are layered: built-in defaults, then the YAML file, then a .env
// file, then process environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	defaults "github.com/xtxerr/telemetry/config"
	"github.com/xtxerr/telemetry/internal/quality"
	"github.com/xtxerr/telemetry/internal/storage/timestore"
)

// Config is the root configuration.
type Config struct {
	// Log configures logging.
	Log LogConfig `yaml:"log"`

	// Pipeline configures batching.
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Quality holds the validation rules.
	Quality quality.Rules `yaml:"quality"`

	// TimeStore configures the time-indexed sink.
	TimeStore timestore.Config `yaml:"time_store"`

	// Lake configures the partitioned Parquet sink.
	Lake LakeConfig `yaml:"lake"`

	// DeadLetter configures the dead-letter file.
	DeadLetter DeadLetterConfig `yaml:"dead_letter"`

	// Server configures the admin API.
	Server ServerConfig `yaml:"server"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is text, json or auto. Auto picks text on a terminal.
	Format string `yaml:"format"`
}

// PipelineConfig configures batching.
type PipelineConfig struct {
	// BatchSize is the number of raw records per batch.
	BatchSize int `yaml:"batch_size"`

	// MaxBatches bounds one run. Zero means unbounded.
	MaxBatches int `yaml:"max_batches"`
}

// LakeConfig configures the Parquet lake.
type LakeConfig struct {
	// Path is the lake root directory.
	Path string `yaml:"path"`

	// Compression is the Parquet codec name.
	Compression string `yaml:"compression"`

	// QueryMemoryLimit caps DuckDB memory for lake queries, e.g. "1GB".
	QueryMemoryLimit string `yaml:"query_memory_limit"`

	// Retention drops day partitions older than this at startup. Zero keeps
	// every partition.
	Retention time.Duration `yaml:"retention"`
}

// DeadLetterConfig configures the dead-letter file.
type DeadLetterConfig struct {
	// Path is the JSON-lines file.
	Path string `yaml:"path"`

	// SyncMode is async, sync or fsync.
	SyncMode string `yaml:"sync_mode"`
}

// ServerConfig configures the admin API.
type ServerConfig struct {
	// Enabled starts the admin API alongside the run.
	Enabled bool `yaml:"enabled"`

	// Listen is the listen address.
	Listen string `yaml:"listen"`

	TLSCertFile string `yaml:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Load loads configuration from a YAML file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	ts := timestore.DefaultConfig()
	ts.Driver = defaults.DefaultTimeStoreDriver
	ts.DSN = defaults.DefaultTimeStoreDSN

	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
		Pipeline: PipelineConfig{
			BatchSize:  defaults.DefaultBatchSize,
			MaxBatches: defaults.DefaultMaxBatches,
		},
		Quality:   quality.DefaultRules(),
		TimeStore: ts,
		Lake: LakeConfig{
			Path:        defaults.DefaultLakePath,
			Compression: defaults.DefaultCompression,
		},
		DeadLetter: DeadLetterConfig{
			Path:     defaults.DefaultDeadLetterPath,
			SyncMode: defaults.DefaultDeadLetterSyncMode,
		},
		Server: ServerConfig{
			Listen:          defaults.DefaultAdminListen,
			ShutdownTimeout: defaults.DefaultShutdownTimeout,
		},
	}
}
