package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xtxerr/telemetry/internal/deadletter"
	"github.com/xtxerr/telemetry/internal/logging"
	"github.com/xtxerr/telemetry/internal/storage/parquet"
	"github.com/xtxerr/telemetry/internal/storage/timestore"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	// Log
	if err := c.Log.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	}

	// Pipeline
	if err := c.Pipeline.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("pipeline: %w", err))
	}

	// Quality
	if err := c.Quality.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("quality: %w", err))
	}

	// Time store
	if err := validateTimeStore(&c.TimeStore); err != nil {
		errs = append(errs, fmt.Errorf("time_store: %w", err))
	}

	// Lake
	if err := c.Lake.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("lake: %w", err))
	}

	// Dead letter
	if err := c.DeadLetter.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("dead_letter: %w", err))
	}

	// Server
	if c.Server.Enabled && c.Server.Listen == "" {
		errs = append(errs, errors.New("server: listen is required when enabled"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the log configuration.
func (c *LogConfig) Validate() error {
	var errs []error

	if _, err := logging.ParseLevel(c.Level); err != nil {
		errs = append(errs, err)
	}

	switch strings.ToLower(c.Format) {
	case "", "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("format must be one of: auto, text, json"))
	}

	return errors.Join(errs...)
}

// Validate checks the pipeline configuration.
func (c *PipelineConfig) Validate() error {
	var errs []error

	if c.BatchSize <= 0 {
		errs = append(errs, errors.New("batch_size must be positive"))
	}
	if c.MaxBatches < 0 {
		errs = append(errs, errors.New("max_batches must not be negative"))
	}

	return errors.Join(errs...)
}

// Validate checks the lake configuration.
func (c *LakeConfig) Validate() error {
	var errs []error

	if c.Path == "" {
		errs = append(errs, errors.New("path is required"))
	}
	if _, err := parquet.ParseCompressionType(c.Compression); err != nil {
		errs = append(errs, err)
	}
	if c.Retention < 0 {
		errs = append(errs, errors.New("retention must be >= 0"))
	}

	return errors.Join(errs...)
}

// Validate checks the dead-letter configuration.
func (c *DeadLetterConfig) Validate() error {
	var errs []error

	if c.Path == "" {
		errs = append(errs, errors.New("path is required"))
	}
	switch c.SyncMode {
	case "", deadletter.SyncAsync, deadletter.SyncWrite, deadletter.SyncFsync:
	default:
		errs = append(errs, fmt.Errorf("sync_mode must be one of: async, sync, fsync"))
	}

	return errors.Join(errs...)
}

func validateTimeStore(c *timestore.Config) error {
	var errs []error

	switch c.Driver {
	case "", timestore.DriverDuckDB:
	case timestore.DriverPostgres:
		if c.DSN == "" {
			errs = append(errs, errors.New("dsn is required for postgres"))
		}
	case timestore.DriverInflux:
		if c.Influx.URL == "" {
			errs = append(errs, errors.New("influx.url is required"))
		}
		if c.Influx.Org == "" || c.Influx.Bucket == "" {
			errs = append(errs, errors.New("influx.org and influx.bucket are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("driver must be one of: duckdb, postgres, influx"))
	}

	if c.MaxOpenConns < 0 || c.MaxIdleConns < 0 {
		errs = append(errs, errors.New("connection limits must not be negative"))
	}
	if c.WriteTimeout < 0 {
		errs = append(errs, errors.New("write_timeout must not be negative"))
	}

	return errors.Join(errs...)
}
