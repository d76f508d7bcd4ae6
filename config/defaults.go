// Package config provides configuration defaults for the telemetry
// ingestion daemon.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml, a .env file or
// environment variables.
package config

import "time"

// =============================================================================
// Pipeline Defaults
// =============================================================================

const (
	// DefaultBatchSize is the number of raw records pulled per batch.
	// Override via config: pipeline.batch_size or BATCH_SIZE
	DefaultBatchSize = 100

	// DefaultMaxBatches bounds a run. Zero runs until the source is exhausted.
	// Override via config: pipeline.max_batches
	DefaultMaxBatches = 0
)

// =============================================================================
// Storage Defaults
// =============================================================================

const (
	// DefaultLakePath is the root of the partitioned Parquet lake.
	// Override via config: lake.path or DATA_LAKE_PATH
	DefaultLakePath = "data/lake"

	// DefaultCompression is the Parquet compression codec.
	// One of: snappy, zstd, lz4, gzip, none.
	// Override via config: lake.compression or COMPRESSION
	DefaultCompression = "snappy"

	// DefaultTimeStoreDriver selects the time store backend.
	// One of: duckdb, postgres, influx.
	// Override via config: time_store.driver or TIMESTORE_DRIVER
	DefaultTimeStoreDriver = "duckdb"

	// DefaultTimeStoreDSN is the DuckDB database file.
	// Override via config: time_store.dsn or TIMESTORE_DSN
	DefaultTimeStoreDSN = "data/telemetry.duckdb"
)

// =============================================================================
// Dead Letter Defaults
// =============================================================================

const (
	// DefaultDeadLetterPath is the append-only dead-letter file.
	// Override via config: dead_letter.path or DEAD_LETTER_PATH
	DefaultDeadLetterPath = "data/dead_letter.jsonl"

	// DefaultDeadLetterSyncMode controls durability of dead-letter appends.
	// "sync" flushes every entry to the OS, "fsync" also syncs to disk,
	// "async" only flushes on close.
	// Override via config: dead_letter.sync_mode
	DefaultDeadLetterSyncMode = "sync"
)

// =============================================================================
// Admin Server Defaults
// =============================================================================

const (
	// DefaultAdminListen is the admin HTTP listen address.
	// Override via config: server.listen
	DefaultAdminListen = "127.0.0.1:8080"

	// DefaultHealthTimeout bounds the store check behind /health.
	DefaultHealthTimeout = 2 * time.Second
)

// =============================================================================
// Shutdown Defaults
// =============================================================================

const (
	// DefaultShutdownTimeout is how long the admin server may take to drain
	// after the run finishes.
	// Override via config: server.shutdown_timeout
	DefaultShutdownTimeout = 10 * time.Second
)
