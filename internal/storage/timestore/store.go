// Package timestore persists accepted telemetry events into a time-indexed
// store keyed by (time, device_id).
//
// Three backends are available:
//   - duckdb: embedded DuckDB database (default, also used in tests)
//   - postgres: PostgreSQL or TimescaleDB through pgx
//   - influx: InfluxDB 2.x bucket
//
// Duplicate keys are backend defined. The SQL backends reject the whole
// batch on a primary key conflict; InfluxDB overwrites the point.
package timestore

import (
	"context"
	"fmt"
	"time"

	"github.com/xtxerr/telemetry/internal/errors"
	"github.com/xtxerr/telemetry/internal/telemetry"
)

// Store is a time-indexed event store.
type Store interface {
	// Name returns the backend name.
	Name() string

	// WriteEvents persists events. Either all events are stored or an
	// error wrapping errors.ErrStoreWrite is returned.
	WriteEvents(ctx context.Context, events []telemetry.Event) error

	// LogQuality records a quality check result.
	LogQuality(ctx context.Context, result telemetry.QualityResult) error

	// Count returns the number of stored events.
	Count(ctx context.Context) (int64, error)

	// DeviceCounts returns the number of stored events per device.
	DeviceCounts(ctx context.Context) (map[string]int64, error)

	// SchemaVersionCounts returns the number of stored events per schema version.
	SchemaVersionCounts(ctx context.Context) (map[telemetry.SchemaVersion]int64, error)

	// Health checks connectivity.
	Health(ctx context.Context) error

	Close() error
}

// Drivers.
const (
	DriverDuckDB   = "duckdb"
	DriverPostgres = "postgres"
	DriverInflux   = "influx"
)

// Config holds time store configuration.
type Config struct {
	// Driver selects the backend: duckdb, postgres or influx.
	Driver string `yaml:"driver"`

	// DSN is the database connection string for the SQL backends.
	// An empty DuckDB DSN opens an in-memory database.
	DSN string `yaml:"dsn"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`

	// WriteTimeout bounds a single WriteEvents call. Zero disables it.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	Influx InfluxConfig `yaml:"influx"`
}

// InfluxConfig holds InfluxDB settings.
type InfluxConfig struct {
	URL         string `yaml:"url"`
	Token       string `yaml:"token"`
	Org         string `yaml:"org"`
	Bucket      string `yaml:"bucket"`
	Measurement string `yaml:"measurement"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Driver:          DriverDuckDB,
		DSN:             "data/telemetry.duckdb",
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
		WriteTimeout:    30 * time.Second,
		Influx: InfluxConfig{
			URL:         "http://localhost:8086",
			Org:         "telemetry",
			Bucket:      "telemetry",
			Measurement: "telemetry",
		},
	}
}

// Open opens the backend selected by cfg.Driver and bootstraps its schema.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverDuckDB, "":
		return OpenDuckDB(ctx, cfg)
	case DriverPostgres:
		return OpenPostgres(ctx, cfg)
	case DriverInflux:
		return OpenInflux(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: %q", errors.ErrUnknownDriver, cfg.Driver)
	}
}

var nowUTC = func() time.Time { return time.Now().UTC() }
