package timestore

import "strconv"

// dialect captures the differences between the SQL backends.
type dialect struct {
	name       string
	driverName string

	// placeholder returns the bind parameter for 1-based position n.
	placeholder func(n int) string

	// schema is applied statement by statement on open. Every statement
	// must be idempotent.
	schema []string
}

var duckdbDialect = dialect{
	name:        DriverDuckDB,
	driverName:  "duckdb",
	placeholder: func(int) string { return "?" },
	schema: []string{
		`CREATE TABLE IF NOT EXISTS telemetry (
			time           TIMESTAMP NOT NULL,
			device_id      VARCHAR   NOT NULL,
			temperature    DOUBLE,
			humidity       DOUBLE,
			pressure       DOUBLE,
			battery_level  DOUBLE,
			location_lat   DOUBLE,
			location_lon   DOUBLE,
			schema_version INTEGER,
			ingestion_time TIMESTAMP,
			PRIMARY KEY (time, device_id)
		)`,
		`CREATE TABLE IF NOT EXISTS data_quality_log (
			logged_at    TIMESTAMP NOT NULL,
			check_type   VARCHAR   NOT NULL,
			status       VARCHAR   NOT NULL,
			message      VARCHAR,
			record_count INTEGER,
			error_count  INTEGER,
			details      VARCHAR
		)`,
	},
}

var postgresDialect = dialect{
	name:        DriverPostgres,
	driverName:  "pgx",
	placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	schema: []string{
		`CREATE TABLE IF NOT EXISTS telemetry (
			time           TIMESTAMPTZ      NOT NULL,
			device_id      TEXT             NOT NULL,
			temperature    DOUBLE PRECISION,
			humidity       DOUBLE PRECISION,
			pressure       DOUBLE PRECISION,
			battery_level  DOUBLE PRECISION,
			location_lat   DOUBLE PRECISION,
			location_lon   DOUBLE PRECISION,
			schema_version INTEGER,
			ingestion_time TIMESTAMPTZ,
			PRIMARY KEY (time, device_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_telemetry_device_time ON telemetry (device_id, time DESC)`,
		`CREATE TABLE IF NOT EXISTS data_quality_log (
			id           BIGSERIAL PRIMARY KEY,
			logged_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			check_type   TEXT        NOT NULL,
			status       TEXT        NOT NULL,
			message      TEXT,
			record_count INTEGER,
			error_count  INTEGER,
			details      JSONB
		)`,
	},
}

// telemetryColumns is the insert column order.
var telemetryColumns = []string{
	"time", "device_id",
	"temperature", "humidity", "pressure", "battery_level",
	"location_lat", "location_lon",
	"schema_version", "ingestion_time",
}
