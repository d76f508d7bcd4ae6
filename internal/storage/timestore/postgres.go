package timestore

import (
	"context"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// OpenPostgres opens a PostgreSQL time store through the pgx driver.
// The telemetry table is compatible with TimescaleDB hypertables; converting
// it is left to database provisioning.
func OpenPostgres(ctx context.Context, cfg Config) (*SQLStore, error) {
	return openSQL(ctx, postgresDialect, cfg)
}
