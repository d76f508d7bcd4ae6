package timestore

import (
	"context"

	_ "github.com/marcboeker/go-duckdb"
)

// OpenDuckDB opens an embedded DuckDB time store. An empty DSN opens an
// in-memory database shared by all connections of the pool.
func OpenDuckDB(ctx context.Context, cfg Config) (*SQLStore, error) {
	return openSQL(ctx, duckdbDialect, cfg)
}
