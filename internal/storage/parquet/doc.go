// Package parquet implements the partitioned telemetry lake.
//
// The package provides:
//   - EventWriter/EventReader for single Parquet files of events
//   - Lake, which groups events by the UTC date of their measurement time
//     into year=YYYY/month=MM/day=DD directories, one new file per
//     partition per write
//   - Support for multiple compression algorithms (snappy, zstd, lz4, gzip)
//   - Type conversion between telemetry events and Parquet rows
package parquet
