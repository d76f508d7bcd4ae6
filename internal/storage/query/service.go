// Package query runs analytical queries over the Parquet lake with DuckDB.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/xtxerr/telemetry/internal/telemetry"
)

// LakeView is the view name ExecuteSQL queries can select from.
const LakeView = "lake"

// Service provides query capabilities over the lake.
// It uses an in-memory DuckDB database reading the lake's Parquet files.
type Service struct {
	mu sync.Mutex

	base string
	db   *sql.DB

	// Statistics
	queries atomic.Int64
	rows    atomic.Int64
	errors  atomic.Int64
}

// Options configures the query service.
type Options struct {
	// MemoryLimit is the DuckDB memory limit, e.g. "1GB". Empty keeps
	// DuckDB's default.
	MemoryLimit string
}

// DeviceSummary aggregates one device's lake events.
type DeviceSummary struct {
	DeviceID       string    `json:"device_id"`
	Events         int64     `json:"events"`
	First          time.Time `json:"first"`
	Last           time.Time `json:"last"`
	AvgTemperature *float64  `json:"avg_temperature,omitempty"`
	AvgHumidity    *float64  `json:"avg_humidity,omitempty"`
	AvgPressure    *float64  `json:"avg_pressure,omitempty"`
	MinBattery     *float64  `json:"min_battery_level,omitempty"`
}

// DailyCount is the event volume of one lake partition.
type DailyCount struct {
	Date    telemetry.Date `json:"-"`
	Day     string         `json:"date"`
	Events  int64          `json:"events"`
	Devices int64          `json:"devices"`
}

// New creates a query service over the lake rooted at base.
func New(base string, opts Options) (*Service, error) {
	// Open in-memory DuckDB database
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	// Configure DuckDB
	if opts.MemoryLimit != "" {
		_, err = db.Exec(fmt.Sprintf("SET memory_limit=%s", quote(opts.MemoryLimit)))
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("set memory limit: %w", err)
		}
	}

	return &Service{base: base, db: db}, nil
}

// Close closes the query service.
func (s *Service) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Service) pattern() string {
	return filepath.Join(s.base, "year=*", "month=*", "day=*", "*.parquet")
}

// source returns the FROM clause over every lake file, or "" when the lake
// holds no files yet.
func (s *Service) source() (string, error) {
	matches, err := filepath.Glob(s.pattern())
	if err != nil {
		return "", fmt.Errorf("glob lake: %w", err)
	}
	if len(matches) == 0 {
		return "", nil
	}
	return fmt.Sprintf("read_parquet(%s, hive_partitioning = true)", quote(s.pattern())), nil
}

// DeviceSummaries aggregates events per device within [from, to).
// A zero bound is open.
func (s *Service) DeviceSummaries(ctx context.Context, from, to time.Time) ([]DeviceSummary, error) {
	src, err := s.source()
	if err != nil || src == "" {
		return nil, s.fail(err)
	}

	var where []string
	var args []any
	if !from.IsZero() {
		where = append(where, "time_us >= ?")
		args = append(args, from.UnixMicro())
	}
	if !to.IsZero() {
		where = append(where, "time_us < ?")
		args = append(args, to.UnixMicro())
	}

	query := `
		SELECT
			device_id,
			count(*),
			min(time_us), max(time_us),
			avg(temperature), avg(humidity), avg(pressure),
			min(battery_level)
		FROM ` + src
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " GROUP BY device_id ORDER BY device_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.fail(fmt.Errorf("query device summaries: %w", err))
	}
	defer rows.Close()

	var out []DeviceSummary
	for rows.Next() {
		var d DeviceSummary
		var first, last int64
		var temp, hum, pres, batt sql.NullFloat64

		if err := rows.Scan(&d.DeviceID, &d.Events, &first, &last, &temp, &hum, &pres, &batt); err != nil {
			return nil, s.fail(fmt.Errorf("scan row: %w", err))
		}
		d.First = time.UnixMicro(first).UTC()
		d.Last = time.UnixMicro(last).UTC()
		d.AvgTemperature = nullable(temp)
		d.AvgHumidity = nullable(hum)
		d.AvgPressure = nullable(pres)
		d.MinBattery = nullable(batt)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(err)
	}

	s.done(len(out))
	return out, nil
}

// DailyCounts returns the event and device counts of every partition in
// ascending date order.
func (s *Service) DailyCounts(ctx context.Context) ([]DailyCount, error) {
	src, err := s.source()
	if err != nil || src == "" {
		return nil, s.fail(err)
	}

	query := `
		SELECT year, month, day, count(*), count(DISTINCT device_id)
		FROM ` + src + `
		GROUP BY year, month, day
		ORDER BY year, month, day`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, s.fail(fmt.Errorf("query daily counts: %w", err))
	}
	defer rows.Close()

	var out []DailyCount
	for rows.Next() {
		var year, month, day int64
		var c DailyCount
		if err := rows.Scan(&year, &month, &day, &c.Events, &c.Devices); err != nil {
			return nil, s.fail(fmt.Errorf("scan row: %w", err))
		}
		c.Date = telemetry.Date{Year: int(year), Month: time.Month(month), Day: int(day)}
		c.Day = c.Date.String()
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(err)
	}

	s.done(len(out))
	return out, nil
}

// ExecuteSQL executes a raw SQL query using DuckDB. Queries may select from
// the "lake" view once the lake holds at least one file.
// This is useful for ad-hoc queries and debugging.
func (s *Service) ExecuteSQL(ctx context.Context, query string) ([]map[string]any, error) {
	src, err := s.source()
	if err != nil {
		return nil, s.fail(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if src != "" {
		if _, err := s.db.ExecContext(ctx, "CREATE OR REPLACE VIEW "+LakeView+" AS SELECT * FROM "+src); err != nil {
			return nil, s.fail(fmt.Errorf("create lake view: %w", err))
		}
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, s.fail(err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, s.fail(err)
	}

	var results []map[string]any

	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, s.fail(err)
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(err)
	}

	s.done(len(results))
	return results, nil
}

// Stats holds query statistics.
type Stats struct {
	QueriesExecuted int64
	RowsReturned    int64
	Errors          int64
}

// Stats returns query statistics.
func (s *Service) Stats() Stats {
	return Stats{
		QueriesExecuted: s.queries.Load(),
		RowsReturned:    s.rows.Load(),
		Errors:          s.errors.Load(),
	}
}

func (s *Service) done(rows int) {
	s.queries.Add(1)
	s.rows.Add(int64(rows))
}

// fail counts err and returns it. A nil err counts as an empty query.
func (s *Service) fail(err error) error {
	if err == nil {
		s.queries.Add(1)
		return nil
	}
	s.errors.Add(1)
	return err
}

func nullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// quote renders s as a SQL string literal.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
