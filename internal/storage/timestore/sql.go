package timestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xtxerr/telemetry/internal/errors"
	"github.com/xtxerr/telemetry/internal/logging"
	"github.com/xtxerr/telemetry/internal/telemetry"
)

// maxEventsPerInsert bounds the rows of one multi-row INSERT.
// 10 columns * 100 rows = 1000 parameters per statement.
const maxEventsPerInsert = 100

// SQLStore is a Store backed by database/sql. It is safe for concurrent use.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	config  Config

	mu     sync.RWMutex
	closed bool
}

func openSQL(ctx context.Context, d dialect, cfg Config) (*SQLStore, error) {
	db, err := sql.Open(d.driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.name, err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	// Verify connection
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.name, err)
	}

	s := &SQLStore{db: db, dialect: d, config: cfg}

	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logging.Component("timestore").Info("time store opened", "driver", d.name)
	return s, nil
}

func (s *SQLStore) ensureSchema(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap %s schema: %w", s.dialect.name, err)
		}
	}
	return nil
}

// Name returns the backend name.
func (s *SQLStore) Name() string {
	return s.dialect.name
}

// DB returns the underlying database connection.
// Use with caution - prefer using Store methods.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Close closes the store.
func (s *SQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	return s.db.Close()
}

// Health checks database connectivity.
func (s *SQLStore) Health(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.ErrStoreClosed
	}
	return s.db.PingContext(ctx)
}

// =============================================================================
// Writes
// =============================================================================

// WriteEvents inserts events in one transaction using multi-row INSERTs.
// A key conflict anywhere rolls back the whole call.
func (s *SQLStore) WriteEvents(ctx context.Context, events []telemetry.Event) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.Mark(errors.ErrStoreClosed, errors.ErrStoreWrite)
	}

	if s.config.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.WriteTimeout)
		defer cancel()
	}

	err := s.transaction(ctx, func(tx *sql.Tx) error {
		for i := 0; i < len(events); i += maxEventsPerInsert {
			end := i + maxEventsPerInsert
			if end > len(events) {
				end = len(events)
			}

			query, args := buildMultiRowInsert(s.dialect, events[i:end])
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("insert rows %d-%d: %w", i, end-1, err)
			}
		}
		return nil
	})
	if err != nil {
		return errors.Mark(err, errors.ErrStoreWrite)
	}
	return nil
}

// transaction executes fn within a database transaction.
//
// If fn returns an error, the transaction is rolled back.
// If fn returns nil, the transaction is committed.
func (s *SQLStore) transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// buildMultiRowInsert builds one INSERT with a VALUES tuple per event.
func buildMultiRowInsert(d dialect, events []telemetry.Event) (string, []any) {
	cols := len(telemetryColumns)
	args := make([]any, 0, len(events)*cols)

	var query strings.Builder
	query.Grow(120 + len(events)*cols*4)

	query.WriteString("INSERT INTO telemetry (")
	query.WriteString(strings.Join(telemetryColumns, ", "))
	query.WriteString(") VALUES ")

	n := 1
	for i := range events {
		if i > 0 {
			query.WriteByte(',')
		}
		query.WriteByte('(')
		for c := 0; c < cols; c++ {
			if c > 0 {
				query.WriteByte(',')
			}
			query.WriteString(d.placeholder(n))
			n++
		}
		query.WriteByte(')')

		e := &events[i]
		args = append(args,
			e.Time.UTC(),
			e.DeviceID,
			nullFloat(e.Temperature),
			nullFloat(e.Humidity),
			nullFloat(e.Pressure),
			nullFloat(e.BatteryLevel),
			nullFloat(e.LocationLat),
			nullFloat(e.LocationLon),
			int(e.SchemaVersion),
			nullTime(e.IngestionTime),
		)
	}

	return query.String(), args
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

// LogQuality appends a row to data_quality_log.
func (s *SQLStore) LogQuality(ctx context.Context, r telemetry.QualityResult) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.ErrStoreClosed
	}

	details, err := json.Marshal(r.Details)
	if err != nil {
		return fmt.Errorf("encode quality details: %w", err)
	}

	p := s.dialect.placeholder
	query := fmt.Sprintf(`INSERT INTO data_quality_log
		(logged_at, check_type, status, message, record_count, error_count, details)
		VALUES (%s, %s, %s, %s, %s, %s, %s)`,
		p(1), p(2), p(3), p(4), p(5), p(6), p(7))

	_, err = s.db.ExecContext(ctx, query,
		nowUTC(), string(r.CheckType), string(r.Status), r.Message,
		r.RecordCount, r.ErrorCount, string(details))
	if err != nil {
		return fmt.Errorf("insert quality log: %w", err)
	}
	return nil
}

// =============================================================================
// Summaries
// =============================================================================

// Count returns the number of stored events.
func (s *SQLStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, errors.ErrStoreClosed
	}

	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM telemetry`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// DeviceCounts returns the number of stored events per device.
func (s *SQLStore) DeviceCounts(ctx context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT device_id, COUNT(*) FROM telemetry GROUP BY device_id`)
	if err != nil {
		return nil, fmt.Errorf("count devices: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var device string
		var n int64
		if err := rows.Scan(&device, &n); err != nil {
			return nil, fmt.Errorf("scan device count: %w", err)
		}
		counts[device] = n
	}
	return counts, rows.Err()
}

// SchemaVersionCounts returns the number of stored events per schema version.
func (s *SQLStore) SchemaVersionCounts(ctx context.Context) (map[telemetry.SchemaVersion]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT schema_version, COUNT(*) FROM telemetry GROUP BY schema_version`)
	if err != nil {
		return nil, fmt.Errorf("count schema versions: %w", err)
	}
	defer rows.Close()

	counts := make(map[telemetry.SchemaVersion]int64)
	for rows.Next() {
		var version sql.NullInt64
		var n int64
		if err := rows.Scan(&version, &n); err != nil {
			return nil, fmt.Errorf("scan schema count: %w", err)
		}
		counts[telemetry.SchemaVersion(version.Int64)] = n
	}
	return counts, rows.Err()
}

// Events returns the stored events for deviceID ordered by time. An empty
// deviceID returns all events.
func (s *SQLStore) Events(ctx context.Context, deviceID string) ([]telemetry.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.ErrStoreClosed
	}

	query := `SELECT ` + strings.Join(telemetryColumns, ", ") + ` FROM telemetry`
	var args []any
	if deviceID != "" {
		query += ` WHERE device_id = ` + s.dialect.placeholder(1)
		args = append(args, deviceID)
	}
	query += ` ORDER BY time, device_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []telemetry.Event
	for rows.Next() {
		var (
			e         telemetry.Event
			temp      sql.NullFloat64
			hum       sql.NullFloat64
			pres      sql.NullFloat64
			batt      sql.NullFloat64
			lat       sql.NullFloat64
			lon       sql.NullFloat64
			version   sql.NullInt64
			ingestion sql.NullTime
		)
		if err := rows.Scan(&e.Time, &e.DeviceID, &temp, &hum, &pres, &batt,
			&lat, &lon, &version, &ingestion); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Time = e.Time.UTC()
		e.Temperature = floatPtr(temp)
		e.Humidity = floatPtr(hum)
		e.Pressure = floatPtr(pres)
		e.BatteryLevel = floatPtr(batt)
		e.LocationLat = floatPtr(lat)
		e.LocationLon = floatPtr(lon)
		e.SchemaVersion = telemetry.SchemaVersion(version.Int64)
		if ingestion.Valid {
			e.IngestionTime = ingestion.Time.UTC()
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// QualityLogCount returns the number of rows in data_quality_log.
func (s *SQLStore) QualityLogCount(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, errors.ErrStoreClosed
	}

	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM data_quality_log`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count quality log: %w", err)
	}
	return n, nil
}
