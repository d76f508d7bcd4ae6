package timestore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/xtxerr/telemetry/internal/errors"
	"github.com/xtxerr/telemetry/internal/logging"
	"github.com/xtxerr/telemetry/internal/telemetry"
)

const qualityMeasurement = "data_quality_log"

// InfluxStore is a Store backed by an InfluxDB 2.x bucket. Each event is
// one point tagged with device_id and schema_version; writing a point with
// an existing (series, time) overwrites it.
type InfluxStore struct {
	client influxdb2.Client
	writer api.WriteAPIBlocking
	query  api.QueryAPI
	cfg    InfluxConfig

	mu     sync.RWMutex
	closed bool
}

// OpenInflux connects to InfluxDB and verifies its health.
func OpenInflux(ctx context.Context, cfg Config) (*InfluxStore, error) {
	ic := cfg.Influx
	if ic.URL == "" || ic.Org == "" || ic.Bucket == "" {
		return nil, errors.NewInvalidValue("influx", ic.URL, "url, org and bucket are required")
	}
	if ic.Measurement == "" {
		ic.Measurement = "telemetry"
	}

	client := influxdb2.NewClient(ic.URL, ic.Token)

	s := &InfluxStore{
		client: client,
		writer: client.WriteAPIBlocking(ic.Org, ic.Bucket),
		query:  client.QueryAPI(ic.Org),
		cfg:    ic,
	}

	if err := s.Health(ctx); err != nil {
		client.Close()
		return nil, err
	}

	logging.Component("timestore").Info("time store opened",
		"driver", DriverInflux, "url", ic.URL, "bucket", ic.Bucket)
	return s, nil
}

// Name returns the backend name.
func (s *InfluxStore) Name() string {
	return DriverInflux
}

// Health checks that InfluxDB reports status "pass".
func (s *InfluxStore) Health(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.ErrStoreClosed
	}

	health, err := s.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("influx health: %w", err)
	}
	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("influx health check failed: %s %s", health.Status, msg)
	}
	return nil
}

// Close closes the client.
func (s *InfluxStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.client.Close()
	return nil
}

// EventPoint converts an event to a line-protocol point. Unset metrics are
// omitted. ingestion_time is always present so no point is field-less.
func EventPoint(measurement string, e *telemetry.Event) *write.Point {
	tags := map[string]string{
		"device_id":      e.DeviceID,
		"schema_version": strconv.Itoa(int(e.SchemaVersion)),
	}

	fields := map[string]interface{}{
		"ingestion_time": e.IngestionTime.UTC().UnixNano(),
	}
	for _, m := range telemetry.Metrics {
		if v := e.Value(m); v != nil {
			fields[string(m)] = *v
		}
	}
	if e.LocationLat != nil {
		fields["location_lat"] = *e.LocationLat
	}
	if e.LocationLon != nil {
		fields["location_lon"] = *e.LocationLon
	}

	return influxdb2.NewPoint(measurement, tags, fields, e.Time.UTC())
}

// WriteEvents writes all events in one blocking request.
func (s *InfluxStore) WriteEvents(ctx context.Context, events []telemetry.Event) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.Mark(errors.ErrStoreClosed, errors.ErrStoreWrite)
	}

	points := make([]*write.Point, len(events))
	for i := range events {
		points[i] = EventPoint(s.cfg.Measurement, &events[i])
	}

	if err := s.writer.WritePoint(ctx, points...); err != nil {
		return errors.Mark(fmt.Errorf("influx write: %w", err), errors.ErrStoreWrite)
	}
	return nil
}

// LogQuality writes a quality check as a point in data_quality_log.
func (s *InfluxStore) LogQuality(ctx context.Context, r telemetry.QualityResult) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.ErrStoreClosed
	}

	details, err := json.Marshal(r.Details)
	if err != nil {
		return fmt.Errorf("encode quality details: %w", err)
	}

	p := influxdb2.NewPointWithMeasurement(qualityMeasurement).
		AddTag("check_type", string(r.CheckType)).
		AddTag("status", string(r.Status)).
		AddField("message", r.Message).
		AddField("record_count", r.RecordCount).
		AddField("error_count", r.ErrorCount).
		AddField("details", string(details)).
		SetTime(nowUTC())

	if err := s.writer.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("influx write quality log: %w", err)
	}
	return nil
}

// =============================================================================
// Summaries
// =============================================================================

// Every point carries ingestion_time, so counting that field counts events.
func (s *InfluxStore) countQuery(groupBy string) string {
	q := fmt.Sprintf(`from(bucket: %q)
		|> range(start: 0)
		|> filter(fn: (r) => r._measurement == %q and r._field == "ingestion_time")`,
		s.cfg.Bucket, s.cfg.Measurement)
	if groupBy == "" {
		return q + "\n\t\t|> group()\n\t\t|> count()"
	}
	return q + fmt.Sprintf("\n\t\t|> group(columns: [%q])\n\t\t|> count()", groupBy)
}

func (s *InfluxStore) groupedCounts(ctx context.Context, groupBy string) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.ErrStoreClosed
	}

	result, err := s.query.Query(ctx, s.countQuery(groupBy))
	if err != nil {
		return nil, fmt.Errorf("influx query: %w", err)
	}
	defer result.Close()

	counts := make(map[string]int64)
	for result.Next() {
		record := result.Record()
		n, ok := record.Value().(int64)
		if !ok {
			continue
		}
		key := ""
		if groupBy != "" {
			key, _ = record.ValueByKey(groupBy).(string)
		}
		counts[key] += n
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("influx query: %w", result.Err())
	}
	return counts, nil
}

// Count returns the number of stored events.
func (s *InfluxStore) Count(ctx context.Context) (int64, error) {
	counts, err := s.groupedCounts(ctx, "")
	if err != nil {
		return 0, err
	}
	return counts[""], nil
}

// DeviceCounts returns the number of stored events per device.
func (s *InfluxStore) DeviceCounts(ctx context.Context) (map[string]int64, error) {
	return s.groupedCounts(ctx, "device_id")
}

// SchemaVersionCounts returns the number of stored events per schema version.
func (s *InfluxStore) SchemaVersionCounts(ctx context.Context) (map[telemetry.SchemaVersion]int64, error) {
	raw, err := s.groupedCounts(ctx, "schema_version")
	if err != nil {
		return nil, err
	}
	counts := make(map[telemetry.SchemaVersion]int64, len(raw))
	for k, n := range raw {
		v, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		counts[telemetry.SchemaVersion(v)] += n
	}
	return counts, nil
}
