package parquet

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/xtxerr/telemetry/internal/errors"
	"github.com/xtxerr/telemetry/internal/telemetry"
)

// Options configures the Parquet writer.
type Options struct {
	// Compression algorithm
	Compression CompressionType

	// PageBufferSize is the target page buffer size in bytes
	PageBufferSize int
}

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// String returns the configuration name of the compression type.
func (c CompressionType) String() string {
	switch c {
	case CompressionSnappy:
		return "snappy"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	case CompressionGzip:
		return "gzip"
	default:
		return "none"
	}
}

// DefaultOptions returns default Parquet options.
func DefaultOptions() Options {
	return Options{
		Compression:    CompressionSnappy,
		PageBufferSize: 1024 * 1024, // 1MB
	}
}

// ParseCompressionType parses a compression type string.
func ParseCompressionType(s string) (CompressionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "snappy", "":
		return CompressionSnappy, nil
	case "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	case "gzip":
		return CompressionGzip, nil
	case "none", "uncompressed":
		return CompressionNone, nil
	default:
		return CompressionSnappy, errors.NewInvalidValue("compression", s, "must be snappy, zstd, lz4, gzip or none")
	}
}

// getCompression returns the parquet-go compression codec.
func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// EventRow represents an event in Parquet format.
// Times are stored as microseconds since the Unix epoch, UTC.
type EventRow struct {
	TimeUs          int64    `parquet:"time_us"`
	DeviceID        string   `parquet:"device_id,dict"`
	Temperature     *float64 `parquet:"temperature,optional"`
	Humidity        *float64 `parquet:"humidity,optional"`
	Pressure        *float64 `parquet:"pressure,optional"`
	BatteryLevel    *float64 `parquet:"battery_level,optional"`
	LocationLat     *float64 `parquet:"location_lat,optional"`
	LocationLon     *float64 `parquet:"location_lon,optional"`
	SchemaVersion   int32    `parquet:"schema_version"`
	IngestionTimeUs int64    `parquet:"ingestion_time_us"`
}

// EventToRow converts an Event to an EventRow.
func EventToRow(e *telemetry.Event) EventRow {
	row := EventRow{
		TimeUs:        e.Time.UnixMicro(),
		DeviceID:      e.DeviceID,
		Temperature:   e.Temperature,
		Humidity:      e.Humidity,
		Pressure:      e.Pressure,
		BatteryLevel:  e.BatteryLevel,
		SchemaVersion: int32(e.SchemaVersion),
	}
	if e.SchemaVersion.HasLocation() {
		row.LocationLat = e.LocationLat
		row.LocationLon = e.LocationLon
	}
	if !e.IngestionTime.IsZero() {
		row.IngestionTimeUs = e.IngestionTime.UnixMicro()
	}
	return row
}

// RowToEvent converts an EventRow to an Event.
func RowToEvent(r *EventRow) telemetry.Event {
	e := telemetry.Event{
		Time:          time.UnixMicro(r.TimeUs).UTC(),
		DeviceID:      r.DeviceID,
		Temperature:   r.Temperature,
		Humidity:      r.Humidity,
		Pressure:      r.Pressure,
		BatteryLevel:  r.BatteryLevel,
		LocationLat:   r.LocationLat,
		LocationLon:   r.LocationLon,
		SchemaVersion: telemetry.SchemaVersion(r.SchemaVersion),
	}
	if r.IngestionTimeUs != 0 {
		e.IngestionTime = time.UnixMicro(r.IngestionTimeUs).UTC()
	}
	return e
}

// EventWriter writes events to a Parquet file.
type EventWriter struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	writer   *parquet.GenericWriter[EventRow]
	rowCount int64
	closed   bool
}

// NewEventWriter creates a new event Parquet writer. The file must not
// exist yet.
func NewEventWriter(path string, opts Options) (*EventWriter, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	writerOpts := []parquet.WriterOption{
		parquet.Compression(getCompression(opts.Compression)),
	}
	if opts.PageBufferSize > 0 {
		writerOpts = append(writerOpts, parquet.PageBufferSize(opts.PageBufferSize))
	}

	writer := parquet.NewGenericWriter[EventRow](f, writerOpts...)

	return &EventWriter{
		path:   path,
		file:   f,
		writer: writer,
	}, nil
}

// Write writes events to the Parquet file.
func (w *EventWriter) Write(events []telemetry.Event) error {
	if len(events) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.ErrWriterClosed
	}

	rows := make([]EventRow, len(events))
	for i := range events {
		rows[i] = EventToRow(&events[i])
	}

	n, err := w.writer.Write(rows)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}

	w.rowCount += int64(n)
	return nil
}

// Close flushes the footer and closes the file.
func (w *EventWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close writer: %w", err)
	}

	return w.file.Close()
}

// RowCount returns the number of rows written.
func (w *EventWriter) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// Path returns the file path.
func (w *EventWriter) Path() string {
	return w.path
}

// WriteFile writes events to a new Parquet file at path.
func WriteFile(path string, events []telemetry.Event, opts Options) error {
	w, err := NewEventWriter(path, opts)
	if err != nil {
		return err
	}
	if err := w.Write(events); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
