package parquet

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xtxerr/telemetry/internal/errors"
	"github.com/xtxerr/telemetry/internal/telemetry"
)

var processedAt = time.Date(2024, 3, 5, 8, 30, 15, 0, time.UTC)

func newTestLake(t *testing.T, base string) *Lake {
	t.Helper()
	lake := NewLake(base, DefaultOptions())
	lake.now = func() time.Time { return processedAt }
	seq := 0
	lake.newID = func() string {
		seq++
		return fmt.Sprintf("%08d", seq)
	}
	return lake
}

func testEvent(device string, ts time.Time) telemetry.Event {
	return telemetry.Event{
		Time:          ts,
		DeviceID:      device,
		Temperature:   telemetry.Float(21.5),
		Humidity:      telemetry.Float(40),
		SchemaVersion: telemetry.SchemaV1,
		IngestionTime: processedAt,
	}
}

func TestEventWriteAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.parquet")

	v2 := testEvent("d2", time.Date(2024, 3, 2, 10, 0, 0, 123456000, time.UTC))
	v2.SchemaVersion = telemetry.SchemaV2
	v2.LocationLat = telemetry.Float(52.52)
	v2.Pressure = nil
	v2.BatteryLevel = telemetry.Float(99)

	events := []telemetry.Event{testEvent("d1", time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)), v2}

	if err := WriteFile(path, events, DefaultOptions()); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}

	if !got[1].Time.Equal(v2.Time) {
		t.Errorf("time = %v, want %v", got[1].Time, v2.Time)
	}
	if got[1].SchemaVersion != telemetry.SchemaV2 {
		t.Errorf("schema = %v", got[1].SchemaVersion)
	}
	if got[1].LocationLat == nil || *got[1].LocationLat != 52.52 {
		t.Errorf("lat = %v", got[1].LocationLat)
	}
	if got[1].LocationLon != nil || got[1].Pressure != nil {
		t.Errorf("unset fields must read back as nil")
	}
	if got[0].Temperature == nil || *got[0].Temperature != 21.5 {
		t.Errorf("temperature = %v", got[0].Temperature)
	}
	if !got[0].IngestionTime.Equal(processedAt) {
		t.Errorf("ingestion time = %v", got[0].IngestionTime)
	}
}

func TestEventToRowDropsLocationForV1(t *testing.T) {
	e := testEvent("d1", processedAt)
	e.LocationLat = telemetry.Float(1)

	row := EventToRow(&e)
	if row.LocationLat != nil {
		t.Error("v1 rows must not carry location")
	}
}

func TestWriteToClosedWriter(t *testing.T) {
	w, err := NewEventWriter(filepath.Join(t.TempDir(), "x.parquet"), DefaultOptions())
	if err != nil {
		t.Fatalf("NewEventWriter: %v", err)
	}
	w.Close()

	if err := w.Write([]telemetry.Event{testEvent("d1", processedAt)}); !errors.Is(err, errors.ErrWriterClosed) {
		t.Errorf("expected ErrWriterClosed, got %v", err)
	}
}

func TestCompressionTypes(t *testing.T) {
	for _, ct := range []CompressionType{CompressionNone, CompressionSnappy, CompressionZstd, CompressionLZ4, CompressionGzip} {
		t.Run(ct.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "events.parquet")
			events := make([]telemetry.Event, 100)
			for i := range events {
				events[i] = testEvent(fmt.Sprintf("d%d", i%7), processedAt.Add(time.Duration(i)*time.Second))
			}

			if err := WriteFile(path, events, Options{Compression: ct}); err != nil {
				t.Fatalf("WriteFile: %v", err)
			}
			got, err := ReadFile(path)
			if err != nil {
				t.Fatalf("ReadFile: %v", err)
			}
			if len(got) != 100 {
				t.Errorf("read %d events, want 100", len(got))
			}
		})
	}
}

func TestParseCompressionType(t *testing.T) {
	tests := []struct {
		in      string
		want    CompressionType
		wantErr bool
	}{
		{"snappy", CompressionSnappy, false},
		{"", CompressionSnappy, false},
		{"ZSTD", CompressionZstd, false},
		{"lz4", CompressionLZ4, false},
		{"gzip", CompressionGzip, false},
		{"none", CompressionNone, false},
		{"brotli", CompressionSnappy, true},
	}

	for _, tt := range tests {
		got, err := ParseCompressionType(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCompressionType(%q) err = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseCompressionType(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLakePartitionsByEventDate(t *testing.T) {
	base := t.TempDir()
	lake := newTestLake(t, base)

	late := testEvent("d1", time.Date(2024, 3, 2, 23, 59, 0, 0, time.UTC))

	paths, err := lake.WriteBatch(context.Background(), []telemetry.Event{late})
	if err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if len(paths) != 1 {
		t.Fatalf("expected 1 file, got %d", len(paths))
	}

	want := filepath.Join(base, "year=2024", "month=03", "day=02", "telemetry_20240305_083015_00000001.parquet")
	if paths[0] != want {
		t.Errorf("path = %s\nwant   %s", paths[0], want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("file missing: %v", err)
	}
}

func TestLakeSplitsDates(t *testing.T) {
	lake := newTestLake(t, t.TempDir())

	events := []telemetry.Event{
		testEvent("a", time.Date(2024, 3, 3, 0, 0, 1, 0, time.UTC)),
		testEvent("b", time.Date(2024, 3, 2, 23, 59, 59, 0, time.UTC)),
		testEvent("c", time.Date(2024, 3, 3, 12, 0, 0, 0, time.UTC)),
	}

	paths, err := lake.WriteBatch(context.Background(), events)
	if err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("expected 2 files, got %d", len(paths))
	}
	if !strings.Contains(paths[0], "day=02") || !strings.Contains(paths[1], "day=03") {
		t.Errorf("unexpected paths %v", paths)
	}

	march3, err := lake.ReadPartition(telemetry.Date{Year: 2024, Month: time.March, Day: 3})
	if err != nil {
		t.Fatalf("ReadPartition: %v", err)
	}
	if len(march3) != 2 || march3[0].DeviceID != "a" || march3[1].DeviceID != "c" {
		t.Errorf("unexpected partition contents %+v", march3)
	}

	stats := lake.Stats()
	if stats.FilesWritten != 2 || stats.RowsWritten != 3 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestLakeRepeatedWritesAddFiles(t *testing.T) {
	lake := newTestLake(t, t.TempDir())
	ctx := context.Background()
	day := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		batch := []telemetry.Event{testEvent(fmt.Sprintf("d%d", i), day.Add(time.Duration(i)*time.Minute))}
		if _, err := lake.WriteBatch(ctx, batch); err != nil {
			t.Fatalf("WriteBatch %d: %v", i, err)
		}
	}

	parts, err := lake.Partitions()
	if err != nil {
		t.Fatalf("Partitions: %v", err)
	}
	if len(parts) != 1 {
		t.Fatalf("expected 1 partition, got %d", len(parts))
	}
	if len(parts[0].Files) != 3 || parts[0].Rows != 3 {
		t.Errorf("partition = %d files, %d rows; want 3/3", len(parts[0].Files), parts[0].Rows)
	}
	if parts[0].Path != "year=2024/month=03/day=02" {
		t.Errorf("partition path = %s", parts[0].Path)
	}

	all, err := lake.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("ReadAll = %d events, want 3", len(all))
	}
}

func TestLakeUnreachable(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "lake")
	if err := os.WriteFile(blocker, []byte("not a directory"), 0644); err != nil {
		t.Fatal(err)
	}
	lake := newTestLake(t, blocker)

	_, err := lake.WriteBatch(context.Background(), []telemetry.Event{testEvent("d1", processedAt)})
	if !errors.Is(err, errors.ErrLakeWrite) {
		t.Errorf("expected ErrLakeWrite, got %v", err)
	}
	if lake.Stats().Errors != 1 {
		t.Errorf("Errors = %d", lake.Stats().Errors)
	}
}

func TestLakeCancelled(t *testing.T) {
	lake := newTestLake(t, t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	paths, err := lake.WriteBatch(ctx, []telemetry.Event{testEvent("d1", processedAt)})
	if !errors.Is(err, context.Canceled) || !errors.Is(err, errors.ErrLakeWrite) {
		t.Errorf("expected cancelled lake write, got %v", err)
	}
	if len(paths) != 0 {
		t.Errorf("no files expected, got %v", paths)
	}
}

func TestLakeEmptyAndMissing(t *testing.T) {
	lake := newTestLake(t, filepath.Join(t.TempDir(), "never-written"))

	paths, err := lake.WriteBatch(context.Background(), nil)
	if err != nil || paths != nil {
		t.Errorf("WriteBatch(nil) = %v, %v", paths, err)
	}

	parts, err := lake.Partitions()
	if err != nil || len(parts) != 0 {
		t.Errorf("Partitions on missing lake = %v, %v", parts, err)
	}
}

func TestLakeSkipsTemporaryFiles(t *testing.T) {
	base := t.TempDir()
	lake := newTestLake(t, base)
	ctx := context.Background()
	day := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)

	if _, err := lake.WriteBatch(ctx, []telemetry.Event{testEvent("d1", day)}); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}

	partial := filepath.Join(base, "year=2024", "month=03", "day=02", "telemetry_20240305_083015_x.parquet.tmp")
	if err := os.WriteFile(partial, []byte("PAR1"), 0644); err != nil {
		t.Fatal(err)
	}

	events, err := lake.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("expected 1 event, got %d", len(events))
	}
}
