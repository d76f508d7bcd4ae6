package query

import (
	"context"
	"testing"
	"time"

	"github.com/xtxerr/telemetry/internal/storage/parquet"
	"github.com/xtxerr/telemetry/internal/telemetry"
)

func f(v float64) *float64 { return &v }

func seedLake(t *testing.T) string {
	t.Helper()

	base := t.TempDir()
	lake := parquet.NewLake(base, parquet.DefaultOptions())

	day1 := time.Date(2024, 3, 2, 23, 0, 0, 0, time.UTC)
	day2 := time.Date(2024, 3, 3, 1, 0, 0, 0, time.UTC)

	events := []telemetry.Event{
		{Time: day1, DeviceID: "a", Temperature: f(20), BatteryLevel: f(80)},
		{Time: day1.Add(time.Minute), DeviceID: "a", Temperature: f(22), BatteryLevel: f(70)},
		{Time: day1, DeviceID: "b", Humidity: f(40)},
		{Time: day2, DeviceID: "a", Temperature: f(24), BatteryLevel: f(60)},
	}
	for i := range events {
		events[i].SchemaVersion = telemetry.SchemaV1
		events[i].IngestionTime = day2
	}

	if _, err := lake.WriteBatch(context.Background(), events); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	return base
}

func TestService_ExecuteSQL(t *testing.T) {
	svc, err := New(t.TempDir(), Options{MemoryLimit: "256MB"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Close()

	results, err := svc.ExecuteSQL(context.Background(), "SELECT 1 AS value")
	if err != nil {
		t.Fatalf("ExecuteSQL: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}

	stats := svc.Stats()
	if stats.QueriesExecuted != 1 || stats.RowsReturned != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestService_EmptyLake(t *testing.T) {
	svc, err := New(t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Close()

	ctx := context.Background()

	summaries, err := svc.DeviceSummaries(ctx, time.Time{}, time.Time{})
	if err != nil || len(summaries) != 0 {
		t.Errorf("DeviceSummaries on empty lake = %v, %v", summaries, err)
	}
	days, err := svc.DailyCounts(ctx)
	if err != nil || len(days) != 0 {
		t.Errorf("DailyCounts on empty lake = %v, %v", days, err)
	}
}

func TestService_DailyCounts(t *testing.T) {
	svc, err := New(seedLake(t), Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Close()

	days, err := svc.DailyCounts(context.Background())
	if err != nil {
		t.Fatalf("DailyCounts: %v", err)
	}

	want := []DailyCount{
		{Day: "2024-03-02", Events: 3, Devices: 2},
		{Day: "2024-03-03", Events: 1, Devices: 1},
	}
	if len(days) != len(want) {
		t.Fatalf("got %d days, want %d", len(days), len(want))
	}
	for i, w := range want {
		got := days[i]
		if got.Day != w.Day || got.Events != w.Events || got.Devices != w.Devices {
			t.Errorf("day %d = %+v, want %+v", i, got, w)
		}
	}
}

func TestService_DeviceSummaries(t *testing.T) {
	svc, err := New(seedLake(t), Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Close()

	ctx := context.Background()

	all, err := svc.DeviceSummaries(ctx, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("DeviceSummaries: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d devices", len(all))
	}

	a := all[0]
	if a.DeviceID != "a" || a.Events != 3 {
		t.Errorf("a = %+v", a)
	}
	if a.AvgTemperature == nil || *a.AvgTemperature != 22 {
		t.Errorf("avg temperature = %v", a.AvgTemperature)
	}
	if a.MinBattery == nil || *a.MinBattery != 60 {
		t.Errorf("min battery = %v", a.MinBattery)
	}
	if !a.First.Equal(time.Date(2024, 3, 2, 23, 0, 0, 0, time.UTC)) {
		t.Errorf("first = %v", a.First)
	}

	b := all[1]
	if b.AvgTemperature != nil {
		t.Errorf("b has no temperature readings, got %v", *b.AvgTemperature)
	}

	// Restrict to the first day.
	day1, err := svc.DeviceSummaries(ctx,
		time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("DeviceSummaries range: %v", err)
	}
	if len(day1) != 2 || day1[0].Events != 2 {
		t.Errorf("day1 = %+v", day1)
	}
}

func TestService_LakeView(t *testing.T) {
	svc, err := New(seedLake(t), Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Close()

	rows, err := svc.ExecuteSQL(context.Background(), "SELECT count(*) AS n FROM "+LakeView)
	if err != nil {
		t.Fatalf("ExecuteSQL: %v", err)
	}
	if len(rows) != 1 || rows[0]["n"] != int64(4) {
		t.Errorf("rows = %v", rows)
	}
}

func TestService_BadSQL(t *testing.T) {
	svc, err := New(t.TempDir(), Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Close()

	if _, err := svc.ExecuteSQL(context.Background(), "SELEKT nonsense"); err == nil {
		t.Error("expected error")
	}
	if svc.Stats().Errors != 1 {
		t.Errorf("errors = %d", svc.Stats().Errors)
	}
}
