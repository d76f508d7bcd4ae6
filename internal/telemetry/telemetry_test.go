package telemetry

import (
	"testing"
	"time"
)

func TestEventPartitionDate(t *testing.T) {
	tests := []struct {
		name string
		time time.Time
		want string
	}{
		{"utc late evening", time.Date(2024, 3, 2, 23, 59, 0, 0, time.UTC), "year=2024/month=03/day=02"},
		{"offset crosses midnight", time.Date(2024, 3, 3, 1, 30, 0, 0, time.FixedZone("CET", 2*3600)), "year=2024/month=03/day=02"},
		{"new year", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), "year=2025/month=01/day=01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Event{Time: tt.time}
			if got := e.PartitionDate().Path(); got != tt.want {
				t.Errorf("PartitionDate().Path() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestEventKey(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	e := Event{Time: ts, DeviceID: "device_001"}

	k := e.Key()
	if k.DeviceID != "device_001" || !k.Time.Equal(ts) {
		t.Errorf("unexpected key %+v", k)
	}
	if k.String() != "device_001@2024-05-01T12:00:00Z" {
		t.Errorf("unexpected key string %s", k.String())
	}
}

func TestEventValue(t *testing.T) {
	e := Event{Temperature: Float(21.5), BatteryLevel: Float(80)}

	if v := e.Value(MetricTemperature); v == nil || *v != 21.5 {
		t.Errorf("temperature = %v", v)
	}
	if v := e.Value(MetricHumidity); v != nil {
		t.Errorf("humidity should be nil, got %v", *v)
	}
	if v := e.Value(MetricBatteryLevel); v == nil || *v != 80 {
		t.Errorf("battery = %v", v)
	}
}

func TestSchemaVersion(t *testing.T) {
	if SchemaV1.HasLocation() {
		t.Error("v1 must not carry location")
	}
	if !SchemaV2.HasLocation() {
		t.Error("v2 may carry location")
	}
	if SchemaV2.String() != "v2" {
		t.Errorf("expected v2, got %s", SchemaV2.String())
	}
}

func TestGroupByDate(t *testing.T) {
	day := func(d, h int) time.Time { return time.Date(2024, 3, d, h, 0, 0, 0, time.UTC) }
	events := []Event{
		{DeviceID: "a", Time: day(3, 1)},
		{DeviceID: "b", Time: day(2, 23)},
		{DeviceID: "c", Time: day(3, 5)},
		{DeviceID: "d", Time: day(1, 0)},
	}

	dates, groups := GroupByDate(events)

	if len(dates) != 3 {
		t.Fatalf("expected 3 dates, got %d", len(dates))
	}
	want := []string{"2024-03-01", "2024-03-02", "2024-03-03"}
	for i, d := range dates {
		if d.String() != want[i] {
			t.Errorf("dates[%d] = %s, want %s", i, d, want[i])
		}
	}

	march3 := groups[Date{Year: 2024, Month: time.March, Day: 3}]
	if len(march3) != 2 || march3[0].DeviceID != "a" || march3[1].DeviceID != "c" {
		t.Errorf("unexpected group for 2024-03-03: %+v", march3)
	}
}
