package telemetry

import (
	"fmt"
	"sort"
	"time"
)

// SchemaVersion tags the payload shape an event was parsed from.
type SchemaVersion int

const (
	// SchemaV1 carries the core metrics only.
	SchemaV1 SchemaVersion = 1
	// SchemaV2 adds an optional location object.
	SchemaV2 SchemaVersion = 2
)

// String returns a human-readable representation of the SchemaVersion.
func (v SchemaVersion) String() string {
	switch v {
	case SchemaV1:
		return "v1"
	case SchemaV2:
		return "v2"
	default:
		return fmt.Sprintf("v?(%d)", int(v))
	}
}

// HasLocation reports whether events of this version may carry coordinates.
func (v SchemaVersion) HasLocation() bool {
	return v == SchemaV2
}

// Event is a normalized telemetry reading.
// Optional numeric fields are nil when the raw record did not carry them.
type Event struct {
	// Identity
	Time     time.Time // Measurement time, UTC
	DeviceID string

	// Core metrics
	Temperature  *float64
	Humidity     *float64
	Pressure     *float64
	BatteryLevel *float64

	// Location, only ever set for SchemaV2
	LocationLat *float64
	LocationLon *float64

	SchemaVersion SchemaVersion
	IngestionTime time.Time
}

// Key identifies an event in the time-indexed store.
type Key struct {
	Time     time.Time
	DeviceID string
}

// Key returns the (time, device_id) store key.
func (e *Event) Key() Key {
	return Key{Time: e.Time, DeviceID: e.DeviceID}
}

// String returns the key as "device@time".
func (k Key) String() string {
	return k.DeviceID + "@" + k.Time.UTC().Format(time.RFC3339Nano)
}

// PartitionDate returns the UTC calendar date of the event time.
func (e *Event) PartitionDate() Date {
	t := e.Time.UTC()
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

// Date is a UTC calendar date.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// Path returns the Hive-style partition path year=YYYY/month=MM/day=DD.
func (d Date) Path() string {
	return fmt.Sprintf("year=%04d/month=%02d/day=%02d", d.Year, int(d.Month), d.Day)
}

// String returns the date as YYYY-MM-DD.
func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Before reports whether d is earlier than o.
func (d Date) Before(o Date) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

// Float returns a pointer to v. Convenience for building events.
func Float(v float64) *float64 {
	return &v
}

// Metric names a numeric event field.
type Metric string

const (
	MetricTemperature  Metric = "temperature"
	MetricHumidity     Metric = "humidity"
	MetricPressure     Metric = "pressure"
	MetricBatteryLevel Metric = "battery_level"
)

// Metrics lists the range-checked metrics in column order.
var Metrics = []Metric{MetricTemperature, MetricHumidity, MetricPressure, MetricBatteryLevel}

// Label returns the display name used in quality messages.
func (m Metric) Label() string {
	switch m {
	case MetricTemperature:
		return "Temperature"
	case MetricHumidity:
		return "Humidity"
	case MetricPressure:
		return "Pressure"
	case MetricBatteryLevel:
		return "Battery level"
	default:
		return string(m)
	}
}

// Value returns the event's value for m, or nil if unset.
func (e *Event) Value(m Metric) *float64 {
	switch m {
	case MetricTemperature:
		return e.Temperature
	case MetricHumidity:
		return e.Humidity
	case MetricPressure:
		return e.Pressure
	case MetricBatteryLevel:
		return e.BatteryLevel
	default:
		return nil
	}
}

// GroupByDate splits events by PartitionDate, preserving input order within
// each group. Dates are returned in ascending order.
func GroupByDate(events []Event) ([]Date, map[Date][]Event) {
	groups := make(map[Date][]Event)
	var dates []Date
	for _, e := range events {
		d := e.PartitionDate()
		if _, ok := groups[d]; !ok {
			dates = append(dates, d)
		}
		groups[d] = append(groups[d], e)
	}
	sort.Slice(dates, func(i, j int) bool {
		return dates[i].Before(dates[j])
	})
	return dates, groups
}
