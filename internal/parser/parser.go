// Package parser turns raw telemetry records into normalized events.
//
// A raw record is one JSON object. The presence of a "location" key selects
// schema v2; its absence selects v1. Timestamps are ISO-8601 with a trailing
// "Z", an explicit offset or no zone at all.
package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/xtxerr/telemetry/internal/errors"
	"github.com/xtxerr/telemetry/internal/telemetry"
)

// ParseError reports why a raw record could not be turned into an event.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return e.Reason
}

// Unwrap lets errors.Is(err, errors.ErrParse) hold for every ParseError.
func (e *ParseError) Unwrap() error {
	return errors.ErrParse
}

func parseErrorf(format string, args ...any) *ParseError {
	return &ParseError{Reason: fmt.Sprintf(format, args...)}
}

// Parser converts raw records. The zero value is not usable; use New.
type Parser struct {
	now func() time.Time
}

// Option configures a Parser.
type Option func(*Parser)

// WithClock overrides the clock used to stamp ingestion_time.
func WithClock(now func() time.Time) Option {
	return func(p *Parser) {
		p.now = now
	}
}

// New creates a Parser.
func New(opts ...Option) *Parser {
	p := &Parser{now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var defaultParser = New()

// Parse parses raw with the default parser.
func Parse(raw string) (telemetry.Event, error) {
	return defaultParser.Parse(raw)
}

// rawLocation mirrors the optional v2 location object.
type rawLocation struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

// Parse converts one raw record. On failure the returned event is the zero
// value and the error is a *ParseError.
func (p *Parser) Parse(raw string) (telemetry.Event, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return telemetry.Event{}, parseErrorf("invalid JSON: %v", err)
	}
	if fields == nil {
		return telemetry.Event{}, parseErrorf("invalid JSON: payload is not an object")
	}

	tsText, err := requiredString(fields, "timestamp")
	if err != nil {
		return telemetry.Event{}, err
	}
	deviceID, err := requiredString(fields, "device_id")
	if err != nil {
		return telemetry.Event{}, err
	}

	ts, err := ParseTimestamp(tsText)
	if err != nil {
		return telemetry.Event{}, parseErrorf("invalid timestamp %q: %v", tsText, err)
	}

	event := telemetry.Event{
		Time:          ts,
		DeviceID:      deviceID,
		SchemaVersion: telemetry.SchemaV1,
	}

	targets := []struct {
		name string
		dst  **float64
	}{
		{"temperature", &event.Temperature},
		{"humidity", &event.Humidity},
		{"pressure", &event.Pressure},
		{"battery_level", &event.BatteryLevel},
	}
	for _, t := range targets {
		v, err := optionalNumber(fields, t.name)
		if err != nil {
			return telemetry.Event{}, err
		}
		*t.dst = v
	}

	if loc, ok := fields["location"]; ok {
		event.SchemaVersion = telemetry.SchemaV2
		if !isEmpty(loc) {
			var rl rawLocation
			if err := json.Unmarshal(loc, &rl); err != nil {
				return telemetry.Event{}, parseErrorf("invalid location: %v", err)
			}
			event.LocationLat = rl.Lat
			event.LocationLon = rl.Lon
		}
	}

	event.IngestionTime = p.now().UTC()
	if it, ok := fields["ingestion_time"]; ok && !isNull(it) {
		var s string
		if err := json.Unmarshal(it, &s); err != nil {
			return telemetry.Event{}, parseErrorf("ingestion_time must be a string")
		}
		itTime, err := ParseTimestamp(s)
		if err != nil {
			return telemetry.Event{}, parseErrorf("invalid ingestion_time %q: %v", s, err)
		}
		event.IngestionTime = itTime
	}

	return event, nil
}

func requiredString(fields map[string]json.RawMessage, name string) (string, error) {
	v, ok := fields[name]
	if !ok || isNull(v) {
		return "", &ParseError{Reason: errors.NewMissingField(name).Error()}
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", parseErrorf("%s must be a string", name)
	}
	return s, nil
}

func optionalNumber(fields map[string]json.RawMessage, name string) (*float64, error) {
	v, ok := fields[name]
	if !ok || isNull(v) {
		return nil, nil
	}
	var f float64
	if err := json.Unmarshal(v, &f); err != nil {
		return nil, parseErrorf("%s must be a number", name)
	}
	return &f, nil
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

// isEmpty reports whether v is null or an empty value: false, 0, "", [] or {}.
func isEmpty(v json.RawMessage) bool {
	var x any
	if err := json.Unmarshal(v, &x); err != nil {
		return false
	}
	switch x := x.(type) {
	case nil:
		return true
	case bool:
		return !x
	case float64:
		return x == 0
	case string:
		return x == ""
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	}
	return false
}

// =============================================================================
// Timestamps
// =============================================================================

// Layouts carrying zone information. Go accepts an optional fraction after
// the seconds field even when the layout has none.
var zonedLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05-0700",
	"2006-01-02 15:04:05-0700",
}

// Layouts without zone information, interpreted as UTC.
var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// zoneSuffix matches a trailing Z, UTC/GMT designator or numeric offset.
var zoneSuffix = regexp.MustCompile(`(?i)\s*(z|utc|gmt|[+-]\d{1,2}(:?\d{2})?)$`)

// ParseTimestamp parses an ISO-8601 timestamp and returns it in UTC.
// A trailing "Z" means UTC. If parsing with zone information fails the
// zone suffix is stripped and the remainder is parsed as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	if t, ok := parseNaive(s); ok {
		return t, nil
	}

	// Only strip a suffix that follows a time-of-day, so the day field of
	// a date-only value is never mistaken for an offset.
	if i := strings.IndexAny(s, "T "); i > 0 {
		head, clock := s[:i+1], s[i+1:]
		if stripped := zoneSuffix.ReplaceAllString(clock, ""); stripped != clock {
			if t, ok := parseNaive(head + stripped); ok {
				return t, nil
			}
		}
	}

	return time.Time{}, fmt.Errorf("not an ISO-8601 timestamp")
}

func parseNaive(s string) (time.Time, bool) {
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
