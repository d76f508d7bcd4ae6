// Package testing provides fixtures and goroutine helpers shared by the
// pipeline's package tests.
package testing

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// Reading is a raw telemetry record under construction. It marshals to the
// JSON object the parser accepts.
type Reading map[string]any

// V1 returns a complete first-generation reading with in-range values.
func V1(deviceID string, ts time.Time) Reading {
	return Reading{
		"timestamp":     ts.UTC().Format(time.RFC3339Nano),
		"device_id":     deviceID,
		"temperature":   22.5,
		"humidity":      45.0,
		"pressure":      1013.25,
		"battery_level": 87.0,
	}
}

// V2 returns a V1 reading plus a location.
func V2(deviceID string, ts time.Time) Reading {
	r := V1(deviceID, ts)
	r["location"] = map[string]any{"lat": 52.52, "lon": 13.405}
	return r
}

// With returns a copy of r with key set to v.
func (r Reading) With(key string, v any) Reading {
	c := r.clone()
	c[key] = v
	return c
}

// Without returns a copy of r lacking key.
func (r Reading) Without(key string) Reading {
	c := r.clone()
	delete(c, key)
	return c
}

func (r Reading) clone() Reading {
	c := make(Reading, len(r))
	for k, v := range r {
		c[k] = v
	}
	return c
}

// JSON encodes r. It panics on values json cannot encode.
func (r Reading) JSON() string {
	b, err := json.Marshal(map[string]any(r))
	if err != nil {
		panic(err)
	}
	return string(b)
}

// Lines encodes each reading.
func Lines(readings ...Reading) []string {
	out := make([]string, len(readings))
	for i, r := range readings {
		out[i] = r.JSON()
	}
	return out
}

// Fleet returns n valid readings from devices sensor-000 .. sensor-(n-1),
// all stamped ts plus i seconds.
func Fleet(n int, ts time.Time) []Reading {
	out := make([]Reading, n)
	for i := range out {
		id := fmt.Sprintf("sensor-%03d", i)
		if i%2 == 0 {
			out[i] = V1(id, ts.Add(time.Duration(i)*time.Second))
		} else {
			out[i] = V2(id, ts.Add(time.Duration(i)*time.Second))
		}
	}
	return out
}

// Malformed holds raw records the parser must reject.
var Malformed = []string{
	`{not json`,
	`[]`,
	`{"device_id": "sensor-001"}`,
	`{"timestamp": "2024-03-02T10:00:00Z"}`,
	`{"timestamp": "yesterday", "device_id": "sensor-001"}`,
	`{"timestamp": "2024-03-02T10:00:00Z", "device_id": "sensor-001", "temperature": "warm"}`,
}

// WriteJSONL writes lines to a file in a fresh temp dir and returns its path.
func WriteJSONL(t *testing.T, lines []string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "events.jsonl")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
