package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xtxerr/telemetry/internal/deadletter"
	"github.com/xtxerr/telemetry/internal/ingestion"
	"github.com/xtxerr/telemetry/internal/quality"
	"github.com/xtxerr/telemetry/internal/storage/dualsink"
	"github.com/xtxerr/telemetry/internal/storage/parquet"
	"github.com/xtxerr/telemetry/internal/storage/query"
	"github.com/xtxerr/telemetry/internal/telemetry"
)

type fakeStore struct {
	healthErr error
	countErr  error
}

func (s *fakeStore) Name() string { return "fake" }

func (s *fakeStore) Health(ctx context.Context) error { return s.healthErr }

func (s *fakeStore) Count(ctx context.Context) (int64, error) {
	return 5, s.countErr
}
func (s *fakeStore) DeviceCounts(ctx context.Context) (map[string]int64, error) {
	return map[string]int64{"a": 3, "b": 2}, nil
}
func (s *fakeStore) SchemaVersionCounts(ctx context.Context) (map[telemetry.SchemaVersion]int64, error) {
	return map[telemetry.SchemaVersion]int64{telemetry.SchemaV1: 4, telemetry.SchemaV2: 1}, nil
}

type fakeCounters struct{}

func (fakeCounters) Counters() ingestion.Counters {
	return ingestion.Counters{BatchesSeen: 2, TotalAccepted: 7, TotalRejected: 3}
}

type fakeDeadLetters struct {
	entries []telemetry.DeadLetterEntry
}

func (d *fakeDeadLetters) ListAll() ([]telemetry.DeadLetterEntry, error) { return d.entries, nil }
func (d *fakeDeadLetters) Stats() deadletter.Stats {
	return deadletter.Stats{EntriesWritten: int64(len(d.entries))}
}

type fakeLake struct{}

func (fakeLake) Base() string { return "/lake" }
func (fakeLake) Partitions() ([]parquet.PartitionInfo, error) {
	return []parquet.PartitionInfo{
		{Date: telemetry.Date{Year: 2024, Month: time.March, Day: 2}, Rows: 3, Bytes: 100},
		{Date: telemetry.Date{Year: 2024, Month: time.March, Day: 3}, Rows: 1, Bytes: 50},
	}, nil
}
func (fakeLake) Stats() parquet.LakeStats { return parquet.LakeStats{FilesWritten: 2, RowsWritten: 4} }

type fakeLakeQuery struct {
	from, to time.Time
}

func (q *fakeLakeQuery) DeviceSummaries(ctx context.Context, from, to time.Time) ([]query.DeviceSummary, error) {
	q.from, q.to = from, to
	return []query.DeviceSummary{{DeviceID: "a", Events: 3}}, nil
}
func (q *fakeLakeQuery) DailyCounts(ctx context.Context) ([]query.DailyCount, error) {
	return nil, nil
}

type fakeSinks struct{}

func (fakeSinks) Stats() dualsink.Stats {
	return dualsink.Stats{Batches: 2, LakeFailures: 1, PartialWrites: 1}
}

func newTestServer(cfg *Config) *Server {
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.NewRegistry()
	}
	return New(cfg)
}

func get(t *testing.T, s *Server, path string) (int, map[string]any) {
	t.Helper()

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s: decode body: %v", path, err)
		}
	}
	return rec.Code, body
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		store  Store
		code   int
		status string
	}{
		{"no store", nil, http.StatusOK, "ok"},
		{"healthy", &fakeStore{}, http.StatusOK, "ok"},
		{"unhealthy", &fakeStore{healthErr: errors.New("down")}, http.StatusServiceUnavailable, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := get(t, newTestServer(&Config{Store: tt.store}), "/health")
			if code != tt.code {
				t.Errorf("code = %d, want %d", code, tt.code)
			}
			if body["status"] != tt.status {
				t.Errorf("status = %v, want %s", body["status"], tt.status)
			}
		})
	}
}

func TestStats(t *testing.T) {
	s := newTestServer(&Config{
		Counters:    fakeCounters{},
		Sinks:       fakeSinks{},
		DeadLetters: &fakeDeadLetters{},
		Lake:        fakeLake{},
	})

	code, body := get(t, s, "/stats")
	if code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}

	pipeline, _ := body["pipeline"].(map[string]any)
	if pipeline["batches_seen"] != float64(2) || pipeline["total_accepted"] != float64(7) {
		t.Errorf("pipeline = %v", pipeline)
	}
	sinks, _ := body["sinks"].(map[string]any)
	if sinks["partial_writes"] != float64(1) {
		t.Errorf("sinks = %v", sinks)
	}
	lake, _ := body["lake"].(map[string]any)
	if lake["rows_written"] != float64(4) {
		t.Errorf("lake = %v", lake)
	}
	if _, ok := body["dead_letter"]; !ok {
		t.Error("missing dead_letter section")
	}
}

func TestStatsWithoutComponents(t *testing.T) {
	code, body := get(t, newTestServer(&Config{}), "/stats")
	if code != http.StatusOK || len(body) != 0 {
		t.Errorf("code = %d, body = %v", code, body)
	}
}

func TestStoreSummary(t *testing.T) {
	code, body := get(t, newTestServer(&Config{Store: &fakeStore{}}), "/store/summary")
	if code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
	if body["events"] != float64(5) {
		t.Errorf("events = %v", body["events"])
	}
	versions, _ := body["schema_versions"].(map[string]any)
	if len(versions) != 2 {
		t.Errorf("schema_versions = %v", versions)
	}

	code, body = get(t, newTestServer(&Config{Store: &fakeStore{countErr: errors.New("boom")}}), "/store/summary")
	if code != http.StatusInternalServerError {
		t.Errorf("failing store: code = %d", code)
	}
	if msg, _ := body["error"].(string); strings.Contains(msg, "boom") {
		t.Errorf("internal error leaked: %q", msg)
	}

	code, _ = get(t, newTestServer(&Config{}), "/store/summary")
	if code != http.StatusServiceUnavailable {
		t.Errorf("no store: code = %d", code)
	}
}

func TestDeadLetters(t *testing.T) {
	ts := time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC)
	dl := &fakeDeadLetters{entries: []telemetry.DeadLetterEntry{
		{ReceivedAt: ts, RawRecord: "one", ErrorMessage: "e1"},
		{ReceivedAt: ts, RawRecord: "two", ErrorMessage: "e2"},
		{ReceivedAt: ts, RawRecord: "three", ErrorMessage: "e3"},
	}}
	s := newTestServer(&Config{DeadLetters: dl})

	tests := []struct {
		path    string
		code    int
		entries int
		last    string
	}{
		{"/deadletters", http.StatusOK, 3, "three"},
		{"/deadletters?limit=2", http.StatusOK, 2, "three"},
		{"/deadletters?limit=10", http.StatusOK, 3, "three"},
		{"/deadletters?limit=x", http.StatusBadRequest, 0, ""},
		{"/deadletters?limit=-1", http.StatusBadRequest, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			code, body := get(t, s, tt.path)
			if code != tt.code {
				t.Fatalf("code = %d, want %d", code, tt.code)
			}
			if tt.code != http.StatusOK {
				return
			}
			if body["total"] != float64(3) {
				t.Errorf("total = %v", body["total"])
			}
			entries, _ := body["entries"].([]any)
			if len(entries) != tt.entries {
				t.Fatalf("entries = %d, want %d", len(entries), tt.entries)
			}
			last, _ := entries[len(entries)-1].(map[string]any)
			if last["event"] != tt.last {
				t.Errorf("last entry = %v", last)
			}
		})
	}
}

func TestPartitions(t *testing.T) {
	code, body := get(t, newTestServer(&Config{Lake: fakeLake{}}), "/lake/partitions")
	if code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
	if body["base"] != "/lake" || body["rows"] != float64(4) || body["bytes"] != float64(150) {
		t.Errorf("body = %v", body)
	}
	parts, _ := body["partitions"].([]any)
	if len(parts) != 2 {
		t.Fatalf("partitions = %v", parts)
	}
	first, _ := parts[0].(map[string]any)
	if first["date"] != "2024-03-02" {
		t.Errorf("first partition date = %v", first["date"])
	}
}

func TestLakeDevices(t *testing.T) {
	q := &fakeLakeQuery{}
	s := newTestServer(&Config{LakeQuery: q})

	code, body := get(t, s, "/lake/devices?from=2024-03-02T00:00:00Z&to=2024-03-03T00:00:00Z")
	if code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
	if !q.from.Equal(time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)) || !q.to.Equal(time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("window = %v .. %v", q.from, q.to)
	}
	devices, _ := body["devices"].([]any)
	if len(devices) != 1 {
		t.Errorf("devices = %v", devices)
	}

	for _, path := range []string{
		"/lake/devices?from=yesterday",
		"/lake/devices?from=2024-03-03T00:00:00Z&to=2024-03-02T00:00:00Z",
	} {
		if code, _ := get(t, s, path); code != http.StatusBadRequest {
			t.Errorf("%s: code = %d", path, code)
		}
	}
}

func TestLakeDaysEmpty(t *testing.T) {
	code, body := get(t, newTestServer(&Config{LakeQuery: &fakeLakeQuery{}}), "/lake/days")
	if code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
	days, ok := body["days"].([]any)
	if !ok || len(days) != 0 {
		t.Errorf("days = %v", body["days"])
	}

	if code, _ := get(t, newTestServer(&Config{}), "/lake/days"); code != http.StatusServiceUnavailable {
		t.Errorf("no query service: code = %d", code)
	}
}

func TestQualityRules(t *testing.T) {
	code, body := get(t, newTestServer(&Config{Rules: quality.New(quality.DefaultRules())}), "/quality/rules")
	if code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}

	ranges, _ := body["ranges"].(map[string]any)
	temp, _ := ranges["temperature"].(map[string]any)
	if temp["min"] != float64(-50) || temp["max"] != float64(100) {
		t.Errorf("temperature range = %v", ranges["temperature"])
	}
	if body["future_tolerance"] != "5m0s" || body["max_age"] != "720h0m0s" {
		t.Errorf("durations = %v, %v", body["future_tolerance"], body["max_age"])
	}
	if body["fail_error_rate"] != 0.1 || body["warn_error_rate"] != 0.05 {
		t.Errorf("thresholds = %v, %v", body["fail_error_rate"], body["warn_error_rate"])
	}

	if code, _ := get(t, newTestServer(&Config{}), "/quality/rules"); code != http.StatusServiceUnavailable {
		t.Errorf("no validator: code = %d", code)
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "telemetry_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Add(3)

	rec := httptest.NewRecorder()
	newTestServer(&Config{Gatherer: reg}).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "telemetry_test_total 3") {
		t.Errorf("metrics body missing counter:\n%s", rec.Body.String())
	}
}

func TestRunAndShutdown(t *testing.T) {
	s := newTestServer(&Config{Listen: "127.0.0.1:0"})

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run() }()

	deadline := time.Now().Add(5 * time.Second)
	for s.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("server did not start")
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp, err := http.Get("http://" + s.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Errorf("Run: %v", err)
	}
}
