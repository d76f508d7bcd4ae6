package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xtxerr/telemetry/internal/telemetry"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if cfg.Pipeline.BatchSize != 100 {
		t.Errorf("batch size = %d", cfg.Pipeline.BatchSize)
	}
	if cfg.Lake.Compression != "snappy" {
		t.Errorf("compression = %q", cfg.Lake.Compression)
	}
	if cfg.TimeStore.Driver != "duckdb" {
		t.Errorf("driver = %q", cfg.TimeStore.Driver)
	}
	if cfg.DeadLetter.SyncMode != "sync" {
		t.Errorf("sync mode = %q", cfg.DeadLetter.SyncMode)
	}
	if got := cfg.Quality.Ranges[telemetry.MetricPressure]; got.Min != 800 || got.Max != 1200 {
		t.Errorf("pressure range = %v", got)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"batch size", func(c *Config) { c.Pipeline.BatchSize = 0 }, "batch_size"},
		{"max batches", func(c *Config) { c.Pipeline.MaxBatches = -1 }, "max_batches"},
		{"compression", func(c *Config) { c.Lake.Compression = "brotli" }, "compression"},
		{"lake path", func(c *Config) { c.Lake.Path = "" }, "lake: path is required"},
		{"retention", func(c *Config) { c.Lake.Retention = -time.Hour }, "retention"},
		{"sync mode", func(c *Config) { c.DeadLetter.SyncMode = "sometimes" }, "sync_mode"},
		{"driver", func(c *Config) { c.TimeStore.Driver = "oracle" }, "driver"},
		{"postgres dsn", func(c *Config) {
			c.TimeStore.Driver = "postgres"
			c.TimeStore.DSN = ""
		}, "dsn is required"},
		{"influx bucket", func(c *Config) {
			c.TimeStore.Driver = "influx"
			c.TimeStore.Influx.Bucket = ""
		}, "influx.org and influx.bucket"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "format"},
		{"quality", func(c *Config) { c.Quality.WarnErrorRate = 0.5 }, "quality"},
		{"server", func(c *Config) {
			c.Server.Enabled = true
			c.Server.Listen = ""
		}, "listen is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidateJoinsErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pipeline.BatchSize = -1
	cfg.Lake.Path = ""
	cfg.DeadLetter.Path = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"batch_size", "lake: path", "dead_letter: path"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `
log:
  level: debug
  format: json
pipeline:
  batch_size: 250
  max_batches: 10
quality:
  ranges:
    temperature: {min: -40, max: 85}
  max_age: 168h
time_store:
  driver: duckdb
  dsn: ""
lake:
  path: /srv/lake
  compression: zstd
  retention: 720h
dead_letter:
  path: /srv/dead.jsonl
  sync_mode: fsync
server:
  enabled: true
  listen: 0.0.0.0:9090
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("log = %+v", cfg.Log)
	}
	if cfg.Pipeline.BatchSize != 250 || cfg.Pipeline.MaxBatches != 10 {
		t.Errorf("pipeline = %+v", cfg.Pipeline)
	}
	if cfg.Lake.Path != "/srv/lake" || cfg.Lake.Compression != "zstd" || cfg.Lake.Retention != 30*24*time.Hour {
		t.Errorf("lake = %+v", cfg.Lake)
	}
	if cfg.DeadLetter.SyncMode != "fsync" {
		t.Errorf("dead letter = %+v", cfg.DeadLetter)
	}
	if !cfg.Server.Enabled || cfg.Server.Listen != "0.0.0.0:9090" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.TimeStore.DSN != "" {
		t.Errorf("dsn = %q, want in-memory", cfg.TimeStore.DSN)
	}

	if got := cfg.Quality.Ranges[telemetry.MetricTemperature]; got.Min != -40 || got.Max != 85 {
		t.Errorf("temperature range = %v", got)
	}
	// Ranges not named in the file keep their defaults.
	if got := cfg.Quality.Ranges[telemetry.MetricHumidity]; got.Min != 0 || got.Max != 100 {
		t.Errorf("humidity range = %v", got)
	}
	if cfg.Quality.MaxAge != 7*24*time.Hour {
		t.Errorf("max age = %v", cfg.Quality.MaxAge)
	}
	if cfg.Quality.FailErrorRate != 0.10 {
		t.Errorf("fail rate = %v", cfg.Quality.FailErrorRate)
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	bad := filepath.Join(dir, "bad.yaml")
	os.WriteFile(bad, []byte("pipeline: [unclosed"), 0o644)
	if _, err := Load(bad); err == nil || !strings.Contains(err.Error(), "parse config file") {
		t.Errorf("expected parse error, got %v", err)
	}

	invalid := filepath.Join(dir, "invalid.yaml")
	os.WriteFile(invalid, []byte("pipeline:\n  batch_size: 0\n"), 0o644)
	if _, err := Load(invalid); err == nil || !strings.Contains(err.Error(), "validate config") {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvLakePath:        "/mnt/lake",
		EnvBatchSize:       " 42 ",
		EnvCompression:     "gzip",
		EnvTimeStoreDriver: "influx",
		EnvInfluxURL:       "http://influx:8086",
		EnvInfluxToken:     "secret",
		EnvInfluxOrg:       "acme",
		EnvInfluxBucket:    "sensors",
		EnvDeadLetterPath:  "/mnt/dead.jsonl",
		EnvLogLevel:        "warn",
		EnvTimeStoreDSN:    "",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}

	if cfg.Lake.Path != "/mnt/lake" || cfg.Lake.Compression != "gzip" {
		t.Errorf("lake = %+v", cfg.Lake)
	}
	if cfg.Pipeline.BatchSize != 42 {
		t.Errorf("batch size = %d", cfg.Pipeline.BatchSize)
	}
	inf := cfg.TimeStore.Influx
	if cfg.TimeStore.Driver != "influx" || inf.URL != "http://influx:8086" || inf.Token != "secret" ||
		inf.Org != "acme" || inf.Bucket != "sensors" {
		t.Errorf("time store = %+v", cfg.TimeStore)
	}
	if cfg.TimeStore.DSN != DefaultConfig().TimeStore.DSN {
		t.Errorf("empty env value must not override, dsn = %q", cfg.TimeStore.DSN)
	}
	if cfg.DeadLetter.Path != "/mnt/dead.jsonl" || cfg.Log.Level != "warn" {
		t.Errorf("dead letter %q log %q", cfg.DeadLetter.Path, cfg.Log.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("config from env should be valid: %v", err)
	}
}

func TestApplyEnvBadBatchSize(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.ApplyEnv(func(k string) (string, bool) {
		if k == EnvBatchSize {
			return "many", true
		}
		return "", false
	})
	if err == nil || !strings.Contains(err.Error(), EnvBatchSize) {
		t.Errorf("expected BATCH_SIZE error, got %v", err)
	}
}

func TestLoadFromEnvWithDotEnv(t *testing.T) {
	dir := t.TempDir()
	dotEnv := filepath.Join(dir, ".env")
	if err := os.WriteFile(dotEnv, []byte("DATA_LAKE_PATH="+filepath.Join(dir, "lake")+"\nBATCH_SIZE=7\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	// Variables from the real environment win over .env.
	t.Setenv(EnvBatchSize, "9")
	t.Setenv(EnvLakePath, "")
	os.Unsetenv(EnvLakePath)

	cfg, err := LoadFromEnv("", dotEnv)
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.Lake.Path != filepath.Join(dir, "lake") {
		t.Errorf("lake path = %q", cfg.Lake.Path)
	}
	if cfg.Pipeline.BatchSize != 9 {
		t.Errorf("batch size = %d, want the environment value", cfg.Pipeline.BatchSize)
	}
}

func TestLoadDotEnvMissing(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Errorf("missing .env should be ignored: %v", err)
	}
}
