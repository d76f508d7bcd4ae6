package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override file configuration.
const (
	EnvLakePath        = "DATA_LAKE_PATH"
	EnvBatchSize       = "BATCH_SIZE"
	EnvCompression     = "COMPRESSION"
	EnvTimeStoreDriver = "TIMESTORE_DRIVER"
	EnvTimeStoreDSN    = "TIMESTORE_DSN"
	EnvInfluxURL       = "INFLUX_URL"
	EnvInfluxToken     = "INFLUX_TOKEN"
	EnvInfluxOrg       = "INFLUX_ORG"
	EnvInfluxBucket    = "INFLUX_BUCKET"
	EnvDeadLetterPath  = "DEAD_LETTER_PATH"
	EnvLogLevel        = "LOG_LEVEL"
)

// LoadDotEnv loads variables from a .env file into the process environment.
// Variables already set are kept. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides configuration from environment variables. lookup is
// usually os.LookupEnv. Empty values are ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	overrides := []struct {
		key string
		dst *string
	}{
		{EnvLakePath, &c.Lake.Path},
		{EnvCompression, &c.Lake.Compression},
		{EnvTimeStoreDriver, &c.TimeStore.Driver},
		{EnvTimeStoreDSN, &c.TimeStore.DSN},
		{EnvInfluxURL, &c.TimeStore.Influx.URL},
		{EnvInfluxToken, &c.TimeStore.Influx.Token},
		{EnvInfluxOrg, &c.TimeStore.Influx.Org},
		{EnvInfluxBucket, &c.TimeStore.Influx.Bucket},
		{EnvDeadLetterPath, &c.DeadLetter.Path},
		{EnvLogLevel, &c.Log.Level},
	}
	for _, s := range overrides {
		if v, ok := get(s.key); ok {
			*s.dst = v
		}
	}

	if v, ok := get(EnvBatchSize); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %q is not an integer", EnvBatchSize, v)
		}
		c.Pipeline.BatchSize = n
	}

	return nil
}

// LoadFromEnv builds the effective configuration: defaults, then the YAML
// file at path if non-empty, then .env, then the environment.
func LoadFromEnv(path, dotEnv string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if err := LoadDotEnv(dotEnv); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}
