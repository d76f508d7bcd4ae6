package quality

import (
	"fmt"
	"time"

	"github.com/xtxerr/telemetry/internal/telemetry"
)

// Range is an inclusive [Min, Max] interval.
type Range struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// Contains reports whether v lies within the range, bounds included.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

func (r Range) String() string {
	return fmt.Sprintf("[%g, %g]", r.Min, r.Max)
}

// Rules configures a Validator. Build one from configuration and pass it to
// New; there is no package-level rule state.
type Rules struct {
	// Ranges holds the valid interval for each range-checked metric.
	// Metrics without an entry are not range checked.
	Ranges map[telemetry.Metric]Range `yaml:"ranges"`

	Latitude  Range `yaml:"latitude"`
	Longitude Range `yaml:"longitude"`

	// FutureTolerance is how far ahead of now an event time may be.
	FutureTolerance time.Duration `yaml:"future_tolerance"`
	// MaxAge is the age beyond which an event draws a warning.
	MaxAge time.Duration `yaml:"max_age"`

	// Batch thresholds, compared with a strict greater-than.
	FailErrorRate float64 `yaml:"fail_error_rate"`
	WarnErrorRate float64 `yaml:"warn_error_rate"`
}

// DefaultRules returns the standard sensor ranges and thresholds.
func DefaultRules() Rules {
	return Rules{
		Ranges: map[telemetry.Metric]Range{
			telemetry.MetricTemperature:  {Min: -50, Max: 100},
			telemetry.MetricHumidity:     {Min: 0, Max: 100},
			telemetry.MetricPressure:     {Min: 800, Max: 1200},
			telemetry.MetricBatteryLevel: {Min: 0, Max: 100},
		},
		Latitude:        Range{Min: -90, Max: 90},
		Longitude:       Range{Min: -180, Max: 180},
		FutureTolerance: 5 * time.Minute,
		MaxAge:          30 * 24 * time.Hour,
		FailErrorRate:   0.10,
		WarnErrorRate:   0.05,
	}
}

// Validate checks that the rules are internally consistent.
func (r Rules) Validate() error {
	for m, rng := range r.Ranges {
		if rng.Min > rng.Max {
			return fmt.Errorf("range for %s: min %g > max %g", m, rng.Min, rng.Max)
		}
	}
	if r.Latitude.Min > r.Latitude.Max || r.Longitude.Min > r.Longitude.Max {
		return fmt.Errorf("coordinate range min greater than max")
	}
	if r.FutureTolerance < 0 {
		return fmt.Errorf("future tolerance must not be negative")
	}
	if r.MaxAge <= 0 {
		return fmt.Errorf("max age must be positive")
	}
	if r.WarnErrorRate < 0 || r.FailErrorRate > 1 || r.WarnErrorRate > r.FailErrorRate {
		return fmt.Errorf("error rate thresholds must satisfy 0 <= warn <= fail <= 1")
	}
	return nil
}

func (r Rules) maxAgeDays() int {
	return int(r.MaxAge / (24 * time.Hour))
}
