// Package quality scores telemetry events and batches against configured
// quality rules.
package quality

import (
	"fmt"
	"strings"
	"time"

	"github.com/xtxerr/telemetry/internal/telemetry"
)

// Validator applies Rules to events and batches. It holds no mutable
// state and is safe for concurrent use.
type Validator struct {
	rules Rules
	now   func() time.Time
}

// Option configures a Validator.
type Option func(*Validator)

// WithClock overrides the clock used for the future and age checks.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		v.now = now
	}
}

// New creates a Validator for rules.
func New(rules Rules, opts ...Option) *Validator {
	v := &Validator{rules: rules, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Rules returns the validator's rules.
func (v *Validator) Rules() Rules {
	return v.rules
}

// ValidateEvent checks one event. Every rule is evaluated; the message
// lists all violations.
func (v *Validator) ValidateEvent(e telemetry.Event) telemetry.QualityResult {
	var errs, warns []string

	if e.DeviceID == "" {
		errs = append(errs, "Missing device_id")
	}

	if e.Time.IsZero() {
		errs = append(errs, "Missing timestamp")
	} else {
		now := v.now()
		if e.Time.After(now.Add(v.rules.FutureTolerance)) {
			errs = append(errs, "Timestamp is too far in the future")
		} else if e.Time.Before(now.Add(-v.rules.MaxAge)) {
			warns = append(warns, fmt.Sprintf("Timestamp is older than %d days", v.rules.maxAgeDays()))
		}
	}

	for _, m := range telemetry.Metrics {
		val := e.Value(m)
		if val == nil {
			continue
		}
		rng, ok := v.rules.Ranges[m]
		if !ok {
			continue
		}
		if !rng.Contains(*val) {
			errs = append(errs, fmt.Sprintf("%s %g out of valid range %s", m.Label(), *val, rng))
		}
	}

	if e.LocationLat != nil && !v.rules.Latitude.Contains(*e.LocationLat) {
		errs = append(errs, fmt.Sprintf("Invalid latitude %g", *e.LocationLat))
	}
	if e.LocationLon != nil && !v.rules.Longitude.Contains(*e.LocationLon) {
		errs = append(errs, fmt.Sprintf("Invalid longitude %g", *e.LocationLon))
	}

	result := telemetry.QualityResult{
		CheckType:   telemetry.CheckEvent,
		RecordCount: 1,
		ErrorCount:  len(errs),
		Details: telemetry.QualityDetails{
			Errors:   errs,
			Warnings: warns,
			DeviceID: e.DeviceID,
		},
	}

	switch {
	case len(errs) > 0:
		result.Status = telemetry.StatusFail
		result.Message = strings.Join(errs, "; ")
	case len(warns) > 0:
		result.Status = telemetry.StatusWarning
		result.Message = strings.Join(warns, "; ")
	default:
		result.Status = telemetry.StatusPass
		result.Message = "All validations passed"
	}

	return result
}
