package telemetry

import "time"

// Status is the outcome of a quality check.
type Status string

const (
	StatusPass    Status = "PASS"
	StatusWarning Status = "WARNING"
	StatusFail    Status = "FAIL"
)

// CheckType tags what a QualityResult was computed over.
type CheckType string

const (
	CheckEvent CheckType = "event"
	CheckBatch CheckType = "batch"
)

// QualityResult is the outcome of an event or batch quality check.
type QualityResult struct {
	CheckType   CheckType      `json:"check_type"`
	Status      Status         `json:"status"`
	Message     string         `json:"message"`
	RecordCount int            `json:"record_count"`
	ErrorCount  int            `json:"error_count"`
	Details     QualityDetails `json:"details"`
}

// Passed reports whether the check passed without warnings.
func (r *QualityResult) Passed() bool {
	return r.Status == StatusPass
}

// QualityDetails holds the per-check breakdown. Event checks fill Errors,
// Warnings and DeviceID; batch checks fill ErrorRate, DeviceErrors and
// FieldProfile.
type QualityDetails struct {
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	DeviceID string   `json:"device_id,omitempty"`

	ErrorRate    float64                 `json:"error_rate"`
	DeviceErrors map[string]int          `json:"device_errors,omitempty"`
	FieldProfile map[Metric]FieldProfile `json:"field_profile,omitempty"`
}

// FieldProfile summarizes one numeric field over a batch.
type FieldProfile struct {
	Count            int     `json:"non_null_count"`
	CompletenessRate float64 `json:"completeness_rate"`
	Min              float64 `json:"min"`
	Max              float64 `json:"max"`
	Mean             float64 `json:"mean"`
	P50              float64 `json:"p50"`
	P90              float64 `json:"p90"`
	P99              float64 `json:"p99"`
}

// DeadLetterEntry is one rejected or unparseable raw record.
type DeadLetterEntry struct {
	ReceivedAt   time.Time `json:"timestamp"`
	RawRecord    string    `json:"event"`
	ErrorMessage string    `json:"error"`
}
