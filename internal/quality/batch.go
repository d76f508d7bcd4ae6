package quality

import (
	"fmt"

	"github.com/xtxerr/telemetry/internal/telemetry"
)

// ValidateBatch scores a batch by the share of events that fail
// ValidateEvent. Warnings do not count as failures here. The result is
// informational and does not decide what gets persisted.
func (v *Validator) ValidateBatch(events []telemetry.Event) telemetry.QualityResult {
	deviceErrors := make(map[string]int)
	failing := 0

	for _, e := range events {
		r := v.ValidateEvent(e)
		if r.Status == telemetry.StatusFail {
			failing++
			deviceErrors[e.DeviceID]++
		}
	}

	var rate float64
	if len(events) > 0 {
		rate = float64(failing) / float64(len(events))
	}

	result := telemetry.QualityResult{
		CheckType:   telemetry.CheckBatch,
		RecordCount: len(events),
		ErrorCount:  failing,
		Details: telemetry.QualityDetails{
			ErrorRate:    rate,
			DeviceErrors: deviceErrors,
			FieldProfile: Profile(events),
		},
	}

	pct := formatPercent(rate)
	switch {
	case rate > v.rules.FailErrorRate:
		result.Status = telemetry.StatusFail
		result.Message = "High error rate: " + pct
	case rate > v.rules.WarnErrorRate:
		result.Status = telemetry.StatusWarning
		result.Message = "Elevated error rate: " + pct
	default:
		result.Status = telemetry.StatusPass
		result.Message = fmt.Sprintf("Batch validation passed with %s error rate", pct)
	}

	return result
}

func formatPercent(rate float64) string {
	return fmt.Sprintf("%.2f%%", rate*100)
}
