package quality

import (
	"math"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/xtxerr/telemetry/internal/telemetry"
)

// sketchAccuracy is the relative accuracy of profile quantiles.
const sketchAccuracy = 0.01

// fieldAccumulator keeps running statistics for one metric across a batch.
type fieldAccumulator struct {
	count int
	sum   float64
	min   float64
	max   float64

	// nil if the sketch could not be created
	sketch *ddsketch.DDSketch
}

func newFieldAccumulator() *fieldAccumulator {
	acc := &fieldAccumulator{
		min: math.MaxFloat64,
		max: -math.MaxFloat64,
	}
	if sketch, err := ddsketch.NewDefaultDDSketch(sketchAccuracy); err == nil {
		acc.sketch = sketch
	}
	return acc
}

func (a *fieldAccumulator) add(v float64) {
	a.count++
	a.sum += v
	if v < a.min {
		a.min = v
	}
	if v > a.max {
		a.max = v
	}
	if a.sketch != nil {
		// DDSketch rejects NaN and infinities; they still count above.
		_ = a.sketch.Add(v)
	}
}

func (a *fieldAccumulator) result(total int) telemetry.FieldProfile {
	p := telemetry.FieldProfile{Count: a.count}
	if total > 0 {
		p.CompletenessRate = float64(a.count) / float64(total)
	}
	if a.count == 0 {
		return p
	}

	p.Min = a.min
	p.Max = a.max
	p.Mean = a.sum / float64(a.count)

	if a.sketch != nil && !a.sketch.IsEmpty() {
		p.P50, _ = a.sketch.GetValueAtQuantile(0.50)
		p.P90, _ = a.sketch.GetValueAtQuantile(0.90)
		p.P99, _ = a.sketch.GetValueAtQuantile(0.99)
	}
	return p
}

// Profile computes completeness and value distribution for every metric
// over events. It returns nil for an empty batch.
func Profile(events []telemetry.Event) map[telemetry.Metric]telemetry.FieldProfile {
	if len(events) == 0 {
		return nil
	}

	accs := make(map[telemetry.Metric]*fieldAccumulator, len(telemetry.Metrics))
	for _, m := range telemetry.Metrics {
		accs[m] = newFieldAccumulator()
	}

	for i := range events {
		for _, m := range telemetry.Metrics {
			if v := events[i].Value(m); v != nil {
				accs[m].add(*v)
			}
		}
	}

	profile := make(map[telemetry.Metric]telemetry.FieldProfile, len(accs))
	for m, acc := range accs {
		profile[m] = acc.result(len(events))
	}
	return profile
}
