// Package telemetry defines the core data types used throughout the pipeline.
//
// Key types:
//   - Event: A normalized sensor reading (schema v1 or v2)
//   - QualityResult: Outcome of an event or batch quality check
//   - DeadLetterEntry: A rejected raw record and its cause
package telemetry
