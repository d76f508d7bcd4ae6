// Package errors provides the error taxonomy for the telemetry pipeline.
//
// This file provides:
// - Sentinel errors for all error conditions
// - Error category checking functions
// - Error wrapping utilities
package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Record-level errors. These never abort a batch.
	ErrParse      = errors.New("parse error")
	ErrValidation = errors.New("validation failed")

	// Sink errors. Contained at batch level.
	ErrSinkWrite  = errors.New("sink write failed")
	ErrStoreWrite = errors.New("time store write failed")
	ErrLakeWrite  = errors.New("lake write failed")

	// Dead-letter errors. Always propagated.
	ErrDeadLetter = errors.New("dead letter write failed")

	// Source errors. May terminate a run.
	ErrSourceRead = errors.New("batch source read failed")

	// Lifecycle and configuration errors.
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingField  = errors.New("missing required field")
	ErrUnknownDriver = errors.New("unknown time store driver")
	ErrStoreClosed   = errors.New("time store is closed")
	ErrWriterClosed  = errors.New("writer is closed")
	ErrInternal      = errors.New("internal error")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// Join is a convenience wrapper for errors.Join
var Join = errors.Join

// New is a convenience wrapper for errors.New
var New = errors.New

// IsRecordError returns true if err is contained at the record level.
func IsRecordError(err error) bool {
	return errors.Is(err, ErrParse) ||
		errors.Is(err, ErrValidation)
}

// IsSinkError returns true if err came from one of the persistence sinks.
func IsSinkError(err error) bool {
	return errors.Is(err, ErrSinkWrite) ||
		errors.Is(err, ErrStoreWrite) ||
		errors.Is(err, ErrLakeWrite)
}

// IsFatal returns true if err must stop a run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrDeadLetter) ||
		errors.Is(err, ErrSourceRead)
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Mark attaches a sentinel to err so that errors.Is(result, sentinel) holds
// while the original error stays reachable.
func Mark(err, sentinel error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewInvalidValue creates an invalid configuration value error.
func NewInvalidValue(field string, value interface{}, reason string) error {
	return fmt.Errorf("invalid %s '%v': %s: %w", field, value, reason, ErrInvalidConfig)
}
