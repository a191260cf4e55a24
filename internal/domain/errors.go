package domain

import (
	"errors"
	"fmt"
)

// Base error types (sentinel errors).
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnsupported     = errors.New("unsupported operation")
	ErrConfiguration   = errors.New("configuration error")
	ErrCRSUndetermined = errors.New("source CRS undetermined")
	ErrTransient       = errors.New("transient I/O failure")
	ErrRangeFailure    = errors.New("range failure")
)

// Specific errors.
var (
	ErrLayerNotFound       = fmt.Errorf("layer: %w", ErrNotFound)
	ErrBandOutOfRange      = fmt.Errorf("band: %w", ErrInvalidInput)
	ErrInvalidRange        = fmt.Errorf("range: %w", ErrInvalidInput)
	ErrUnsupportedFormat   = fmt.Errorf("format: %w", ErrUnsupported)
	ErrUnsupportedGeometry = fmt.Errorf("geometry type: %w", ErrUnsupported)
	ErrFeatureUnreadable   = errors.New("feature unreadable")
	ErrBlockUnreadable     = errors.New("block unreadable")
	ErrMalformedResponse   = errors.New("malformed service response")
)

// ValidationError represents a detailed validation error.
type ValidationError struct {
	Field      string      // Field that failed validation
	Value      interface{} // The invalid value
	Constraint string      // The constraint that was violated
	Message    string      // Human-readable message
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s (value: %v, constraint: %s)",
		e.Field, e.Message, e.Value, e.Constraint)
}

// Unwrap returns the underlying error type.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// ConfigError is raised while a source is constructed from a descriptor
// and options that cannot describe a readable layer.
type ConfigError struct {
	Field   string // Option or descriptor field
	Message string // Error message
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error for %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return ErrConfiguration
}

// CRSUndeterminedError is raised at reader start when neither an override
// nor an embedded CRS is available and reprojection was requested.
type CRSUndeterminedError struct {
	Source string // Source URI
}

// Error implements the error interface.
func (e *CRSUndeterminedError) Error() string {
	return fmt.Sprintf("cannot determine CRS of %s: set in_epsg or in_proj, or skip_reproject", e.Source)
}

// Unwrap returns the underlying error.
func (e *CRSUndeterminedError) Unwrap() error {
	return ErrCRSUndetermined
}

// TransientIOError marks a failure that may succeed when retried.
type TransientIOError struct {
	Operation string // Operation that failed
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *TransientIOError) Error() string {
	return fmt.Sprintf("transient error during %s: %v", e.Operation, e.Err)
}

// Unwrap returns both the sentinel and the cause.
func (e *TransientIOError) Unwrap() []error {
	return []error{ErrTransient, e.Err}
}

// RangeFailure aborts a single range. Other ranges of the same source are
// unaffected and the range may be retried from its start.
type RangeFailure struct {
	Source string // Source URI
	Range  Range  // Failed range
	Err    error  // Underlying error
}

// Error implements the error interface.
func (e *RangeFailure) Error() string {
	return fmt.Sprintf("range %s of %s failed: %v", e.Range, e.Source, e.Err)
}

// Unwrap returns both the sentinel and the cause.
func (e *RangeFailure) Unwrap() []error {
	return []error{ErrRangeFailure, e.Err}
}

// StorageError represents an error during storage operations.
type StorageError struct {
	Operation string // Operation that failed (download, stat, etc.)
	Key       string // Object key
	Err       error  // Underlying error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("storage error during %s for %s: %v",
			e.Operation, e.Key, e.Err)
	}
	return fmt.Sprintf("storage error during %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsRangeFailure reports whether err aborts only the current range.
func IsRangeFailure(err error) bool {
	return errors.Is(err, ErrRangeFailure)
}

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
