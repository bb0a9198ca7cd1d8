// Package errors provides structured error handling for the transcoding module.
// It defines error types, sentinel errors, and utility functions for consistent
// error handling across the engine, the job ledger and the job pipeline.
package errors

import (
	"errors"
	"fmt"
)

// Error types for classification
type ErrorType string

const (
	// ErrorTypeRuntimeUnavailable indicates the codec runtime could not be loaded
	ErrorTypeRuntimeUnavailable ErrorType = "runtime_unavailable"
	// ErrorTypeEncode indicates the encoder exited unsuccessfully
	ErrorTypeEncode ErrorType = "encode_failure"
	// ErrorTypeIO indicates a scratch, source or storage I/O failure
	ErrorTypeIO ErrorType = "io_failure"
	// ErrorTypeManifestParse indicates a playlist could not be parsed
	ErrorTypeManifestParse ErrorType = "manifest_parse_failure"
	// ErrorTypeLedgerConflict indicates a conditional ledger update matched no row
	ErrorTypeLedgerConflict ErrorType = "ledger_conflict"
	// ErrorTypeValidation indicates input validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeInternal indicates internal system errors
	ErrorTypeInternal ErrorType = "internal"
)

// Sentinel errors for common scenarios
var (
	// ErrRuntimeUnavailable indicates ffmpeg is missing or unusable
	ErrRuntimeUnavailable = errors.New("codec runtime unavailable")

	// ErrEncodeFailed indicates the transcoding operation failed
	ErrEncodeFailed = errors.New("encode failed")

	// ErrIO indicates a read or write failed
	ErrIO = errors.New("i/o failure")

	// ErrManifestParse indicates a malformed playlist
	ErrManifestParse = errors.New("manifest parse failure")

	// ErrLedgerConflict indicates the job was not in the expected state
	ErrLedgerConflict = errors.New("ledger conflict")

	// ErrJobNotFound indicates a job ID doesn't exist
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidTransition indicates an illegal status change
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInvalidInput indicates invalid request parameters
	ErrInvalidInput = errors.New("invalid input")

	// ErrQueueFull indicates the dispatch queue is full
	ErrQueueFull = errors.New("transcoding queue full")

	// ErrQueueStopped indicates the dispatch queue no longer accepts work
	ErrQueueStopped = errors.New("dispatch queue stopped")
)

// TranscodingError provides structured error information with context
type TranscodingError struct {
	Type    ErrorType              // Error classification
	Op      string                 // Operation that failed (e.g., "start_processing", "encode")
	JobID   string                 // Related job ID if applicable
	Err     error                  // Underlying error
	Details map[string]interface{} // Additional context
}

// Error implements the error interface
func (e *TranscodingError) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("%s error in %s for job %s: %v", e.Type, e.Op, e.JobID, e.Err)
	}
	return fmt.Sprintf("%s error in %s: %v", e.Type, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *TranscodingError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel that belongs to the error type as well as anything
// in the wrapped chain.
func (e *TranscodingError) Is(target error) bool {
	if s := sentinelFor(e.Type); s != nil && s == target {
		return true
	}
	return errors.Is(e.Err, target)
}

// New creates a new TranscodingError
func New(errType ErrorType, op string, err error) *TranscodingError {
	return &TranscodingError{
		Type:    errType,
		Op:      op,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// WithJob adds job context to the error
func (e *TranscodingError) WithJob(jobID string) *TranscodingError {
	e.JobID = jobID
	return e
}

// WithDetail adds a key-value detail to the error
func (e *TranscodingError) WithDetail(key string, value interface{}) *TranscodingError {
	e.Details[key] = value
	return e
}

// IsRecoverable returns true if the error might succeed on retry.
// Only I/O failures and a full queue qualify; a failed encode of the same
// input fails the same way again.
func (e *TranscodingError) IsRecoverable() bool {
	if errors.Is(e.Err, ErrQueueFull) {
		return true
	}
	return e.Type == ErrorTypeIO
}

func sentinelFor(t ErrorType) error {
	switch t {
	case ErrorTypeRuntimeUnavailable:
		return ErrRuntimeUnavailable
	case ErrorTypeEncode:
		return ErrEncodeFailed
	case ErrorTypeIO:
		return ErrIO
	case ErrorTypeManifestParse:
		return ErrManifestParse
	case ErrorTypeLedgerConflict:
		return ErrLedgerConflict
	case ErrorTypeValidation:
		return ErrInvalidInput
	}
	return nil
}

// Error creation helpers

// RuntimeError creates a codec-runtime error
func RuntimeError(op string, err error) *TranscodingError {
	return New(ErrorTypeRuntimeUnavailable, op, err)
}

// EncodeError creates an encoder error
func EncodeError(op string, err error) *TranscodingError {
	return New(ErrorTypeEncode, op, err)
}

// IOError creates an I/O error
func IOError(op string, err error) *TranscodingError {
	return New(ErrorTypeIO, op, err)
}

// ManifestError creates a playlist parse error
func ManifestError(op string, err error) *TranscodingError {
	return New(ErrorTypeManifestParse, op, err)
}

// ConflictError creates a ledger conflict error
func ConflictError(op string, err error) *TranscodingError {
	return New(ErrorTypeLedgerConflict, op, err)
}

// ValidationError creates a validation error
func ValidationError(op string, err error) *TranscodingError {
	return New(ErrorTypeValidation, op, err)
}

// InternalError creates an internal system error
func InternalError(op string, err error) *TranscodingError {
	return New(ErrorTypeInternal, op, err)
}

// Wrap wraps an error with operation context if it's not already a TranscodingError
func Wrap(err error, errType ErrorType, op string) error {
	if err == nil {
		return nil
	}

	var tErr *TranscodingError
	if errors.As(err, &tErr) {
		return err
	}

	return New(errType, op, err)
}

// GetType extracts the error type from an error
func GetType(err error) ErrorType {
	var tErr *TranscodingError
	if errors.As(err, &tErr) {
		return tErr.Type
	}
	return ErrorTypeInternal
}

// GetOperation extracts the operation from an error
func GetOperation(err error) string {
	var tErr *TranscodingError
	if errors.As(err, &tErr) {
		return tErr.Op
	}
	return "unknown"
}

// GetJobID extracts the job ID from an error
func GetJobID(err error) string {
	var tErr *TranscodingError
	if errors.As(err, &tErr) {
		return tErr.JobID
	}
	return ""
}

// GetDetails extracts error details
func GetDetails(err error) map[string]interface{} {
	var tErr *TranscodingError
	if errors.As(err, &tErr) {
		return tErr.Details
	}
	return nil
}

// SafeMessage returns a short description of err that can be stored on a job
// record and shown to its owner. It never includes paths or wrapped causes.
func SafeMessage(err error) string {
	if err == nil {
		return ""
	}
	switch GetType(err) {
	case ErrorTypeRuntimeUnavailable:
		return "transcoder is unavailable"
	case ErrorTypeEncode:
		return "video could not be transcoded"
	case ErrorTypeIO:
		if GetOperation(err) == "fetch_source" {
			return "source video could not be retrieved"
		}
		if GetOperation(err) == "store_artifact" {
			return "output could not be stored"
		}
		return "file operation failed during transcoding"
	case ErrorTypeManifestParse:
		return "transcoder produced an invalid playlist"
	case ErrorTypeLedgerConflict:
		return "job is not in a processable state"
	case ErrorTypeValidation:
		return "invalid job request"
	}
	return "internal error during transcoding"
}
