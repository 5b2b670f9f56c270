// Package errors provides the typed error taxonomy shared by the event
// pipeline, the upload scheduler and the remote data sync manager.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents the type of error that occurred
type ErrorCode string

const (
	ErrCodeDisabled          ErrorCode = "DISABLED"
	ErrCodeOversize          ErrorCode = "OVERSIZE"
	ErrCodeTransientNetwork  ErrorCode = "TRANSIENT_NETWORK"
	ErrCodePermanentRequest  ErrorCode = "PERMANENT_REQUEST"
	ErrCodeDuplicateFetch    ErrorCode = "DUPLICATE_FETCH_SUPPRESSED"
	ErrCodeStorageFailure    ErrorCode = "STORAGE_FAILURE"
	ErrCodeValidationFailure ErrorCode = "VALIDATION_FAILURE"
)

// Operation names the call during which an error occurred.
type Operation string

const (
	OpRecordEvent Operation = "record_event"
	OpUpload      Operation = "upload"
	OpRefresh     Operation = "refresh"
	OpSubscribe   Operation = "subscribe"
	OpStore       Operation = "store"
	OpLoad        Operation = "load"
	OpDelete      Operation = "delete"
	OpTransport   Operation = "transport"
	OpConfig      Operation = "config"
	OpClose       Operation = "close"
)

// Sentinels for errors.Is checks. Every SyncError built by the constructors
// below wraps the matching sentinel.
var (
	ErrDisabled                 = errors.New("event collection is disabled")
	ErrOversize                 = errors.New("event exceeds maximum size")
	ErrDuplicateFetchSuppressed = errors.New("fetch already in flight")
	ErrClosed                   = errors.New("component is closed")
)

// SyncError is the structured error returned across package boundaries.
type SyncError struct {
	// Operation during which the error occurred
	Op Operation

	// Component that generated the error (e.g., "store", "transport")
	Component string

	// Underlying error
	Err error

	// Whether the operation will be retried by the owning engine
	Retryable bool

	// Error code for the error type
	Code ErrorCode

	// Metadata for additional context
	Metadata map[string]interface{}
}

func (e *SyncError) Error() string {
	var msg string
	if e.Component != "" {
		msg = fmt.Sprintf("%s operation failed in %s component", e.Op, e.Component)
	} else {
		msg = fmt.Sprintf("%s operation failed", e.Op)
	}

	if e.Code != "" {
		msg += fmt.Sprintf(" [%s]", e.Code)
	}

	return msg + fmt.Sprintf(": %v", e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

func (e *SyncError) withMetadata(key string, value interface{}) *SyncError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// NewDisabledError reports that collection is turned off.
func NewDisabledError(op Operation) *SyncError {
	return &SyncError{
		Code:      ErrCodeDisabled,
		Op:        op,
		Component: "analytics",
		Err:       ErrDisabled,
	}
}

// NewOversizeError reports an event whose serialized size exceeds limit.
func NewOversizeError(op Operation, size, limit int) *SyncError {
	e := &SyncError{
		Code:      ErrCodeOversize,
		Op:        op,
		Component: "analytics",
		Err:       fmt.Errorf("%w: %d bytes (limit %d)", ErrOversize, size, limit),
	}
	return e.withMetadata("size_bytes", size).withMetadata("limit_bytes", limit)
}

// NewNetworkError creates a transient transport failure. Timeouts land here too.
func NewNetworkError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeTransientNetwork,
		Op:        op,
		Component: "transport",
		Err:       cause,
		Retryable: true,
	}
}

// NewServerError creates a transient failure for a 5xx response.
func NewServerError(op Operation, status int) *SyncError {
	e := &SyncError{
		Code:      ErrCodeTransientNetwork,
		Op:        op,
		Component: "transport",
		Err:       fmt.Errorf("server responded with status %d", status),
		Retryable: true,
	}
	return e.withMetadata("status_code", status)
}

// NewPermanentRequestError creates a terminal failure for a 4xx response.
func NewPermanentRequestError(op Operation, status int) *SyncError {
	e := &SyncError{
		Code:      ErrCodePermanentRequest,
		Op:        op,
		Component: "transport",
		Err:       fmt.Errorf("request rejected with status %d", status),
	}
	return e.withMetadata("status_code", status)
}

// NewDuplicateFetchSuppressed marks a refresh that joined an in-flight fetch.
// It is informational and never returned to refresh callers.
func NewDuplicateFetchSuppressed(op Operation) *SyncError {
	return &SyncError{
		Code:      ErrCodeDuplicateFetch,
		Op:        op,
		Component: "remote-data",
		Err:       ErrDuplicateFetchSuppressed,
	}
}

// NewStorageError creates a new storage-related SyncError
func NewStorageError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeStorageFailure,
		Op:        op,
		Component: "store",
		Err:       cause,
		Retryable: true,
	}
}

// NewValidationError creates a new validation-related SyncError
func NewValidationError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeValidationFailure,
		Op:        op,
		Err:       cause,
		Retryable: false,
	}
}

// New creates a new SyncError
func New(op Operation, err error) *SyncError {
	return &SyncError{
		Op:  op,
		Err: err,
	}
}

// NewWithComponent creates a new SyncError with component information
func NewWithComponent(op Operation, component string, err error) *SyncError {
	return &SyncError{
		Op:        op,
		Component: component,
		Err:       err,
	}
}

// NewRetryable creates a new retryable SyncError
func NewRetryable(op Operation, err error) *SyncError {
	return &SyncError{
		Op:        op,
		Err:       err,
		Retryable: true,
	}
}

// FromStatus classifies an HTTP status code. 2xx yields nil, 4xx a
// permanent request error, anything else a transient one.
func FromStatus(op Operation, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 400 && status < 500:
		return NewPermanentRequestError(op, status)
	default:
		return NewServerError(op, status)
	}
}

// IsRetryable checks if an error is a retryable SyncError
func IsRetryable(err error) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Retryable
	}
	return false
}

// CodeOf returns the code of the outermost SyncError in err's chain.
func CodeOf(err error) ErrorCode {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Code
	}
	return ""
}

// IsPermanent reports whether err is a PERMANENT_REQUEST failure.
func IsPermanent(err error) bool { return CodeOf(err) == ErrCodePermanentRequest }

// IsTransient reports whether err is a TRANSIENT_NETWORK failure.
func IsTransient(err error) bool { return CodeOf(err) == ErrCodeTransientNetwork }

// IsDisabled reports whether err is a DISABLED rejection.
func IsDisabled(err error) bool { return errors.Is(err, ErrDisabled) }

// IsOversize reports whether err is an OVERSIZE rejection.
func IsOversize(err error) bool { return errors.Is(err, ErrOversize) }

// StatusCode extracts the HTTP status recorded on err, if any.
func StatusCode(err error) (int, bool) {
	var syncErr *SyncError
	if !errors.As(err, &syncErr) || syncErr.Metadata == nil {
		return 0, false
	}
	code, ok := syncErr.Metadata["status_code"].(int)
	return code, ok
}

// Is and As re-export the standard library helpers so callers importing
// this package under the name errors keep access to them.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }
