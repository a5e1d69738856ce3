// Package errors provides custom error types for the offline sync engine
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents the type of error that occurred
type ErrorCode string

const (
	ErrCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	ErrCodeNetworkFailure   ErrorCode = "NETWORK_FAILURE"
	ErrCodeServerError      ErrorCode = "SERVER_ERROR"
	ErrCodeServerConflict   ErrorCode = "SERVER_CONFLICT"
	ErrCodeClientError      ErrorCode = "CLIENT_ERROR"
	ErrCodeInvalidState     ErrorCode = "INVALID_STATE"
)

// Operation represents the engine operation during which an error occurred
type Operation string

const (
	OpInitialize Operation = "initialize"
	OpEnqueue    Operation = "enqueue"
	OpTransition Operation = "transition"
	OpSyncPass   Operation = "sync_pass"
	OpResolve    Operation = "resolve"
	OpPut        Operation = "put"
	OpGet        Operation = "get"
	OpGetAll     Operation = "get_all"
	OpClear      Operation = "clear"
	OpCreate     Operation = "create"
	OpUpdate     Operation = "update"
	OpDelete     Operation = "delete"
	OpClose      Operation = "close"
)

// SyncError represents an error that occurred in the offline sync engine
type SyncError struct {
	// Operation during which the error occurred
	Op Operation

	// Component that generated the error (e.g., "store", "adapter", "queue")
	Component string

	// Underlying error
	Err error

	// Whether the operation can be retried
	Retryable bool

	// Error code for the error type
	Code ErrorCode

	// HTTPStatus carries the backend status code for adapter errors, 0 otherwise
	HTTPStatus int

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

	if e.HTTPStatus != 0 {
		msg += fmt.Sprintf(" (status %d)", e.HTTPStatus)
	}

	return msg + fmt.Sprintf(": %v", e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a SyncError for a failed local store operation.
// Store failures are fatal to the engine, never retried against the backend.
func NewStoreError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeStoreUnavailable,
		Op:        op,
		Component: "store",
		Err:       cause,
		Retryable: false,
	}
}

// NewNetworkError creates a SyncError for an unreachable backend (timeout, DNS, offline)
func NewNetworkError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeNetworkFailure,
		Op:        op,
		Component: "adapter",
		Err:       cause,
		Retryable: true,
	}
}

// NewServerError creates a SyncError for a 5xx-equivalent backend response
func NewServerError(op Operation, status int, cause error) *SyncError {
	return &SyncError{
		Code:       ErrCodeServerError,
		Op:         op,
		Component:  "adapter",
		Err:        cause,
		Retryable:  true,
		HTTPStatus: status,
	}
}

// NewConflictError creates a SyncError for a server-reported conflict (409-equivalent)
func NewConflictError(op Operation, status int, cause error) *SyncError {
	return &SyncError{
		Code:       ErrCodeServerConflict,
		Op:         op,
		Component:  "adapter",
		Err:        cause,
		Retryable:  false,
		HTTPStatus: status,
	}
}

// NewClientError creates a SyncError for a non-conflict 4xx backend response.
// Retrying an invalid payload cannot succeed, so these are terminal.
func NewClientError(op Operation, status int, cause error) *SyncError {
	return &SyncError{
		Code:       ErrCodeClientError,
		Op:         op,
		Component:  "adapter",
		Err:        cause,
		Retryable:  false,
		HTTPStatus: status,
	}
}

// NewInvalidStateError creates a SyncError for a contract violation by the caller
func NewInvalidStateError(op Operation, cause error) *SyncError {
	return &SyncError{
		Code:      ErrCodeInvalidState,
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

// IsRetryable checks if an error is a retryable SyncError
func IsRetryable(err error) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Retryable
	}
	return false
}

// CodeOf returns the ErrorCode of err, or the empty code for foreign errors
func CodeOf(err error) ErrorCode {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Code
	}
	return ""
}

// IsConflict checks if an error carries the server-conflict code
func IsConflict(err error) bool {
	return CodeOf(err) == ErrCodeServerConflict
}

// IsClientError checks if an error carries the terminal client-error code
func IsClientError(err error) bool {
	return CodeOf(err) == ErrCodeClientError
}

// IsInvalidState checks if an error carries the invalid-state code
func IsInvalidState(err error) bool {
	return CodeOf(err) == ErrCodeInvalidState
}

// IsStoreUnavailable checks if an error carries the store-unavailable code
func IsStoreUnavailable(err error) bool {
	return CodeOf(err) == ErrCodeStoreUnavailable
}
