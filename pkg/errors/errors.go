package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError represents an application error with HTTP status
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Common error codes
const (
	CodeNotFound           = "NOT_FOUND"
	CodeBadRequest         = "BAD_REQUEST"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeConflict           = "CONFLICT"
	CodeInternalError      = "INTERNAL_ERROR"
	CodeValidationError    = "VALIDATION_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"

	// Job-queue specific taxonomy (SPEC_FULL.md §7).
	CodeInvalidState    = "INVALID_STATE"
	CodeConfiguration   = "CONFIGURATION_ERROR"
	CodeStorage         = "STORAGE_ERROR"
	CodeTimeout         = "TIMEOUT"
	CodeWorker          = "WORKER_ERROR"
	CodeExecutionFailed = "EXECUTION_FAILED"
)

// Common application errors
var (
	ErrNotFound           = &AppError{Code: CodeNotFound, Message: "resource not found", Status: http.StatusNotFound}
	ErrBadRequest         = &AppError{Code: CodeBadRequest, Message: "bad request", Status: http.StatusBadRequest}
	ErrUnauthorized       = &AppError{Code: CodeUnauthorized, Message: "unauthorized", Status: http.StatusUnauthorized}
	ErrForbidden          = &AppError{Code: CodeForbidden, Message: "forbidden", Status: http.StatusForbidden}
	ErrConflict           = &AppError{Code: CodeConflict, Message: "resource conflict", Status: http.StatusConflict}
	ErrInternalError      = &AppError{Code: CodeInternalError, Message: "internal server error", Status: http.StatusInternalServerError}
	ErrServiceUnavailable = &AppError{Code: CodeServiceUnavailable, Message: "service unavailable", Status: http.StatusServiceUnavailable}

	// ErrInvalidState marks an operation rejected because the job is not in
	// a state that permits it (e.g. retrying a job that is not failed).
	ErrInvalidState = &AppError{Code: CodeInvalidState, Message: "invalid job state for operation", Status: http.StatusConflict}
	// ErrValidation marks a malformed job definition or request payload.
	ErrValidation = &AppError{Code: CodeValidationError, Message: "validation failed", Status: http.StatusBadRequest}
	// ErrConfiguration marks a misconfigured component (bad retry policy,
	// missing queue name, zero concurrency, ...).
	ErrConfiguration = &AppError{Code: CodeConfiguration, Message: "invalid configuration", Status: http.StatusInternalServerError}
	// ErrStorage marks a Redis-level failure (connection, script, or
	// transaction failure) surfaced by the Queue Engine.
	ErrStorage = &AppError{Code: CodeStorage, Message: "storage operation failed", Status: http.StatusServiceUnavailable}
	// ErrTimeout marks an operation that exceeded its deadline (job
	// execution timeout, lease acquisition, dequeue poll).
	ErrTimeout = &AppError{Code: CodeTimeout, Message: "operation timed out", Status: http.StatusGatewayTimeout}
	// ErrWorker marks a failure in the Worker Pool or Registry itself,
	// distinct from a failure in the job handler it dispatched to.
	ErrWorker = &AppError{Code: CodeWorker, Message: "worker error", Status: http.StatusInternalServerError}
	// ErrExecutionFailed wraps a handler-returned error, i.e. the job ran
	// but its business logic failed.
	ErrExecutionFailed = &AppError{Code: CodeExecutionFailed, Message: "job execution failed", Status: http.StatusUnprocessableEntity}
)

// Retryable reports whether err represents a failure the Retry Policy should
// act on. Validation, configuration, and invalid-state errors are permanent:
// retrying them wastes an attempt on a job that can never succeed. Storage,
// timeout, worker, and execution failures are transient and retryable.
func Retryable(err error) bool {
	var nr *nonRetryableError
	if errors.As(err, &nr) {
		return false
	}
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return true
	}
	switch appErr.Code {
	case CodeValidationError, CodeConfiguration, CodeInvalidState, CodeBadRequest, CodeForbidden, CodeUnauthorized, CodeNotFound, CodeConflict:
		return false
	default:
		return true
	}
}

// nonRetryableError forces Retryable to report false for the wrapped error
// without altering its message or classification otherwise.
type nonRetryableError struct{ err error }

func (e *nonRetryableError) Error() string { return e.err.Error() }
func (e *nonRetryableError) Unwrap() error { return e.err }

// NonRetryable wraps err so the Retry Policy treats it as exhausted
// regardless of its own code, e.g. when a caller already decided a failure
// should not be retried.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{err: err}
}

// New creates a new AppError
func New(code string, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
	}
}

// Wrap wraps an error with an AppError
func Wrap(err error, appErr *AppError) *AppError {
	return &AppError{
		Code:    appErr.Code,
		Message: appErr.Message,
		Status:  appErr.Status,
		Err:     err,
	}
}

// WithMessage returns a new AppError with a custom message
func (e *AppError) WithMessage(message string) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: message,
		Status:  e.Status,
		Err:     e.Err,
	}
}

// WithError returns a new AppError with a wrapped error
func (e *AppError) WithError(err error) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Status:  e.Status,
		Err:     err,
	}
}

// Is checks if the error is a specific AppError
func Is(err error, target *AppError) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == target.Code
	}
	return false
}

// GetStatus returns the HTTP status from an error
func GetStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}
