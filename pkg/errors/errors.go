package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// Domain errors
	ErrorTypeValidation           ErrorType = "VALIDATION"
	ErrorTypeNotFound             ErrorType = "NOT_FOUND"
	ErrorTypeConflict             ErrorType = "VERSION_CONFLICT"
	ErrorTypeImmutableField       ErrorType = "IMMUTABLE_FIELD"
	ErrorTypeContainerConsistency ErrorType = "CONTAINER_CONSISTENCY"
	ErrorTypeContainerInference   ErrorType = "CONTAINER_INFERENCE"

	// Application errors
	ErrorTypeProtocol ErrorType = "PROTOCOL"
	ErrorTypeTimeout  ErrorType = "TIMEOUT"
	ErrorTypeInternal ErrorType = "INTERNAL"

	// Infrastructure errors
	ErrorTypeDatabase ErrorType = "DATABASE"
)

// JSON-RPC error codes per error type. The -32000.. range carries application
// errors so calling agents can branch on failure kind without string matching.
const (
	RPCCodeParseError     = -32700
	RPCCodeInvalidRequest = -32600
	RPCCodeMethodNotFound = -32601
	RPCCodeInvalidParams  = -32602

	RPCCodeNotFound             = -32000
	RPCCodeVersionConflict      = -32001
	RPCCodeValidation           = -32002
	RPCCodeImmutableField       = -32003
	RPCCodeContainerConsistency = -32004
	RPCCodeContainerInference   = -32005
	RPCCodeInternal             = -32010
)

// AppError represents an application-specific error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	StackTrace string                 `json:"-"`
	RPCCode    int                    `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails adds error details
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// WithDetail adds a single detail entry
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause wraps an underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// captureStackTrace captures the current stack trace
func captureStackTrace() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	stack := ""
	for {
		frame, more := frames.Next()
		stack += fmt.Sprintf("%s:%d %s\n", frame.File, frame.Line, frame.Function)
		if !more {
			break
		}
	}
	return stack
}

// Constructor functions for common error types

// NewValidationError creates a validation error
func NewValidationError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Message:    message,
		RPCCode:    RPCCodeValidation,
		StackTrace: captureStackTrace(),
	}
}

// NewMissingFieldError creates a validation error for an absent required field
func NewMissingFieldError(field string) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Message:    fmt.Sprintf("required field '%s' is missing", field),
		RPCCode:    RPCCodeValidation,
		StackTrace: captureStackTrace(),
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		RPCCode:    RPCCodeNotFound,
		StackTrace: captureStackTrace(),
	}
}

// NewVersionConflictError creates an optimistic concurrency conflict error
func NewVersionConflictError(id string, expected, actual int64) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Message:    fmt.Sprintf("version conflict on node %s: expected %d, stored %d", id, expected, actual),
		RPCCode:    RPCCodeVersionConflict,
		StackTrace: captureStackTrace(),
	}
}

// NewImmutableFieldError creates a protected-field mutation error
func NewImmutableFieldError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeImmutableField,
		Message:    message,
		RPCCode:    RPCCodeImmutableField,
		StackTrace: captureStackTrace(),
	}
}

// NewContainerConsistencyError creates a hierarchy-rule violation error
func NewContainerConsistencyError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeContainerConsistency,
		Message:    message,
		RPCCode:    RPCCodeContainerConsistency,
		StackTrace: captureStackTrace(),
	}
}

// NewContainerInferenceError creates an error for a container that could not
// be inferred from the parent
func NewContainerInferenceError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeContainerInference,
		Message:    message,
		RPCCode:    RPCCodeContainerInference,
		StackTrace: captureStackTrace(),
	}
}

// NewProtocolError creates a malformed-request error
func NewProtocolError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeProtocol,
		Message:    message,
		RPCCode:    RPCCodeInvalidRequest,
		StackTrace: captureStackTrace(),
	}
}

// NewTimeoutError creates a timeout error
func NewTimeoutError(operation string) *AppError {
	return &AppError{
		Type:       ErrorTypeTimeout,
		Message:    fmt.Sprintf("operation '%s' timed out", operation),
		RPCCode:    RPCCodeInternal,
		StackTrace: captureStackTrace(),
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Message:    message,
		RPCCode:    RPCCodeInternal,
		StackTrace: captureStackTrace(),
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, err error) *AppError {
	return &AppError{
		Type:       ErrorTypeDatabase,
		Message:    fmt.Sprintf("database operation '%s' failed", operation),
		Cause:      err,
		RPCCode:    RPCCodeInternal,
		StackTrace: captureStackTrace(),
	}
}

// Helper functions

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError extracts AppError from an error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	appErr := GetAppError(err)
	return appErr != nil && appErr.Type == errType
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return IsType(err, ErrorTypeNotFound)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return IsType(err, ErrorTypeValidation)
}

// IsVersionConflict checks if an error is an optimistic concurrency conflict
func IsVersionConflict(err error) bool {
	return IsType(err, ErrorTypeConflict)
}

// IsImmutableField checks if an error is a protected-field violation
func IsImmutableField(err error) bool {
	return IsType(err, ErrorTypeImmutableField)
}

// IsContainerConsistency checks if an error is a hierarchy-rule violation
func IsContainerConsistency(err error) bool {
	return IsType(err, ErrorTypeContainerConsistency)
}

// IsContainerInference checks if an error is a failed container inference
func IsContainerInference(err error) bool {
	return IsType(err, ErrorTypeContainerInference)
}

// RPCCodeFor maps an error to its JSON-RPC application error code.
// Unclassified errors map to the internal code.
func RPCCodeFor(err error) int {
	if appErr := GetAppError(err); appErr != nil && appErr.RPCCode != 0 {
		return appErr.RPCCode
	}
	return RPCCodeInternal
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	// If it's already an AppError, add context to message
	if appErr := GetAppError(err); appErr != nil {
		appErr.Message = fmt.Sprintf("%s: %s", message, appErr.Message)
		return appErr
	}

	// Otherwise create a new internal error
	return NewInternalError(message).WithCause(err)
}

// Wrapf wraps an error with formatted message
func Wrapf(err error, format string, args ...interface{}) error {
	return Wrap(err, fmt.Sprintf(format, args...))
}
