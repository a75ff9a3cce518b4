package telemetry

import (
	"errors"
	"fmt"
)

// ErrorCode classifies telemetry failures.
type ErrorCode int

const (
	// ErrInternal represents unexpected internal failures
	ErrInternal ErrorCode = iota
	// ErrConfiguration is fatal at initialization: malformed endpoint,
	// invalid settings or a second initialization.
	ErrConfiguration
	// ErrExport is a transient export failure. It is logged locally and the
	// batch is dropped; it never reaches the request path.
	ErrExport
	// ErrPropagationParse marks an unreadable inbound trace context. It is
	// treated as "no context" and never returned to callers.
	ErrPropagationParse
	// ErrHandler wraps a failure raised by an instrumented handler.
	ErrHandler
)

// String returns the string representation of an ErrorCode
func (c ErrorCode) String() string {
	switch c {
	case ErrInternal:
		return "internal"
	case ErrConfiguration:
		return "configuration"
	case ErrExport:
		return "export"
	case ErrPropagationParse:
		return "propagation_parse"
	case ErrHandler:
		return "handler"
	default:
		return "unknown"
	}
}

// Error is the error type returned by this package.
type Error struct {
	// Op is the operation that failed (e.g., "telemetry.Initialize")
	Op string
	// Err is the underlying error
	Err error
	// Code categorizes the error for handling
	Code ErrorCode
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error for errors.Is and errors.As
func (e *Error) Unwrap() error {
	return e.Err
}

// WrapError wraps an error with operation context and classification.
func WrapError(op string, err error, code ErrorCode) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Op:   op,
		Err:  err,
		Code: code,
	}
}

// NewError creates a new Error with a message
func NewError(op string, message string, code ErrorCode) *Error {
	return &Error{
		Op:   op,
		Err:  errors.New(message),
		Code: code,
	}
}

// IsCode checks if an error is an *Error with a specific code
func IsCode(err error, code ErrorCode) bool {
	var tErr *Error
	if errors.As(err, &tErr) {
		return tErr.Code == code
	}
	return false
}

// GetCode returns the ErrorCode from an error, or ErrInternal if not an *Error
func GetCode(err error) ErrorCode {
	var tErr *Error
	if errors.As(err, &tErr) {
		return tErr.Code
	}
	return ErrInternal
}

var (
	// ErrDoubleInitialization is returned by Initialize when the process
	// already owns a telemetry provider.
	ErrDoubleInitialization = errors.New("telemetry already initialized")

	errMissingScheme = errors.New("endpoint must use http or https")
	errMissingHost   = errors.New("endpoint has no host")
)
