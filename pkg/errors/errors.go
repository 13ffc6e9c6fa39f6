package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, machine-checkable error classification.
type Code string

const (
	CodeNotFound          Code = "NOT_FOUND"
	CodeInvalidArgument    Code = "INVALID_ARGUMENT"
	CodeInternal           Code = "INTERNAL"
	CodeUnavailable        Code = "UNAVAILABLE"
	CodeConflict           Code = "CONFLICT"
	CodeUnauthenticated    Code = "UNAUTHENTICATED"
	CodePermissionDenied   Code = "PERMISSION_DENIED"
	CodeTimedOut           Code = "TIMED_OUT"
	CodeSessionNotReady    Code = "SESSION_NOT_READY"
	CodeUpstreamRefused    Code = "UPSTREAM_REFUSED"
	CodeUpstreamTransient  Code = "UPSTREAM_TRANSIENT"
	CodeNoAction           Code = "NO_ACTION"
	CodeBusUnreachable     Code = "BUS_UNREACHABLE"
)

// AppError is the structured error type used across the module. It carries a
// stable Code, a human-readable Message, an optional Cause, and whether a
// caller may usefully retry the operation that produced it.
type AppError struct {
	Code      Code
	Message   string
	Cause     error
	Retryable bool
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// New builds an AppError with the given code, message and cause.
func New(code Code, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Cause: cause, Retryable: isRetryableCode(code)}
}

// Wrap attaches context to err. If err is already an *AppError its code is
// preserved; otherwise the wrapped error is classified as internal.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return &AppError{Code: ae.Code, Message: message + ": " + ae.Message, Cause: ae.Cause, Retryable: ae.Retryable}
	}
	return New(CodeInternal, message, err)
}

func isRetryableCode(code Code) bool {
	switch code {
	case CodeSessionNotReady, CodeUpstreamTransient, CodeBusUnreachable, CodeTimedOut, CodeUnavailable:
		return true
	default:
		return false
	}
}

// Is reports whether err (or any error in its chain) carries the given code.
func Is(err error, code Code) bool {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}

// IsRetryable reports whether a caller may usefully retry the request that
// produced err.
func IsRetryable(err error) bool {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Retryable
	}
	return false
}

// CodeOf extracts the Code from err, defaulting to CodeInternal for errors
// that were never classified.
func CodeOf(err error) Code {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// Convenience constructors matching the taxonomy in use across the module.

func InvalidArgument(message string, cause error) *AppError {
	return New(CodeInvalidArgument, message, cause)
}

func NotFound(message string, cause error) *AppError {
	return New(CodeNotFound, message, cause)
}

func Internal(message string, cause error) *AppError {
	return New(CodeInternal, message, cause)
}

func Unavailable(message string, cause error) *AppError {
	return New(CodeUnavailable, message, cause)
}

func SessionNotReady(message string) *AppError {
	return New(CodeSessionNotReady, message, nil)
}

func UpstreamRefused(message string, cause error) *AppError {
	return New(CodeUpstreamRefused, message, cause)
}

func UpstreamTransient(message string, cause error) *AppError {
	return New(CodeUpstreamTransient, message, cause)
}

func NoAction(message string) *AppError {
	return New(CodeNoAction, message, nil)
}

func TimedOut(message string) *AppError {
	return New(CodeTimedOut, message, nil)
}

func BusUnreachable(message string, cause error) *AppError {
	return New(CodeBusUnreachable, message, cause)
}

// HTTPStatus maps a Code to the HTTP status the facade should return.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeInvalidArgument:
		return http.StatusUnprocessableEntity
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodePermissionDenied:
		return http.StatusForbidden
	case CodeConflict:
		return http.StatusConflict
	case CodeSessionNotReady, CodeBusUnreachable, CodeUnavailable:
		return http.StatusServiceUnavailable
	case CodeUpstreamRefused:
		return http.StatusBadGateway
	case CodeUpstreamTransient:
		return http.StatusBadGateway
	case CodeTimedOut:
		return http.StatusGatewayTimeout
	case CodeNoAction:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}
