package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	// Capture-side, user-facing, non-fatal. The user may retry.
	ErrCodeCaptureDenied      ErrorCode = "CAPTURE_DENIED"
	ErrCodeCaptureUnsupported ErrorCode = "CAPTURE_UNSUPPORTED"
	ErrCodeCaptureOther       ErrorCode = "CAPTURE_OTHER"

	// Peer-link level. Discards the single affected link.
	ErrCodeSignalInjection ErrorCode = "SIGNAL_INJECTION_FAILED"
	ErrCodeTransport       ErrorCode = "TRANSPORT_ERROR"

	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"
	ErrCodeRateLimit    ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
)

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
	}
}

// Capture error constructors. Each maps to a distinct user-facing message.

func NewCaptureDeniedError(cause error) *AppError {
	return WrapError(cause, ErrCodeCaptureDenied,
		"screen capture permission was refused", http.StatusForbidden)
}

func NewCaptureUnsupportedError(cause error) *AppError {
	return WrapError(cause, ErrCodeCaptureUnsupported,
		"platform does not support screen capture", http.StatusNotImplemented)
}

func NewCaptureOtherError(cause error) *AppError {
	return WrapError(cause, ErrCodeCaptureOther,
		"failed to access the screen", http.StatusInternalServerError)
}

func NewSignalInjectionError(cause error) *AppError {
	return WrapError(cause, ErrCodeSignalInjection,
		"failed to inject signal into peer link", http.StatusInternalServerError)
}

func NewTransportError(cause error) *AppError {
	return WrapError(cause, ErrCodeTransport,
		"peer transport failure", http.StatusBadGateway)
}

func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewUnauthorizedError(message string) *AppError {
	return NewAppError(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func NewForbiddenError(message string) *AppError {
	return NewAppError(ErrCodeForbidden, message, http.StatusForbidden)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

// CodeOf extracts the application error code from an error chain, or "" when
// the chain carries no AppError.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsAppError checks if error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}
