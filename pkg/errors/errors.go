package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies a failure so callers can pick a recovery policy.
type ErrorCode string

const (
	// Startup failures, terminal for the component instance.
	ErrCodeConfiguration ErrorCode = "CONFIGURATION"
	ErrCodeEligibility   ErrorCode = "ELIGIBILITY"

	// Send failure, terminal for the sending loop.
	ErrCodeTransmit ErrorCode = "TRANSMIT"

	// Per-frame failures, the frame is dropped.
	ErrCodeCorruptStream ErrorCode = "CORRUPT_STREAM"
	ErrCodeDecode        ErrorCode = "DECODE"

	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrCodeRateLimit          ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// Sentinels for errors.Is. An AppError matches a sentinel with the same code.
var (
	ErrConfiguration = &AppError{Code: ErrCodeConfiguration}
	ErrEligibility   = &AppError{Code: ErrCodeEligibility}
	ErrTransmit      = &AppError{Code: ErrCodeTransmit}
	ErrCorruptStream = &AppError{Code: ErrCodeCorruptStream}
	ErrDecode        = &AppError{Code: ErrCodeDecode}
	ErrUnauthorized  = &AppError{Code: ErrCodeUnauthorized}
	ErrRateLimit     = &AppError{Code: ErrCodeRateLimit}
)

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an AppError with the same code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
		Context:    make(map[string]interface{}),
	}
}

func NewConfigurationError(message string) *AppError {
	return NewAppError(ErrCodeConfiguration, message, http.StatusInternalServerError)
}

func NewEligibilityError(message string) *AppError {
	return NewAppError(ErrCodeEligibility, message, http.StatusForbidden)
}

func NewTransmitError(err error) *AppError {
	return WrapError(err, ErrCodeTransmit, "transport send failed", http.StatusBadGateway)
}

func NewCorruptStreamError(message string, cause error) *AppError {
	return WrapError(cause, ErrCodeCorruptStream, message, http.StatusUnprocessableEntity)
}

func NewDecodeError(message string, cause error) *AppError {
	return WrapError(cause, ErrCodeDecode, message, http.StatusUnprocessableEntity)
}

func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewUnauthorizedError(message string) *AppError {
	return NewAppError(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

func NewServiceUnavailableError(message string) *AppError {
	return NewAppError(ErrCodeServiceUnavailable, message, http.StatusServiceUnavailable)
}

// IsAppError checks if error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// CodeOf returns the code of the first AppError in err's chain, or
// ErrCodeInternal.
func CodeOf(err error) ErrorCode {
	if appErr := GetAppError(err); appErr != nil {
		return appErr.Code
	}
	return ErrCodeInternal
}
