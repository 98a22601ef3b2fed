package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeInvalidHandshake    ErrorCode = "INVALID_HANDSHAKE"
	ErrCodeMalformedEnvelope   ErrorCode = "MALFORMED_ENVELOPE"
	ErrCodeValidation          ErrorCode = "VALIDATION_ERROR"
	ErrCodeNegotiationFailure  ErrorCode = "NEGOTIATION_FAILURE"
	ErrCodeDeliveryUnavailable ErrorCode = "DELIVERY_UNAVAILABLE"
	ErrCodeTransportLost       ErrorCode = "TRANSPORT_LOST"
	ErrCodeNotFound            ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized        ErrorCode = "UNAUTHORIZED"
	ErrCodeRateLimit           ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal            ErrorCode = "INTERNAL_ERROR"
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
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
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

// Common error constructors

// NewInvalidHandshakeError marks a handshake attempt with an unusable peer
// identity. Terminal for that attempt only.
func NewInvalidHandshakeError(message string) *AppError {
	return NewAppError(ErrCodeInvalidHandshake, message, http.StatusBadRequest)
}

// NewMalformedEnvelopeError marks an unparseable or unrecognized frame.
// Reported back to the sender; the connection stays open.
func NewMalformedEnvelopeError(message string) *AppError {
	return NewAppError(ErrCodeMalformedEnvelope, message, http.StatusBadRequest)
}

func NewValidationError(message string) *AppError {
	return NewAppError(ErrCodeValidation, message, http.StatusBadRequest)
}

func NewNegotiationFailureError(message string, cause error) *AppError {
	return WrapError(cause, ErrCodeNegotiationFailure, message, http.StatusConflict)
}

// NewDeliveryUnavailableError means the direct channel is not open; callers
// fall back to the relay or the persistent path.
func NewDeliveryUnavailableError(message string) *AppError {
	return NewAppError(ErrCodeDeliveryUnavailable, message, http.StatusServiceUnavailable)
}

func NewTransportLostError(cause error) *AppError {
	return WrapError(cause, ErrCodeTransportLost, "hub connection lost", http.StatusBadGateway)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
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

// IsAppError checks if error is an AppError
func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	if err == nil {
		return nil
	}

	if appErr, ok := err.(*AppError); ok {
		return appErr
	}

	// Try to unwrap
	type unwrapper interface {
		Unwrap() error
	}

	if u, ok := err.(unwrapper); ok {
		return GetAppError(u.Unwrap())
	}

	return nil
}
