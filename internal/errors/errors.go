// Package errors defines the service error taxonomy used across the
// authentication boundary. Failures are explicit values carrying a stable
// code and an HTTP status, not exception types to dispatch on.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode identifies a failure category.
type ErrorCode string

const (
	// CodeInvalidAPIKey covers not-found, inactive, expired and ip-blocked
	// keys. Callers are never told which; distinguishing them would leak
	// key-enumeration signals.
	CodeInvalidAPIKey ErrorCode = "INVALID_API_KEY"

	// CodeRateLimitExceeded is returned when a per-minute or daily quota
	// check fails.
	CodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// CodeProviderUnavailable marks a transient failure talking to an
	// external identity provider. Retried internally.
	CodeProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"

	// CodeProviderRejected means the provider answered and the token is
	// invalid. Terminal; never retried.
	CodeProviderRejected ErrorCode = "PROVIDER_REJECTED"

	// CodeCircuitOpen marks a call short-circuited by an open breaker.
	CodeCircuitOpen ErrorCode = "CIRCUIT_OPEN"

	// CodeCacheMiss means no fallback verification result was available.
	CodeCacheMiss ErrorCode = "CACHE_MISS"

	// CodeAuthenticationTimeout marks an edge verification that did not
	// complete inside the configured deadline. The edge fails closed.
	CodeAuthenticationTimeout ErrorCode = "AUTHENTICATION_TIMEOUT"

	CodeUnauthorized ErrorCode = "UNAUTHORIZED"
	CodeForbidden    ErrorCode = "FORBIDDEN"
	CodeBadRequest   ErrorCode = "BAD_REQUEST"
	CodeNotFound     ErrorCode = "NOT_FOUND"
	CodeInternal     ErrorCode = "INTERNAL_ERROR"
)

// ServiceError is the error type surfaced across package boundaries.
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	cause      error
}

func (e *ServiceError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *ServiceError) Unwrap() error {
	return e.cause
}

// WithDetails attaches a detail entry and returns the error for chaining.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Is matches on error code so callers can compare against sentinel
// constructors without identity equality.
func (e *ServiceError) Is(target error) bool {
	var se *ServiceError
	if errors.As(target, &se) {
		return e.Code == se.Code
	}
	return false
}

// InvalidAPIKey returns the single opaque error used for every key
// rejection. The internal reason is kept in Details for logging only and is
// stripped before the response is written in production mode.
func InvalidAPIKey(reason string) *ServiceError {
	e := &ServiceError{
		Code:       CodeInvalidAPIKey,
		Message:    "invalid API key",
		HTTPStatus: http.StatusUnauthorized,
	}
	if reason != "" {
		e = e.WithDetails("reason", reason)
	}
	return e
}

// RateLimitExceeded reports an exhausted per-minute or daily allowance.
func RateLimitExceeded(currentUsage, limit int64, retryAfter time.Duration) *ServiceError {
	return &ServiceError{
		Code:       CodeRateLimitExceeded,
		Message:    "rate limit exceeded",
		HTTPStatus: http.StatusTooManyRequests,
		Details: map[string]interface{}{
			"currentUsage": currentUsage,
			"limit":        limit,
			"retryAfter":   retryAfter.Seconds(),
		},
	}
}

// ProviderUnavailable wraps a transient provider failure.
func ProviderUnavailable(provider string, cause error) *ServiceError {
	return &ServiceError{
		Code:       CodeProviderUnavailable,
		Message:    fmt.Sprintf("identity provider %s unavailable", provider),
		HTTPStatus: http.StatusServiceUnavailable,
		cause:      cause,
	}
}

// ProviderRejected wraps a terminal token rejection from a provider.
func ProviderRejected(provider string) *ServiceError {
	return &ServiceError{
		Code:       CodeProviderRejected,
		Message:    fmt.Sprintf("identity provider %s rejected the token", provider),
		HTTPStatus: http.StatusUnauthorized,
	}
}

// CircuitOpen marks a short-circuited provider call.
func CircuitOpen(provider string) *ServiceError {
	return &ServiceError{
		Code:       CodeCircuitOpen,
		Message:    fmt.Sprintf("circuit open for provider %s", provider),
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// CacheMiss means neither cache tier held a usable fallback result.
func CacheMiss(provider string) *ServiceError {
	return &ServiceError{
		Code:       CodeCacheMiss,
		Message:    fmt.Sprintf("no cached verification for provider %s", provider),
		HTTPStatus: http.StatusUnauthorized,
	}
}

// AuthenticationTimeout marks an edge-path verification deadline miss.
func AuthenticationTimeout(timeout time.Duration) *ServiceError {
	return &ServiceError{
		Code:       CodeAuthenticationTimeout,
		Message:    "authentication did not complete in time",
		HTTPStatus: http.StatusServiceUnavailable,
		Details:    map[string]interface{}{"timeout": timeout.String()},
	}
}

// Unauthorized returns a generic 401.
func Unauthorized(message string) *ServiceError {
	return &ServiceError{Code: CodeUnauthorized, Message: message, HTTPStatus: http.StatusUnauthorized}
}

// Forbidden returns a 403.
func Forbidden(message string) *ServiceError {
	return &ServiceError{Code: CodeForbidden, Message: message, HTTPStatus: http.StatusForbidden}
}

// BadRequest returns a 400.
func BadRequest(message string) *ServiceError {
	return &ServiceError{Code: CodeBadRequest, Message: message, HTTPStatus: http.StatusBadRequest}
}

// NotFound returns a 404.
func NotFound(message string) *ServiceError {
	return &ServiceError{Code: CodeNotFound, Message: message, HTTPStatus: http.StatusNotFound}
}

// Internal wraps an unexpected failure.
func Internal(message string, cause error) *ServiceError {
	return &ServiceError{Code: CodeInternal, Message: message, HTTPStatus: http.StatusInternalServerError, cause: cause}
}

// GetServiceError extracts a *ServiceError from err, or nil if err is not
// one (directly or wrapped).
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}
	return nil
}

// New mirrors the standard library constructor so packages can depend on
// this one alone.
func New(text string) error { return errors.New(text) }

// Is re-exports errors.Is.
func Is(err, target error) bool { return errors.Is(err, target) }

// As re-exports errors.As.
func As(err error, target interface{}) bool { return errors.As(err, target) }
