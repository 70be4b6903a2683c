// Package httputil provides JSON request/response helpers shared by the
// gateway handlers and middleware.
package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/finvault/gateway/internal/errors"
	"github.com/finvault/gateway/internal/logging"
)

// ErrorResponse is the JSON envelope for every error the gateway writes.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries the error payload.
type ErrorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	TraceID string                 `json:"trace_id,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// WriteErrorResponse writes the standard error envelope.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]interface{}) {
	WriteJSON(w, status, ErrorResponse{Error: ErrorBody{
		Code:    code,
		Message: message,
		TraceID: logging.GetTraceID(r.Context()),
		Details: details,
	}})
}

// WriteServiceError writes a *ServiceError using its own status and code.
// Unknown errors are written as a generic 500 without leaking the cause.
func WriteServiceError(w http.ResponseWriter, r *http.Request, err error) {
	se := errors.GetServiceError(err)
	if se == nil {
		se = errors.Internal("internal error", err)
	}
	WriteErrorResponse(w, r, se.HTTPStatus, string(se.Code), se.Message, se.Details)
}

// Unauthorized writes a 401 with an optional message.
func Unauthorized(w http.ResponseWriter, message string) {
	if message == "" {
		message = "unauthorized"
	}
	WriteJSON(w, http.StatusUnauthorized, ErrorResponse{Error: ErrorBody{
		Code:    string(errors.CodeUnauthorized),
		Message: message,
	}})
}

// BadRequest writes a 400 with the given message.
func BadRequest(w http.ResponseWriter, message string) {
	WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: ErrorBody{
		Code:    string(errors.CodeBadRequest),
		Message: message,
	}})
}

// NotFound writes a 404 with the given message.
func NotFound(w http.ResponseWriter, message string) {
	WriteJSON(w, http.StatusNotFound, ErrorResponse{Error: ErrorBody{
		Code:    string(errors.CodeNotFound),
		Message: message,
	}})
}

// InternalError writes a 500 with a generic message.
func InternalError(w http.ResponseWriter) {
	WriteJSON(w, http.StatusInternalServerError, ErrorResponse{Error: ErrorBody{
		Code:    string(errors.CodeInternal),
		Message: "internal error",
	}})
}

// TooManyRequests writes a 429 with a Retry-After header and the usage body
// the rate limiter produced.
func TooManyRequests(w http.ResponseWriter, r *http.Request, se *errors.ServiceError, retryAfterSeconds int) {
	if retryAfterSeconds < 1 {
		retryAfterSeconds = 1
	}
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSeconds))
	WriteErrorResponse(w, r, http.StatusTooManyRequests, string(se.Code), se.Message, se.Details)
}

// DecodeJSON decodes a JSON request body into target, rejecting unknown
// fields and bodies over maxBytes.
func DecodeJSON(r *http.Request, target interface{}, maxBytes int64) error {
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}
