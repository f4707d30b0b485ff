// Package errors provides structured error types and response helpers for the API.
package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
)

// Error codes for structured API responses.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeConflict        = "CONFLICT"
	CodeUnavailable     = "UNAVAILABLE"
	CodeInternalError   = "INTERNAL_ERROR"
)

// APIError represents a structured API error response.
type APIError struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WithDetails returns a copy of the error with additional details.
func (e *APIError) WithDetails(details map[string]any) *APIError {
	cp := *e
	cp.Details = details
	return &cp
}

// WithRequestID returns a copy of the error with the request ID set.
func (e *APIError) WithRequestID(requestID string) *APIError {
	cp := *e
	cp.RequestID = requestID
	return &cp
}

// New creates a new APIError with the given code and message.
func New(code, message string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
	}
}

// NewValidationError creates a validation error.
func NewValidationError(message string) *APIError {
	return New(CodeValidationError, message)
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(message string) *APIError {
	return New(CodeNotFound, message)
}

// NewUnauthorizedError creates an unauthorized error.
func NewUnauthorizedError(message string) *APIError {
	return New(CodeUnauthorized, message)
}

// NewConflictError creates a conflict error.
func NewConflictError(message string) *APIError {
	return New(CodeConflict, message)
}

// NewUnavailableError reports that the radio link or a backing store
// could not serve the request.
func NewUnavailableError(message string) *APIError {
	return New(CodeUnavailable, message)
}

// NewInternalError creates an internal server error.
func NewInternalError(message string) *APIError {
	return New(CodeInternalError, message)
}

// HTTPStatusCode returns the appropriate HTTP status code for the error.
func (e *APIError) HTTPStatusCode() int {
	switch e.Code {
	case CodeValidationError:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeConflict:
		return http.StatusConflict
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// WriteError writes an APIError as a JSON response.
func WriteError(w http.ResponseWriter, err *APIError) {
	WriteJSON(w, err.HTTPStatusCode(), err)
}

// WriteErrorWithRequestID writes an APIError with the request ID set.
func WriteErrorWithRequestID(w http.ResponseWriter, err *APIError, requestID string) {
	WriteError(w, err.WithRequestID(requestID))
}

// GetStackTrace returns the current stack trace as a string.
func GetStackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// ErrorLogEntry represents a structured error log entry.
type ErrorLogEntry struct {
	CorrelationID string `json:"correlation_id"`
	ErrorCode     string `json:"error_code"`
	Message       string `json:"message"`
	StackTrace    string `json:"stack_trace"`
}

// NewErrorLogEntry creates a new error log entry with all required fields.
func NewErrorLogEntry(correlationID, errorCode, message string) *ErrorLogEntry {
	return &ErrorLogEntry{
		CorrelationID: correlationID,
		ErrorCode:     errorCode,
		Message:       message,
		StackTrace:    GetStackTrace(),
	}
}
