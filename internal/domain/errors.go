package domain

import (
	"fmt"
	"net/http"
)

// ErrorType represents the category of an API error.
type ErrorType string

const (
	// ErrorTypeInvalidRequest indicates a well-formed payload with missing
	// or malformed fields.
	ErrorTypeInvalidRequest ErrorType = "invalid_request"

	// ErrorTypeParse indicates the transport payload was not valid
	// serialized data for the wire format.
	ErrorTypeParse ErrorType = "parse"

	// ErrorTypeAuthentication indicates an authentication failure.
	ErrorTypeAuthentication ErrorType = "authentication"

	// ErrorTypePermission indicates the capability tier forbids the request.
	ErrorTypePermission ErrorType = "permission"

	// ErrorTypeNotFound indicates a resource was not found.
	ErrorTypeNotFound ErrorType = "not_found"

	// ErrorTypeEngine indicates the execution engine failed, timed out, or
	// was unreachable.
	ErrorTypeEngine ErrorType = "engine"

	// ErrorTypeServer indicates an internal invariant violation or other
	// server-side failure.
	ErrorTypeServer ErrorType = "server"
)

// ErrorCode provides additional specificity beyond the error type.
type ErrorCode string

const (
	ErrorCodeMalformedJSON       ErrorCode = "malformed_json"
	ErrorCodeMissingField        ErrorCode = "missing_field"
	ErrorCodeInvalidAPIKey       ErrorCode = "invalid_api_key"
	ErrorCodeSessionNotFound     ErrorCode = "session_not_found"
	ErrorCodeEngineTimeout       ErrorCode = "engine_timeout"
	ErrorCodeEngineUnavailable   ErrorCode = "engine_unavailable"
	ErrorCodeInterceptionInvalid ErrorCode = "interception_inconsistency"
)

// APIError is the canonical error surfaced across the codec boundary. Each
// frontdoor codec renders it in its own error envelope. Only the two
// client-error types carry field-level detail outward; everything else
// collapses to an opaque message.
type APIError struct {
	Type       ErrorType `json:"type"`
	Code       ErrorCode `json:"code,omitempty"`
	Message    string    `json:"message"`
	Param      string    `json:"param,omitempty"`
	StatusCode int       `json:"-"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// HTTPStatusCode returns the status code to use at the HTTP boundary.
func (e *APIError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Type {
	case ErrorTypeInvalidRequest, ErrorTypeParse:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypePermission:
		return http.StatusForbidden
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeEngine:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ClientError reports whether field-level detail may be exposed to callers.
func (e *APIError) ClientError() bool {
	return e.Type == ErrorTypeInvalidRequest || e.Type == ErrorTypeParse
}

// NewAPIError creates a new API error.
func NewAPIError(errType ErrorType, message string) *APIError {
	return &APIError{Type: errType, Message: message}
}

// WithCode adds an error code to the error.
func (e *APIError) WithCode(code ErrorCode) *APIError {
	e.Code = code
	return e
}

// WithParam adds the offending parameter name.
func (e *APIError) WithParam(param string) *APIError {
	e.Param = param
	return e
}

// WithStatusCode sets a specific HTTP status code.
func (e *APIError) WithStatusCode(code int) *APIError {
	e.StatusCode = code
	return e
}

// ErrParse creates a malformed-payload error.
func ErrParse(message string) *APIError {
	return NewAPIError(ErrorTypeParse, message).WithCode(ErrorCodeMalformedJSON)
}

// ErrValidation creates a field-validation error naming the offending field.
func ErrValidation(param, message string) *APIError {
	return NewAPIError(ErrorTypeInvalidRequest, message).WithParam(param)
}

// ErrAuthentication creates an authentication failure error.
func ErrAuthentication(message string) *APIError {
	return NewAPIError(ErrorTypeAuthentication, message).WithCode(ErrorCodeInvalidAPIKey)
}

// ErrPermission creates a capability-tier violation error.
func ErrPermission(message string) *APIError {
	return NewAPIError(ErrorTypePermission, message)
}

// ErrNotFound creates a not found error.
func ErrNotFound(message string) *APIError {
	return NewAPIError(ErrorTypeNotFound, message)
}

// ErrEngine creates an engine failure error.
func ErrEngine(message string) *APIError {
	return NewAPIError(ErrorTypeEngine, message)
}

// ErrEngineTimeout creates an engine timeout error.
func ErrEngineTimeout(message string) *APIError {
	return NewAPIError(ErrorTypeEngine, message).
		WithCode(ErrorCodeEngineTimeout).
		WithStatusCode(http.StatusGatewayTimeout)
}

// ErrServer creates an internal server error.
func ErrServer(message string) *APIError {
	return NewAPIError(ErrorTypeServer, message)
}

// ErrInterception creates an interception invariant violation error.
func ErrInterception(message string) *APIError {
	return NewAPIError(ErrorTypeServer, message).WithCode(ErrorCodeInterceptionInvalid)
}
