package models

import (
	"fmt"
	"net/http"
)

// ErrorCode is a stable, machine-readable error identifier sent alongside
// the human-readable message.
type ErrorCode string

const (
	ErrorCodeBadRequest          ErrorCode = "bad_request"
	ErrorCodeBodyTooLarge        ErrorCode = "body_too_large"
	ErrorCodeUnauthorized        ErrorCode = "unauthorized"
	ErrorCodeNotFound            ErrorCode = "not_found"
	ErrorCodeStoreUnavailable    ErrorCode = "store_unavailable"
	ErrorCodeInternalServerError ErrorCode = "internal_server_error"
)

type APIError struct {
	Code       ErrorCode // Sent as the X-Error-Code header
	Message    string    // Plain-text response body
	StatusCode int
}

// Error makes APIError implement the error interface.
func (e APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// NewAPIError is a constructor for APIError.
func NewAPIError(code ErrorCode, message string, statusCode int) APIError {
	return APIError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// ParseError is the response for a body that failed to decode.
func ParseError(cause error) APIError {
	return NewAPIError(ErrorCodeBadRequest, "Error parsing body: "+cause.Error(), http.StatusBadRequest)
}

// InsertError is the response for a reading the store did not accept.
func InsertError(cause error) APIError {
	return NewAPIError(ErrorCodeStoreUnavailable, "Failed to insert reading: "+cause.Error(), http.StatusServiceUnavailable)
}
