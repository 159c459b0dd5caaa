// Package errors defines the service error taxonomy and its mapping to HTTP
// status codes. Handlers convert any error reaching the boundary with
// GetServiceError so internal detail never leaks to clients.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies an error category.
type Code string

const (
	CodeValidation      Code = "VALIDATION_ERROR"
	CodeUnauthorized    Code = "UNAUTHORIZED"
	CodeForbidden       Code = "FORBIDDEN"
	CodeNotFound        Code = "NOT_FOUND"
	CodeDuplicateReport Code = "DUPLICATE_REPORT"
	CodeRateLimited     Code = "RATE_LIMITED"
	CodeInternal        Code = "INTERNAL"
)

// ServiceError is a structured error carrying an HTTP status and a message
// safe to show to clients.
type ServiceError struct {
	Code       Code
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	cause      error
}

func (e *ServiceError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *ServiceError) Unwrap() error { return e.cause }

// WithDetails attaches a detail key/value pair and returns the error.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = map[string]interface{}{}
	}
	e.Details[key] = value
	return e
}

// Validation reports bad or missing input (400).
func Validation(message string) *ServiceError {
	return &ServiceError{Code: CodeValidation, Message: message, HTTPStatus: http.StatusBadRequest}
}

// Unauthorized reports a missing or invalid identity (401).
func Unauthorized(message string) *ServiceError {
	if message == "" {
		message = "Authentication required."
	}
	return &ServiceError{Code: CodeUnauthorized, Message: message, HTTPStatus: http.StatusUnauthorized}
}

// InvalidToken reports a token that failed verification. Invalid and expired
// tokens map to 401 uniformly.
func InvalidToken(cause error) *ServiceError {
	return &ServiceError{
		Code:       CodeUnauthorized,
		Message:    "Token is not valid.",
		HTTPStatus: http.StatusUnauthorized,
		cause:      cause,
	}
}

// Forbidden reports a valid identity with insufficient permission (403).
func Forbidden(message string) *ServiceError {
	if message == "" {
		message = "Access denied."
	}
	return &ServiceError{Code: CodeForbidden, Message: message, HTTPStatus: http.StatusForbidden}
}

// NotFound reports an absent entity (404).
func NotFound(message string) *ServiceError {
	return &ServiceError{Code: CodeNotFound, Message: message, HTTPStatus: http.StatusNotFound}
}

// DuplicateReport reports a second report for the same (user, transaction)
// pair (400, conflict with policy).
func DuplicateReport() *ServiceError {
	return &ServiceError{
		Code:       CodeDuplicateReport,
		Message:    "You have already reported this transaction.",
		HTTPStatus: http.StatusBadRequest,
	}
}

// RateLimited reports too many submissions in the window (429).
func RateLimited(message string) *ServiceError {
	if message == "" {
		message = "Too many requests, please try again later."
	}
	return &ServiceError{Code: CodeRateLimited, Message: message, HTTPStatus: http.StatusTooManyRequests}
}

// Internal wraps an unexpected failure (500). The cause is logged, never
// returned to the client.
func Internal(message string, cause error) *ServiceError {
	if message == "" {
		message = "Server error"
	}
	return &ServiceError{Code: CodeInternal, Message: message, HTTPStatus: http.StatusInternalServerError, cause: cause}
}

// GetServiceError extracts a ServiceError from err, or nil if none is found
// in the chain.
func GetServiceError(err error) *ServiceError {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr
	}
	return nil
}
