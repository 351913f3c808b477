package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode represents standardized error codes
type ErrorCode string

const (
	CodeMissingFields        ErrorCode = "MISSING_FIELDS"
	CodeInvalidHandle        ErrorCode = "INVALID_HANDLE"
	CodeHandleTaken          ErrorCode = "HANDLE_TAKEN"
	CodePasswordMismatch     ErrorCode = "PASSWORD_MISMATCH"
	CodePasswordTooWeak      ErrorCode = "PASSWORD_TOO_WEAK"
	CodeIncorrectCredentials ErrorCode = "INCORRECT_CREDENTIALS"
	CodeIncorrectCode        ErrorCode = "INCORRECT_CODE"
	CodeUserDisabled         ErrorCode = "USER_DISABLED"
	CodeNotFound             ErrorCode = "NOT_FOUND"
	CodeInvalidInvitation    ErrorCode = "INVALID_INVITATION"
	CodeRateLimited          ErrorCode = "RATE_LIMITED"
	CodeUnauthenticated      ErrorCode = "UNAUTHENTICATED"
	CodeInternalError        ErrorCode = "INTERNAL_ERROR"
)

// HTTPStatusMap maps error codes to HTTP status codes
var HTTPStatusMap = map[ErrorCode]int{
	CodeMissingFields:        http.StatusBadRequest,
	CodeInvalidHandle:        http.StatusBadRequest,
	CodeHandleTaken:          http.StatusConflict,
	CodePasswordMismatch:     http.StatusBadRequest,
	CodePasswordTooWeak:      http.StatusBadRequest,
	CodeIncorrectCredentials: http.StatusForbidden,
	CodeIncorrectCode:        http.StatusForbidden,
	CodeUserDisabled:         http.StatusForbidden,
	CodeNotFound:             http.StatusNotFound,
	CodeInvalidInvitation:    http.StatusBadRequest,
	CodeRateLimited:          http.StatusTooManyRequests,
	CodeUnauthenticated:      http.StatusUnauthorized,
	CodeInternalError:        http.StatusInternalServerError,
}

// ErrorResponse represents the standardized error response structure
type ErrorResponse struct {
	Error struct {
		Code    ErrorCode `json:"code"`
		Message string    `json:"message"`
		TraceID string    `json:"trace_id,omitempty"`
	} `json:"error"`
}

// AppError represents an application error with code and message
type AppError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new AppError
func NewAppError(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// ToErrorResponse converts AppError to ErrorResponse
func (e *AppError) ToErrorResponse(traceID string) ErrorResponse {
	resp := ErrorResponse{}
	resp.Error.Code = e.Code
	resp.Error.Message = e.Message
	resp.Error.TraceID = traceID
	return resp
}

// HTTPStatus returns the HTTP status code for this error
func (e *AppError) HTTPStatus() int {
	if status, exists := HTTPStatusMap[e.Code]; exists {
		return status
	}
	return http.StatusInternalServerError
}

// WrapError wraps an error with additional context
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*AppError); ok {
		return NewAppError(appErr.Code, message, err)
	}
	return NewAppError(CodeInternalError, message, err)
}
