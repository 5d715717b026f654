package errors

import (
	"net/http"

	"github.com/go-chi/render"

	"github.com/jahboukie/codecontext-keygen/internal/authority"
	"github.com/jahboukie/codecontext-keygen/internal/license"
)

// APIError represents a structured API error response
type APIError struct {
	StatusCode int         `json:"status_code"`
	ErrorCode  string      `json:"error_code"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.Message
}

// Render implements the render.Renderer interface for chi/render
func (e *APIError) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.StatusCode)
	return nil
}

// New creates a new APIError with the given parameters
func New(statusCode int, errorCode, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
	}
}

// NewWithDetails creates a new APIError with additional details
func NewWithDetails(statusCode int, errorCode, message string, details interface{}) *APIError {
	return &APIError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
		Details:    details,
	}
}

// Predefined errors for common scenarios
var (
	ErrInvalidRequest = New(http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format")
	ErrInternalServer = New(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "Internal server error")
)

// reasonStatus maps license failure reasons to HTTP status codes
var reasonStatus = map[authority.Reason]int{
	authority.ReasonInvalidInput:     http.StatusBadRequest,
	authority.ReasonUnauthorized:     http.StatusBadGateway,
	authority.ReasonLicenseNotFound:  http.StatusNotFound,
	authority.ReasonInvalid:          http.StatusForbidden,
	authority.ReasonActivationLimit:  http.StatusUnprocessableEntity,
	authority.ReasonActivationFailed: http.StatusBadGateway,
	authority.ReasonServiceError:     http.StatusServiceUnavailable,
	authority.ReasonNetworkError:     http.StatusServiceUnavailable,
	license.ReasonNoLicense:          http.StatusPreconditionRequired,
}

// FromReason maps a license failure reason to an APIError carrying the
// plain-language remediation for the user
func FromReason(reason authority.Reason) *APIError {
	status, ok := reasonStatus[reason]
	if !ok {
		status = http.StatusInternalServerError
	}
	return New(status, reason.String(), license.Remediation(reason))
}

// ErrorResponse represents a standard error response envelope
type ErrorResponse struct {
	Success bool      `json:"success"`
	Error   *APIError `json:"error"`
}

// NewErrorResponse creates a new error response
func NewErrorResponse(err *APIError) *ErrorResponse {
	return &ErrorResponse{Success: false, Error: err}
}

// Render implements the render.Renderer interface
func (e *ErrorResponse) Render(w http.ResponseWriter, r *http.Request) error {
	return e.Error.Render(w, r)
}
