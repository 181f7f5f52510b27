// Package errors defines the catalogue of client-facing failures. Handlers return these and
// the response package renders their code and message; the Internal cause is only logged.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is an error with a stable code and HTTP status. Retryable marks failures a
// client may clear by trying again later, such as an unreachable spreadsheet; data-shape
// failures are never retryable.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Retryable  bool   `json:"retryable,omitempty"`
	Internal   error  `json:"-"`
}

func (e *AppError) Error() string {
	switch {
	case e == nil:
		return "<nil>"
	case e.Internal != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	default:
		return e.Message
	}
}

// Unwrap exposes the internal cause to errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Internal
}

// WithInternal returns a copy carrying cause.
func (e *AppError) WithInternal(cause error) *AppError {
	return e.derive(func(c *AppError) { c.Internal = cause })
}

// WithMessage returns a copy with a more specific client message.
func (e *AppError) WithMessage(message string) *AppError {
	return e.derive(func(c *AppError) { c.Message = message })
}

func (e *AppError) derive(mutate func(*AppError)) *AppError {
	if e == nil {
		return nil
	}
	cpy := *e
	mutate(&cpy)
	return &cpy
}

func define(status int, code, message string) *AppError {
	return &AppError{Code: code, Message: message, StatusCode: status}
}

func transient(status int, code, message string) *AppError {
	e := define(status, code, message)
	e.Retryable = true
	return e
}

// Authentication.
var (
	ErrUnauthorized       = define(http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
	ErrOTPRequired        = define(http.StatusUnauthorized, "auth.otp_required", "One-time code required")
	ErrOTPInvalid         = define(http.StatusUnauthorized, "auth.otp_invalid", "Invalid one-time code")
	ErrInvalidCredentials = define(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid username or password")
	ErrAccountLocked      = define(http.StatusForbidden, "ACCOUNT_LOCKED", "Account temporarily locked")
	ErrForbidden          = define(http.StatusForbidden, "FORBIDDEN", "Permission denied")
)

// Requests.
var (
	ErrNotFound       = define(http.StatusNotFound, "NOT_FOUND", "Resource not found")
	ErrBadRequest     = define(http.StatusBadRequest, "BAD_REQUEST", "Invalid request")
	ErrInternalServer = define(http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "Internal server error")
	ErrRateLimit      = transient(http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Too many requests, please slow down")
)

// Spreadsheet data.
var (
	ErrUpstreamUnavailable = transient(http.StatusBadGateway, "UPSTREAM_UNAVAILABLE",
		"Spreadsheet could not be reached and no cached copy is available")
	ErrSheetNotPublic = define(http.StatusBadGateway, "SHEET_NOT_PUBLIC", "Sheet is not publicly accessible")
	ErrSheetSchema    = define(http.StatusUnprocessableEntity, "SHEET_SCHEMA_INVALID", "Sheet is missing required columns")
	ErrSheetEmpty     = define(http.StatusUnprocessableEntity, "SHEET_EMPTY", "Sheet export is empty")
)

// FromError finds the AppError in err's chain, defaulting to ErrInternalServer.
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return ErrInternalServer.WithInternal(err)
}

// NewBadRequest returns a 400 with a field-level message.
func NewBadRequest(message string) *AppError {
	return ErrBadRequest.WithMessage(message)
}
