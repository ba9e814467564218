package engine

import (
	"errors"
	"net/http"
)

// Error is returned by Process. It carries the HTTP status the transport
// should answer with.
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	cause   error
}

// Error implements the error interface.
func (e Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

// StatusCode returns the HTTP status code for the error.
func (e Error) StatusCode() int {
	return e.Status
}

// Unwrap returns the underlying cause.
func (e Error) Unwrap() error {
	return e.cause
}

// Is matches engine errors by code, so wrapped copies compare equal to the
// predefined values.
func (e Error) Is(target error) bool {
	var t Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// WithMessage returns a copy of the error with a custom message.
func (e Error) WithMessage(message string) Error {
	e.Message = message
	return e
}

// WithError returns a copy of the error with a cause.
func (e Error) WithError(err error) Error {
	e.cause = err
	return e
}

// Predefined engine errors.
var (
	ErrNoApplication = Error{
		Status:  http.StatusBadRequest,
		Code:    "no_application",
		Message: "no application matches the request",
	}

	ErrMalformedRequest = Error{
		Status:  http.StatusBadRequest,
		Code:    "malformed_request",
		Message: "malformed request",
	}

	ErrNotReady = Error{
		Status:  http.StatusServiceUnavailable,
		Code:    "not_ready",
		Message: "application is not connected",
	}

	ErrHandlerExhausted = Error{
		Status:  http.StatusServiceUnavailable,
		Code:    "handler_exhausted",
		Message: "no request handler available",
	}

	ErrRequestCanceled = Error{
		Status:  499,
		Code:    "request_canceled",
		Message: "request canceled before a handler was available",
	}

	ErrInternal = Error{
		Status:  http.StatusInternalServerError,
		Code:    "internal_error",
		Message: http.StatusText(http.StatusInternalServerError),
	}
)

// Lifecycle errors.
var (
	ErrNilRegistry       = errors.New("application registry is nil")
	ErrHealthcheckFailed = errors.New("engine healthcheck failed")
)
