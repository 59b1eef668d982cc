// Package apierr carries the gateway's coded errors. The code doubles as the
// HTTP status and as the input of the mail-transport exit table.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a failure with a response code and a client-safe message.
type Error struct {
	Code    int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New returns an Error with the given code and message.
func New(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Invalid is a structural or field-level input problem.
func Invalid(format string, args ...any) *Error {
	return New(http.StatusBadRequest, format, args...)
}

// Unauthorized is a missing or invalid API key or credentials.
func Unauthorized(format string, args ...any) *Error {
	return New(http.StatusUnauthorized, format, args...)
}

// Denied is an action refused by a business rule.
func Denied(format string, args ...any) *Error {
	return New(http.StatusForbidden, format, args...)
}

// NotFound is a lookup miss or a number/email mismatch.
func NotFound(format string, args ...any) *Error {
	return New(http.StatusNotFound, format, args...)
}

// Internal is a failure without a client-visible explanation.
func Internal(format string, args ...any) *Error {
	return New(http.StatusInternalServerError, format, args...)
}

// Unsupported is an unsupported data format.
func Unsupported(format string, args ...any) *Error {
	return New(http.StatusUnsupportedMediaType, format, args...)
}

// Wrap attaches cause to a 500 error so it can be logged, while the message
// stays generic.
func Wrap(cause error, format string, args ...any) *Error {
	e := Internal(format, args...)
	e.Err = cause
	return e
}

// From maps any error to a coded one. Uncoded errors become 500.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: http.StatusInternalServerError, Message: "internal error", Err: err}
}

// Code returns the response code carried by err.
func Code(err error) int {
	return From(err).Code
}

// Failed is a request the gateway could not complete and the sender may
// retry.
func Failed(format string, args ...any) *Error {
	return New(http.StatusRequestedRangeNotSatisfiable, format, args...)
}
