// Package ragerr defines the typed error taxonomy that crosses the core
// boundary. No provider or database error escapes the core unwrapped; every
// exported function that can fail returns one of these codes.
package ragerr

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error classification.
type Code string

const (
	Validation         Code = "VALIDATION_ERROR"
	NotFound           Code = "NOT_FOUND"
	Forbidden          Code = "FORBIDDEN"
	Conflict           Code = "CONFLICT"
	ServiceUnavailable Code = "SERVICE_UNAVAILABLE"
	Unauthorized       Code = "UNAUTHORIZED"
	RateLimited        Code = "RATE_LIMITED"
	PayloadTooLarge    Code = "PAYLOAD_TOO_LARGE"
	Internal           Code = "INTERNAL"
)

// Error is the typed error carried across the core boundary.
type Error struct {
	Code    Code
	Message string
	Field   string // optional, set for field-level validation errors
	cause   error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field=%s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a typed error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds a typed error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// Field builds a VALIDATION_ERROR with a field-level annotation.
func Field(field, message string) *Error {
	return &Error{Code: Validation, Message: message, Field: field}
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf extracts the Code from err, defaulting to Internal for untyped errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}
