// Package errors defines stable error codes for plangraph failure modes.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents stable error codes for all failure modes
type ErrorCode string

const (
	// ConfigInvalid indicates a malformed configuration value: an unknown
	// enum string, recipe weights that do not sum to one, an out-of-range
	// depth or decay. Fatal at validation time.
	ConfigInvalid ErrorCode = "CONFIG_INVALID"
	// ReferenceInvalid indicates a relationship pointing at a nonexistent
	// entity. Fatal at the storage layer; the enclosing transaction aborts.
	ReferenceInvalid ErrorCode = "REFERENCE_INVALID"
	// EntityNotFound indicates a lookup by unknown canonical id.
	EntityNotFound ErrorCode = "ENTITY_NOT_FOUND"
	// RecipeInvalid indicates a search recipe that violates its constraints.
	RecipeInvalid ErrorCode = "RECIPE_INVALID"
	// RecipeUnknown indicates a request for a recipe name with no preset.
	RecipeUnknown ErrorCode = "RECIPE_UNKNOWN"
	// InternalError indicates an unexpected error.
	InternalError ErrorCode = "INTERNAL_ERROR"
)

// Error represents a plangraph error with a stable code and optional cause.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	cause   error
}

// New creates a new Error.
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a new Error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a new Error wrapping a cause.
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.cause
}

// HasCode reports whether err is (or wraps) a plangraph Error with the given code.
func HasCode(err error, code ErrorCode) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}

// IsNotFound reports whether err is an EntityNotFound error.
func IsNotFound(err error) bool {
	return HasCode(err, EntityNotFound)
}
