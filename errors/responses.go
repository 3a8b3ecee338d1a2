// Package errors provides error response utilities.
package errors

import (
	"errors"
)

// ErrorResponse represents the error body returned to clients. It mirrors
// the JSON form of ChatError and is mostly used when decoding responses.
type ErrorResponse struct {
	Type      ErrorType              `json:"type"`
	Message   string                 `json:"message"`
	RequestID string                 `json:"request_id"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// As is a wrapper around errors.As for better error type assertion
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Is is a wrapper around errors.Is
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// TypeOf returns the category of err, or InternalError if err is not a
// ChatError anywhere in its chain.
func TypeOf(err error) ErrorType {
	var chatErr *ChatError
	if errors.As(err, &chatErr) {
		return chatErr.Type
	}
	return InternalError
}
