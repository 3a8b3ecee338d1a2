// Package errors provides the error handling system for the chatguard server.
// It includes structured error types for every pipeline rejection category,
// JSON response formatting, request ID tracking, and integrated logging with
// Uber's zap logger.
//
// Basic usage:
//
//	// Simple error response
//	errors.Error(w, "Something went wrong", http.StatusBadRequest)
//
//	// Type-specific error with context
//	errors.ErrorWithType(w, "Invalid input", errors.ValidationError, http.StatusBadRequest)
//
// For pipeline rejections, use the constructors in types.go:
//
//	err := errors.NewThreatError(requestID, errors.PromptInjection)
package errors

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// DefaultLogger is the default zap logger instance used throughout the package.
// It is initialized to a production configuration but can be overridden using SetLogger.
var DefaultLogger *zap.Logger

func init() {
	var err error
	DefaultLogger, err = zap.NewProduction()
	if err != nil {
		DefaultLogger = zap.NewNop()
	}
}

// SetLogger allows setting a custom zap logger instance.
// If nil is provided, the function will do nothing to prevent
// accidentally disabling logging.
func SetLogger(logger *zap.Logger) {
	if logger != nil {
		DefaultLogger = logger
	}
}

// ErrorType is the category reported to clients. Every terminal outcome of
// the message pipeline maps to exactly one ErrorType.
type ErrorType string

const (
	// ValidationError represents missing or oversized input
	ValidationError ErrorType = "validation_error"

	// Profanity means the message contains a denylisted word
	Profanity ErrorType = "profanity"

	// PromptInjection means the message matched an instruction-override pattern
	PromptInjection ErrorType = "prompt_injection"

	// SQLInjection means the message matched the SQL keyword heuristic
	SQLInjection ErrorType = "sql_injection"

	// RateLimitError represents a user exceeding the sliding window quota
	RateLimitError ErrorType = "rate_limit_error"

	// FramingTooLong means the prompt could not be fitted under the ceiling
	FramingTooLong ErrorType = "framing_too_long"

	// ProviderError represents a single provider failure (retried internally)
	ProviderError ErrorType = "provider_error"

	// GenerationUnavailable means every configured provider was exhausted
	GenerationUnavailable ErrorType = "generation_unavailable"

	// StorageError represents a failure of the conversation or context store
	StorageError ErrorType = "storage_error"

	// InvalidMarkdown means the generated text could not be rendered
	InvalidMarkdown ErrorType = "invalid_markdown"

	// AuthError represents authentication and authorization failures
	AuthError ErrorType = "authentication_error"

	// InternalError represents unexpected internal server errors
	InternalError ErrorType = "internal_error"

	// ConfigError represents configuration-related errors
	ConfigError ErrorType = "config_error"

	// BadRequestError represents invalid request format or parameters
	BadRequestError ErrorType = "bad_request"

	// NotFoundError represents resource not found errors
	NotFoundError ErrorType = "not_found"
)

// ChatError is our custom error type that implements the error interface
// and provides additional context about the error. It is serialized to JSON
// for API responses while the wrapped cause stays internal.
type ChatError struct {
	// Type categorizes the error for client handling
	Type ErrorType `json:"type"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Code is the HTTP status code (not exposed in JSON)
	Code int `json:"-"`

	// RequestID links the error to a specific request
	RequestID string `json:"request_id"`

	// Details contains additional error context
	Details map[string]interface{} `json:"details,omitempty"`

	// err is the underlying error (not exposed in JSON)
	err error
}

// Error implements the error interface. It returns a string that
// combines the error type, message, and underlying error (if any).
func (e *ChatError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error, implementing the unwrap
// interface for error chains.
func (e *ChatError) Unwrap() error {
	return e.err
}

// Is implements error matching for errors.Is, allowing type-based
// error matching while ignoring other fields.
func (e *ChatError) Is(target error) bool {
	t, ok := target.(*ChatError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithRequestID returns a copy of the error bound to requestID.
func (e *ChatError) WithRequestID(requestID string) *ChatError {
	cp := *e
	cp.RequestID = requestID
	return &cp
}

// WriteError formats and writes a ChatError to an http.ResponseWriter.
// It sets the appropriate content type and status code, then writes
// the error as a JSON response.
func WriteError(w http.ResponseWriter, err *ChatError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Code)
	json.NewEncoder(w).Encode(err)
}
