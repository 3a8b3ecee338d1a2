package errors

import (
	"net/http"
)

// NewError creates a new ChatError with the given parameters.
// It is a general-purpose constructor that allows full control over
// the error's fields. For most cases, you should use one of the
// specialized constructors below.
//
// Example:
//
//	err := NewError(InternalError, "database connection failed", 500, "req_123", nil, dbErr)
func NewError(errType ErrorType, message string, code int, requestID string, details map[string]interface{}, err error) *ChatError {
	return &ChatError{
		Type:      errType,
		Message:   message,
		Code:      code,
		RequestID: requestID,
		Details:   details,
		err:       err,
	}
}

// NewAuthError creates an authentication error with appropriate defaults.
func NewAuthError(requestID, message string, err error) *ChatError {
	return &ChatError{
		Type:      AuthError,
		Message:   message,
		Code:      http.StatusUnauthorized,
		RequestID: requestID,
		err:       err,
		Details: map[string]interface{}{
			"suggestion": "Please check your authentication credentials",
		},
	}
}

// NewValidationError creates a validation error with appropriate defaults.
// Use this for missing required fields and oversized input.
//
// Example:
//
//	err := NewValidationError("req_123", "Message too long", map[string]interface{}{
//	    "field":      "text",
//	    "max_length": 500,
//	})
func NewValidationError(requestID, message string, validationDetails map[string]interface{}) *ChatError {
	return &ChatError{
		Type:      ValidationError,
		Message:   message,
		Code:      http.StatusBadRequest,
		RequestID: requestID,
		Details:   validationDetails,
	}
}

var threatMessages = map[ErrorType]string{
	Profanity:       "Profanity detected in message",
	PromptInjection: "Prompt injection attempt detected",
	SQLInjection:    "Possible SQL injection detected",
}

// NewThreatError creates the rejection for a positive threat screen.
// The category must be one of Profanity, PromptInjection or SQLInjection.
// The message never echoes the matched text or pattern.
func NewThreatError(requestID string, category ErrorType) *ChatError {
	msg, ok := threatMessages[category]
	if !ok {
		msg = "Message rejected"
	}
	return &ChatError{
		Type:      category,
		Message:   msg,
		Code:      http.StatusBadRequest,
		RequestID: requestID,
	}
}

// IsThreat reports whether t is one of the threat screen categories.
func IsThreat(t ErrorType) bool {
	_, ok := threatMessages[t]
	return ok
}

// NewRateLimitError creates a rate limit error with appropriate defaults.
// retryAfter is the number of seconds until the oldest request in the
// window expires.
//
// Example:
//
//	err := NewRateLimitError("req_123", 30)
func NewRateLimitError(requestID string, retryAfter int) *ChatError {
	return &ChatError{
		Type:      RateLimitError,
		Message:   "Rate limit exceeded",
		Code:      http.StatusTooManyRequests,
		RequestID: requestID,
		Details: map[string]interface{}{
			"retry_after": retryAfter,
		},
	}
}

// NewFramingError is returned when the framed prompt cannot be brought
// under the length ceiling.
func NewFramingError(requestID string, ceiling int) *ChatError {
	return &ChatError{
		Type:      FramingTooLong,
		Message:   "Message too long after applying the prompt template",
		Code:      http.StatusBadRequest,
		RequestID: requestID,
		Details: map[string]interface{}{
			"max_prompt_length": ceiling,
		},
	}
}

// NewProviderError creates a provider error with appropriate defaults.
func NewProviderError(requestID string, message string, err error) *ChatError {
	return &ChatError{
		Type:      ProviderError,
		Message:   message,
		Code:      http.StatusBadGateway,
		RequestID: requestID,
		err:       err,
	}
}

// NewGenerationUnavailableError is the only provider-related failure a
// client ever sees. The last provider error is kept for logging.
func NewGenerationUnavailableError(requestID string, err error) *ChatError {
	return &ChatError{
		Type:      GenerationUnavailable,
		Message:   "Response generation is currently unavailable, please try again later",
		Code:      http.StatusServiceUnavailable,
		RequestID: requestID,
		err:       err,
	}
}

// NewStorageError wraps a persistence failure. Driver details stay internal.
func NewStorageError(requestID string, err error) *ChatError {
	return &ChatError{
		Type:      StorageError,
		Message:   "A storage error occurred",
		Code:      http.StatusInternalServerError,
		RequestID: requestID,
		err:       err,
	}
}

// NewMarkdownError reports generated text that could not be rendered.
// The pipeline recovers from it by returning the raw text.
func NewMarkdownError(requestID string, err error) *ChatError {
	return &ChatError{
		Type:      InvalidMarkdown,
		Message:   "Generated content is not valid markdown",
		Code:      http.StatusInternalServerError,
		RequestID: requestID,
		err:       err,
	}
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(requestID, message string) *ChatError {
	return &ChatError{
		Type:      NotFoundError,
		Message:   message,
		Code:      http.StatusNotFound,
		RequestID: requestID,
	}
}

// NewInternalError creates an internal server error with appropriate defaults.
// Use this for unexpected errors that are not covered by other error types.
//
// Example:
//
//	err := NewInternalError("req_123", dbErr)
func NewInternalError(requestID string, err error) *ChatError {
	return &ChatError{
		Type:      InternalError,
		Message:   "An internal error occurred",
		Code:      http.StatusInternalServerError,
		RequestID: requestID,
		err:       err,
	}
}
