package errors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstructorsMapToStatusCodes(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		name     string
		err      *ChatError
		wantType ErrorType
		wantCode int
	}{
		{"validation", NewValidationError("r", "bad", nil), ValidationError, http.StatusBadRequest},
		{"profanity", NewThreatError("r", Profanity), Profanity, http.StatusBadRequest},
		{"prompt injection", NewThreatError("r", PromptInjection), PromptInjection, http.StatusBadRequest},
		{"sql injection", NewThreatError("r", SQLInjection), SQLInjection, http.StatusBadRequest},
		{"rate limit", NewRateLimitError("r", 12), RateLimitError, http.StatusTooManyRequests},
		{"framing", NewFramingError("r", 500), FramingTooLong, http.StatusBadRequest},
		{"provider", NewProviderError("r", "down", cause), ProviderError, http.StatusBadGateway},
		{"unavailable", NewGenerationUnavailableError("r", cause), GenerationUnavailable, http.StatusServiceUnavailable},
		{"storage", NewStorageError("r", cause), StorageError, http.StatusInternalServerError},
		{"markdown", NewMarkdownError("r", cause), InvalidMarkdown, http.StatusInternalServerError},
		{"auth", NewAuthError("r", "no token", nil), AuthError, http.StatusUnauthorized},
		{"not found", NewNotFoundError("r", "missing"), NotFoundError, http.StatusNotFound},
		{"internal", NewInternalError("r", cause), InternalError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantType, tt.err.Type)
			assert.Equal(t, tt.wantCode, tt.err.Code)
			assert.Equal(t, "r", tt.err.RequestID)
			assert.NotEmpty(t, tt.err.Message)
		})
	}
}

func TestRateLimitErrorCarriesRetryAfter(t *testing.T) {
	err := NewRateLimitError("req", 42)
	assert.Equal(t, 42, err.Details["retry_after"])
}

func TestGenerationUnavailableKeepsCauseInternal(t *testing.T) {
	cause := errors.New("gemini: 503")
	err := NewGenerationUnavailableError("req", cause)

	assert.True(t, errors.Is(err, cause))
	assert.NotContains(t, err.Message, "gemini")
}

func TestIsThreat(t *testing.T) {
	assert.True(t, IsThreat(Profanity))
	assert.True(t, IsThreat(PromptInjection))
	assert.True(t, IsThreat(SQLInjection))
	assert.False(t, IsThreat(ValidationError))
	assert.False(t, IsThreat(RateLimitError))
}

func TestWithRequestID(t *testing.T) {
	base := NewThreatError("", Profanity)
	bound := base.WithRequestID("abc")

	assert.Equal(t, "abc", bound.RequestID)
	assert.Empty(t, base.RequestID)
	assert.True(t, errors.Is(bound, base))
}
