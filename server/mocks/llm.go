package mocks

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/teilomillet/gollm"
	"github.com/teilomillet/gollm/llm"
	"github.com/teilomillet/gollm/utils"
)

// MockLLM is a gollm.LLM double used to exercise the gollm provider
// adapter without network calls.
//
//	llm := NewMockLLM(func(ctx context.Context, p *gollm.Prompt) (string, error) {
//	    return "mocked response", nil
//	})
type MockLLM struct {
	GenerateFunc func(context.Context, *gollm.Prompt) (string, error)
	Provider     string
	Model        string

	// Delay is slept (context-aware) before each generation.
	Delay time.Duration

	calls atomic.Int64
}

// NewMockLLM creates a MockLLM. A nil generateFunc yields empty completions.
func NewMockLLM(generateFunc func(context.Context, *gollm.Prompt) (string, error)) *MockLLM {
	return &MockLLM{
		GenerateFunc: generateFunc,
		Provider:     "mock",
		Model:        "mock-model",
	}
}

// Calls returns how many generations were requested.
func (m *MockLLM) Calls() int {
	return int(m.calls.Load())
}

func (m *MockLLM) Generate(ctx context.Context, prompt *gollm.Prompt, opts ...llm.GenerateOption) (string, error) {
	m.calls.Add(1)
	if m.Delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(m.Delay):
		}
	}
	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, prompt)
	}
	return "", nil
}

func (m *MockLLM) GenerateWithSchema(ctx context.Context, prompt *gollm.Prompt, schema interface{}, opts ...llm.GenerateOption) (string, error) {
	return m.Generate(ctx, prompt, opts...)
}

func (m *MockLLM) Debug(format string, args ...interface{}) {}

func (m *MockLLM) GetPromptJSONSchema(opts ...gollm.SchemaOption) ([]byte, error) {
	return []byte(`{}`), nil
}

func (m *MockLLM) GetProvider() string { return m.Provider }

func (m *MockLLM) GetModel() string { return m.Model }

func (m *MockLLM) GetLogLevel() gollm.LogLevel { return gollm.LogLevelInfo }

func (m *MockLLM) UpdateLogLevel(level gollm.LogLevel) {}

func (m *MockLLM) SetLogLevel(level gollm.LogLevel) {}

// GetLogger returns nil; nothing in the adapter logs through gollm.
func (m *MockLLM) GetLogger() utils.Logger { return nil }

func (m *MockLLM) NewPrompt(text string) *gollm.Prompt {
	return gollm.NewPrompt(text)
}

func (m *MockLLM) SetEndpoint(endpoint string) {}

func (m *MockLLM) SetOption(key string, value interface{}) {}

func (m *MockLLM) SupportsJSONSchema() bool { return true }

func (m *MockLLM) SetOllamaEndpoint(endpoint string) error { return nil }

func (m *MockLLM) SetSystemPrompt(prompt string, cacheType llm.CacheType) {}
