package provider

import (
	"context"
	"math/rand"
	"strings"
	"sync"
)

// DefaultMockResponses are the canned replies of the mock provider.
var DefaultMockResponses = []string{
	"This is a mock response.",
	"Hello from the mock LLM!",
	"Test response: everything is working.",
	"[MOCK] LLM output.",
}

// MockProvider answers with a random canned response. It never fails.
type MockProvider struct {
	meta
	responses []string

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewMock creates a mock provider. An empty responses slice uses the defaults.
func NewMock(name string, responses []string, seed int64) *MockProvider {
	if len(responses) == 0 {
		responses = DefaultMockResponses
	}
	if name == "" {
		name = "mock"
	}
	return &MockProvider{
		meta:      meta{name: name, counter: HeuristicCounter{}},
		responses: responses,
		rnd:       rand.New(rand.NewSource(seed)),
	}
}

// Generate implements Provider.
func (m *MockProvider) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.responses[m.rnd.Intn(len(m.responses))], nil
}

// Stream implements Provider by splitting a canned response into words.
func (m *MockProvider) Stream(ctx context.Context, prompt string) (Stream, error) {
	text, err := m.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	words := strings.SplitAfter(text, " ")
	return SliceStream(words...), nil
}
