package provider

import (
	"context"
	"fmt"

	"github.com/teilomillet/gollm"
)

// GollmProvider adapts any gollm backend (anthropic, ollama, groq, ...) to
// Provider. gollm has no streaming API, so Stream yields the whole
// completion as a single chunk.
type GollmProvider struct {
	meta
	llm gollm.LLM
}

// NewGollm wraps an existing gollm.LLM.
func NewGollm(name string, llm gollm.LLM, counter TokenCounter, costPer1K float64) *GollmProvider {
	if counter == nil {
		counter = HeuristicCounter{}
	}
	return &GollmProvider{
		meta: meta{name: name, counter: counter, costPer1K: costPer1K},
		llm:  llm,
	}
}

// DialGollm builds a gollm client for backend and wraps it.
func DialGollm(name, backend, model, apiKey string, counter TokenCounter, costPer1K float64) (*GollmProvider, error) {
	llm, err := gollm.NewLLM(
		gollm.SetProvider(backend),
		gollm.SetModel(model),
		gollm.SetAPIKey(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize provider %s: %w", name, err)
	}
	return NewGollm(name, llm, counter, costPer1K), nil
}

// Generate implements Provider.
func (p *GollmProvider) Generate(ctx context.Context, prompt string) (string, error) {
	out, err := p.llm.Generate(ctx, gollm.NewPrompt(prompt))
	if err != nil {
		return "", fmt.Errorf("%s generate failed: %w", p.name, err)
	}
	return out, nil
}

// Stream implements Provider.
func (p *GollmProvider) Stream(ctx context.Context, prompt string) (Stream, error) {
	out, err := p.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return SliceStream(out), nil
}
