package mocks

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/teilomillet/chatguard/server/provider"
)

// ErrScripted is the default failure returned by scripted providers.
var ErrScripted = errors.New("scripted provider failure")

// Provider is a provider.Provider whose behaviour is scripted per call.
type Provider struct {
	ProviderName string

	// Respond is called with the zero-based call index.
	Respond func(ctx context.Context, prompt string, call int) (string, error)

	mu      sync.Mutex
	calls   int
	prompts []string
}

var _ provider.Provider = (*Provider)(nil)

// NewProvider returns a provider that always answers text.
func NewProvider(name, text string) *Provider {
	return &Provider{
		ProviderName: name,
		Respond: func(context.Context, string, int) (string, error) {
			return text, nil
		},
	}
}

// FailingProvider always returns err (ErrScripted when nil).
func FailingProvider(name string, err error) *Provider {
	if err == nil {
		err = ErrScripted
	}
	return &Provider{
		ProviderName: name,
		Respond: func(context.Context, string, int) (string, error) {
			return "", err
		},
	}
}

// FlakyProvider fails its first failures calls and then answers text.
func FlakyProvider(name string, failures int, text string) *Provider {
	return &Provider{
		ProviderName: name,
		Respond: func(_ context.Context, _ string, call int) (string, error) {
			if call < failures {
				return "", ErrScripted
			}
			return text, nil
		},
	}
}

func (p *Provider) Name() string { return p.ProviderName }

func (p *Provider) Generate(ctx context.Context, prompt string) (string, error) {
	p.mu.Lock()
	call := p.calls
	p.calls++
	p.prompts = append(p.prompts, prompt)
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	return p.Respond(ctx, prompt, call)
}

// Stream splits the scripted answer into words.
func (p *Provider) Stream(ctx context.Context, prompt string) (provider.Stream, error) {
	text, err := p.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return provider.SliceStream(strings.SplitAfter(text, " ")...), nil
}

func (p *Provider) CountTokens(text string) int {
	return provider.HeuristicCounter{}.CountTokens(text)
}

// EstimateCost charges one unit per thousand tokens.
func (p *Provider) EstimateCost(text string) float64 {
	return float64(p.CountTokens(text)) / 1000
}

// Calls returns the number of Generate or Stream calls made.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Prompts returns every prompt received, in order.
func (p *Provider) Prompts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.prompts...)
}
