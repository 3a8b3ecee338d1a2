package provider

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/teilomillet/chatguard/config"
)

// New builds the provider described by cfg.
func New(name string, cfg config.ProviderConfig, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	counter := counterFor(cfg)

	switch cfg.Type {
	case "mock":
		m := NewMock(name, cfg.Responses, time.Now().UnixNano())
		m.counter = counter
		m.costPer1K = cfg.CostPer1KTokens
		return m, nil

	case "gemini":
		return NewRemote(RemoteOptions{
			Name:      name,
			Model:     cfg.Model,
			APIKey:    cfg.APIKey,
			Endpoint:  cfg.Endpoint,
			Timeout:   cfg.Timeout,
			CostPer1K: cfg.CostPer1KTokens,
			Counter:   counter,
		}, logger.With(zap.String("provider", name))), nil

	case "openai":
		return NewOpenAI(OpenAIOptions{
			Name:      name,
			Model:     cfg.Model,
			APIKey:    cfg.APIKey,
			Endpoint:  cfg.Endpoint,
			CostPer1K: cfg.CostPer1KTokens,
			Counter:   counter,
		}), nil

	case "gollm":
		return DialGollm(name, cfg.Backend, cfg.Model, cfg.APIKey, counter, cfg.CostPer1KTokens)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, cfg.Type)
}

// NewAll builds every configured provider keyed by name.
func NewAll(cfgs map[string]config.ProviderConfig, logger *zap.Logger) (map[string]Provider, error) {
	out := make(map[string]Provider, len(cfgs))
	for name, pc := range cfgs {
		p, err := New(name, pc, logger)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		out[name] = p
	}
	return out, nil
}

func counterFor(cfg config.ProviderConfig) TokenCounter {
	if cfg.Tokenizer == "tiktoken" {
		return NewTiktokenCounter(cfg.Model)
	}
	return HeuristicCounter{}
}
