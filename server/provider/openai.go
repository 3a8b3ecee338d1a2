package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sashabaranov/go-openai"
)

// OpenAIProvider talks to the OpenAI chat completions API or any server
// that speaks the same protocol.
type OpenAIProvider struct {
	meta
	client *openai.Client
	model  string
}

// OpenAIOptions configures an OpenAIProvider.
type OpenAIOptions struct {
	Name      string
	Model     string
	APIKey    string
	Endpoint  string
	CostPer1K float64
	Counter   TokenCounter
	Client    *http.Client
}

// NewOpenAI creates an OpenAI-compatible provider. Endpoint overrides the
// API base URL.
func NewOpenAI(opts OpenAIOptions) *OpenAIProvider {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.Endpoint != "" {
		cfg.BaseURL = opts.Endpoint
	}
	if opts.Client != nil {
		cfg.HTTPClient = opts.Client
	}
	if opts.Model == "" {
		opts.Model = openai.GPT4oMini
	}
	if opts.Name == "" {
		opts.Name = "openai"
	}
	if opts.Counter == nil {
		opts.Counter = NewTiktokenCounter(opts.Model)
	}
	return &OpenAIProvider{
		meta:   meta{name: opts.Name, counter: opts.Counter, costPer1K: opts.CostPer1K},
		client: openai.NewClientWithConfig(cfg),
		model:  opts.Model,
	}
}

func (p *OpenAIProvider) request(prompt string, stream bool) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Stream: stream,
	}
}

// Generate implements Provider.
func (p *OpenAIProvider) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.request(prompt, false))
	if err != nil {
		return "", fmt.Errorf("%s completion failed: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoCandidates
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream implements Provider.
func (p *OpenAIProvider) Stream(ctx context.Context, prompt string) (Stream, error) {
	s, err := p.client.CreateChatCompletionStream(ctx, p.request(prompt, true))
	if err != nil {
		return nil, fmt.Errorf("%s stream failed: %w", p.name, err)
	}
	return &openAIStream{stream: s}, nil
}

type openAIStream struct {
	stream *openai.ChatCompletionStream
	chunk  string
	err    error
	done   bool
}

func (s *openAIStream) Next() bool {
	for !s.done {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			s.done = true
			return false
		}
		if err != nil {
			s.err = err
			s.done = true
			return false
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
			continue
		}
		s.chunk = resp.Choices[0].Delta.Content
		return true
	}
	return false
}

func (s *openAIStream) Chunk() string { return s.chunk }

func (s *openAIStream) Err() error { return s.err }

func (s *openAIStream) Close() error {
	s.done = true
	s.stream.Close()
	return nil
}
