package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	// DefaultGeminiEndpoint is the REST base of the Generative Language API
	DefaultGeminiEndpoint = "https://generativelanguage.googleapis.com/v1beta"

	candidateTextPath = "candidates.0.content.parts.0.text"
	maxErrorBody      = 512
)

// RemoteProvider calls the Gemini generateContent REST API directly.
type RemoteProvider struct {
	meta
	client   *http.Client
	endpoint string
	model    string
	apiKey   string
	logger   *zap.Logger
}

// RemoteOptions configures a RemoteProvider.
type RemoteOptions struct {
	Name      string
	Model     string
	APIKey    string
	Endpoint  string
	Timeout   time.Duration
	CostPer1K float64
	Counter   TokenCounter
	Client    *http.Client
}

// NewRemote creates a Gemini REST provider.
func NewRemote(opts RemoteOptions, logger *zap.Logger) *RemoteProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultGeminiEndpoint
	}
	if opts.Model == "" {
		opts.Model = "gemini-2.5-flash"
	}
	if opts.Name == "" {
		opts.Name = "gemini"
	}
	if opts.Counter == nil {
		opts.Counter = HeuristicCounter{}
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &RemoteProvider{
		meta:     meta{name: opts.Name, counter: opts.Counter, costPer1K: opts.CostPer1K},
		client:   client,
		endpoint: strings.TrimRight(opts.Endpoint, "/"),
		model:    opts.Model,
		apiKey:   opts.APIKey,
		logger:   logger,
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

func (p *RemoteProvider) url(method string) string {
	return fmt.Sprintf("%s/models/%s:%s", p.endpoint, p.model, method)
}

func (p *RemoteProvider) post(ctx context.Context, method, prompt string) (*http.Response, error) {
	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url(method), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-goog-api-key", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", p.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%s returned status %d: %s", p.name, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return resp, nil
}

// Generate implements Provider.
func (p *RemoteProvider) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := p.post(ctx, "generateContent", prompt)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return "", fmt.Errorf("%s returned malformed JSON", p.name)
	}
	text := gjson.GetBytes(data, candidateTextPath)
	if !text.Exists() {
		return "", ErrNoCandidates
	}
	return text.String(), nil
}

// Stream implements Provider. A JSON body (object or array of objects) is
// replayed chunk by chunk; anything else is read as NDJSON or SSE lines.
// Lines that are not valid JSON or carry no candidate text are skipped.
func (p *RemoteProvider) Stream(ctx context.Context, prompt string) (Stream, error) {
	resp, err := p.post(ctx, "streamGenerateContent", prompt)
	if err != nil {
		return nil, err
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		return SliceStream(chunksFromJSON(data)...), nil
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	return &lineStream{body: resp.Body, scanner: scanner, logger: p.logger}, nil
}

// chunksFromJSON extracts candidate text from a single response object or
// an array of them.
func chunksFromJSON(data []byte) []string {
	if !gjson.ValidBytes(data) {
		return nil
	}
	root := gjson.ParseBytes(data)
	var chunks []string
	collect := func(obj gjson.Result) {
		if text := obj.Get(candidateTextPath); text.Exists() {
			chunks = append(chunks, text.String())
		}
	}
	if root.IsArray() {
		root.ForEach(func(_, obj gjson.Result) bool {
			collect(obj)
			return true
		})
	} else {
		collect(root)
	}
	return chunks
}

// lineStream reads one JSON document per line.
type lineStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	logger  *zap.Logger
	chunk   string
	closed  bool
}

func (s *lineStream) Next() bool {
	if s.closed {
		return false
	}
	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		line = bytes.TrimPrefix(line, []byte("data:"))
		line = bytes.TrimSpace(line)
		// Arrays streamed line by line start with '[' or ',' and end with ']'.
		line = bytes.TrimLeft(line, "[,")
		line = bytes.TrimRight(line, ",]")
		if len(line) == 0 {
			continue
		}
		if !gjson.ValidBytes(line) {
			s.logger.Debug("skipping malformed stream chunk", zap.Int("bytes", len(line)))
			continue
		}
		text := gjson.GetBytes(line, candidateTextPath)
		if !text.Exists() {
			continue
		}
		s.chunk = text.String()
		return true
	}
	return false
}

func (s *lineStream) Chunk() string { return s.chunk }

func (s *lineStream) Err() error {
	if s.closed {
		return nil
	}
	return s.scanner.Err()
}

func (s *lineStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}
