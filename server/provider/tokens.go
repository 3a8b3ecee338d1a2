package provider

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates token counts for cost accounting.
type TokenCounter interface {
	CountTokens(text string) int
}

// HeuristicCounter assumes a fixed number of characters per token and
// never reports fewer than one token.
type HeuristicCounter struct {
	CharsPerToken int
}

// CountTokens implements TokenCounter.
func (h HeuristicCounter) CountTokens(text string) int {
	per := h.CharsPerToken
	if per <= 0 {
		per = 4
	}
	n := utf8.RuneCountInString(text) / per
	if n < 1 {
		return 1
	}
	return n
}

// TiktokenCounter counts tokens with the BPE encoding of an OpenAI model.
// The encoding is loaded on first use because tiktoken may need to fetch it.
type TiktokenCounter struct {
	model    string
	fallback TokenCounter

	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

// NewTiktokenCounter returns a counter for model. If the encoding cannot
// be loaded, counts fall back to the heuristic.
func NewTiktokenCounter(model string) *TiktokenCounter {
	return &TiktokenCounter{model: model, fallback: HeuristicCounter{}}
}

func (t *TiktokenCounter) load() {
	t.enc, t.err = tiktoken.EncodingForModel(t.model)
	if t.err != nil {
		// Non-OpenAI model names still get a reasonable BPE.
		t.enc, t.err = tiktoken.GetEncoding("cl100k_base")
	}
	if t.err != nil {
		t.err = fmt.Errorf("load tiktoken encoding for %s: %w", t.model, t.err)
	}
}

// Err reports why the encoding could not be loaded, if it could not.
func (t *TiktokenCounter) Err() error {
	t.once.Do(t.load)
	return t.err
}

// CountTokens implements TokenCounter.
func (t *TiktokenCounter) CountTokens(text string) int {
	t.once.Do(t.load)
	if t.err != nil {
		return t.fallback.CountTokens(text)
	}
	n := len(t.enc.Encode(text, nil, nil))
	if n < 1 {
		return 1
	}
	return n
}
