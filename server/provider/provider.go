// Package provider defines the capability contract shared by every
// text-generation backend and implements the concrete backends: a canned
// mock, the Gemini REST API, the OpenAI API and any vendor reachable
// through gollm.
package provider

import (
	"context"
	"errors"
)

var (
	// ErrNoCandidates is returned when a response carries no generated text
	ErrNoCandidates = errors.New("no candidates in provider response")

	// ErrUnknownType is returned by New for an unsupported provider type
	ErrUnknownType = errors.New("unknown provider type")
)

// Provider is an interchangeable text-generation backend.
type Provider interface {
	// Name identifies the provider in logs, metrics and usage records.
	Name() string

	// Generate returns the complete response for prompt.
	Generate(ctx context.Context, prompt string) (string, error)

	// Stream starts a generation and returns its chunks lazily. An error
	// here means the generation could not be started.
	Stream(ctx context.Context, prompt string) (Stream, error)

	// CountTokens estimates the number of tokens in text.
	CountTokens(text string) int

	// EstimateCost estimates the price of sending text to the provider.
	EstimateCost(text string) float64
}

// Stream iterates over response chunks. Callers loop on Next, read Chunk,
// check Err once Next returns false, and always Close.
//
//	for s.Next() {
//	    fmt.Print(s.Chunk())
//	}
//	if err := s.Err(); err != nil { ... }
type Stream interface {
	Next() bool
	Chunk() string
	Err() error
	Close() error
}

// SliceStream returns a Stream over already-known chunks.
func SliceStream(chunks ...string) Stream {
	return &sliceStream{chunks: chunks, pos: -1}
}

type sliceStream struct {
	chunks []string
	pos    int
	closed bool
}

func (s *sliceStream) Next() bool {
	if s.closed || s.pos+1 >= len(s.chunks) {
		return false
	}
	s.pos++
	return true
}

func (s *sliceStream) Chunk() string {
	if s.pos < 0 || s.pos >= len(s.chunks) {
		return ""
	}
	return s.chunks[s.pos]
}

func (s *sliceStream) Err() error { return nil }

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}

// Collect drains s and joins its chunks. The stream is closed afterwards.
func Collect(s Stream) (string, error) {
	defer s.Close()
	var out []byte
	for s.Next() {
		out = append(out, s.Chunk()...)
	}
	return string(out), s.Err()
}

// meta carries the fields every backend shares.
type meta struct {
	name      string
	counter   TokenCounter
	costPer1K float64
}

func (m meta) Name() string { return m.name }

func (m meta) CountTokens(text string) int {
	return m.counter.CountTokens(text)
}

func (m meta) EstimateCost(text string) float64 {
	return float64(m.CountTokens(text)) / 1000 * m.costPer1K
}
