// Package processing runs a chat message through the guard pipeline:
// sanitization, threat screens, rate limiting, framing, generation and
// postprocessing.
package processing

import (
	"github.com/teilomillet/chatguard/server/postprocess"
	"github.com/teilomillet/chatguard/server/provider"
)

// Request is one chat message from a user.
type Request struct {
	UserID    string `json:"user_id"`
	Text      string `json:"text"`
	QueryType string `json:"query_type,omitempty"`

	// RequestID is attached to rejections for correlation.
	RequestID string `json:"-"`
}

// Response is the postprocessed answer to a Request.
type Response struct {
	Response         string                  `json:"response"`
	HTML             string                  `json:"html,omitempty"`
	QueryType        string                  `json:"query_type"`
	Provider         string                  `json:"provider"`
	FlaggedSentences []string                `json:"flagged_sentences,omitempty"`
	Truncated        bool                    `json:"truncated"`
	Links            []postprocess.Link      `json:"links,omitempty"`
	CodeBlocks       []postprocess.CodeBlock `json:"code_blocks,omitempty"`
}

// StreamResponse is an open generation stream. Callers must Close it.
type StreamResponse struct {
	provider.Stream
	Provider  string
	QueryType string
}
