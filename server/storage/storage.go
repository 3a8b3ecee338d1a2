// Package storage persists conversations, indexed context chunks and usage
// telemetry. Every operation is keyed by user id.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a user has no stored conversation.
var ErrNotFound = errors.New("conversation not found")

// Message is one user message. It is immutable once appended.
type Message struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	QueryType string    `json:"query_type"`
}

// Conversation is the append-only message log of a single user.
type Conversation struct {
	UserID    string    `json:"user_id"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Chunk is a piece of an uploaded document indexed for keyword search.
type Chunk struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Source    string    `json:"source"`
	Text      string    `json:"text"`
	Keywords  []string  `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// UsageRecord is write-only telemetry for one billed generation.
type UsageRecord struct {
	UserID    string    `json:"user_id"`
	Provider  string    `json:"provider"`
	Tokens    int       `json:"tokens"`
	Cost      float64   `json:"cost"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationStore is the conversation side of the storage collaborator.
type ConversationStore interface {
	HasConversation(ctx context.Context, userID string) (bool, error)

	// AppendMessage creates the conversation on first use and refreshes
	// its updated_at on every append.
	AppendMessage(ctx context.Context, userID string, msg Message) error

	// Conversation returns ErrNotFound for unknown users.
	Conversation(ctx context.Context, userID string) (*Conversation, error)

	// DeleteConversation removes a user's conversation. Used by tests and cleanup.
	DeleteConversation(ctx context.Context, userID string) error
}

// ChunkStore holds indexed context chunks.
type ChunkStore interface {
	SaveChunks(ctx context.Context, chunks []Chunk) error
	Chunks(ctx context.Context, userID string) ([]Chunk, error)
}

// UsageSink receives usage records.
type UsageSink interface {
	RecordUsage(ctx context.Context, rec UsageRecord) error
}

// Store is a complete storage backend.
type Store interface {
	ConversationStore
	ChunkStore
	UsageSink
	Ping(ctx context.Context) error
	Close() error
}
