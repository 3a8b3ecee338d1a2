package storage

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Store. Data is lost on restart.
type Memory struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation
	chunks        map[string][]Chunk
	usage         []UsageRecord
	now           func() time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		conversations: make(map[string]*Conversation),
		chunks:        make(map[string][]Chunk),
		now:           time.Now,
	}
}

func (m *Memory) HasConversation(ctx context.Context, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.conversations[userID]
	return ok, nil
}

func (m *Memory) AppendMessage(ctx context.Context, userID string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := m.now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[userID]
	if !ok {
		conv = &Conversation{UserID: userID, CreatedAt: now}
		m.conversations[userID] = conv
	}
	conv.Messages = append(conv.Messages, msg)
	conv.UpdatedAt = now
	return nil
}

func (m *Memory) Conversation(ctx context.Context, userID string) (*Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	conv, ok := m.conversations[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *conv
	cp.Messages = append([]Message(nil), conv.Messages...)
	return &cp, nil
}

func (m *Memory) DeleteConversation(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conversations, userID)
	delete(m.chunks, userID)
	return nil
}

func (m *Memory) SaveChunks(ctx context.Context, chunks []Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		m.chunks[c.UserID] = append(m.chunks[c.UserID], c)
	}
	return nil
}

func (m *Memory) Chunks(ctx context.Context, userID string) ([]Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Chunk(nil), m.chunks[userID]...), nil
}

func (m *Memory) RecordUsage(ctx context.Context, rec UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = append(m.usage, rec)
	return nil
}

// Usage returns every recorded usage entry.
func (m *Memory) Usage() []UsageRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]UsageRecord(nil), m.usage...)
}

func (m *Memory) Ping(ctx context.Context) error { return ctx.Err() }

func (m *Memory) Close() error { return nil }
