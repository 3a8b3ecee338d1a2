package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teilomillet/chatguard/config"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := OpenSQL(context.Background(), "sqlite3", ":memory:", 0)
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{
		"memory":  NewMemory(),
		"sqlite3": sqlite,
	}
}

func TestConversationLifecycle(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			user := "user-" + name

			has, err := s.HasConversation(ctx, user)
			require.NoError(t, err)
			assert.False(t, has)

			_, err = s.Conversation(ctx, user)
			assert.ErrorIs(t, err, ErrNotFound)

			first := Message{Text: "hello", QueryType: "qa", Timestamp: time.Unix(100, 0).UTC()}
			second := Message{Text: "how do I sort a slice", QueryType: "code", Timestamp: time.Unix(200, 0).UTC()}
			require.NoError(t, s.AppendMessage(ctx, user, first))
			require.NoError(t, s.AppendMessage(ctx, user, second))

			has, err = s.HasConversation(ctx, user)
			require.NoError(t, err)
			assert.True(t, has)

			conv, err := s.Conversation(ctx, user)
			require.NoError(t, err)
			assert.Equal(t, user, conv.UserID)
			assert.Equal(t, []Message{first, second}, conv.Messages)
			assert.False(t, conv.UpdatedAt.Before(conv.CreatedAt))

			require.NoError(t, s.DeleteConversation(ctx, user))
			has, err = s.HasConversation(ctx, user)
			require.NoError(t, err)
			assert.False(t, has)
		})
	}
}

func TestConversationsAreIsolated(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.AppendMessage(ctx, "alice-"+name, Message{Text: "a", QueryType: "qa"}))
			require.NoError(t, s.AppendMessage(ctx, "bob-"+name, Message{Text: "b", QueryType: "qa"}))

			conv, err := s.Conversation(ctx, "alice-"+name)
			require.NoError(t, err)
			require.Len(t, conv.Messages, 1)
			assert.Equal(t, "a", conv.Messages[0].Text)
		})
	}
}

func TestChunks(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			user := "chunks-" + name
			chunks := []Chunk{
				{ID: name + "-1", UserID: user, Source: "notes.txt", Text: "Paris is the capital.", Keywords: []string{"capital", "is", "paris", "the"}},
				{ID: name + "-2", UserID: user, Source: "notes.txt", Text: "Go has goroutines.", Keywords: []string{"go", "goroutines", "has"}},
			}
			require.NoError(t, s.SaveChunks(ctx, chunks))

			got, err := s.Chunks(ctx, user)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, chunks[0].Keywords, got[0].Keywords)
			assert.Equal(t, "Go has goroutines.", got[1].Text)

			other, err := s.Chunks(ctx, "nobody")
			require.NoError(t, err)
			assert.Empty(t, other)
		})
	}
}

func TestRecordUsage(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			err := s.RecordUsage(context.Background(), UsageRecord{UserID: "u", Provider: "mock", Tokens: 12, Cost: 0.003})
			assert.NoError(t, err)
			assert.NoError(t, s.Ping(context.Background()))
		})
	}

	m := NewMemory()
	require.NoError(t, m.RecordUsage(context.Background(), UsageRecord{Provider: "gemini", Tokens: 3}))
	assert.Len(t, m.Usage(), 1)
}

func TestDialectRebind(t *testing.T) {
	pg := dialects["postgres"]
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", pg.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))
	my := dialects["mysql"]
	assert.Equal(t, "x = ?", my.rebind("x = ?"))
}

func TestOpen(t *testing.T) {
	s, err := Open(context.Background(), config.StorageConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	_, err = Open(context.Background(), config.StorageConfig{Driver: "mongodb"})
	assert.Error(t, err)
}

func TestOpenUsageSink(t *testing.T) {
	store := NewMemory()
	sink, closer, err := OpenUsageSink(context.Background(), config.UsageConfig{Sink: "storage"}, store)
	require.NoError(t, err)
	assert.Nil(t, closer)
	assert.Same(t, store, sink)

	sink, _, err = OpenUsageSink(context.Background(), config.UsageConfig{Sink: "none"}, store)
	require.NoError(t, err)
	assert.NoError(t, sink.RecordUsage(context.Background(), UsageRecord{}))

	_, _, err = OpenUsageSink(context.Background(), config.UsageConfig{Sink: "redis"}, store)
	assert.Error(t, err, "redis sink without address")
}

// Runs only when a Redis server is available, e.g. REDIS_ADDR=localhost:6379.
func TestRedisUsageSink(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	prefix := "chatguard-test:" + time.Now().Format("150405.000000") + ":"
	sink, err := NewRedisUsageSink(ctx, config.RedisConfig{Address: addr, KeyPrefix: prefix})
	require.NoError(t, err)
	defer sink.Close()
	defer sink.client.Del(ctx, sink.recordsKey(), sink.totalsKey("tokens"), sink.totalsKey("cost"))

	require.NoError(t, sink.RecordUsage(ctx, UsageRecord{UserID: "u", Provider: "gemini", Tokens: 10, Cost: 0.5}))
	require.NoError(t, sink.RecordUsage(ctx, UsageRecord{UserID: "u", Provider: "gemini", Tokens: 5, Cost: 0.25}))

	tokens, cost, err := sink.Totals(ctx, "gemini")
	require.NoError(t, err)
	assert.Equal(t, int64(15), tokens)
	assert.InDelta(t, 0.75, cost, 1e-9)
}
