package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/teilomillet/chatguard/config"
)

// RedisUsageSink appends usage records to a Redis list and keeps running
// per-provider totals in hashes.
type RedisUsageSink struct {
	client *redis.Client
	prefix string
}

var _ UsageSink = (*RedisUsageSink)(nil)

// NewRedisUsageSink connects to Redis and verifies the connection.
func NewRedisUsageSink(ctx context.Context, cfg config.RedisConfig) (*RedisUsageSink, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return newRedisUsageSink(client, cfg.KeyPrefix), nil
}

func newRedisUsageSink(client *redis.Client, prefix string) *RedisUsageSink {
	if prefix == "" {
		prefix = "chatguard:"
	}
	return &RedisUsageSink{client: client, prefix: prefix}
}

func (r *RedisUsageSink) recordsKey() string { return r.prefix + "usage:records" }

func (r *RedisUsageSink) totalsKey(field string) string { return r.prefix + "usage:" + field }

// RecordUsage implements UsageSink.
func (r *RedisUsageSink) RecordUsage(ctx context.Context, rec UsageRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode usage: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, r.recordsKey(), payload)
	pipe.HIncrBy(ctx, r.totalsKey("tokens"), rec.Provider, int64(rec.Tokens))
	pipe.HIncrByFloat(ctx, r.totalsKey("cost"), rec.Provider, rec.Cost)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("write usage to redis: %w", err)
	}
	return nil
}

// Totals returns the accumulated token count and cost for provider.
func (r *RedisUsageSink) Totals(ctx context.Context, provider string) (int64, float64, error) {
	tokens, err := r.client.HGet(ctx, r.totalsKey("tokens"), provider).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, err
	}
	cost, err := r.client.HGet(ctx, r.totalsKey("cost"), provider).Float64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, err
	}
	return tokens, cost, nil
}

// Close releases the Redis connection pool.
func (r *RedisUsageSink) Close() error {
	return r.client.Close()
}
