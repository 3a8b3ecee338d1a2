package storage

import (
	"context"
	"fmt"

	"github.com/teilomillet/chatguard/config"
)

// Open builds the Store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(), nil
	case "postgres", "sqlite3", "mysql":
		return OpenSQL(ctx, cfg.Driver, cfg.DSN, cfg.MaxOpenConns)
	}
	return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
}

// NopUsageSink discards usage records.
type NopUsageSink struct{}

func (NopUsageSink) RecordUsage(context.Context, UsageRecord) error { return nil }

// OpenUsageSink picks the usage destination. The "storage" sink reuses
// store; the returned closer is nil unless the sink owns a connection.
func OpenUsageSink(ctx context.Context, cfg config.UsageConfig, store Store) (UsageSink, func() error, error) {
	switch cfg.Sink {
	case "", "storage":
		return store, nil, nil
	case "none":
		return NopUsageSink{}, nil, nil
	case "redis":
		sink, err := NewRedisUsageSink(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return sink, sink.Close, nil
	}
	return nil, nil, fmt.Errorf("unsupported usage sink: %s", cfg.Sink)
}
