// Package journal selects and opens the configured run journal backend.
package journal

import (
	"context"
	"fmt"

	"github.com/tjfontaine/insight-gateway/internal/config"
	"github.com/tjfontaine/insight-gateway/internal/storage"
	"github.com/tjfontaine/insight-gateway/internal/storage/memory"
	"github.com/tjfontaine/insight-gateway/internal/storage/redis"
	"github.com/tjfontaine/insight-gateway/internal/storage/sqlite"
)

// Open returns the journal named by cfg.Type. Type "none" (or empty)
// returns a nil journal, which disables run history.
func Open(ctx context.Context, cfg config.StorageConfig) (storage.RunJournal, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "memory":
		return memory.New(memory.WithMaxRuns(cfg.Memory.MaxRuns)), nil
	case "sqlite":
		store, err := sqlite.New(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite journal: %w", err)
		}
		return store, nil
	case "redis":
		store, err := redis.New(ctx, cfg.Redis.Addr,
			redis.WithPassword(cfg.Redis.Password),
			redis.WithDB(cfg.Redis.DB),
			redis.WithTTL(cfg.Redis.TTL),
		)
		if err != nil {
			return nil, fmt.Errorf("open redis journal: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage type %q", cfg.Type)
	}
}
