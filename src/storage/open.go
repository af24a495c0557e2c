package storage

import (
	"context"
	"fmt"
	"strings"

	"parley/src/model"
)

// Open builds the Store selected by config.Backend
func Open(ctx context.Context, config model.StoreConfig) (Store, error) {
	switch strings.ToLower(config.Backend) {
	case "redis":
		return NewRedisStore(ctx, config.RedisURL, config.RedisTTL)
	case "file", "":
		return NewFileStore(config.Dir)
	case "sqlite":
		return NewSQLiteStore(config.SQLiteDSN)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", config.Backend)
	}
}
