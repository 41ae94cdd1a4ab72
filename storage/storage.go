// Package storage holds the persistence backends behind domain.Store.
package storage

import (
	"context"
	"fmt"

	"github.com/Alexandr23/shared-canvas/config"
	"github.com/Alexandr23/shared-canvas/domain"
)

func Open(ctx context.Context, cfg config.Config) (domain.Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return NewMemory(), nil
	case config.StoreSQLite:
		return OpenSQLite(cfg.SQLitePath)
	case config.StoreRedis:
		return OpenRedis(ctx, cfg.RedisURL)
	}
	return nil, fmt.Errorf("unknown store %q", cfg.Store)
}
