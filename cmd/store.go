package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/insightminer/internal/store"
)

// initStore opens the configured fingerprint store. The "none" driver
// returns a nil store, which disables duplicate lookups.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "insightminer.db"
		}
		st, err := store.NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "postgres":
		st, err := store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "redis":
		st, err := store.NewRedis(ctx, store.RedisOptions{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      time.Duration(cfg.Redis.TTLHours) * time.Hour,
		})
		if err != nil {
			return nil, err
		}
		return st, nil
	case "none":
		return nil, nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}
