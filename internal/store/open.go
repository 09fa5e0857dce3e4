package store

import (
	"context"
	"fmt"

	"lab-booking-api-server/config"
)

// Open builds the Store selected by cfg.Store.Driver.
func Open(ctx context.Context, cfg config.Config) (Store, error) {
	switch cfg.Store.Driver {
	case "", "mongo":
		s, err := OpenMongo(ctx, cfg.Mongo.URI, cfg.Mongo.DBName)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureIndexes(ctx); err != nil {
			_ = s.Close(ctx)
			return nil, fmt.Errorf("failed to create indexes: %w", err)
		}
		return s, nil
	case "postgres":
		return OpenPostgres(ctx, cfg.Postgres.DSN, cfg.Store.MaxRetries)
	case "memory":
		return NewMemory(cfg.Store.MaxRetries), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
