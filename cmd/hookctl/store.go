package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/garrettladley/hookd/internal/config"
	xredis "github.com/garrettladley/hookd/internal/redis"
	"github.com/garrettladley/hookd/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
)

// errProcessLocalStore rejects the memory backend: a fresh process sees an
// empty store, never the server's.
var errProcessLocalStore = errors.New("the memory store lives inside the server process; set STAGE or STORE_BACKEND to a persistent backend (sqlite, postgres, redis)")

// openStore builds the store the server would use for the current
// environment. The returned func releases the store and its connections.
func openStore(ctx context.Context) (storage.Store, func(), error) {
	cfg, err := config.ReadStore()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config: %w", err)
	}

	backend, err := cfg.StoreBackend()
	if err != nil {
		return nil, nil, err
	}
	if backend == storage.BackendMemory {
		return nil, nil, errProcessLocalStore
	}

	var (
		opts = storage.Options{
			Backend:    backend,
			Table:      cfg.Store.Table,
			SQLitePath: cfg.Store.SQLitePath,
			KeyPrefix:  cfg.Store.KeyPrefix,
		}
		closers []func()
	)
	release := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch backend {
	case storage.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		closers = append(closers, pool.Close)
		opts.Pool = pool
	case storage.BackendRedis:
		client, err := xredis.New(ctx, xredis.Config{URL: cfg.Redis.URL})
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() { _ = client.Close() })
		opts.Redis = client
	}

	store, err := storage.New(ctx, cfg.Stage, opts)
	if err != nil {
		release()
		return nil, nil, err
	}
	closers = append(closers, func() { _ = store.Close() })

	return store, release, nil
}
