package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/garrettladley/hookd/internal/env"
	"github.com/garrettladley/hookd/internal/migrations"
	"github.com/garrettladley/hookd/internal/migrations/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
	BackendRedis    Backend = "redis"
)

func (b Backend) String() string { return string(b) }

func ParseBackend(s string) (Backend, error) {
	switch Backend(strings.ToLower(strings.TrimSpace(s))) {
	case BackendMemory:
		return BackendMemory, nil
	case BackendSQLite:
		return BackendSQLite, nil
	case BackendPostgres:
		return BackendPostgres, nil
	case BackendRedis:
		return BackendRedis, nil
	default:
		return "", fmt.Errorf("%w: %q (valid: memory, sqlite, postgres, redis)", ErrUnknownBackend, s)
	}
}

// UnmarshalText lets caarlos0/env decode STORE_BACKEND. An empty value means
// "derive from the stage".
func (b *Backend) UnmarshalText(text []byte) error {
	if strings.TrimSpace(string(text)) == "" {
		*b = ""
		return nil
	}
	backend, err := ParseBackend(string(text))
	if err != nil {
		return err
	}
	*b = backend
	return nil
}

// BackendForStage maps development to memory, test to sqlite and
// production to postgres.
func BackendForStage(stage env.Stage) (Backend, error) {
	switch stage {
	case env.Development:
		return BackendMemory, nil
	case env.Test:
		return BackendSQLite, nil
	case env.Production:
		return BackendPostgres, nil
	default:
		return "", fmt.Errorf("%w: no backend for stage %q", ErrUnknownBackend, stage)
	}
}

type Options struct {
	// Backend overrides the stage default when set.
	Backend Backend

	Table      string
	SQLitePath string

	Pool  *pgxpool.Pool
	Redis *redis.Client

	KeyPrefix string

	Now func() time.Time
}

// Resolve returns the backend New would build for stage and opts.
func Resolve(stage env.Stage, opts Options) (Backend, error) {
	if opts.Backend != "" {
		return opts.Backend, nil
	}
	return BackendForStage(stage)
}

// New builds the store for stage, applying SQL migrations when the backend
// needs them. Missing connection handles fail here, not on first use.
func New(ctx context.Context, stage env.Stage, opts Options) (Store, error) {
	backend, err := Resolve(stage, opts)
	if err != nil {
		return nil, err
	}

	table := opts.Table
	if table == "" {
		table = DefaultTable
	}

	switch backend {
	case BackendMemory:
		return NewMemoryStore(opts.Now), nil

	case BackendSQLite:
		if err := ValidateTable(table); err != nil {
			return nil, err
		}
		path := opts.SQLitePath
		if path == "" {
			path = ":memory:"
		}
		db, err := OpenSQLite(ctx, path)
		if err != nil {
			return nil, err
		}
		if err := migrations.Apply(ctx, db, table); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite migrations: %w", err)
		}
		store, err := NewSQLiteStore(db, table, opts.Now)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return store, nil

	case BackendPostgres:
		if opts.Pool == nil {
			return nil, fmt.Errorf("%w: stage %q needs a postgres pool (set DATABASE_URL)", ErrMissingHandle, stage)
		}
		if err := ValidateTable(table); err != nil {
			return nil, err
		}
		if err := postgres.Apply(ctx, opts.Pool, table); err != nil {
			return nil, fmt.Errorf("postgres migrations: %w", err)
		}
		return NewPostgresStore(opts.Pool, table, opts.Now)

	case BackendRedis:
		return NewRedisStore(RedisConfig{Client: opts.Redis, KeyPrefix: opts.KeyPrefix}, opts.Now)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}
