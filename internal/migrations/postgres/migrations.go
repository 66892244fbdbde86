package postgres

import (
	"context"
	"embed"

	"github.com/garrettladley/hookd/internal/migrations"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed sql/*.sql
var migrationsFS embed.FS

// Apply runs every pending embedded migration for table against pool.
func Apply(ctx context.Context, pool *pgxpool.Pool, table string) error {
	return migrations.Run(ctx, migrationsFS, "sql", executor{pool: pool}, table, migrations.Params{
		Table:       pgx.Identifier{table}.Sanitize(),
		ExpiryIndex: pgx.Identifier{table + "_expiry_idx"}.Sanitize(),
	})
}

type executor struct {
	pool *pgxpool.Pool
}

func (e executor) EnsureHistory(ctx context.Context) error {
	_, err := e.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS migrations_history (
			id SERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)
	`)
	return err
}

func (e executor) Applied(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := e.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM migrations_history WHERE name = $1)", name).Scan(&exists)
	return exists, err
}

func (e executor) Exec(ctx context.Context, stmt string) error {
	_, err := e.pool.Exec(ctx, stmt)
	return err
}

func (e executor) Record(ctx context.Context, name string) error {
	_, err := e.pool.Exec(ctx, "INSERT INTO migrations_history (name) VALUES ($1)", name)
	return err
}
