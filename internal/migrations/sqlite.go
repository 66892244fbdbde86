package migrations

import (
	"context"
	"database/sql"
	"embed"
	"strings"
)

//go:embed sql/*.sql
var sqliteFS embed.FS

// QuoteSQLite quotes an identifier for SQLite.
func QuoteSQLite(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Apply runs every pending embedded migration against a SQLite database for
// the given idempotency table.
func Apply(ctx context.Context, db *sql.DB, table string) error {
	return Run(ctx, sqliteFS, "sql", sqliteExecutor{db: db}, table, Params{
		Table:       QuoteSQLite(table),
		ExpiryIndex: QuoteSQLite(table + "_expiry_idx"),
	})
}

type sqliteExecutor struct {
	db *sql.DB
}

func (e sqliteExecutor) EnsureHistory(ctx context.Context) error {
	_, err := e.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS migrations_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

func (e sqliteExecutor) Applied(ctx context.Context, name string) (bool, error) {
	var count int
	err := e.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM migrations_history WHERE name = ?", name).Scan(&count)
	return count > 0, err
}

func (e sqliteExecutor) Exec(ctx context.Context, stmt string) error {
	_, err := e.db.ExecContext(ctx, stmt)
	return err
}

func (e sqliteExecutor) Record(ctx context.Context, name string) error {
	_, err := e.db.ExecContext(ctx, "INSERT INTO migrations_history (name) VALUES (?)", name)
	return err
}
