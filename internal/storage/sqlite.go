package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/garrettladley/hookd/internal/migrations"
	go_json "github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"
)

const sqliteDriver = "sqlite3"

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore keeps processed events in an embedded SQLite database.
// Timestamps are stored as unix milliseconds so range checks compare numbers.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time

	isProcessedQuery string
	upsertQuery      string
	deleteQuery      string
	clearQuery       string
	cleanupQuery     string
	selectDataQuery  string
}

// OpenSQLite opens (or creates) the database at path. ":memory:" gives a
// private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_busy_timeout=5000&_journal_mode=WAL"
	}

	db, err := sql.Open(sqliteDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// one connection: serializes writers and keeps :memory: a single database
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}
	return db, nil
}

// NewSQLiteStore wraps an open database. The table must already exist; see
// migrations.Apply.
func NewSQLiteStore(db *sql.DB, table string, now func() time.Time) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: sqlite database is nil", ErrMissingHandle)
	}
	if err := ValidateTable(table); err != nil {
		return nil, err
	}
	if now == nil {
		now = defaultNow
	}

	t := migrations.QuoteSQLite(table)
	return &SQLiteStore{
		db:  db,
		now: now,

		isProcessedQuery: `SELECT COUNT(*) FROM ` + t + ` WHERE event_id = ? AND (expiry IS NULL OR expiry > ?)`,
		upsertQuery: `INSERT INTO ` + t + ` (event_id, data, expiry, processed_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(event_id) DO UPDATE SET
				data = excluded.data,
				expiry = excluded.expiry,
				processed_at = excluded.processed_at
			WHERE ` + t + `.expiry IS NOT NULL AND ` + t + `.expiry <= excluded.processed_at`,
		deleteQuery:     `DELETE FROM ` + t + ` WHERE event_id = ?`,
		clearQuery:      `DELETE FROM ` + t,
		cleanupQuery:    `DELETE FROM ` + t + ` WHERE expiry IS NOT NULL AND expiry <= ?`,
		selectDataQuery: `SELECT data FROM ` + t,
	}, nil
}

func (s *SQLiteStore) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, s.isProcessedQuery, eventID, s.now().UnixMilli()).Scan(&count)
	if err != nil {
		return false, wrapErr(BackendSQLite, "is processed", err)
	}
	return count > 0, nil
}

func (s *SQLiteStore) MarkAsProcessed(ctx context.Context, eventID string, ttl time.Duration, data any) error {
	_, err := s.TryMarkAsProcessed(ctx, eventID, ttl, data)
	return err
}

func (s *SQLiteStore) TryMarkAsProcessed(ctx context.Context, eventID string, ttl time.Duration, data any) (bool, error) {
	raw, err := encodeData(data)
	if err != nil {
		return false, err
	}

	now := s.now()
	var expiry sql.NullInt64
	if exp := expiresAt(now, ttl); exp != nil {
		expiry = sql.NullInt64{Int64: exp.UnixMilli(), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, s.upsertQuery, eventID, string(raw), expiry, now.UnixMilli())
	if err != nil {
		return false, wrapErr(BackendSQLite, "mark processed", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapErr(BackendSQLite, "mark processed", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) RemoveEvent(ctx context.Context, eventID string) error {
	_, err := s.db.ExecContext(ctx, s.deleteQuery, eventID)
	return wrapErr(BackendSQLite, "remove event", err)
}

func (s *SQLiteStore) ClearAll(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, s.clearQuery)
	return wrapErr(BackendSQLite, "clear", err)
}

func (s *SQLiteStore) CleanupExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.cleanupQuery, s.now().UnixMilli())
	if err != nil {
		return 0, wrapErr(BackendSQLite, "cleanup expired", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapErr(BackendSQLite, "cleanup expired", err)
	}
	return n, nil
}

func (s *SQLiteStore) GetAllEvents(ctx context.Context) ([]go_json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx, s.selectDataQuery)
	if err != nil {
		return nil, wrapErr(BackendSQLite, "list events", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []go_json.RawMessage
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, wrapErr(BackendSQLite, "list events", err)
		}
		out = append(out, go_json.RawMessage(data))
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(BackendSQLite, "list events", err)
	}
	return out, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return wrapErr(BackendSQLite, "ping", s.db.PingContext(ctx))
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
