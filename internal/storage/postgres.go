package storage

import (
	"context"
	"fmt"
	"time"

	go_json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ Store = (*PostgresStore)(nil)

// PostgresStore keeps processed events in PostgreSQL. The unique constraint
// on event_id is what makes TryMarkAsProcessed atomic across processes.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time

	isProcessedQuery string
	upsertQuery      string
	deleteQuery      string
	clearQuery       string
	cleanupQuery     string
	selectDataQuery  string
}

func NewPostgresStore(pool *pgxpool.Pool, table string, now func() time.Time) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: postgres pool is nil", ErrMissingHandle)
	}
	if err := ValidateTable(table); err != nil {
		return nil, err
	}
	if now == nil {
		now = defaultNow
	}

	t := pgx.Identifier{table}.Sanitize()
	return &PostgresStore{
		pool: pool,
		now:  now,

		isProcessedQuery: `SELECT EXISTS (SELECT 1 FROM ` + t + ` WHERE event_id = $1 AND (expiry IS NULL OR expiry > $2))`,
		upsertQuery: `INSERT INTO ` + t + ` AS e (event_id, data, expiry, processed_at) VALUES ($1, $2, $3, $4)
			ON CONFLICT (event_id) DO UPDATE SET
				data = EXCLUDED.data,
				expiry = EXCLUDED.expiry,
				processed_at = EXCLUDED.processed_at
			WHERE e.expiry IS NOT NULL AND e.expiry <= EXCLUDED.processed_at`,
		deleteQuery:     `DELETE FROM ` + t + ` WHERE event_id = $1`,
		clearQuery:      `DELETE FROM ` + t,
		cleanupQuery:    `DELETE FROM ` + t + ` WHERE expiry IS NOT NULL AND expiry <= $1`,
		selectDataQuery: `SELECT data FROM ` + t,
	}, nil
}

func (s *PostgresStore) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, s.isProcessedQuery, eventID, s.now()).Scan(&exists); err != nil {
		return false, wrapErr(BackendPostgres, "is processed", err)
	}
	return exists, nil
}

func (s *PostgresStore) MarkAsProcessed(ctx context.Context, eventID string, ttl time.Duration, data any) error {
	_, err := s.TryMarkAsProcessed(ctx, eventID, ttl, data)
	return err
}

func (s *PostgresStore) TryMarkAsProcessed(ctx context.Context, eventID string, ttl time.Duration, data any) (bool, error) {
	raw, err := encodeData(data)
	if err != nil {
		return false, err
	}

	now := s.now()
	tag, err := s.pool.Exec(ctx, s.upsertQuery, eventID, string(raw), expiresAt(now, ttl), now)
	if err != nil {
		return false, wrapErr(BackendPostgres, "mark processed", err)
	}

	// zero rows: a live record won the unique constraint
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) RemoveEvent(ctx context.Context, eventID string) error {
	_, err := s.pool.Exec(ctx, s.deleteQuery, eventID)
	return wrapErr(BackendPostgres, "remove event", err)
}

func (s *PostgresStore) ClearAll(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, s.clearQuery)
	return wrapErr(BackendPostgres, "clear", err)
}

func (s *PostgresStore) CleanupExpired(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, s.cleanupQuery, s.now())
	if err != nil {
		return 0, wrapErr(BackendPostgres, "cleanup expired", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) GetAllEvents(ctx context.Context) ([]go_json.RawMessage, error) {
	rows, err := s.pool.Query(ctx, s.selectDataQuery)
	if err != nil {
		return nil, wrapErr(BackendPostgres, "list events", err)
	}
	defer rows.Close()

	var out []go_json.RawMessage
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, wrapErr(BackendPostgres, "list events", err)
		}
		out = append(out, go_json.RawMessage(data))
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(BackendPostgres, "list events", err)
	}
	return out, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return wrapErr(BackendPostgres, "ping", s.pool.Ping(ctx))
}

// Close is a no-op: the pool is owned by whoever opened it.
func (s *PostgresStore) Close() error {
	return nil
}
