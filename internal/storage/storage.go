package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	go_json "github.com/goccy/go-json"
)

// DefaultTable is the idempotency table used by the SQL backends.
const DefaultTable = "processed_webhook_events"

var (
	ErrInvalidTable   = errors.New("invalid table name")
	ErrUnknownBackend = errors.New("unknown store backend")
	ErrMissingHandle  = errors.New("store backend requires a live connection handle")
)

// ProcessedEvent is the record kept for every event that made it past
// verification.
type ProcessedEvent struct {
	EventID     string             `json:"event_id"`
	ProcessedAt time.Time          `json:"processed_at"`
	ExpiresAt   *time.Time         `json:"expires_at,omitempty"`
	Data        go_json.RawMessage `json:"data"`
}

// Expired reports whether the record has a TTL that elapsed at or before now.
func (e ProcessedEvent) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !e.ExpiresAt.After(now)
}

// Store tracks which event ids have already been processed.
//
// A non-positive ttl means the record never expires.
type Store interface {
	// IsProcessed reports whether a live (unexpired) record exists for eventID.
	IsProcessed(ctx context.Context, eventID string) (bool, error)

	// MarkAsProcessed records eventID. Marking an id that already has a live
	// record is a no-op: the first write wins.
	MarkAsProcessed(ctx context.Context, eventID string, ttl time.Duration, data any) error

	// TryMarkAsProcessed atomically records eventID unless a live record
	// already exists. It reports whether this call created the record.
	TryMarkAsProcessed(ctx context.Context, eventID string, ttl time.Duration, data any) (bool, error)

	RemoveEvent(ctx context.Context, eventID string) error

	ClearAll(ctx context.Context) error

	// CleanupExpired deletes every record whose expiry is at or before now
	// and returns how many were removed.
	CleanupExpired(ctx context.Context) (int64, error)

	// GetAllEvents returns the data of every remaining record, unordered.
	GetAllEvents(ctx context.Context) ([]go_json.RawMessage, error)

	Ping(ctx context.Context) error

	Close() error
}

// Error is returned for any backend I/O failure.
type Error struct {
	Backend Backend
	Op      string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s store: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrapErr(backend Backend, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Backend: backend, Op: op, Err: err}
}

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidateTable rejects table names that are not plain SQL identifiers.
func ValidateTable(table string) error {
	if !tableNamePattern.MatchString(table) {
		return fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}
	return nil
}

func encodeData(data any) (go_json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return go_json.RawMessage("null"), nil
	case go_json.RawMessage:
		if !go_json.Valid(v) {
			return nil, errors.New("data is not valid JSON")
		}
		return v, nil
	case []byte:
		if !go_json.Valid(v) {
			return nil, errors.New("data is not valid JSON")
		}
		return go_json.RawMessage(v), nil
	}

	b, err := go_json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event data: %w", err)
	}
	return b, nil
}

func expiresAt(now time.Time, ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := now.Add(ttl)
	return &t
}

func defaultNow() time.Time { return time.Now().UTC() }
