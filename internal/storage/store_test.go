package storage

import (
	"context"
	"errors"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/garrettladley/hookd/internal/env"
	go_json "github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type storeFactory func(t *testing.T, clock *fakeClock) Store

func backends(t *testing.T) map[string]storeFactory {
	t.Helper()

	factories := map[string]storeFactory{
		"memory": func(_ *testing.T, clock *fakeClock) Store {
			return NewMemoryStore(clock.Now)
		},
		"sqlite": func(t *testing.T, clock *fakeClock) Store {
			t.Helper()
			store, err := New(t.Context(), env.Test, Options{Now: clock.Now})
			if err != nil {
				t.Fatalf("failed to create sqlite store: %v", err)
			}
			t.Cleanup(func() { _ = store.Close() })
			return store
		},
	}

	if url := strings.TrimSpace(os.Getenv("DATABASE_URL")); url != "" {
		factories["postgres"] = func(t *testing.T, clock *fakeClock) Store {
			t.Helper()
			pool, err := pgxpool.New(t.Context(), url)
			if err != nil {
				t.Skipf("skip postgres: cannot create pool (%v)", err)
			}
			t.Cleanup(pool.Close)
			table := "processed_" + strings.ReplaceAll(uuid.NewString(), "-", "")
			store, err := New(t.Context(), env.Production, Options{Pool: pool, Table: table, Now: clock.Now})
			if err != nil {
				t.Skipf("skip postgres: %v", err)
			}
			t.Cleanup(func() {
				_, _ = pool.Exec(context.Background(), "DROP TABLE IF EXISTS "+table)
			})
			return store
		}
	}

	// redis applies TTLs on its own clock, so expiry cases are skipped for it
	if url := strings.TrimSpace(os.Getenv("REDIS_URL")); url != "" {
		factories["redis"] = func(t *testing.T, clock *fakeClock) Store {
			t.Helper()
			opt, err := redis.ParseURL(url)
			if err != nil {
				t.Skipf("skip redis: %v", err)
			}
			client := redis.NewClient(opt)
			t.Cleanup(func() { _ = client.Close() })
			if err := client.Ping(t.Context()).Err(); err != nil {
				t.Skipf("skip redis: %v", err)
			}
			store, err := New(t.Context(), env.Development, Options{
				Backend:   BackendRedis,
				Redis:     client,
				KeyPrefix: "test:" + uuid.NewString() + ":",
				Now:       clock.Now,
			})
			if err != nil {
				t.Fatalf("failed to create redis store: %v", err)
			}
			t.Cleanup(func() {
				_ = store.ClearAll(context.Background())
			})
			return store
		}
	}

	return factories
}

func TestStore_MarkThenIsProcessed(t *testing.T) {
	t.Parallel()

	for name, factory := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := t.Context()
			store := factory(t, newFakeClock())

			got, err := store.IsProcessed(ctx, "evt_1")
			if err != nil {
				t.Fatalf("IsProcessed() error = %v", err)
			}
			if got {
				t.Fatal("IsProcessed() = true before any mark")
			}

			if err := store.MarkAsProcessed(ctx, "evt_1", 0, map[string]string{"type": "payment.succeeded"}); err != nil {
				t.Fatalf("MarkAsProcessed() error = %v", err)
			}

			got, err = store.IsProcessed(ctx, "evt_1")
			if err != nil {
				t.Fatalf("IsProcessed() error = %v", err)
			}
			if !got {
				t.Fatal("IsProcessed() = false after mark")
			}
		})
	}
}

func TestStore_TTLExpiry(t *testing.T) {
	t.Parallel()

	for name, factory := range backends(t) {
		if name == "redis" {
			continue
		}
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := t.Context()
			clock := newFakeClock()
			store := factory(t, clock)

			if err := store.MarkAsProcessed(ctx, "evt_ttl", time.Second, nil); err != nil {
				t.Fatalf("MarkAsProcessed() error = %v", err)
			}
			if err := store.MarkAsProcessed(ctx, "evt_forever", 0, nil); err != nil {
				t.Fatalf("MarkAsProcessed() error = %v", err)
			}

			if ok, _ := store.IsProcessed(ctx, "evt_ttl"); !ok {
				t.Fatal("IsProcessed() = false immediately after mark with ttl")
			}

			clock.Advance(2 * time.Second)

			if ok, _ := store.IsProcessed(ctx, "evt_ttl"); ok {
				t.Fatal("IsProcessed() = true after ttl elapsed")
			}
			if ok, _ := store.IsProcessed(ctx, "evt_forever"); !ok {
				t.Fatal("IsProcessed() = false for record without ttl")
			}

			if _, err := store.CleanupExpired(ctx); err != nil {
				t.Fatalf("CleanupExpired() error = %v", err)
			}

			events, err := store.GetAllEvents(ctx)
			if err != nil {
				t.Fatalf("GetAllEvents() error = %v", err)
			}
			if len(events) != 1 {
				t.Fatalf("GetAllEvents() returned %d records after cleanup, want 1", len(events))
			}
		})
	}
}

func TestStore_CleanupExpiredCount(t *testing.T) {
	t.Parallel()

	for name, factory := range backends(t) {
		if name == "redis" {
			continue
		}
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := t.Context()
			clock := newFakeClock()
			store := factory(t, clock)

			for _, id := range []string{"a", "b", "c"} {
				if err := store.MarkAsProcessed(ctx, id, time.Minute, nil); err != nil {
					t.Fatalf("MarkAsProcessed(%q) error = %v", id, err)
				}
			}
			if err := store.MarkAsProcessed(ctx, "d", 0, nil); err != nil {
				t.Fatalf("MarkAsProcessed() error = %v", err)
			}

			// exactly at expiry counts as expired
			clock.Advance(time.Minute)

			removed, err := store.CleanupExpired(ctx)
			if err != nil {
				t.Fatalf("CleanupExpired() error = %v", err)
			}
			if removed != 3 {
				t.Errorf("CleanupExpired() = %d, want 3", removed)
			}
		})
	}
}

func TestStore_FirstWriteWins(t *testing.T) {
	t.Parallel()

	for name, factory := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := t.Context()
			store := factory(t, newFakeClock())

			created, err := store.TryMarkAsProcessed(ctx, "evt_dup", 0, map[string]int{"n": 1})
			if err != nil {
				t.Fatalf("TryMarkAsProcessed() error = %v", err)
			}
			if !created {
				t.Fatal("first TryMarkAsProcessed() = false, want true")
			}

			created, err = store.TryMarkAsProcessed(ctx, "evt_dup", 0, map[string]int{"n": 2})
			if err != nil {
				t.Fatalf("TryMarkAsProcessed() error = %v", err)
			}
			if created {
				t.Fatal("second TryMarkAsProcessed() = true, want false")
			}

			if err := store.MarkAsProcessed(ctx, "evt_dup", 0, map[string]int{"n": 3}); err != nil {
				t.Fatalf("MarkAsProcessed() on existing id error = %v", err)
			}

			events, err := store.GetAllEvents(ctx)
			if err != nil {
				t.Fatalf("GetAllEvents() error = %v", err)
			}
			if len(events) != 1 {
				t.Fatalf("GetAllEvents() returned %d records, want 1", len(events))
			}
			var got map[string]int
			if err := go_json.Unmarshal(events[0], &got); err != nil {
				t.Fatalf("failed to decode data: %v", err)
			}
			if diff := cmp.Diff(map[string]int{"n": 1}, got); diff != "" {
				t.Errorf("stored data mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStore_ExpiredRecordCanBeRemarked(t *testing.T) {
	t.Parallel()

	for name, factory := range backends(t) {
		if name == "redis" {
			continue
		}
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := t.Context()
			clock := newFakeClock()
			store := factory(t, clock)

			if _, err := store.TryMarkAsProcessed(ctx, "evt_re", time.Second, nil); err != nil {
				t.Fatalf("TryMarkAsProcessed() error = %v", err)
			}

			clock.Advance(time.Hour)

			created, err := store.TryMarkAsProcessed(ctx, "evt_re", 0, nil)
			if err != nil {
				t.Fatalf("TryMarkAsProcessed() error = %v", err)
			}
			if !created {
				t.Fatal("TryMarkAsProcessed() over expired record = false, want true")
			}
			if ok, _ := store.IsProcessed(ctx, "evt_re"); !ok {
				t.Fatal("IsProcessed() = false after re-mark")
			}
		})
	}
}

func TestStore_ConcurrentTryMark(t *testing.T) {
	t.Parallel()

	for name, factory := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := t.Context()
			store := factory(t, newFakeClock())

			const workers = 16
			var (
				wg      sync.WaitGroup
				created atomic.Int32
			)
			for range workers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ok, err := store.TryMarkAsProcessed(ctx, "evt_race", 0, nil)
					if err != nil {
						t.Errorf("TryMarkAsProcessed() error = %v", err)
						return
					}
					if ok {
						created.Add(1)
					}
				}()
			}
			wg.Wait()

			if got := created.Load(); got != 1 {
				t.Errorf("%d concurrent marks created a record, want exactly 1", got)
			}
		})
	}
}

func TestStore_RemoveAndClear(t *testing.T) {
	t.Parallel()

	for name, factory := range backends(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := t.Context()
			store := factory(t, newFakeClock())

			for _, id := range []string{"x", "y", "z"} {
				if err := store.MarkAsProcessed(ctx, id, 0, map[string]string{"id": id}); err != nil {
					t.Fatalf("MarkAsProcessed(%q) error = %v", id, err)
				}
			}

			if err := store.RemoveEvent(ctx, "x"); err != nil {
				t.Fatalf("RemoveEvent() error = %v", err)
			}
			if err := store.RemoveEvent(ctx, "missing"); err != nil {
				t.Fatalf("RemoveEvent() on missing id error = %v", err)
			}
			if ok, _ := store.IsProcessed(ctx, "x"); ok {
				t.Fatal("IsProcessed() = true after remove")
			}

			events, err := store.GetAllEvents(ctx)
			if err != nil {
				t.Fatalf("GetAllEvents() error = %v", err)
			}
			var ids []string
			for _, raw := range events {
				var d map[string]string
				if err := go_json.Unmarshal(raw, &d); err != nil {
					t.Fatalf("failed to decode data: %v", err)
				}
				ids = append(ids, d["id"])
			}
			slices.Sort(ids)
			if diff := cmp.Diff([]string{"y", "z"}, ids); diff != "" {
				t.Errorf("remaining events mismatch (-want +got):\n%s", diff)
			}

			if err := store.ClearAll(ctx); err != nil {
				t.Fatalf("ClearAll() error = %v", err)
			}
			events, err = store.GetAllEvents(ctx)
			if err != nil {
				t.Fatalf("GetAllEvents() error = %v", err)
			}
			if len(events) != 0 {
				t.Errorf("GetAllEvents() after clear returned %d records", len(events))
			}
		})
	}
}

func TestStore_RejectsInvalidData(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore(nil)
	err := store.MarkAsProcessed(t.Context(), "evt", 0, []byte("{not json"))
	if err == nil {
		t.Fatal("MarkAsProcessed() with invalid raw JSON expected error")
	}
}

func TestMemoryStore_LazyPurge(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store := NewMemoryStore(clock.Now)
	ctx := t.Context()

	if err := store.MarkAsProcessed(ctx, "evt", time.Second, nil); err != nil {
		t.Fatalf("MarkAsProcessed() error = %v", err)
	}
	clock.Advance(time.Second)

	if ok, _ := store.IsProcessed(ctx, "evt"); ok {
		t.Fatal("IsProcessed() = true for expired record")
	}

	store.mu.RLock()
	_, still := store.events["evt"]
	store.mu.RUnlock()
	if still {
		t.Error("expired record was not purged on read")
	}
}

func TestNew_BackendSelection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		stage   env.Stage
		opts    Options
		want    Backend
		wantErr error
	}{
		{name: "development uses memory", stage: env.Development, want: BackendMemory},
		{name: "test uses sqlite", stage: env.Test, want: BackendSQLite},
		{name: "production without pool fails", stage: env.Production, wantErr: ErrMissingHandle},
		{name: "override to memory in production", stage: env.Production, opts: Options{Backend: BackendMemory}, want: BackendMemory},
		{name: "redis without client fails", stage: env.Development, opts: Options{Backend: BackendRedis}, wantErr: ErrMissingHandle},
		{name: "invalid table", stage: env.Test, opts: Options{Table: "drop table;"}, wantErr: ErrInvalidTable},
		{name: "unknown stage", stage: env.Stage("staging"), wantErr: ErrUnknownBackend},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			store, err := New(t.Context(), tt.stage, tt.opts)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("New() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			defer store.Close() //nolint:errcheck

			var got Backend
			switch store.(type) {
			case *MemoryStore:
				got = BackendMemory
			case *SQLiteStore:
				got = BackendSQLite
			case *PostgresStore:
				got = BackendPostgres
			case *RedisStore:
				got = BackendRedis
			}
			if got != tt.want {
				t.Errorf("New() built %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseBackend(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    Backend
		wantErr bool
	}{
		{input: "memory", want: BackendMemory},
		{input: "SQLite", want: BackendSQLite},
		{input: " postgres ", want: BackendPostgres},
		{input: "redis", want: BackendRedis},
		{input: "mysql", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			got, err := ParseBackend(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseBackend(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseBackend(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	err := wrapErr(BackendPostgres, "is processed", cause)

	var storeErr *Error
	if !errors.As(err, &storeErr) {
		t.Fatalf("wrapErr() = %T, want *Error", err)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is(err, cause) = false")
	}
	if got, want := err.Error(), "postgres store: is processed: connection refused"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if wrapErr(BackendMemory, "noop", nil) != nil {
		t.Error("wrapErr(nil) != nil")
	}
}

func TestRedisStore_CloseLeavesClientOpen(t *testing.T) {
	t.Parallel()

	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	store, err := NewRedisStore(RedisConfig{Client: client}, nil)
	if err != nil {
		t.Fatalf("NewRedisStore() error = %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	// a client closed twice reports redis.ErrClosed
	if err := client.Close(); err != nil {
		t.Errorf("client.Close() after store.Close() = %v, want nil", err)
	}
}

func TestSQLiteStore_TimestampEncoding(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	store, err := New(t.Context(), env.Test, Options{Now: clock.Now})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	s := store.(*SQLiteStore)
	expiry := clock.Now().Add(time.Hour).UnixMilli()

	if err := s.MarkAsProcessed(t.Context(), "evt_ttl", time.Hour, nil); err != nil {
		t.Fatalf("MarkAsProcessed() error = %v", err)
	}
	if err := s.MarkAsProcessed(t.Context(), "evt_forever", 0, nil); err != nil {
		t.Fatalf("MarkAsProcessed() error = %v", err)
	}

	tests := []struct {
		eventID       string
		wantProcessed int64
		wantExpiry    *int64
	}{
		{eventID: "evt_ttl", wantProcessed: clock.Now().UnixMilli(), wantExpiry: &expiry},
		{eventID: "evt_forever", wantProcessed: clock.Now().UnixMilli()},
	}
	for _, tt := range tests {
		var (
			processedAt int64
			expiry      *int64
		)
		err := s.db.QueryRowContext(t.Context(),
			"SELECT processed_at, expiry FROM "+DefaultTable+" WHERE event_id = ?", tt.eventID,
		).Scan(&processedAt, &expiry)
		if err != nil {
			t.Fatalf("failed to read %s: %v", tt.eventID, err)
		}
		if processedAt != tt.wantProcessed {
			t.Errorf("%s processed_at = %d, want unix millis %d", tt.eventID, processedAt, tt.wantProcessed)
		}
		if diff := cmp.Diff(tt.wantExpiry, expiry); diff != "" {
			t.Errorf("%s expiry mismatch (-want +got):\n%s", tt.eventID, diff)
		}
	}
}
