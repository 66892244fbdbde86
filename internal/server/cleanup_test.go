package server

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/garrettladley/hookd/internal/storage"
)

// countingStore counts sweeps and records how many events they removed.
type countingStore struct {
	storage.Store
	sweeps atomic.Int32
}

func (s *countingStore) CleanupExpired(ctx context.Context) (int64, error) {
	s.sweeps.Add(1)
	return s.Store.CleanupExpired(ctx)
}

func TestRunCleanup_RemovesExpired(t *testing.T) {
	t.Parallel()

	var now atomic.Int64
	now.Store(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).UnixNano())
	clock := func() time.Time { return time.Unix(0, now.Load()).UTC() }

	store := &countingStore{Store: storage.NewMemoryStore(clock)}
	if err := store.MarkAsProcessed(t.Context(), "evt_short", time.Minute, nil); err != nil {
		t.Fatalf("MarkAsProcessed() error = %v", err)
	}
	if err := store.MarkAsProcessed(t.Context(), "evt_forever", 0, nil); err != nil {
		t.Fatalf("MarkAsProcessed() error = %v", err)
	}
	now.Add(int64(2 * time.Minute))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- RunCleanup(ctx, store, 5*time.Millisecond) }()

	deadline := time.After(2 * time.Second)
	for store.sweeps.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("no cleanup sweep within 2s")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("RunCleanup() error = %v", err)
	}

	events, err := store.GetAllEvents(t.Context())
	if err != nil {
		t.Fatalf("GetAllEvents() error = %v", err)
	}
	if len(events) != 1 {
		t.Errorf("len(GetAllEvents()) = %d after cleanup, want 1", len(events))
	}
}

func TestRunCleanup_DisabledInterval(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	if err := RunCleanup(ctx, storage.NewMemoryStore(nil), 0); err != nil {
		t.Errorf("RunCleanup() error = %v", err)
	}
}
