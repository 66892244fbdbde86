package storage

import (
	"context"
	"sync"
	"time"

	go_json "github.com/goccy/go-json"
)

var _ Store = (*MemoryStore)(nil)

type MemoryStore struct {
	mu     sync.RWMutex
	events map[string]ProcessedEvent
	now    func() time.Time
}

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = defaultNow
	}
	return &MemoryStore{
		events: make(map[string]ProcessedEvent),
		now:    now,
	}
}

func (m *MemoryStore) IsProcessed(_ context.Context, eventID string) (bool, error) {
	now := m.now()

	m.mu.RLock()
	e, ok := m.events[eventID]
	m.mu.RUnlock()

	if !ok {
		return false, nil
	}
	if !e.Expired(now) {
		return true, nil
	}

	// purge lazily, re-checking under the write lock in case a fresh mark
	// replaced the expired record in between
	m.mu.Lock()
	if cur, ok := m.events[eventID]; ok && cur.Expired(now) {
		delete(m.events, eventID)
	}
	m.mu.Unlock()

	return false, nil
}

func (m *MemoryStore) MarkAsProcessed(ctx context.Context, eventID string, ttl time.Duration, data any) error {
	_, err := m.TryMarkAsProcessed(ctx, eventID, ttl, data)
	return err
}

func (m *MemoryStore) TryMarkAsProcessed(_ context.Context, eventID string, ttl time.Duration, data any) (bool, error) {
	raw, err := encodeData(data)
	if err != nil {
		return false, err
	}

	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.events[eventID]; ok && !cur.Expired(now) {
		return false, nil
	}

	m.events[eventID] = ProcessedEvent{
		EventID:     eventID,
		ProcessedAt: now,
		ExpiresAt:   expiresAt(now, ttl),
		Data:        raw,
	}
	return true, nil
}

func (m *MemoryStore) RemoveEvent(_ context.Context, eventID string) error {
	m.mu.Lock()
	delete(m.events, eventID)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) ClearAll(_ context.Context) error {
	m.mu.Lock()
	clear(m.events)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) CleanupExpired(_ context.Context) (int64, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for id, e := range m.events {
		if e.Expired(now) {
			delete(m.events, id)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) GetAllEvents(_ context.Context) ([]go_json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]go_json.RawMessage, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Data)
	}
	return out, nil
}

func (m *MemoryStore) Ping(_ context.Context) error {
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
