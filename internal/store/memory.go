package store

import (
	"context"
	"sync"
	"time"

	"github.com/skywatch/opensky-tracker/internal/opensky"
)

type memoryRow struct {
	snap     opensky.Snapshot
	groupKey string
}

// MemoryStore is the in-memory Store used by tests and as a no-persistence
// fallback.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]memoryRow
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[string]memoryRow)}
}

func (m *MemoryStore) UpsertBatch(_ context.Context, groupKey string, snaps []opensky.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, snap := range snaps {
		m.rows[snap.Icao24] = memoryRow{snap: snap, groupKey: groupKey}
	}
	return nil
}

func (m *MemoryStore) QueryByIds(_ context.Context, ids []string) (map[string]opensky.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]opensky.Snapshot, len(ids))
	for _, id := range ids {
		if row, ok := m.rows[id]; ok {
			out[id] = row.snap
		}
	}
	return out, nil
}

func (m *MemoryStore) QueryByGroup(_ context.Context, groupKey string, freshnessWindow time.Duration) ([]opensky.Snapshot, error) {
	cutoff := time.Now().Add(-freshnessWindow)

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []opensky.Snapshot
	for _, row := range m.rows {
		if row.groupKey == groupKey && !row.snap.ReceivedAt.Before(cutoff) {
			out = append(out, row.snap)
		}
	}
	return out, nil
}

func (m *MemoryStore) Close() error {
	return nil
}
