package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store and RunStore for tests and ephemeral
// runs. Writes follow the same write-once rule as the durable store.
type MemoryStore struct {
	mu        sync.RWMutex
	artifacts map[string]*Artifact
	runs      map[string]*RunRecord
	runOrder  []string
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		artifacts: make(map[string]*Artifact),
		runs:      make(map[string]*RunRecord),
	}
}

// Put stores the payload unless the key already holds one; the first write
// wins.
func (m *MemoryStore) Put(_ context.Context, key Key, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := key.String()
	if _, ok := m.artifacts[id]; ok {
		return nil
	}
	stored := make([]byte, len(payload))
	copy(stored, payload)
	m.artifacts[id] = &Artifact{Key: key, Payload: stored, CreatedAt: time.Now()}
	return nil
}

// Get returns the artifact at key, or ErrNotFound.
func (m *MemoryStore) Get(_ context.Context, key Key) (*Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	art, ok := m.artifacts[key.String()]
	if !ok {
		return nil, ErrNotFound
	}
	return art, nil
}

// List returns the keys stored for a point-cloud identity, in insertion
// order per map iteration (unordered).
func (m *MemoryStore) List(_ context.Context, cloudID string) ([]Key, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []Key
	for _, art := range m.artifacts {
		if art.Key.CloudID == cloudID {
			keys = append(keys, art.Key)
		}
	}
	return keys, nil
}

// Len returns the stored artifact count.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.artifacts)
}

// SaveRun upserts a run record by run ID.
func (m *MemoryStore) SaveRun(_ context.Context, rec *RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	if _, ok := m.runs[rec.RunID]; !ok {
		m.runOrder = append(m.runOrder, rec.RunID)
	}
	m.runs[rec.RunID] = &cp
	return nil
}

// GetRun returns the run record for runID, or ErrNotFound.
func (m *MemoryStore) GetRun(_ context.Context, runID string) (*RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.runs[runID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// ListRuns returns up to limit run records for a point-cloud identity, most
// recent first. Limit <= 0 means no limit.
func (m *MemoryStore) ListRuns(_ context.Context, cloudID string, limit int) ([]*RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*RunRecord
	for i := len(m.runOrder) - 1; i >= 0; i-- {
		rec := m.runs[m.runOrder[i]]
		if cloudID != "" && rec.CloudID != cloudID {
			continue
		}
		cp := *rec
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
