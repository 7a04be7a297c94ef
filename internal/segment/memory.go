package segment

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store, used by tests and by cmd/segcheck for
// documents read from disk.
type MemoryStore struct {
	mu   sync.RWMutex
	recs map[string][]Segment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string][]Segment)}
}

// Put stores segs for recordingID. segs must not be mutated afterwards.
func (m *MemoryStore) Put(recordingID string, segs []Segment) {
	if segs == nil {
		segs = []Segment{}
	}
	m.mu.Lock()
	m.recs[recordingID] = segs
	m.mu.Unlock()
}

func (m *MemoryStore) Segments(_ context.Context, recordingID string) ([]Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	segs, ok := m.recs[recordingID]
	if !ok {
		return nil, ErrNotFound
	}
	return segs, nil
}
