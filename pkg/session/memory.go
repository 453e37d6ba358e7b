package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory session store for tests and single-binary
// deployments. Sessions are lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// Ensure MemoryStore implements Store at compile time.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

// GetSession returns a copy of the stored record, or ErrNotFound.
func (s *MemoryStore) GetSession(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok || rec.Expired(time.Now()) {
		return nil, ErrNotFound
	}

	cp := *rec
	cp.Claims = make(map[string]any, len(rec.Claims))
	for k, v := range rec.Claims {
		cp.Claims[k] = v
	}
	return &cp, nil
}

// PutSession stores or replaces the record.
func (s *MemoryStore) PutSession(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	cp.Claims = make(map[string]any, len(rec.Claims))
	for k, v := range rec.Claims {
		cp.Claims[k] = v
	}
	s.records[rec.ID] = &cp

	// Opportunistic sweep keeps the map from accumulating dead sessions.
	now := time.Now()
	for id, old := range s.records {
		if old.Expired(now) {
			delete(s.records, id)
		}
	}
	return nil
}

// DeleteSession removes the record if present.
func (s *MemoryStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}
