package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/moneyprotocol/engineering-sub002/internal/model"
)

// MemoryStore implements Store with in-memory slices. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	changes  []model.ChangeRecord
	snapshot *model.Snapshot
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) AppendChange(_ context.Context, rec *model.ChangeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.changes {
		if existing.ID == rec.ID {
			return fmt.Errorf("change %s already exists", rec.ID)
		}
	}
	s.changes = append(s.changes, *rec)
	return nil
}

func (s *MemoryStore) GetChange(_ context.Context, id string) (*model.ChangeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.changes {
		if c.ID == id {
			copy := c
			return &copy, nil
		}
	}
	return nil, fmt.Errorf("change %s: %w", id, ErrNotFound)
}

func (s *MemoryStore) RecentChanges(_ context.Context, limit int) ([]model.ChangeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.changes) {
		limit = len(s.changes)
	}
	result := make([]model.ChangeRecord, 0, limit)
	for i := len(s.changes) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, s.changes[i])
	}
	return result, nil
}

func (s *MemoryStore) SaveSnapshot(_ context.Context, snap *model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	copy := *snap
	s.snapshot = &copy
	return nil
}

func (s *MemoryStore) LatestSnapshot(_ context.Context) (*model.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.snapshot == nil {
		return nil, ErrNotFound
	}
	copy := *s.snapshot
	return &copy, nil
}
