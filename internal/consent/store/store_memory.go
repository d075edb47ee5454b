package store

import (
	"context"
	"sync"

	"pulse/internal/consent/models"
)

// InMemoryStore stores consent records in memory, keyed by identity.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*models.Record
}

// NewInMemory constructs an empty in-memory consent store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]*models.Record)}
}

func (s *InMemoryStore) Get(_ context.Context, identity string) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[identity]
	if !ok {
		return nil, ErrNotFound
	}
	return record.Clone(), nil
}

func (s *InMemoryStore) Save(_ context.Context, record *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.Identity] = record.Clone()
	return nil
}
