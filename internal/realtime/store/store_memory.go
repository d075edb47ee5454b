package store

import (
	"context"
	"sync"
)

type versioned struct {
	snap    Snapshot
	version uint64
}

// InMemoryStore implements optimistic concurrency with a per-entity version
// counter: the mutation runs outside the lock and the write is rejected if
// the version moved underneath it.
type InMemoryStore struct {
	mu    sync.Mutex
	snaps map[string]versioned
}

// NewInMemory creates an empty in-memory snapshot store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{snaps: make(map[string]versioned)}
}

func snapKey(entityType, entityID string) string {
	return entityType + ":" + entityID
}

// UpdateTx performs one optimistic read-modify-write attempt.
func (s *InMemoryStore) UpdateTx(_ context.Context, entityType, entityID string, apply func(*Snapshot)) error {
	key := snapKey(entityType, entityID)

	s.mu.Lock()
	cur, ok := s.snaps[key]
	if !ok {
		cur = versioned{snap: Snapshot{EntityType: entityType, EntityID: entityID}}
	}
	readVersion := cur.version
	working := cur.snap
	s.mu.Unlock()

	apply(&working)

	s.mu.Lock()
	defer s.mu.Unlock()
	latest, exists := s.snaps[key]
	if exists && latest.version != readVersion {
		return ErrConflict
	}
	if !exists && readVersion != 0 {
		return ErrConflict
	}
	s.snaps[key] = versioned{snap: working, version: readVersion + 1}
	return nil
}

// Get returns the current snapshot for the entity, or ErrNotFound.
func (s *InMemoryStore) Get(_ context.Context, entityType, entityID string) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.snaps[snapKey(entityType, entityID)]
	if !ok {
		return nil, ErrNotFound
	}
	snap := cur.snap
	return &snap, nil
}
