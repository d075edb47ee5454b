package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"pulse/internal/event"
)

// InMemoryStore holds events in insertion order. Used in tests and small
// single-node deployments.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []event.Event
}

// NewInMemory creates an empty in-memory event store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{}
}

// Insert appends the batch.
func (s *InMemoryStore) Insert(_ context.Context, events []event.Event) error {
	if len(events) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

// List returns matching events in timestamp order with offset pagination.
func (s *InMemoryStore) List(_ context.Context, filter Filter) ([]event.Event, string, error) {
	offset, err := DecodeCursor(filter.Cursor)
	if err != nil {
		return nil, "", err
	}

	s.mu.RLock()
	matched := make([]event.Event, 0)
	for i := range s.events {
		if filter.Matches(&s.events[i]) {
			matched = append(matched, s.events[i])
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.Before(matched[j].Timestamp)
	})

	if offset >= len(matched) {
		return []event.Event{}, "", nil
	}
	matched = matched[offset:]

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	next := ""
	if len(matched) > limit {
		matched = matched[:limit]
		next = EncodeCursor(offset + limit)
	}
	return matched, next, nil
}

// ActiveEntities returns the distinct entities with events since the given time.
func (s *InMemoryStore) ActiveEntities(_ context.Context, since time.Time) ([]EntityRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[EntityRef]bool)
	refs := make([]EntityRef, 0)
	for i := range s.events {
		e := &s.events[i]
		if e.EntityID == "" || e.Timestamp.Before(since) {
			continue
		}
		ref := EntityRef{EntityType: e.EntityType, EntityID: e.EntityID}
		if !seen[ref] {
			seen[ref] = true
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

// DeleteExpired removes events whose retention expiry falls before the cutoff.
func (s *InMemoryStore) DeleteExpired(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	removed := 0
	for i := range s.events {
		if s.events[i].Expired(before) {
			removed++
			continue
		}
		kept = append(kept, s.events[i])
	}
	s.events = kept
	return removed, nil
}

// Len reports the number of stored events, for tests.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
