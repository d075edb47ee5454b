package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"pulse/internal/aggregate/models"
)

// InMemoryStore keeps aggregates in a map keyed by window. Used in tests and
// single-node deployments.
type InMemoryStore struct {
	mu   sync.RWMutex
	aggs map[models.Key]models.Aggregate
}

// NewInMemory creates an empty in-memory aggregate store.
func NewInMemory() *InMemoryStore {
	return &InMemoryStore{aggs: make(map[models.Key]models.Aggregate)}
}

// Put overwrites the record for the aggregate's key.
func (s *InMemoryStore) Put(_ context.Context, agg *models.Aggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aggs[agg.KeyOf()] = *agg
	return nil
}

// Get returns the aggregate for the key, or ErrNotFound.
func (s *InMemoryStore) Get(_ context.Context, key models.Key) (*models.Aggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agg, ok := s.aggs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &agg, nil
}

// List returns aggregates for the entity and period whose windows start
// within [start, end), ordered by window start. Zero bounds mean unbounded.
func (s *InMemoryStore) List(_ context.Context, entityType, entityID string, period models.Period, start, end time.Time) ([]models.Aggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]models.Aggregate, 0)
	for key, agg := range s.aggs {
		if key.EntityType != entityType || key.EntityID != entityID || key.Period != period {
			continue
		}
		if !start.IsZero() && key.WindowStart.Before(start) {
			continue
		}
		if !end.IsZero() && !key.WindowStart.Before(end) {
			continue
		}
		results = append(results, agg)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].WindowStart.Before(results[j].WindowStart)
	})
	return results, nil
}
