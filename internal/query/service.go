// Package query serves read access to aggregates and raw events with a
// read-through TTL cache in front of the stores. Writes elsewhere invalidate
// through InvalidateAggregate, so staleness never exceeds the TTL.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	aggmodels "pulse/internal/aggregate/models"
	aggstore "pulse/internal/aggregate/store"
	"pulse/internal/event"
	ingeststore "pulse/internal/ingest/store"
	"pulse/internal/platform/cache"
	dErrors "pulse/pkg/domain-errors"
)

const (
	defaultTTL   = 30 * time.Second
	maxPageLimit = 500
)

// EventsPage is one page of raw events plus the cursor for the next.
type EventsPage struct {
	Events     []event.Event `json:"events"`
	NextCursor string        `json:"nextCursor,omitempty"`
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the logger instance for the service.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTTL sets the cache time-to-live for query results.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// Service answers aggregate and event queries.
type Service struct {
	aggs   aggstore.Store
	events ingeststore.Store
	cache  *cache.TTL
	logger *slog.Logger
	ttl    time.Duration

	genMu       sync.Mutex
	generations map[string]uint64
}

// NewService creates a query service. The cache is injected so its lifetime
// is owned by the caller.
func NewService(aggs aggstore.Store, events ingeststore.Store, c *cache.TTL, opts ...Option) *Service {
	s := &Service{
		aggs:        aggs,
		events:      events,
		cache:       c,
		logger:      slog.Default(),
		ttl:         defaultTTL,
		generations: make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetAggregates returns the stored aggregates for the entity and period whose
// windows start within [start, end). Results are cached per query shape.
func (s *Service) GetAggregates(ctx context.Context, entityType, entityID string, period aggmodels.Period, start, end time.Time) ([]aggmodels.Aggregate, error) {
	if entityType == "" || entityID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "entity type and id are required")
	}
	if !period.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "unknown aggregation period")
	}

	key := s.aggListKey(entityType, entityID, period, start, end)
	v, err := s.cache.GetOrLoad(key, s.ttl, func() (any, error) {
		return s.aggs.List(ctx, entityType, entityID, period, start, end)
	})
	if err != nil {
		return nil, err
	}
	return v.([]aggmodels.Aggregate), nil
}

// GetAggregate returns the single aggregate for one window key.
func (s *Service) GetAggregate(ctx context.Context, key aggmodels.Key) (*aggmodels.Aggregate, error) {
	v, err := s.cache.GetOrLoad(aggKey(key), s.ttl, func() (any, error) {
		return s.aggs.Get(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return v.(*aggmodels.Aggregate), nil
}

// GetEvents returns one page of raw events matching the filter. Event pages
// are cursor-addressed and cached per page.
func (s *Service) GetEvents(ctx context.Context, filter ingeststore.Filter) (*EventsPage, error) {
	if filter.EntityType == "" || filter.EntityID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "entity type and id are required")
	}
	if filter.Limit <= 0 || filter.Limit > maxPageLimit {
		filter.Limit = 100
	}

	key := eventsKey(filter)
	v, err := s.cache.GetOrLoad(key, s.ttl, func() (any, error) {
		events, next, err := s.events.List(ctx, filter)
		if err != nil {
			return nil, err
		}
		return &EventsPage{Events: events, NextCursor: next}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*EventsPage), nil
}

// InvalidateAggregate drops the cached entry for a recomputed window and
// bumps the entity's list generation so cached list pages stop matching.
// Wired as the aggregation service's write hook.
func (s *Service) InvalidateAggregate(key aggmodels.Key) {
	s.cache.Invalidate(aggKey(key))
	s.bumpGeneration(key.EntityType, key.EntityID, key.Period)
}

// bumpGeneration rotates the version folded into list cache keys. Old list
// entries become unreachable and age out via TTL.
func (s *Service) bumpGeneration(entityType, entityID string, period aggmodels.Period) {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	s.generations[aggListPrefixKey(entityType, entityID, period)]++
}

func (s *Service) generation(entityType, entityID string, period aggmodels.Period) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.generations[aggListPrefixKey(entityType, entityID, period)]
}

func aggKey(key aggmodels.Key) string {
	return fmt.Sprintf("agg:%s:%s:%s:%d", key.EntityType, key.EntityID, key.Period, key.WindowStart.UTC().Unix())
}

func (s *Service) aggListKey(entityType, entityID string, period aggmodels.Period, start, end time.Time) string {
	gen := s.generation(entityType, entityID, period)
	return fmt.Sprintf("%s:g%d:%d:%d", aggListPrefixKey(entityType, entityID, period), gen, start.UTC().Unix(), end.UTC().Unix())
}

func aggListPrefixKey(entityType, entityID string, period aggmodels.Period) string {
	return fmt.Sprintf("agglist:%s:%s:%s", entityType, entityID, period)
}

func eventsKey(filter ingeststore.Filter) string {
	types := make([]string, len(filter.Types))
	for i, t := range filter.Types {
		types[i] = string(t)
	}
	return fmt.Sprintf("events:%s:%s:%d:%d:%s:%d:%s",
		filter.EntityType, filter.EntityID,
		filter.Start.UTC().Unix(), filter.End.UTC().Unix(),
		strings.Join(types, ","), filter.Limit, filter.Cursor,
	)
}
