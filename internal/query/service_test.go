package query_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	aggmodels "pulse/internal/aggregate/models"
	aggstore "pulse/internal/aggregate/store"
	consent "pulse/internal/consent/models"
	"pulse/internal/event"
	ingeststore "pulse/internal/ingest/store"
	"pulse/internal/platform/cache"
	"pulse/internal/query"
	dErrors "pulse/pkg/domain-errors"
)

type ServiceSuite struct {
	suite.Suite
	aggs   *aggstore.InMemoryStore
	events *ingeststore.InMemoryStore
	svc    *query.Service
	window time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.aggs = aggstore.NewInMemory()
	s.events = ingeststore.NewInMemory()
	s.svc = query.NewService(s.aggs, s.events, cache.New())
	s.window = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
}

func (s *ServiceSuite) putAggregate(views int) aggmodels.Key {
	agg := aggmodels.Aggregate{
		EntityType:  "profile",
		EntityID:    "prof_42",
		Period:      aggmodels.PeriodDay,
		WindowStart: s.window,
		WindowEnd:   s.window.Add(24 * time.Hour),
		ViewCount:   views,
	}
	s.Require().NoError(s.aggs.Put(context.Background(), &agg))
	return agg.KeyOf()
}

func (s *ServiceSuite) TestGetAggregatesServedFromCache() {
	s.putAggregate(5)

	first, err := s.svc.GetAggregates(context.Background(), "profile", "prof_42", aggmodels.PeriodDay, time.Time{}, time.Time{})
	s.Require().NoError(err)
	s.Require().Len(first, 1)

	// A store write without invalidation stays invisible until the TTL.
	s.putAggregate(9)
	cached, err := s.svc.GetAggregates(context.Background(), "profile", "prof_42", aggmodels.PeriodDay, time.Time{}, time.Time{})
	s.Require().NoError(err)
	s.Equal(5, cached[0].ViewCount)
}

func (s *ServiceSuite) TestInvalidateAggregateExposesFreshData() {
	key := s.putAggregate(5)

	_, err := s.svc.GetAggregates(context.Background(), "profile", "prof_42", aggmodels.PeriodDay, time.Time{}, time.Time{})
	s.Require().NoError(err)

	s.putAggregate(9)
	s.svc.InvalidateAggregate(key)

	fresh, err := s.svc.GetAggregates(context.Background(), "profile", "prof_42", aggmodels.PeriodDay, time.Time{}, time.Time{})
	s.Require().NoError(err)
	s.Equal(9, fresh[0].ViewCount, "invalidation rotates the list cache key")

	single, err := s.svc.GetAggregate(context.Background(), key)
	s.Require().NoError(err)
	s.Equal(9, single.ViewCount)
}

func (s *ServiceSuite) TestGetAggregateCachesSingleWindow() {
	key := s.putAggregate(5)

	first, err := s.svc.GetAggregate(context.Background(), key)
	s.Require().NoError(err)
	s.Equal(5, first.ViewCount)

	s.putAggregate(9)
	cached, err := s.svc.GetAggregate(context.Background(), key)
	s.Require().NoError(err)
	s.Equal(5, cached.ViewCount)
}

func (s *ServiceSuite) TestGetAggregatesValidatesInput() {
	_, err := s.svc.GetAggregates(context.Background(), "", "prof_42", aggmodels.PeriodDay, time.Time{}, time.Time{})
	s.requireInvalidInput(err)

	_, err = s.svc.GetAggregates(context.Background(), "profile", "prof_42", aggmodels.Period("fortnight"), time.Time{}, time.Time{})
	s.requireInvalidInput(err)
}

func (s *ServiceSuite) requireInvalidInput(err error) {
	s.Require().Error(err)
	var dErr *dErrors.Error
	s.Require().ErrorAs(err, &dErr)
	s.Equal(dErrors.CodeInvalidInput, dErr.Code)
}

func (s *ServiceSuite) seedEvents(n int) {
	events := make([]event.Event, n)
	for i := range events {
		events[i] = event.Event{
			ID:         fmt.Sprintf("evt_%03d", i),
			Timestamp:  s.window.Add(time.Duration(i) * time.Minute),
			SessionID:  "sess_1",
			EntityType: "profile",
			EntityID:   "prof_42",
			Name:       "view",
			Type:       event.TypeView,
			Privacy: event.Privacy{
				Consent: map[consent.Category]bool{consent.CategoryNecessary: true},
			},
		}
	}
	s.Require().NoError(s.events.Insert(context.Background(), events))
}

func (s *ServiceSuite) TestGetEventsPagesWithCursors() {
	s.seedEvents(15)

	first, err := s.svc.GetEvents(context.Background(), ingeststore.Filter{
		EntityType: "profile",
		EntityID:   "prof_42",
		Limit:      10,
	})
	s.Require().NoError(err)
	s.Len(first.Events, 10)
	s.Require().NotEmpty(first.NextCursor)

	second, err := s.svc.GetEvents(context.Background(), ingeststore.Filter{
		EntityType: "profile",
		EntityID:   "prof_42",
		Limit:      10,
		Cursor:     first.NextCursor,
	})
	s.Require().NoError(err)
	s.Len(second.Events, 5)
	s.Empty(second.NextCursor)
}

func (s *ServiceSuite) TestGetEventsClampsLimit() {
	s.seedEvents(3)

	page, err := s.svc.GetEvents(context.Background(), ingeststore.Filter{
		EntityType: "profile",
		EntityID:   "prof_42",
		Limit:      10000,
	})

	s.Require().NoError(err)
	s.Len(page.Events, 3)
}

func (s *ServiceSuite) TestGetEventsRequiresEntity() {
	_, err := s.svc.GetEvents(context.Background(), ingeststore.Filter{EntityType: "profile"})
	s.requireInvalidInput(err)
}
