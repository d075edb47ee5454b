package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"pulse/internal/aggregate/models"
	"pulse/internal/aggregate/service"
	aggstore "pulse/internal/aggregate/store"
	consent "pulse/internal/consent/models"
	"pulse/internal/event"
	ingeststore "pulse/internal/ingest/store"
	dErrors "pulse/pkg/domain-errors"
)

type ServiceSuite struct {
	suite.Suite
	events      *ingeststore.InMemoryStore
	aggs        *aggstore.InMemoryStore
	invalidated []models.Key
	now         time.Time
	windowStart time.Time
	svc         *service.Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.events = ingeststore.NewInMemory()
	s.aggs = aggstore.NewInMemory()
	s.invalidated = nil
	s.now = time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)
	s.windowStart = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s.svc = service.NewService(s.events, s.aggs,
		service.WithClock(func() time.Time { return s.now }),
		service.WithInvalidator(func(key models.Key) {
			s.invalidated = append(s.invalidated, key)
		}),
	)
}

func (s *ServiceSuite) seed(n int) {
	events := make([]event.Event, n)
	for i := range events {
		events[i] = event.Event{
			ID:         fmt.Sprintf("evt_%03d", i),
			Timestamp:  s.windowStart.Add(time.Duration(i) * time.Minute),
			SessionID:  fmt.Sprintf("sess_%d", i%3),
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

func (s *ServiceSuite) TestComputeStoresAndReturnsAggregate() {
	s.seed(6)

	agg, err := s.svc.ComputeAggregate(context.Background(), "profile", "prof_42", models.PeriodDay, s.windowStart)

	s.Require().NoError(err)
	s.Equal(6, agg.ViewCount)
	s.Equal(3, agg.UniqueSessions)
	s.Equal(s.now, agg.LastUpdated)

	stored, err := s.aggs.Get(context.Background(), agg.KeyOf())
	s.Require().NoError(err)
	s.Equal(agg.ViewCount, stored.ViewCount)
}

func (s *ServiceSuite) TestRecomputeOverwritesNotAccumulates() {
	s.seed(6)

	first, err := s.svc.ComputeAggregate(context.Background(), "profile", "prof_42", models.PeriodDay, s.windowStart)
	s.Require().NoError(err)
	second, err := s.svc.ComputeAggregate(context.Background(), "profile", "prof_42", models.PeriodDay, s.windowStart)
	s.Require().NoError(err)

	s.Equal(first.ViewCount, second.ViewCount, "recomputation converges, it never doubles")
}

func (s *ServiceSuite) TestComputePagesThroughLargeWindows() {
	// More events than one store page to force cursor walking.
	s.seed(1200)

	agg, err := s.svc.ComputeAggregate(context.Background(), "profile", "prof_42", models.PeriodDay, s.windowStart)

	s.Require().NoError(err)
	s.Equal(1200, agg.ViewCount)
}

func (s *ServiceSuite) TestInvalidatorCalledWithAggregateKey() {
	s.seed(1)

	_, err := s.svc.ComputeAggregate(context.Background(), "profile", "prof_42", models.PeriodDay, s.windowStart)

	s.Require().NoError(err)
	s.Require().Len(s.invalidated, 1)
	s.Equal(models.Key{
		EntityType:  "profile",
		EntityID:    "prof_42",
		Period:      models.PeriodDay,
		WindowStart: s.windowStart,
	}, s.invalidated[0])
}

func (s *ServiceSuite) TestUnknownPeriodRejected() {
	_, err := s.svc.ComputeAggregate(context.Background(), "profile", "prof_42", models.Period("fortnight"), s.windowStart)

	s.Require().Error(err)
	var dErr *dErrors.Error
	s.Require().ErrorAs(err, &dErr)
	s.Equal(dErrors.CodeInvalidInput, dErr.Code)
}

func (s *ServiceSuite) TestEmptyWindowStoresZeroedAggregate() {
	agg, err := s.svc.ComputeAggregate(context.Background(), "profile", "prof_42", models.PeriodHour, s.windowStart)

	s.Require().NoError(err)
	s.Zero(agg.ViewCount)
	s.InDelta(1.0, agg.DataCompleteness, 1e-9)

	_, err = s.aggs.Get(context.Background(), agg.KeyOf())
	s.NoError(err, "empty windows still overwrite the stored record")
}
