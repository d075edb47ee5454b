package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	consent "pulse/internal/consent/models"
	"pulse/internal/event"
	"pulse/internal/ingest/service"
	"pulse/internal/ingest/store"
	dErrors "pulse/pkg/domain-errors"
)

// recordingRealtime remembers which events reached the live counters.
type recordingRealtime struct {
	ids []string
}

func (r *recordingRealtime) Record(_ context.Context, e *event.Event) {
	r.ids = append(r.ids, e.ID)
}

// failingStore rejects every insert to exercise the whole-batch failure path.
type failingStore struct {
	store.Store
}

func (f *failingStore) Insert(context.Context, []event.Event) error {
	return errors.New("connection refused")
}

type ServiceSuite struct {
	suite.Suite
	store    *store.InMemoryStore
	realtime *recordingRealtime
	svc      *service.Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.store = store.NewInMemory()
	s.realtime = &recordingRealtime{}
	s.svc = service.NewService(s.store,
		service.WithRealtime(s.realtime),
	)
}

func validEvent(i int) event.Event {
	return event.Event{
		ID:        fmt.Sprintf("evt_%03d", i),
		Timestamp: time.Date(2026, 3, 1, 12, 0, i, 0, time.UTC),
		SessionID: "sess_1",
		Name:      "page_view",
		Type:      event.TypePage,
		Privacy: event.Privacy{
			Consent: map[consent.Category]bool{consent.CategoryNecessary: true},
		},
	}
}

func (s *ServiceSuite) TestEmptyBatchIsNoOp() {
	results, err := s.svc.IngestBatch(context.Background(), nil, "")

	s.Require().NoError(err)
	s.Empty(results)
	s.Equal(0, s.store.Len())
}

func (s *ServiceSuite) TestResultsMatchInputOrder() {
	bad := validEvent(1)
	bad.SessionID = ""
	batch := []event.Event{validEvent(0), bad, validEvent(2)}

	results, err := s.svc.IngestBatch(context.Background(), batch, "")

	s.Require().NoError(err)
	s.Require().Len(results, 3)
	s.True(results[0].Accepted)
	s.False(results[1].Accepted)
	s.NotEmpty(results[1].Reason)
	s.True(results[2].Accepted)
	s.Equal("evt_000", results[0].EventID)
	s.Equal("evt_002", results[2].EventID)
	s.Equal(2, s.store.Len(), "only accepted events are stored")
}

func (s *ServiceSuite) TestAcceptedEventsReachRealtime() {
	batch := []event.Event{validEvent(0), validEvent(1)}

	_, err := s.svc.IngestBatch(context.Background(), batch, "")

	s.Require().NoError(err)
	s.Equal([]string{"evt_000", "evt_001"}, s.realtime.ids)
}

func (s *ServiceSuite) TestStoreFailureFailsWholeBatch() {
	svc := service.NewService(&failingStore{})

	results, err := svc.IngestBatch(context.Background(), []event.Event{validEvent(0)}, "")

	s.Require().Error(err)
	s.Nil(results, "the client must retry the whole batch")
	var dErr *dErrors.Error
	s.Require().ErrorAs(err, &dErr)
	s.Equal(dErrors.CodeUnavailable, dErr.Code)
}

func (s *ServiceSuite) TestClientIPAnonymizedByDefault() {
	_, err := s.svc.IngestBatch(context.Background(), []event.Event{validEvent(0)}, "203.0.113.42")
	s.Require().NoError(err)

	stored, _, err := s.store.List(context.Background(), store.Filter{})
	s.Require().NoError(err)
	s.Require().Len(stored, 1)
	s.Equal("203.0.113.0", stored[0].Context.IPAddress)
	s.True(stored[0].Processing.Processed)
}

func (s *ServiceSuite) TestClientIPKeptWhenAnonymizationDisabled() {
	svc := service.NewService(s.store, service.WithAnonymizeIP(false))

	_, err := svc.IngestBatch(context.Background(), []event.Event{validEvent(0)}, "203.0.113.42")
	s.Require().NoError(err)

	stored, _, err := s.store.List(context.Background(), store.Filter{})
	s.Require().NoError(err)
	s.Equal("203.0.113.42", stored[0].Context.IPAddress)
}

func (s *ServiceSuite) TestUnstampedEventsGetServerRetention() {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	horizon := 90 * 24 * time.Hour
	svc := service.NewService(s.store,
		service.WithRetentionHorizon(horizon),
		service.WithClock(func() time.Time { return now }),
	)

	stamped := validEvent(1)
	stamped.Privacy.RetentionExpiry = now.Add(24 * time.Hour)

	_, err := svc.IngestBatch(context.Background(), []event.Event{validEvent(0), stamped}, "")
	s.Require().NoError(err)

	stored, _, err := s.store.List(context.Background(), store.Filter{})
	s.Require().NoError(err)
	s.Require().Len(stored, 2)
	s.Equal(now.Add(horizon), stored[0].Privacy.RetentionExpiry, "the server stamps events the client left unstamped")
	s.Equal(now.Add(24*time.Hour), stored[1].Privacy.RetentionExpiry, "a client stamp is kept as-is")
}

func (s *ServiceSuite) TestAllRejectedBatchSkipsStore() {
	bad := validEvent(0)
	bad.Name = ""
	bad.SessionID = ""

	results, err := s.svc.IngestBatch(context.Background(), []event.Event{bad}, "")

	s.Require().NoError(err, "validation rejections are not call failures")
	s.Require().Len(results, 1)
	s.False(results[0].Accepted)
	s.Equal(0, s.store.Len())
	s.Empty(s.realtime.ids)
}
