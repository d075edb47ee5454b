package retention_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"pulse/internal/ingest/workers/retention"
)

type stubStore struct {
	deleted int
	err     error
	cutoff  time.Time
}

func (s *stubStore) DeleteExpired(_ context.Context, before time.Time) (int, error) {
	s.cutoff = before
	return s.deleted, s.err
}

type WorkerSuite struct {
	suite.Suite
	now time.Time
}

func TestWorkerSuite(t *testing.T) {
	suite.Run(t, new(WorkerSuite))
}

func (s *WorkerSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func (s *WorkerSuite) TestRunOnceDeletesAtCurrentTime() {
	store := &stubStore{deleted: 7}
	worker := retention.New(store,
		retention.WithClock(func() time.Time { return s.now }),
	)

	res, err := worker.RunOnce(context.Background())

	s.Require().NoError(err)
	s.Equal(7, res.EventsDeleted)
	s.Equal(s.now, store.cutoff)
}

func (s *WorkerSuite) TestRunOncePropagatesStoreError() {
	store := &stubStore{err: errors.New("connection refused")}
	worker := retention.New(store)

	res, err := worker.RunOnce(context.Background())

	s.Require().Error(err)
	s.Nil(res)
}

func (s *WorkerSuite) TestStartStopsOnContextCancel() {
	worker := retention.New(&stubStore{}, retention.WithInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Start(ctx) }()
	cancel()

	select {
	case err := <-done:
		s.ErrorIs(err, context.Canceled)
	case <-time.After(time.Second):
		s.Fail("worker did not stop after cancellation")
	}
}
