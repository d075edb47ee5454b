package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"pulse/internal/consent/models"
	"pulse/internal/consent/store"
	"pulse/internal/env"
	dErrors "pulse/pkg/domain-errors"
)

type StorageStoreSuite struct {
	suite.Suite
	storage *env.MemoryStorage
	store   *store.StorageStore
	now     time.Time
}

func TestStorageStoreSuite(t *testing.T) {
	suite.Run(t, new(StorageStoreSuite))
}

func (s *StorageStoreSuite) SetupTest() {
	s.storage = env.NewMemoryStorage()
	s.store = store.NewStorage(s.storage)
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func (s *StorageStoreSuite) TestRoundTrip() {
	rec, err := models.NewRecord("user_1", map[models.Category]bool{
		models.CategoryAnalytics: true,
	}, models.MechanismExplicit, s.now)
	s.Require().NoError(err)

	s.Require().NoError(s.store.Save(context.Background(), rec))

	got, err := s.store.Get(context.Background(), "user_1")
	s.Require().NoError(err)
	s.Equal("user_1", got.Identity)
	s.True(got.Has(models.CategoryAnalytics))
	s.Equal(models.MechanismExplicit, got.Mechanism)
	s.Equal(s.now, got.UpdatedAt.UTC())
}

func (s *StorageStoreSuite) TestMissingRecordIsNotFound() {
	_, err := s.store.Get(context.Background(), "user_1")
	s.ErrorIs(err, store.ErrNotFound)
}

func (s *StorageStoreSuite) TestDifferentIdentityIsNotFound() {
	rec, err := models.NewRecord("user_1", nil, models.MechanismExplicit, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Save(context.Background(), rec))

	_, err = s.store.Get(context.Background(), "user_2")
	s.ErrorIs(err, store.ErrNotFound, "another identity's record is never returned")
}

func (s *StorageStoreSuite) TestCorruptPayloadReadsAsUnavailable() {
	s.Require().NoError(s.storage.Set(store.ConsentKey, "{not json"))

	_, err := s.store.Get(context.Background(), "user_1")

	s.Require().Error(err)
	var dErr *dErrors.Error
	s.Require().ErrorAs(err, &dErr)
	s.Equal(dErrors.CodeUnavailable, dErr.Code, "corrupt storage degrades, it does not 404")
}

func (s *StorageStoreSuite) TestWithdrawnStateSurvivesRoundTrip() {
	rec, err := models.NewRecord("user_1", map[models.Category]bool{
		models.CategoryAnalytics: true,
	}, models.MechanismExplicit, s.now)
	s.Require().NoError(err)
	rec.Merge(map[models.Category]bool{models.CategoryAnalytics: false}, models.MechanismExplicit, s.now.Add(time.Hour))

	s.Require().NoError(s.store.Save(context.Background(), rec))

	got, err := s.store.Get(context.Background(), "user_1")
	s.Require().NoError(err)
	s.True(got.Withdrawn)
	s.Require().NotNil(got.WithdrawnAt)
	s.Equal(s.now.Add(time.Hour), got.WithdrawnAt.UTC())
	s.True(got.Has(models.CategoryNecessary), "necessary is restored even on withdrawn records")
}
