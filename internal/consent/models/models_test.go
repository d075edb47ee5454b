package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"pulse/internal/consent/models"
)

type RecordSuite struct {
	suite.Suite
	now time.Time
}

func TestRecordSuite(t *testing.T) {
	suite.Run(t, new(RecordSuite))
}

func (s *RecordSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func (s *RecordSuite) TestNewRecordForcesNecessary() {
	rec, err := models.NewRecord("user_1", map[models.Category]bool{
		models.CategoryAnalytics: true,
	}, models.MechanismExplicit, s.now)

	s.Require().NoError(err)
	s.True(rec.Has(models.CategoryNecessary))
	s.True(rec.Has(models.CategoryAnalytics))
	s.False(rec.Has(models.CategoryMarketing))
}

func (s *RecordSuite) TestNewRecordRejectsInvalidInputs() {
	_, err := models.NewRecord("", nil, models.MechanismExplicit, s.now)
	s.Error(err, "identity is required")

	_, err = models.NewRecord("user_1", nil, models.Mechanism("verbal"), s.now)
	s.Error(err, "unknown mechanisms are rejected")

	_, err = models.NewRecord("user_1", map[models.Category]bool{"tracking": true}, models.MechanismExplicit, s.now)
	s.Error(err, "unknown categories are rejected")
}

func (s *RecordSuite) TestNecessaryCannotBeWithdrawn() {
	rec, err := models.NewRecord("user_1", nil, models.MechanismExplicit, s.now)
	s.Require().NoError(err)

	rec.Merge(map[models.Category]bool{models.CategoryNecessary: false}, models.MechanismExplicit, s.now.Add(time.Hour))

	s.True(rec.Has(models.CategoryNecessary), "necessary survives an attempted withdrawal")
	s.False(rec.Withdrawn, "ignoring a necessary withdrawal does not mark the record withdrawn")
}

func (s *RecordSuite) TestWithdrawalIsStateTransitionNotDeletion() {
	rec, err := models.NewRecord("user_1", map[models.Category]bool{
		models.CategoryAnalytics: true,
	}, models.MechanismExplicit, s.now)
	s.Require().NoError(err)

	later := s.now.Add(time.Hour)
	rec.Merge(map[models.Category]bool{models.CategoryAnalytics: false}, models.MechanismExplicit, later)

	s.False(rec.Has(models.CategoryAnalytics))
	s.True(rec.Withdrawn)
	s.Require().NotNil(rec.WithdrawnAt)
	s.Equal(later, *rec.WithdrawnAt)
	s.Equal(later, rec.UpdatedAt)
}

func (s *RecordSuite) TestSnapshotIsIndependentCopy() {
	rec, err := models.NewRecord("user_1", map[models.Category]bool{
		models.CategoryAnalytics: true,
	}, models.MechanismExplicit, s.now)
	s.Require().NoError(err)

	snap := rec.Snapshot()
	rec.Merge(map[models.Category]bool{models.CategoryAnalytics: false}, models.MechanismExplicit, s.now.Add(time.Hour))

	s.True(snap[models.CategoryAnalytics], "withdrawal after the snapshot does not alter it")
}

func (s *RecordSuite) TestNilRecordAnswersNecessaryOnly() {
	var rec *models.Record
	s.True(rec.Has(models.CategoryNecessary))
	s.False(rec.Has(models.CategoryAnalytics))
	s.True(rec.Snapshot()[models.CategoryNecessary])
}

func (s *RecordSuite) TestCloneIsDeep() {
	rec, err := models.NewRecord("user_1", map[models.Category]bool{
		models.CategoryAnalytics: true,
	}, models.MechanismExplicit, s.now)
	s.Require().NoError(err)

	clone := rec.Clone()
	clone.Categories[models.CategoryAnalytics] = false

	s.True(rec.Has(models.CategoryAnalytics), "mutating the clone leaves the original intact")
}
