package engine_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"pulse/internal/aggregate/engine"
	"pulse/internal/aggregate/models"
	"pulse/internal/event"
)

type EngineSuite struct {
	suite.Suite
	windowStart time.Time
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.windowStart = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
}

func (s *EngineSuite) makeEvent(id, sessionID string, typ event.Type, offset time.Duration) event.Event {
	return event.Event{
		ID:        id,
		Timestamp: s.windowStart.Add(offset),
		SessionID: sessionID,
		Name:      string(typ),
		Type:      typ,
	}
}

func (s *EngineSuite) compute(events []event.Event) models.Aggregate {
	return engine.Compute("profile", "prof_42", models.PeriodDay, s.windowStart, events)
}

func (s *EngineSuite) TestComputeIsIdempotent() {
	events := []event.Event{
		s.makeEvent("e1", "s1", event.TypeView, time.Hour),
		s.makeEvent("e2", "s1", event.TypeDownload, 2*time.Hour),
		s.makeEvent("e3", "s2", event.TypePage, 3*time.Hour),
		s.makeEvent("e4", "s3", event.TypeContact, 4*time.Hour),
	}

	first := s.compute(events)
	second := s.compute(events)

	s.Equal(first, second, "same window and events always produce the same aggregate")
}

func (s *EngineSuite) TestBounceRateCountsSingleEventSessions() {
	// Session s1 has two events, sessions s2 and s3 have one each.
	events := []event.Event{
		s.makeEvent("e1", "s1", event.TypeView, time.Hour),
		s.makeEvent("e2", "s1", event.TypeDownload, 2*time.Hour),
		s.makeEvent("e3", "s2", event.TypeView, 3*time.Hour),
		s.makeEvent("e4", "s3", event.TypeView, 4*time.Hour),
	}

	agg := s.compute(events)

	s.Equal(3, agg.ViewCount)
	s.Equal(3, agg.UniqueSessions, "all three sessions carry a view")
	s.InDelta(2.0/3.0, agg.BounceRate, 1e-9, "two of three sessions bounced")
}

func (s *EngineSuite) TestUniqueSessionsCountsViewSessionsOnly() {
	events := []event.Event{
		s.makeEvent("e1", "s1", event.TypeView, time.Hour),
		s.makeEvent("e2", "s2", event.TypeDownload, 2*time.Hour),
	}

	agg := s.compute(events)

	s.Equal(1, agg.UniqueSessions, "a download-only session is not a visit")
	s.Equal(1, agg.DownloadCount)
}

func (s *EngineSuite) TestConversionRateOverUniqueSessions() {
	events := []event.Event{
		s.makeEvent("e1", "s1", event.TypeView, time.Hour),
		s.makeEvent("e2", "s2", event.TypeView, 2*time.Hour),
		s.makeEvent("e3", "s1", event.TypeContact, 3*time.Hour),
		s.makeEvent("e4", "s2", event.TypeBooking, 4*time.Hour),
	}

	agg := s.compute(events)

	s.Equal(2, agg.ConversionCount)
	s.InDelta(1.0, agg.ConversionRate, 1e-9)
}

func (s *EngineSuite) TestWindowBoundariesHalfOpen() {
	events := []event.Event{
		s.makeEvent("before", "s1", event.TypeView, -time.Second),
		s.makeEvent("start", "s1", event.TypeView, 0),
		s.makeEvent("end", "s1", event.TypeView, 24*time.Hour),
	}

	agg := s.compute(events)

	s.Equal(1, agg.ViewCount, "only the event exactly at window start counts")
	s.InDelta(1.0, agg.DataCompleteness, 1e-9)
}

func (s *EngineSuite) TestMalformedEventsReduceCompleteness() {
	broken := s.makeEvent("", "s2", event.TypeView, 2*time.Hour)
	events := []event.Event{
		s.makeEvent("e1", "s1", event.TypeView, time.Hour),
		broken,
		s.makeEvent("e3", "", event.TypeView, 3*time.Hour),
		s.makeEvent("e4", "s4", event.TypeView, 4*time.Hour),
	}

	agg := s.compute(events)

	s.Equal(2, agg.ViewCount, "malformed events are skipped, not counted")
	s.InDelta(0.5, agg.DataCompleteness, 1e-9, "two of four in-window events were unusable")
}

func (s *EngineSuite) TestEmptyWindowIsCompleteAndZeroed() {
	agg := s.compute(nil)

	s.Equal(0, agg.ViewCount)
	s.Equal(0, agg.UniqueSessions)
	s.Zero(agg.BounceRate)
	s.InDelta(1.0, agg.DataCompleteness, 1e-9)
	s.Nil(agg.Geographic)
}

func (s *EngineSuite) TestBreakdownTiesKeepFirstSeenOrder() {
	var events []event.Event
	for i := 0; i < 3; i++ {
		e := s.makeEvent(fmt.Sprintf("de_%d", i), fmt.Sprintf("s%d", i), event.TypeView, time.Duration(i)*time.Minute)
		e.Context.Location.Country = "DE"
		events = append(events, e)
	}
	for i := 0; i < 3; i++ {
		e := s.makeEvent(fmt.Sprintf("fr_%d", i), fmt.Sprintf("t%d", i), event.TypeView, time.Duration(10+i)*time.Minute)
		e.Context.Location.Country = "FR"
		events = append(events, e)
	}

	for run := 0; run < 5; run++ {
		agg := s.compute(events)
		s.Require().Len(agg.Geographic, 2)
		s.Equal("DE", agg.Geographic[0].Key, "equal counts rank in first-seen order")
		s.Equal("FR", agg.Geographic[1].Key)
		s.InDelta(50.0, agg.Geographic[0].Percentage, 1e-9)
	}
}

func (s *EngineSuite) TestBreakdownsTruncateToTopN() {
	var events []event.Event
	for i := 0; i < engine.TopN+5; i++ {
		e := s.makeEvent(fmt.Sprintf("e%d", i), fmt.Sprintf("s%d", i), event.TypeView, time.Duration(i)*time.Minute)
		e.Context.Referrer = fmt.Sprintf("https://ref%d.example.com", i)
		events = append(events, e)
	}

	agg := s.compute(events)

	s.Len(agg.Referrers, engine.TopN)
}

func (s *EngineSuite) TestEngagementUsesMaxDurationPerSession() {
	short := s.makeEvent("e1", "s1", event.TypePage, time.Hour)
	short.Properties.Page = &event.PageProperties{Path: "/a", Duration: 1000}
	long := s.makeEvent("e2", "s1", event.TypePage, 2*time.Hour)
	long.Properties.Page = &event.PageProperties{Path: "/b", Duration: 5000}
	other := s.makeEvent("e3", "s2", event.TypePage, 3*time.Hour)
	other.Properties.Page = &event.PageProperties{Path: "/c", Duration: 3000}

	agg := s.compute([]event.Event{short, long, other})

	s.InDelta(4000, agg.AvgEngagementMs, 1e-9, "mean of per-session maxima, 5000 and 3000")
}

func (s *EngineSuite) TestTopSectionsAverageDuration() {
	a := s.makeEvent("e1", "s1", event.TypePage, time.Hour)
	a.Properties.Page = &event.PageProperties{Section: "experience", Duration: 2000}
	b := s.makeEvent("e2", "s2", event.TypePage, 2*time.Hour)
	b.Properties.Page = &event.PageProperties{Section: "experience", Duration: 4000}

	agg := s.compute([]event.Event{a, b})

	s.Require().Len(agg.TopSections, 1)
	s.Equal("experience", agg.TopSections[0].Key)
	s.Equal(2, agg.TopSections[0].Count)
	s.InDelta(3000, agg.TopSections[0].AvgDurationMs, 1e-9)
}
