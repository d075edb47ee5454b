package event_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	consent "pulse/internal/consent/models"
	"pulse/internal/env"
	"pulse/internal/event"
	"pulse/internal/session"
)

const chromeOnMac = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

type BuilderSuite struct {
	suite.Suite
	env     *env.Static
	builder *event.Builder
	now     time.Time
	sess    *session.Info
}

func TestBuilderSuite(t *testing.T) {
	suite.Run(t, new(BuilderSuite))
}

func (s *BuilderSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.env = &env.Static{
		PageURL:      "https://example.com/pricing?utm_source=newsletter",
		PageReferrer: "https://google.com",
		Agent:        chromeOnMac,
		Locale:       "en-US",
		ScreenWidth:  1920,
		ScreenHeight: 1080,
		Store:        env.NewMemoryStorage(),
	}
	s.builder = event.NewBuilder(s.env,
		event.WithClock(func() time.Time { return s.now }),
		event.WithIDGenerator(func() string { return "evt_fixed" }),
		event.WithEntity("profile", "prof_42"),
	)
	tracker := session.NewTracker(s.env)
	s.sess = tracker.Start(session.Config{UserID: "user_1"})
}

func (s *BuilderSuite) TestBuildStampsIdentityAndEntity() {
	snapshot := map[consent.Category]bool{
		consent.CategoryNecessary: true,
		consent.CategoryAnalytics: true,
	}
	e := s.builder.Build("cta_clicked", event.TypeTrack, event.Properties{}, s.sess, snapshot)

	s.Equal("evt_fixed", e.ID)
	s.Equal(s.now, e.Timestamp)
	s.Equal("profile", e.EntityType)
	s.Equal("prof_42", e.EntityID)
	s.Equal("user_1", e.UserID)
	s.Equal(s.sess.ID, e.SessionID)
	s.Equal(s.sess.DeviceID, e.DeviceID)
}

func (s *BuilderSuite) TestBuildCapturesEnvironmentContext() {
	e := s.builder.Build("page_view", event.TypePage, event.Properties{}, s.sess, nil)

	s.Equal("https://example.com/pricing?utm_source=newsletter", e.Context.URL)
	s.Equal("https://google.com", e.Context.Referrer)
	s.Equal("en-US", e.Context.Language)
	s.Equal(1920, e.Context.ScreenWidth)
	s.Equal(1080, e.Context.ScreenHeight)
	s.Equal("Chrome", e.Context.Browser)
	s.Equal("desktop", e.Context.DeviceType)
	s.Equal("newsletter", e.Context.UTM.Source)
}

func (s *BuilderSuite) TestConsentSnapshotIsImmutableAfterBuild() {
	snapshot := map[consent.Category]bool{
		consent.CategoryNecessary: true,
		consent.CategoryAnalytics: true,
	}
	e := s.builder.Build("cta_clicked", event.TypeTrack, event.Properties{}, s.sess, snapshot)

	// Consent withdrawal after build must not reach already-built events.
	snapshot[consent.CategoryAnalytics] = false

	s.True(e.Privacy.Consent[consent.CategoryAnalytics],
		"the event keeps the consent state from creation time")
}

func (s *BuilderSuite) TestEmptySnapshotDefaultsToNecessaryOnly() {
	e := s.builder.Build("cta_clicked", event.TypeTrack, event.Properties{}, s.sess, nil)

	s.True(e.Privacy.Consent[consent.CategoryNecessary])
	s.False(e.Privacy.Consent[consent.CategoryAnalytics])
}

func (s *BuilderSuite) TestRetentionExpiryStampedFromHorizon() {
	builder := event.NewBuilder(s.env,
		event.WithClock(func() time.Time { return s.now }),
		event.WithRetention(30*24*time.Hour),
	)
	e := builder.Build("cta_clicked", event.TypeTrack, event.Properties{}, s.sess, nil)

	s.Equal(s.now.Add(30*24*time.Hour), e.Privacy.RetentionExpiry)
	s.False(e.Expired(s.now))
	s.True(e.Expired(s.now.Add(31 * 24 * time.Hour)))
}

func (s *BuilderSuite) TestStampIPHonorsAnonymization() {
	var e event.Event
	s.builder.StampIP(&e, "203.0.113.42")
	s.Equal("203.0.113.0", e.Context.IPAddress)

	plain := event.NewBuilder(s.env, event.WithAnonymizeIP(false))
	var raw event.Event
	plain.StampIP(&raw, "203.0.113.42")
	s.Equal("203.0.113.42", raw.Context.IPAddress)
}

type ValidatorSuite struct {
	suite.Suite
	validator *event.Validator
}

func TestValidatorSuite(t *testing.T) {
	suite.Run(t, new(ValidatorSuite))
}

func (s *ValidatorSuite) SetupTest() {
	s.validator = event.NewValidator()
}

func (s *ValidatorSuite) validEvent() event.Event {
	return event.Event{
		ID:        "evt_1",
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		SessionID: "sess_1",
		Name:      "cta_clicked",
		Type:      event.TypeTrack,
		Privacy: event.Privacy{
			Consent: map[consent.Category]bool{consent.CategoryNecessary: true},
		},
	}
}

func (s *ValidatorSuite) TestValidEventIsEnriched() {
	res := s.validator.Validate(s.validEvent())

	s.True(res.Valid)
	s.True(res.Enriched.Processing.Validated)
	s.True(res.Enriched.Processing.Enriched)
}

func (s *ValidatorSuite) TestMissingTypeDefaultsToTrack() {
	e := s.validEvent()
	e.Type = ""
	res := s.validator.Validate(e)

	s.Require().True(res.Valid)
	s.Equal(event.TypeTrack, res.Enriched.Type)
}

func (s *ValidatorSuite) TestAllProblemsReportedInOnePass() {
	res := s.validator.Validate(event.Event{Type: "bogus"})

	s.False(res.Valid)
	s.Len(res.Errors, 5, "name, session, timestamp, consent, and type errors all reported")
}

func (s *ValidatorSuite) TestUnknownTypeRejected() {
	e := s.validEvent()
	e.Type = "clickstream"
	res := s.validator.Validate(e)

	s.False(res.Valid)
	s.Contains(res.Errors[0], "unknown event type")
}
