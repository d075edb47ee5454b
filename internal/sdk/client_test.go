package sdk_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	consentmodels "pulse/internal/consent/models"
	"pulse/internal/env"
	"pulse/internal/event"
	"pulse/internal/platform/config"
	"pulse/internal/platform/scheduler"
	"pulse/internal/queue"
	"pulse/internal/sdk"
	dErrors "pulse/pkg/domain-errors"
)

const chromeOnMac = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// captureTransport accepts every batch and remembers delivered events.
type captureTransport struct {
	events []event.Event
}

func (c *captureTransport) SendBatch(_ context.Context, events []event.Event) ([]queue.Result, error) {
	c.events = append(c.events, events...)
	results := make([]queue.Result, len(events))
	for i, e := range events {
		results[i] = queue.Result{EventID: e.ID, Accepted: true}
	}
	return results, nil
}

type ClientSuite struct {
	suite.Suite
	env       *env.Static
	transport *captureTransport
	sched     *scheduler.Manual
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}

func (s *ClientSuite) SetupTest() {
	s.env = &env.Static{
		PageURL: "https://example.com/pricing",
		Agent:   chromeOnMac,
		Store:   env.NewMemoryStorage(),
	}
	s.transport = &captureTransport{}
	s.sched = scheduler.NewManual()
}

func (s *ClientSuite) newClient(privacy config.Privacy) *sdk.Client {
	client, err := sdk.New(sdk.Config{
		Environment: s.env,
		Transport:   s.transport,
		Scheduler:   s.sched,
		EntityType:  "profile",
		EntityID:    "prof_42",
		Privacy:     privacy,
		Queue: config.Queue{
			MaxSize:        100,
			FlushBatchSize: 10,
			RetryAttempts:  3,
			RetryDelay:     time.Second,
			MaxRetryDelay:  30 * time.Second,
		},
	})
	s.Require().NoError(err)
	return client
}

func (s *ClientSuite) delivered(client *sdk.Client) []event.Event {
	client.Flush(context.Background())
	return s.transport.events
}

func (s *ClientSuite) TestConstructionFailsFastOnMissingConfig() {
	_, err := sdk.New(sdk.Config{})
	s.requireInitError(err)

	_, err = sdk.New(sdk.Config{Environment: s.env})
	s.requireInitError(err, "a transport or an endpoint is required")

	_, err = sdk.New(sdk.Config{Environment: s.env, Endpoint: "https://ingest.example.com"})
	s.requireInitError(err, "an endpoint without an api key is rejected")
}

func (s *ClientSuite) requireInitError(err error, msgAndArgs ...any) {
	s.Require().Error(err, msgAndArgs...)
	var dErr *dErrors.Error
	s.Require().ErrorAs(err, &dErr)
	s.Equal(dErrors.CodeInitialization, dErr.Code)
}

func (s *ClientSuite) TestNewFromEnvReadsTransportBlock() {
	_, err := sdk.NewFromEnv(s.env)
	s.requireInitError(err, "no endpoint in the environment")

	s.T().Setenv("PULSE_ENDPOINT", "https://ingest.example.com/v1/batch")
	s.T().Setenv("PULSE_API_KEY", "pk_test_123")
	s.T().Setenv("PULSE_QUEUE_FLUSH_INTERVAL", "0s")

	client, err := sdk.NewFromEnv(s.env)
	s.Require().NoError(err)

	// A page view is necessary-only, so the env consent defaults admit it.
	client.Page("/pricing", "Pricing")
	s.Equal(1, client.QueueSize(), "the env-built client buffers like a hand-wired one")
}

func (s *ClientSuite) TestTrackDeliversWithDefaultConsent() {
	client := s.newClient(config.Privacy{})

	client.Track("cta_clicked", event.Properties{})

	events := s.delivered(client)
	s.Require().Len(events, 1)
	s.Equal("cta_clicked", events[0].Name)
	s.Equal("profile", events[0].EntityType)
	s.True(events[0].Privacy.Consent[consentmodels.CategoryAnalytics])
}

func (s *ClientSuite) TestTrackSuppressedWithoutAnalyticsConsent() {
	client := s.newClient(config.Privacy{ConsentRequired: true})

	client.Track("cta_clicked", event.Properties{})

	s.Empty(s.delivered(client), "denied consent is a silent no-op")
}

func (s *ClientSuite) TestPageDeliveredNecessaryOnly() {
	client := s.newClient(config.Privacy{ConsentRequired: true})

	client.Page("/pricing", "Pricing")

	events := s.delivered(client)
	s.Require().Len(events, 1)
	s.Equal("page_view", events[0].Name)
	s.Equal(event.TypePage, events[0].Type)
	s.True(events[0].Privacy.Consent[consentmodels.CategoryNecessary])
	s.False(events[0].Privacy.Consent[consentmodels.CategoryAnalytics])
}

func (s *ClientSuite) TestDoNotTrackSuppressesEverything() {
	s.env.DNT = true
	client := s.newClient(config.Privacy{RespectDoNotTrack: true})

	client.Track("cta_clicked", event.Properties{})
	client.Page("/pricing", "Pricing")

	s.Empty(s.delivered(client))
}

func (s *ClientSuite) TestConsentChangeRecordedAsNecessaryOnlyEvent() {
	client := s.newClient(config.Privacy{ConsentRequired: true})

	err := client.SetConsent(map[consentmodels.Category]bool{
		consentmodels.CategoryAnalytics: true,
	}, consentmodels.MechanismExplicit)
	s.Require().NoError(err)

	events := s.delivered(client)
	s.Require().Len(events, 1)
	s.Equal("consent_updated", events[0].Name)
	s.Equal(event.TypeConsent, events[0].Type)
	s.True(events[0].Privacy.Consent[consentmodels.CategoryNecessary])
	s.False(events[0].Privacy.Consent[consentmodels.CategoryAnalytics],
		"the audit event itself carries necessary-only consent")
}

func (s *ClientSuite) TestQueuedEventsKeepSnapshotAfterWithdrawal() {
	client := s.newClient(config.Privacy{})

	client.Track("cta_clicked", event.Properties{})
	s.Require().NoError(client.SetConsent(map[consentmodels.Category]bool{
		consentmodels.CategoryAnalytics: false,
	}, consentmodels.MechanismExplicit))

	events := s.delivered(client)
	s.Require().NotEmpty(events)
	s.Equal("cta_clicked", events[0].Name)
	s.True(events[0].Privacy.Consent[consentmodels.CategoryAnalytics],
		"withdrawal applies to future events, never queued ones")
}

func (s *ClientSuite) TestTrackAfterWithdrawalSuppressed() {
	client := s.newClient(config.Privacy{})

	s.Require().NoError(client.SetConsent(map[consentmodels.Category]bool{
		consentmodels.CategoryAnalytics: false,
	}, consentmodels.MechanismExplicit))
	client.Track("cta_clicked", event.Properties{})

	events := s.delivered(client)
	s.Require().Len(events, 1, "only the consent audit event is delivered")
	s.Equal("consent_updated", events[0].Name)
}

func (s *ClientSuite) TestIdentifyAttachesUserToSubsequentEvents() {
	client := s.newClient(config.Privacy{})

	client.Identify("user_9")
	client.Track("cta_clicked", event.Properties{})

	events := s.delivered(client)
	s.Require().Len(events, 2)
	s.Equal("identify", events[0].Name)
	s.Equal("user_9", events[1].UserID)
}

func (s *ClientSuite) TestCloseFlushesBufferedEvents() {
	client := s.newClient(config.Privacy{})

	client.Track("cta_clicked", event.Properties{})
	client.Close(context.Background())

	s.Len(s.transport.events, 1)
	s.Equal(0, client.QueueSize())
}
