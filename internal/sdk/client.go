// Package sdk composes the client-side pipeline: session tracking, consent
// gating, event assembly, validation, buffering, and batch transport. The
// tracking surface (Track, Page, Identify, Group) never returns errors to the
// host application; all failure is absorbed and logged. Construction is the
// one place that fails fast, so a misconfigured SDK is visible during setup.
package sdk

import (
	"context"
	"log/slog"
	"time"

	consentmodels "pulse/internal/consent/models"
	consentservice "pulse/internal/consent/service"
	consentstore "pulse/internal/consent/store"
	"pulse/internal/env"
	"pulse/internal/event"
	"pulse/internal/platform/config"
	"pulse/internal/platform/metrics"
	"pulse/internal/platform/scheduler"
	"pulse/internal/queue"
	"pulse/internal/session"
	dErrors "pulse/pkg/domain-errors"
)

// Config wires the client SDK. Environment is required; Endpoint and APIKey
// are required unless a custom Transport is supplied.
type Config struct {
	Endpoint    string
	APIKey      string
	UserID      string
	EntityType  string
	EntityID    string
	Environment env.Environment

	Queue   config.Queue
	Privacy config.Privacy
	Timeout time.Duration

	// Transport overrides the HTTP sender, used by tests and non-HTTP hosts.
	Transport queue.Transport
	// Scheduler overrides timer scheduling, used by tests.
	Scheduler scheduler.Scheduler

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Client is one isolated, explicitly-constructed SDK instance. There is no
// process-global singleton; hosts that want one hold one.
type Client struct {
	cfg       Config
	envr      env.Environment
	logger    *slog.Logger
	consent   *consentservice.Service
	sessions  *session.Tracker
	builder   *event.Builder
	validator *event.Validator
	queue     *queue.Queue
	identity  string
}

// New constructs and initializes a client. Configuration errors are fatal
// and surfaced to the caller; everything after construction is absorb-and-log.
func New(cfg Config) (*Client, error) {
	if cfg.Environment == nil {
		return nil, dErrors.New(dErrors.CodeInitialization, "environment provider is required")
	}
	if cfg.Transport == nil && cfg.Endpoint == "" {
		return nil, dErrors.New(dErrors.CodeInitialization, "ingestion endpoint is required")
	}
	if cfg.Transport == nil && cfg.APIKey == "" {
		return nil, dErrors.New(dErrors.CodeInitialization, "api key is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		cfg:    cfg,
		envr:   cfg.Environment,
		logger: logger,
	}

	c.sessions = session.NewTracker(cfg.Environment)
	sess := c.sessions.Start(session.Config{UserID: cfg.UserID})
	c.identity = identityFor(sess)

	defaults := make([]consentmodels.Category, 0, len(cfg.Privacy.DefaultConsent))
	for _, raw := range cfg.Privacy.DefaultConsent {
		defaults = append(defaults, consentmodels.Category(raw))
	}
	if !cfg.Privacy.ConsentRequired && len(defaults) == 0 {
		defaults = append(defaults, consentmodels.CategoryAnalytics)
	}
	c.consent = consentservice.NewService(
		consentstore.NewStorage(cfg.Environment.Storage()),
		consentservice.WithLogger(logger),
		consentservice.WithMetrics(cfg.Metrics),
		consentservice.WithDefaultCategories(defaults),
		consentservice.WithChangeRecorder(c),
	)

	retention := time.Duration(cfg.Privacy.RetentionDays) * 24 * time.Hour
	c.builder = event.NewBuilder(cfg.Environment,
		event.WithRetention(retention),
		event.WithAnonymizeIP(cfg.Privacy.AnonymizeIP),
		event.WithEntity(cfg.EntityType, cfg.EntityID),
	)
	c.validator = event.NewValidator()

	transport := cfg.Transport
	if transport == nil {
		transport = NewHTTPTransport(cfg.Endpoint, cfg.APIKey, cfg.Timeout)
	}

	queueOpts := []queue.Option{
		queue.WithLogger(logger),
		queue.WithMetrics(cfg.Metrics),
	}
	if cfg.Scheduler != nil {
		queueOpts = append(queueOpts, queue.WithScheduler(cfg.Scheduler))
	}
	if cfg.Queue.OfflineStorage {
		queueOpts = append(queueOpts, queue.WithOfflineStorage(cfg.Environment.Storage()))
	}
	c.queue = queue.New(cfg.Queue, transport, queueOpts...)

	logger.Info("sdk_initialized",
		"session_id", sess.ID,
		"device_id", sess.DeviceID,
		"consent_degraded", c.consent.Degraded(),
	)
	return c, nil
}

// NewFromEnv builds a client from PULSE_* environment variables: the endpoint,
// api key, and timeout come from the transport block, buffering from the queue
// block, and consent defaults from the privacy block. The host still supplies
// its environment provider.
func NewFromEnv(environment env.Environment) (*Client, error) {
	cfg := config.FromEnv()
	return New(Config{
		Endpoint:    cfg.Transport.Endpoint,
		APIKey:      cfg.Transport.APIKey,
		Timeout:     cfg.Transport.Timeout,
		Environment: environment,
		Queue:       cfg.Queue,
		Privacy:     cfg.Privacy,
	})
}

// Track records a named action. Requires analytics consent; a denial is a
// silent no-op, not an error.
func (c *Client) Track(name string, props event.Properties) {
	c.capture(name, event.TypeTrack, props, consentmodels.CategoryAnalytics)
}

// TrackType records a named action with an explicit event type.
func (c *Client) TrackType(name string, typ event.Type, props event.Properties) {
	c.capture(name, typ, props, consentmodels.CategoryAnalytics)
}

// Page records a page view. Page views are necessary-only events and are
// delivered even without analytics consent.
func (c *Client) Page(path, title string) {
	if err := c.sessions.PageView(); err != nil {
		c.logger.Debug("page_view_without_session", "error", err)
	}
	c.capture("page_view", event.TypePage, event.Properties{
		Page: &event.PageProperties{Path: path, Title: title},
	}, consentmodels.CategoryNecessary)
}

// Identify attaches a user identity to the session and records the change.
func (c *Client) Identify(userID string) {
	if err := c.sessions.Identify(userID); err != nil {
		c.logger.Debug("identify_without_session", "error", err)
		return
	}
	c.capture("identify", event.TypeIdentify, event.Properties{}, consentmodels.CategoryAnalytics)
}

// Group associates the session with a group/account id.
func (c *Client) Group(groupID string) {
	c.capture("group", event.TypeGroup, event.Properties{
		Extra: map[string]any{"groupId": groupID},
	}, consentmodels.CategoryAnalytics)
}

// SetConsent merges consent preferences. The change itself is recorded as a
// necessary-only event via RecordConsentChange.
func (c *Client) SetConsent(categories map[consentmodels.Category]bool, mechanism consentmodels.Mechanism) error {
	_, err := c.consent.Set(context.Background(), c.identity, categories, mechanism)
	return err
}

// Consent returns the current consent record for the SDK identity.
func (c *Client) Consent() (*consentmodels.Record, error) {
	return c.consent.Get(context.Background(), c.identity)
}

// RecordConsentChange implements consentservice.ChangeRecorder. The audit
// event carries the necessary category only, so it is never blocked by a
// withdrawal of analytics consent.
func (c *Client) RecordConsentChange(_ context.Context, record *consentmodels.Record) {
	sess := c.sessions.Current()
	e := c.builder.Build("consent_updated", event.TypeConsent, event.Properties{
		Extra: map[string]any{
			"mechanism": string(record.Mechanism),
			"withdrawn": record.Withdrawn,
		},
	}, sess, map[consentmodels.Category]bool{consentmodels.CategoryNecessary: true})
	c.enqueue(e)
}

// QueueSize reports the current buffer length for observability and tests.
func (c *Client) QueueSize() int {
	return c.queue.Size()
}

// Flush forces an immediate delivery attempt of the buffered events.
func (c *Client) Flush(ctx context.Context) {
	c.queue.Flush(ctx)
}

// Close flushes and shuts down the queue.
func (c *Client) Close(ctx context.Context) {
	c.queue.Close(ctx)
}

func (c *Client) capture(name string, typ event.Type, props event.Properties, required consentmodels.Category) {
	if c.cfg.Privacy.RespectDoNotTrack && c.envr.DoNotTrack() {
		c.logger.Debug("event_suppressed_dnt", "event", name)
		return
	}
	if !c.consent.HasCategory(context.Background(), c.identity, required) {
		// Consent denial is not an error; the event simply does not exist.
		c.logger.Debug("event_suppressed_consent", "event", name, "category", required)
		return
	}

	if err := c.sessions.Touch(); err != nil {
		c.logger.Debug("event_without_session", "event", name, "error", err)
	}
	sess := c.sessions.Current()

	record, err := c.consent.Get(context.Background(), c.identity)
	var snapshot map[consentmodels.Category]bool
	if err != nil {
		snapshot = map[consentmodels.Category]bool{consentmodels.CategoryNecessary: true}
	} else {
		snapshot = record.Snapshot()
	}

	e := c.builder.Build(name, typ, props, sess, snapshot)
	c.enqueue(e)
}

func (c *Client) enqueue(e event.Event) {
	result := c.validator.Validate(e)
	if !result.Valid {
		// Invalid events are logged and dropped; the host app never sees an error.
		c.logger.Warn("event_validation_failed", "event", e.Name, "errors", result.Errors)
		return
	}
	c.queue.Enqueue(result.Enriched)
}

func identityFor(sess *session.Info) string {
	if sess.UserID != "" {
		return sess.UserID
	}
	return sess.DeviceID
}
