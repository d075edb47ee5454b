package event

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mssola/useragent"

	consent "pulse/internal/consent/models"
	"pulse/internal/env"
	"pulse/internal/platform/privacy"
	"pulse/internal/session"
)

// Builder assembles raw actions into fully-contextualized events. It performs
// no I/O: every input is an injected provider, so building is pure assembly
// and never fails. Malformed properties are carried through to validation,
// not dropped here.
type Builder struct {
	env        env.Environment
	now        func() time.Time
	newID      func() string
	retention  time.Duration
	anonymize  bool
	entityType string
	entityID   string
}

// BuilderOption configures the Builder.
type BuilderOption func(*Builder)

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) BuilderOption {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

// WithIDGenerator injects an event id source for tests.
func WithIDGenerator(newID func() string) BuilderOption {
	return func(b *Builder) {
		if newID != nil {
			b.newID = newID
		}
	}
}

// WithRetention sets the retention horizon stamped onto events.
func WithRetention(d time.Duration) BuilderOption {
	return func(b *Builder) {
		if d > 0 {
			b.retention = d
		}
	}
}

// WithAnonymizeIP controls whether IP addresses are truncated in the context block.
func WithAnonymizeIP(enabled bool) BuilderOption {
	return func(b *Builder) {
		b.anonymize = enabled
	}
}

// WithEntity stamps every built event with the entity (profile, document,
// site) the host is tracking for, which aggregation rolls up by.
func WithEntity(entityType, entityID string) BuilderOption {
	return func(b *Builder) {
		b.entityType = entityType
		b.entityID = entityID
	}
}

const defaultRetention = 90 * 24 * time.Hour

// NewBuilder constructs a builder over the host environment.
func NewBuilder(environment env.Environment, opts ...BuilderOption) *Builder {
	b := &Builder{
		env:       environment,
		now:       time.Now,
		newID:     func() string { return fmt.Sprintf("evt_%s", uuid.New().String()) },
		retention: defaultRetention,
		anonymize: true,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build assembles an event from the current session and consent snapshot,
// stamping a fresh id and timestamp. The consent snapshot reflects consent at
// creation time; later consent changes never alter the built event.
func (b *Builder) Build(name string, typ Type, props Properties, sess *session.Info, snapshot map[consent.Category]bool) Event {
	now := b.now()

	e := Event{
		ID:         b.newID(),
		Timestamp:  now,
		EntityType: b.entityType,
		EntityID:   b.entityID,
		Name:       name,
		Type:       typ,
		Properties: props,
		Context:    b.buildContext(sess),
		Privacy: Privacy{
			Consent:         cloneSnapshot(snapshot),
			Anonymized:      b.anonymize,
			RetentionExpiry: now.Add(b.retention),
		},
	}
	if sess != nil {
		e.UserID = sess.UserID
		e.SessionID = sess.ID
		e.DeviceID = sess.DeviceID
	}
	return e
}

func (b *Builder) buildContext(sess *session.Info) Context {
	width, height := b.env.ScreenSize()
	ctx := Context{
		URL:          b.env.URL(),
		Referrer:     b.env.Referrer(),
		Language:     b.env.Language(),
		ScreenWidth:  width,
		ScreenHeight: height,
	}
	if sess != nil {
		ctx.UTM = sess.UTM
		if ctx.Referrer == "" {
			ctx.Referrer = sess.Referrer
		}
	}

	if uaString := b.env.UserAgent(); uaString != "" {
		ua := useragent.New(uaString)
		browser, version := ua.Browser()
		ctx.Browser = strings.TrimSpace(browser)
		ctx.BrowserVersion = version
		ctx.OS = ua.OS()
		if ua.Mobile() {
			ctx.DeviceType = "mobile"
		} else if ua.Bot() {
			ctx.DeviceType = "bot"
		} else {
			ctx.DeviceType = "desktop"
		}
	}
	return ctx
}

// StampIP records the client address on the context block, truncating it when
// anonymization is enabled. Used server-side at ingestion, where the remote
// address is known.
func (b *Builder) StampIP(e *Event, ip string) {
	if b.anonymize {
		e.Context.IPAddress = privacy.AnonymizeIP(ip)
		return
	}
	e.Context.IPAddress = ip
}

func cloneSnapshot(src map[consent.Category]bool) map[consent.Category]bool {
	dst := make(map[consent.Category]bool, len(src))
	for k, v := range src {
		dst[k] = v
	}
	if len(dst) == 0 {
		dst[consent.CategoryNecessary] = true
	}
	return dst
}
