// Package event defines the analytics event record and the pure assembly and
// validation steps events pass through before they may be enqueued.
package event

import (
	"time"

	consent "pulse/internal/consent/models"
	"pulse/internal/session"
)

// Type enumerates the kinds of events the pipeline accepts.
type Type string

const (
	TypeTrack       Type = "track"
	TypePage        Type = "page"
	TypeIdentify    Type = "identify"
	TypeGroup       Type = "group"
	TypeView        Type = "view"
	TypeDownload    Type = "download"
	TypeShare       Type = "share"
	TypeContact     Type = "contact"
	TypeBooking     Type = "booking"
	TypeFeature     Type = "feature"
	TypeError       Type = "error"
	TypePerformance Type = "performance"
	TypeConsent     Type = "consent"
)

// ValidTypes is the single source of truth for accepted event types.
var ValidTypes = map[Type]bool{
	TypeTrack:       true,
	TypePage:        true,
	TypeIdentify:    true,
	TypeGroup:       true,
	TypeView:        true,
	TypeDownload:    true,
	TypeShare:       true,
	TypeContact:     true,
	TypeBooking:     true,
	TypeFeature:     true,
	TypeError:       true,
	TypePerformance: true,
	TypeConsent:     true,
}

// IsValid checks if the type is one of the supported enum values.
func (t Type) IsValid() bool {
	return ValidTypes[t]
}

// PageProperties describes a page or content view.
type PageProperties struct {
	Path     string `json:"path,omitempty"`
	Title    string `json:"title,omitempty"`
	Section  string `json:"section,omitempty"`
	Duration int64  `json:"durationMs,omitempty"`
}

// ActionProperties describes a discrete user action.
type ActionProperties struct {
	Target   string `json:"target,omitempty"`
	Feature  string `json:"feature,omitempty"`
	Label    string `json:"label,omitempty"`
	Value    int64  `json:"value,omitempty"`
	Duration int64  `json:"durationMs,omitempty"`
}

// ErrorProperties describes a client-reported error.
type ErrorProperties struct {
	Message string `json:"message,omitempty"`
	Source  string `json:"source,omitempty"`
	Fatal   bool   `json:"fatal,omitempty"`
}

// PerformanceProperties describes a timing measurement.
type PerformanceProperties struct {
	Metric   string  `json:"metric,omitempty"`
	ValueMs  float64 `json:"valueMs,omitempty"`
}

// Properties is a tagged union of the known event-property shapes plus an
// open extension map for forward compatibility. At most one typed shape is
// normally set; the validator does not reject extras.
type Properties struct {
	Page        *PageProperties        `json:"page,omitempty"`
	Action      *ActionProperties      `json:"action,omitempty"`
	Error       *ErrorProperties       `json:"error,omitempty"`
	Performance *PerformanceProperties `json:"performance,omitempty"`
	Extra       map[string]any         `json:"extra,omitempty"`
}

// Duration returns the reported duration of the event in milliseconds, from
// whichever typed shape carries one.
func (p Properties) Duration() int64 {
	if p.Page != nil && p.Page.Duration > 0 {
		return p.Page.Duration
	}
	if p.Action != nil && p.Action.Duration > 0 {
		return p.Action.Duration
	}
	return 0
}

// Location is the coarse geographic attribution of an event.
type Location struct {
	Country string `json:"country,omitempty"`
	Region  string `json:"region,omitempty"`
	City    string `json:"city,omitempty"`
}

// Context is derived from the host environment at build time, never
// user-supplied.
type Context struct {
	URL            string      `json:"url,omitempty"`
	Referrer       string      `json:"referrer,omitempty"`
	Browser        string      `json:"browser,omitempty"`
	BrowserVersion string      `json:"browserVersion,omitempty"`
	OS             string      `json:"os,omitempty"`
	DeviceType     string      `json:"deviceType,omitempty"`
	ScreenWidth    int         `json:"screenWidth,omitempty"`
	ScreenHeight   int         `json:"screenHeight,omitempty"`
	Language       string      `json:"language,omitempty"`
	Location       Location    `json:"location,omitempty"`
	UTM            session.UTM `json:"utm,omitempty"`
	IPAddress      string      `json:"ipAddress,omitempty"`
}

// Privacy is the event's consent snapshot taken at creation time. Consent may
// change between enqueue and flush; already-built events keep the snapshot
// they were created with.
type Privacy struct {
	Consent         map[consent.Category]bool `json:"consent"`
	Anonymized      bool                      `json:"anonymized"`
	RetentionExpiry time.Time                 `json:"retentionExpiry"`
}

// Processing holds the state flags mutated as the event moves through the
// pipeline. Nothing else on an event is mutated after build.
type Processing struct {
	Validated bool `json:"validated"`
	Enriched  bool `json:"enriched"`
	Processed bool `json:"processed"`
}

// Event is a fully-contextualized analytics event record.
type Event struct {
	ID         string     `json:"id"`
	Timestamp  time.Time  `json:"timestamp"`
	UserID     string     `json:"userId,omitempty"`
	SessionID  string     `json:"sessionId"`
	DeviceID   string     `json:"deviceId,omitempty"`
	EntityType string     `json:"entityType,omitempty"`
	EntityID   string     `json:"entityId,omitempty"`
	Name       string     `json:"name"`
	Type       Type       `json:"type"`
	Properties Properties `json:"properties"`
	Context    Context    `json:"context"`
	Privacy    Privacy    `json:"privacy"`
	Processing Processing `json:"processing"`
}

// Expired reports whether the event's retention window has elapsed.
func (e *Event) Expired(now time.Time) bool {
	return !e.Privacy.RetentionExpiry.IsZero() && e.Privacy.RetentionExpiry.Before(now)
}
