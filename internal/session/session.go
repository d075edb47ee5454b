// Package session creates and maintains the client-side session identity: an
// ephemeral session id regenerated per browsing session, a stable device id
// reused across sessions on the same device, and running activity counters.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mssola/useragent"

	"pulse/internal/env"
	dErrors "pulse/pkg/domain-errors"
)

// DeviceKey is the durable storage key holding the stable device identifier.
const DeviceKey = "cvplus_device_id"

// UTM is the campaign attribution snapshot captured at session start.
type UTM struct {
	Source   string `json:"source,omitempty"`
	Medium   string `json:"medium,omitempty"`
	Campaign string `json:"campaign,omitempty"`
	Term     string `json:"term,omitempty"`
	Content  string `json:"content,omitempty"`
}

// Info describes one bounded period of user activity.
//
// Invariants:
//   - LastActivity >= StartTime
//   - ID is unique per active browsing context
//   - DeviceID is stable across sessions on the same device and derived, not
//     reversible to PII
type Info struct {
	ID           string
	UserID       string
	DeviceID     string
	Fingerprint  string
	StartTime    time.Time
	LastActivity time.Time
	PageViews    int
	Events       int
	Referrer     string
	UTM          UTM
}

// Duration reports elapsed activity time within the session.
func (i *Info) Duration() time.Duration {
	return i.LastActivity.Sub(i.StartTime)
}

// Config controls session creation.
type Config struct {
	UserID string
}

// Tracker owns the current session and its counters.
type Tracker struct {
	mu      sync.Mutex
	env     env.Environment
	now     func() time.Time
	current *Info
}

// Option configures the Tracker.
type Option func(*Tracker)

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTracker builds a tracker over the host environment.
func NewTracker(environment env.Environment, opts ...Option) *Tracker {
	t := &Tracker{env: environment, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start creates a fresh session, restoring the stable device id from storage
// when present. Storage failures fall back to an ephemeral device id rather
// than failing session creation.
func (t *Tracker) Start(cfg Config) *Info {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	info := &Info{
		ID:           fmt.Sprintf("sess_%s", uuid.New().String()),
		UserID:       cfg.UserID,
		DeviceID:     t.restoreDeviceID(),
		Fingerprint:  ComputeFingerprint(t.env.UserAgent()),
		StartTime:    now,
		LastActivity: now,
		Referrer:     t.env.Referrer(),
		UTM:          parseUTM(t.env.URL()),
	}
	t.current = info
	return cloneInfo(info)
}

// Current returns a copy of the active session, or nil before Start.
func (t *Tracker) Current() *Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	return cloneInfo(t.current)
}

// Touch updates last-activity and bumps the event counter.
func (t *Tracker) Touch() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return dErrors.New(dErrors.CodeInvariantViolation, "no active session")
	}
	t.current.LastActivity = t.laterThanStart(t.now())
	t.current.Events++
	return nil
}

// PageView updates last-activity and bumps both counters.
func (t *Tracker) PageView() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return dErrors.New(dErrors.CodeInvariantViolation, "no active session")
	}
	t.current.LastActivity = t.laterThanStart(t.now())
	t.current.Events++
	t.current.PageViews++
	return nil
}

// Identify attaches a user id to the running session.
func (t *Tracker) Identify(userID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return dErrors.New(dErrors.CodeInvariantViolation, "no active session")
	}
	t.current.UserID = userID
	return nil
}

func (t *Tracker) laterThanStart(now time.Time) time.Time {
	if now.Before(t.current.StartTime) {
		return t.current.StartTime
	}
	return now
}

func (t *Tracker) restoreDeviceID() string {
	storage := t.env.Storage()
	if id, ok, err := storage.Get(DeviceKey); err == nil && ok && id != "" {
		return id
	}
	id := fmt.Sprintf("dev_%s", uuid.New().String())
	// Best effort; an unsaved id just means a fresh one next session.
	_ = storage.Set(DeviceKey, id)
	return id
}

// ComputeFingerprint derives a stable, non-reversible hash from coarse
// user-agent attributes. It deliberately excludes the IP address and any raw
// identifier so the fingerprint alone cannot identify a person.
func ComputeFingerprint(userAgentString string) string {
	if userAgentString == "" {
		return ""
	}

	ua := useragent.New(userAgentString)
	browser, version := ua.Browser()

	majorVersion := "unknown"
	if version != "" {
		parts := strings.Split(version, ".")
		if len(parts) > 0 && parts[0] != "" {
			majorVersion = parts[0]
		}
	}

	os := ua.OS()
	platform := "desktop"
	if ua.Mobile() {
		platform = "mobile"
	}

	browser = strings.ToLower(strings.TrimSpace(browser))
	if browser == "" {
		browser = "unknown"
	}
	os = strings.ToLower(strings.TrimSpace(os))
	if os == "" {
		os = "unknown"
	}

	data := fmt.Sprintf("%s|%s|%s|%s", browser, majorVersion, os, platform)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

func parseUTM(rawURL string) UTM {
	if rawURL == "" {
		return UTM{}
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return UTM{}
	}
	q := u.Query()
	return UTM{
		Source:   q.Get("utm_source"),
		Medium:   q.Get("utm_medium"),
		Campaign: q.Get("utm_campaign"),
		Term:     q.Get("utm_term"),
		Content:  q.Get("utm_content"),
	}
}

func cloneInfo(info *Info) *Info {
	if info == nil {
		return nil
	}
	copyInfo := *info
	return &copyInfo
}
