package realtime

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"pulse/internal/event"
	"pulse/internal/platform/metrics"
	"pulse/internal/realtime/store"
)

const (
	// defaultWindow is how long counters accumulate before the whole
	// snapshot resets.
	defaultWindow = 5 * time.Minute
	// defaultSpikeCutoff is the recent-event count past which the snapshot
	// flags a traffic spike.
	defaultSpikeCutoff = 100
	// maxRetries bounds the optimistic-conflict retry loop per bump.
	maxRetries = 3
)

// Option configures the Counter.
type Option func(*Counter)

// WithLogger sets the logger instance for the counter.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Counter) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metrics instance for the counter.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Counter) {
		c.metrics = m
	}
}

// WithWindow sets the rolling reset window.
func WithWindow(d time.Duration) Option {
	return func(c *Counter) {
		if d > 0 {
			c.window = d
		}
	}
}

// WithSpikeCutoff sets the recent-event threshold for the spike flag.
func WithSpikeCutoff(n int) Option {
	return func(c *Counter) {
		if n > 0 {
			c.spikeCutoff = n
		}
	}
}

// WithClock injects a clock for tests.
func WithClock(clock func() time.Time) Option {
	return func(c *Counter) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// Counter maintains live per-entity counters. Bump is fire-and-forget from
// the caller's perspective: every failure path is logged and counted, none is
// returned.
type Counter struct {
	store       store.Store
	logger      *slog.Logger
	metrics     *metrics.Metrics
	window      time.Duration
	spikeCutoff int
	clock       func() time.Time
}

// NewCounter creates a counter over the snapshot store.
func NewCounter(st store.Store, opts ...Option) *Counter {
	c := &Counter{
		store:       st,
		logger:      slog.Default(),
		window:      defaultWindow,
		spikeCutoff: defaultSpikeCutoff,
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Record feeds one accepted event into the live counters. Implements the
// ingestion service's recorder hook.
func (c *Counter) Record(ctx context.Context, e *event.Event) {
	if e.EntityID == "" {
		return
	}
	c.Bump(ctx, e.EntityType, e.EntityID, e.Type)
}

// Bump applies one event to the entity's snapshot with a bounded optimistic
// retry loop. A view increments current users and last-hour views; every
// event increments the recent count. Exceeding the cutoff sets the spike
// flag until the window resets.
func (c *Counter) Bump(ctx context.Context, entityType, entityID string, evType event.Type) {
	now := c.clock().UTC()
	apply := func(snap *Snapshot) {
		if snap.WindowStart.IsZero() || now.Sub(snap.WindowStart) >= c.window {
			snap.CurrentUsers = 0
			snap.RecentEvents = 0
			snap.LastHourViews = 0
			snap.TrafficSpike = false
			snap.WindowStart = now
		}
		snap.RecentEvents++
		if evType == event.TypeView || evType == event.TypePage {
			snap.CurrentUsers++
			snap.LastHourViews++
		}
		if snap.RecentEvents > c.spikeCutoff {
			snap.TrafficSpike = true
		}
	}

	for attempt := 1; attempt <= maxRetries; attempt++ {
		err := c.store.UpdateTx(ctx, entityType, entityID, apply)
		if err == nil {
			if c.metrics != nil {
				c.metrics.RealtimeBumps.Inc()
			}
			return
		}
		if !errors.Is(err, store.ErrConflict) {
			c.fail(entityType, entityID, err)
			return
		}
		if c.metrics != nil {
			c.metrics.RealtimeConflicts.Inc()
		}
	}
	c.fail(entityType, entityID, store.ErrConflict)
}

// Snapshot returns the current counters for the entity, or nil when none
// exist yet.
func (c *Counter) Snapshot(ctx context.Context, entityType, entityID string) *Snapshot {
	snap, err := c.store.Get(ctx, entityType, entityID)
	if err != nil {
		return nil
	}
	return snap
}

func (c *Counter) fail(entityType, entityID string, err error) {
	if c.metrics != nil {
		c.metrics.RealtimeFailures.Inc()
	}
	c.logger.Warn("realtime_bump_abandoned",
		"entity_type", entityType,
		"entity_id", entityID,
		"error", err,
	)
}
