// Package retention enforces event retention: events whose retention expiry
// has passed are deleted on a periodic schedule.
package retention

import (
	"context"
	"log/slog"
	"time"
)

// Result contains the outcome of one enforcement run.
type Result struct {
	EventsDeleted int
	Duration      time.Duration
}

// EventStore is the slice of the event store retention needs.
type EventStore interface {
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}

// Option configures the Worker.
type Option func(*Worker)

// WithLogger sets the logger instance for the worker.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithInterval sets how often enforcement runs.
func WithInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

// WithClock injects a clock for tests.
func WithClock(clock func() time.Time) Option {
	return func(w *Worker) {
		if clock != nil {
			w.clock = clock
		}
	}
}

// Worker deletes expired events on a fixed interval.
type Worker struct {
	store    EventStore
	logger   *slog.Logger
	interval time.Duration
	clock    func() time.Time
}

// New creates a retention worker over the event store.
func New(store EventStore, opts ...Option) *Worker {
	w := &Worker{
		store:    store,
		logger:   slog.Default(),
		interval: time.Hour,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start runs enforcement until the context is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			startTime := w.clock()
			res, err := w.RunOnce(ctx)
			duration := w.clock().Sub(startTime)

			if err != nil {
				w.logger.Error("retention_enforcement_failed",
					"error", err,
					"duration_ms", duration.Milliseconds(),
				)
				continue
			}
			res.Duration = duration
			w.logger.Info("retention_enforcement_completed",
				"events_deleted", res.EventsDeleted,
				"duration_ms", duration.Milliseconds(),
			)

		case <-ctx.Done():
			w.logger.Info("retention worker stopping", "reason", ctx.Err())
			return ctx.Err()
		}
	}
}

// RunOnce executes a single enforcement run. Logging is handled by Start.
func (w *Worker) RunOnce(ctx context.Context) (*Result, error) {
	deleted, err := w.store.DeleteExpired(ctx, w.clock())
	if err != nil {
		return nil, err
	}
	return &Result{EventsDeleted: deleted}, nil
}
