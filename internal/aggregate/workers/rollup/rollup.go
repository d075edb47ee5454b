// Package rollup periodically recomputes aggregates for entities with recent
// event activity, keeping the current windows fresh without waiting for a
// query to demand them.
package rollup

import (
	"context"
	"log/slog"
	"time"

	"pulse/internal/aggregate/models"
	ingeststore "pulse/internal/ingest/store"
)

// Result contains the outcome of one rollup run.
type Result struct {
	EntitiesProcessed int
	AggregatesWritten int
	Errors            int
	Duration          time.Duration
}

// Aggregator is the slice of the aggregation service the worker needs.
type Aggregator interface {
	ComputeAggregate(ctx context.Context, entityType, entityID string, period models.Period, windowStart time.Time) (*models.Aggregate, error)
}

// ActivityLister reports entities with events since a given time.
type ActivityLister interface {
	ActiveEntities(ctx context.Context, since time.Time) ([]ingeststore.EntityRef, error)
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

// WithInterval sets how often the rollup runs.
func WithInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

// WithLookback sets how far back activity is scanned when picking entities
// to refresh. Defaults to the run interval.
func WithLookback(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.lookback = d
		}
	}
}

// WithPeriods sets which aggregate periods are refreshed each run.
func WithPeriods(periods []models.Period) Option {
	return func(w *Worker) {
		if len(periods) > 0 {
			w.periods = periods
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

// Worker refreshes current-window aggregates for recently active entities.
type Worker struct {
	activity ActivityLister
	agg      Aggregator
	logger   *slog.Logger
	interval time.Duration
	lookback time.Duration
	periods  []models.Period
	clock    func() time.Time
}

// New creates a rollup worker.
func New(activity ActivityLister, agg Aggregator, opts ...Option) *Worker {
	w := &Worker{
		activity: activity,
		agg:      agg,
		logger:   slog.Default(),
		interval: 5 * time.Minute,
		periods:  []models.Period{models.PeriodHour, models.PeriodDay},
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.lookback <= 0 {
		w.lookback = w.interval
	}
	return w
}

// Start runs rollups until the context is cancelled.
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
				w.logger.Error("rollup_run_failed",
					"error", err,
					"duration_ms", duration.Milliseconds(),
				)
				continue
			}
			res.Duration = duration
			w.logger.Info("rollup_run_completed",
				"entities", res.EntitiesProcessed,
				"aggregates_written", res.AggregatesWritten,
				"errors", res.Errors,
				"duration_ms", duration.Milliseconds(),
			)

		case <-ctx.Done():
			w.logger.Info("rollup worker stopping", "reason", ctx.Err())
			return ctx.Err()
		}
	}
}

// RunOnce refreshes the current window of every configured period for each
// entity active since the last interval. Per-entity failures are counted and
// logged, never fatal to the run.
func (w *Worker) RunOnce(ctx context.Context) (*Result, error) {
	now := w.clock().UTC()
	refs, err := w.activity.ActiveEntities(ctx, now.Add(-w.lookback))
	if err != nil {
		return nil, err
	}

	res := &Result{EntitiesProcessed: len(refs)}
	for _, ref := range refs {
		for _, period := range w.periods {
			windowStart := now.Truncate(period.Duration())
			if _, err := w.agg.ComputeAggregate(ctx, ref.EntityType, ref.EntityID, period, windowStart); err != nil {
				res.Errors++
				w.logger.Warn("rollup_entity_failed",
					"entity_type", ref.EntityType,
					"entity_id", ref.EntityID,
					"period", period,
					"error", err,
				)
				continue
			}
			res.AggregatesWritten++
		}
	}
	return res, nil
}
