// Package queue buffers built events and drives batch delivery: size and
// time based auto-flush, retry with capped exponential backoff, bounded
// memory with oldest-first drop, and optional durable spill while offline.
package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"pulse/internal/event"
	"pulse/internal/platform/config"
	"pulse/internal/platform/metrics"
	"pulse/internal/platform/scheduler"
)

// Result reports the outcome of one event within a delivered batch.
type Result struct {
	EventID  string `json:"eventId"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// Transport is a stateless sender of one batch to the ingestion endpoint.
// A non-nil error means the whole batch failed and the queue performs the
// retry; per-event rejections come back in the results with a nil error.
//
//go:generate mockgen -source=queue.go -destination=mocks/mocks.go -package=mocks Transport
type Transport interface {
	SendBatch(ctx context.Context, events []event.Event) ([]Result, error)
}

// State is the queue lifecycle state, exposed for observability and tests.
type State string

const (
	StateIdle         State = "idle"
	StateAccumulating State = "accumulating"
	StateFlushing     State = "flushing"
	StateBackoff      State = "backoff"
)

// OfflineKey is the durable storage key holding spilled events.
const OfflineKey = "cvplus_events_offline"

// Option configures the Queue.
type Option func(*Queue)

// WithLogger sets the logger instance for the queue.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithMetrics sets the metrics instance for the queue.
func WithMetrics(m *metrics.Metrics) Option {
	return func(q *Queue) {
		q.metrics = m
	}
}

// WithScheduler injects the timer scheduler. Tests pass scheduler.Manual so
// flush and retry timing run without wall-clock delays.
func WithScheduler(s scheduler.Scheduler) Option {
	return func(q *Queue) {
		if s != nil {
			q.sched = s
		}
	}
}

// WithOfflineStorage enables durable spill of unsent events.
func WithOfflineStorage(s OfflineStorage) Option {
	return func(q *Queue) {
		q.offline = s
	}
}

// Queue is an in-memory event buffer with auto-flush. The buffer is owned
// exclusively by one queue instance.
type Queue struct {
	cfg       config.Queue
	transport Transport
	sched     scheduler.Scheduler
	logger    *slog.Logger
	metrics   *metrics.Metrics
	offline   OfflineStorage

	mu         sync.Mutex
	buf        []event.Event
	inFlight   bool
	state      State
	attempt    int
	dropped    uint64
	flushTimer scheduler.Timer
	retryTimer scheduler.Timer
	closed     bool
}

// New constructs a queue and arms the periodic flush timer. If offline
// storage is configured, previously spilled events are re-enqueued ahead of
// new events.
func New(cfg config.Queue, transport Transport, opts ...Option) *Queue {
	q := &Queue{
		cfg:       cfg,
		transport: transport,
		sched:     scheduler.NewReal(),
		logger:    slog.Default(),
		state:     StateIdle,
	}
	for _, opt := range opts {
		opt(q)
	}

	if q.cfg.FlushBatchSize <= 0 {
		q.cfg.FlushBatchSize = 50
	}
	if q.cfg.MaxSize < q.cfg.FlushBatchSize {
		q.cfg.MaxSize = q.cfg.FlushBatchSize * 20
	}
	if q.cfg.RetryDelay <= 0 {
		q.cfg.RetryDelay = time.Second
	}
	if q.cfg.MaxRetryDelay <= 0 {
		q.cfg.MaxRetryDelay = 30 * time.Second
	}

	if q.offline != nil {
		q.restoreOffline()
	}
	q.armFlushTimer()
	return q
}

// Enqueue appends an event to the buffer. When the buffer reaches the
// configured batch size an immediate flush is scheduled without waiting for
// the periodic timer. Enqueue never blocks on transport.
func (q *Queue) Enqueue(e event.Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.buf = append(q.buf, e)
	if q.state == StateIdle {
		q.state = StateAccumulating
	}
	q.enforceMaxSizeLocked()
	size := len(q.buf)
	q.updateDepthLocked()
	triggerFlush := size >= q.cfg.FlushBatchSize && !q.inFlight
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.EventsEnqueued.Inc()
	}
	if triggerFlush {
		// Zero-delay schedule keeps the caller's path non-blocking while
		// letting test schedulers fire it deterministically.
		q.sched.Schedule(0, q.flushIfFull)
	}
}

// flushIfFull re-checks the size trigger at fire time. Rapid enqueues can
// schedule several callbacks for the same full buffer; only the first sends,
// the rest see a drained buffer and do nothing.
func (q *Queue) flushIfFull() {
	q.mu.Lock()
	full := len(q.buf) >= q.cfg.FlushBatchSize && !q.inFlight
	q.mu.Unlock()
	if full {
		q.Flush(context.Background())
	}
}

// Size reports the current buffer length.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Dropped reports how many events were dropped under overflow pressure.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// State reports the current lifecycle state.
func (q *Queue) CurrentState() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Flush detaches up to one batch from the buffer and hands it to the
// transport. Events enqueued during transport go into a new buffer, never
// into the in-flight batch, so an event is never part of two simultaneous
// transport attempts. On failure the batch is re-prepended in original order
// and a retry is scheduled with capped exponential backoff.
func (q *Queue) Flush(ctx context.Context) {
	q.mu.Lock()
	if q.inFlight || len(q.buf) == 0 {
		q.mu.Unlock()
		return
	}
	n := len(q.buf)
	if n > q.cfg.FlushBatchSize {
		n = q.cfg.FlushBatchSize
	}
	batch := make([]event.Event, n)
	copy(batch, q.buf[:n])
	q.buf = append([]event.Event(nil), q.buf[n:]...)
	q.inFlight = true
	q.state = StateFlushing
	q.updateDepthLocked()
	q.mu.Unlock()

	results, err := q.transport.SendBatch(ctx, batch)
	if err != nil {
		q.handleFailure(batch, err)
		return
	}
	q.handleSuccess(batch, results)
}

func (q *Queue) handleSuccess(batch []event.Event, results []Result) {
	rejected := 0
	for _, r := range results {
		if !r.Accepted {
			rejected++
		}
	}

	q.mu.Lock()
	q.inFlight = false
	q.attempt = 0
	q.dropped += uint64(rejected)
	if len(q.buf) == 0 {
		q.state = StateIdle
	} else {
		q.state = StateAccumulating
	}
	remaining := len(q.buf)
	q.updateDepthLocked()
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.FlushAttempts.WithLabelValues("success").Inc()
		if rejected > 0 {
			q.metrics.EventsDropped.WithLabelValues("rejected").Add(float64(rejected))
		}
	}
	q.logger.Debug("flush_succeeded",
		"delivered", len(batch)-rejected,
		"rejected", rejected,
		"remaining", remaining,
	)

	// A full buffer may still be waiting behind the batch we just sent.
	if remaining >= q.cfg.FlushBatchSize {
		q.sched.Schedule(0, q.flushIfFull)
	}
}

func (q *Queue) handleFailure(batch []event.Event, sendErr error) {
	q.mu.Lock()
	// Re-prepend in original order so delivery order is preserved.
	q.buf = append(append([]event.Event(nil), batch...), q.buf...)
	q.enforceMaxSizeLocked()
	q.inFlight = false
	q.attempt++
	attempt := q.attempt
	exhausted := q.cfg.RetryAttempts > 0 && attempt > q.cfg.RetryAttempts
	if exhausted {
		// Stop the retry chain; the batch waits for the next natural flush
		// cycle (or the offline spill below).
		q.attempt = 0
		q.state = StateAccumulating
	} else {
		q.state = StateBackoff
	}
	q.updateDepthLocked()
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.FlushAttempts.WithLabelValues("failure").Inc()
	}

	if exhausted {
		q.logger.Warn("flush_retries_exhausted",
			"attempts", attempt,
			"batch_size", len(batch),
			"error", sendErr,
		)
		if q.offline != nil {
			q.spillOffline()
		}
		return
	}

	delay := Backoff(q.cfg.RetryDelay, q.cfg.MaxRetryDelay, attempt)
	q.logger.Warn("flush_failed",
		"attempt", attempt,
		"retry_in", delay,
		"batch_size", len(batch),
		"error", sendErr,
	)

	q.mu.Lock()
	if q.retryTimer != nil {
		q.retryTimer.Stop()
	}
	q.retryTimer = q.sched.Schedule(delay, func() {
		q.Flush(context.Background())
	})
	q.mu.Unlock()
}

// enforceMaxSizeLocked drops oldest unsent events beyond the hard maximum.
// Bounded memory takes priority over completeness; drops are counted, never
// silent.
func (q *Queue) enforceMaxSizeLocked() {
	over := len(q.buf) - q.cfg.MaxSize
	if over <= 0 {
		return
	}
	q.buf = append([]event.Event(nil), q.buf[over:]...)
	q.dropped += uint64(over)
	if q.metrics != nil {
		q.metrics.EventsDropped.WithLabelValues("overflow").Add(float64(over))
	}
	q.logger.Warn("queue_overflow", "dropped", over, "max_size", q.cfg.MaxSize)
}

func (q *Queue) armFlushTimer() {
	if q.cfg.FlushInterval <= 0 {
		return
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.flushTimer = q.sched.Schedule(q.cfg.FlushInterval, func() {
		q.Flush(context.Background())
		q.armFlushTimer()
	})
	q.mu.Unlock()
}

func (q *Queue) updateDepthLocked() {
	if q.metrics != nil {
		q.metrics.QueueDepth.Set(float64(len(q.buf)))
	}
}

// Close stops timers, attempts one final flush, and spills whatever remains
// to offline storage when configured.
func (q *Queue) Close(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	if q.flushTimer != nil {
		q.flushTimer.Stop()
	}
	if q.retryTimer != nil {
		q.retryTimer.Stop()
	}
	q.mu.Unlock()

	q.Flush(ctx)

	if q.offline != nil {
		q.spillOffline()
	}
}

// Backoff computes the retry delay for the given attempt:
// min(maxDelay, base * 2^(attempt-1)). It is monotonically non-decreasing in
// attempt and never exceeds maxDelay.
func Backoff(base, maxDelay time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}
