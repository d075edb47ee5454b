// Package service implements server-side batch ingestion: per-event
// validation, IP stamping, durable insert, realtime counting, and downstream
// fan-out. A batch is accepted as a whole or rejected as a whole at the
// storage layer; individual events are rejected only by validation.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"pulse/internal/event"
	"pulse/internal/ingest/store"
	"pulse/internal/platform/kafka/producer"
	"pulse/internal/platform/metrics"
	"pulse/internal/platform/privacy"
	dErrors "pulse/pkg/domain-errors"
)

// Result reports the outcome of one event within an ingested batch. The JSON
// shape mirrors what the client SDK decodes.
type Result struct {
	EventID  string `json:"eventId"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// RealtimeRecorder receives each accepted event for live counters. Recording
// is best-effort; implementations must not surface errors to ingestion.
type RealtimeRecorder interface {
	Record(ctx context.Context, e *event.Event)
}

// Service orchestrates batch ingestion.
type Service struct {
	store     store.Store
	validator *event.Validator
	realtime  RealtimeRecorder
	producer  *producer.Producer
	topic     string
	logger    *slog.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
	anonymize bool
	retention time.Duration
	clock     func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the logger instance for the service.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics instance for the service.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithRealtime attaches the live counter recorder.
func WithRealtime(r RealtimeRecorder) Option {
	return func(s *Service) {
		s.realtime = r
	}
}

// WithProducer attaches the Kafka fan-out for accepted events.
func WithProducer(p *producer.Producer, topic string) Option {
	return func(s *Service) {
		s.producer = p
		s.topic = topic
	}
}

// WithAnonymizeIP controls whether client addresses are truncated before
// storage.
func WithAnonymizeIP(enabled bool) Option {
	return func(s *Service) {
		s.anonymize = enabled
	}
}

// WithRetentionHorizon stamps a retention expiry on events that arrive without
// one, so the retention worker can delete them. Zero disables server stamping.
func WithRetentionHorizon(d time.Duration) Option {
	return func(s *Service) {
		s.retention = d
	}
}

// WithClock injects a clock for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewService creates an ingestion service over the given event store.
func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:     st,
		validator: event.NewValidator(),
		logger:    slog.Default(),
		tracer:    otel.Tracer("pulse/ingest"),
		anonymize: true,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IngestBatch validates and stores a batch, returning one result per event in
// input order. An empty batch is a successful no-op. Validation failures
// reject only the offending event; a storage failure fails the whole call so
// the client retries the batch.
func (s *Service) IngestBatch(ctx context.Context, events []event.Event, clientIP string) ([]Result, error) {
	ctx, span := s.tracer.Start(ctx, "ingest.batch",
		trace.WithAttributes(attribute.Int("batch.size", len(events))))
	defer span.End()

	start := s.clock()
	if s.metrics != nil {
		s.metrics.BatchesReceived.Inc()
		s.metrics.BatchSize.Observe(float64(len(events)))
	}
	if len(events) == 0 {
		return []Result{}, nil
	}

	results := make([]Result, len(events))
	accepted := make([]event.Event, 0, len(events))
	for i := range events {
		res := s.validator.Validate(events[i])
		if !res.Valid {
			reason := "invalid event"
			if len(res.Errors) > 0 {
				reason = res.Errors[0]
			}
			results[i] = Result{EventID: events[i].ID, Accepted: false, Reason: reason}
			if s.metrics != nil {
				s.metrics.EventsRejected.WithLabelValues("validation").Inc()
			}
			continue
		}

		e := res.Enriched
		s.stampIP(&e, clientIP)
		if s.retention > 0 && e.Privacy.RetentionExpiry.IsZero() {
			e.Privacy.RetentionExpiry = start.Add(s.retention)
		}
		e.Processing.Processed = true
		results[i] = Result{EventID: e.ID, Accepted: true}
		accepted = append(accepted, e)
	}

	if len(accepted) > 0 {
		if err := s.store.Insert(ctx, accepted); err != nil {
			span.RecordError(err)
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "store event batch")
		}
		for i := range accepted {
			if s.metrics != nil {
				s.metrics.EventsAccepted.WithLabelValues(string(accepted[i].Type)).Inc()
			}
			if s.realtime != nil {
				s.realtime.Record(ctx, &accepted[i])
			}
		}
		s.fanOut(accepted)
	}

	if s.metrics != nil {
		s.metrics.IngestLatency.Observe(s.clock().Sub(start).Seconds())
	}
	s.logger.Debug("batch_ingested",
		"received", len(events),
		"accepted", len(accepted),
		"rejected", len(events)-len(accepted),
	)
	return results, nil
}

func (s *Service) stampIP(e *event.Event, ip string) {
	if ip == "" {
		return
	}
	if s.anonymize {
		e.Context.IPAddress = privacy.AnonymizeIP(ip)
		return
	}
	e.Context.IPAddress = ip
}

// fanOut publishes accepted events for downstream consumers. Failures are
// logged inside the producer; they never affect the ingestion outcome.
func (s *Service) fanOut(events []event.Event) {
	if s.producer == nil {
		return
	}
	for i := range events {
		e := &events[i]
		payload, err := json.Marshal(e)
		if err != nil {
			s.logger.Warn("event_fanout_encode_failed", "event_id", e.ID, "error", err)
			continue
		}
		key := e.EntityID
		if key == "" {
			key = e.SessionID
		}
		if err := s.producer.ProduceAsync(&producer.Message{
			Topic: s.topic,
			Key:   []byte(key),
			Value: payload,
			Headers: map[string]string{
				"event-type": string(e.Type),
			},
		}); err != nil {
			s.logger.Warn("event_fanout_failed", "event_id", e.ID, "error", err)
		}
	}
}
