package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"pulse/internal/consent/models"
	"pulse/internal/consent/store"
	"pulse/internal/platform/metrics"
	dErrors "pulse/pkg/domain-errors"
)

// ChangeRecorder receives consent-preference changes so they can themselves
// be tracked as events. Implementations must emit with the necessary category
// only, so the audit event is never blocked by a withdrawal of analytics
// consent.
type ChangeRecorder interface {
	RecordConsentChange(ctx context.Context, record *models.Record)
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

// WithChangeRecorder sets the hook invoked after every consent update.
func WithChangeRecorder(r ChangeRecorder) Option {
	return func(s *Service) {
		s.recorder = r
	}
}

// WithDefaultCategories sets categories treated as approved for identities
// that have no stored record yet.
func WithDefaultCategories(cats []models.Category) Option {
	return func(s *Service) {
		s.defaults = cats
	}
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service persists consent decisions and gates event processing on them.
//
// Failure semantics: if the store is unreadable the service degrades to a
// necessary-only ("minimal") mode rather than failing initialization. The
// degraded state is observable via Degraded().
type Service struct {
	store    store.Store
	recorder ChangeRecorder
	metrics  *metrics.Metrics
	logger   *slog.Logger
	defaults []models.Category
	now      func() time.Time

	// degraded is read and written by concurrent request handlers.
	degraded atomic.Bool
}

// NewService builds a consent service over the given store.
func NewService(st store.Store, opts ...Option) *Service {
	svc := &Service{
		store:  st,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Degraded reports whether the last store read failed and the service is
// answering with necessary-only consent.
func (s *Service) Degraded() bool {
	return s.degraded.Load()
}

// Get returns the consent record for the identity. A missing record yields a
// default record (configured default categories, implied mechanism); an
// unreadable store yields a minimal necessary-only record and flips the
// service into degraded mode.
func (s *Service) Get(ctx context.Context, identity string) (*models.Record, error) {
	if identity == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "consent identity required")
	}

	record, err := s.store.Get(ctx, identity)
	switch {
	case err == nil:
		s.degraded.Store(false)
		return record, nil
	case errors.Is(err, store.ErrNotFound):
		s.degraded.Store(false)
		return s.defaultRecord(identity), nil
	default:
		s.degraded.Store(true)
		s.logger.Warn("consent store unreadable, degrading to necessary-only",
			"identity", identity,
			"error", err,
		)
		return models.Minimal(identity, s.now()), nil
	}
}

// Set merges the given category decisions into the identity's record,
// persists it, and notifies the change recorder. The updated record is
// retrievable before any event referencing the identity is built.
func (s *Service) Set(ctx context.Context, identity string, categories map[models.Category]bool, mechanism models.Mechanism) (*models.Record, error) {
	if identity == "" {
		return nil, dErrors.New(dErrors.CodeBadRequest, "consent identity required")
	}
	if !mechanism.IsValid() {
		return nil, dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("invalid mechanism: %s", mechanism))
	}
	for cat := range categories {
		if !cat.IsValid() {
			return nil, dErrors.New(dErrors.CodeBadRequest, fmt.Sprintf("invalid category: %s", cat))
		}
	}

	now := s.now()
	record, err := s.store.Get(ctx, identity)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			// Unreadable store: start from the defaults rather than losing the
			// update entirely; the save below may still succeed.
			s.logger.Warn("consent store unreadable on update", "identity", identity, "error", err)
		}
		record = s.defaultRecord(identity)
	}

	record.Merge(categories, mechanism, now)

	if err := s.store.Save(ctx, record); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "persist consent record")
	}

	if s.metrics != nil {
		s.metrics.ConsentUpdates.WithLabelValues(string(mechanism)).Inc()
	}
	s.logger.Info("consent_updated",
		"identity", identity,
		"mechanism", mechanism,
		"withdrawn", record.Withdrawn,
	)

	if s.recorder != nil {
		s.recorder.RecordConsentChange(ctx, record.Clone())
	}

	return record.Clone(), nil
}

// Withdraw revokes the given categories for the identity. Withdrawal of the
// necessary category is ignored by the merge.
func (s *Service) Withdraw(ctx context.Context, identity string, categories []models.Category, mechanism models.Mechanism) (*models.Record, error) {
	updates := make(map[models.Category]bool, len(categories))
	for _, cat := range categories {
		updates[cat] = false
	}
	return s.Set(ctx, identity, updates, mechanism)
}

// HasCategory reports whether the identity has approved the category.
// CategoryNecessary is always approved. Denials are not errors; callers treat
// them as silent no-ops.
func (s *Service) HasCategory(ctx context.Context, identity string, cat models.Category) bool {
	if cat == models.CategoryNecessary {
		return true
	}

	record, err := s.Get(ctx, identity)
	if err != nil {
		return false
	}
	approved := record.Has(cat)

	if s.metrics != nil {
		if approved {
			s.metrics.ConsentChecksPassed.WithLabelValues(string(cat)).Inc()
		} else {
			s.metrics.ConsentChecksFailed.WithLabelValues(string(cat)).Inc()
		}
	}
	if !approved {
		s.logger.Debug("consent_check_failed", "identity", identity, "category", cat)
	}
	return approved
}

func (s *Service) defaultRecord(identity string) *models.Record {
	record := models.Minimal(identity, s.now())
	record.Mechanism = models.MechanismImplied
	for _, cat := range s.defaults {
		if cat.IsValid() {
			record.Categories[cat] = true
		}
	}
	record.Normalize()
	return record
}
