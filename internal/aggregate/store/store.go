package store

import (
	"context"
	"time"

	"pulse/internal/aggregate/models"
	dErrors "pulse/pkg/domain-errors"
)

// ErrNotFound signals no aggregate exists for the key.
var ErrNotFound = dErrors.New(dErrors.CodeNotFound, "aggregate not found")

// Store persists aggregate records. Put is a whole-record overwrite keyed by
// (entityType, entityID, period, windowStart); partial updates do not exist.
type Store interface {
	Put(ctx context.Context, agg *models.Aggregate) error
	Get(ctx context.Context, key models.Key) (*models.Aggregate, error)
	List(ctx context.Context, entityType, entityID string, period models.Period, start, end time.Time) ([]models.Aggregate, error)
}
