package store

import (
	"context"

	"pulse/internal/consent/models"
	dErrors "pulse/pkg/domain-errors"
)

// ErrNotFound keeps storage-specific 404s consistent across implementations.
var ErrNotFound = dErrors.New(dErrors.CodeNotFound, "consent record not found")

// Store persists consent records.
//
// Error Contract:
//   - Get returns ErrNotFound when no record exists for the identity
//   - Save returns nil on success or a wrapped error on infrastructure failure
type Store interface {
	Get(ctx context.Context, identity string) (*models.Record, error)
	Save(ctx context.Context, record *models.Record) error
}
