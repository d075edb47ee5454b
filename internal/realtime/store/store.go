package store

import (
	"context"
	"time"

	dErrors "pulse/pkg/domain-errors"
)

// Snapshot holds the live counters for one entity. The window resets as a
// whole once it ages out; there is no per-counter decay.
type Snapshot struct {
	EntityType    string    `json:"entityType"`
	EntityID      string    `json:"entityId"`
	CurrentUsers  int       `json:"currentUsers"`
	RecentEvents  int       `json:"recentEvents"`
	LastHourViews int       `json:"lastHourViews"`
	TrafficSpike  bool      `json:"trafficSpike"`
	WindowStart   time.Time `json:"windowStart"`
}

// ErrConflict signals the snapshot changed between read and write; the caller
// decides whether to retry.
var ErrConflict = dErrors.New(dErrors.CodeConflict, "snapshot modified concurrently")

// ErrNotFound signals no snapshot exists for the entity yet.
var ErrNotFound = dErrors.New(dErrors.CodeNotFound, "snapshot not found")

// Store provides one optimistic read-modify-write attempt over a snapshot.
//
// Error Contract:
//   - UpdateTx returns ErrConflict when a concurrent writer won the race;
//     the mutation is not applied and the caller may retry
//   - Get returns ErrNotFound for entities never bumped
type Store interface {
	UpdateTx(ctx context.Context, entityType, entityID string, apply func(*Snapshot)) error
	Get(ctx context.Context, entityType, entityID string) (*Snapshot, error)
}
