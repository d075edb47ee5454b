// Package realtime maintains short-window per-entity counters for spike
// detection, updated synchronously alongside ingestion and never retained
// historically.
package realtime

import "pulse/internal/realtime/store"

// Snapshot holds the live counters for one entity. The window resets as a
// whole once it ages out; there is no per-counter decay.
type Snapshot = store.Snapshot
