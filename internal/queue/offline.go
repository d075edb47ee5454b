package queue

import (
	"encoding/json"

	"pulse/internal/env"
	"pulse/internal/event"
)

// OfflineStorage is the durable key/value sink used to spill unsent events
// while the transport is unavailable, so a later process start can resume
// draining them.
type OfflineStorage interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Remove(key string) error
}

var _ OfflineStorage = env.Storage(nil)

// spillOffline persists the current buffer and clears it. A storage failure
// leaves the buffer in memory; nothing is lost either way.
func (q *Queue) spillOffline() {
	q.mu.Lock()
	if len(q.buf) == 0 {
		q.mu.Unlock()
		return
	}
	events := append([]event.Event(nil), q.buf...)
	q.mu.Unlock()

	payload, err := json.Marshal(events)
	if err != nil {
		q.logger.Error("offline_spill_encode_failed", "error", err)
		return
	}
	if err := q.offline.Set(OfflineKey, string(payload)); err != nil {
		q.logger.Warn("offline_spill_failed", "events", len(events), "error", err)
		return
	}

	q.mu.Lock()
	// Remove only the spilled prefix. Events enqueued while the storage write
	// was in flight sit behind it and must stay buffered.
	if len(q.buf) >= len(events) {
		q.buf = append([]event.Event(nil), q.buf[len(events):]...)
	}
	if len(q.buf) == 0 {
		q.state = StateIdle
	} else {
		q.state = StateAccumulating
	}
	q.updateDepthLocked()
	q.mu.Unlock()

	q.logger.Info("offline_spill_saved", "events", len(events))
}

// restoreOffline re-enqueues durably stored events ahead of new events and
// clears the spill key.
func (q *Queue) restoreOffline() {
	raw, ok, err := q.offline.Get(OfflineKey)
	if err != nil || !ok {
		return
	}

	var events []event.Event
	if err := json.Unmarshal([]byte(raw), &events); err != nil {
		q.logger.Warn("offline_restore_decode_failed", "error", err)
		_ = q.offline.Remove(OfflineKey)
		return
	}
	_ = q.offline.Remove(OfflineKey)
	if len(events) == 0 {
		return
	}

	q.mu.Lock()
	q.buf = append(events, q.buf...)
	q.state = StateAccumulating
	q.enforceMaxSizeLocked()
	q.updateDepthLocked()
	q.mu.Unlock()

	q.logger.Info("offline_restore_completed", "events", len(events))
}
