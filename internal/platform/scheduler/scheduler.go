// Package scheduler abstracts timer scheduling so retry and flush timing can
// be driven by tests without real wall-clock delays.
package scheduler

import (
	"sync"
	"time"
)

// Timer is a handle to a scheduled callback.
type Timer interface {
	// Stop cancels the pending callback. It reports whether the callback was
	// prevented from running.
	Stop() bool
}

// Scheduler schedules a callback to run once after the given delay.
type Scheduler interface {
	Schedule(delay time.Duration, fn func()) Timer
}

// Real schedules callbacks on real wall-clock timers.
type Real struct{}

// NewReal returns a wall-clock backed scheduler.
func NewReal() *Real {
	return &Real{}
}

func (*Real) Schedule(delay time.Duration, fn func()) Timer {
	return realTimer{t: time.AfterFunc(delay, fn)}
}

type realTimer struct {
	t *time.Timer
}

func (r realTimer) Stop() bool {
	return r.t.Stop()
}

// Manual is a test scheduler whose clock only moves when Advance is called.
// Callbacks run synchronously on the goroutine calling Advance, in delay order.
type Manual struct {
	mu      sync.Mutex
	now     time.Duration
	nextID  int
	pending map[int]*manualEntry
}

type manualEntry struct {
	at time.Duration
	fn func()
}

// NewManual returns a scheduler controlled entirely by Advance.
func NewManual() *Manual {
	return &Manual{pending: make(map[int]*manualEntry)}
}

func (m *Manual) Schedule(delay time.Duration, fn func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.pending[id] = &manualEntry{at: m.now + delay, fn: fn}
	return &manualTimer{m: m, id: id}
}

// Advance moves the manual clock forward, firing due callbacks in order.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now += d
	deadline := m.now
	m.mu.Unlock()

	for {
		m.mu.Lock()
		var dueID = -1
		var dueAt time.Duration
		for id, e := range m.pending {
			if e.at <= deadline && (dueID == -1 || e.at < dueAt || (e.at == dueAt && id < dueID)) {
				dueID = id
				dueAt = e.at
			}
		}
		if dueID == -1 {
			m.mu.Unlock()
			return
		}
		entry := m.pending[dueID]
		delete(m.pending, dueID)
		m.mu.Unlock()

		entry.fn()
	}
}

// Pending reports the number of callbacks waiting to fire.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

type manualTimer struct {
	m  *Manual
	id int
}

func (t *manualTimer) Stop() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if _, ok := t.m.pending[t.id]; ok {
		delete(t.m.pending, t.id)
		return true
	}
	return false
}
