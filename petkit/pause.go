package petkit

import (
	"sync"
	"time"
)

// manualPauseWindow is the 10-minute device pause window plus a one-minute
// margin for the cleaning cycle to finish.
const manualPauseWindow = 660 * time.Second

// pauseRecord is per-litter-box, process-lifetime manual pause state.
// endsAt is non-zero iff paused was set by an explicit pause command still
// within its window.
type pauseRecord struct {
	paused bool
	endsAt time.Time
}

// pauseTracker tracks time-boxed manual pause overrides. Expiry is checked
// lazily on read; there is no background timer, because the device ends
// the pause on its own and the tracker only mirrors that.
type pauseTracker struct {
	mu      sync.Mutex
	records map[int64]*pauseRecord
	now     func() time.Time
}

func newPauseTracker(now func() time.Time) *pauseTracker {
	return &pauseTracker{records: make(map[int64]*pauseRecord), now: now}
}

func (t *pauseTracker) record(id int64) *pauseRecord {
	rec, ok := t.records[id]
	if !ok {
		rec = &pauseRecord{}
		t.records[id] = rec
	}
	return rec
}

// NotePause marks the box manually paused until now + the pause window.
func (t *pauseTracker) NotePause(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.record(id)
	rec.paused = true
	rec.endsAt = t.now().Add(manualPauseWindow)
}

// Clear drops the pause immediately. An explicit resume always wins over
// the timer.
func (t *pauseTracker) Clear(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.record(id)
	rec.paused = false
	rec.endsAt = time.Time{}
}

// CheckExpiry clears the pause if its window has elapsed. Must run before
// any external consumer reads the paused flag.
func (t *pauseTracker) CheckExpiry(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.record(id)
	if rec.paused && !rec.endsAt.IsZero() && !t.now().Before(rec.endsAt) {
		rec.paused = false
		rec.endsAt = time.Time{}
	}
}

// Status returns the current pause flag and deadline after lazy expiry.
func (t *pauseTracker) Status(id int64) (bool, *time.Time) {
	t.CheckExpiry(id)
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.record(id)
	if !rec.paused {
		return false, nil
	}
	endsAt := rec.endsAt
	return true, &endsAt
}
