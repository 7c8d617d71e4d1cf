package core

import (
	"time"
)

// ErrorTracker counts consecutive playback errors for one session. A single
// timer, rearmed on every increment, resets the count once the decay window
// passes without a new error. All methods run inside the owning tenant's
// serialization unit.
type ErrorTracker struct {
	count int
	timer *time.Timer
}

func (t *ErrorTracker) Count() int {
	return t.count
}

// Increment bumps the counter and returns the new value.
func (t *ErrorTracker) Increment() int {
	t.count++
	return t.count
}

// RearmDecay cancels any pending reset and schedules a fresh one. The reset
// callback must re-enter the tenant's serialization unit before touching the
// tracker.
func (t *ErrorTracker) RearmDecay(window time.Duration, reset func()) {
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(window, reset)
}

// Reset zeroes the counter without touching the timer.
func (t *ErrorTracker) Reset() {
	t.count = 0
}

// Cancel stops the decay timer, part of session teardown.
func (t *ErrorTracker) Cancel() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
