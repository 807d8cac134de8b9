package auction

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// playerTimer is the countdown for the player currently on the block. It is
// a thin clock abstraction with no business logic: arming returns a
// generation number, and the fire callback reports that generation so a
// stale expiry (raced by a cancel or re-arm) can be recognized and dropped.
// A given generation fires at most once.
//
// Internal tracking uses the injected clock's monotonic view of time; the
// wall-clock deadline is exposed only so the session can persist it and
// re-derive the countdown after a process restart.
type playerTimer struct {
	clock clockwork.Clock
	fire  func(gen uint64)

	mu       sync.Mutex
	gen      uint64
	timer    clockwork.Timer
	stop     chan struct{}
	deadline time.Time
}

func newPlayerTimer(clock clockwork.Clock, fire func(gen uint64)) *playerTimer {
	return &playerTimer{clock: clock, fire: fire}
}

// Arm starts (or restarts) the countdown for d and returns the wall-clock
// deadline plus the generation that will be reported on expiry. Any previous
// countdown is cancelled.
func (t *playerTimer) Arm(d time.Duration) (time.Time, uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
	t.gen++
	gen := t.gen
	t.deadline = t.clock.Now().Add(d)

	timer := t.clock.NewTimer(d)
	stop := make(chan struct{})
	t.timer = timer
	t.stop = stop
	go func() {
		select {
		case <-timer.Chan():
			t.fire(gen)
		case <-stop:
		}
	}()
	return t.deadline, gen
}

// Cancel stops the countdown and returns the time that was left on it.
// Cancelling an idle timer returns zero.
func (t *playerTimer) Cancel() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer == nil {
		return 0
	}
	remaining := t.deadline.Sub(t.clock.Now())
	if remaining < 0 {
		remaining = 0
	}
	t.stopLocked()
	t.gen++ // invalidate any in-flight fire
	return remaining
}

// Live reports whether gen is the currently armed generation. The session
// loop checks this before acting on an expiry so that an expiry message
// already in the mailbox when the timer was cancelled becomes a no-op.
func (t *playerTimer) Live(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil && gen == t.gen
}

// Deadline returns the wall-clock deadline of the armed countdown.
func (t *playerTimer) Deadline() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer == nil {
		return time.Time{}, false
	}
	return t.deadline, true
}

func (t *playerTimer) stopLocked() {
	if t.timer == nil {
		return
	}
	t.timer.Stop()
	close(t.stop) // release the waiting goroutine
	t.timer = nil
	t.stop = nil
}
