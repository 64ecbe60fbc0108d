package presence

import (
	"sync"
	"time"
)

// IdleDetector is the local activity state machine: Active until no
// qualifying activity for the idle timeout, Idle until the next activity.
// Transitions emit exactly one explicit signal each; staying idle emits
// nothing further. The detector owns its timer and guarantees it is
// cancelled on Stop, so a torn-down connection leaks no timers.
type IdleDetector struct {
	mu          sync.Mutex
	idleTimeout time.Duration
	throttle    time.Duration
	onChange    func(isIdle bool)

	timer    *time.Timer
	gen      uint64
	idle     bool
	stopped  bool
	lastEval time.Time

	now func() time.Time // replaced in tests
}

// NewIdleDetector starts in Active with the idle timer armed. onChange is
// called outside the detector's lock and may send on the transport.
func NewIdleDetector(idleTimeout, throttle time.Duration, onChange func(isIdle bool)) *IdleDetector {
	d := &IdleDetector{
		idleTimeout: idleTimeout,
		throttle:    throttle,
		onChange:    onChange,
		now:         time.Now,
	}
	d.armLocked()
	return d
}

// Activity records a qualifying local signal (pointer, key, touch, scroll).
// Evaluations are throttled to one per throttle window; rapid bursts
// coalesce. Resets the idle timer, and wakes the detector if it was idle.
func (d *IdleDetector) Activity() {
	d.evaluate(false)
}

// PageVisible handles the page becoming visible or regaining focus: a
// fresh activity signal that bypasses the throttle.
func (d *IdleDetector) PageVisible() {
	d.evaluate(true)
}

// PageHidden forces an immediate idle transition; backgrounding is treated
// as inactivity without waiting out the timer.
func (d *IdleDetector) PageHidden() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.timer.Stop()
	d.gen++
	wasActive := !d.idle
	d.idle = true
	d.mu.Unlock()

	if wasActive {
		d.onChange(true)
	}
}

// Reset silently returns to Active, restarting the timer. Used on transport
// disconnect so reconnection starts from a known baseline instead of a
// possibly stale idle flag.
func (d *IdleDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.idle = false
	d.lastEval = time.Time{}
	d.armLocked()
}

// Stop cancels the timer permanently; all further signals are ignored.
func (d *IdleDetector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.timer.Stop()
}

// IsIdle reports the current state.
func (d *IdleDetector) IsIdle() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.idle
}

// armLocked replaces the timer with a fresh one carrying the next
// generation. Stop cannot cancel a callback that has already fired and is
// waiting on the lock; the generation check in expire invalidates it.
func (d *IdleDetector) armLocked() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(d.idleTimeout, func() { d.expire(gen) })
}

func (d *IdleDetector) evaluate(force bool) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	now := d.now()
	if !force && !d.lastEval.IsZero() && now.Sub(d.lastEval) < d.throttle {
		d.mu.Unlock()
		return
	}
	d.lastEval = now
	d.armLocked()
	wasIdle := d.idle
	d.idle = false
	d.mu.Unlock()

	if wasIdle {
		d.onChange(false)
	}
}

func (d *IdleDetector) expire(gen uint64) {
	d.mu.Lock()
	if d.stopped || d.idle || gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.idle = true
	d.mu.Unlock()

	d.onChange(true)
}
