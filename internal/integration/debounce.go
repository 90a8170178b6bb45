package integration

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Debouncer groups rapid successive calls into a single callback invocation
// after a quiet period.
//
// Thread-safety: All methods are safe for concurrent use. The callback is
// never invoked while the debouncer's lock is held.
type Debouncer struct {
	mu       sync.Mutex
	clock    clock.Clock
	delay    time.Duration
	timer    *clock.Timer
	pending  bool
	disposed bool
	seq      uint64 // sequence number to detect stale timer callbacks
	callback func()
}

// DebouncerOption configures a Debouncer.
type DebouncerOption func(*Debouncer)

// WithClock sets the clock used to schedule the callback.
func WithClock(c clock.Clock) DebouncerOption {
	return func(d *Debouncer) {
		d.clock = c
	}
}

// NewDebouncer creates a new debouncer with the specified delay.
//
// The callback will be invoked after no new calls have been made
// for at least 'delay' duration.
func NewDebouncer(delay time.Duration, callback func(), opts ...DebouncerOption) *Debouncer {
	d := &Debouncer{
		clock:    clock.New(),
		delay:    delay,
		callback: callback,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Call schedules the callback to run after the debounce delay.
//
// Repeated calls within the window cancel and reschedule the timer, so the
// callback fires once after the final quiet period.
func (d *Debouncer) Call() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.disposed {
		return
	}

	d.pending = true
	d.seq++
	currentSeq := d.seq

	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = d.clock.AfterFunc(d.delay, func() {
		d.mu.Lock()
		if !d.pending || d.seq != currentSeq || d.callback == nil {
			d.mu.Unlock()
			return
		}
		d.pending = false
		d.timer = nil
		d.mu.Unlock()
		d.callback()
	})
}

// Flush runs the callback immediately if a call is pending, canceling the
// scheduled invocation.
func (d *Debouncer) Flush() {
	d.mu.Lock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.seq++

	if !d.pending || d.callback == nil {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.mu.Unlock()
	d.callback()
}

// Cancel cancels any pending debounced call.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
}

func (d *Debouncer) cancelLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.seq++
	d.pending = false
}

// IsPending returns true if there's a pending debounced call.
func (d *Debouncer) IsPending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Dispose cancels any pending call and rejects further calls.
func (d *Debouncer) Dispose() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
	d.disposed = true
}
