package autosave

import (
	"sync"
	"time"
)

// Debouncer runs fn once no Trigger has happened for delay. Each Trigger
// cancels the pending timer and starts a new one.
type Debouncer struct {
	clock Clock
	delay time.Duration
	fn    func()

	mu      sync.Mutex
	stop    func() bool
	gen     uint64
	pending bool
}

func NewDebouncer(clock Clock, delay time.Duration, fn func()) *Debouncer {
	return &Debouncer{clock: clock, delay: delay, fn: fn}
}

func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopLocked()
	gen := d.gen
	d.pending = true
	d.stop = d.clock.AfterFunc(d.delay, func() { d.fire(gen) })
}

// Cancel disarms the pending timer, if any.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
}

func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

func (d *Debouncer) stopLocked() {
	if d.stop != nil {
		d.stop()
		d.stop = nil
	}
	// A timer that already fired but has not yet taken the lock sees a newer
	// generation and does nothing.
	d.gen++
	d.pending = false
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || !d.pending {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.stop = nil
	d.mu.Unlock()

	d.fn()
}
