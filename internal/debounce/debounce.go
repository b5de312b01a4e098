// Package debounce coalesces bursts of notifications into one call.
package debounce

import (
	"sync"
	"time"
)

// Debouncer calls fn with the most recent value once no new value has
// arrived for the quiet window. Earlier values in a burst are dropped.
type Debouncer[T any] struct {
	wait time.Duration
	fn   func(T)

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	value   T
	pending bool
	stopped bool
}

// New creates a debouncer with the given quiet window.
func New[T any](wait time.Duration, fn func(T)) *Debouncer[T] {
	return &Debouncer[T]{wait: wait, fn: fn}
}

// Trigger records v and restarts the quiet window.
func (d *Debouncer[T]) Trigger(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	d.value = v
	d.pending = true

	gen := d.gen
	d.timer = time.AfterFunc(d.wait, func() { d.fire(gen) })
}

func (d *Debouncer[T]) fire(gen uint64) {
	d.mu.Lock()
	// A timer that raced with a later Trigger must not deliver.
	if gen != d.gen || !d.pending || d.stopped {
		d.mu.Unlock()
		return
	}
	v := d.value
	d.pending = false
	d.timer = nil
	d.mu.Unlock()

	d.fn(v)
}

// Pending returns true while a value is waiting for its window to close.
func (d *Debouncer[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Stop drops any pending value. Later Triggers are ignored.
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	d.pending = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
