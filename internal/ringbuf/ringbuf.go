// Package ringbuf provides a bounded candle history. When the window is full
// the oldest candle is evicted on every push, so memory stays constant for a
// long-running strategy.
//
// A Window is owned by a single strategy instance and is not safe for
// concurrent use; the owner serializes access.
package ringbuf

import "signalengine/internal/model"

// DefaultCapacity is the candle history kept per strategy.
const DefaultCapacity = 100

// Window is a fixed-capacity FIFO of candles.
type Window struct {
	buf   []model.Candle
	head  int // index of the oldest candle
	size  int
	evict uint64
}

// New creates a window holding at most capacity candles. Non-positive
// capacities fall back to DefaultCapacity.
func New(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Window{buf: make([]model.Candle, capacity)}
}

// Push appends a candle, evicting the oldest one when full.
func (w *Window) Push(c model.Candle) {
	if w.size < len(w.buf) {
		w.buf[(w.head+w.size)%len(w.buf)] = c
		w.size++
		return
	}
	w.buf[w.head] = c
	w.head = (w.head + 1) % len(w.buf)
	w.evict++
}

// Len returns the number of candles held.
func (w *Window) Len() int { return w.size }

// Cap returns the window capacity.
func (w *Window) Cap() int { return len(w.buf) }

// Evicted returns how many candles were dropped from the front.
func (w *Window) Evicted() uint64 { return w.evict }

// At returns the i-th candle, oldest first. Negative indices count from the
// newest (-1 is the latest).
func (w *Window) At(i int) (model.Candle, bool) {
	if i < 0 {
		i += w.size
	}
	if i < 0 || i >= w.size {
		return model.Candle{}, false
	}
	return w.buf[(w.head+i)%len(w.buf)], true
}

// Last returns the newest candle.
func (w *Window) Last() (model.Candle, bool) { return w.At(-1) }

// Snapshot copies the history, oldest first.
func (w *Window) Snapshot() []model.Candle {
	out := make([]model.Candle, w.size)
	for i := 0; i < w.size; i++ {
		out[i] = w.buf[(w.head+i)%len(w.buf)]
	}
	return out
}

// Reset empties the window.
func (w *Window) Reset() {
	w.head, w.size = 0, 0
}
