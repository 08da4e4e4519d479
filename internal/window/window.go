// Package window owns the per-key rolling candle windows: a fixed-capacity
// ordered buffer of finalized candles plus at most one forming candle at the
// tail. All mutation goes through Store.Seed and Store.Merge.
package window

import (
	"torypto-stream/internal/model"
)

// ring is a fixed-size circular buffer of candles ordered by OpenTime.
// Oldest entries are overwritten once the buffer is full.
type ring struct {
	buf  []model.Candle
	pos  int // next write position
	full bool
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]model.Candle, capacity)}
}

func (r *ring) len() int {
	if r.full {
		return len(r.buf)
	}
	return r.pos
}

// index converts a logical index (0 = oldest) to a physical buffer index.
func (r *ring) index(logical int) int {
	if r.full {
		return (r.pos + logical) % len(r.buf)
	}
	return logical
}

func (r *ring) at(logical int) model.Candle {
	return r.buf[r.index(logical)]
}

// push appends a candle, evicting the oldest entry when full.
func (r *ring) push(c model.Candle) {
	r.buf[r.pos] = c
	r.pos = (r.pos + 1) % len(r.buf)
	if r.pos == 0 && !r.full {
		r.full = true
	}
}

// replaceTail overwrites the newest entry in place.
func (r *ring) replaceTail(c model.Candle) {
	tail := (r.pos - 1 + len(r.buf)) % len(r.buf)
	r.buf[tail] = c
}

func (r *ring) tail() model.Candle {
	return r.buf[(r.pos-1+len(r.buf))%len(r.buf)]
}

// snapshot copies the buffer contents in chronological order.
func (r *ring) snapshot() []model.Candle {
	n := r.len()
	out := make([]model.Candle, n)
	for i := 0; i < n; i++ {
		out[i] = r.at(i)
	}
	return out
}

func (r *ring) reset() {
	r.pos = 0
	r.full = false
}

// Window holds the candle ring for one (symbol, interval) key.
// formingTail marks whether the newest entry is still an in-progress candle.
type Window struct {
	ring        *ring
	formingTail bool
}

func newWindow(capacity int) *Window {
	return &Window{ring: newRing(capacity)}
}

// Len returns the number of candles currently held, forming tail included.
func (w *Window) Len() int {
	return w.ring.len()
}

// Snapshot returns an immutable chronological copy of the window.
func (w *Window) Snapshot() []model.Candle {
	return w.ring.snapshot()
}
