// Package ringbuf provides a fixed-capacity rolling window of prices.
// When full, each push overwrites the oldest value. A Window is not safe for
// concurrent use; callers serialise access (the store guards each window with
// its record lock).
package ringbuf

// DefaultCapacity is the rolling window size used when none is configured.
const DefaultCapacity = 300

// Window is a bounded FIFO of float64 closes, oldest first.
type Window struct {
	buf  []float64
	head int // index of the oldest value
	size int
}

// New creates a window. A non-positive capacity falls back to DefaultCapacity.
func New(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Window{buf: make([]float64, capacity)}
}

// Push appends v, evicting the oldest value when the window is full.
// Returns true if a value was evicted.
func (w *Window) Push(v float64) bool {
	if w.size < len(w.buf) {
		w.buf[(w.head+w.size)%len(w.buf)] = v
		w.size++
		return false
	}
	// Full: overwrite the oldest slot and advance head.
	w.buf[w.head] = v
	w.head = (w.head + 1) % len(w.buf)
	return true
}

// Reset clears the window and reseeds it from values (chronological order).
// Only the newest Cap() values are kept.
func (w *Window) Reset(values []float64) {
	w.head = 0
	w.size = 0
	if len(values) > len(w.buf) {
		values = values[len(values)-len(w.buf):]
	}
	w.size = copy(w.buf, values)
}

// Values returns a chronological copy of the window contents.
func (w *Window) Values() []float64 {
	out := make([]float64, w.size)
	for i := 0; i < w.size; i++ {
		out[i] = w.buf[(w.head+i)%len(w.buf)]
	}
	return out
}

// Len returns the current number of values.
func (w *Window) Len() int { return w.size }

// Cap returns the window capacity.
func (w *Window) Cap() int { return len(w.buf) }
