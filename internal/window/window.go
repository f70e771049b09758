// Package window provides the fixed-capacity observation buffers indicators
// keep their history in. Window is an immutable value (every operation returns
// a new Window) for the reference backend; Ring is the in-place circular form
// used by the native backend.
package window

import (
	"fmt"

	"tastream/internal/ta"
)

// Window holds the last ≤ Cap observations, oldest first.
type Window struct {
	vals []float64
	cap  int
}

// New returns an empty window. capacity must be at least 1.
func New(capacity int) (Window, error) {
	if capacity <= 0 {
		return Window{}, fmt.Errorf("%w: window capacity must be >= 1, got %d", ta.ErrInvalidParameter, capacity)
	}
	return Window{cap: capacity}, nil
}

// Push appends v, evicting the oldest value once capacity is exceeded.
func (w Window) Push(v float64) Window {
	start := 0
	if len(w.vals) == w.cap {
		start = 1
	}
	vals := make([]float64, 0, w.cap)
	vals = append(vals, w.vals[start:]...)
	vals = append(vals, v)
	return Window{vals: vals, cap: w.cap}
}

// ReplaceLast overwrites the newest value. On an empty window v becomes the
// sole element.
func (w Window) ReplaceLast(v float64) Window {
	if len(w.vals) == 0 {
		return Window{vals: []float64{v}, cap: w.cap}
	}
	vals := make([]float64, len(w.vals), w.cap)
	copy(vals, w.vals)
	vals[len(vals)-1] = v
	return Window{vals: vals, cap: w.cap}
}

// Step is Push when isAppend, ReplaceLast otherwise.
func (w Window) Step(v float64, isAppend bool) Window {
	if isAppend {
		return w.Push(v)
	}
	return w.ReplaceLast(v)
}

func (w Window) Len() int   { return len(w.vals) }
func (w Window) Cap() int   { return w.cap }
func (w Window) Full() bool { return len(w.vals) == w.cap }

// At returns the i-th value, oldest first.
func (w Window) At(i int) float64 { return w.vals[i] }

// First and Last panic on an empty window.
func (w Window) First() float64 { return w.vals[0] }
func (w Window) Last() float64  { return w.vals[len(w.vals)-1] }

// Values returns the contents oldest first. The slice must not be modified.
func (w Window) Values() []float64 { return w.vals }
