package window

import (
	"fmt"

	"tastream/internal/ta"
)

// Ring is a circular window advanced in place. Push reports the evicted value
// so callers can maintain running aggregates without rescanning. The backing
// array is a power of two for bitwise modulo.
type Ring struct {
	buf  []float64
	mask int
	cap  int
	head int // index of the next write
	n    int
}

// NewRing returns an empty ring holding at most capacity values.
func NewRing(capacity int) (*Ring, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: ring capacity must be >= 1, got %d", ta.ErrInvalidParameter, capacity)
	}
	size := nextPow2(capacity)
	return &Ring{buf: make([]float64, size), mask: size - 1, cap: capacity}, nil
}

// Push appends v. When the ring was full the oldest value is returned with
// evicted=true.
func (r *Ring) Push(v float64) (old float64, evicted bool) {
	if r.n == r.cap {
		old = r.buf[(r.head-r.n)&r.mask]
		evicted = true
	} else {
		r.n++
	}
	r.buf[r.head&r.mask] = v
	r.head++
	return old, evicted
}

// ReplaceLast overwrites the newest value and returns the one it replaced. On
// an empty ring it behaves like Push and returns 0.
func (r *Ring) ReplaceLast(v float64) float64 {
	if r.n == 0 {
		r.Push(v)
		return 0
	}
	i := (r.head - 1) & r.mask
	old := r.buf[i]
	r.buf[i] = v
	return old
}

func (r *Ring) Len() int   { return r.n }
func (r *Ring) Cap() int   { return r.cap }
func (r *Ring) Full() bool { return r.n == r.cap }

// At returns the i-th value, oldest first.
func (r *Ring) At(i int) float64 {
	return r.buf[(r.head-r.n+i)&r.mask]
}

func (r *Ring) First() float64 { return r.At(0) }
func (r *Ring) Last() float64  { return r.At(r.n - 1) }

// Clone returns an independent copy.
func (r *Ring) Clone() *Ring {
	c := *r
	c.buf = append([]float64(nil), r.buf...)
	return &c
}

// nextPow2 returns the smallest power of 2 >= n.
func nextPow2(n int) int {
	if n <= 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
