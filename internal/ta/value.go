// Package ta holds the contracts shared by every indicator backend: the
// optional observation type, indicator specs and lookbacks, the sentinel
// errors, and the Backend/Stream interfaces the engine and CLI program against.
package ta

import (
	"math"
	"strconv"
)

// Value is one observation or indicator output. Valid=false means the value is
// absent on input or "not ready" on output.
type Value struct {
	Float float64
	Valid bool
}

// NotReady is the absent value.
var NotReady = Value{}

// Of wraps a present float. NaN is treated as absent.
func Of(f float64) Value {
	if math.IsNaN(f) {
		return NotReady
	}
	return Value{Float: f, Valid: true}
}

// OrNaN returns the float, or NaN when the value is absent.
func (v Value) OrNaN() float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float
}

func (v Value) String() string {
	if !v.Valid {
		return "na"
	}
	return strconv.FormatFloat(v.Float, 'f', -1, 64)
}

// Close reports whether both values are absent, or both present and within tol.
func Close(a, b Value, tol float64) bool {
	if a.Valid != b.Valid {
		return false
	}
	if !a.Valid {
		return true
	}
	return math.Abs(a.Float-b.Float) <= tol
}
