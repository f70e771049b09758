package ta

import "fmt"

// Stream is the incremental state of a single-input indicator.
//
// Next consumes the receiver and returns the successor state. APPEND
// (isAppend=true) commits v as a new observation; UPDATE revises the most
// recent present APPEND and never changes Count. An absent v yields NotReady
// and leaves the state untouched. UPDATE before any APPEND yields NotReady.
type Stream interface {
	Next(v Value, isAppend bool) (Value, Stream)
	// Count is the number of present observations committed so far.
	Count() int
	Spec() Spec
	// Clone returns an independent copy that can be advanced separately.
	Clone() Stream
}

// PairStream is the incremental state of a (high, low) indicator. A pair is
// absent if either side is.
type PairStream interface {
	NextPair(high, low Value, isAppend bool) (Value, PairStream)
	Count() int
	Spec() Spec
	Clone() PairStream
}

// Backend builds indicator states and batch transforms. Every backend must
// produce the same outputs, within 1e-4, for the same spec and input.
type Backend interface {
	Name() string
	NewStream(spec Spec) (Stream, error)
	NewPairStream(spec Spec) (PairStream, error)
	// Compute returns one output per input.
	Compute(spec Spec, in []Value) ([]Value, error)
	// ComputePair returns one output per (high, low) pair.
	ComputePair(spec Spec, high, low []Value) ([]Value, error)
}

// CheckSingle validates spec for a single-input constructor.
func CheckSingle(spec Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	if spec.Pair() {
		return fmt.Errorf("%w: %s takes high/low input", ErrInvalidParameter, spec.Kind)
	}
	return nil
}

// CheckPair validates spec for a two-input constructor.
func CheckPair(spec Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	if !spec.Pair() {
		return fmt.Errorf("%w: %s takes a single input", ErrInvalidParameter, spec.Kind)
	}
	return nil
}

// CheckLengths returns ErrLengthMismatch unless high and low have equal length.
func CheckLengths(high, low []Value) error {
	if len(high) != len(low) {
		return fmt.Errorf("%w: high has %d values, low has %d", ErrLengthMismatch, len(high), len(low))
	}
	return nil
}
