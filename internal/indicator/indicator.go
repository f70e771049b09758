// Package indicator runs configured indicators over bar streams: one state per
// indicator, token and timeframe, advanced by APPEND for a new bar and UPDATE
// for a revision of the latest bar.
package indicator

import (
	"tastream/internal/model"
	"tastream/internal/ta"
)

// Indicator binds one spec to a backend state. Single-input indicators read
// the close; pair indicators read high and low.
type Indicator struct {
	spec   ta.Spec
	single ta.Stream
	pair   ta.PairStream
	last   ta.Value
	// committed is false when the latest APPEND carried an absent input and
	// left the state untouched; a revision of that bar is then a first APPEND.
	committed bool
}

// New creates a fresh indicator state on backend b.
func New(b ta.Backend, spec ta.Spec) (*Indicator, error) {
	ind := &Indicator{spec: spec}
	var err error
	if spec.Pair() {
		ind.pair, err = b.NewPairStream(spec)
	} else {
		ind.single, err = b.NewStream(spec)
	}
	if err != nil {
		return nil, err
	}
	return ind, nil
}

// Name returns the indicator key (e.g., "SMA_20", "SAR_0.02_0.2").
func (ind *Indicator) Name() string { return ind.spec.Key() }

// Spec returns the construction parameters.
func (ind *Indicator) Spec() ta.Spec { return ind.spec }

// Update commits bar as a new observation.
func (ind *Indicator) Update(bar model.Bar) ta.Value {
	return ind.step(bar, true)
}

// Revise replaces the most recently appended bar with bar. Only the latest
// bar can be revised. If that bar never reached the state, bar is appended.
func (ind *Indicator) Revise(bar model.Bar) ta.Value {
	return ind.step(bar, !ind.committed)
}

func (ind *Indicator) step(bar model.Bar, isAppend bool) ta.Value {
	before := ind.Count()
	if ind.pair != nil {
		ind.last, ind.pair = ind.pair.NextPair(ta.Of(bar.High), ta.Of(bar.Low), isAppend)
	} else {
		ind.last, ind.single = ind.single.Next(ta.Of(bar.Close), isAppend)
	}
	if isAppend {
		ind.committed = ind.Count() > before
	}
	return ind.last
}

// Value returns the latest output.
func (ind *Indicator) Value() ta.Value { return ind.last }

// Ready reports whether the latest output is a number.
func (ind *Indicator) Ready() bool { return ind.last.Valid }

// Count is the number of committed bars with a present input.
func (ind *Indicator) Count() int {
	if ind.pair != nil {
		return ind.pair.Count()
	}
	return ind.single.Count()
}
