// Package native is the optimized indicator backend. Batch transforms go
// through go-talib wherever its output matches this module's definitions;
// streaming states are advanced in place with running aggregates.
//
// Native states are not values: Next mutates and returns its receiver. Call
// Clone before advancing a state you still need.
package native

import (
	"tastream/internal/ta"
)

// Name is the backend's configuration name.
const Name = "native"

// Backend implements ta.Backend.
type Backend struct{}

func New() Backend { return Backend{} }

func (Backend) Name() string { return Name }

func (Backend) NewStream(spec ta.Spec) (ta.Stream, error) {
	if err := ta.CheckSingle(spec); err != nil {
		return nil, err
	}
	switch spec.Kind {
	case ta.EMA, ta.DEMA, ta.TEMA, ta.T3:
		return newChain(spec), nil
	case ta.KAMA:
		return newKAMA(spec), nil
	case ta.HTTrendline:
		return newTrendline(spec), nil
	}
	return newAggregate(spec), nil
}

func (Backend) NewPairStream(spec ta.Spec) (ta.PairStream, error) {
	if err := ta.CheckPair(spec); err != nil {
		return nil, err
	}
	if spec.Kind == ta.SAR {
		return newSAR(spec), nil
	}
	return newMidPrice(spec), nil
}

func (b Backend) Compute(spec ta.Spec, in []ta.Value) ([]ta.Value, error) {
	if err := ta.CheckSingle(spec); err != nil {
		return nil, err
	}
	if fn := talibSingle(spec); fn != nil {
		return computeSingle(spec, in, fn), nil
	}
	s, err := b.NewStream(spec)
	if err != nil {
		return nil, err
	}
	return ta.Fold(s, in), nil
}

func (b Backend) ComputePair(spec ta.Spec, high, low []ta.Value) ([]ta.Value, error) {
	if err := ta.CheckPair(spec); err != nil {
		return nil, err
	}
	if err := ta.CheckLengths(high, low); err != nil {
		return nil, err
	}
	if fn := talibPair(spec); fn != nil {
		return computePair(spec, high, low, fn), nil
	}
	s, err := b.NewPairStream(spec)
	if err != nil {
		return nil, err
	}
	return ta.FoldPair(s, high, low), nil
}
