// Package reference is the straightforward indicator backend: every state is
// an immutable value, every batch transform is a fold of the streaming step.
// It is the oracle the native backend is checked against.
package reference

import (
	"tastream/internal/ta"
)

// Name is the backend's configuration name.
const Name = "reference"

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
		return NewChain(spec)
	case ta.KAMA:
		return NewKAMA(spec)
	case ta.HTTrendline:
		return NewTrendline(spec)
	}
	return NewAggregate(spec)
}

func (Backend) NewPairStream(spec ta.Spec) (ta.PairStream, error) {
	if err := ta.CheckPair(spec); err != nil {
		return nil, err
	}
	if spec.Kind == ta.SAR {
		return NewSAR(spec)
	}
	return NewMidPrice(spec)
}

func (b Backend) Compute(spec ta.Spec, in []ta.Value) ([]ta.Value, error) {
	s, err := b.NewStream(spec)
	if err != nil {
		return nil, err
	}
	return ta.Fold(s, in), nil
}

func (b Backend) ComputePair(spec ta.Spec, high, low []ta.Value) ([]ta.Value, error) {
	s, err := b.NewPairStream(spec)
	if err != nil {
		return nil, err
	}
	if err := ta.CheckLengths(high, low); err != nil {
		return nil, err
	}
	return ta.FoldPair(s, high, low), nil
}
