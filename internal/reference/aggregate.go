package reference

import (
	"gonum.org/v1/gonum/floats"

	"tastream/internal/ta"
	"tastream/internal/window"
)

type aggregate func(w window.Window) float64

func mean(w window.Window) float64 {
	return floats.Sum(w.Values()) / float64(w.Len())
}

func midpoint(w window.Window) float64 {
	return (floats.Max(w.Values()) + floats.Min(w.Values())) / 2
}

func weighted(weights []float64) aggregate {
	total := floats.Sum(weights)
	return func(w window.Window) float64 {
		return floats.Dot(weights, w.Values()) / total
	}
}

// windowStage emits agg over the last period values once the window is full.
type windowStage struct {
	w     window.Window
	agg   aggregate
	count int
}

func newWindowStage(period int, agg aggregate) windowStage {
	w, _ := window.New(period)
	return windowStage{w: w, agg: agg}
}

func (s windowStage) step(v float64, isAppend bool) (ta.Value, windowStage) {
	if !isAppend && s.count == 0 {
		return ta.NotReady, s
	}
	if isAppend {
		s.count++
	}
	s.w = s.w.Step(v, isAppend)
	if !s.w.Full() {
		return ta.NotReady, s
	}
	return ta.Of(s.agg(s.w)), s
}

// AggregateState is SMA, WMA, MIDPOINT or TRIMA. TRIMA is two chained SMA
// stages; the others have one stage.
type AggregateState struct {
	spec   ta.Spec
	stages []windowStage
	count  int
}

// NewAggregate builds a windowed aggregate for a single-input spec.
func NewAggregate(spec ta.Spec) (AggregateState, error) {
	if err := ta.CheckSingle(spec); err != nil {
		return AggregateState{}, err
	}
	p := spec.Period
	var stages []windowStage
	switch spec.Kind {
	case ta.WMA:
		weights := make([]float64, p)
		for i := range weights {
			weights[i] = float64(i + 1)
		}
		stages = []windowStage{newWindowStage(p, weighted(weights))}
	case ta.MidPoint:
		stages = []windowStage{newWindowStage(p, midpoint)}
	case ta.TRIMA:
		p1, p2 := trimaPeriods(p)
		if p1 == 0 {
			stages = []windowStage{newWindowStage(p, mean)}
			break
		}
		stages = []windowStage{newWindowStage(p1, mean), newWindowStage(p2, mean)}
	default:
		stages = []windowStage{newWindowStage(p, mean)}
	}
	return AggregateState{spec: spec, stages: stages}, nil
}

// trimaPeriods splits a triangular average into its two SMA periods. Periods
// below 3 return zeros: the average is a plain SMA.
func trimaPeriods(period int) (int, int) {
	if period < 3 {
		return 0, 0
	}
	if period%2 == 1 {
		p := (period + 1) / 2
		return p, p
	}
	return period / 2, period/2 + 1
}

func (s AggregateState) Next(v ta.Value, isAppend bool) (ta.Value, ta.Stream) {
	if !v.Valid || (!isAppend && s.count == 0) {
		return ta.NotReady, s
	}
	if isAppend {
		s.count++
	}
	stages := make([]windowStage, len(s.stages))
	copy(stages, s.stages)
	s.stages = stages

	out := v
	for i := range stages {
		out, stages[i] = stages[i].step(out.Float, isAppend)
		if !out.Valid {
			return ta.NotReady, s
		}
	}
	return out, s
}

func (s AggregateState) Count() int { return s.count }

func (s AggregateState) Spec() ta.Spec { return s.spec }

func (s AggregateState) Clone() ta.Stream { return s }

// MidPriceState averages the highest high and the lowest low of the window.
type MidPriceState struct {
	spec  ta.Spec
	high  window.Window
	low   window.Window
	count int
}

func NewMidPrice(spec ta.Spec) (MidPriceState, error) {
	if err := ta.CheckPair(spec); err != nil {
		return MidPriceState{}, err
	}
	h, _ := window.New(spec.Period)
	l, _ := window.New(spec.Period)
	return MidPriceState{spec: spec, high: h, low: l}, nil
}

func (s MidPriceState) NextPair(high, low ta.Value, isAppend bool) (ta.Value, ta.PairStream) {
	if !high.Valid || !low.Valid || (!isAppend && s.count == 0) {
		return ta.NotReady, s
	}
	if isAppend {
		s.count++
	}
	s.high = s.high.Step(high.Float, isAppend)
	s.low = s.low.Step(low.Float, isAppend)
	if !s.high.Full() {
		return ta.NotReady, s
	}
	return ta.Of((floats.Max(s.high.Values()) + floats.Min(s.low.Values())) / 2), s
}

func (s MidPriceState) Count() int { return s.count }

func (s MidPriceState) Spec() ta.Spec { return s.spec }

func (s MidPriceState) Clone() ta.PairStream { return s }
