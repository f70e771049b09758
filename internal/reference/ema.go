package reference

import (
	"gonum.org/v1/gonum/floats"

	"tastream/internal/ta"
	"tastream/internal/window"
)

// emaStage is one exponential smoother. anchor is the committed value before
// the latest APPEND, so UPDATE always recomputes from committed state.
type emaStage struct {
	period  int
	k       float64
	current float64
	anchor  float64
	count   int
	seed    window.Window
}

func newEMAStage(period int) emaStage {
	seed, _ := window.New(period)
	return emaStage{period: period, k: 2 / float64(period+1), seed: seed}
}

func (s emaStage) step(v float64, isAppend bool) (ta.Value, emaStage) {
	if !isAppend && s.count == 0 {
		return ta.NotReady, s
	}
	if isAppend {
		s.count++
	}
	switch {
	case s.count < s.period:
		s.seed = s.seed.Step(v, isAppend)
		return ta.NotReady, s
	case s.count == s.period:
		s.seed = s.seed.Step(v, isAppend)
		s.current = floats.Sum(s.seed.Values()) / float64(s.period)
		return ta.Of(s.current), s
	}
	if isAppend {
		s.anchor = s.current
	}
	s.current = (v-s.anchor)*s.k + s.anchor
	return ta.Of(s.current), s
}

// ChainState is EMA, DEMA, TEMA or T3: K exponential smoothers where stage i
// only steps once stage i-1 produced a value.
type ChainState struct {
	spec   ta.Spec
	stages []emaStage
	count  int
	c      [4]float64 // T3 weights for stages 6, 5, 4, 3
}

// NewChain builds the chained smoother for an EMA-family spec.
func NewChain(spec ta.Spec) (ChainState, error) {
	if err := ta.CheckSingle(spec); err != nil {
		return ChainState{}, err
	}
	k := spec.Stages()
	stages := make([]emaStage, k)
	for i := range stages {
		stages[i] = newEMAStage(spec.Period)
	}
	s := ChainState{spec: spec, stages: stages}
	if spec.Kind == ta.T3 {
		s.c = t3Weights(spec.VFactor)
	}
	return s, nil
}

func t3Weights(a float64) [4]float64 {
	a2, a3 := a*a, a*a*a
	return [4]float64{
		-a3,
		3*a2 + 3*a3,
		-6*a2 - 3*a - 3*a3,
		1 + 3*a + a3 + 3*a2,
	}
}

func (s ChainState) Next(v ta.Value, isAppend bool) (ta.Value, ta.Stream) {
	out, next := s.step(v, isAppend)
	return out, next
}

func (s ChainState) step(v ta.Value, isAppend bool) (ta.Value, ChainState) {
	if !v.Valid || (!isAppend && s.count == 0) {
		return ta.NotReady, s
	}
	if isAppend {
		s.count++
	}
	stages := make([]emaStage, len(s.stages))
	copy(stages, s.stages)
	s.stages = stages

	e := make([]float64, len(stages))
	x := v.Float
	for i := range stages {
		var out ta.Value
		out, stages[i] = stages[i].step(x, isAppend)
		if !out.Valid {
			return ta.NotReady, s
		}
		x = out.Float
		e[i] = x
	}
	return ta.Of(s.combine(e)), s
}

func (s ChainState) combine(e []float64) float64 {
	switch s.spec.Kind {
	case ta.DEMA:
		return 2*e[0] - e[1]
	case ta.TEMA:
		return 3*e[0] - 3*e[1] + e[2]
	case ta.T3:
		return s.c[0]*e[5] + s.c[1]*e[4] + s.c[2]*e[3] + s.c[3]*e[2]
	}
	return e[0]
}

func (s ChainState) Count() int { return s.count }

func (s ChainState) Spec() ta.Spec { return s.spec }

// Clone returns s; the stage slice is never written in place.
func (s ChainState) Clone() ta.Stream { return s }
