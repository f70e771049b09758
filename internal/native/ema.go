package native

import "tastream/internal/ta"

// emaStage seeds from a running sum instead of a buffer: UPDATE during the
// seed only needs the value it replaces.
type emaStage struct {
	period  int
	k       float64
	current float64
	anchor  float64
	count   int
	seedSum float64
	last    float64
}

func (s *emaStage) step(v float64, isAppend bool) (float64, bool) {
	if isAppend {
		s.count++
	}
	if s.count <= s.period {
		if isAppend {
			s.seedSum += v
		} else {
			s.seedSum += v - s.last
		}
		s.last = v
		if s.count < s.period {
			return 0, false
		}
		s.current = s.seedSum / float64(s.period)
		return s.current, true
	}
	if isAppend {
		s.anchor = s.current
	}
	s.current = s.anchor + s.k*(v-s.anchor)
	return s.current, true
}

// chain is EMA, DEMA, TEMA or T3, advanced in place.
type chain struct {
	spec   ta.Spec
	stages []emaStage
	out    []float64
	count  int
	c1     float64
	c2     float64
	c3     float64
	c4     float64
}

func newChain(spec ta.Spec) *chain {
	s := &chain{
		spec:   spec,
		stages: make([]emaStage, spec.Stages()),
		out:    make([]float64, spec.Stages()),
	}
	for i := range s.stages {
		s.stages[i] = emaStage{period: spec.Period, k: 2 / float64(spec.Period+1)}
	}
	if spec.Kind == ta.T3 {
		a := spec.VFactor
		s.c1 = -a * a * a
		s.c2 = 3 * (a*a - s.c1)
		s.c3 = -6*a*a - 3*(a-s.c1)
		s.c4 = 1 + 3*a - s.c1 + 3*a*a
	}
	return s
}

func (s *chain) Next(v ta.Value, isAppend bool) (ta.Value, ta.Stream) {
	if !v.Valid || (!isAppend && s.count == 0) {
		return ta.NotReady, s
	}
	if isAppend {
		s.count++
	}
	x := v.Float
	for i := range s.stages {
		var ok bool
		if x, ok = s.stages[i].step(x, isAppend); !ok {
			return ta.NotReady, s
		}
		s.out[i] = x
	}
	e := s.out
	switch s.spec.Kind {
	case ta.DEMA:
		return ta.Of(2*e[0] - e[1]), s
	case ta.TEMA:
		return ta.Of(3*e[0] - 3*e[1] + e[2]), s
	case ta.T3:
		return ta.Of(s.c1*e[5] + s.c2*e[4] + s.c3*e[3] + s.c4*e[2]), s
	}
	return ta.Of(e[0]), s
}

func (s *chain) Count() int { return s.count }

func (s *chain) Spec() ta.Spec { return s.spec }

func (s *chain) Clone() ta.Stream {
	c := *s
	c.stages = append([]emaStage(nil), s.stages...)
	c.out = make([]float64, len(s.out))
	return &c
}
