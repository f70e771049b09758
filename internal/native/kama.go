package native

import (
	"math"

	"tastream/internal/ta"
	"tastream/internal/window"
)

const (
	fastSC = 2.0 / 3.0
	slowSC = 2.0 / 31.0
)

// kama tracks the window's volatility (sum of absolute one-step changes) as a
// running total so each step is O(1).
type kama struct {
	spec   ta.Spec
	ring   *window.Ring
	noise  float64
	count  int
	prev   float64
	anchor float64
}

func newKAMA(spec ta.Spec) *kama {
	r, _ := window.NewRing(spec.Period + 1)
	return &kama{spec: spec, ring: r}
}

func (s *kama) Next(v ta.Value, isAppend bool) (ta.Value, ta.Stream) {
	if !v.Valid || (!isAppend && s.count == 0) {
		return ta.NotReady, s
	}
	x := v.Float
	if isAppend {
		s.count++
		if s.ring.Len() > 0 {
			s.noise += math.Abs(x - s.ring.Last())
		}
		if old, evicted := s.ring.Push(x); evicted {
			s.noise -= math.Abs(s.ring.First() - old)
		}
	} else if n := s.ring.Len(); n >= 2 {
		before := s.ring.At(n - 2)
		old := s.ring.ReplaceLast(x)
		s.noise += math.Abs(x-before) - math.Abs(old-before)
	} else {
		s.ring.ReplaceLast(x)
	}

	if s.count <= s.spec.Period {
		return ta.NotReady, s
	}
	if isAppend {
		if s.count == s.spec.Period+1 {
			s.anchor = s.ring.At(s.ring.Len() - 2)
		} else {
			s.anchor = s.prev
		}
	}

	change := math.Abs(x - s.ring.First())
	er := 0.0
	if s.noise > 0 {
		// the running total can drift a few ulps below the true change
		er = math.Min(change/s.noise, 1)
	}
	sc := er*(fastSC-slowSC) + slowSC
	s.prev = s.anchor + sc*sc*(x-s.anchor)
	return ta.Of(s.prev), s
}

func (s *kama) Count() int { return s.count }

func (s *kama) Spec() ta.Spec { return s.spec }

func (s *kama) Clone() ta.Stream {
	c := *s
	c.ring = s.ring.Clone()
	return &c
}
