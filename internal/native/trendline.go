package native

import (
	"tastream/internal/ta"
	"tastream/internal/window"
)

// trendline is the smoothed exponential approximation of the Hilbert
// instantaneous trendline.
type trendline struct {
	spec   ta.Spec
	ring   *window.Ring
	count  int
	trend  float64
	anchor float64
}

func newTrendline(spec ta.Spec) *trendline {
	r, _ := window.NewRing(4)
	return &trendline{spec: spec, ring: r}
}

func (s *trendline) Next(v ta.Value, isAppend bool) (ta.Value, ta.Stream) {
	if !v.Valid || (!isAppend && s.count == 0) {
		return ta.NotReady, s
	}
	if isAppend {
		s.count++
		s.ring.Push(v.Float)
	} else {
		s.ring.ReplaceLast(v.Float)
	}
	if !s.ring.Full() {
		return ta.NotReady, s
	}
	r := s.ring
	smooth := (4*r.At(3) + 3*r.At(2) + 2*r.At(1) + r.At(0)) / 10
	if s.count == 4 {
		s.trend = smooth
	} else {
		if isAppend {
			s.anchor = s.trend
		}
		s.trend = s.anchor + 0.07*(smooth-s.anchor)
	}
	if s.count <= ta.HTLookback {
		return ta.NotReady, s
	}
	return ta.Of(s.trend), s
}

func (s *trendline) Count() int { return s.count }

func (s *trendline) Spec() ta.Spec { return s.spec }

func (s *trendline) Clone() ta.Stream {
	c := *s
	c.ring = s.ring.Clone()
	return &c
}
