package native

import (
	"tastream/internal/ta"
	"tastream/internal/window"
)

// sma keeps a running sum over a ring. UPDATE adjusts the sum by the
// difference between the new and the replaced value.
type sma struct {
	ring *window.Ring
	sum  float64
}

func newSMA(period int) *sma {
	r, _ := window.NewRing(period)
	return &sma{ring: r}
}

func (s *sma) step(v float64, isAppend bool) (float64, bool) {
	if isAppend {
		old, evicted := s.ring.Push(v)
		if evicted {
			s.sum -= old
		}
		s.sum += v
	} else {
		s.sum += v - s.ring.ReplaceLast(v)
	}
	if !s.ring.Full() {
		return 0, false
	}
	return s.sum / float64(s.ring.Cap()), true
}

func (s *sma) clone() *sma {
	return &sma{ring: s.ring.Clone(), sum: s.sum}
}

// wma maintains the weighted sum incrementally: sliding the window drops one
// unit of weight from every value, which is the plain sum. Both sums are
// recomputed from the ring once per window length of slides so rounding error
// stays bounded on long streams.
type wma struct {
	ring     *window.Ring
	sum      float64
	weighted float64
	divisor  float64
	slides   int
}

func newWMA(period int) *wma {
	r, _ := window.NewRing(period)
	return &wma{ring: r, divisor: float64(period*(period+1)) / 2}
}

func (s *wma) step(v float64, isAppend bool) (float64, bool) {
	if isAppend {
		old, evicted := s.ring.Push(v)
		if evicted {
			s.weighted -= s.sum
			s.sum -= old
			s.slides++
		}
		s.sum += v
		s.weighted += float64(s.ring.Len()) * v
		if s.slides >= s.ring.Cap() {
			s.resync()
		}
	} else {
		d := v - s.ring.ReplaceLast(v)
		s.sum += d
		s.weighted += float64(s.ring.Len()) * d
	}
	if !s.ring.Full() {
		return 0, false
	}
	return s.weighted / s.divisor, true
}

func (s *wma) resync() {
	s.sum, s.weighted, s.slides = 0, 0, 0
	for i := 0; i < s.ring.Len(); i++ {
		x := s.ring.At(i)
		s.sum += x
		s.weighted += float64(i+1) * x
	}
}

// aggregate is SMA, WMA, MIDPOINT or TRIMA.
type aggregate struct {
	spec  ta.Spec
	count int
	first *sma
	inner *sma // second TRIMA stage
	wma   *wma
	mid   *window.Ring
}

func newAggregate(spec ta.Spec) *aggregate {
	s := &aggregate{spec: spec}
	switch spec.Kind {
	case ta.WMA:
		s.wma = newWMA(spec.Period)
	case ta.MidPoint:
		s.mid, _ = window.NewRing(spec.Period)
	case ta.TRIMA:
		if spec.Period < 3 {
			s.first = newSMA(spec.Period)
			break
		}
		p1 := spec.Period / 2
		p2 := p1 + 1
		if spec.Period%2 == 1 {
			p1 = (spec.Period + 1) / 2
			p2 = p1
		}
		s.first, s.inner = newSMA(p1), newSMA(p2)
	default:
		s.first = newSMA(spec.Period)
	}
	return s
}

func (s *aggregate) Next(v ta.Value, isAppend bool) (ta.Value, ta.Stream) {
	if !v.Valid || (!isAppend && s.count == 0) {
		return ta.NotReady, s
	}
	if isAppend {
		s.count++
	}
	var (
		out float64
		ok  bool
	)
	switch {
	case s.wma != nil:
		out, ok = s.wma.step(v.Float, isAppend)
	case s.mid != nil:
		if isAppend {
			s.mid.Push(v.Float)
		} else {
			s.mid.ReplaceLast(v.Float)
		}
		if ok = s.mid.Full(); ok {
			hi, lo := extremes(s.mid)
			out = (hi + lo) / 2
		}
	default:
		out, ok = s.first.step(v.Float, isAppend)
		if ok && s.inner != nil {
			out, ok = s.inner.step(out, isAppend)
		}
	}
	if !ok {
		return ta.NotReady, s
	}
	return ta.Of(out), s
}

func extremes(r *window.Ring) (hi, lo float64) {
	hi, lo = r.At(0), r.At(0)
	for i := 1; i < r.Len(); i++ {
		x := r.At(i)
		if x > hi {
			hi = x
		}
		if x < lo {
			lo = x
		}
	}
	return hi, lo
}

func (s *aggregate) Count() int { return s.count }

func (s *aggregate) Spec() ta.Spec { return s.spec }

func (s *aggregate) Clone() ta.Stream {
	c := *s
	if s.first != nil {
		c.first = s.first.clone()
	}
	if s.inner != nil {
		c.inner = s.inner.clone()
	}
	if s.wma != nil {
		w := *s.wma
		w.ring = s.wma.ring.Clone()
		c.wma = &w
	}
	if s.mid != nil {
		c.mid = s.mid.Clone()
	}
	return &c
}

// midPrice averages the highest high and the lowest low over the window.
type midPrice struct {
	spec  ta.Spec
	count int
	high  *window.Ring
	low   *window.Ring
}

func newMidPrice(spec ta.Spec) *midPrice {
	h, _ := window.NewRing(spec.Period)
	l, _ := window.NewRing(spec.Period)
	return &midPrice{spec: spec, high: h, low: l}
}

func (s *midPrice) NextPair(high, low ta.Value, isAppend bool) (ta.Value, ta.PairStream) {
	if !high.Valid || !low.Valid || (!isAppend && s.count == 0) {
		return ta.NotReady, s
	}
	if isAppend {
		s.count++
		s.high.Push(high.Float)
		s.low.Push(low.Float)
	} else {
		s.high.ReplaceLast(high.Float)
		s.low.ReplaceLast(low.Float)
	}
	if !s.high.Full() {
		return ta.NotReady, s
	}
	hi, _ := extremes(s.high)
	_, lo := extremes(s.low)
	return ta.Of((hi + lo) / 2), s
}

func (s *midPrice) Count() int { return s.count }

func (s *midPrice) Spec() ta.Spec { return s.spec }

func (s *midPrice) Clone() ta.PairStream {
	return &midPrice{spec: s.spec, count: s.count, high: s.high.Clone(), low: s.low.Clone()}
}
