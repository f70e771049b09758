package native

import "tastream/internal/ta"

type sarState struct {
	n        int
	long     bool
	sar      float64
	ep       float64
	af       float64
	prevHigh float64
	prevLow  float64
	lastHigh float64
	lastLow  float64
}

// sar is the parabolic stop-and-reverse. saved holds the state before the
// latest APPEND and is the replay point for UPDATE.
type sar struct {
	spec  ta.Spec
	cur   sarState
	saved sarState
}

func newSAR(spec ta.Spec) *sar {
	return &sar{spec: spec}
}

func (s *sar) NextPair(high, low ta.Value, isAppend bool) (ta.Value, ta.PairStream) {
	if !high.Valid || !low.Valid || (!isAppend && s.cur.n == 0) {
		return ta.NotReady, s
	}
	if isAppend {
		s.saved = s.cur
	} else {
		s.cur = s.saved
	}
	return s.advance(high.Float, low.Float), s
}

func (s *sar) advance(h, l float64) ta.Value {
	st := &s.cur
	accel, maxAF := s.spec.Acceleration, s.spec.Maximum
	st.n++
	switch st.n {
	case 1:
		st.lastHigh, st.lastLow = h, l
		return ta.NotReady
	case 2:
		st.long = h-st.lastHigh > st.lastLow-l
		if st.long {
			st.sar, st.ep = st.lastLow, h
		} else {
			st.sar, st.ep = st.lastHigh, l
		}
		st.af = accel
		st.prevHigh, st.prevLow = h, l
		st.lastHigh, st.lastLow = h, l
		return ta.Of(st.sar)
	}

	out := st.sar + st.af*(st.ep-st.sar)
	if st.long {
		out = min(out, st.prevLow, st.lastLow)
		if l <= out {
			out = max(st.ep, st.lastHigh, h)
			st.long, st.ep, st.af = false, l, accel
		} else if h > st.ep {
			st.ep, st.af = h, min(st.af+accel, maxAF)
		}
	} else {
		out = max(out, st.prevHigh, st.lastHigh)
		if h >= out {
			out = min(st.ep, st.lastLow, l)
			st.long, st.ep, st.af = true, h, accel
		} else if l < st.ep {
			st.ep, st.af = l, min(st.af+accel, maxAF)
		}
	}
	st.sar = out
	st.prevHigh, st.prevLow = st.lastHigh, st.lastLow
	st.lastHigh, st.lastLow = h, l
	return ta.Of(out)
}

func (s *sar) Count() int { return s.cur.n }

func (s *sar) Spec() ta.Spec { return s.spec }

func (s *sar) Clone() ta.PairStream {
	c := *s
	return &c
}
