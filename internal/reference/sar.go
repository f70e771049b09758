package reference

import (
	"math"

	"tastream/internal/ta"
)

type bar struct{ high, low float64 }

// sarCore is the committed parabolic SAR state after n bars.
type sarCore struct {
	n       int
	long    bool
	pos     float64
	ep      float64
	af      float64
	prevBar bar
	lastBar bar
}

// SARState is the parabolic stop-and-reverse. prior is the core before the
// latest APPEND; UPDATE replays from it, so only the newest bar can be revised.
type SARState struct {
	spec  ta.Spec
	core  sarCore
	prior sarCore
}

func NewSAR(spec ta.Spec) (SARState, error) {
	if err := ta.CheckPair(spec); err != nil {
		return SARState{}, err
	}
	return SARState{spec: spec}, nil
}

func (s SARState) NextPair(high, low ta.Value, isAppend bool) (ta.Value, ta.PairStream) {
	if !high.Valid || !low.Valid || (!isAppend && s.core.n == 0) {
		return ta.NotReady, s
	}
	b := bar{high: high.Float, low: low.Float}
	base := s.prior
	if isAppend {
		base = s.core
		s.prior = s.core
	}
	var out ta.Value
	out, s.core = base.advance(b, s.spec.Acceleration, s.spec.Maximum)
	return out, s
}

func (c sarCore) advance(b bar, accel, maxAF float64) (ta.Value, sarCore) {
	switch c.n {
	case 0:
		c.n = 1
		c.lastBar = b
		return ta.NotReady, c
	case 1:
		first := c.lastBar
		// Long only when the up move beats the down move; a tie is short.
		c.long = b.high-first.high > first.low-b.low
		if c.long {
			c.pos, c.ep = first.low, b.high
		} else {
			c.pos, c.ep = first.high, b.low
		}
		c.af = accel
		c.prevBar, c.lastBar = b, b
		c.n = 2
		return ta.Of(c.pos), c
	}
	c.n++
	return c.turn(b, accel, maxAF)
}

func (c sarCore) turn(b bar, accel, maxAF float64) (ta.Value, sarCore) {
	sar := c.pos + c.af*(c.ep-c.pos)
	if c.long {
		sar = math.Min(sar, math.Min(c.prevBar.low, c.lastBar.low))
	} else {
		sar = math.Max(sar, math.Max(c.prevBar.high, c.lastBar.high))
	}

	if c.long {
		if b.low <= sar {
			sar = math.Max(c.ep, math.Max(c.lastBar.high, b.high))
			c.long, c.ep, c.af = false, b.low, accel
		} else if b.high > c.ep {
			c.ep, c.af = b.high, math.Min(c.af+accel, maxAF)
		}
	} else {
		if b.high >= sar {
			sar = math.Min(c.ep, math.Min(c.lastBar.low, b.low))
			c.long, c.ep, c.af = true, b.high, accel
		} else if b.low < c.ep {
			c.ep, c.af = b.low, math.Min(c.af+accel, maxAF)
		}
	}
	c.pos = sar
	c.prevBar, c.lastBar = c.lastBar, b
	return ta.Of(sar), c
}

func (s SARState) Count() int { return s.core.n }

func (s SARState) Spec() ta.Spec { return s.spec }

func (s SARState) Clone() ta.PairStream { return s }
