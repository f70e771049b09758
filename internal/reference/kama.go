package reference

import (
	"math"

	"tastream/internal/ta"
	"tastream/internal/window"
)

const (
	kamaFast = 2.0 / 3.0
	kamaSlow = 2.0 / 31.0
)

// KAMAState is Kaufman's adaptive moving average over a window of period+1
// observations.
type KAMAState struct {
	spec   ta.Spec
	w      window.Window
	count  int
	prev   float64
	anchor float64
}

func NewKAMA(spec ta.Spec) (KAMAState, error) {
	if err := ta.CheckSingle(spec); err != nil {
		return KAMAState{}, err
	}
	w, _ := window.New(spec.Period + 1)
	return KAMAState{spec: spec, w: w}, nil
}

// smoothing returns the squared scaled efficiency ratio of the window. A flat
// window has ratio 0.
func smoothing(w window.Window) float64 {
	vals := w.Values()
	change := math.Abs(vals[len(vals)-1] - vals[0])
	var volatility float64
	for i := 1; i < len(vals); i++ {
		volatility += math.Abs(vals[i] - vals[i-1])
	}
	er := 0.0
	if volatility != 0 {
		er = change / volatility
	}
	sc := er*(kamaFast-kamaSlow) + kamaSlow
	return sc * sc
}

func (s KAMAState) Next(v ta.Value, isAppend bool) (ta.Value, ta.Stream) {
	if !v.Valid || (!isAppend && s.count == 0) {
		return ta.NotReady, s
	}
	if isAppend {
		s.count++
	}
	s.w = s.w.Step(v.Float, isAppend)
	if s.count <= s.spec.Period {
		return ta.NotReady, s
	}
	if isAppend {
		if s.count == s.spec.Period+1 {
			s.anchor = s.w.At(s.w.Len() - 2)
		} else {
			s.anchor = s.prev
		}
	}
	s.prev = s.anchor + smoothing(s.w)*(v.Float-s.anchor)
	return ta.Of(s.prev), s
}

func (s KAMAState) Count() int { return s.count }

func (s KAMAState) Spec() ta.Spec { return s.spec }

func (s KAMAState) Clone() ta.Stream { return s }
