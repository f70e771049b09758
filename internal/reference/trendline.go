package reference

import (
	"tastream/internal/ta"
	"tastream/internal/window"
)

const trendAlpha = 0.07

// TrendlineState approximates the Hilbert-transform instantaneous trendline:
// a 4-bar weighted smooth followed by an exponential trend, reported after
// ta.HTLookback observations.
type TrendlineState struct {
	spec   ta.Spec
	w      window.Window
	count  int
	trend  float64
	anchor float64
}

func NewTrendline(spec ta.Spec) (TrendlineState, error) {
	if err := ta.CheckSingle(spec); err != nil {
		return TrendlineState{}, err
	}
	w, _ := window.New(4)
	return TrendlineState{spec: spec, w: w}, nil
}

func smooth4(w window.Window) float64 {
	return (4*w.At(3) + 3*w.At(2) + 2*w.At(1) + w.At(0)) / 10
}

func (s TrendlineState) Next(v ta.Value, isAppend bool) (ta.Value, ta.Stream) {
	if !v.Valid || (!isAppend && s.count == 0) {
		return ta.NotReady, s
	}
	if isAppend {
		s.count++
	}
	s.w = s.w.Step(v.Float, isAppend)
	if !s.w.Full() {
		return ta.NotReady, s
	}
	sm := smooth4(s.w)
	if s.count == 4 {
		s.trend = sm
	} else {
		if isAppend {
			s.anchor = s.trend
		}
		s.trend = s.anchor + trendAlpha*(sm-s.anchor)
	}
	if s.count <= ta.HTLookback {
		return ta.NotReady, s
	}
	return ta.Of(s.trend), s
}

func (s TrendlineState) Count() int { return s.count }

func (s TrendlineState) Spec() ta.Spec { return s.spec }

func (s TrendlineState) Clone() ta.Stream { return s }
