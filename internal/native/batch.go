package native

import (
	talib "github.com/markcheno/go-talib"

	"tastream/internal/ta"
)

// talibSingle maps single-input kinds to their TA-Lib transform. KAMA and the
// trendline are absent: TA-Lib treats a flat KAMA window as fully efficient
// and runs the full Hilbert pipeline, neither of which this module reports.
func talibSingle(spec ta.Spec) func([]float64) []float64 {
	p := spec.Period
	switch spec.Kind {
	case ta.SMA:
		return func(in []float64) []float64 { return talib.Sma(in, p) }
	case ta.EMA:
		return func(in []float64) []float64 { return talib.Ema(in, p) }
	case ta.WMA:
		return func(in []float64) []float64 { return talib.Wma(in, p) }
	case ta.DEMA:
		return func(in []float64) []float64 { return talib.Dema(in, p) }
	case ta.TEMA:
		return func(in []float64) []float64 { return talib.Tema(in, p) }
	case ta.T3:
		return func(in []float64) []float64 { return talib.T3(in, p, spec.VFactor) }
	case ta.TRIMA:
		return func(in []float64) []float64 { return talib.Trima(in, p) }
	case ta.MidPoint:
		return func(in []float64) []float64 { return talib.MidPoint(in, p) }
	}
	return nil
}

// talibPair maps pair kinds to their TA-Lib transform. SAR is absent: TA-Lib
// picks the initial direction from -DM and may reverse on the second bar.
func talibPair(spec ta.Spec) func(high, low []float64) []float64 {
	if spec.Kind == ta.MidPrice {
		return func(h, l []float64) []float64 { return talib.MidPrice(h, l, spec.Period) }
	}
	return nil
}

// computeSingle runs fn over the present values and scatters the result back.
// TA-Lib indexes past the end of inputs no longer than the lookback, so those
// are answered without calling it.
func computeSingle(spec ta.Spec, in []ta.Value, fn func([]float64) []float64) []ta.Value {
	vals, idx := ta.Compact(in)
	lookback := spec.Lookback()
	if len(vals) <= lookback {
		return make([]ta.Value, len(in))
	}
	return ta.Scatter(len(in), fn(vals), idx, lookback)
}

func computePair(spec ta.Spec, high, low []ta.Value, fn func(h, l []float64) []float64) []ta.Value {
	hs, ls, idx := ta.CompactPair(high, low)
	lookback := spec.Lookback()
	if len(hs) <= lookback {
		return make([]ta.Value, len(high))
	}
	return ta.Scatter(len(high), fn(hs, ls), idx, lookback)
}
