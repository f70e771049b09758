package ta

// Fold drives s through in with APPEND and collects the outputs.
func Fold(s Stream, in []Value) []Value {
	out := make([]Value, len(in))
	for i, v := range in {
		out[i], s = s.Next(v, true)
	}
	return out
}

// FoldPair is Fold for two-input indicators. high and low must have equal length.
func FoldPair(s PairStream, high, low []Value) []Value {
	out := make([]Value, len(high))
	for i := range high {
		out[i], s = s.NextPair(high[i], low[i], true)
	}
	return out
}

// Compact returns the present values of in and their positions.
func Compact(in []Value) ([]float64, []int) {
	vals := make([]float64, 0, len(in))
	idx := make([]int, 0, len(in))
	for i, v := range in {
		if v.Valid {
			vals = append(vals, v.Float)
			idx = append(idx, i)
		}
	}
	return vals, idx
}

// CompactPair keeps the positions where both high and low are present.
func CompactPair(high, low []Value) ([]float64, []float64, []int) {
	hs := make([]float64, 0, len(high))
	ls := make([]float64, 0, len(low))
	idx := make([]int, 0, len(high))
	for i := range high {
		if high[i].Valid && low[i].Valid {
			hs = append(hs, high[i].Float)
			ls = append(ls, low[i].Float)
			idx = append(idx, i)
		}
	}
	return hs, ls, idx
}

// Scatter places compacted outputs back at their original positions. Outputs
// before lookback are not ready, as are all positions missing from idx.
func Scatter(n int, vals []float64, idx []int, lookback int) []Value {
	out := make([]Value, n)
	for j := lookback; j < len(vals) && j < len(idx); j++ {
		out[idx[j]] = Of(vals[j])
	}
	return out
}
