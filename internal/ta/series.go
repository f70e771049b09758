package ta

// FromFloats converts a float series, treating NaN as absent.
func FromFloats(fs []float64) []Value {
	out := make([]Value, len(fs))
	for i, f := range fs {
		out[i] = Of(f)
	}
	return out
}

// ToFloats converts to floats with NaN for absent values.
func ToFloats(vs []Value) []float64 {
	out := make([]float64, len(vs))
	for i, v := range vs {
		out[i] = v.OrNaN()
	}
	return out
}

// Reverse returns a reversed copy. Use it at the boundary with newest-first
// containers; every transform in this module expects oldest-first input.
func Reverse(vs []Value) []Value {
	out := make([]Value, len(vs))
	for i, v := range vs {
		out[len(vs)-1-i] = v
	}
	return out
}
