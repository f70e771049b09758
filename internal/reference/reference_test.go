package reference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tastream/internal/ta"
)

func vals(fs ...float64) []ta.Value { return ta.FromFloats(fs) }

func compute(t *testing.T, spec ta.Spec, in []ta.Value) []ta.Value {
	t.Helper()
	out, err := New().Compute(spec, in)
	require.NoError(t, err)
	return out
}

func assertSeries(t *testing.T, want []any, got []ta.Value) {
	t.Helper()
	require.Len(t, got, len(want))
	for i, w := range want {
		if w == nil {
			assert.False(t, got[i].Valid, "index %d: want na, got %s", i, got[i])
			continue
		}
		if assert.True(t, got[i].Valid, "index %d: want %v, got na", i, w) {
			assert.InDelta(t, w.(float64), got[i].Float, 1e-4, "index %d", i)
		}
	}
}

// ─── Scenarios ───

func TestSMA_Scenario(t *testing.T) {
	out := compute(t, ta.Spec{Kind: ta.SMA, Period: 3}, vals(1, 2, 3, 4, 5))
	assertSeries(t, []any{nil, nil, 2.0, 3.0, 4.0}, out)
}

func TestDEMA_Scenario(t *testing.T) {
	out := compute(t, ta.Spec{Kind: ta.DEMA, Period: 2}, vals(1, 2, 3, 4, 5))
	assertSeries(t, []any{nil, nil, 3.0, 4.0, 5.0}, out)
}

func TestKAMA_Scenario(t *testing.T) {
	out := compute(t, ta.Spec{Kind: ta.KAMA, Period: 5}, vals(1, 2, 3, 4, 5, 6, 7, 8, 9, 10))
	for i := 0; i < 5; i++ {
		assert.False(t, out[i].Valid, "index %d", i)
	}
	assert.InDelta(t, 5.4444, out[5].Float, 1e-4)
	assert.InDelta(t, 8.8162, out[9].Float, 1e-4)
}

func TestSAR_Scenario(t *testing.T) {
	spec := ta.Spec{Kind: ta.SAR, Acceleration: 0.02, Maximum: 0.2}
	out, err := New().ComputePair(spec, vals(10, 11, 12, 13, 14), vals(8, 9, 10, 11, 12))
	require.NoError(t, err)
	assertSeries(t, []any{nil, 8.0, 8.06, 8.2176, 8.504544}, out)
}

func TestSAR_Reversal(t *testing.T) {
	spec := ta.Spec{Kind: ta.SAR, Acceleration: 0.02, Maximum: 0.2}
	// rally then a bar that breaks below the stop
	out, err := New().ComputePair(spec, vals(10, 11, 12, 9), vals(8, 9, 10, 7))
	require.NoError(t, err)
	// stop flips to the extreme high of the uptrend
	assertSeries(t, []any{nil, 8.0, 8.06, 12.0}, out)
}

func TestSAR_InitialShort(t *testing.T) {
	spec := ta.Spec{Kind: ta.SAR, Acceleration: 0.02, Maximum: 0.2}
	out, err := New().ComputePair(spec, vals(14, 13, 12), vals(12, 11, 10))
	require.NoError(t, err)
	// short: position starts at the first high, extreme at the second low
	assertSeries(t, []any{nil, 14.0, 13.94}, out)
}

func TestSAR_InitialDirection(t *testing.T) {
	spec := ta.Spec{Kind: ta.SAR, Acceleration: 0.02, Maximum: 0.2}
	cases := []struct {
		name      string
		high, low []ta.Value
		want      []any
	}{
		// up move 2 ties down move 2: short from the first high
		{"tie", vals(10, 12, 12.5), vals(8, 6, 6.5), []any{nil, 10.0, 6.0}},
		// inside bar: up move -2 loses to down move -1
		{"inside bar", vals(10, 8, 9), vals(6, 7, 7.5), []any{nil, 10.0, 9.94}},
		// the second bar pierces the initial stop without reversing it
		{"second bar breach", vals(10, 12), vals(8, 7), []any{nil, 8.0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := New().ComputePair(spec, tc.high, tc.low)
			require.NoError(t, err)
			assertSeries(t, tc.want, out)
		})
	}
}

func TestMidPointAndWMA(t *testing.T) {
	in := vals(5, 1, 4, 2, 8)
	assertSeries(t, []any{nil, nil, 3.0, 2.5, 5.0}, compute(t, ta.Spec{Kind: ta.MidPoint, Period: 3}, in))
	// (1*5 + 2*1 + 3*4) / 6
	assertSeries(t, []any{nil, nil, 19.0 / 6, 15.0 / 6, 32.0 / 6}, compute(t, ta.Spec{Kind: ta.WMA, Period: 3}, in))
}

func TestTRIMA(t *testing.T) {
	in := vals(1, 2, 3, 4, 5, 6, 7)
	// odd: SMA(2) of SMA(2)
	assertSeries(t, []any{nil, nil, 2.0, 3.0, 4.0, 5.0, 6.0}, compute(t, ta.Spec{Kind: ta.TRIMA, Period: 3}, in))
	// even: SMA(2) of SMA(3)
	assertSeries(t, []any{nil, nil, nil, 2.5, 3.5, 4.5, 5.5}, compute(t, ta.Spec{Kind: ta.TRIMA, Period: 4}, in))
	// below 3: plain SMA
	assertSeries(t, []any{nil, 1.5, 2.5, 3.5, 4.5, 5.5, 6.5}, compute(t, ta.Spec{Kind: ta.TRIMA, Period: 2}, in))
}

func TestMidPrice(t *testing.T) {
	spec := ta.Spec{Kind: ta.MidPrice, Period: 2}
	out, err := New().ComputePair(spec, vals(10, 12, 11), vals(8, 9, 7))
	require.NoError(t, err)
	assertSeries(t, []any{nil, 10.0, 9.5}, out)

	_, err = New().ComputePair(spec, vals(1, 2), vals(1))
	assert.ErrorIs(t, err, ta.ErrLengthMismatch)
}

func TestT3_ZeroVFactorIsTripleEMA(t *testing.T) {
	in := vals(3, 1, 4, 1, 5, 9, 2, 6, 5, 3, 5, 8, 9, 7, 9)
	t3 := compute(t, ta.Spec{Kind: ta.T3, Period: 2, VFactor: 0}, in)

	// with a=0 the T3 weights reduce to the third chained EMA
	e := in
	for i := 0; i < 3; i++ {
		e = compute(t, ta.Spec{Kind: ta.EMA, Period: 2}, e)
	}
	for i := (ta.Spec{Kind: ta.T3, Period: 2}).Lookback(); i < len(in); i++ {
		assert.InDelta(t, e[i].Float, t3[i].Float, 1e-9, "index %d", i)
	}
}

// ─── Warm-up ───

func TestLookbackPrefix(t *testing.T) {
	in := make([]ta.Value, 120)
	for i := range in {
		in[i] = ta.Of(100 + float64(i%7) - float64(i%3))
	}
	for _, k := range ta.Kinds {
		spec := ta.Spec{Kind: k, Period: 4, VFactor: 0.7, Acceleration: 0.02, Maximum: 0.2}
		var out []ta.Value
		var err error
		if spec.Pair() {
			out, err = New().ComputePair(spec, in, in)
		} else {
			out, err = New().Compute(spec, in)
		}
		require.NoError(t, err)
		for i, v := range out {
			assert.Equal(t, i >= spec.Lookback(), v.Valid, "%s index %d", spec.Key(), i)
		}
	}
}

func TestAbsentInputsShiftWarmup(t *testing.T) {
	in := []ta.Value{ta.NotReady, ta.NotReady, ta.Of(1), ta.Of(2), ta.NotReady, ta.Of(3), ta.Of(4)}
	out := compute(t, ta.Spec{Kind: ta.SMA, Period: 3}, in)
	assertSeries(t, []any{nil, nil, nil, nil, nil, 2.0, 3.0}, out)
}

// ─── UPDATE ───

func TestEMA_Update(t *testing.T) {
	s, err := New().NewStream(ta.Spec{Kind: ta.EMA, Period: 3})
	require.NoError(t, err)
	for _, v := range []float64{1, 2, 3, 4} {
		_, s = s.Next(ta.Of(v), true)
	}
	committed := s

	out, s := s.Next(ta.Of(10), false)
	assert.InDelta(t, 6.0, out.Float, 1e-9) // seed 2, k 0.5
	assert.Equal(t, 4, s.Count())

	// UPDATE recomputes from the committed value, not the previous UPDATE
	out, s = s.Next(ta.Of(4), false)
	assert.InDelta(t, 3.0, out.Float, 1e-9)
	out, s = s.Next(ta.Of(10), false)
	assert.InDelta(t, 6.0, out.Float, 1e-9)
	assert.Equal(t, 4, s.Count())

	// the next APPEND continues from the revised bar
	out, _ = s.Next(ta.Of(5), true)
	assert.InDelta(t, 5.5, out.Float, 1e-9)

	// states are values: the committed state is untouched
	out, _ = committed.Next(ta.Of(5), true)
	assert.InDelta(t, 4.0, out.Float, 1e-9)
}

func TestEMA_UpdateDuringSeed(t *testing.T) {
	s, _ := New().NewStream(ta.Spec{Kind: ta.EMA, Period: 3})
	_, s = s.Next(ta.Of(1), true)
	_, s = s.Next(ta.Of(2), true)
	out, s := s.Next(ta.Of(3), true)
	assert.InDelta(t, 2.0, out.Float, 1e-9)

	out, s = s.Next(ta.Of(6), false)
	assert.InDelta(t, 3.0, out.Float, 1e-9)
	assert.Equal(t, 3, s.Count())
}

func TestUpdateBeforeAppend(t *testing.T) {
	b := New()
	for _, k := range ta.Kinds {
		spec := ta.Spec{Kind: k, Period: 3, VFactor: 0.7, Acceleration: 0.02, Maximum: 0.2}
		if spec.Pair() {
			s, err := b.NewPairStream(spec)
			require.NoError(t, err)
			out, s := s.NextPair(ta.Of(2), ta.Of(1), false)
			assert.False(t, out.Valid)
			assert.Equal(t, 0, s.Count())
			continue
		}
		s, err := b.NewStream(spec)
		require.NoError(t, err)
		out, s := s.Next(ta.Of(1), false)
		assert.False(t, out.Valid)
		assert.Equal(t, 0, s.Count())
	}
}

func TestSAR_UpdateRevisesLatestBarOnly(t *testing.T) {
	spec := ta.Spec{Kind: ta.SAR, Acceleration: 0.02, Maximum: 0.2}
	s, err := New().NewPairStream(spec)
	require.NoError(t, err)
	high, low := vals(10, 11, 12, 13), vals(8, 9, 10, 11)
	for i := range high {
		_, s = s.NextPair(high[i], low[i], true)
	}

	// replacing the last bar with a breakdown reverses the trend
	out, s := s.NextPair(ta.Of(11), ta.Of(7), false)
	want, _ := New().ComputePair(spec, vals(10, 11, 12, 11), vals(8, 9, 10, 7))
	assert.InDelta(t, want[3].Float, out.Float, 1e-9)
	assert.Equal(t, 4, s.Count())

	// restoring the original bar restores the original output
	out, _ = s.NextPair(ta.Of(13), ta.Of(11), false)
	assert.InDelta(t, 8.2176, out.Float, 1e-9)
}

// ─── Construction ───

func TestConstructionValidation(t *testing.T) {
	b := New()
	for _, k := range ta.Kinds {
		if k == ta.SAR || k == ta.HTTrendline {
			continue
		}
		spec := ta.Spec{Kind: k, Period: 1, VFactor: 0.7}
		var err error
		if spec.Pair() {
			_, err = b.NewPairStream(spec)
		} else {
			_, err = b.NewStream(spec)
		}
		assert.ErrorIs(t, err, ta.ErrInvalidParameter, k)
	}
	for _, spec := range []ta.Spec{
		{Kind: ta.SAR, Acceleration: 0, Maximum: 0.2},
		{Kind: ta.SAR, Acceleration: 0.02, Maximum: 0},
		{Kind: ta.SAR, Acceleration: 0.3, Maximum: 0.2},
	} {
		_, err := b.NewPairStream(spec)
		assert.ErrorIs(t, err, ta.ErrInvalidParameter, spec.Key())
	}
	_, err := b.NewStream(ta.Spec{Kind: ta.T3, Period: 5, VFactor: 1.2})
	assert.ErrorIs(t, err, ta.ErrInvalidParameter)
	_, err = b.Compute(ta.Spec{Kind: "ALMA", Period: 5}, nil)
	assert.ErrorIs(t, err, ta.ErrInvalidParameter)
}
