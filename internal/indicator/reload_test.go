package indicator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tastream/internal/model"
	"tastream/internal/native"
	"tastream/internal/ta"
)

func TestReload_PreservesUnchangedIndicators(t *testing.T) {
	engine := newEngine(t, []TFIndicatorConfig{
		{TF: 60, Indicators: []ta.Spec{spec(ta.SMA, 3), spec(ta.EMA, 3)}},
	})
	for i := 0; i < 10; i++ {
		engine.Process(makeBar("R", 60, i, float64(10+i)))
	}

	preserved, created, err := engine.ReloadConfigs([]TFIndicatorConfig{
		{TF: 60, Indicators: []ta.Spec{spec(ta.EMA, 3), spec(ta.MidPoint, 4)}},
		{TF: 300, Indicators: []ta.Spec{spec(ta.SMA, 2)}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, preserved)
	assert.Equal(t, 1, created)

	r := engine.Process(makeBar("R", 60, 10, 20))
	require.Len(t, r, 2)
	assert.Equal(t, "EMA_3", r[0].Name)
	assert.Equal(t, "MIDPOINT_4", r[1].Name)
	// MIDPOINT(4) over 17,18,19,20 was warmed from retained bars
	assert.True(t, r[1].Ready)
	assert.InDelta(t, 18.5, r[1].Value, 1e-9)

	assert.Equal(t, 0, engine.Tokens(300))
	assert.NotEmpty(t, engine.Process(model.Bar{Token: "R", Exchange: "NSE", TF: 300, TS: t0, Close: 1}))
}

func TestReload_IdenticalSetKeepsState(t *testing.T) {
	cfg := []TFIndicatorConfig{{TF: 60, Indicators: []ta.Spec{spec(ta.SMA, 2), spec(ta.EMA, 2)}}}
	engine := newEngine(t, cfg)
	engine.Process(makeBar("R", 60, 0, 1))

	reordered := []TFIndicatorConfig{{TF: 60, Indicators: []ta.Spec{spec(ta.EMA, 2), spec(ta.SMA, 2)}}}
	preserved, created, err := engine.ReloadConfigs(reordered)
	require.NoError(t, err)
	assert.Equal(t, 2, preserved)
	assert.Equal(t, 0, created)
}

func TestReload_InvalidConfigLeavesEngineUntouched(t *testing.T) {
	cfg := []TFIndicatorConfig{{TF: 60, Indicators: []ta.Spec{spec(ta.SMA, 2)}}}
	engine := newEngine(t, cfg)

	_, _, err := engine.ReloadConfigs([]TFIndicatorConfig{{TF: -1}})
	require.Error(t, err)
	assert.Equal(t, cfg, engine.Configs())
}

func TestIndicatorSetsEqual(t *testing.T) {
	a := []ta.Spec{spec(ta.SMA, 2), {Kind: ta.T3, Period: 5, VFactor: 0.7}}
	b := []ta.Spec{{Kind: ta.T3, Period: 5, VFactor: 0.7}, spec(ta.SMA, 2)}
	c := []ta.Spec{spec(ta.SMA, 2), {Kind: ta.T3, Period: 5, VFactor: 0.5}}
	assert.True(t, indicatorSetsEqual(a, b))
	assert.False(t, indicatorSetsEqual(a, c))
	assert.False(t, indicatorSetsEqual(a, a[:1]))
}

func TestValidateConfigs_UsesBackend(t *testing.T) {
	err := ValidateConfigs(native.New(), []TFIndicatorConfig{
		{TF: 60, Indicators: []ta.Spec{{Kind: ta.SAR, Acceleration: 0.5, Maximum: 0.2}}},
	})
	assert.ErrorIs(t, err, ta.ErrInvalidParameter)
}
