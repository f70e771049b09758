package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tastream/internal/indicator"
	"tastream/internal/native"
	"tastream/internal/ta"
)

func TestLoad_Defaults(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "native", c.Backend)
	assert.Equal(t, []int{60, 300, 900}, c.ParseTFs())
	assert.Equal(t, indicator.DefaultHistory, c.HistoryBars)
	assert.False(t, c.ParityShadow)

	configs, err := c.IndicatorSet()
	require.NoError(t, err)
	require.Len(t, configs, 3)
	assert.Len(t, configs[0].Indicators, 13)
	// The defaults must be buildable
	_, err = indicator.NewEngine(native.New(), configs)
	assert.NoError(t, err)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("TA_BACKEND", "reference")
	t.Setenv("ENABLED_TFS", "60, x, -5, 120")
	t.Setenv("INDICATOR_CONFIGS", "ema:10, SAR")
	t.Setenv("HISTORY_BARS", "64")
	t.Setenv("PARITY_SHADOW", "true")
	t.Setenv("SUBSCRIBE_TOKENS", "NSE:2885, bad, :x, NFO:43650")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "reference", c.Backend)
	assert.Equal(t, []int{60, 120}, c.ParseTFs())
	assert.Equal(t, 64, c.HistoryBars)
	assert.True(t, c.ParityShadow)
	assert.Equal(t, []string{"NSE:2885", "NFO:43650"}, c.ParseTokenKeys())

	configs, err := c.IndicatorSet()
	require.NoError(t, err)
	require.Len(t, configs, 2)
	assert.Equal(t, []ta.Spec{
		{Kind: ta.EMA, Period: 10},
		{Kind: ta.SAR, Acceleration: 0.02, Maximum: 0.2},
	}, configs[1].Indicators)
}

func TestLoad_InvalidNumbers(t *testing.T) {
	t.Setenv("HISTORY_BARS", "many")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("HISTORY_BARS", "")
	t.Setenv("PARITY_SHADOW", "maybe")
	_, err = Load()
	assert.Error(t, err)
}

func TestParseIndicatorSpecs_Errors(t *testing.T) {
	_, err := ParseIndicatorSpecs("SMA:20,RSI:14")
	assert.ErrorIs(t, err, ta.ErrInvalidParameter)

	_, err = ParseIndicatorSpecs(" , ")
	assert.Error(t, err)
}

func TestLoadIndicatorFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "indicators.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
timeframes:
  - tf: 60
    indicators:
      - {kind: ema, period: 10}
      - {kind: T3, period: 5, vfactor: 0.7}
  - tf: 300
    indicators:
      - {kind: SAR, acceleration: 0.02, maximum: 0.2}
      - {kind: HT_TRENDLINE}
`), 0o644))

	t.Setenv("INDICATOR_FILE", path)
	c, err := Load()
	require.NoError(t, err)

	configs, err := c.IndicatorSet()
	require.NoError(t, err)
	require.Len(t, configs, 2)
	assert.Equal(t, 60, configs[0].TF)
	assert.Equal(t, ta.Spec{Kind: ta.EMA, Period: 10}, configs[0].Indicators[0])
	assert.Equal(t, "T3_5_0.7", configs[0].Indicators[1].Key())
	assert.Equal(t, ta.HTTrendline, configs[1].Indicators[1].Kind)

	require.NoError(t, indicator.ValidateConfigs(native.New(), configs))
}

func TestLoadIndicatorFile_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadIndicatorFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("timeframes: []\n"), 0o644))
	_, err = LoadIndicatorFile(empty)
	assert.Error(t, err)

	unknown := filepath.Join(dir, "unknown.yaml")
	require.NoError(t, os.WriteFile(unknown, []byte("timeframes:\n  - tf: 60\n    indicators:\n      - {kind: RSI, period: 14}\n"), 0o644))
	_, err = LoadIndicatorFile(unknown)
	assert.ErrorIs(t, err, ta.ErrInvalidParameter)
}
