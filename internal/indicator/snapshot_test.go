package indicator

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tastream/internal/native"
	"tastream/internal/reference"
	"tastream/internal/ta"
)

func snapConfigs() []TFIndicatorConfig {
	return []TFIndicatorConfig{
		{TF: 60, Indicators: []ta.Spec{
			spec(ta.SMA, 5), spec(ta.EMA, 5), spec(ta.KAMA, 4),
			{Kind: ta.SAR, Acceleration: 0.02, Maximum: 0.2},
		}},
		{TF: 300, Indicators: []ta.Spec{spec(ta.TEMA, 3)}},
	}
}

func feed(e *Engine, token string, tf, from, to int) {
	for i := from; i < to; i++ {
		e.Process(makeBar(token, tf, i, 100+5*math.Sin(float64(i)/3)+float64(i)/10))
	}
}

func TestSnapshot_Engine_RoundTrip(t *testing.T) {
	engine := newEngine(t, snapConfigs())
	feed(engine, "SBIN", 60, 0, 40)
	feed(engine, "INFY", 60, 0, 30)
	feed(engine, "SBIN", 300, 0, 15)

	snap := SnapshotEngine(engine, "1700000000000-0")
	require.Len(t, snap.Tokens, 3)
	assert.Equal(t, SnapshotVersion, snap.Version)
	assert.Equal(t, native.Name, snap.Backend)
	assert.NotEmpty(t, snap.ID)

	data, err := json.Marshal(snap)
	require.NoError(t, err)

	var decoded EngineSnapshot
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "1700000000000-0", decoded.StreamID)

	restored, err := RestoreEngine(native.New(), snapConfigs(), &decoded)
	require.NoError(t, err)
	assert.Equal(t, 2, restored.Tokens(60))
	assert.Equal(t, 1, restored.Tokens(300))

	// Both engines must produce identical results going forward
	for i := 40; i < 50; i++ {
		bar := makeBar("SBIN", 60, i, 100+float64(i%7))
		want := engine.Process(bar)
		got := restored.Process(bar)
		require.Len(t, got, len(want))
		for j := range want {
			assert.Equal(t, want[j].Ready, got[j].Ready, want[j].Name)
			assert.InDelta(t, want[j].Value, got[j].Value, 1e-9, want[j].Name)
		}
	}
}

func TestSnapshot_MissingPricesAndOpenBar(t *testing.T) {
	engine := newEngine(t, []TFIndicatorConfig{
		{TF: 60, Indicators: []ta.Spec{spec(ta.SMA, 2)}},
	})
	engine.Process(makeBar("G", 60, 0, 10))
	engine.Process(makeBar("G", 60, 1, math.NaN()))
	engine.ProcessLive(makeBar("G", 60, 2, 30))

	data, err := json.Marshal(SnapshotEngine(engine, ""))
	require.NoError(t, err, "NaN prices must not break encoding")

	var snap EngineSnapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	require.Len(t, snap.Tokens, 1)
	assert.True(t, snap.Tokens[0].Open)
	assert.Nil(t, snap.Tokens[0].Bars[1].Close)

	restored, err := RestoreEngine(native.New(), engine.Configs(), &snap)
	require.NoError(t, err)

	// The forming bar is still revisable after restore: SMA(2) of 10 and 40
	r := restored.Process(makeBar("G", 60, 2, 40))
	require.Len(t, r, 1)
	assert.True(t, r[0].Ready)
	assert.InDelta(t, 25.0, r[0].Value, 1e-9)
}

func TestSnapshot_AcrossBackends(t *testing.T) {
	engine := newEngine(t, snapConfigs())
	feed(engine, "X", 60, 0, 30)

	restored, err := RestoreEngine(reference.New(), snapConfigs(), SnapshotEngine(engine, ""))
	require.NoError(t, err)

	bar := makeBar("X", 60, 30, 104)
	want := engine.Process(bar)
	got := restored.Process(bar)
	for j := range want {
		assert.InDelta(t, want[j].Value, got[j].Value, 1e-6, want[j].Name)
	}
}

func TestSnapshot_ConfigChangeAndDroppedTF(t *testing.T) {
	engine := newEngine(t, snapConfigs())
	feed(engine, "X", 60, 0, 20)
	feed(engine, "X", 300, 0, 20)

	// TF=300 removed and a new indicator added on TF=60
	next := []TFIndicatorConfig{
		{TF: 60, Indicators: []ta.Spec{spec(ta.SMA, 5), spec(ta.WMA, 3)}},
	}
	restored, err := RestoreEngine(native.New(), next, SnapshotEngine(engine, ""))
	require.NoError(t, err)
	assert.Equal(t, 1, restored.Tokens(60))
	assert.Equal(t, 0, restored.Tokens(300))

	r := restored.Process(makeBar("X", 60, 20, 100))
	require.Len(t, r, 2)
	assert.True(t, r[0].Ready)
	assert.True(t, r[1].Ready, "new indicator warmed from retained bars")
}

func TestSnapshot_UnsupportedVersion(t *testing.T) {
	_, err := RestoreEngine(native.New(), snapConfigs(), &EngineSnapshot{Version: 1})
	assert.Error(t, err)
}

func TestRestorer_ColdStartAndFallback(t *testing.T) {
	r := NewRestorer(native.New(), snapConfigs())

	e, err := r.RestoreFromSnap(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, e.Tokens(60))

	e, err = r.RestoreFromSnap(&EngineSnapshot{Version: 99})
	require.NoError(t, err)
	assert.Equal(t, 0, e.Tokens(60))
}
