package model

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBarJSON_NullPrices(t *testing.T) {
	b := Bar{
		Token:    "2885",
		Exchange: "NSE",
		TF:       60,
		TS:       time.Unix(1705314600, 0).UTC(),
		Open:     100,
		High:     math.NaN(),
		Low:      99,
		Close:    100.5,
		Volume:   10,
		Forming:  true,
	}

	data := b.JSON()
	assert.Contains(t, string(data), `"high":null`)

	var got Bar
	require.NoError(t, json.Unmarshal(data, &got))
	assert.True(t, math.IsNaN(got.High))
	assert.Equal(t, 100.5, got.Close)
	assert.True(t, got.Forming)
	assert.True(t, got.TS.Equal(b.TS))
}

func TestBarJSON_MissingPriceIsNaN(t *testing.T) {
	var got Bar
	require.NoError(t, json.Unmarshal([]byte(`{"token":"1","exchange":"NSE","tf":60,"close":5}`), &got))
	assert.True(t, math.IsNaN(got.Open))
	assert.Equal(t, 5.0, got.Close)
}

func TestKeys(t *testing.T) {
	b := Bar{Token: "2885", Exchange: "NSE", TF: 300}
	assert.Equal(t, "NSE:2885", b.Key())
	assert.Equal(t, "bar:300s:NSE:2885", b.StreamKey())

	r := IndicatorResult{Name: "SAR_0.02_0.2", Token: "2885", Exchange: "NSE", TF: 60}
	assert.Equal(t, "ind:SAR_0.02_0.2:60s:NSE:2885", r.StreamKey())
	assert.Equal(t, "ind:SAR_0.02_0.2:60s:latest:NSE:2885", r.LatestKey())
	assert.Equal(t, "pub:ind:SAR_0.02_0.2:60s:NSE:2885", r.PubSubChannel())
}

func TestSplitKey(t *testing.T) {
	ex, tok := SplitKey("NSE:2885")
	assert.Equal(t, "NSE", ex)
	assert.Equal(t, "2885", tok)

	ex, tok = SplitKey("2885")
	assert.Equal(t, "", ex)
	assert.Equal(t, "2885", tok)
}
