package model

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// Bar is an OHLCV bar for one instrument on one timeframe. TF is the
// timeframe in seconds. A NaN price is a missing observation.
type Bar struct {
	Token    string    `json:"token"`
	Exchange string    `json:"exchange"`
	TF       int       `json:"tf"` // timeframe in seconds
	TS       time.Time `json:"ts"` // bucket start time (UTC, TF-aligned)
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
	Forming  bool      `json:"forming"` // true while the bucket is still open
}

// Key returns "exchange:token".
func (b *Bar) Key() string {
	return b.Exchange + ":" + b.Token
}

// StreamKey returns the Redis stream key: "bar:{TF}s:{exchange}:{token}".
func (b *Bar) StreamKey() string {
	return BarStreamKey(b.TF, b.Key())
}

// BarStreamKey builds the stream key for a TF and "exchange:token" key.
func BarStreamKey(tf int, tokenKey string) string {
	return "bar:" + strconv.Itoa(tf) + "s:" + tokenKey
}

// JSON returns the JSON-encoded bar.
func (b *Bar) JSON() []byte {
	buf, _ := json.Marshal(b)
	return buf
}

// barJSON is the wire form of Bar: missing prices travel as null.
type barJSON struct {
	Token    string    `json:"token"`
	Exchange string    `json:"exchange"`
	TF       int       `json:"tf"`
	TS       time.Time `json:"ts"`
	Open     *float64  `json:"open"`
	High     *float64  `json:"high"`
	Low      *float64  `json:"low"`
	Close    *float64  `json:"close"`
	Volume   float64   `json:"volume"`
	Forming  bool      `json:"forming"`
}

// MarshalJSON encodes NaN prices as null.
func (b Bar) MarshalJSON() ([]byte, error) {
	return json.Marshal(barJSON{
		Token:    b.Token,
		Exchange: b.Exchange,
		TF:       b.TF,
		TS:       b.TS,
		Open:     NullFloat(b.Open),
		High:     NullFloat(b.High),
		Low:      NullFloat(b.Low),
		Close:    NullFloat(b.Close),
		Volume:   b.Volume,
		Forming:  b.Forming,
	})
}

// UnmarshalJSON decodes null or missing prices as NaN.
func (b *Bar) UnmarshalJSON(data []byte) error {
	var w barJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*b = Bar{
		Token:    w.Token,
		Exchange: w.Exchange,
		TF:       w.TF,
		TS:       w.TS,
		Open:     FloatOrNaN(w.Open),
		High:     FloatOrNaN(w.High),
		Low:      FloatOrNaN(w.Low),
		Close:    FloatOrNaN(w.Close),
		Volume:   w.Volume,
		Forming:  w.Forming,
	}
	return nil
}

// NullFloat returns nil for NaN and a pointer to f otherwise.
func NullFloat(f float64) *float64 {
	if math.IsNaN(f) {
		return nil
	}
	return &f
}

// FloatOrNaN dereferences p, mapping nil to NaN.
func FloatOrNaN(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}

// SplitKey splits "exchange:token". A key without ':' is all token.
func SplitKey(key string) (exchange, token string) {
	for i := range key {
		if key[i] == ':' {
			return key[:i], key[i+1:]
		}
	}
	return "", key
}
