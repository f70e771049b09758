package model

import (
	"encoding/json"
	"strconv"
	"time"
)

// IndicatorResult holds a computed indicator value for a specific token + TF.
type IndicatorResult struct {
	Name     string    `json:"name"` // e.g. "SMA_20", "T3_5_0.7", "SAR_0.02_0.2"
	Token    string    `json:"token"`
	Exchange string    `json:"exchange"`
	TF       int       `json:"tf"` // timeframe in seconds
	Value    float64   `json:"value"`
	TS       time.Time `json:"ts"`    // bar timestamp that produced this value
	Ready    bool      `json:"ready"` // false during warm-up; Value is 0
	Live     bool      `json:"live"`  // true for values from a forming bar
}

// StreamKey returns the Redis stream key: "ind:{name}:{TF}s:{exchange}:{token}".
func (r *IndicatorResult) StreamKey() string {
	return "ind:" + r.Name + ":" + strconv.Itoa(r.TF) + "s:" + r.Exchange + ":" + r.Token
}

// LatestKey returns the key holding the latest confirmed value:
// "ind:{name}:{TF}s:latest:{exchange}:{token}".
func (r *IndicatorResult) LatestKey() string {
	return "ind:" + r.Name + ":" + strconv.Itoa(r.TF) + "s:latest:" + r.Exchange + ":" + r.Token
}

// PubSubChannel returns the channel for live subscribers:
// "pub:ind:{name}:{TF}s:{exchange}:{token}".
func (r *IndicatorResult) PubSubChannel() string {
	return "pub:ind:" + r.Name + ":" + strconv.Itoa(r.TF) + "s:" + r.Exchange + ":" + r.Token
}

// JSON returns the JSON-encoded indicator result.
func (r *IndicatorResult) JSON() []byte {
	b, _ := json.Marshal(r)
	return b
}
