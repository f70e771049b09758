package indicator

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tastream/internal/model"
	"tastream/internal/ta"
)

// SnapshotVersion is the current snapshot schema version. Version 1 stored
// per-indicator internals; version 2 stores retained bars and rebuilds state
// by replaying them, so it works for any backend.
const SnapshotVersion = 2

// SnapshotBar is a retained bar in a snapshot. Missing prices are null since
// JSON cannot carry NaN.
type SnapshotBar struct {
	TS     int64    `json:"ts"` // unix seconds
	Open   *float64 `json:"o"`
	High   *float64 `json:"h"`
	Low    *float64 `json:"l"`
	Close  *float64 `json:"c"`
	Volume float64  `json:"v,omitempty"`
}

// TokenSnapshot holds the retained bars for a single token within a TF.
type TokenSnapshot struct {
	Token      string        `json:"token"`
	Exchange   string        `json:"exchange"`
	TF         int           `json:"tf"`
	Bars       []SnapshotBar `json:"bars"`
	Open       bool          `json:"open"`       // last bar was still forming
	Indicators []string      `json:"indicators"` // keys active at snapshot time
}

// EngineSnapshot holds the full state of the indicator engine.
type EngineSnapshot struct {
	ID       string          `json:"id"`
	StreamID string          `json:"stream_id"` // Redis Stream ID at checkpoint time
	Backend  string          `json:"backend"`
	TakenAt  time.Time       `json:"taken_at"`
	Tokens   []TokenSnapshot `json:"tokens"`
	Version  int             `json:"version"` // schema version for forward compat
}

func toSnapshotBar(b model.Bar) SnapshotBar {
	return SnapshotBar{
		TS:     b.TS.Unix(),
		Open:   model.NullFloat(b.Open),
		High:   model.NullFloat(b.High),
		Low:    model.NullFloat(b.Low),
		Close:  model.NullFloat(b.Close),
		Volume: b.Volume,
	}
}

func (sb SnapshotBar) bar(ts TokenSnapshot) model.Bar {
	return model.Bar{
		Token:    ts.Token,
		Exchange: ts.Exchange,
		TF:       ts.TF,
		TS:       time.Unix(sb.TS, 0).UTC(),
		Open:     model.FloatOrNaN(sb.Open),
		High:     model.FloatOrNaN(sb.High),
		Low:      model.FloatOrNaN(sb.Low),
		Close:    model.FloatOrNaN(sb.Close),
		Volume:   sb.Volume,
	}
}

// SnapshotEngine captures the retained bars of an indicator Engine.
func SnapshotEngine(e *Engine, streamID string) *EngineSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := &EngineSnapshot{
		ID:       uuid.NewString(),
		StreamID: streamID,
		Backend:  e.backend.Name(),
		TakenAt:  time.Now().UTC(),
		Version:  SnapshotVersion,
	}

	for tfIdx, cfg := range e.configs {
		for tokenKey, ti := range e.state[tfIdx] {
			ts := TokenSnapshot{
				TF:         cfg.TF,
				Bars:       make([]SnapshotBar, len(ti.bars)),
				Open:       ti.open,
				Indicators: make([]string, len(ti.indicators)),
			}
			ts.Exchange, ts.Token = model.SplitKey(tokenKey)
			for i, b := range ti.bars {
				ts.Bars[i] = toSnapshotBar(b)
			}
			for i, ind := range ti.indicators {
				ts.Indicators[i] = ind.Name()
			}
			snap.Tokens = append(snap.Tokens, ts)
		}
	}

	return snap
}

// RestoreEngine rebuilds an indicator Engine on backend b from a snapshot.
// Each token's retained bars are replayed through freshly built indicators,
// so config changes since the snapshot are picked up naturally. Tokens of
// TFs that are no longer configured are skipped.
func RestoreEngine(b ta.Backend, configs []TFIndicatorConfig, snap *EngineSnapshot, opts ...Option) (*Engine, error) {
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	e, err := NewEngine(b, configs, opts...)
	if err != nil {
		return nil, err
	}

	restored, skipped := 0, 0
	for _, ts := range snap.Tokens {
		if _, ok := e.tfIndex[ts.TF]; !ok {
			skipped++
			continue // TF no longer configured
		}
		for i, sb := range ts.Bars {
			bar := sb.bar(ts)
			bar.Forming = ts.Open && i == len(ts.Bars)-1
			e.apply(bar)
		}
		restored++
	}

	if skipped > 0 {
		slog.Warn("snapshot tokens skipped", "component", "restorer", "skipped", skipped)
	}
	slog.Info("engine restored from snapshot", "component", "restorer",
		"id", snap.ID, "tokens", restored, "backend", b.Name(), "snapshot_backend", snap.Backend)
	return e, nil
}
