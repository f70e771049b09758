package indicator

import (
	"log/slog"

	"tastream/internal/model"
	"tastream/internal/ta"
)

// Restorer orchestrates indicator engine state restoration on startup.
// It follows a priority chain: Redis snapshot → SQLite snapshot → cold start.
type Restorer struct {
	backend ta.Backend
	configs []TFIndicatorConfig
	opts    []Option
}

// NewRestorer creates a new Restorer for the given backend and indicator configs.
func NewRestorer(b ta.Backend, configs []TFIndicatorConfig, opts ...Option) *Restorer {
	return &Restorer{backend: b, configs: configs, opts: opts}
}

// RestoreFromSnap attempts to restore an engine from a snapshot.
// If snap is nil or cannot be applied, returns a fresh engine (cold start).
func (r *Restorer) RestoreFromSnap(snap *EngineSnapshot) (*Engine, error) {
	if snap == nil {
		slog.Info("no snapshot found, cold starting indicator engine", "component", "restorer")
		return NewEngine(r.backend, r.configs, r.opts...)
	}

	slog.Info("restoring from snapshot", "component", "restorer",
		"version", snap.Version, "stream_id", snap.StreamID, "tokens", len(snap.Tokens))

	engine, err := RestoreEngine(r.backend, r.configs, snap, r.opts...)
	if err != nil {
		slog.Warn("snapshot restore failed, falling back to cold start", "component", "restorer", "error", err)
		return NewEngine(r.backend, r.configs, r.opts...)
	}
	return engine, nil
}

// ReplayBars feeds closed bars into the engine to catch up from the snapshot
// to current state. Forming bars are skipped. Returns the number replayed.
func (r *Restorer) ReplayBars(engine *Engine, bars []model.Bar) int {
	count := 0
	for _, bar := range bars {
		if bar.Forming {
			continue
		}
		engine.Process(bar)
		count++
	}
	slog.Info("replayed bars to catch up", "component", "restorer", "count", count)
	return count
}

// maxLookback returns the largest lookback across all configured indicators.
func (r *Restorer) maxLookback() int {
	n := 0
	for _, cfg := range r.configs {
		for _, spec := range cfg.Indicators {
			if lb := spec.Lookback(); lb > n {
				n = lb
			}
		}
	}
	return n
}

// BackfillFromSQLite reads historical bars from SQLite and feeds them into the
// engine to warm up cold indicators. Call after engine creation/restore and
// before starting the live stream consumer.
//
// Per TF it feeds the last window bars, where window is the history the engine
// retains. Bars the engine already holds are stale and ignored by Process.
// If onResults is non-nil, it is called with the results of each bar so the
// caller can write them out for history population.
func (r *Restorer) BackfillFromSQLite(engine *Engine, reader model.BarReader, onResults func([]model.IndicatorResult)) int {
	if reader == nil || len(r.configs) == 0 {
		return 0
	}

	window := engine.History()
	if lb := r.maxLookback() + 1; lb > window {
		window = lb
	}

	total := 0
	for _, cfg := range r.configs {
		bars, err := reader.ReadBars(cfg.TF, 0)
		if err != nil {
			slog.Warn("failed to read bars from SQLite", "component", "restorer", "tf", cfg.TF, "error", err)
			continue
		}

		byToken := make(map[string][]model.Bar)
		for _, bar := range bars {
			byToken[bar.Key()] = append(byToken[bar.Key()], bar)
		}

		fed := 0
		for _, tokenBars := range byToken {
			if len(tokenBars) > window {
				tokenBars = tokenBars[len(tokenBars)-window:]
			}
			for _, bar := range tokenBars {
				results := engine.Process(bar)
				if onResults != nil && len(results) > 0 {
					onResults(results)
				}
				fed++
			}
		}
		total += fed
		if fed > 0 {
			slog.Info("backfilled bars from SQLite", "component", "restorer", "tf", cfg.TF, "count", fed)
		}
	}
	return total
}
