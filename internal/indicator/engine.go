package indicator

import (
	"context"
	"log/slog"
	"sync"

	"tastream/internal/model"
	"tastream/internal/ta"
)

// DefaultHistory is the number of committed bars retained per token when no
// WithHistory option is given.
const DefaultHistory = 512

// TFIndicatorConfig groups indicator specs for a specific timeframe.
type TFIndicatorConfig struct {
	TF         int       `json:"tf" yaml:"tf"` // timeframe in seconds
	Indicators []ta.Spec `json:"indicators" yaml:"indicators"`
}

// tokenIndicators holds live indicator instances for one token within a TF,
// plus the retained bars used for snapshots and warming new indicators.
type tokenIndicators struct {
	indicators []*Indicator
	bars       []model.Bar // oldest first; the last one may still be forming
	open       bool        // last bar is forming and may be revised
}

// Engine computes multiple indicators across multiple TFs for multiple tokens.
// All methods are safe for concurrent use.
type Engine struct {
	mu      sync.Mutex
	backend ta.Backend
	history int
	configs []TFIndicatorConfig
	tfIndex map[int]int

	// state[tfIdx][tokenKey] → *tokenIndicators
	state []map[string]*tokenIndicators
}

// Option configures an Engine.
type Option func(*Engine)

// WithHistory sets how many committed bars are retained per token. The engine
// always keeps at least one more than the largest configured lookback.
func WithHistory(n int) Option {
	return func(e *Engine) { e.history = n }
}

// NewEngine creates an indicator engine with the given per-TF indicator configs
// on backend b.
func NewEngine(b ta.Backend, configs []TFIndicatorConfig, opts ...Option) (*Engine, error) {
	if err := ValidateConfigs(b, configs); err != nil {
		return nil, err
	}
	e := &Engine{backend: b, history: DefaultHistory}
	for _, opt := range opts {
		opt(e)
	}
	e.setConfigs(configs, make([]map[string]*tokenIndicators, len(configs)))
	for i := range e.state {
		e.state[i] = make(map[string]*tokenIndicators, 64)
	}
	return e, nil
}

func (e *Engine) setConfigs(configs []TFIndicatorConfig, state []map[string]*tokenIndicators) {
	e.configs = configs
	e.state = state
	e.tfIndex = make(map[int]int, len(configs))
	for i, cfg := range configs {
		e.tfIndex[cfg.TF] = i
		for _, spec := range cfg.Indicators {
			if lb := spec.Lookback() + 1; lb > e.history {
				e.history = lb
			}
		}
	}
}

// Backend returns the backend indicator states are built on.
func (e *Engine) Backend() ta.Backend { return e.backend }

// History returns how many committed bars are retained per token.
func (e *Engine) History() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history
}

// Configs returns the active per-TF configuration.
func (e *Engine) Configs() []TFIndicatorConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.configs
}

// Tokens returns the number of token states held for tf.
func (e *Engine) Tokens(tf int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx, ok := e.tfIndex[tf]
	if !ok {
		return 0
	}
	return len(e.state[idx])
}

// Process takes a closed bar and computes all indicators for that TF + token.
// A bar newer than the token's latest bar is committed (APPEND); a bar with the
// same timestamp as a still-forming latest bar finalizes it (UPDATE). Stale
// bars return nil. Results include not-ready indicators with Ready=false.
func (e *Engine) Process(bar model.Bar) []model.IndicatorResult {
	bar.Forming = false
	return e.apply(bar)
}

// ProcessLive takes a forming bar. The first forming bar of a bucket is
// committed provisionally; later ones revise it in place.
func (e *Engine) ProcessLive(bar model.Bar) []model.IndicatorResult {
	bar.Forming = true
	return e.apply(bar)
}

func (e *Engine) apply(bar model.Bar) []model.IndicatorResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	tfIdx, ok := e.tfIndex[bar.TF]
	if !ok {
		return nil // TF not configured for indicators
	}

	key := bar.Key()
	ti, exists := e.state[tfIdx][key]
	if !exists {
		var err error
		if ti, err = e.createTokenIndicators(tfIdx); err != nil {
			slog.Error("indicator creation failed", "component", "engine", "tf", bar.TF, "token", key, "error", err)
			return nil
		}
		e.state[tfIdx][key] = ti
	}

	isAppend, ok := ti.classify(bar)
	if !ok {
		return nil
	}

	results := make([]model.IndicatorResult, 0, len(ti.indicators))
	for _, ind := range ti.indicators {
		var v ta.Value
		if isAppend {
			v = ind.Update(bar)
		} else {
			v = ind.Revise(bar)
		}
		results = append(results, newResult(ind.Name(), bar, v))
	}
	ti.record(bar, isAppend, e.history)
	return results
}

func newResult(name string, bar model.Bar, v ta.Value) model.IndicatorResult {
	r := model.IndicatorResult{
		Name:     name,
		Token:    bar.Token,
		Exchange: bar.Exchange,
		TF:       bar.TF,
		TS:       bar.TS,
		Ready:    v.Valid,
		Live:     bar.Forming,
	}
	if v.Valid {
		r.Value = v.Float
	}
	return r
}

// classify decides whether bar is a new bar or a revision of the latest one.
func (ti *tokenIndicators) classify(bar model.Bar) (isAppend, ok bool) {
	n := len(ti.bars)
	if n == 0 {
		return true, true
	}
	last := ti.bars[n-1].TS
	switch {
	case bar.TS.After(last):
		return true, true
	case bar.TS.Equal(last) && ti.open:
		return false, true
	}
	return false, false
}

func (ti *tokenIndicators) record(bar model.Bar, isAppend bool, history int) {
	if isAppend {
		ti.bars = append(ti.bars, bar)
		if len(ti.bars) > history {
			ti.bars = append(ti.bars[:0:0], ti.bars[len(ti.bars)-history:]...)
		}
	} else {
		ti.bars[len(ti.bars)-1] = bar
	}
	ti.open = bar.Forming
}

// Run consumes bars and emits indicator results. Blocks until ctx done.
func (e *Engine) Run(ctx context.Context, barCh <-chan model.Bar, resultCh chan<- model.IndicatorResult) {
	for {
		select {
		case <-ctx.Done():
			return
		case bar, ok := <-barCh:
			if !ok {
				return
			}
			var results []model.IndicatorResult
			if bar.Forming {
				results = e.ProcessLive(bar)
			} else {
				results = e.Process(bar)
			}
			for _, r := range results {
				select {
				case resultCh <- r:
				default:
					// drop if channel full
				}
			}
		}
	}
}

// createTokenIndicators creates fresh indicator instances for a TF config.
func (e *Engine) createTokenIndicators(tfIdx int) (*tokenIndicators, error) {
	inds, err := e.build(e.configs[tfIdx].Indicators)
	if err != nil {
		return nil, err
	}
	return &tokenIndicators{indicators: inds}, nil
}

func (e *Engine) build(specs []ta.Spec) ([]*Indicator, error) {
	inds := make([]*Indicator, len(specs))
	for i, spec := range specs {
		ind, err := New(e.backend, spec)
		if err != nil {
			return nil, err
		}
		inds[i] = ind
	}
	return inds, nil
}

// warm replays retained bars through freshly created indicators.
func warm(inds []*Indicator, bars []model.Bar) {
	for _, bar := range bars {
		for _, ind := range inds {
			ind.Update(bar)
		}
	}
}
