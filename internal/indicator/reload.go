package indicator

import (
	"fmt"
	"log/slog"

	"tastream/internal/ta"
)

// ReloadConfigs updates the indicator engine with new configurations.
// It preserves state for indicators that already exist and only creates
// new instances for genuinely new indicators, which are warmed immediately
// from the bars retained for each token.
// Returns the number of preserved and new indicator instances.
func (e *Engine) ReloadConfigs(newConfigs []TFIndicatorConfig) (preserved, created int, err error) {
	if err := ValidateConfigs(e.backend, newConfigs); err != nil {
		return 0, 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Build lookup of old configs + state by TF
	oldCfgByTF := make(map[int]TFIndicatorConfig, len(e.configs))
	oldStateByTF := make(map[int]map[string]*tokenIndicators, len(e.configs))
	for i, cfg := range e.configs {
		oldCfgByTF[cfg.TF] = cfg
		oldStateByTF[cfg.TF] = e.state[i]
	}

	newState := make([]map[string]*tokenIndicators, len(newConfigs))
	for i, newCfg := range newConfigs {
		oldCfg, tfExists := oldCfgByTF[newCfg.TF]
		oldTFState := oldStateByTF[newCfg.TF]

		if !tfExists || oldTFState == nil {
			// New TF, cold start
			newState[i] = make(map[string]*tokenIndicators, 64)
			slog.Info("new timeframe, cold-starting", "component", "reload", "tf", newCfg.TF)
			continue
		}

		// Same indicator set: keep the state as is
		if indicatorSetsEqual(oldCfg.Indicators, newCfg.Indicators) {
			newState[i] = oldTFState
			for _, ti := range oldTFState {
				preserved += len(ti.indicators)
			}
			slog.Info("timeframe unchanged", "component", "reload", "tf", newCfg.TF, "tokens", len(oldTFState))
			continue
		}

		// Indicator set changed: migrate per-token state
		migrated := make(map[string]*tokenIndicators, len(oldTFState))
		for tokenKey, oldTI := range oldTFState {
			newTI, kept, built, err := e.migrateTokenIndicators(oldTI, newCfg.Indicators)
			if err != nil {
				return 0, 0, fmt.Errorf("migrate TF=%d %s: %w", newCfg.TF, tokenKey, err)
			}
			migrated[tokenKey] = newTI
			preserved += kept
			created += built
		}
		newState[i] = migrated
		slog.Info("timeframe migrated", "component", "reload", "tf", newCfg.TF, "tokens", len(migrated))
	}

	e.setConfigs(newConfigs, newState)

	slog.Info("config reloaded", "component", "reload",
		"configs", len(newConfigs), "preserved", preserved, "created", created)
	return preserved, created, nil
}

// migrateTokenIndicators creates a tokenIndicators for the new specs,
// reusing indicators whose key is unchanged and warming the rest from the
// token's retained bars.
func (e *Engine) migrateTokenIndicators(oldTI *tokenIndicators, specs []ta.Spec) (*tokenIndicators, int, int, error) {
	oldByKey := make(map[string]*Indicator, len(oldTI.indicators))
	for _, ind := range oldTI.indicators {
		oldByKey[ind.Name()] = ind
	}

	inds := make([]*Indicator, len(specs))
	var fresh []*Indicator
	for i, spec := range specs {
		if existing, ok := oldByKey[spec.Key()]; ok {
			inds[i] = existing // preserve accumulated state
			continue
		}
		ind, err := New(e.backend, spec)
		if err != nil {
			return nil, 0, 0, err
		}
		inds[i] = ind
		fresh = append(fresh, ind)
	}
	warm(fresh, oldTI.bars)

	return &tokenIndicators{
		indicators: inds,
		bars:       oldTI.bars,
		open:       oldTI.open,
	}, len(specs) - len(fresh), len(fresh), nil
}

// indicatorSetsEqual checks if two spec slices have the exact same
// set of indicators (order-independent).
func indicatorSetsEqual(a, b []ta.Spec) bool {
	if len(a) != len(b) {
		return false
	}
	setA := make(map[string]bool, len(a))
	for _, s := range a {
		setA[s.Key()] = true
	}
	for _, s := range b {
		if !setA[s.Key()] {
			return false
		}
	}
	return true
}

// ValidateConfigs checks a set of TFIndicatorConfigs for errors, including
// that backend b can build every indicator.
func ValidateConfigs(b ta.Backend, configs []TFIndicatorConfig) error {
	seen := make(map[int]bool)
	for _, cfg := range configs {
		if cfg.TF <= 0 {
			return fmt.Errorf("invalid TF=%d: must be positive", cfg.TF)
		}
		if seen[cfg.TF] {
			return fmt.Errorf("duplicate TF=%d", cfg.TF)
		}
		seen[cfg.TF] = true

		keys := make(map[string]bool, len(cfg.Indicators))
		for _, spec := range cfg.Indicators {
			if _, err := New(b, spec); err != nil {
				return fmt.Errorf("TF=%d: %w", cfg.TF, err)
			}
			if keys[spec.Key()] {
				return fmt.Errorf("duplicate indicator %s for TF=%d", spec.Key(), cfg.TF)
			}
			keys[spec.Key()] = true
		}
	}
	return nil
}
