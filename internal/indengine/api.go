package indengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"tastream/config"
	"tastream/internal/indicator"
	"tastream/internal/metrics"
)

// serveHTTP starts the service API and the metrics server in g. Both shut
// down when ctx is cancelled.
func (svc *Service) serveHTTP(ctx context.Context, g *errgroup.Group) {
	api := &http.Server{
		Addr:              svc.cfg.HTTPAddr,
		Handler:           svc.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	metricsSrv := metrics.NewServer(svc.cfg.MetricsAddr, svc.health, svc.registry)

	g.Go(func() error {
		slog.Info("HTTP server listening", "component", "indengine", "addr", svc.cfg.HTTPAddr)
		if err := api.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(metricsSrv.ListenAndServe)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		api.Shutdown(shutCtx)
		metricsSrv.Shutdown(shutCtx)
		return nil
	})
}

// routes returns the service API: /reload, /config, /healthz and the /ws
// live feed.
func (svc *Service) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/reload", svc.handleReload)
	mux.HandleFunc("/config", svc.handleConfig)
	mux.Handle("/healthz", svc.health)
	mux.Handle("/ws", svc.hub)
	return mux
}

// handleReload handles POST /reload with a JSON []TFIndicatorConfig body.
func (svc *Service) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var newConfigs []indicator.TFIndicatorConfig
	if err := json.NewDecoder(r.Body).Decode(&newConfigs); err != nil {
		http.Error(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}
	preserved, created, err := svc.engine.ReloadConfigs(newConfigs)
	if err != nil {
		http.Error(w, "validation: "+err.Error(), http.StatusBadRequest)
		return
	}
	svc.warnUnconsumedTFs(newConfigs)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "ok",
		"preserved": preserved,
		"created":   created,
	})
}

// handleConfig handles GET /config, returning the active indicator set.
func (svc *Service) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(svc.engine.Configs())
}

// subscribeConfig listens on Redis PubSub for dynamic indicator config
// updates until ctx is cancelled.
func (svc *Service) subscribeConfig(ctx context.Context) {
	pubsub, err := svc.redisReader.SubscribeChannel(ctx, configChannel)
	if err != nil {
		slog.Warn("config subscription failed", "component", "indengine", "channel", configChannel, "error", err)
		return
	}
	defer pubsub.Close()
	slog.Info("subscribed for dynamic reload", "component", "indengine", "channel", configChannel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := svc.reloadPayload(msg.Payload); err != nil {
				slog.Warn("config update rejected", "component", "indengine", "payload", msg.Payload, "error", err)
			}
		}
	}
}

// reloadPayload applies a config update. A JSON array is a full per-TF
// configuration; anything else is a "KIND:PERIOD,..." list applied to the
// current timeframes.
func (svc *Service) reloadPayload(payload string) error {
	var newConfigs []indicator.TFIndicatorConfig
	if p := strings.TrimSpace(payload); strings.HasPrefix(p, "[") {
		if err := json.Unmarshal([]byte(p), &newConfigs); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
	} else {
		specs, err := config.ParseIndicatorSpecs(p)
		if err != nil {
			return err
		}
		newConfigs = config.PerTF(tfsOf(svc.engine.Configs()), specs)
	}

	preserved, created, err := svc.engine.ReloadConfigs(newConfigs)
	if err != nil {
		return err
	}
	svc.warnUnconsumedTFs(newConfigs)
	slog.Info("indicators reloaded", "component", "indengine", "preserved", preserved, "created", created)
	return nil
}

// warnUnconsumedTFs logs timeframes whose bar streams are not consumed.
// Streams are fixed at startup.
func (svc *Service) warnUnconsumedTFs(configs []indicator.TFIndicatorConfig) {
	known := make(map[int]bool, len(svc.tfs))
	for _, tf := range svc.tfs {
		known[tf] = true
	}
	for _, c := range configs {
		if !known[c.TF] {
			slog.Warn("timeframe has no consumed streams until restart", "component", "indengine", "tf", c.TF)
		}
	}
}
