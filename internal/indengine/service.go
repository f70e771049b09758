// Package indengine runs the streaming indicator service: it consumes bars
// from Redis Streams, applies them to the indicator engine and publishes the
// results to Redis and to live WebSocket clients.
package indengine

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"tastream/config"
	"tastream/internal/backend"
	"tastream/internal/gateway"
	"tastream/internal/indicator"
	"tastream/internal/metrics"
	"tastream/internal/model"
	"tastream/internal/parity"
	redisstore "tastream/internal/store/redis"
	sqlitestore "tastream/internal/store/sqlite"
	"tastream/internal/ta"
)

const (
	barChanSize      = 5000
	livenessInterval = 10 * time.Second
	shutdownTimeout  = 3 * time.Second
	configChannel    = "config:indicators"
)

// Service is the top-level orchestrator for the indicator engine.
// It wires all dependencies, manages lifecycle, and coordinates goroutines.
type Service struct {
	cfg     *config.Config
	configs []indicator.TFIndicatorConfig
	tfs     []int
	backend ta.Backend

	engine      *indicator.Engine
	redisReader *redisstore.Reader
	redisWriter *redisstore.Writer
	writer      model.IndicatorWriter
	sql         *sqlitestore.Store // nil when SQLite could not be opened
	snapStores  []model.SnapshotStore
	hub         *gateway.Hub

	registry *prometheus.Registry
	prom     *metrics.Metrics
	health   *metrics.HealthStatus

	streams  []string
	barCh    chan model.Bar
	sqlBarCh chan model.Bar
}

// New creates a Service from cfg. It resolves the indicator set and backend,
// then connects to Redis and SQLite. SQLite is optional.
func New(cfg *config.Config) (*Service, error) {
	configs, err := cfg.IndicatorSet()
	if err != nil {
		return nil, fmt.Errorf("indicator config: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	svc := &Service{
		cfg:      cfg,
		configs:  configs,
		tfs:      tfsOf(configs),
		registry: registry,
		prom:     metrics.NewMetrics(registry),
		hub:      gateway.NewHub(),
		barCh:    make(chan model.Bar, barChanSize),
		sqlBarCh: make(chan model.Bar, barChanSize),
	}

	svc.backend, err = svc.openBackend()
	if err != nil {
		return nil, err
	}
	if err := indicator.ValidateConfigs(svc.backend, configs); err != nil {
		return nil, fmt.Errorf("indicator config: %w", err)
	}
	svc.health = metrics.NewHealthStatus(svc.backend.Name())
	svc.health.SetEnabledTFs(svc.tfs)
	svc.hub.OnClientCount = func(n int) { svc.prom.WSClients.Set(float64(n)) }

	// ---- Connect to Redis ----
	consumerName := cfg.ConsumerName
	if consumerName == "" {
		consumerName = "indengine-" + uuid.NewString()[:8]
	}
	svc.redisReader, err = redisstore.NewReader(redisstore.ReaderConfig{
		Addr:          cfg.RedisAddr,
		Password:      cfg.RedisPassword,
		ConsumerGroup: cfg.ConsumerGroup,
		ConsumerName:  consumerName,
		SnapshotKey:   cfg.SnapshotKey,
	})
	if err != nil {
		return nil, err
	}

	svc.redisWriter, err = redisstore.NewWriter(redisstore.WriterConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		svc.redisReader.Close()
		return nil, err
	}
	svc.writer = svc.newBufferedWriter()
	svc.snapStores = []model.SnapshotStore{svc.redisReader}
	svc.health.SetRedisConnected(true)

	// ---- Open SQLite ----
	if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Warn("sqlite dir create failed", "component", "indengine", "dir", dir, "error", err)
		}
	}
	svc.sql, err = sqlitestore.Open(cfg.SQLitePath)
	if err != nil {
		slog.Warn("sqlite open failed, continuing without backfill", "component", "indengine", "error", err)
		svc.sql = nil
	} else {
		svc.snapStores = append(svc.snapStores, svc.sql)
	}
	svc.health.SetSQLiteOK(svc.sql != nil)

	return svc, nil
}

// openBackend resolves the configured backend, wrapped in a shadow that
// cross-checks every step against the other backend when enabled.
func (svc *Service) openBackend() (ta.Backend, error) {
	b, err := backend.Open(svc.cfg.Backend)
	if err != nil {
		return nil, err
	}
	if !svc.cfg.ParityShadow {
		return b, nil
	}
	slog.Info("parity shadow enabled", "component", "indengine", "primary", b.Name())
	return parity.ShadowBackend{
		Primary:    b,
		Mirror:     backend.Other(b),
		OnMismatch: svc.onParityMismatch,
	}, nil
}

func (svc *Service) onParityMismatch(spec ta.Spec, primary, mirror ta.Value, isAppend bool) {
	svc.prom.ParityMismatches.WithLabelValues(spec.Key()).Inc()
	slog.Warn("backend parity mismatch", "component", "parity",
		"indicator", spec.Key(), "primary", primary.String(), "mirror", mirror.String(), "append", isAppend)
}

func (svc *Service) newBufferedWriter() *redisstore.BufferedWriter {
	cb := redisstore.NewCircuitBreaker(5, 10*time.Second)
	cb.OnStateChange = func(from, to redisstore.State) {
		svc.prom.RedisCircuitBreakerState.Set(float64(to))
		if to == redisstore.StateOpen {
			svc.prom.RedisCircuitBreakerTrips.Inc()
		}
		slog.Warn("redis circuit breaker", "component", "redis", "from", from.String(), "to", to.String())
	}
	bw := redisstore.NewBufferedWriter(svc.redisWriter, cb, 0)
	bw.OnBuffer = func(n int) { svc.prom.RedisBufferedWrites.Add(float64(n)) }
	bw.OnFlush = func(n int) {
		slog.Info("flushed buffered results", "component", "redis", "count", n)
	}
	return bw
}

// Run starts all subsystems and blocks until ctx is cancelled or one of them
// fails.
func (svc *Service) Run(ctx context.Context) error {
	slog.Info("starting indicator engine", "component", "indengine",
		"backend", svc.backend.Name(), "tfs", svc.tfs)

	// ---- Restore engine from snapshot ----
	snap := svc.loadSnapshot(ctx)
	if err := svc.restoreEngine(ctx, snap); err != nil {
		return err
	}

	// ---- Discover / build streams ----
	svc.streams = svc.buildStreams(ctx)
	slog.Info("consuming bar streams", "component", "indengine", "count", len(svc.streams))

	// ---- Catch up from Redis streams ----
	startID := "0"
	if snap != nil && snap.StreamID != "" {
		startID = snap.StreamID
	}
	svc.catchUp(ctx, startID)

	// ---- Consumer groups ----
	if len(svc.streams) > 0 {
		if err := svc.redisReader.EnsureConsumerGroup(ctx, svc.streams); err != nil {
			slog.Warn("consumer group setup failed", "component", "indengine", "error", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { svc.processLoop(gctx); return nil })
	g.Go(func() error { svc.snapshotLoop(gctx); return nil })
	g.Go(func() error { svc.subscribeConfig(gctx); return nil })
	g.Go(func() error {
		svc.health.RunLivenessChecker(gctx, svc.redisWriter.Client(), svc.sqlDB(), livenessInterval)
		return nil
	})
	g.Go(func() error {
		if err := svc.redisReader.SubscribeFormingBars(gctx, svc.tfs, svc.barCh); err != nil && gctx.Err() == nil {
			slog.Warn("forming bar subscription ended", "component", "indengine", "error", err)
		}
		return nil
	})
	if svc.sql != nil {
		g.Go(func() error { svc.sql.Run(gctx, svc.sqlBarCh); return nil })
	}
	if len(svc.streams) > 0 {
		g.Go(func() error { svc.consume(gctx); return nil })
		g.Go(func() error { svc.reclaimPEL(gctx); return nil })
	}

	svc.serveHTTP(gctx, g)

	svc.health.SetIndicatorOK(true)
	slog.Info("all systems running", "component", "indengine",
		"http", svc.cfg.HTTPAddr, "metrics", svc.cfg.MetricsAddr,
		"snapshot_interval_s", svc.cfg.SnapshotIntervalS)

	err := g.Wait()
	svc.shutdown()
	return err
}

// shutdown saves a final snapshot and closes connections.
func (svc *Service) shutdown() {
	slog.Info("shutting down, saving final snapshot", "component", "indengine")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	svc.saveSnapshot(ctx)

	svc.hub.Close()
	if svc.sql != nil {
		svc.sql.Close()
	}
	svc.redisWriter.Close()
	svc.redisReader.Close()

	slog.Info("shutdown complete", "component", "indengine")
}

func (svc *Service) sqlDB() *sql.DB {
	if svc.sql == nil {
		return nil
	}
	return svc.sql.DB()
}

// restoreEngine rebuilds the engine from snap (or cold), then warms it from
// the bars persisted in SQLite.
func (svc *Service) restoreEngine(ctx context.Context, snap *indicator.EngineSnapshot) error {
	restorer := indicator.NewRestorer(svc.backend, svc.configs, indicator.WithHistory(svc.cfg.HistoryBars))

	var err error
	svc.engine, err = restorer.RestoreFromSnap(snap)
	if err != nil {
		return err
	}

	if svc.sql != nil {
		n := restorer.BackfillFromSQLite(svc.engine, svc.sql, func(results []model.IndicatorResult) {
			svc.writer.WriteIndicatorBatch(ctx, results)
		})
		if n > 0 {
			slog.Info("warmed indicators from sqlite", "component", "indengine", "bars", n)
		}
	}
	return nil
}

// buildStreams constructs the bar stream names from SUBSCRIBE_TOKENS, or
// discovers them when no tokens are configured.
func (svc *Service) buildStreams(ctx context.Context) []string {
	keys := svc.cfg.ParseTokenKeys()
	if len(keys) == 0 {
		return svc.redisReader.DiscoverStreams(ctx, svc.tfs)
	}
	streams := make([]string, 0, len(svc.tfs)*len(keys))
	for _, tf := range svc.tfs {
		for _, k := range keys {
			streams = append(streams, model.BarStreamKey(tf, k))
		}
	}
	return streams
}

// catchUp replays closed bars after startID from every stream. Bars the
// engine already holds are dropped as stale.
func (svc *Service) catchUp(ctx context.Context, startID string) {
	replayCh := make(chan model.Bar, barChanSize)
	go func() {
		defer close(replayCh)
		for _, stream := range svc.streams {
			if _, err := svc.redisReader.ReplayFromID(ctx, stream, startID, replayCh); err != nil {
				slog.Warn("stream replay failed", "component", "indengine", "stream", stream, "error", err)
			}
		}
	}()

	n := 0
	for bar := range replayCh {
		if bar.Forming {
			continue
		}
		svc.handle(ctx, bar)
		n++
	}
	slog.Info("caught up from redis streams", "component", "indengine", "from_id", startID, "bars", n)
}

// loadSnapshot returns the first decodable snapshot from the configured
// stores, Redis first. Nil means cold start.
func (svc *Service) loadSnapshot(ctx context.Context) *indicator.EngineSnapshot {
	for _, store := range svc.snapStores {
		data, err := store.ReadLatestSnapshotJSON(ctx)
		if err != nil {
			slog.Warn("snapshot read failed", "component", "indengine", "error", err)
			continue
		}
		if data == nil {
			continue
		}
		var snap indicator.EngineSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			slog.Warn("snapshot decode failed", "component", "indengine", "error", err)
			continue
		}
		return &snap
	}
	return nil
}

func tfsOf(configs []indicator.TFIndicatorConfig) []int {
	tfs := make([]int, len(configs))
	for i, c := range configs {
		tfs[i] = c.TF
	}
	return tfs
}
