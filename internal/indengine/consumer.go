package indengine

import (
	"context"
	"log/slog"
	"time"

	"tastream/internal/logger"
	"tastream/internal/model"
)

// consume recovers messages left pending by a previous run, then reads new
// bars via XREADGROUP until ctx is cancelled.
func (svc *Service) consume(ctx context.Context) {
	if err := svc.redisReader.RecoverPending(ctx, svc.streams, svc.barCh); err != nil {
		slog.Warn("pending recovery failed", "component", "indengine", "error", err)
	}
	if err := svc.redisReader.ConsumeBars(ctx, svc.streams, svc.barCh); err != nil && ctx.Err() == nil {
		slog.Error("consumer stopped", "component", "indengine", "error", err)
	}
}

// reclaimPEL periodically reclaims stale PEL messages of dead consumers.
func (svc *Service) reclaimPEL(ctx context.Context) {
	slog.Info("PEL reclaimer started", "component", "indengine",
		"interval_s", svc.cfg.PELIntervalS, "min_idle_ms", svc.cfg.PELMinIdleMs)
	svc.redisReader.StartPELReclaimer(ctx, svc.streams,
		time.Duration(svc.cfg.PELIntervalS)*time.Second,
		svc.cfg.PELMinIdleMs, svc.barCh,
		func(count int) {
			svc.prom.PELMessagesReclaimed.Add(float64(count))
			slog.Info("reclaimed stale PEL messages", "component", "indengine", "count", count)
		})
}

// processLoop applies bars from the channel to the engine until ctx is done.
func (svc *Service) processLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case bar, ok := <-svc.barCh:
			if !ok {
				return
			}
			svc.handle(ctx, bar)
		}
	}
}

// handle applies one bar and fans the results out. Closed bars are
// persisted to SQLite; forming bars produce live results only.
func (svc *Service) handle(ctx context.Context, bar model.Bar) {
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(bar.Key(), bar.TF, bar.TS))
	kind := "closed"
	start := time.Now()
	var results []model.IndicatorResult
	if bar.Forming {
		kind = "live"
		results = svc.engine.ProcessLive(bar)
	} else {
		results = svc.engine.Process(bar)
	}
	svc.prom.StepDur.Observe(time.Since(start).Seconds())
	svc.health.SetLastBarTime(time.Now())

	if len(results) == 0 {
		svc.prom.BarsDropped.Inc()
		slog.Debug("bar dropped", append([]any{"component", "indengine", "forming", bar.Forming}, logger.LogWithTrace(ctx)...)...)
		return
	}
	svc.prom.StepsTotal.WithLabelValues(kind).Inc()
	svc.prom.ResultsTotal.Add(float64(len(results)))

	if !bar.Forming && svc.sql != nil {
		select {
		case svc.sqlBarCh <- bar:
		default:
			slog.Warn("sqlite bar queue full, dropping bar", append([]any{"component", "indengine"}, logger.LogWithTrace(ctx)...)...)
		}
	}

	svc.writer.WriteIndicatorBatch(ctx, results)
	svc.hub.Publish(results)
}
