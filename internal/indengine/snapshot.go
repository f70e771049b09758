package indengine

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"tastream/internal/indicator"
)

// snapshotLoop periodically saves engine state to every snapshot store.
func (svc *Service) snapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(svc.cfg.SnapshotIntervalS) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			svc.saveSnapshot(ctx)
		}
	}
}

// saveSnapshot captures the engine and writes it to Redis and SQLite.
// Returns the number of stores written.
func (svc *Service) saveSnapshot(ctx context.Context) int {
	start := time.Now()
	snap := indicator.SnapshotEngine(svc.engine, streamMarker(start))
	data, err := json.Marshal(snap)
	if err != nil {
		slog.Error("snapshot encode failed", "component", "indengine", "error", err)
		return 0
	}

	saved := 0
	for _, store := range svc.snapStores {
		if err := store.SaveSnapshotJSON(ctx, data); err != nil {
			slog.Warn("snapshot write failed", "component", "indengine", "error", err)
			continue
		}
		saved++
	}

	svc.prom.SnapshotDur.Observe(time.Since(start).Seconds())
	svc.prom.SnapshotTokens.Set(float64(len(snap.Tokens)))
	slog.Info("checkpoint saved", "component", "indengine",
		"id", snap.ID, "tokens", len(snap.Tokens), "stores", saved)
	return saved
}

// replayMargin covers bars that were queued but not yet applied when the
// snapshot was taken.
const replayMargin = 5 * time.Minute

// streamMarker returns a time-based stream ID a little before t. Replay after
// a restore starts there; bars the snapshot already holds are dropped as stale.
func streamMarker(t time.Time) string {
	return strconv.FormatInt(t.Add(-replayMargin).UnixMilli(), 10) + "-0"
}
