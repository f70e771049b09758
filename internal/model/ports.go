package model

import (
	"context"
	"time"
)

// ── Storage Port Interfaces ──
// These interfaces decouple the indicator service from concrete storage
// implementations (Redis, SQLite).

// BarReader reads committed bars for backfill.
type BarReader interface {
	// ReadBars reads all closed bars for a timeframe with TS after afterTS
	// (unix seconds), oldest first.
	ReadBars(tf int, afterTS int64) ([]Bar, error)
}

// BarWriter persists closed bars.
type BarWriter interface {
	SaveBars(bars []Bar) error
}

// IndicatorWriter writes indicator results.
type IndicatorWriter interface {
	// WriteIndicatorBatch writes multiple indicator results in a single batch.
	WriteIndicatorBatch(ctx context.Context, results []IndicatorResult)
}

// SnapshotStore reads and writes indicator engine snapshots as raw JSON.
// Using []byte avoids a model→indicator→model import cycle.
type SnapshotStore interface {
	// SaveSnapshotJSON persists a JSON-encoded engine snapshot.
	SaveSnapshotJSON(ctx context.Context, data []byte) error

	// ReadLatestSnapshotJSON loads the most recent snapshot as raw JSON.
	// Returns nil, nil if no snapshot exists.
	ReadLatestSnapshotJSON(ctx context.Context) ([]byte, error)
}

// BarConsumer consumes bars from a stream (e.g. Redis Streams).
type BarConsumer interface {
	// ConsumeBars reads bars via consumer groups. Blocks until ctx is cancelled.
	ConsumeBars(ctx context.Context, streams []string, out chan<- Bar) error

	// RecoverPending processes any unACKed messages from a previous crash.
	RecoverPending(ctx context.Context, streams []string, out chan<- Bar) error

	// EnsureConsumerGroup creates consumer groups on streams.
	EnsureConsumerGroup(ctx context.Context, streams []string) error

	// ReplayFromID reads all messages from a stream starting at a given ID.
	ReplayFromID(ctx context.Context, stream, startID string, out chan<- Bar) (string, error)

	// DiscoverStreams finds bar streams for the given TFs.
	DiscoverStreams(ctx context.Context, tfs []int) []string

	// StartPELReclaimer runs periodic reclamation of stale PEL entries.
	StartPELReclaimer(ctx context.Context, streams []string, interval time.Duration,
		minIdleMs int64, outCh chan<- Bar, onReclaim func(count int))
}
