package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"tastream/internal/logger"
	"tastream/internal/model"
)

const defaultLatestTTL = 30 * time.Minute

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer publishes indicator results to Redis.
type Writer struct {
	client *goredis.Client
}

// NewWriter creates a new Redis Writer and pings the server.
func NewWriter(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	slog.Info("redis writer connected", "component", "redis", "addr", cfg.Addr)
	return &Writer{client: client}, nil
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// streamMaxLen keeps about three hours of results per stream.
func streamMaxLen(tf int) int64 {
	n := int64(10800/tf) + 100
	if n < 200 {
		n = 200
	}
	return n
}

// WriteIndicatorBatch writes results in one pipeline, logging failures.
func (w *Writer) WriteIndicatorBatch(ctx context.Context, results []model.IndicatorResult) {
	if err := w.writeBatch(ctx, results); err != nil {
		attrs := append([]any{"component", "redis", "results", len(results), "error", err}, logger.LogWithTrace(ctx)...)
		slog.Error("indicator batch pipeline failed", attrs...)
	}
}

// writeBatch batches XADD + SET + PUBLISH for confirmed results and PUBLISH
// only for live ones. Not-ready confirmed results are skipped.
func (w *Writer) writeBatch(ctx context.Context, results []model.IndicatorResult) error {
	pipe := w.client.Pipeline()
	queued := 0
	for i := range results {
		ind := &results[i]
		if !ind.Ready && !ind.Live {
			continue
		}
		data := string(ind.JSON())

		if ind.Live {
			pipe.Publish(ctx, ind.PubSubChannel(), data)
			queued++
			continue
		}

		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: ind.StreamKey(),
			MaxLen: streamMaxLen(ind.TF),
			Approx: true,
			Values: map[string]interface{}{"data": data},
		})
		pipe.Set(ctx, ind.LatestKey(), data, defaultLatestTTL)
		pipe.Publish(ctx, ind.PubSubChannel(), data)
		queued++
	}
	if queued == 0 {
		return nil
	}

	_, err := pipe.Exec(ctx)
	return err
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
