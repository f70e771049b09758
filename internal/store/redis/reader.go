// Package redis connects the indicator service to Redis: bar streams are
// consumed through consumer groups, results are pipelined out, and engine
// snapshots are kept under a single key.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"tastream/internal/model"
)

const (
	replayPageSize = 1000
	snapshotTTL    = 24 * time.Hour
)

var (
	_ model.BarConsumer   = (*Reader)(nil)
	_ model.SnapshotStore = (*Reader)(nil)
)

// ReaderConfig configures the Redis reader.
type ReaderConfig struct {
	Addr          string
	Password      string
	DB            int
	ConsumerGroup string // consumer group name, e.g. "indengine"
	ConsumerName  string // unique consumer name within the group
	SnapshotKey   string // key holding the latest engine snapshot
}

// Reader reads bars from Redis Streams via consumer groups and stores
// indicator engine snapshots.
type Reader struct {
	client        *goredis.Client
	consumerGroup string
	consumerName  string
	snapshotKey   string
}

// NewReader creates a new Redis Reader and pings the server.
func NewReader(cfg ReaderConfig) (*Reader, error) {
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

	r := &Reader{
		client:        client,
		consumerGroup: cfg.ConsumerGroup,
		consumerName:  cfg.ConsumerName,
		snapshotKey:   cfg.SnapshotKey,
	}
	if r.consumerGroup == "" {
		r.consumerGroup = "indengine"
	}
	if r.consumerName == "" {
		r.consumerName = "worker-1"
	}
	if r.snapshotKey == "" {
		r.snapshotKey = "ind:snapshot:engine"
	}

	slog.Info("redis reader connected", "component", "redis",
		"addr", cfg.Addr, "group", r.consumerGroup, "consumer", r.consumerName)
	return r, nil
}

// Client returns the underlying Redis client for health checks.
func (r *Reader) Client() *goredis.Client { return r.client }

// decodeBar parses the "data" field of a stream message.
func decodeBar(values map[string]interface{}) (model.Bar, error) {
	data, ok := values["data"].(string)
	if !ok {
		return model.Bar{}, errors.New("missing data field")
	}
	var bar model.Bar
	if err := json.Unmarshal([]byte(data), &bar); err != nil {
		return model.Bar{}, fmt.Errorf("unmarshal bar: %w", err)
	}
	return bar, nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// EnsureConsumerGroup creates the consumer group on streams if it doesn't
// exist. Fresh groups start at "$" (only new messages).
func (r *Reader) EnsureConsumerGroup(ctx context.Context, streams []string) error {
	for _, stream := range streams {
		err := r.client.XGroupCreateMkStream(ctx, stream, r.consumerGroup, "$").Err()
		if err != nil && !isBusyGroup(err) {
			return fmt.Errorf("xgroup create %s: %w", stream, err)
		}
	}
	return nil
}

// ConsumeBars reads bars using XREADGROUP and sends them to out, ACKing each
// after hand-off. Undecodable messages are ACKed and dropped so they cannot
// poison the group. Returns when ctx is cancelled.
func (r *Reader) ConsumeBars(ctx context.Context, streams []string, out chan<- model.Bar) error {
	// Stream args: [stream1, stream2, ..., ">", ">", ...]
	args := make([]string, len(streams)*2)
	for i, s := range streams {
		args[i] = s
		args[len(streams)+i] = ">"
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		results, err := r.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    r.consumerGroup,
			Consumer: r.consumerName,
			Streams:  args,
			Count:    100,
			Block:    2 * time.Second,
		}).Result()
		if err != nil {
			if err == goredis.Nil || ctx.Err() != nil {
				continue
			}
			slog.Warn("xreadgroup failed", "component", "redis", "error", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range results {
			if _, err := r.deliver(ctx, stream.Stream, stream.Messages, out); err != nil {
				return err
			}
		}
	}
}

// deliver decodes msgs, sends them to out and ACKs them. Returns the number
// of bars delivered.
func (r *Reader) deliver(ctx context.Context, stream string, msgs []goredis.XMessage, out chan<- model.Bar) (int, error) {
	n := 0
	for _, msg := range msgs {
		bar, err := decodeBar(msg.Values)
		if err != nil {
			slog.Warn("dropping bad stream message", "component", "redis", "stream", stream, "id", msg.ID, "error", err)
			r.client.XAck(ctx, stream, r.consumerGroup, msg.ID)
			continue
		}

		select {
		case out <- bar:
		case <-ctx.Done():
			return n, ctx.Err()
		}

		r.client.XAck(ctx, stream, r.consumerGroup, msg.ID)
		n++
	}
	return n, nil
}

// RecoverPending re-delivers this group's pending (unACKed) messages from a
// previous crash, for at-least-once semantics.
func (r *Reader) RecoverPending(ctx context.Context, streams []string, out chan<- model.Bar) error {
	for _, stream := range streams {
		for {
			pending, err := r.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
				Stream: stream,
				Group:  r.consumerGroup,
				Start:  "-",
				End:    "+",
				Count:  100,
			}).Result()
			if err != nil || len(pending) == 0 {
				break
			}

			ids := make([]string, len(pending))
			for i, p := range pending {
				ids[i] = p.ID
			}

			claimed, err := r.client.XClaim(ctx, &goredis.XClaimArgs{
				Stream:   stream,
				Group:    r.consumerGroup,
				Consumer: r.consumerName,
				Messages: ids,
			}).Result()
			if err != nil {
				slog.Warn("xclaim failed", "component", "redis", "stream", stream, "error", err)
				break
			}

			if _, err := r.deliver(ctx, stream, claimed, out); err != nil {
				return err
			}
			if len(claimed) < len(ids) {
				break
			}
		}
	}
	return nil
}

// reclaimStale XCLAIMs PEL entries idle longer than minIdle that belong to
// other consumers of the group.
func (r *Reader) reclaimStale(ctx context.Context, stream string, minIdle time.Duration, batchSize int64) ([]goredis.XMessage, error) {
	pending, err := r.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
		Stream: stream,
		Group:  r.consumerGroup,
		Start:  "-",
		End:    "+",
		Count:  batchSize,
		Idle:   minIdle,
	}).Result()
	if err != nil || len(pending) == 0 {
		return nil, err
	}

	var staleIDs []string
	for _, p := range pending {
		if p.Consumer != r.consumerName {
			staleIDs = append(staleIDs, p.ID)
		}
	}
	if len(staleIDs) == 0 {
		return nil, nil
	}

	claimed, err := r.client.XClaim(ctx, &goredis.XClaimArgs{
		Stream:   stream,
		Group:    r.consumerGroup,
		Consumer: r.consumerName,
		MinIdle:  minIdle,
		Messages: staleIDs,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xclaim %s: %w", stream, err)
	}
	return claimed, nil
}

// StartPELReclaimer periodically reclaims stale PEL entries of dead consumers
// and sends the bars to outCh. Runs until ctx is cancelled.
func (r *Reader) StartPELReclaimer(ctx context.Context, streams []string, interval time.Duration,
	minIdleMs int64, outCh chan<- model.Bar, onReclaim func(count int)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	minIdle := time.Duration(minIdleMs) * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			total := 0
			for _, stream := range streams {
				claimed, err := r.reclaimStale(ctx, stream, minIdle, 50)
				if err != nil {
					slog.Warn("PEL reclaim failed", "component", "redis", "stream", stream, "error", err)
					continue
				}
				n, err := r.deliver(ctx, stream, claimed, outCh)
				total += n
				if err != nil {
					return
				}
			}
			if total > 0 && onReclaim != nil {
				onReclaim(total)
			}
		}
	}
}

// ReplayFromID sends every bar after startID ("0" for all) to out, paging
// with XRANGE. Returns the last ID read.
func (r *Reader) ReplayFromID(ctx context.Context, stream, startID string, out chan<- model.Bar) (string, error) {
	lastID := startID
	for {
		msgs, err := r.client.XRangeN(ctx, stream, "("+lastID, "+", replayPageSize).Result()
		if err != nil {
			return lastID, fmt.Errorf("xrange %s from %s: %w", stream, lastID, err)
		}

		for _, msg := range msgs {
			lastID = msg.ID
			bar, err := decodeBar(msg.Values)
			if err != nil {
				continue
			}
			select {
			case out <- bar:
			case <-ctx.Done():
				return lastID, ctx.Err()
			}
		}

		if len(msgs) < replayPageSize {
			return lastID, nil
		}
	}
}

// DiscoverStreams finds existing bar streams for the given TFs with SCAN.
func (r *Reader) DiscoverStreams(ctx context.Context, tfs []int) []string {
	var streams []string
	for _, tf := range tfs {
		pattern := model.BarStreamKey(tf, "*")
		iter := r.client.ScanType(ctx, 0, pattern, 200, "stream").Iterator()
		for iter.Next(ctx) {
			streams = append(streams, iter.Val())
		}
		if err := iter.Err(); err != nil {
			slog.Warn("stream discovery failed", "component", "redis", "tf", tf, "error", err)
		}
	}
	return streams
}

// SubscribeFormingBars subscribes to "pub:bar:*" and forwards forming bars of
// the given TFs to out. Closed bars arrive via XREADGROUP and are ignored
// here. Live bars are dropped if out is full. Blocks until ctx is cancelled.
func (r *Reader) SubscribeFormingBars(ctx context.Context, tfs []int, out chan<- model.Bar) error {
	enabled := make(map[int]bool, len(tfs))
	for _, tf := range tfs {
		enabled[tf] = true
	}

	pubsub := r.client.PSubscribe(ctx, "pub:bar:*")
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var bar model.Bar
			if err := json.Unmarshal([]byte(msg.Payload), &bar); err != nil {
				continue
			}
			if !bar.Forming || !enabled[bar.TF] {
				continue
			}
			select {
			case out <- bar:
			default:
			}
		}
	}
}

// ReadLatestSnapshotJSON loads the engine snapshot. Returns nil, nil if none.
func (r *Reader) ReadLatestSnapshotJSON(ctx context.Context) ([]byte, error) {
	data, err := r.client.Get(ctx, r.snapshotKey).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get snapshot %s: %w", r.snapshotKey, err)
	}
	return data, nil
}

// SaveSnapshotJSON stores the engine snapshot with a 24h TTL. Snapshots are
// also kept in SQLite for durability.
func (r *Reader) SaveSnapshotJSON(ctx context.Context, data []byte) error {
	if err := r.client.Set(ctx, r.snapshotKey, data, snapshotTTL).Err(); err != nil {
		return fmt.Errorf("redis set snapshot %s: %w", r.snapshotKey, err)
	}
	return nil
}

// SubscribeChannel subscribes to a Redis Pub/Sub channel and waits for the
// confirmation.
func (r *Reader) SubscribeChannel(ctx context.Context, channel string) (*goredis.PubSub, error) {
	pubsub := r.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	return pubsub, nil
}

// Close closes the Redis client.
func (r *Reader) Close() error {
	return r.client.Close()
}
