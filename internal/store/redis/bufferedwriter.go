package redis

import (
	"context"
	"log/slog"
	"sync"

	"tastream/internal/model"
)

// batchWriter is the part of Writer the BufferedWriter drives.
type batchWriter interface {
	writeBatch(ctx context.Context, results []model.IndicatorResult) error
}

// BufferedWriter wraps a Writer with a circuit breaker. While the circuit is
// open, confirmed results are buffered locally and flushed once a write gets
// through again. Live results are dropped since they are superseded quickly.
type BufferedWriter struct {
	writer batchWriter
	cb     *CircuitBreaker

	mu     sync.Mutex
	buffer []model.IndicatorResult
	maxBuf int // max buffered results before dropping oldest

	// Callbacks
	OnBuffer func(count int) // called when results are buffered (for metrics)
	OnFlush  func(count int) // called after flushing buffered results
}

// NewBufferedWriter creates a BufferedWriter wrapping w.
func NewBufferedWriter(w *Writer, cb *CircuitBreaker, maxBufferSize int) *BufferedWriter {
	return newBufferedWriter(w, cb, maxBufferSize)
}

func newBufferedWriter(w batchWriter, cb *CircuitBreaker, maxBufferSize int) *BufferedWriter {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	return &BufferedWriter{
		writer: w,
		cb:     cb,
		buffer: make([]model.IndicatorResult, 0, 256),
		maxBuf: maxBufferSize,
	}
}

// WriteIndicatorBatch writes results through the circuit breaker, first
// draining anything buffered while the circuit was open.
func (bw *BufferedWriter) WriteIndicatorBatch(ctx context.Context, results []model.IndicatorResult) {
	pending := bw.take()
	batch := make([]model.IndicatorResult, 0, len(pending)+len(results))
	batch = append(append(batch, pending...), results...)
	if len(batch) == 0 {
		return
	}

	err := bw.cb.Execute(func() error {
		return bw.writer.writeBatch(ctx, batch)
	})
	if err == nil {
		if len(pending) > 0 {
			slog.Info("flushed buffered results", "component", "buffered-writer", "count", len(pending))
			if bw.OnFlush != nil {
				bw.OnFlush(len(pending))
			}
		}
		return
	}

	if err != ErrCircuitOpen {
		slog.Error("indicator batch write failed", "component", "buffered-writer", "results", len(batch), "error", err)
	}
	bw.bufferWrite(pending, results)
}

func (bw *BufferedWriter) take() []model.IndicatorResult {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	if len(bw.buffer) == 0 {
		return nil
	}
	out := bw.buffer
	bw.buffer = make([]model.IndicatorResult, 0, 256)
	return out
}

// bufferWrite puts pending back in front of anything buffered meanwhile and
// appends the confirmed results of the failed batch.
func (bw *BufferedWriter) bufferWrite(pending, results []model.IndicatorResult) {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	buf := append(pending, bw.buffer...)
	added := 0
	for _, r := range results {
		if r.Live || !r.Ready {
			continue
		}
		buf = append(buf, r)
		added++
	}
	if over := len(buf) - bw.maxBuf; over > 0 {
		// Buffer full: drop oldest
		buf = append(buf[:0:0], buf[over:]...)
	}
	bw.buffer = buf

	if added > 0 && bw.OnBuffer != nil {
		bw.OnBuffer(added)
	}
}

// PendingCount returns the number of buffered results waiting to be flushed.
func (bw *BufferedWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}
