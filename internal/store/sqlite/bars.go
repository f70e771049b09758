package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"time"

	"tastream/internal/model"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

type barRow struct {
	Token    string          `db:"token"`
	Exchange string          `db:"exchange"`
	TF       int             `db:"tf"`
	TS       int64           `db:"ts"`
	Open     sql.NullFloat64 `db:"open"`
	High     sql.NullFloat64 `db:"high"`
	Low      sql.NullFloat64 `db:"low"`
	Close    sql.NullFloat64 `db:"close"`
	Volume   float64         `db:"volume"`
}

func nullFloat(f float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: f, Valid: !math.IsNaN(f)}
}

func floatOrNaN(n sql.NullFloat64) float64 {
	if !n.Valid {
		return math.NaN()
	}
	return n.Float64
}

func toRow(b model.Bar) barRow {
	return barRow{
		Token:    b.Token,
		Exchange: b.Exchange,
		TF:       b.TF,
		TS:       b.TS.Unix(),
		Open:     nullFloat(b.Open),
		High:     nullFloat(b.High),
		Low:      nullFloat(b.Low),
		Close:    nullFloat(b.Close),
		Volume:   b.Volume,
	}
}

func (r barRow) bar() model.Bar {
	return model.Bar{
		Token:    r.Token,
		Exchange: r.Exchange,
		TF:       r.TF,
		TS:       time.Unix(r.TS, 0).UTC(),
		Open:     floatOrNaN(r.Open),
		High:     floatOrNaN(r.High),
		Low:      floatOrNaN(r.Low),
		Close:    floatOrNaN(r.Close),
		Volume:   r.Volume,
	}
}

// SaveBars upserts closed bars in a single transaction. Forming bars are skipped.
func (s *Store) SaveBars(bars []model.Bar) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}

	for _, b := range bars {
		if b.Forming {
			continue
		}
		_, err := tx.NamedExec(`
			INSERT OR REPLACE INTO bars (token, exchange, tf, ts, open, high, low, close, volume)
			VALUES (:token, :exchange, :tf, :ts, :open, :high, :low, :close, :volume)
		`, toRow(b))
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert bar: %w", err)
		}
	}

	return tx.Commit()
}

// ReadBars reads all bars of a timeframe with TS after afterTS (unix seconds),
// ordered by timestamp for correct replay order.
func (s *Store) ReadBars(tf int, afterTS int64) ([]model.Bar, error) {
	var rows []barRow
	err := s.db.Select(&rows, `
		SELECT token, exchange, tf, ts, open, high, low, close, volume
		FROM bars
		WHERE tf = ? AND ts > ?
		ORDER BY ts ASC
	`, tf, afterTS)
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars: %w", err)
	}

	bars := make([]model.Bar, len(rows))
	for i, r := range rows {
		bars[i] = r.bar()
	}
	return bars, nil
}

// Run reads closed bars from barCh and inserts them in batched transactions.
// Flushes every batchSize bars OR every flushDelay, whichever first.
// Blocks until ctx is cancelled or barCh is closed.
func (s *Store) Run(ctx context.Context, barCh <-chan model.Bar) {
	batch := make([]model.Bar, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := s.SaveBars(batch); err != nil {
			slog.Error("bar batch insert failed", "component", "sqlite", "error", err)
		} else {
			slog.Debug("bars committed", "component", "sqlite", "count", len(batch), "took", time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case bar, ok := <-barCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, bar)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}
		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}
