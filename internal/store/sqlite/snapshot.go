package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
)

// snapshotsKept is how many snapshots survive pruning.
const snapshotsKept = 10

// SaveSnapshotJSON stores an encoded engine snapshot and prunes old ones.
func (s *Store) SaveSnapshotJSON(ctx context.Context, data []byte) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO indicator_snapshots (data) VALUES (?)`, string(data))
	if err != nil {
		return fmt.Errorf("sqlite insert snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		DELETE FROM indicator_snapshots
		WHERE id NOT IN (SELECT id FROM indicator_snapshots ORDER BY id DESC LIMIT ?)
	`, snapshotsKept)
	if err != nil {
		slog.Warn("prune snapshots failed", "component", "sqlite", "error", err)
	}
	return nil
}

// ReadLatestSnapshotJSON loads the most recent snapshot. Returns nil, nil if
// none exists.
func (s *Store) ReadLatestSnapshotJSON(ctx context.Context) ([]byte, error) {
	var data string
	err := s.db.GetContext(ctx, &data, `SELECT data FROM indicator_snapshots ORDER BY id DESC LIMIT 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite read snapshot: %w", err)
	}
	return []byte(data), nil
}
