package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/quarteridge/galleryd/internal/domain"
	"github.com/quarteridge/galleryd/internal/state"
)

var ErrNoSnapshot = errors.New("no snapshot stored")

// keepRuns bounds how many historical snapshots survive a save.
const keepRuns = 10

// Save writes the snapshot as a new run and returns its id. Older
// runs beyond the retention bound are pruned in the same transaction.
func (s *PersistentStore) Save(ctx context.Context, snap state.Snapshot) (string, error) {
	runID := ksuid.New().String()
	savedAt := snap.Timestamp
	if savedAt.IsZero() {
		savedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots (run_id, saved_at) VALUES (?, ?)`,
		runID, savedAt.UnixNano(),
	); err != nil {
		return "", fmt.Errorf("failed to save snapshot header: %w", err)
	}

	query := `INSERT OR REPLACE INTO snapshot_sessions (run_id, url_index, source_url, status, data)
              VALUES (?, ?, ?, ?, ?)`
	for index, sess := range snap.Sessions {
		data, err := json.Marshal(sess)
		if err != nil {
			return "", fmt.Errorf("failed to encode session %d: %w", index, err)
		}
		if _, err := tx.ExecContext(ctx, query,
			runID, index, sess.SourceURL, string(sess.Status), data,
		); err != nil {
			return "", fmt.Errorf("failed to save session %d: %w", index, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM snapshots WHERE run_id NOT IN (
			SELECT run_id FROM snapshots ORDER BY saved_at DESC LIMIT ?
		)`, keepRuns,
	); err != nil {
		return "", fmt.Errorf("failed to prune old snapshots: %w", err)
	}

	return runID, tx.Commit()
}

// Latest loads the most recently saved snapshot.
func (s *PersistentStore) Latest(ctx context.Context) (state.Snapshot, error) {
	var runID string
	var savedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, saved_at FROM snapshots ORDER BY saved_at DESC LIMIT 1`,
	).Scan(&runID, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return state.Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return state.Snapshot{}, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT url_index, data FROM snapshot_sessions WHERE run_id = ?`, runID)
	if err != nil {
		return state.Snapshot{}, err
	}
	defer rows.Close()

	snap := state.Snapshot{
		Sessions:  make(map[int]domain.Session),
		Timestamp: time.Unix(0, savedAt),
	}
	for rows.Next() {
		var index int
		var data string
		if err := rows.Scan(&index, &data); err != nil {
			return state.Snapshot{}, err
		}
		var sess domain.Session
		if err := json.Unmarshal([]byte(data), &sess); err != nil {
			return state.Snapshot{}, fmt.Errorf("failed to decode session %d: %w", index, err)
		}
		snap.Sessions[index] = sess
	}
	return snap, rows.Err()
}
