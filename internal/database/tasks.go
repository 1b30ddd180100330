package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/LoveACE-Team/LoveACE/internal/evaluation"
)

// TaskStore persists evaluation task snapshots, one row per principal. It
// implements evaluation.Store.
type TaskStore struct {
	db *DB
}

func NewTaskStore(db *DB) *TaskStore {
	return &TaskStore{db: db}
}

func (s *TaskStore) Save(ctx context.Context, snap evaluation.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode task snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO evaluation_tasks (principal, task_id, state, snapshot, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(principal) DO UPDATE SET
			task_id = excluded.task_id,
			state = excluded.state,
			snapshot = excluded.snapshot,
			updated_at = CURRENT_TIMESTAMP`,
		snap.Principal, snap.TaskID, string(snap.State), string(raw))
	if err != nil {
		return fmt.Errorf("save task snapshot: %w", err)
	}
	return nil
}

func (s *TaskStore) Load(ctx context.Context, principal string) (*evaluation.Snapshot, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		"SELECT snapshot FROM evaluation_tasks WHERE principal = ?", principal).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap evaluation.Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("decode task snapshot: %w", err)
	}
	return &snap, nil
}

func (s *TaskStore) LoadUnfinished(ctx context.Context) ([]evaluation.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT snapshot FROM evaluation_tasks
		WHERE state NOT IN (?, ?, ?)`,
		string(evaluation.StateCompleted),
		string(evaluation.StateTerminated),
		string(evaluation.StateFailed))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []evaluation.Snapshot
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var snap evaluation.Snapshot
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			return nil, fmt.Errorf("decode task snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}
