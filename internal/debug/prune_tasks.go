package debug

import (
	"context"
	"database/sql"
	"log/slog"
)

// PruneTasks deletes all persisted evaluation task snapshots (dev-only
// helper for clearing stale task state).
func PruneTasks(db *sql.DB, logger *slog.Logger) error {
	res, err := db.ExecContext(context.Background(), `DELETE FROM evaluation_tasks`)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	logger.Info("pruned evaluation_tasks rows", "count", n)
	return nil
}
