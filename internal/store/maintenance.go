package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[Status(status)] = count
	}
	return stats, rows.Err()
}

// Health aggregates job counts for diagnostic output.
func (s *Store) Health(ctx context.Context) (Health, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return Health{}, err
	}
	var health Health
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusQueued:
			health.Queued += count
		case StatusProcessing:
			health.Processing += count
		case StatusRetrying:
			health.Retrying += count
		case StatusCompleted:
			health.Completed += count
		case StatusFailed:
			health.Failed += count
		}
	}
	return health, nil
}

// DeleteOlderThan removes terminal jobs finished before cutoff along with
// their results. It returns the number of jobs removed.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx = ensureContext(ctx)
	var removed int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		match := `SELECT job_id FROM jobs WHERE status IN (?, ?) AND completed_at IS NOT NULL AND completed_at < ?`
		args := []any{string(StatusCompleted), string(StatusFailed), formatTime(cutoff)}
		for _, table := range []string{"suspicious_regions", "frame_results", "detection_results", "performance_metrics"} {
			if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM `+table+` WHERE job_id IN (`+match+`)`), args...); err != nil {
				return fmt.Errorf("delete from %s: %w", table, err)
			}
		}
		res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM jobs WHERE job_id IN (`+match+`)`), args...)
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete old jobs: %w", err)
	}
	return removed, nil
}
