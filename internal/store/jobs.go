package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidTransition reports a status change the lifecycle forbids, such
// as leaving a terminal state.
var ErrInvalidTransition = errors.New("invalid status transition")

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

// UpsertJob inserts a job or refreshes its submission metadata. Status and
// progress of an existing row are left alone.
func (s *Store) UpsertJob(ctx context.Context, job *Job) error {
	if job == nil || strings.TrimSpace(job.ID) == "" {
		return errors.New("upsert job: job id is required")
	}
	if strings.TrimSpace(job.MediaRef) == "" {
		return errors.New("upsert job: media ref is required")
	}
	if job.Status == "" {
		job.Status = StatusQueued
	}
	now := s.now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	configJSON, err := encodeConfig(job.Config)
	if err != nil {
		return fmt.Errorf("encode job config: %w", err)
	}
	_, err = s.exec(ctx, `INSERT INTO jobs (
            job_id, media_ref, filename, file_size_bytes, config_json, content_hash,
            status, retry_count, max_retries, progress_percentage, progress_stage,
            created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (job_id) DO UPDATE SET
            media_ref = excluded.media_ref,
            filename = excluded.filename,
            file_size_bytes = excluded.file_size_bytes,
            config_json = excluded.config_json,
            max_retries = excluded.max_retries,
            updated_at = excluded.updated_at`,
		job.ID,
		job.MediaRef,
		nullableString(job.Filename),
		job.FileSizeBytes,
		configJSON,
		nullableString(job.ContentHash),
		string(job.Status),
		job.RetryCount,
		job.MaxRetries,
		job.ProgressPercentage,
		nullableString(job.ProgressStage),
		formatTime(job.CreatedAt),
		formatTime(job.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert job: %w", err)
	}
	return nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, jobID string) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), s.rebind(`SELECT `+jobColumns+` FROM jobs WHERE job_id = ?`), jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// UpdateStatus applies a lifecycle transition and any accompanying fields.
// Progress only moves forward. Entering a terminal state stamps completed_at
// and releases the lease; re-entering the current status is a no-op
// transition so repeated writes are safe.
func (s *Store) UpdateStatus(ctx context.Context, jobID string, update StatusUpdate) (*Job, error) {
	if update.Status == "" {
		return nil, errors.New("update status: status is required")
	}
	ctx = ensureContext(ctx)
	var out *Job
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, s.rebind(`SELECT `+jobColumns+` FROM jobs WHERE job_id = ?`), jobID)
		job, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		if !CanTransition(job.Status, update.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, update.Status)
		}

		now := s.now().UTC()
		job.Status = update.Status
		job.UpdatedAt = now
		if update.Error != nil {
			job.ErrorMessage = *update.Error
		}
		if update.ErrorKind != nil {
			job.ErrorKind = *update.ErrorKind
		}
		if update.Progress != nil {
			job.ProgressPercentage = max(job.ProgressPercentage, min(*update.Progress, 100))
		}
		if update.Stage != nil {
			job.ProgressStage = *update.Stage
		}
		if update.RetryCount != nil {
			job.RetryCount = *update.RetryCount
		}
		if update.ContentHash != nil {
			job.ContentHash = *update.ContentHash
		}
		if update.Status == StatusProcessing && job.StartedAt == nil {
			job.StartedAt = &now
		}
		switch {
		case update.Status.Terminal():
			if job.CompletedAt == nil {
				job.CompletedAt = &now
			}
			job.ClaimedAt = nil
			job.Worker = ""
		case update.Status == StatusQueued:
			job.ClaimedAt = nil
			job.Worker = ""
		}

		_, err = tx.ExecContext(ctx, s.rebind(`UPDATE jobs SET
                status = ?, error_message = ?, error_kind = ?, progress_percentage = ?,
                progress_stage = ?, retry_count = ?, content_hash = ?, started_at = ?,
                completed_at = ?, updated_at = ?, claimed_at = ?, worker = ?
            WHERE job_id = ?`),
			string(job.Status),
			nullableString(job.ErrorMessage),
			nullableString(job.ErrorKind),
			job.ProgressPercentage,
			nullableString(job.ProgressStage),
			job.RetryCount,
			nullableString(job.ContentHash),
			nullableTime(job.StartedAt),
			nullableTime(job.CompletedAt),
			formatTime(job.UpdatedAt),
			nullableTime(job.ClaimedAt),
			nullableString(job.Worker),
			jobID,
		)
		if err != nil {
			return err
		}
		out = job
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidTransition) {
			return nil, err
		}
		return nil, fmt.Errorf("update status: %w", err)
	}
	return out, nil
}

// ListJobs returns jobs newest first, optionally filtered by status.
func (s *Store) ListJobs(ctx context.Context, filter ListFilter) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := make([]any, 0, len(filter.Statuses)+1)
	if len(filter.Statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(filter.Statuses)) + `)`
		for _, status := range filter.Statuses {
			args = append(args, string(status))
		}
	}
	query += ` ORDER BY created_at DESC, job_id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ClaimNext leases the oldest unclaimed QUEUED job for worker. It returns
// nil when nothing is waiting. Concurrent claimers never receive the same job.
func (s *Store) ClaimNext(ctx context.Context, worker string) (*Job, error) {
	ctx = ensureContext(ctx)
	for attempt := 0; attempt < 5; attempt++ {
		var jobID string
		err := s.db.QueryRowContext(ctx, s.rebind(`SELECT job_id FROM jobs
            WHERE status = ? AND claimed_at IS NULL
            ORDER BY created_at, job_id LIMIT 1`), string(StatusQueued)).Scan(&jobID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("claim next: %w", err)
		}
		now := s.timestamp()
		res, err := s.exec(ctx, `UPDATE jobs SET claimed_at = ?, worker = ?, last_heartbeat = ?, updated_at = ?
            WHERE job_id = ? AND status = ? AND claimed_at IS NULL`,
			now, worker, now, now, jobID, string(StatusQueued))
		if err != nil {
			return nil, fmt.Errorf("claim next: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected == 1 {
			return s.GetJob(ctx, jobID)
		}
	}
	return nil, nil
}

// ReleaseClaim drops the lease on a job that was claimed but never started.
func (s *Store) ReleaseClaim(ctx context.Context, jobID string) error {
	_, err := s.exec(ctx, `UPDATE jobs SET claimed_at = NULL, worker = NULL, updated_at = ?
        WHERE job_id = ? AND status = ?`, s.timestamp(), jobID, string(StatusQueued))
	if err != nil {
		return fmt.Errorf("release claim: %w", err)
	}
	return nil
}

// Heartbeat refreshes the lease held by worker.
func (s *Store) Heartbeat(ctx context.Context, jobID, worker string) error {
	now := s.timestamp()
	_, err := s.exec(ctx, `UPDATE jobs SET last_heartbeat = ?, updated_at = ?
        WHERE job_id = ? AND worker = ?`, now, now, jobID, worker)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

// ReclaimStale returns leased or running jobs whose heartbeat is older than
// cutoff to QUEUED so another worker can pick them up.
func (s *Store) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.exec(ctx, `UPDATE jobs SET status = ?, claimed_at = NULL, worker = NULL, updated_at = ?
        WHERE claimed_at IS NOT NULL AND status IN (?, ?, ?)
          AND (last_heartbeat IS NULL OR last_heartbeat < ?)`,
		string(StatusQueued), s.timestamp(),
		string(StatusQueued), string(StatusProcessing), string(StatusRetrying),
		formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("reclaim stale: %w", err)
	}
	return res.RowsAffected()
}

// ResetStuck requeues every leased or running job. It runs on daemon startup,
// when no worker can still own a lease.
func (s *Store) ResetStuck(ctx context.Context) (int64, error) {
	res, err := s.exec(ctx, `UPDATE jobs SET status = ?, claimed_at = NULL, worker = NULL, updated_at = ?
        WHERE status IN (?, ?) OR (status = ? AND claimed_at IS NOT NULL)`,
		string(StatusQueued), s.timestamp(),
		string(StatusProcessing), string(StatusRetrying), string(StatusQueued))
	if err != nil {
		return 0, fmt.Errorf("reset stuck jobs: %w", err)
	}
	return res.RowsAffected()
}

// CountPending returns the number of jobs that are queued or running.
func (s *Store) CountPending(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ensureContext(ctx), s.rebind(`SELECT COUNT(1) FROM jobs WHERE status IN (?, ?, ?)`),
		string(StatusQueued), string(StatusProcessing), string(StatusRetrying)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return count, nil
}
