package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"deepscan/internal/detection"
)

// UpsertDetectionResult writes the job-level result row. Re-running a job
// replaces the row and bumps its version; the new version is returned.
func (s *Store) UpsertDetectionResult(ctx context.Context, jobID string, result detection.Result) (int, error) {
	ctx = ensureContext(ctx)
	summary, err := json.Marshal(result.Summary)
	if err != nil {
		return 0, fmt.Errorf("encode summary: %w", err)
	}
	now := s.timestamp()
	if _, err := s.exec(ctx, `INSERT INTO detection_results (
            job_id, overall_confidence, model_version, verification_hash, summary_json,
            version, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, 1, ?, ?)
        ON CONFLICT (job_id) DO UPDATE SET
            overall_confidence = excluded.overall_confidence,
            model_version = excluded.model_version,
            verification_hash = excluded.verification_hash,
            summary_json = excluded.summary_json,
            version = detection_results.version + 1,
            updated_at = excluded.updated_at`,
		jobID,
		result.OverallConfidence,
		nullableString(result.ModelVersion),
		nullableString(result.VerificationHash),
		string(summary),
		now,
		now,
	); err != nil {
		return 0, fmt.Errorf("upsert detection result: %w", err)
	}
	var version int
	if err := s.db.QueryRowContext(ctx, s.rebind(`SELECT version FROM detection_results WHERE job_id = ?`), jobID).Scan(&version); err != nil {
		return 0, fmt.Errorf("read result version: %w", err)
	}
	return version, nil
}

// UpsertFrameResults writes per-frame rows keyed by (job, frame) together
// with their suspicious regions. Frames left over from an earlier, longer
// run are removed.
func (s *Store) UpsertFrameResults(ctx context.Context, jobID string, frames []detection.FrameResult) error {
	ctx = ensureContext(ctx)
	maxFrame := -1
	for _, frame := range frames {
		maxFrame = max(maxFrame, frame.FrameNumber)
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		frameStmt, err := tx.PrepareContext(ctx, s.rebind(`INSERT INTO frame_results (job_id, frame_number, confidence, processing_time_ms)
            VALUES (?, ?, ?, ?)
            ON CONFLICT (job_id, frame_number) DO UPDATE SET
                confidence = excluded.confidence,
                processing_time_ms = excluded.processing_time_ms`))
		if err != nil {
			return err
		}
		defer frameStmt.Close()
		regionStmt, err := tx.PrepareContext(ctx, s.rebind(`INSERT INTO suspicious_regions (
                job_id, frame_number, region_index, x, y, width, height, confidence, method, anomaly_type, severity
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
            ON CONFLICT (job_id, frame_number, region_index) DO UPDATE SET
                x = excluded.x, y = excluded.y, width = excluded.width, height = excluded.height,
                confidence = excluded.confidence, method = excluded.method,
                anomaly_type = excluded.anomaly_type, severity = excluded.severity`))
		if err != nil {
			return err
		}
		defer regionStmt.Close()

		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM frame_results WHERE job_id = ? AND frame_number > ?`), jobID, maxFrame); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM suspicious_regions WHERE job_id = ?`), jobID); err != nil {
			return err
		}
		for _, frame := range frames {
			if _, err := frameStmt.ExecContext(ctx, jobID, frame.FrameNumber, frame.Confidence, frame.ProcessingTimeMS); err != nil {
				return err
			}
			for idx, region := range frame.SuspiciousRegions {
				if _, err := regionStmt.ExecContext(ctx, jobID, frame.FrameNumber, idx,
					region.X, region.Y, region.Width, region.Height, region.Confidence,
					region.Method, region.AnomalyType, region.Severity); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert frame results: %w", err)
	}
	return nil
}

// UpsertMetrics writes the performance summary for a job.
func (s *Store) UpsertMetrics(ctx context.Context, jobID string, metrics Metrics) error {
	_, err := s.exec(ctx, `INSERT INTO performance_metrics (
            job_id, total_processing_time_ms, video_duration_seconds, total_frames,
            frames_per_second, file_size_mb, cache_hit, task_id, retry_count, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (job_id) DO UPDATE SET
            total_processing_time_ms = excluded.total_processing_time_ms,
            video_duration_seconds = excluded.video_duration_seconds,
            total_frames = excluded.total_frames,
            frames_per_second = excluded.frames_per_second,
            file_size_mb = excluded.file_size_mb,
            cache_hit = excluded.cache_hit,
            task_id = excluded.task_id,
            retry_count = excluded.retry_count,
            updated_at = excluded.updated_at`,
		jobID,
		metrics.TotalProcessingTimeMS,
		metrics.VideoDurationSeconds,
		metrics.TotalFrames,
		metrics.FramesPerSecond,
		metrics.FileSizeMB,
		boolToInt(metrics.CacheHit),
		nullableString(metrics.TaskID),
		metrics.RetryCount,
		s.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("upsert metrics: %w", err)
	}
	return nil
}

// GetFullResult assembles a job with its detection result and metrics.
// Only completed jobs carry a Detection. Failed jobs carry Metrics with
// their retry count; jobs still in flight carry neither.
func (s *Store) GetFullResult(ctx context.Context, jobID string) (*FullResult, error) {
	ctx = ensureContext(ctx)
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	full := &FullResult{Job: *job}

	stored, err := s.getDetection(ctx, jobID)
	if err != nil {
		return nil, err
	}
	full.Detection = stored

	metrics, err := s.getMetrics(ctx, jobID)
	if err != nil {
		return nil, err
	}
	full.Metrics = metrics
	return full, nil
}

func (s *Store) getDetection(ctx context.Context, jobID string) (*StoredResult, error) {
	var (
		stored       StoredResult
		modelVersion sql.NullString
		hash         sql.NullString
		summaryJSON  string
		createdRaw   string
		updatedRaw   string
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT overall_confidence, model_version, verification_hash,
            summary_json, version, created_at, updated_at
        FROM detection_results WHERE job_id = ?`), jobID).Scan(
		&stored.OverallConfidence, &modelVersion, &hash, &summaryJSON, &stored.Version, &createdRaw, &updatedRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get detection result: %w", err)
	}
	stored.ModelVersion = modelVersion.String
	stored.VerificationHash = hash.String
	if err := json.Unmarshal([]byte(summaryJSON), &stored.Summary); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	stored.CreatedAt, _ = parseTimeString(createdRaw)
	stored.UpdatedAt, _ = parseTimeString(updatedRaw)

	frames, err := s.getFrames(ctx, jobID)
	if err != nil {
		return nil, err
	}
	stored.Frames = frames
	return &stored, nil
}

func (s *Store) getFrames(ctx context.Context, jobID string) ([]detection.FrameResult, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT frame_number, confidence, processing_time_ms
        FROM frame_results WHERE job_id = ? ORDER BY frame_number`), jobID)
	if err != nil {
		return nil, fmt.Errorf("get frame results: %w", err)
	}
	frames := make([]detection.FrameResult, 0)
	index := make(map[int]int)
	for rows.Next() {
		frame := detection.FrameResult{SuspiciousRegions: []detection.Region{}}
		if err := rows.Scan(&frame.FrameNumber, &frame.Confidence, &frame.ProcessingTimeMS); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan frame result: %w", err)
		}
		index[frame.FrameNumber] = len(frames)
		frames = append(frames, frame)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	regionRows, err := s.db.QueryContext(ctx, s.rebind(`SELECT frame_number, x, y, width, height, confidence,
            method, anomaly_type, severity
        FROM suspicious_regions WHERE job_id = ? ORDER BY frame_number, region_index`), jobID)
	if err != nil {
		return nil, fmt.Errorf("get suspicious regions: %w", err)
	}
	defer regionRows.Close()
	for regionRows.Next() {
		var (
			frameNumber int
			region      detection.Region
		)
		if err := regionRows.Scan(&frameNumber, &region.X, &region.Y, &region.Width, &region.Height,
			&region.Confidence, &region.Method, &region.AnomalyType, &region.Severity); err != nil {
			return nil, fmt.Errorf("scan region: %w", err)
		}
		if pos, ok := index[frameNumber]; ok {
			frames[pos].SuspiciousRegions = append(frames[pos].SuspiciousRegions, region)
		}
	}
	return frames, regionRows.Err()
}

func (s *Store) getMetrics(ctx context.Context, jobID string) (*Metrics, error) {
	var (
		metrics  Metrics
		cacheHit int
		taskID   sql.NullString
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT total_processing_time_ms, video_duration_seconds, total_frames,
            frames_per_second, file_size_mb, cache_hit, task_id, retry_count
        FROM performance_metrics WHERE job_id = ?`), jobID).Scan(
		&metrics.TotalProcessingTimeMS, &metrics.VideoDurationSeconds, &metrics.TotalFrames,
		&metrics.FramesPerSecond, &metrics.FileSizeMB, &cacheHit, &taskID, &metrics.RetryCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get metrics: %w", err)
	}
	metrics.CacheHit = cacheHit != 0
	metrics.TaskID = taskID.String
	return &metrics, nil
}
