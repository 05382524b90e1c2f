package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(value time.Time) string {
	return value.UTC().Format(timeLayout)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil || value.IsZero() {
		return nil
	}
	return formatTime(*value)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(timeLayout, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

func parseNullTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	parsed, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &parsed
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", count), ",")
}

func encodeConfig(values map[string]string) (any, error) {
	if len(values) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func decodeConfig(raw sql.NullString) map[string]string {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var values map[string]string
	if err := json.Unmarshal([]byte(raw.String), &values); err != nil {
		return nil
	}
	return values
}

const jobColumns = "job_id, media_ref, filename, file_size_bytes, config_json, content_hash, status, retry_count, max_retries, error_message, error_kind, progress_percentage, progress_stage, created_at, started_at, completed_at, updated_at, claimed_at, worker, last_heartbeat"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		job          Job
		filename     sql.NullString
		configJSON   sql.NullString
		contentHash  sql.NullString
		status       string
		errorMessage sql.NullString
		errorKind    sql.NullString
		stage        sql.NullString
		createdRaw   string
		startedRaw   sql.NullString
		completedRaw sql.NullString
		updatedRaw   string
		claimedRaw   sql.NullString
		worker       sql.NullString
		heartbeatRaw sql.NullString
	)
	if err := scanner.Scan(
		&job.ID,
		&job.MediaRef,
		&filename,
		&job.FileSizeBytes,
		&configJSON,
		&contentHash,
		&status,
		&job.RetryCount,
		&job.MaxRetries,
		&errorMessage,
		&errorKind,
		&job.ProgressPercentage,
		&stage,
		&createdRaw,
		&startedRaw,
		&completedRaw,
		&updatedRaw,
		&claimedRaw,
		&worker,
		&heartbeatRaw,
	); err != nil {
		return nil, err
	}
	job.Filename = filename.String
	job.Config = decodeConfig(configJSON)
	job.ContentHash = contentHash.String
	job.Status = Status(status)
	job.ErrorMessage = errorMessage.String
	job.ErrorKind = errorKind.String
	job.ProgressStage = stage.String
	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	job.StartedAt = parseNullTime(startedRaw)
	job.CompletedAt = parseNullTime(completedRaw)
	job.ClaimedAt = parseNullTime(claimedRaw)
	job.Worker = worker.String
	job.LastHeartbeat = parseNullTime(heartbeatRaw)
	return &job, nil
}
