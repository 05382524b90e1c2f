package store

import (
	"time"

	"deepscan/internal/detection"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusRetrying   Status = "retrying"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var allStatuses = []Status{StatusQueued, StatusProcessing, StatusRetrying, StatusCompleted, StatusFailed}

// ParseStatus validates a status string.
func ParseStatus(value string) (Status, bool) {
	for _, status := range allStatuses {
		if string(status) == value {
			return status, true
		}
	}
	return "", false
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Active reports whether a job in this status occupies a worker.
func (s Status) Active() bool {
	return s == StatusProcessing || s == StatusRetrying
}

// CanTransition reports whether from -> to is a legal lifecycle step.
// Repeating the current status is always allowed so writes stay idempotent.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusQueued:
		return to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusCompleted || to == StatusRetrying || to == StatusFailed || to == StatusQueued
	case StatusRetrying:
		return to == StatusProcessing || to == StatusFailed || to == StatusQueued
	}
	return false
}

// Job is the persisted job record.
type Job struct {
	ID                 string
	MediaRef           string
	Filename           string
	FileSizeBytes      int64
	Config             map[string]string
	ContentHash        string
	Status             Status
	RetryCount         int
	MaxRetries         int
	ErrorMessage       string
	ErrorKind          string
	ProgressPercentage int
	ProgressStage      string
	CreatedAt          time.Time
	StartedAt          *time.Time
	CompletedAt        *time.Time
	UpdatedAt          time.Time
	ClaimedAt          *time.Time
	Worker             string
	LastHeartbeat      *time.Time
}

// StatusUpdate carries the fields UpdateStatus may change. Nil fields are
// left as they are.
type StatusUpdate struct {
	Status      Status
	Error       *string
	ErrorKind   *string
	Progress    *int
	Stage       *string
	RetryCount  *int
	ContentHash *string
}

// Metrics is the performance summary stored with a result.
type Metrics struct {
	TotalProcessingTimeMS float64 `json:"total_processing_time_ms"`
	VideoDurationSeconds  float64 `json:"video_duration"`
	TotalFrames           int     `json:"total_frames"`
	FramesPerSecond       float64 `json:"frames_per_second"`
	FileSizeMB            float64 `json:"file_size_mb"`
	CacheHit              bool    `json:"cache_hit"`
	TaskID                string  `json:"task_id"`
	RetryCount            int     `json:"retry_count"`
}

// StoredResult is a persisted detection result plus its revision counter.
type StoredResult struct {
	detection.Result
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FullResult aggregates everything known about a job.
type FullResult struct {
	Job       Job
	Detection *StoredResult
	Metrics   *Metrics
}

// ListFilter narrows ListJobs.
type ListFilter struct {
	Statuses []Status
	Limit    int
}

// Health summarizes job counts.
type Health struct {
	Total      int `json:"total"`
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Retrying   int `json:"retrying"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}
