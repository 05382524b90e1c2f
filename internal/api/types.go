package api

import (
	"encoding/json"

	"deepscan/internal/detection"
	"deepscan/internal/embedcache"
	"deepscan/internal/ensemble"
	"deepscan/internal/store"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// SubmitRequest is the POST /v1/jobs body.
type SubmitRequest struct {
	JobID         string            `json:"job_id,omitempty"`
	MediaRef      string            `json:"media_ref"`
	Filename      string            `json:"filename,omitempty"`
	FileSizeBytes int64             `json:"file_size_bytes,omitempty"`
	Config        map[string]string `json:"config,omitempty"`
	MaxRetries    *int              `json:"max_retries,omitempty"`
}

// Job is the transport form of a job record.
type Job struct {
	JobID              string            `json:"job_id"`
	MediaRef           string            `json:"media_ref"`
	Filename           string            `json:"filename,omitempty"`
	FileSizeBytes      int64             `json:"file_size_bytes,omitempty"`
	Config             map[string]string `json:"config,omitempty"`
	ContentHash        string            `json:"content_hash,omitempty"`
	Status             string            `json:"status"`
	RetryCount         int               `json:"retry_count"`
	MaxRetries         int               `json:"max_retries"`
	ErrorMessage       string            `json:"error_message,omitempty"`
	ErrorKind          string            `json:"error_kind,omitempty"`
	ProgressPercentage int               `json:"progress_percentage"`
	ProgressStage      string            `json:"progress_stage,omitempty"`
	Worker             string            `json:"worker,omitempty"`
	CreatedAt          string            `json:"created_at,omitempty"`
	StartedAt          string            `json:"started_at,omitempty"`
	CompletedAt        string            `json:"completed_at,omitempty"`
	UpdatedAt          string            `json:"updated_at,omitempty"`
}

// JobListResponse wraps GET /v1/jobs.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// ResultResponse is the GET /v1/jobs/{id}/result payload. Source reports
// whether it was served from the cache or the store.
type ResultResponse struct {
	JobID              string            `json:"job_id"`
	Status             string            `json:"status"`
	DetectionResult    *detection.Result `json:"detection_result,omitempty"`
	PerformanceMetrics *store.Metrics    `json:"performance_metrics,omitempty"`
	ProcessingTimeMS   float64           `json:"processing_time,omitempty"`
	Version            int               `json:"version,omitempty"`
	Source             string            `json:"source"`
}

// Result sources.
const (
	SourceCache = "cache"
	SourceStore = "store"
)

// CacheKeysResponse lists keys matching a pattern.
type CacheKeysResponse struct {
	Pattern string   `json:"pattern"`
	Keys    []string `json:"keys"`
}

// InvalidateResponse reports how many keys were removed.
type InvalidateResponse struct {
	Pattern string `json:"pattern"`
	Removed int    `json:"removed"`
}

// ParsedKeyResponse is the structured form of one cache key.
type ParsedKeyResponse struct {
	Key    string          `json:"key"`
	Class  string          `json:"class"`
	Parsed json.RawMessage `json:"parsed"`
}

// HealthResponse aggregates store, cache and worker state.
type HealthResponse struct {
	Status  string              `json:"status"`
	Store   ComponentHealth     `json:"store"`
	Workers WorkerHealth        `json:"workers"`
	Queue   store.Health        `json:"queue"`
	Cache   *embedcache.Stats   `json:"cache,omitempty"`
	Device  *ensemble.GateStats `json:"device,omitempty"`
}

// ComponentHealth mirrors readiness for one dependency.
type ComponentHealth struct {
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// WorkerHealth summarizes the worker pool.
type WorkerHealth struct {
	Running   bool   `json:"running"`
	Owner     string `json:"owner,omitempty"`
	Workers   int    `json:"workers"`
	Busy      int    `json:"busy"`
	Held      int    `json:"held"`
	LastError string `json:"last_error,omitempty"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
