package api

import (
	"time"

	"deepscan/internal/store"
)

// FromJob converts a job record to its API representation.
func FromJob(job *store.Job) Job {
	if job == nil {
		return Job{}
	}
	return Job{
		JobID:              job.ID,
		MediaRef:           job.MediaRef,
		Filename:           job.Filename,
		FileSizeBytes:      job.FileSizeBytes,
		Config:             job.Config,
		ContentHash:        job.ContentHash,
		Status:             string(job.Status),
		RetryCount:         job.RetryCount,
		MaxRetries:         job.MaxRetries,
		ErrorMessage:       job.ErrorMessage,
		ErrorKind:          job.ErrorKind,
		ProgressPercentage: job.ProgressPercentage,
		ProgressStage:      job.ProgressStage,
		Worker:             job.Worker,
		CreatedAt:          formatTime(job.CreatedAt),
		StartedAt:          formatTimePtr(job.StartedAt),
		CompletedAt:        formatTimePtr(job.CompletedAt),
		UpdatedAt:          formatTime(job.UpdatedAt),
	}
}

// FromJobs converts a slice of job records.
func FromJobs(jobs []*store.Job) []Job {
	out := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, FromJob(job))
	}
	return out
}

// ParseTime reads a timestamp produced by the API.
func ParseTime(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(dateTimeFormat, value)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
