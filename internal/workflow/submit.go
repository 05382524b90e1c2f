package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"deepscan/internal/logging"
	"deepscan/internal/services"
	"deepscan/internal/store"
)

// SubmitRequest describes a new job.
type SubmitRequest struct {
	JobID         string
	MediaRef      string
	Filename      string
	FileSizeBytes int64
	Config        map[string]string
	// MaxRetries overrides retry.max_retries when set.
	MaxRetries *int
}

// Rejection reasons reported to the recorder.
const (
	RejectRateLimited = "rate_limited"
	RejectQueueFull   = "queue_full"
	RejectInvalid     = "invalid"
)

// Submit admits a job into the queue. Rate-limit and capacity rejections
// wrap services.ErrResourceLimit and leave no job behind.
func (p *Pool) Submit(ctx context.Context, req SubmitRequest) (*store.Job, error) {
	ref := strings.TrimSpace(req.MediaRef)
	if ref == "" {
		p.reject(RejectInvalid)
		return nil, services.Wrap(services.ErrValidation, "submit", "validate request", "media reference is required", nil)
	}
	jobID := strings.TrimSpace(req.JobID)
	if jobID == "" {
		jobID = uuid.NewString()
	} else {
		existing, err := p.store.GetJob(ctx, jobID)
		switch {
		case err == nil && existing != nil:
			p.reject(RejectInvalid)
			return nil, services.Wrap(services.ErrValidation, "submit", "validate request", fmt.Sprintf("job %s already exists", jobID), nil)
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("submit: lookup job: %w", err)
		}
	}

	// Admission is serialized so the pending count cannot be raced past
	// max_pending by concurrent submitters.
	p.admitMu.Lock()
	defer p.admitMu.Unlock()

	if !p.admissionLimiter.Allow() {
		p.reject(RejectRateLimited)
		return nil, services.Wrap(services.ErrResourceLimit, "submit", "admission",
			fmt.Sprintf("rate limit of %d jobs per minute reached", p.cfg.Workers.RateLimitPerMinute), nil)
	}
	if limit := p.cfg.Workers.MaxPending; limit > 0 {
		pending, err := p.store.CountPending(ctx)
		if err != nil {
			return nil, fmt.Errorf("submit: %w", err)
		}
		if pending >= limit {
			p.reject(RejectQueueFull)
			return nil, services.Wrap(services.ErrResourceLimit, "submit", "admission",
				fmt.Sprintf("%d jobs pending (limit %d)", pending, limit), nil)
		}
	}

	maxRetries := p.cfg.Retry.MaxRetries
	if req.MaxRetries != nil {
		maxRetries = max(*req.MaxRetries, 0)
	}
	job := &store.Job{
		ID:            jobID,
		MediaRef:      ref,
		Filename:      strings.TrimSpace(req.Filename),
		FileSizeBytes: req.FileSizeBytes,
		Config:        req.Config,
		Status:        store.StatusQueued,
		MaxRetries:    maxRetries,
	}
	if err := p.store.UpsertJob(ctx, job); err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}
	if p.recorder != nil {
		p.recorder.SubmissionAccepted()
	}
	logging.WithContext(services.WithJobID(ctx, job.ID), p.logger).Info("job submitted",
		logging.String("media_ref", job.MediaRef),
		logging.Int("max_retries", job.MaxRetries),
		logging.String(logging.FieldEventType, "job_submitted"),
	)
	p.notify()
	return job, nil
}

func (p *Pool) reject(reason string) {
	if p.recorder != nil {
		p.recorder.SubmissionRejected(reason)
	}
}
