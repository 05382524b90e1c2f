package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"deepscan/internal/config"
	"deepscan/internal/detection"
	"deepscan/internal/embedcache"
	"deepscan/internal/logging"
	"deepscan/internal/media"
	"deepscan/internal/progress"
	"deepscan/internal/retry"
	"deepscan/internal/scoring"
	"deepscan/internal/services"
	"deepscan/internal/store"
)

// Per-job configuration keys honoured in store.Job.Config.
const (
	ConfigScorer    = "scorer"
	ConfigSkipCache = "skip_cache"
)

// Observer receives job lifecycle measurements. The metrics package
// implements it; a nil Observer is ignored.
type Observer interface {
	StageReached(stage string)
	JobRetried(kind services.Kind)
	JobFinished(status store.Status, kind services.Kind, cacheHit bool, elapsed time.Duration, frames int)
}

// Deps are the collaborators shared by every job run. They are built once
// at process start.
type Deps struct {
	Store      *store.Store
	Cache      *embedcache.Cache
	Progress   *progress.Broadcaster
	Combiner   Combiner
	Source     Source
	Scorer     scoring.Scorer
	Policy     retry.Policy
	Thresholds detection.Thresholds
	BatchSize  int
	Observer   Observer
	Logger     *slog.Logger
	Now        func() time.Time
}

// Orchestrator runs jobs through the detection pipeline.
type Orchestrator struct {
	store      *store.Store
	cache      *embedcache.Cache
	progress   *progress.Broadcaster
	combiner   Combiner
	source     Source
	scorer     scoring.Scorer
	policy     retry.Policy
	thresholds detection.Thresholds
	batchSize  int
	observer   Observer
	logger     *slog.Logger
	now        func() time.Time
}

// Outcome is the result of a successful run.
type Outcome struct {
	JobID          string
	ContentHash    string
	Result         detection.Result
	Metrics        store.Metrics
	Version        int
	ProcessingTime time.Duration
}

// New validates deps.
func New(deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("orchestrator: store is required")
	case deps.Cache == nil:
		return nil, errors.New("orchestrator: cache is required")
	case deps.Combiner == nil:
		return nil, errors.New("orchestrator: combiner is required")
	case deps.Source == nil:
		return nil, errors.New("orchestrator: media source is required")
	case deps.Scorer == nil:
		return nil, errors.New("orchestrator: scorer is required")
	}
	o := &Orchestrator{
		store:      deps.Store,
		cache:      deps.Cache,
		progress:   deps.Progress,
		combiner:   deps.Combiner,
		source:     deps.Source,
		scorer:     deps.Scorer,
		policy:     deps.Policy,
		thresholds: deps.Thresholds,
		batchSize:  deps.BatchSize,
		observer:   deps.Observer,
		logger:     logging.NewComponentLogger(deps.Logger, "orchestrator"),
		now:        deps.Now,
	}
	if o.batchSize <= 0 {
		o.batchSize = config.Default().Extraction.BatchSize
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.thresholds == (detection.Thresholds{}) {
		o.thresholds = detection.ThresholdsFromConfig(config.Default().Detection)
	}
	return o, nil
}

// run is the state of one Run call, shared across attempts.
type run struct {
	job      *store.Job
	taskID   string
	started  time.Time
	tracker  *tracker
	retries  int
	scorer   scoring.Scorer
	useCache bool
	logger   *slog.Logger
}

// Run executes job until it completes, fails permanently, or exhausts its
// retries. The job must already be persisted. On shutdown (ctx canceled)
// the job is returned to QUEUED and the context error is returned.
func (o *Orchestrator) Run(ctx context.Context, job *store.Job) (*Outcome, error) {
	if job == nil || strings.TrimSpace(job.ID) == "" {
		return nil, errors.New("orchestrator: job id is required")
	}
	ctx = services.WithJobID(ctx, job.ID)
	r := &run{
		job:      job,
		taskID:   uuid.NewString(),
		started:  o.now(),
		tracker:  newTracker(job.ProgressPercentage),
		scorer:   o.scorer,
		useCache: true,
	}
	r.logger = logging.WithContext(ctx, o.logger).With(logging.String("task_id", r.taskID))
	if err := o.applyJobConfig(r); err != nil {
		return nil, o.fail(ctx, r, tag(StageInitialization, "job config", err))
	}

	policy := o.policy
	policy.MaxRetries = max(job.MaxRetries, 0)
	policy.Retryable = func(err error) bool {
		if shutdown(ctx, err) {
			return false
		}
		return services.Classify(err).Retryable()
	}
	policy.OnRetry = func(ctx context.Context, attempt int, err error, delay time.Duration) {
		o.markRetrying(ctx, r, attempt, err, delay)
	}

	var outcome *Outcome
	err := policy.Execute(ctx, func(ctx context.Context, attempt int) error {
		out, err := o.attempt(services.WithStage(ctx, StageInitialization.Name), r, attempt)
		if err != nil {
			return err
		}
		outcome = out
		return nil
	})
	if err != nil {
		if shutdown(ctx, err) {
			o.requeue(ctx, r)
			return nil, err
		}
		if cause := context.Cause(ctx); cause != nil && errors.Is(err, context.Canceled) && !errors.Is(cause, context.Canceled) && !errors.Is(err, cause) {
			err = fmt.Errorf("%w: %w", cause, err)
		}
		return nil, o.fail(ctx, r, err)
	}
	return outcome, nil
}

func (o *Orchestrator) applyJobConfig(r *run) error {
	for key, value := range r.job.Config {
		switch key {
		case ConfigScorer:
			scorer, err := scoring.New(value)
			if err != nil {
				return services.Wrap(services.ErrValidation, StageInitialization.Name, "job config", "", err)
			}
			r.scorer = scorer
		case ConfigSkipCache:
			r.useCache = !strings.EqualFold(strings.TrimSpace(value), "true")
		}
	}
	return nil
}

// detached returns a short-lived context that survives cancellation of
// ctx so terminal transitions are recorded after a timeout.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
}

func (o *Orchestrator) markRetrying(ctx context.Context, r *run, attempt int, err error, delay time.Duration) {
	r.retries = attempt
	kind := services.Classify(err)
	message := err.Error()
	kindStr := string(kind)
	stage, pct := r.tracker.current()

	r.logger.Warn("job attempt failed; retrying",
		logging.Int(logging.FieldAttempt, attempt),
		logging.Duration("delay", delay),
		logging.String(logging.FieldStage, stage),
		logging.String(logging.FieldErrorKind, kindStr),
		logging.Error(err),
		logging.String(logging.FieldEventType, "job_retry"),
		logging.String(logging.FieldErrorHint, "transient failures are retried with backoff"),
		logging.String(logging.FieldImpact, "job completion delayed"),
	)
	wctx, cancel := detached(ctx)
	defer cancel()
	if _, serr := o.store.UpdateStatus(wctx, r.job.ID, store.StatusUpdate{
		Status:     store.StatusRetrying,
		Error:      &message,
		ErrorKind:  &kindStr,
		RetryCount: &attempt,
	}); serr != nil {
		r.logger.Error("failed to persist retry transition", logging.Error(serr))
	}
	o.publish(r, store.StatusRetrying, stage, pct,
		fmt.Sprintf("attempt %d failed (%s); retrying in %s", attempt, kind, delay.Round(time.Millisecond)))
	if o.observer != nil {
		o.observer.JobRetried(kind)
	}
}

func (o *Orchestrator) fail(ctx context.Context, r *run, err error) error {
	kind := services.Classify(err)
	kindStr := string(kind)
	message := err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		message = "processing exceeded the soft time limit: " + message
	}
	stage, pct := r.tracker.current()
	retries := r.retries

	logging.ErrorWithContext(r.logger, "job failed", "job_failed",
		logging.String(logging.FieldStage, stage),
		logging.String(logging.FieldErrorKind, kindStr),
		logging.Int("retry_count", retries),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, failureHint(kind)),
	)
	wctx, cancel := detached(ctx)
	defer cancel()
	if _, serr := o.store.UpdateStatus(wctx, r.job.ID, store.StatusUpdate{
		Status:     store.StatusFailed,
		Error:      &message,
		ErrorKind:  &kindStr,
		RetryCount: &retries,
	}); serr != nil {
		r.logger.Error("failed to persist job failure", logging.Error(serr))
	}
	metrics := o.buildMetrics(r, media.Info{}, 0, false, o.now().Sub(r.started))
	if merr := o.store.UpsertMetrics(wctx, r.job.ID, metrics); merr != nil {
		r.logger.Warn("failed to record failure metrics", logging.Error(merr))
	}
	o.publish(r, store.StatusFailed, stage, pct, message)
	if o.observer != nil {
		o.observer.JobFinished(store.StatusFailed, kind, false, o.now().Sub(r.started), 0)
	}
	return err
}

func (o *Orchestrator) requeue(ctx context.Context, r *run) {
	r.logger.Info("job interrupted by shutdown; requeued",
		logging.String(logging.FieldEventType, "job_requeued"))
	wctx, cancel := detached(ctx)
	defer cancel()
	if _, err := o.store.UpdateStatus(wctx, r.job.ID, store.StatusUpdate{Status: store.StatusQueued}); err != nil {
		r.logger.Warn("failed to requeue interrupted job", logging.Error(err))
	}
}

func failureHint(kind services.Kind) string {
	switch kind {
	case services.KindValidation:
		return "check the media reference exists and uses a supported format"
	case services.KindPermanentExtractor:
		return "the extractor cannot process this input; check frame dimensions"
	case services.KindTimeout:
		return "raise workers.soft_time_limit or lower extraction.max_frames"
	case services.KindTransient:
		return "retries exhausted; check store and extractor availability"
	default:
		return "check logs for details"
	}
}

func (o *Orchestrator) publish(r *run, status store.Status, stage string, pct int, message string) {
	if o.progress == nil {
		return
	}
	o.progress.Publish(r.job.ID, progress.Event{
		JobID:      r.job.ID,
		Status:     string(status),
		Percentage: pct,
		Stage:      stage,
		Message:    message,
		Timestamp:  o.now().UTC(),
	})
}
