package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"deepscan/internal/config"
	"deepscan/internal/logging"
	"deepscan/internal/services"
	"deepscan/internal/store"
)

// errHardLimit is the cancellation cause once a job outlives the hard time
// limit.
var errHardLimit = services.Wrap(services.ErrTimeout, "workflow", "hard limit", "hard time limit exceeded", nil)

// hardLimitGrace is how long a canceled runner may take to record its own
// failure before the pool marks the job FAILED and abandons it.
var hardLimitGrace = 5 * time.Second

func (p *Pool) execute(ctx context.Context, worker string, job *store.Job) {
	p.hold(job.ID, worker)
	defer p.release(job.ID)
	p.adjustBusy(1)
	defer p.adjustBusy(-1)

	ctx = services.WithWorker(services.WithJobID(ctx, job.ID), worker)
	logger := logging.WithContext(ctx, p.logger)

	hardCtx, cancelHard := context.WithCancelCause(ctx)
	defer cancelHard(nil)
	if hard := config.Seconds(p.cfg.Workers.HardTimeLimit); hard > 0 {
		timer := time.AfterFunc(hard, func() { cancelHard(errHardLimit) })
		defer timer.Stop()
	}
	runCtx := hardCtx
	if soft := config.Seconds(p.cfg.Workers.SoftTimeLimit); soft > 0 {
		var cancelSoft context.CancelFunc
		runCtx, cancelSoft = context.WithTimeout(hardCtx, soft)
		defer cancelSoft()
		runCtx = services.WithHardLimit(runCtx, hardCtx)
	}

	started := time.Now()
	logger.Info("job started", logging.String(logging.FieldEventType, "job_started"))

	done := make(chan error, 1)
	go func() {
		_, err := p.runner.Run(runCtx, job)
		done <- err
	}()

	var err error
	select {
	case err = <-done:
	case <-hardCtx.Done():
		if !errors.Is(context.Cause(hardCtx), errHardLimit) {
			err = <-done
			break
		}
		grace := time.NewTimer(hardLimitGrace)
		select {
		case err = <-done:
			grace.Stop()
		case <-grace.C:
			p.abandon(ctx, job, logger)
			return
		}
	}

	elapsed := time.Since(started)
	switch {
	case err == nil:
		logger.Info("job finished", logging.Duration("elapsed", elapsed), logging.String(logging.FieldEventType, "job_finished"))
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		logger.Info("job interrupted by shutdown; returned to queue", logging.String(logging.FieldEventType, "job_requeued"))
	default:
		p.setLastError(err)
		logger.Warn("job ended with error",
			logging.Duration("elapsed", elapsed),
			logging.String(logging.FieldErrorKind, string(services.Classify(err))),
			logging.Error(err),
			logging.String(logging.FieldEventType, "job_error"),
			logging.String(logging.FieldErrorHint, "inspect the job record for the recorded failure"),
		)
	}
}

// abandon records a terminal failure for a runner that ignored
// cancellation. The runner goroutine is left to finish on its own; its
// later writes are rejected by the store's transition rules.
func (p *Pool) abandon(ctx context.Context, job *store.Job, logger *slog.Logger) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	message := errHardLimit.Error()
	kind := string(services.KindTimeout)
	if _, err := p.store.UpdateStatus(wctx, job.ID, store.StatusUpdate{
		Status:    store.StatusFailed,
		Error:     &message,
		ErrorKind: &kind,
	}); err != nil && !errors.Is(err, store.ErrInvalidTransition) {
		logger.Error("failed to mark abandoned job failed", logging.Error(err))
	}
	p.setLastError(errHardLimit)
	logger.Error("job abandoned after exceeding the hard time limit",
		logging.String(logging.FieldEventType, "job_abandoned"),
		logging.String(logging.FieldErrorHint, "an extractor is not honouring cancellation"),
		logging.String(logging.FieldImpact, "a worker goroutine may still be running"),
	)
}
