package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"deepscan/internal/config"
	"deepscan/internal/logging"
	"deepscan/internal/store"
)

// Start requeues leases left by a previous process and launches the
// dispatcher, the workers and the maintenance loops.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errors.New("workflow already running")
	}
	if p.runner == nil || p.store == nil {
		p.mu.Unlock()
		return errors.New("workflow requires a store and a runner")
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.mu.Unlock()

	reset, err := p.store.ResetStuck(runCtx)
	if err != nil {
		p.logger.Warn("failed to reset stuck jobs; they will be reclaimed after the heartbeat timeout",
			logging.Error(err),
			logging.String(logging.FieldEventType, "reset_stuck_failed"),
			logging.String(logging.FieldErrorHint, "check store connectivity"),
		)
	} else if reset > 0 {
		p.logger.Info("requeued jobs left running by a previous process", logging.Int64("count", reset))
	}

	concurrency := max(p.cfg.Workers.Concurrency, 1)
	p.wg.Add(2 + concurrency)
	go p.dispatch(runCtx)
	go p.heartbeatLoop(runCtx)
	for slot := 0; slot < concurrency; slot++ {
		go p.work(runCtx, slot, 0)
	}
	if p.cfg.Retention.Enabled {
		p.wg.Add(1)
		go p.retentionLoop(runCtx)
	}
	if p.cfg.Workers.MonitorInterval > 0 {
		p.wg.Add(1)
		go p.monitorLoop(runCtx)
	}

	p.logger.Info("workflow started",
		logging.Int("concurrency", concurrency),
		logging.Int("prefetch", cap(p.jobs)),
		logging.Int("max_tasks_per_worker", p.cfg.Workers.MaxTasksPerWorker),
		logging.String("owner", p.owner),
	)
	return nil
}

// Stop cancels every loop, waits for running jobs to return, and releases
// leases on jobs that were buffered but never started.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	p.wg.Wait()

	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	for {
		select {
		case job := <-p.jobs:
			if err := p.store.ReleaseClaim(ctx, job.ID); err != nil {
				p.logger.Warn("failed to release buffered job", logging.String(logging.FieldJobID, job.ID), logging.Error(err))
			}
			p.release(job.ID)
		default:
			p.logger.Info("workflow stopped")
			return
		}
	}
}

// Running reports whether Start has been called without Stop.
func (p *Pool) Running() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

func (p *Pool) dispatch(ctx context.Context) {
	defer p.wg.Done()
	logger := p.logger.With(logging.String(logging.FieldWorker, "dispatcher"))
	poll := config.Seconds(max(p.cfg.Workers.PollInterval, 1))

	for {
		if ctx.Err() != nil {
			return
		}
		job, err := p.store.ClaimNext(ctx, p.owner)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.setLastError(err)
			logger.Error("failed to claim next job",
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_fetch_failed"),
				logging.String(logging.FieldErrorHint, "check store connectivity"),
			)
			p.idle(ctx, poll)
			continue
		}
		if job == nil {
			p.idle(ctx, poll)
			continue
		}
		p.hold(job.ID, "")
		select {
		case p.jobs <- job:
			logger.Debug("job dispatched", logging.String(logging.FieldJobID, job.ID))
		case <-ctx.Done():
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			_ = p.store.ReleaseClaim(releaseCtx, job.ID)
			cancel()
			p.release(job.ID)
			return
		}
	}
}

func (p *Pool) idle(ctx context.Context, poll time.Duration) {
	timer := time.NewTimer(poll)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-p.wake:
	case <-timer.C:
	}
}

// work runs jobs until max_tasks_per_worker is reached, then hands its slot
// to a fresh generation.
func (p *Pool) work(ctx context.Context, slot, generation int) {
	defer p.wg.Done()
	name := fmt.Sprintf("worker-%d.%d", slot, generation)
	logger := p.logger.With(logging.String(logging.FieldWorker, name))
	maxTasks := p.cfg.Workers.MaxTasksPerWorker

	for tasks := 0; maxTasks <= 0 || tasks < maxTasks; tasks++ {
		var job *store.Job
		select {
		case <-ctx.Done():
			return
		case job = <-p.jobs:
		}
		if err := p.startLimiter.Wait(ctx); err != nil {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			_ = p.store.ReleaseClaim(releaseCtx, job.ID)
			cancel()
			p.release(job.ID)
			return
		}
		p.execute(ctx, name, job)
	}

	logger.Info("worker recycled", logging.Int("tasks", maxTasks), logging.String(logging.FieldEventType, "worker_recycled"))
	if p.recorder != nil {
		p.recorder.WorkerRecycled()
	}
	if ctx.Err() != nil {
		return
	}
	p.wg.Add(1)
	go p.work(ctx, slot, generation+1)
}
