package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"deepscan/internal/config"
	"deepscan/internal/logging"
)

// heartbeatLoop refreshes leases on every job this pool holds and returns
// jobs whose owner stopped heartbeating to the queue.
func (p *Pool) heartbeatLoop(ctx context.Context) {
	defer p.wg.Done()
	interval := config.Seconds(max(p.cfg.Workers.HeartbeatInterval, 1))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger := p.logger.With(logging.String("component", "workflow-heartbeat"))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.beat(ctx, logger)
			p.reclaim(ctx, logger)
		}
	}
}

func (p *Pool) beat(ctx context.Context, logger *slog.Logger) {
	for _, id := range p.heldJobs() {
		if err := p.store.Heartbeat(ctx, id, p.owner); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Warn("heartbeat update failed", logging.String(logging.FieldJobID, id), logging.Error(err))
		}
	}
}

func (p *Pool) reclaim(ctx context.Context, logger *slog.Logger) {
	timeout := config.Seconds(p.cfg.Workers.HeartbeatTimeout)
	if timeout <= 0 {
		return
	}
	reclaimed, err := p.store.ReclaimStale(ctx, time.Now().Add(-timeout))
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logger.Warn("stale lease reclaim failed", logging.Error(err))
		}
		return
	}
	if reclaimed > 0 {
		logger.Info("reclaimed stale jobs", logging.Int64("count", reclaimed))
		if p.recorder != nil {
			p.recorder.JobsReclaimed(reclaimed)
		}
		p.notify()
	}
}
