package workflow

import (
	"context"
	"time"

	"deepscan/internal/config"
	"deepscan/internal/logging"
)

// retentionLoop deletes terminal jobs older than retention.days. It only
// runs when retention is enabled.
func (p *Pool) retentionLoop(ctx context.Context) {
	defer p.wg.Done()
	interval := config.Seconds(max(p.cfg.Retention.Interval, 60))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Cleanup(ctx)
		}
	}
}

// Cleanup runs one retention pass and returns the number of jobs removed.
func (p *Pool) Cleanup(ctx context.Context) int64 {
	days := max(p.cfg.Retention.Days, 1)
	cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
	removed, err := p.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			logging.WarnWithContext(p.logger, "retention cleanup failed", "retention_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "old results remain until the next pass"),
			)
		}
		return 0
	}
	if removed > 0 {
		p.logger.Info("retention cleanup removed old jobs",
			logging.Int64("count", removed),
			logging.Int("days", days),
			logging.String(logging.FieldEventType, "retention_cleanup"),
		)
	}
	return removed
}
