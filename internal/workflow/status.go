package workflow

import (
	"context"
	"time"

	"deepscan/internal/config"
	"deepscan/internal/embedcache"
	"deepscan/internal/ensemble"
	"deepscan/internal/logging"
	"deepscan/internal/store"
)

// Status is a point-in-time view of the pool for health reporting.
type Status struct {
	Running   bool                `json:"running"`
	Owner     string              `json:"owner"`
	Workers   int                 `json:"workers"`
	Busy      int                 `json:"busy"`
	Held      int                 `json:"held"`
	Queue     store.Health        `json:"queue"`
	LastError string              `json:"last_error,omitempty"`
	Gate      *ensemble.GateStats `json:"gate,omitempty"`
	Cache     *embedcache.Stats   `json:"cache,omitempty"`
}

// Status reports the latest pool information.
func (p *Pool) Status(ctx context.Context) Status {
	p.mu.RLock()
	summary := Status{
		Running: p.running,
		Owner:   p.owner,
		Workers: max(p.cfg.Workers.Concurrency, 1),
		Busy:    p.busy,
	}
	if p.lastErr != nil {
		summary.LastError = p.lastErr.Error()
	}
	p.mu.RUnlock()

	summary.Held = len(p.heldJobs())
	health, err := p.store.Health(ctx)
	if err != nil {
		p.logger.Warn("failed to read queue stats", logging.Error(err))
	}
	summary.Queue = health
	if p.gate != nil {
		stats := p.gate()
		summary.Gate = &stats
	}
	if p.cache != nil {
		stats := p.cache.Stats()
		summary.Cache = &stats
	}
	return summary
}

// monitorLoop periodically logs device and worker occupancy.
func (p *Pool) monitorLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(config.Seconds(p.cfg.Workers.MonitorInterval))
	defer ticker.Stop()
	logger := p.logger.With(logging.String("component", "workflow-monitor"))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := p.Status(ctx)
			attrs := []any{
				logging.Int("busy", st.Busy),
				logging.Int("held", st.Held),
				logging.Int("queued", st.Queue.Queued),
				logging.Int("processing", st.Queue.Processing),
			}
			if st.Gate != nil {
				attrs = append(attrs,
					logging.String("device", st.Gate.Device),
					logging.Int("device_busy", st.Gate.Busy),
					logging.Float64("device_memory_fraction", st.Gate.MemoryFraction),
					logging.Duration("device_wait", st.Gate.TotalWait),
				)
			}
			if st.Cache != nil {
				attrs = append(attrs,
					logging.Int("cache_entries", st.Cache.Entries),
					logging.Int64("cache_hits", int64(st.Cache.Hits)),
				)
			}
			logger.Debug("worker occupancy", attrs...)
		}
	}
}
