package embedcache

import (
	"context"
	"time"

	"deepscan/internal/logging"
)

// Run sweeps expired keys on every tick until ctx is cancelled. Expired keys
// are already invisible to readers; the sweep only returns their memory.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if reaped := c.Sweep(); reaped > 0 {
				c.logger.Debug("cache sweep",
					logging.Int("reaped", reaped),
					logging.Int("remaining", c.records.Len()),
				)
			}
		}
	}
}
