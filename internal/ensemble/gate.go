package ensemble

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Gate serializes inference on one accelerator device. A nil *Gate or a
// non-exclusive gate admits every caller immediately.
type Gate struct {
	device         string
	memoryFraction float64
	sem            *semaphore.Weighted

	mu           sync.Mutex
	busy         int
	acquisitions uint64
	waited       time.Duration
}

// GateStats is a point-in-time view of device occupancy.
type GateStats struct {
	Device         string        `json:"device"`
	Exclusive      bool          `json:"exclusive"`
	MemoryFraction float64       `json:"memory_fraction"`
	Busy           int           `json:"busy"`
	Acquisitions   uint64        `json:"acquisitions"`
	TotalWait      time.Duration `json:"total_wait"`
}

// NewGate builds a gate for device. When exclusive is false the gate only
// records occupancy.
func NewGate(device string, exclusive bool, memoryFraction float64) *Gate {
	g := &Gate{device: device, memoryFraction: memoryFraction}
	if exclusive {
		g.sem = semaphore.NewWeighted(1)
	}
	return g
}

// Acquire blocks until the device is free or ctx ends. The returned release
// func must be called exactly once.
func (g *Gate) Acquire(ctx context.Context) (func(), error) {
	if g == nil {
		return func() {}, nil
	}
	start := time.Now()
	if g.sem != nil {
		if err := g.sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	}
	g.mu.Lock()
	g.busy++
	g.acquisitions++
	g.waited += time.Since(start)
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.busy--
			g.mu.Unlock()
			if g.sem != nil {
				g.sem.Release(1)
			}
		})
	}, nil
}

// Stats reports occupancy counters.
func (g *Gate) Stats() GateStats {
	if g == nil {
		return GateStats{}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return GateStats{
		Device:         g.device,
		Exclusive:      g.sem != nil,
		MemoryFraction: g.memoryFraction,
		Busy:           g.busy,
		Acquisitions:   g.acquisitions,
		TotalWait:      g.waited,
	}
}
