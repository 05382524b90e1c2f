// Package workflow feeds queued jobs to a fixed pool of workers.
//
// A dispatcher leases QUEUED jobs from the store (ClaimNext) into a buffered
// channel sized concurrency x prefetch_multiplier; workers drain it and hand
// each job to the orchestrator under a soft time limit (context deadline)
// and a hard time limit (forced abandonment). Job starts are paced by a
// token bucket, and workers are replaced after max_tasks_per_worker jobs.
//
// Every lease the pool holds, buffered or running, is kept alive by a single
// heartbeat loop; leases whose heartbeats lapse are reclaimed so another
// dispatcher pass can pick them up. Submit applies admission control (rate
// limit and max_pending) and rejects with services.ErrResourceLimit.
//
// Optional background loops prune old results (retention, opt-in) and log
// device and cache occupancy (monitor).
package workflow
