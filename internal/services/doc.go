// Package services defines shared utilities consumed by the orchestrator,
// the worker pool, and the HTTP surface.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, stage names, worker slots, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that tag failures with
//     their taxonomy class (validation, transient, permanent extractor,
//     timeout, resource limit) so retry decisions stay uniform.
package services
