// Package store persists jobs and their detection results.
//
// Every write is an idempotent upsert keyed by job id (or job id plus frame
// number for frame rows), so a retried execution overwrites whatever a
// failed attempt left behind instead of duplicating rows. The same SQL runs
// against SQLite (modernc, the default) and Postgres through either the pgx
// stdlib driver or lib/pq; queries are written with `?` placeholders and
// rebound for Postgres.
//
// The jobs table doubles as the work queue: the dispatcher leases QUEUED jobs
// with ClaimNext, workers heartbeat while executing, and stale leases are
// reclaimed on startup or when heartbeats lapse.
//
// Schema changes bump schemaVersion in schema.go; databases created by an
// older schema are rejected with ErrSchemaMismatch.
package store
