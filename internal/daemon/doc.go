// Package daemon coordinates the long-running deepscan process.
//
// It ties the result store, the embedding cache sweeper, the worker pool and
// the HTTP API into a single lifecycle with flock-based locking to prevent
// two daemons from sharing one data directory. Pipeline logic lives in
// orchestrator and workflow; the daemon only handles startup, shutdown and
// status.
package daemon
