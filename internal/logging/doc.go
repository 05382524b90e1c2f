// Package logging builds the slog loggers used by the daemon and CLI.
//
// Two formats are supported: a single-line console format that lifts the
// component, job and stage into a bracketed prefix, and JSON with ts, level
// and msg keys for log shippers. WithContext copies job, stage, worker and
// request identifiers stored by package services onto a logger.
package logging
