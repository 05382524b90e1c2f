// Package orchestrator drives one job from QUEUED to a terminal state.
//
// Run executes the detection pipeline (validate, hash, cache lookup,
// extraction and combination on a miss, scoring, persistence) as the unit of
// retry under a retry.Policy. Every step boundary is persisted to the store
// and published to the progress broadcaster in stage order, with the
// percentage held to a per-job high-water mark so watchers never see it go
// backwards across retries.
//
// Components report their own failures (media.ErrUnreadableMedia,
// ensemble.ExtractorFailure, store errors); this package is the only place
// that maps them onto the services error taxonomy and decides whether a
// failure is retried.
package orchestrator
