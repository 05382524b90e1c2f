// Package api exposes the job queue, detection results, cache inspection and
// progress streams over HTTP, and defines the wire types shared with
// apiclient and the CLI.
//
// # Routes
//
//	POST   /v1/jobs                 submit a job
//	GET    /v1/jobs                 list jobs (?status=&limit=)
//	GET    /v1/jobs/{id}            job record
//	GET    /v1/jobs/{id}/result     detection result, served from cache first
//	GET    /v1/jobs/{id}/events     websocket progress stream
//	GET    /v1/cache/keys           cache keys (?pattern=)
//	DELETE /v1/cache                invalidate keys (?pattern=)
//	GET    /v1/cache/parse          parse a cache key (?key=)
//	GET    /healthz                 store, cache and worker health
//	GET    /metrics                 Prometheus exposition
//
// # Errors
//
// Failures are JSON objects with an error message and a kind taken from
// services.Classify. Submission rejections from the rate limit or the
// pending cap return 429 with kind resource_limit_exceeded.
//
// When a bearer token is configured every route except /healthz and
// /metrics requires it.
package api
