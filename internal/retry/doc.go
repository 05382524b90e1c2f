// Package retry implements the bounded retry-with-backoff policy that wraps
// every job execution.
//
// Delays grow exponentially from BaseDelay and are capped at MaxDelay. With
// jitter enabled, a uniform random offset in [0, BaseDelay) is added before
// the cap so concurrent jobs that fail together do not retry in lockstep.
// Callers decide retryability through the Retryable classifier; the policy
// itself never inspects errors.
package retry
