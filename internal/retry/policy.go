package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"deepscan/internal/config"
)

// ErrRetriesExhausted wraps the last cause once every retry has been spent.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Policy describes a bounded exponential backoff.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     bool

	// Retryable reports whether err may be retried. Nil treats every error
	// as retryable.
	Retryable func(error) bool
	// OnRetry runs before each backoff sleep. attempt is the 1-based retry
	// about to be made.
	OnRetry func(ctx context.Context, attempt int, err error, delay time.Duration)

	sleep func(context.Context, time.Duration) error
	rand  func(n int64) int64
}

// FromConfig builds a policy from the retry config section.
func FromConfig(cfg config.Retry) Policy {
	return Policy{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  config.Seconds(cfg.DefaultDelay),
		MaxDelay:   config.Seconds(cfg.BackoffMax),
		Jitter:     cfg.Jitter,
	}
}

// WithSleeper replaces the context-aware sleep (tests).
func (p Policy) WithSleeper(sleep func(context.Context, time.Duration) error) Policy {
	p.sleep = sleep
	return p
}

// WithRand replaces the jitter source. fn must return a value in [0, n).
func (p Policy) WithRand(fn func(n int64) int64) Policy {
	p.rand = fn
	return p
}

// Delay returns the backoff before retry attempt k (0-based):
// min(base*2^k + U[0,base), max).
func (p Policy) Delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			break
		}
		delay *= 2
	}
	if p.Jitter {
		delay += time.Duration(p.randN(int64(p.BaseDelay)))
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

func (p Policy) randN(n int64) int64 {
	if n <= 0 {
		return 0
	}
	if p.rand != nil {
		return p.rand(n)
	}
	return rand.Int64N(n)
}

// Execute runs fn until it succeeds, returns a non-retryable error, or the
// retry budget is spent. fn receives the 0-based attempt number. Context
// cancellation during a backoff returns the context error.
func (p Policy) Execute(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	if fn == nil {
		return errors.New("retry: nil function")
	}
	maxRetries := p.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	for attempt := 0; ; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt >= maxRetries {
			if maxRetries == 0 {
				return err
			}
			return fmt.Errorf("%w after %d retries: %w", ErrRetriesExhausted, maxRetries, err)
		}
		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(ctx, attempt+1, err, delay)
		}
		if serr := p.doSleep(ctx, delay); serr != nil {
			return fmt.Errorf("retry backoff interrupted: %w (last error: %v)", serr, err)
		}
	}
}

func (p Policy) doSleep(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
