package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"deepscan/internal/config"
	"deepscan/internal/retry"
)

func noSleep(context.Context, time.Duration) error { return nil }

func TestDelayDoublesAndCaps(t *testing.T) {
	p := retry.Policy{BaseDelay: time.Second, MaxDelay: 10 * time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for attempt, expected := range want {
		if got := p.Delay(attempt); got != expected {
			t.Fatalf("Delay(%d) = %s, want %s", attempt, got, expected)
		}
	}
}

func TestDelayJitterStaysBelowBase(t *testing.T) {
	p := retry.Policy{BaseDelay: time.Second, MaxDelay: time.Minute, Jitter: true}
	for i := 0; i < 200; i++ {
		got := p.Delay(1)
		if got < 2*time.Second || got >= 3*time.Second {
			t.Fatalf("Delay(1) = %s, want [2s,3s)", got)
		}
	}
	fixed := p.WithRand(func(n int64) int64 { return n - 1 })
	if got := fixed.Delay(0); got != 2*time.Second-time.Nanosecond {
		t.Fatalf("fixed jitter delay = %s", got)
	}
	capped := retry.Policy{BaseDelay: 4 * time.Second, MaxDelay: 5 * time.Second, Jitter: true}.
		WithRand(func(n int64) int64 { return n - 1 })
	if got := capped.Delay(0); got != 5*time.Second {
		t.Fatalf("capped delay = %s, want 5s", got)
	}
}

func TestExecuteRetriesTransientUntilExhausted(t *testing.T) {
	cause := errors.New("cache unavailable")
	var calls int
	var hooks []int
	var delays []time.Duration
	p := retry.Policy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   time.Minute,
		OnRetry: func(_ context.Context, attempt int, err error, delay time.Duration) {
			hooks = append(hooks, attempt)
			delays = append(delays, delay)
		},
	}.WithSleeper(noSleep)

	err := p.Execute(context.Background(), func(context.Context, int) error {
		calls++
		return cause
	})
	if !errors.Is(err, retry.ErrRetriesExhausted) || !errors.Is(err, cause) {
		t.Fatalf("err = %v", err)
	}
	if calls != 4 {
		t.Fatalf("calls = %d, want 1 + 3 retries", calls)
	}
	if len(hooks) != 3 || hooks[0] != 1 || hooks[2] != 3 {
		t.Fatalf("hooks = %v", hooks)
	}
	if delays[0] != time.Second || delays[1] != 2*time.Second || delays[2] != 4*time.Second {
		t.Fatalf("delays = %v", delays)
	}
}

func TestExecuteStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("unsupported container")
	var calls int
	p := retry.Policy{
		MaxRetries: 5,
		BaseDelay:  time.Second,
		Retryable:  func(err error) bool { return !errors.Is(err, permanent) },
	}.WithSleeper(noSleep)
	err := p.Execute(context.Background(), func(context.Context, int) error {
		calls++
		return permanent
	})
	if err != permanent {
		t.Fatalf("err = %v, want the permanent error unwrapped", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestExecuteSucceedsAfterTransientFailures(t *testing.T) {
	p := retry.Policy{MaxRetries: 3, BaseDelay: time.Millisecond}.WithSleeper(noSleep)
	var attempts []int
	err := p.Execute(context.Background(), func(_ context.Context, attempt int) error {
		attempts = append(attempts, attempt)
		if attempt < 2 {
			return errors.New("flaky")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(attempts) != 3 || attempts[2] != 2 {
		t.Fatalf("attempts = %v", attempts)
	}
}

func TestExecuteHonoursCancellationDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := retry.Policy{MaxRetries: 3, BaseDelay: time.Hour, MaxDelay: time.Hour}
	start := time.Now()
	err := p.Execute(ctx, func(context.Context, int) error {
		cancel()
		return errors.New("down")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("backoff did not observe cancellation")
	}
}

func TestFromConfigUsesSeconds(t *testing.T) {
	p := retry.FromConfig(config.Default().Retry)
	if p.MaxRetries != 3 || p.BaseDelay != time.Minute || p.MaxDelay != 5*time.Minute || !p.Jitter {
		t.Fatalf("policy = %+v", p)
	}
}
