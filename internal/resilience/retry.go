// Package resilience provides the retry policy applied to upstream API calls.
package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes the wait before the retry that follows a failed attempt.
// attempt is zero-based: Delay(0) is the wait after the first failure.
type Backoff interface {
	Delay(attempt int) time.Duration
}

// FixedBackoff waits the same duration between every attempt.
type FixedBackoff time.Duration

// Delay implements Backoff.
func (f FixedBackoff) Delay(int) time.Duration { return time.Duration(f) }

// ExponentialBackoff grows the wait by Multiplier after each attempt, capped at
// Max, with ±JitterFraction random jitter.
type ExponentialBackoff struct {
	Initial        time.Duration
	Max            time.Duration
	Multiplier     float64
	JitterFraction float64
}

// Delay implements Backoff.
func (e ExponentialBackoff) Delay(attempt int) time.Duration {
	initial, maxDelay, mult := e.Initial, e.Max, e.Multiplier
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	if mult <= 0 {
		mult = 2.0
	}

	delay := float64(initial) * math.Pow(mult, float64(attempt))
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}
	if e.JitterFraction > 0 {
		jitterRange := delay * e.JitterFraction
		delay += (rand.Float64()*2 - 1) * jitterRange
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// Sleeper blocks for d or until ctx is done, returning ctx.Err() in the latter case.
type Sleeper func(ctx context.Context, d time.Duration) error

// TimerSleep is the production Sleeper.
func TimerSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryConfig is the retry policy: how many attempts, how long to wait in
// between and which errors qualify for another attempt.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int

	// Backoff decides the wait between attempts.
	Backoff Backoff

	// ShouldRetry overrides the transient-error check. If nil, IsTransient is used.
	ShouldRetry func(err error) bool

	// OnRetry is called before each wait with the 1-based attempt that failed.
	OnRetry func(attempt int, err error)

	// Sleep performs the wait. Tests replace it to avoid real delays.
	Sleep Sleeper
}

// DefaultRetryConfig matches the upstream API's documented flakiness: six
// attempts ten seconds apart.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 6,
		Backoff:     FixedBackoff(10 * time.Second),
	}
}

// Do executes fn until it succeeds, returns a non-retryable error, the
// attempts run out or ctx is cancelled. The last error is returned.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal is Do for functions that produce a value.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = applyDefaults(cfg)

	var zero T
	var lastErr error
	for attempt := range cfg.MaxAttempts {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil || !cfg.ShouldRetry(err) {
			return zero, lastErr
		}

		// No wait after the final attempt.
		if attempt >= cfg.MaxAttempts-1 {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err)
		}
		if err := cfg.Sleep(ctx, cfg.Backoff.Delay(attempt)); err != nil {
			return zero, lastErr
		}
	}

	return zero, lastErr
}

func applyDefaults(cfg RetryConfig) RetryConfig {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Backoff == nil {
		cfg.Backoff = FixedBackoff(0)
	}
	if cfg.ShouldRetry == nil {
		cfg.ShouldRetry = IsTransient
	}
	if cfg.Sleep == nil {
		cfg.Sleep = TimerSleep
	}
	return cfg
}
