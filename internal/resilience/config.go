package resilience

import "time"

// FromRetryConfig converts configuration values to a fixed-interval RetryConfig.
// Non-positive values fall back to DefaultRetryConfig.
func FromRetryConfig(maxAttempts, waitSecs int) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if waitSecs > 0 {
		cfg.Backoff = FixedBackoff(time.Duration(waitSecs) * time.Second)
	}
	return cfg
}

// Exponential switches cfg to a doubling backoff that starts at its current
// first delay, is capped at six times that and carries 20% jitter.
func Exponential(cfg RetryConfig) RetryConfig {
	initial := cfg.Backoff.Delay(0)
	cfg.Backoff = ExponentialBackoff{
		Initial:        initial,
		Max:            6 * initial,
		Multiplier:     2,
		JitterFraction: 0.2,
	}
	return cfg
}
