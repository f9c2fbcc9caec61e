package resilience

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig controls retry behavior with capped exponential backoff and jitter.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts (including the first try).
	// A value of 1 means no retries. Default: 3.
	MaxAttempts int

	// BaseDelay is the delay before the first retry and the jitter range. Default: 1s.
	BaseDelay time.Duration

	// MaxDelay caps the exponential part of the delay. Default: 30s.
	MaxDelay time.Duration

	// Classify optionally overrides the default classification. If nil,
	// Classify (package function) is used.
	Classify func(err error) Class

	// OnRetry is called before each retry wait with the attempt that just
	// failed, the wait about to happen, and the error.
	OnRetry func(attempt int, delay time.Duration, err error)

	// Sleep waits for d or until ctx is done. Tests replace it to observe
	// waits without spending wall time.
	Sleep func(ctx context.Context, d time.Duration) error

	// Jitter returns a value in [0, n). Defaults to math/rand/v2.
	Jitter func(n time.Duration) time.Duration
}

// DefaultRetryConfig returns the retry configuration used for upstream calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// Do executes fn with retry logic according to cfg. Fatal errors are returned
// after a single attempt. Retryable errors are retried until MaxAttempts, after
// which an *ExhaustedError wrapping the last cause is returned. Context
// cancellation aborts a pending wait immediately.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal executes fn returning a value with retry logic. Same semantics as Do
// but preserves the return value from the successful call.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = applyDefaults(cfg)

	var zero T
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, lastErr
		}

		if cfg.Classify(lastErr) == Fatal {
			return zero, lastErr
		}

		// Don't wait after the last attempt.
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := Backoff(attempt, cfg.BaseDelay, cfg.MaxDelay) + cfg.Jitter(cfg.BaseDelay)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, delay, lastErr)
		}
		if err := cfg.Sleep(ctx, delay); err != nil {
			return zero, lastErr
		}
	}

	return zero, &ExhaustedError{Attempts: cfg.MaxAttempts, Err: lastErr}
}

func applyDefaults(cfg RetryConfig) RetryConfig {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay < 0 {
		cfg.BaseDelay = 0
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.Classify == nil {
		cfg.Classify = Classify
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	if cfg.Jitter == nil {
		cfg.Jitter = randJitter
	}
	return cfg
}

// Backoff returns min(maxDelay, base*2^(attempt-1)) for attempt >= 1,
// without jitter.
func Backoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if attempt < 1 || base <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < attempt; i++ {
		if delay >= maxDelay/2 {
			return maxDelay
		}
		delay *= 2
	}
	return min(delay, maxDelay)
}

func randJitter(n time.Duration) time.Duration {
	if n <= 0 {
		return 0
	}
	return rand.N(n)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryLogger returns an OnRetry callback that logs each retry attempt.
func RetryLogger(service, operation string) func(int, time.Duration, error) {
	return func(attempt int, delay time.Duration, err error) {
		zap.L().Warn("retrying operation",
			zap.String("service", service),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}
}
