package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// BackoffPolicy configures the exponential-backoff-with-jitter schedule
// used by WithRetry/WithRetryFunc, adapted from the teacher's retry.go
// RetryConfig.
type BackoffPolicy struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFrac   float64 // fraction of the computed delay randomized, e.g. 0.2
	Checker      ErrorChecker
}

// DefaultBackoffPolicy matches the teacher's default retry config: 3
// attempts, 200ms base, 5s cap, multiplier 2, 20% jitter.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
		JitterFrac:  0.2,
		Checker:     DefaultErrorChecker{},
	}
}

func (p BackoffPolicy) delayFor(attempt int) time.Duration {
	if p.Multiplier <= 0 {
		p.Multiplier = 2.0
	}
	raw := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt))
	if p.MaxDelay > 0 && raw > float64(p.MaxDelay) {
		raw = float64(p.MaxDelay)
	}
	if p.JitterFrac > 0 {
		jitter := raw * p.JitterFrac
		raw += (rand.Float64()*2 - 1) * jitter
		if raw < 0 {
			raw = 0
		}
	}
	return time.Duration(raw)
}

// WithRetry runs fn, retrying according to policy while the classified
// Kind of the returned error is Retryable. It generalizes the teacher's
// WithRetry to operate on the Kind taxonomy instead of a plain bool.
func WithRetry(ctx context.Context, policy BackoffPolicy, fn func(ctx context.Context) error) error {
	_, err := WithRetryFunc(ctx, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// WithRetryFunc is the generic form of WithRetry: fn may return a value
// alongside an error, matching the teacher's generic WithRetryFunc[T any]
// signature.
func WithRetryFunc[T any](ctx context.Context, policy BackoffPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	checker := policy.Checker
	if checker == nil {
		checker = DefaultErrorChecker{}
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	var lastErr error
	var zero T

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		kind := Classify(checker, err)
		if !kind.Retryable() || attempt == policy.MaxAttempts-1 {
			return zero, err
		}

		delay := policy.delayFor(attempt)
		if classified, ok := err.(*Error); ok && classified.RetryAfterMs > 0 {
			advertised := time.Duration(classified.RetryAfterMs) * time.Millisecond
			if advertised > delay {
				delay = advertised
			}
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	return zero, lastErr
}
