package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// admissionRegistry lends out one token-bucket limiter per distinct
// pacing configuration, so requests sharing a policy share a bucket
// while requests under a different policy never contend for the same
// tokens (spec.md §4.5 step 2).
type admissionRegistry struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newAdmissionRegistry() *admissionRegistry {
	return &admissionRegistry{limiters: make(map[string]*rate.Limiter)}
}

func pacingKey(ratePerSecond float64, burst int) string {
	return fmt.Sprintf("%g/%d", ratePerSecond, burst)
}

func (a *admissionRegistry) limiterFor(ratePerSecond float64, burst int) *rate.Limiter {
	if ratePerSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}

	key := pacingKey(ratePerSecond, burst)

	a.mu.Lock()
	defer a.mu.Unlock()
	if l, ok := a.limiters[key]; ok {
		return l
	}
	l := rate.NewLimiter(rate.Limit(ratePerSecond), burst)
	a.limiters[key] = l
	return l
}

// wait blocks until a token is available or maxQueueTime elapses,
// whichever comes first. A nil limiter (no pacing configured) admits
// immediately. Returns a non-nil error when no token can be had within
// maxQueueTime (rate.Limiter reports this up front, without waiting) or
// when ctx ends; the caller maps any error to the admission_timeout
// error kind.
func (a *admissionRegistry) wait(ctx context.Context, ratePerSecond float64, burst int, maxQueueTime time.Duration) error {
	limiter := a.limiterFor(ratePerSecond, burst)
	if limiter == nil {
		return nil
	}

	waitCtx := ctx
	var cancel context.CancelFunc
	if maxQueueTime > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, maxQueueTime)
		defer cancel()
	}
	return limiter.Wait(waitCtx)
}
