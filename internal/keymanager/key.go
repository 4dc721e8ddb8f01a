package keymanager

import (
	"math"
	"time"

	"github.com/vitaliisemenov/llm-key-proxy/internal/ring"
)

func newFailureRing() *ring.Buffer[time.Time] {
	return ring.NewBuffer[time.Time](failureWindowSize)
}

// Snapshot is a read-only view of a key's state, safe to hold after the
// call returns (it copies out of the locked fields).
type Snapshot struct {
	ID             string
	Circuit        CircuitState
	InFlight       int
	MaxConcurrency int
	RateLimit      RateLimitInfo
	TotalRequests  int64
	SuccessCount   int64
	HealthScore    float64
}

// maybeTransitionFromOpen moves an OPEN key to HALF_OPEN once its
// cooldown has elapsed. Must be called with mu held.
func (k *Key) maybeTransitionFromOpen(now time.Time) {
	if k.circuit == StateOpen && !now.Before(k.cooldownUntil) {
		k.circuit = StateHalfOpen
		k.halfOpenInFlight = 0
	}
}

// Eligible reports whether this key is a candidate for a new request,
// per spec.md §4.3's exclusion rules: keys in OPEN, keys at full
// concurrency, and keys within an active rate-limit cooldown are
// excluded.
func (k *Key) Eligible(now time.Time) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.maybeTransitionFromOpen(now)

	if k.circuit == StateOpen {
		return false
	}
	if k.rateLimit.InCooldown && now.Before(k.cooldownUntil) {
		return false
	}

	limit := k.maxConcurrency
	if k.circuit == StateHalfOpen {
		limit = k.config.HalfOpenProbes
	}
	return k.inFlight < limit
}

// Acquire reserves a slot on this key. The caller must have just
// checked Eligible (or be prepared for Acquire to fail if another
// goroutine raced it); Acquire re-validates atomically under the lock.
func (k *Key) Acquire(now time.Time) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.maybeTransitionFromOpen(now)

	if k.circuit == StateOpen {
		return false
	}
	if k.rateLimit.InCooldown && now.Before(k.cooldownUntil) {
		return false
	}

	limit := k.maxConcurrency
	if k.circuit == StateHalfOpen {
		limit = k.config.HalfOpenProbes
	}
	if k.inFlight >= limit {
		return false
	}

	k.inFlight++
	k.totalRequests++
	if k.circuit == StateHalfOpen {
		k.halfOpenInFlight++
	}
	return true
}

// Release decrements inFlight and records the attempt's latency,
// regardless of outcome.
func (k *Key) Release(latency time.Duration) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.inFlight > 0 {
		k.inFlight--
	}
	k.latencySamples.Push(latency)
}

// MarkSuccess records a successful attempt: resets the failure window
// in CLOSED, or closes the breaker on the first success in HALF_OPEN.
func (k *Key) MarkSuccess() {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.successCount++

	switch k.circuit {
	case StateClosed:
		k.failureTimestamps = newFailureRing()
	case StateHalfOpen:
		k.circuit = StateClosed
		k.halfOpenInFlight = 0
		k.failureTimestamps = newFailureRing()
	}
}

// MarkFailure records a failure of the given class. Only classes with
// Kind.AffectsBreaker() move the failure count; a failure in HALF_OPEN
// always reopens the circuit regardless of class, per spec.md §4.3.
func (k *Key) MarkFailure(kind FailureClass, now time.Time) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.circuit == StateHalfOpen {
		k.circuit = StateOpen
		k.openedAt = now
		k.cooldownUntil = now.Add(k.config.CooldownDuration)
		k.halfOpenInFlight = 0
		return
	}

	if !kind.AffectsBreaker() {
		return
	}

	k.failureTimestamps.Push(now)
	if k.failuresInWindow(now) >= k.config.FailureThreshold && k.circuit == StateClosed {
		k.circuit = StateOpen
		k.openedAt = now
		k.cooldownUntil = now.Add(k.config.CooldownDuration)
	}
}

// failuresInWindow counts failure timestamps within config.FailureWindow
// of now. Must be called with mu held.
func (k *Key) failuresInWindow(now time.Time) int {
	count := 0
	cutoff := now.Add(-k.config.FailureWindow)
	k.failureTimestamps.Each(func(t time.Time) {
		if t.After(cutoff) {
			count++
		}
	})
	return count
}

// MarkRateLimit records a provider rate-limit signal. retryAfter is the
// upstream-advertised duration (may be zero if not advertised); it is
// clamped to [1s, 5min] before being applied as the cooldown.
func (k *Key) MarkRateLimit(retryAfter time.Duration, reason string, now time.Time) {
	clamped := clampRetryAfter(retryAfter)

	k.mu.Lock()
	defer k.mu.Unlock()

	k.rateLimit = RateLimitInfo{
		InCooldown:   true,
		RetryAfterMs: int(clamped / time.Millisecond),
		Reason:       reason,
	}
	k.cooldownUntil = now.Add(clamped)
}

func clampRetryAfter(d time.Duration) time.Duration {
	if d < rateLimitClampMin {
		return rateLimitClampMin
	}
	if d > rateLimitClampMax {
		return rateLimitClampMax
	}
	return d
}

// HealthScore computes a derived, read-only [0,100] score from the key's
// lifetime success rate (successCount/totalRequests; no recent window is
// applied), circuit/cooldown penalties, and latency — spec.md §4.3.
// It is never treated as state of record; only Eligible/Acquire gate
// actual routing.
func (k *Key) HealthScore(now time.Time) float64 {
	k.mu.Lock()
	defer k.mu.Unlock()

	var successRate float64 = 1
	if k.totalRequests > 0 {
		successRate = float64(k.successCount) / float64(k.totalRequests)
	}

	circuitPenalty := 0.0
	switch k.circuit {
	case StateOpen:
		circuitPenalty = 1.0
	case StateHalfOpen:
		circuitPenalty = 0.5
	}

	cooldownPenalty := 0.0
	if k.rateLimit.InCooldown && now.Before(k.cooldownUntil) {
		cooldownPenalty = 1.0
	}

	latencyScore := k.latencyScoreLocked()

	score := successRate * (1 - circuitPenalty) * (1 - cooldownPenalty) * latencyScore * 100
	return math.Max(0, math.Min(100, score))
}

// latencyScoreLocked maps recent average latency to a [0,1] score: fast
// keys score near 1, keys averaging 10s or worse score near 0. Must be
// called with mu held.
func (k *Key) latencyScoreLocked() float64 {
	samples := k.latencySamples.Snapshot()
	if len(samples) == 0 {
		return 1
	}
	var total time.Duration
	for _, s := range samples {
		total += s
	}
	avg := total / time.Duration(len(samples))

	const worst = 10 * time.Second
	if avg >= worst {
		return 0
	}
	return 1 - float64(avg)/float64(worst)
}

// Report returns a point-in-time snapshot for observability and the
// Stats Aggregator.
func (k *Key) Report(now time.Time) Snapshot {
	score := k.HealthScore(now)

	k.mu.Lock()
	defer k.mu.Unlock()

	return Snapshot{
		ID:             k.ID,
		Circuit:        k.circuit,
		InFlight:       k.inFlight,
		MaxConcurrency: k.maxConcurrency,
		RateLimit:      k.rateLimit,
		TotalRequests:  k.totalRequests,
		SuccessCount:   k.successCount,
		HealthScore:    score,
	}
}

// Reset restores the key to CLOSED with no cooldown, used by
// operator-triggered recovery actions.
func (k *Key) Reset() {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.circuit = StateClosed
	k.failureTimestamps = newFailureRing()
	k.rateLimit = RateLimitInfo{}
	k.halfOpenInFlight = 0
}
