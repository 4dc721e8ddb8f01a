// Package keymanager owns per-credential state: concurrency slots,
// circuit breaker, cooldowns, latency sampling, and health scoring.
// Mutation of any one key is serialized through that key's own lock;
// different keys proceed independently (spec.md §5).
package keymanager

import (
	"sync"
	"time"

	"github.com/vitaliisemenov/llm-key-proxy/internal/resilience"
	"github.com/vitaliisemenov/llm-key-proxy/internal/ring"
)

// CircuitState is a key's breaker state (spec.md §3, §4.3).
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// rateLimitClampMin and rateLimitClampMax bound the upstream-advertised
// retry-after value per spec.md §7 ("respecting the upstream-advertised
// value clamped to [1s, 5min]").
const (
	rateLimitClampMin = time.Second
	rateLimitClampMax = 5 * time.Minute
)

// latencyRingSize bounds the per-key latency sample ring (spec.md §3
// "latencySamples (ring, fixed size)").
const latencyRingSize = 256

// failureWindowSize bounds the sliding-window failure timestamp ring.
const failureWindowSize = 128

// RateLimitInfo tracks a key's rate-limit cooldown state.
type RateLimitInfo struct {
	InCooldown   bool
	RetryAfterMs int
	Reason       string
}

// Config parameterizes a Key's breaker and concurrency behavior.
type Config struct {
	MaxConcurrency   int
	FailureThreshold int
	FailureWindow    time.Duration
	CooldownDuration time.Duration
	HalfOpenProbes   int
}

// DefaultConfig matches internal/config.KeyPoolConfig's defaults for
// concurrency, failure threshold, and half-open probes. Its 10s cooldown
// differs from the 1s key_pool.cooldown_base default, and FailureWindow
// has no config key.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency:   4,
		FailureThreshold: 5,
		FailureWindow:    60 * time.Second,
		CooldownDuration: 10 * time.Second,
		HalfOpenProbes:   1,
	}
}

// Key is a single upstream credential: bounded concurrency, its own
// circuit breaker, cooldown state, and latency history. All fields are
// mutated only while holding mu.
type Key struct {
	ID     string
	config Config

	mu                sync.Mutex
	maxConcurrency    int
	inFlight          int
	circuit           CircuitState
	failureTimestamps *ring.Buffer[time.Time]
	openedAt          time.Time
	cooldownUntil     time.Time
	rateLimit         RateLimitInfo
	latencySamples    *ring.Buffer[time.Duration]
	totalRequests     int64
	successCount      int64
	halfOpenInFlight  int
}

// NewKey constructs a Key in the CLOSED state.
func NewKey(id string, cfg Config) *Key {
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 1
	}
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	if cfg.HalfOpenProbes < 1 {
		cfg.HalfOpenProbes = 1
	}
	return &Key{
		ID:                id,
		config:            cfg,
		maxConcurrency:    cfg.MaxConcurrency,
		circuit:           StateClosed,
		failureTimestamps: ring.NewBuffer[time.Time](failureWindowSize),
		latencySamples:    ring.NewBuffer[time.Duration](latencyRingSize),
	}
}

// FailureClass is the subset of resilience.Kind that MarkFailure acts on.
type FailureClass = resilience.Kind
