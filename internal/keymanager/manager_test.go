package keymanager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/llm-key-proxy/internal/resilience"
)

func TestManager_CandidatesExcludesOpenAndFullKeys(t *testing.T) {
	m := NewManager()
	now := time.Now()

	cfg := baseConfig()
	k0 := m.AddKey("k0", cfg)
	m.AddKey("k1", cfg)

	for i := 0; i < cfg.FailureThreshold; i++ {
		k0.Acquire(now)
		k0.MarkFailure(resilience.KindUpstream, now)
		k0.Release(time.Millisecond)
	}

	candidates := m.Candidates([]string{"k0", "k1"}, now)
	assert.Equal(t, []string{"k1"}, candidates)
}

func TestManager_AcquireFirstFallsThroughToNextCandidate(t *testing.T) {
	m := NewManager()
	now := time.Now()
	cfg := baseConfig()
	cfg.MaxConcurrency = 1

	k0 := m.AddKey("k0", cfg)
	m.AddKey("k1", cfg)

	require.True(t, k0.Acquire(now)) // exhausts k0's only slot

	id, ok := m.AcquireFirst([]string{"k0", "k1"}, now)
	require.True(t, ok)
	assert.Equal(t, "k1", id)
}

func TestManager_AcquireFirstReturnsFalseWhenAllUnavailable(t *testing.T) {
	m := NewManager()
	now := time.Now()
	cfg := baseConfig()
	cfg.MaxConcurrency = 1
	k0 := m.AddKey("k0", cfg)
	k0.Acquire(now)

	_, ok := m.AcquireFirst([]string{"k0"}, now)
	assert.False(t, ok)
}

func TestManager_DetectDriftCountsMismatches(t *testing.T) {
	m := NewManager()
	now := time.Now()
	cfg := baseConfig()
	k0 := m.AddKey("k0", cfg)

	// router thinks k0 is available, but the key manager has excluded it
	for i := 0; i < cfg.FailureThreshold; i++ {
		k0.Acquire(now)
		k0.MarkFailure(resilience.KindUpstream, now)
		k0.Release(time.Millisecond)
	}
	counters := m.DetectDrift(RouterView{}, now)
	assert.Equal(t, int64(1), counters.RouterAvailableKMExcluded)

	// router thinks k1 is cooled, but the key manager has it eligible
	m.AddKey("k1", baseConfig())
	counters = m.DetectDrift(RouterView{CooledKeyIDs: []string{"k1"}}, now)
	assert.Equal(t, int64(1), counters.KMAvailableRouterCooled)
}

func TestManager_DriftTickerStartStopIdempotent(t *testing.T) {
	m := NewManager()
	m.AddKey("k0", baseConfig())

	ticks := make(chan DriftCounters, 4)
	m.StartDriftTicker(10*time.Millisecond, func() RouterView { return RouterView{} }, func(c DriftCounters) {
		select {
		case ticks <- c:
		default:
		}
	})

	select {
	case <-ticks:
	case <-time.After(2 * time.Second):
		t.Fatal("expected at least one drift tick")
	}

	m.StopDriftTicker()
	m.StopDriftTicker() // idempotent
}
