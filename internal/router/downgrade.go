package router

import (
	"sync"
	"time"

	"github.com/vitaliisemenov/llm-key-proxy/internal/ring"
)

// downgradeRingSize bounds the sliding window of downgrade timestamps
// kept per tracker; the window itself (not the ring) enforces the
// budget, so this only needs to comfortably exceed any realistic budget.
const downgradeRingSize = 64

// DowngradeBudget caps how many times a request may be silently routed
// to a lower tier than its resolved one within a rolling window, before
// the router instead returns the resolved tier's own unavailability as a
// hard failure (spec.md §9 Open Question: default {budget: 3,
// windowSeconds: 60}, operator-tunable via internal/config).
type DowngradeBudget struct {
	Budget int
	Window time.Duration
}

// DefaultDowngradeBudget is the spec-stated starting default.
func DefaultDowngradeBudget() DowngradeBudget {
	return DowngradeBudget{Budget: 3, Window: 60 * time.Second}
}

// downgradeTracker enforces one DowngradeBudget's rolling window.
type downgradeTracker struct {
	mu        sync.Mutex
	budget    DowngradeBudget
	instances *ring.Buffer[time.Time]
}

func newDowngradeTracker(budget DowngradeBudget) *downgradeTracker {
	return &downgradeTracker{
		budget:    budget,
		instances: ring.NewBuffer[time.Time](downgradeRingSize),
	}
}

// allow reports whether one more downgrade may be spent right now, and if
// so records it immediately (check-and-consume is atomic under the lock).
func (t *downgradeTracker) allow(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := now.Add(-t.budget.Window)
	used := 0
	for _, ts := range t.instances.Snapshot() {
		if ts.After(cutoff) {
			used++
		}
	}
	if used >= t.budget.Budget {
		return false
	}
	t.instances.Push(now)
	return true
}
