package keymanager

import (
	"sync"
	"time"
)

// Manager owns the full key pool. Per-key mutation is serialized inside
// each Key; Manager only coordinates lookup and candidate selection, so
// different keys proceed independently (spec.md §5).
type Manager struct {
	mu   sync.RWMutex
	keys map[string]*Key

	driftMu       sync.Mutex
	driftTicker   *time.Ticker
	driftDone     chan struct{}
	driftOnce     sync.Once
	driftCounters DriftCounters
}

// DriftCounters tracks the mismatches spec.md §4.3's drift detection
// reports. They drive observability only and never block requests.
type DriftCounters struct {
	RouterAvailableKMExcluded int64
	KMAvailableRouterCooled   int64
	ConcurrencyMismatch       int64
	CooldownMismatch          int64
}

// NewManager constructs an empty key pool.
func NewManager() *Manager {
	return &Manager{keys: make(map[string]*Key)}
}

// AddKey registers a new key with the given config. Replaces any
// existing key with the same ID.
func (m *Manager) AddKey(id string, cfg Config) *Key {
	k := NewKey(id, cfg)
	m.mu.Lock()
	m.keys[id] = k
	m.mu.Unlock()
	return k
}

// Get returns a key by ID.
func (m *Manager) Get(id string) (*Key, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	k, ok := m.keys[id]
	return k, ok
}

// Candidates returns the subset of keyIDs (in the given order) that are
// currently eligible to serve a request, per spec.md §4.3's exclusion
// rules. Order is preserved so callers can apply a router strategy's
// ordering before calling Candidates.
func (m *Manager) Candidates(keyIDs []string, now time.Time) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(keyIDs))
	for _, id := range keyIDs {
		k, ok := m.keys[id]
		if !ok {
			continue
		}
		if k.Eligible(now) {
			out = append(out, id)
		}
	}
	return out
}

// AcquireFirst tries each candidate key in order and returns the ID of
// the first one it successfully acquires a slot on, or "" with ok=false
// if none could be acquired (the caller should enter an admission hold
// per spec.md §4.5 step 3).
func (m *Manager) AcquireFirst(keyIDs []string, now time.Time) (string, bool) {
	m.mu.RLock()
	keys := make([]*Key, 0, len(keyIDs))
	for _, id := range keyIDs {
		if k, ok := m.keys[id]; ok {
			keys = append(keys, k)
		}
	}
	m.mu.RUnlock()

	for _, k := range keys {
		if k.Acquire(now) {
			return k.ID, true
		}
	}
	return "", false
}

// Report returns a snapshot of every key, for the Stats Aggregator and
// admin introspection endpoints.
func (m *Manager) Report(now time.Time) []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Snapshot, 0, len(m.keys))
	for _, k := range m.keys {
		out = append(out, k.Report(now))
	}
	return out
}

// RouterView is what the Model Router believes about key availability,
// supplied by the caller of DetectDrift so the Key Manager can compare
// its own ground truth against it without importing the router package.
type RouterView struct {
	ExcludedKeyIDs []string // keys the router treats as unavailable
	CooledKeyIDs   []string // keys the router believes are in cooldown
}

// DetectDrift compares routerView against this manager's own state and
// increments the mismatch counters spec.md §4.3 names. It never blocks
// or rejects requests; the counters are purely observational.
func (m *Manager) DetectDrift(routerView RouterView, now time.Time) DriftCounters {
	m.mu.RLock()
	defer m.mu.RUnlock()

	excluded := toSet(routerView.ExcludedKeyIDs)
	cooled := toSet(routerView.CooledKeyIDs)

	m.driftMu.Lock()
	defer m.driftMu.Unlock()

	for id, k := range m.keys {
		eligible := k.Eligible(now)
		_, routerExcludesIt := excluded[id]
		_, routerCooledIt := cooled[id]

		if !eligible && !routerExcludesIt {
			m.driftCounters.RouterAvailableKMExcluded++
		}
		if eligible && routerCooledIt {
			m.driftCounters.KMAvailableRouterCooled++
		}

		snap := k.Report(now)
		if snap.InFlight > snap.MaxConcurrency {
			m.driftCounters.ConcurrencyMismatch++
		}
		if snap.RateLimit.InCooldown != routerCooledIt {
			m.driftCounters.CooldownMismatch++
		}
	}

	return m.driftCounters
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// StartDriftTicker runs DetectDrift every interval until StopDriftTicker
// is called. The ticker is unreferenced so it never keeps the process
// alive by itself (spec.md §5).
func (m *Manager) StartDriftTicker(interval time.Duration, viewFn func() RouterView, onTick func(DriftCounters)) {
	m.driftTicker = time.NewTicker(interval)
	m.driftDone = make(chan struct{})

	go func() {
		for {
			select {
			case <-m.driftTicker.C:
				counters := m.DetectDrift(viewFn(), time.Now())
				if onTick != nil {
					onTick(counters)
				}
			case <-m.driftDone:
				return
			}
		}
	}()
}

// StopDriftTicker idempotently stops the drift ticker goroutine.
func (m *Manager) StopDriftTicker() {
	m.driftOnce.Do(func() {
		if m.driftTicker != nil {
			m.driftTicker.Stop()
		}
		if m.driftDone != nil {
			close(m.driftDone)
		}
	})
}
