package stats

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/vitaliisemenov/llm-key-proxy/internal/ring"
)

// keyAccumulator is one key's live, mutable counters.
type keyAccumulator struct {
	totalRequests int64
	successCount  int64
	latencies     *ring.Buffer[float64]
}

func newKeyAccumulator() *keyAccumulator {
	return &keyAccumulator{latencies: ring.NewBuffer[float64](latencyRingSize)}
}

func (k *keyAccumulator) snapshot() KeyStats {
	samples := k.latencies.Snapshot()
	stats := KeyStats{TotalRequests: k.totalRequests, SuccessCount: k.successCount, Samples: int64(len(samples))}
	if len(samples) == 0 {
		return stats
	}
	stats.AvgMs, stats.P50Ms, stats.P95Ms, stats.P99Ms, stats.MinMs, stats.MaxMs = percentiles(samples)
	return stats
}

// percentiles computes avg/p50/p95/p99/min/max over samples using the
// nearest-rank method.
func percentiles(samples []float64) (avg, p50, p95, p99, min, max float64) {
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	avg = sum / float64(len(sorted))
	min = sorted[0]
	max = sorted[len(sorted)-1]
	p50 = percentileOf(sorted, 50)
	p95 = percentileOf(sorted, 95)
	p99 = percentileOf(sorted, 99)
	return
}

func percentileOf(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (p * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Aggregator is the live, mutable Stats Aggregator. All counters are
// guarded by a single mutex; request volume here is per-proxy-instance,
// not per-request-byte, so one lock is not a bottleneck (mirrors the
// teacher's own single-mutex metrics registries).
type Aggregator struct {
	mu sync.Mutex

	clientTotal     int64
	clientSucceeded int64
	clientFailed    int64
	errorCounts     map[string]int64
	tokens          TokenCounters
	perKeyTokens    map[string]TokenCounters
	connHealth      ConnectionHealth
	perKey          map[string]*keyAccumulator

	listenersMu sync.RWMutex
	listeners   []RequestListener

	logger *slog.Logger

	persistPath    string
	autoSaveTicker *time.Ticker
	autoSaveDone   chan struct{}
	autoSaveOnce   sync.Once
	destroyOnce    sync.Once
}

// NewAggregator constructs an empty Aggregator.
func NewAggregator(logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		errorCounts:  make(map[string]int64),
		perKeyTokens: make(map[string]TokenCounters),
		perKey:       make(map[string]*keyAccumulator),
		logger:       logger,
		autoSaveDone: make(chan struct{}),
	}
}

// RecordRequest folds one terminal request outcome into every relevant
// counter and notifies listeners.
func (a *Aggregator) RecordRequest(ev RequestEvent) {
	a.mu.Lock()
	a.clientTotal++
	if ev.Success {
		a.clientSucceeded++
	} else {
		a.clientFailed++
		if ev.ErrorKind != "" {
			a.errorCounts[ev.ErrorKind]++
		}
	}
	a.tokens.add(ev.Input, ev.Output)
	if ev.KeyID != "" {
		pkt := a.perKeyTokens[ev.KeyID]
		pkt.add(ev.Input, ev.Output)
		a.perKeyTokens[ev.KeyID] = pkt

		acc, ok := a.perKey[ev.KeyID]
		if !ok {
			acc = newKeyAccumulator()
			a.perKey[ev.KeyID] = acc
		}
		acc.totalRequests++
		if ev.Success {
			acc.successCount++
		}
		acc.latencies.Push(ev.LatencyMs)
	}
	a.mu.Unlock()

	a.notify(ev)
}

// RecordHangup records a dropped upstream connection. consecutive
// tracks a run of hangups unbroken by a successful request; callers
// reset it via RecordConnectionRecovered.
func (a *Aggregator) RecordHangup(at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connHealth.TotalHangups++
	a.connHealth.ConsecutiveHangups++
}

// RecordConnectionRecovered clears the consecutive-hangup streak.
func (a *Aggregator) RecordConnectionRecovered() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connHealth.ConsecutiveHangups = 0
}

// RecordAgentRecreation records that the HTTP transport/agent had to be
// torn down and rebuilt (spec.md §4.8 connection-health).
func (a *Aggregator) RecordAgentRecreation(at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connHealth.AgentRecreations++
	a.connHealth.LastRecreationAt = at
}

// AddListener registers a listener for terminal request events.
func (a *Aggregator) AddListener(l RequestListener) {
	a.listenersMu.Lock()
	defer a.listenersMu.Unlock()
	a.listeners = append(a.listeners, l)
}

// notify calls every listener, isolating each from the others: a
// listener that panics is recovered and logged, and never prevents the
// remaining listeners from running (spec.md §4.8/§7).
func (a *Aggregator) notify(ev RequestEvent) {
	a.listenersMu.RLock()
	listeners := append([]RequestListener(nil), a.listeners...)
	a.listenersMu.RUnlock()

	for _, l := range listeners {
		a.callListener(l, ev)
	}
}

func (a *Aggregator) callListener(l RequestListener, ev RequestEvent) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("stats listener panicked", "panic", r)
		}
	}()
	l(ev)
}

// Snapshot returns the full current state, including the cross-key
// weighted latency aggregate.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	perKey := make(map[string]KeyStats, len(a.perKey))
	var weightedAvg, weightedP50, weightedP95, weightedP99 float64
	var totalSamples int64
	globalMin, globalMax := 0.0, 0.0
	haveSamples := false

	for keyID, acc := range a.perKey {
		ks := acc.snapshot()
		perKey[keyID] = ks
		if ks.Samples == 0 {
			continue
		}
		w := float64(ks.Samples)
		weightedAvg += ks.AvgMs * w
		weightedP50 += ks.P50Ms * w
		weightedP95 += ks.P95Ms * w
		weightedP99 += ks.P99Ms * w
		totalSamples += ks.Samples
		if !haveSamples || ks.MinMs < globalMin {
			globalMin = ks.MinMs
		}
		if !haveSamples || ks.MaxMs > globalMax {
			globalMax = ks.MaxMs
		}
		haveSamples = true
	}

	var latency *LatencyAggregate
	if haveSamples {
		n := float64(totalSamples)
		latency = &LatencyAggregate{
			AvgMs: weightedAvg / n,
			P50Ms: weightedP50 / n,
			P95Ms: weightedP95 / n,
			P99Ms: weightedP99 / n,
			MinMs: globalMin,
			MaxMs: globalMax,
		}
	}

	errCounts := make(map[string]int64, len(a.errorCounts))
	for k, v := range a.errorCounts {
		errCounts[k] = v
	}
	perKeyTokens := make(map[string]TokenCounters, len(a.perKeyTokens))
	for k, v := range a.perKeyTokens {
		perKeyTokens[k] = v
	}

	return Snapshot{
		SchemaVersion:   CurrentSchemaVersion,
		ClientTotal:     a.clientTotal,
		ClientSucceeded: a.clientSucceeded,
		ClientFailed:    a.clientFailed,
		ErrorCounts:     errCounts,
		Tokens:          a.tokens,
		PerKeyTokens:    perKeyTokens,
		ConnHealth:      a.connHealth,
		PerKey:          perKey,
		Latency:         latency,
		SavedAt:         time.Now(),
	}
}

// ClientSuccessRate is the headline success metric (spec.md §4.8).
func (s Snapshot) ClientSuccessRate() float64 {
	if s.ClientTotal == 0 {
		return 0
	}
	return float64(s.ClientSucceeded) / float64(s.ClientTotal)
}

// Destroy stops auto-save, clears listeners, and flushes once
// (spec.md §4.8). Idempotent.
func (a *Aggregator) Destroy() {
	a.destroyOnce.Do(func() {
		a.autoSaveOnce.Do(func() { close(a.autoSaveDone) })
		if a.autoSaveTicker != nil {
			a.autoSaveTicker.Stop()
		}
		a.listenersMu.Lock()
		a.listeners = nil
		a.listenersMu.Unlock()

		if a.persistPath != "" {
			if err := a.Save(a.persistPath); err != nil {
				a.logger.Error("stats final flush failed", "error", err)
			}
		}
	})
}
