package webhook

import (
	"sync"
	"time"

	"github.com/vitaliisemenov/llm-key-proxy/internal/ring"
)

const errorWindowRingSize = 512

// SpikeConfig bounds an ErrorSpikeDetector's sensitivity.
type SpikeConfig struct {
	Threshold int
	Window    time.Duration
}

// ErrorSpikeDetector counts failures in a rolling window and reports
// when the count crosses Threshold, so the pipeline can fire a webhook
// notification (spec.md §4.8 "error-spike detection").
type ErrorSpikeDetector struct {
	mu     sync.Mutex
	cfg    SpikeConfig
	events *ring.Buffer[time.Time]

	tickerDone chan struct{}
	tickerOnce sync.Once
}

// NewErrorSpikeDetector constructs a detector over cfg.
func NewErrorSpikeDetector(cfg SpikeConfig) *ErrorSpikeDetector {
	return &ErrorSpikeDetector{
		cfg:        cfg,
		events:     ring.NewBuffer[time.Time](errorWindowRingSize),
		tickerDone: make(chan struct{}),
	}
}

// RecordFailure records one failure and reports whether the window's
// count has reached the configured threshold.
func (d *ErrorSpikeDetector) RecordFailure(now time.Time) (spiking bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events.Push(now)
	return d.countLocked(now) >= d.cfg.Threshold
}

func (d *ErrorSpikeDetector) countLocked(now time.Time) int {
	cutoff := now.Add(-d.cfg.Window)
	count := 0
	for _, ts := range d.events.Snapshot() {
		if ts.After(cutoff) {
			count++
		}
	}
	return count
}

// StartWindowMonitor periodically invokes onCheck with the current
// in-window failure count, letting the caller emit a spike webhook on a
// sustained condition rather than on every single failure. It must be
// stopped explicitly (spec.md §5: background timers are unref'd and
// need an idempotent stop call).
func (d *ErrorSpikeDetector) StartWindowMonitor(interval time.Duration, onCheck func(count int)) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				d.mu.Lock()
				count := d.countLocked(now)
				d.mu.Unlock()
				onCheck(count)
			case <-d.tickerDone:
				return
			}
		}
	}()
}

// Stop ends the window monitor goroutine, if running. Idempotent.
func (d *ErrorSpikeDetector) Stop() {
	d.tickerOnce.Do(func() { close(d.tickerDone) })
}
