package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SystemMetrics tracks operational counters that aren't tied to any
// single request: config normalization outcomes and Key
// Manager/Router drift.
type SystemMetrics struct {
	// ConfigMigrationTotal counts PUT /model-routing calls by whether
	// the submitted document was a legacy v1 shape the Config
	// Normalizer had to migrate ("migrated") or already v2
	// ("unchanged").
	ConfigMigrationTotal *prometheus.CounterVec

	// DriftTotal counts mismatches DetectDrift finds between the Key
	// Manager's own view of key availability and the view the Router
	// used to make its last batch of decisions (spec.md §4.3). The
	// Key Manager compares drift pool-wide rather than per tier, so
	// tier is always "all" today.
	DriftTotal *prometheus.CounterVec
}

func newSystemMetrics(namespace string) *SystemMetrics {
	return &SystemMetrics{
		ConfigMigrationTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "config",
				Name:      "migration_total",
				Help:      "Total model-routing config writes, by whether the document required v1-to-v2 migration.",
			},
			[]string{"result"},
		),
		DriftTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "keys",
				Name:      "drift_total",
				Help:      "Total Key Manager/Router state mismatches detected, by tier and mismatch reason.",
			},
			[]string{"tier", "reason"},
		),
	}
}
