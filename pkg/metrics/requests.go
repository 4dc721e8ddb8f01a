package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RequestMetrics tracks the per-request routing and token outcomes the
// Model Router and Request Pipeline produce.
type RequestMetrics struct {
	// RequestsTotal counts completed attempts by the tier the router
	// selected and the resolution step that picked it (override, saved
	// override, rule, classifier, default).
	RequestsTotal *prometheus.CounterVec

	// UpgradeTotal counts requests GLM-5 shadow routing (spec.md §4.4)
	// moved onto the GLM-5 model, keyed by reason; the pipeline records
	// only "glm5_shadow_route". Classifier tier upgrades are not counted.
	UpgradeTotal *prometheus.CounterVec

	// FallbackTotal counts requests downgraded off their resolved tier
	// because no model in it had an available key, keyed by the
	// recorded fallback reason.
	FallbackTotal *prometheus.CounterVec

	// TokensTotal accumulates input/output tokens by tier, model, and
	// direction.
	TokensTotal *prometheus.CounterVec
}

func newRequestMetrics(namespace string) *RequestMetrics {
	return &RequestMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "requests",
				Name:      "total",
				Help:      "Total requests completed, by resolved tier and routing source.",
			},
			[]string{"tier", "source"},
		),
		UpgradeTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "requests",
				Name:      "upgrade_total",
				Help:      "Total requests shadow-routed onto GLM-5, by reason.",
			},
			[]string{"reason"},
		),
		FallbackTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "requests",
				Name:      "fallback_total",
				Help:      "Total requests downgraded off their resolved tier for lack of an available key.",
			},
			[]string{"reason"},
		),
		TokensTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "requests",
				Name:      "tokens_total",
				Help:      "Total tokens billed, by tier, model, and direction.",
			},
			[]string{"tier", "model", "direction"},
		),
	}
}
