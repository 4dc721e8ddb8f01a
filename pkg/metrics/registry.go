// Package metrics provides the proxy's categorized Prometheus registry.
//
// Metrics are grouped by what they describe rather than registered ad
// hoc at each call site:
//   - Requests: per-request routing and token outcomes (tier, source,
//     upgrade, fallback, tokens)
//   - System: operational counters not tied to a single request
//     (config migrations, Key Manager/Router drift)
//
// Example:
//
//	reg := metrics.DefaultRegistry()
//	reg.Requests().RequestsTotal.WithLabelValues("medium", "rule").Inc()
package metrics

import "sync"

// Registry is the central registry for all Prometheus metrics the
// proxy exposes. Categories are lazily constructed so a deployment
// that never touches one (e.g. a Lite profile with no drift detection)
// doesn't pay for its collectors.
type Registry struct {
	namespace string

	requests     *RequestMetrics
	requestsOnce sync.Once

	system     *SystemMetrics
	systemOnce sync.Once
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the global singleton Registry, registered
// against promauto's default registerer. Safe for concurrent use.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry("llm_key_proxy")
	})
	return defaultRegistry
}

// NewRegistry creates a Registry under namespace. Tests should use a
// distinct namespace per instance to avoid colliding with
// promauto's default registerer across test cases.
func NewRegistry(namespace string) *Registry {
	if namespace == "" {
		namespace = "llm_key_proxy"
	}
	return &Registry{namespace: namespace}
}

// Requests returns the request-outcome metrics, lazy-initialized on
// first access.
func (r *Registry) Requests() *RequestMetrics {
	r.requestsOnce.Do(func() {
		r.requests = newRequestMetrics(r.namespace)
	})
	return r.requests
}

// System returns the operational counters, lazy-initialized on first
// access.
func (r *Registry) System() *SystemMetrics {
	r.systemOnce.Do(func() {
		r.system = newSystemMetrics(r.namespace)
	})
	return r.system
}

// Namespace returns the configured namespace for this registry.
func (r *Registry) Namespace() string {
	return r.namespace
}
