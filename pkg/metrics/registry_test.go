package metrics

import (
	"sync"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry_Singleton(t *testing.T) {
	r1 := DefaultRegistry()
	r2 := DefaultRegistry()
	assert.Same(t, r1, r2)
}

func TestDefaultRegistry_ConcurrentAccess(t *testing.T) {
	var wg sync.WaitGroup
	registries := make([]*Registry, 50)
	for i := range registries {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			registries[idx] = DefaultRegistry()
		}(i)
	}
	wg.Wait()

	for _, r := range registries {
		assert.Same(t, registries[0], r)
	}
}

func TestNewRegistry_DefaultsNamespace(t *testing.T) {
	assert.Equal(t, "llm_key_proxy", NewRegistry("").Namespace())
	assert.Equal(t, "test_registry_a", NewRegistry("test_registry_a").Namespace())
}

func TestRequestMetrics_RecordsLabeledCounters(t *testing.T) {
	reg := NewRegistry("test_registry_requests")
	rm := reg.Requests()

	rm.RequestsTotal.WithLabelValues("medium", "rule").Inc()
	rm.RequestsTotal.WithLabelValues("medium", "rule").Inc()
	rm.TokensTotal.WithLabelValues("medium", "glm-4-air", "input").Add(12)

	var m dto.Metric
	require.NoError(t, rm.RequestsTotal.WithLabelValues("medium", "rule").Write(&m))
	assert.Equal(t, float64(2), m.GetCounter().GetValue())
}

func TestSystemMetrics_RecordsLabeledCounters(t *testing.T) {
	reg := NewRegistry("test_registry_system")
	sm := reg.System()

	sm.ConfigMigrationTotal.WithLabelValues("migrated").Inc()
	sm.DriftTotal.WithLabelValues("all", "concurrency_mismatch").Inc()

	var m dto.Metric
	require.NoError(t, sm.ConfigMigrationTotal.WithLabelValues("migrated").Write(&m))
	assert.Equal(t, float64(1), m.GetCounter().GetValue())
}

func TestRegistry_LazyInitReturnsSameInstance(t *testing.T) {
	reg := NewRegistry("test_registry_lazy")
	assert.Same(t, reg.Requests(), reg.Requests())
	assert.Same(t, reg.System(), reg.System())
}
