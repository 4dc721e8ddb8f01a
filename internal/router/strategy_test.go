package router

import "testing"

type fakeAvailability struct {
	available map[string]int
	cooldown  map[string]string
}

func (f fakeAvailability) Available(model string) int {
	return f.available[model]
}

func (f fakeAvailability) CooldownReason(model string) string {
	return f.cooldown[model]
}

// TestRankCandidates_DeterministicTiebreak mirrors spec.md §8 scenario 4:
// two candidates with identical available/cost/maxConcurrency are always
// ordered the same way, lexicographically by model name, under both the
// throughput and pool strategies.
func TestRankCandidates_DeterministicTiebreak(t *testing.T) {
	models := []ModelInfo{
		{ID: "glm-4-flash", CostInputPerM: 0.10, MaxConcurrency: 50},
		{ID: "glm-4-air", CostInputPerM: 0.10, MaxConcurrency: 50},
	}
	avail := fakeAvailability{available: map[string]int{"glm-4-flash": 10, "glm-4-air": 10}}

	for _, strategy := range []string{"throughput", "pool"} {
		ranked := rankCandidates(models, avail, strategy)
		if ranked[0].Model != "glm-4-air" {
			t.Fatalf("%s strategy: want glm-4-air first, got %s", strategy, ranked[0].Model)
		}
		if ranked[1].Model != "glm-4-flash" {
			t.Fatalf("%s strategy: want glm-4-flash second, got %s", strategy, ranked[1].Model)
		}
	}
}

func TestRankCandidates_ThroughputPrefersAvailability(t *testing.T) {
	models := []ModelInfo{
		{ID: "a", MaxConcurrency: 10},
		{ID: "b", MaxConcurrency: 10},
	}
	avail := fakeAvailability{available: map[string]int{"a": 1, "b": 5}}
	ranked := rankCandidates(models, avail, "throughput")
	if ranked[0].Model != "b" {
		t.Fatalf("want b first (more available), got %s", ranked[0].Model)
	}
}

func TestRankCandidates_QualityPrefersDeclarationOrder(t *testing.T) {
	models := []ModelInfo{
		{ID: "premium"},
		{ID: "budget"},
	}
	avail := fakeAvailability{available: map[string]int{"premium": 1, "budget": 100}}
	ranked := rankCandidates(models, avail, "quality")
	if ranked[0].Model != "premium" {
		t.Fatalf("quality strategy should keep declaration order when both available, got %s first", ranked[0].Model)
	}
}

func TestRankCandidates_QualitySkipsUnavailable(t *testing.T) {
	models := []ModelInfo{
		{ID: "premium"},
		{ID: "budget"},
	}
	avail := fakeAvailability{available: map[string]int{"premium": 0, "budget": 5}}
	ranked := rankCandidates(models, avail, "quality")
	if bestAvailable(ranked) != "budget" {
		t.Fatalf("want budget as best available fallback, got %q", bestAvailable(ranked))
	}
}

func TestRankCandidates_BalancedWeighsCostAgainstAvailability(t *testing.T) {
	models := []ModelInfo{
		{ID: "cheap", CostInputPerM: 0.05},
		{ID: "pricey", CostInputPerM: 5.00},
	}
	avail := fakeAvailability{available: map[string]int{"cheap": 10, "pricey": 10}}
	ranked := rankCandidates(models, avail, "balanced")
	if ranked[0].Model != "cheap" {
		t.Fatalf("balanced strategy should prefer the cheaper model at equal availability, got %s", ranked[0].Model)
	}
}

func TestBestAvailable_NoneHaveCapacity(t *testing.T) {
	models := []ModelInfo{{ID: "a"}, {ID: "b"}}
	avail := fakeAvailability{available: map[string]int{}}
	ranked := rankCandidates(models, avail, "throughput")
	if bestAvailable(ranked) != "" {
		t.Fatal("expected no best-available model when nothing has capacity")
	}
}
