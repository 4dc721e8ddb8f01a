package router

import (
	"testing"

	"github.com/vitaliisemenov/llm-key-proxy/internal/routingconfig"
)

func baseRoutingConfig() routingconfig.Config {
	return routingconfig.Config{
		Version: routingconfig.CurrentVersion,
		Enabled: true,
		Tiers: map[string]routingconfig.Tier{
			"heavy":  {Models: []string{"glm-4-plus"}, Strategy: routingconfig.StrategyBalanced},
			"medium": {Models: []string{"glm-4-air"}, Strategy: routingconfig.StrategyBalanced},
			"light":  {Models: []string{"glm-4-flash"}, Strategy: routingconfig.StrategyBalanced},
		},
		Overrides: map[string]string{},
	}
}

func baseModels() map[string]ModelInfo {
	return map[string]ModelInfo{
		"glm-4-plus":  {ID: "glm-4-plus", CostInputPerM: 1.0, MaxConcurrency: 10},
		"glm-4-air":   {ID: "glm-4-air", CostInputPerM: 0.3, MaxConcurrency: 20},
		"glm-4-flash": {ID: "glm-4-flash", CostInputPerM: 0.1, MaxConcurrency: 50},
	}
}

func TestRouter_RequestOverrideWinsOutright(t *testing.T) {
	avail := fakeAvailability{available: map[string]int{"glm-4-plus": 1, "glm-4-air": 1, "glm-4-flash": 1}}
	r := NewRouter(baseRoutingConfig(), baseModels(), avail, "", nil)

	d := r.Route(RequestFeatures{Model: "x"}, "req-1", "light", "")
	if d.Source != SourceOverride || d.Tier != "light" {
		t.Fatalf("want override->light, got %v/%v", d.Source, d.Tier)
	}
}

func TestRouter_SavedOverrideBeatsRuleAndClassifier(t *testing.T) {
	cfg := baseRoutingConfig()
	cfg.Overrides["client-42"] = "heavy"
	cfg.Rules = []routingconfig.Rule{{Match: routingconfig.RuleMatch{}, Tier: "light"}}
	avail := fakeAvailability{available: map[string]int{"glm-4-plus": 1, "glm-4-air": 1, "glm-4-flash": 1}}
	r := NewRouter(cfg, baseModels(), avail, "", nil)

	d := r.Route(RequestFeatures{}, "req-1", "", "client-42")
	if d.Source != SourceSavedOverride || d.Tier != "heavy" {
		t.Fatalf("want saved-override->heavy, got %v/%v", d.Source, d.Tier)
	}
}

func TestRouter_RuleBeatsClassifier(t *testing.T) {
	cfg := baseRoutingConfig()
	mt := 1000
	cfg.Rules = []routingconfig.Rule{{Match: routingconfig.RuleMatch{MaxTokensGte: &mt}, Tier: "heavy"}}
	avail := fakeAvailability{available: map[string]int{"glm-4-plus": 1, "glm-4-air": 1, "glm-4-flash": 1}}
	r := NewRouter(cfg, baseModels(), avail, "", nil)

	d := r.Route(RequestFeatures{MaxTokens: 2000, HasVision: true}, "req-1", "", "")
	if d.Source != SourceRule || d.Tier != "heavy" {
		t.Fatalf("want rule->heavy (rule checked before classifier despite vision signal), got %v/%v", d.Source, d.Tier)
	}
}

func TestRouter_ClassifierFallsBackToDefaultWhenTierNotConfigured(t *testing.T) {
	cfg := baseRoutingConfig()
	delete(cfg.Tiers, "heavy")
	avail := fakeAvailability{available: map[string]int{"glm-4-air": 1, "glm-4-flash": 1}}
	r := NewRouter(cfg, baseModels(), avail, "", nil)

	d := r.Route(RequestFeatures{HasVision: true}, "req-1", "", "")
	if d.Source != SourceDefault || d.Tier != defaultFallbackTier {
		t.Fatalf("want default->%s, got %v/%v", defaultFallbackTier, d.Source, d.Tier)
	}
}

func TestRouter_DowngradesWhenTierExhausted(t *testing.T) {
	cfg := baseRoutingConfig()
	avail := fakeAvailability{available: map[string]int{"glm-4-air": 1, "glm-4-flash": 1}} // heavy has none
	r := NewRouter(cfg, baseModels(), avail, "", nil)

	d := r.Route(RequestFeatures{}, "req-1", "heavy", "")
	if d.SelectedModel != "glm-4-air" {
		t.Fatalf("want downgrade from heavy to medium's glm-4-air, got %s", d.SelectedModel)
	}
	if d.FallbackReason != "downgraded_from_heavy" {
		t.Fatalf("want fallback reason recorded, got %q", d.FallbackReason)
	}
}

func TestRouter_DowngradeBudgetExhaustionStopsFurtherDowngrades(t *testing.T) {
	cfg := baseRoutingConfig()
	avail := fakeAvailability{available: map[string]int{}} // nothing has capacity anywhere
	r := NewRouter(cfg, baseModels(), avail, "", nil)
	r.SetDowngradeBudget(DowngradeBudget{Budget: 1, Window: 60_000_000_000})

	first := r.Route(RequestFeatures{}, "req-1", "heavy", "")
	if first.SelectedModel != "" {
		t.Fatalf("expected no capacity anywhere, got %s", first.SelectedModel)
	}
	second := r.Route(RequestFeatures{}, "req-2", "heavy", "")
	if second.FallbackReason != "downgrade_budget_exhausted" {
		t.Fatalf("want budget exhaustion on the second request, got %q", second.FallbackReason)
	}
}

func TestRouter_Explain_DoesNotConsumeDowngradeBudget(t *testing.T) {
	cfg := baseRoutingConfig()
	// heavy has no capacity but medium does, so a single downgrade
	// satisfies the request as long as the lone budget slot is free.
	avail := fakeAvailability{available: map[string]int{"glm-4-air": 1}}
	r := NewRouter(cfg, baseModels(), avail, "", nil)
	r.SetDowngradeBudget(DowngradeBudget{Budget: 1, Window: 60_000_000_000})

	for i := 0; i < 5; i++ {
		r.Explain(RequestFeatures{}, "req-explain", "heavy", "")
	}
	// Explain never consumed the single allotted downgrade, so a real
	// Route call still gets to attempt one.
	d := r.Route(RequestFeatures{}, "req-real", "heavy", "")
	if d.FallbackReason == "downgrade_budget_exhausted" {
		t.Fatal("explain() calls must not spend the downgrade budget")
	}
}

func TestRouter_GLM5ShadowRoutingIsDeterministicPerRequestID(t *testing.T) {
	cfg := baseRoutingConfig()
	cfg.GLM5 = routingconfig.GLM5Config{PreferencePercent: 100}
	avail := fakeAvailability{available: map[string]int{"glm-4-plus": 1, "glm-5": 1}}
	models := baseModels()
	models["glm-5"] = ModelInfo{ID: "glm-5"}
	r := NewRouter(cfg, models, avail, "glm-5", nil)

	d1 := r.Route(RequestFeatures{}, "req-fixed", "heavy", "")
	d2 := r.Route(RequestFeatures{}, "req-fixed", "heavy", "")
	if !d1.GLM5Routed || !d2.GLM5Routed {
		t.Fatal("100% preference should always route to glm-5")
	}
	if d1.SelectedModel != "glm-5" || d2.SelectedModel != "glm-5" {
		t.Fatalf("want glm-5 selected both times, got %s / %s", d1.SelectedModel, d2.SelectedModel)
	}
}

func TestRouter_GLM5NeverRoutesWhenModelLacksCapacity(t *testing.T) {
	cfg := baseRoutingConfig()
	cfg.GLM5 = routingconfig.GLM5Config{PreferencePercent: 100}
	avail := fakeAvailability{available: map[string]int{"glm-4-plus": 1, "glm-5": 0}}
	models := baseModels()
	models["glm-5"] = ModelInfo{ID: "glm-5"}
	r := NewRouter(cfg, models, avail, "glm-5", nil)

	d := r.Route(RequestFeatures{}, "req-1", "heavy", "")
	if d.GLM5Routed {
		t.Fatal("glm-5 has no capacity, must not be shadow-routed to")
	}
	if d.SelectedModel != "glm-4-plus" {
		t.Fatalf("want the resolved tier's own model, got %s", d.SelectedModel)
	}
}
