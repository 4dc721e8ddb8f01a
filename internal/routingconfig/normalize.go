package routingconfig

import (
	"encoding/json"
)

// Mode selects whether Normalize synthesizes the required light/medium/
// heavy tiers when absent (Full), or leaves a partial document partial
// (Patch) — spec.md §4.1.
type Mode int

const (
	ModeFull Mode = iota
	ModePatch
)

// Result is the outcome of Normalize.
type Result struct {
	Config   Config
	Migrated bool
	Warnings []string
}

// Normalize accepts a routing config document of any prior shape (raw
// JSON bytes) and returns its normalized v2 form, whether any tier
// required migration, and any non-fatal warnings.
//
// Normalize never returns an error for malformed input: invalid
// documents degrade to a minimal valid v2 skeleton with a warning, per
// spec.md §4.1 ("do not throw").
func Normalize(raw []byte, mode Mode) Result {
	var rc rawConfig
	if len(raw) == 0 {
		return minimalSkeleton("empty input")
	}
	if err := json.Unmarshal(raw, &rc); err != nil {
		return minimalSkeleton("input is not a valid JSON object")
	}

	return normalizeRaw(rc, mode)
}

func minimalSkeleton(warning string) Result {
	cfg := Config{
		Version: CurrentVersion,
		Enabled: true,
		Tiers:   map[string]Tier{},
	}
	for _, name := range RequiredTiers {
		cfg.Tiers[name] = Tier{Models: []string{}, Strategy: StrategyBalanced}
	}
	return Result{Config: cfg, Migrated: false, Warnings: []string{warning}}
}

func normalizeRaw(rc rawConfig, mode Mode) Result {
	var warnings []string
	migrated := false

	tiers := make(map[string]Tier, len(rc.Tiers))
	for name, rt := range rc.Tiers {
		normalizedTier, tierMigrated, warn := normalizeTier(name, rt)
		tiers[name] = normalizedTier
		if tierMigrated {
			migrated = true
		}
		if warn != "" {
			warnings = append(warnings, warn)
		}
	}

	if mode == ModeFull {
		for _, name := range RequiredTiers {
			if _, ok := tiers[name]; !ok {
				tiers[name] = Tier{Models: []string{}, Strategy: StrategyBalanced}
			}
		}
	}

	cfg := Config{
		Version: CurrentVersion,
		Enabled: true,
		Tiers:   tiers,
	}
	if rc.Enabled != nil {
		cfg.Enabled = *rc.Enabled
	}
	if rc.Rules != nil {
		cfg.Rules = append([]Rule(nil), rc.Rules...)
	}
	if rc.Overrides != nil {
		cfg.Overrides = cloneStringMap(rc.Overrides)
	}
	if rc.ComplexityUpgrade != nil {
		cfg.ComplexityUpgrade = *rc.ComplexityUpgrade
	}
	if rc.GLM5 != nil {
		cfg.GLM5 = *rc.GLM5
	}

	return Result{Config: cfg, Migrated: migrated, Warnings: warnings}
}

// normalizeTier converts a single tier's raw (possibly v1, v2, or mixed)
// shape into its normalized v2 Tier.
func normalizeTier(name string, rt rawTier) (Tier, bool, string) {
	v1, v2 := rt.isV1(), rt.isV2()

	var models []string
	var warning string
	migrated := false

	switch {
	case v1 && v2:
		warning = "tier " + name + ": both legacy and v2 model fields present; v2 models wins"
		models = cloneStringSlice(rt.Models)
		migrated = true
	case v2:
		models = cloneStringSlice(rt.Models)
	case v1:
		models = dedupePreserveOrder(append(append([]string{rt.TargetModel}, rt.FallbackModels...), rt.FailoverModel))
		migrated = true
	default:
		models = []string{}
	}

	strategy := normalizeStrategy(rt.Strategy)

	return Tier{
		Models:            models,
		Strategy:          strategy,
		Label:             rt.Label,
		ClientModelPolicy: rt.ClientModelPolicy,
	}, migrated, warning
}

func normalizeStrategy(raw string) Strategy {
	if raw == "" {
		return StrategyBalanced
	}
	if raw == "failover" {
		return StrategyBalanced
	}
	s := Strategy(raw)
	if !validStrategy(s) {
		return StrategyBalanced
	}
	return s
}

func dedupePreserveOrder(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func cloneStringSlice(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneStringMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
