package router

import "github.com/vitaliisemenov/llm-key-proxy/internal/routingconfig"

// resolveTier runs the four-step tier resolution order from spec.md
// §4.4: an explicit per-request override wins outright; failing that, a
// saved (operator-set) override for the client; failing that, the first
// matching rule; failing that, the shallow classifier; failing that, the
// configured default tier.
func resolveTier(cfg routingconfig.Config, features RequestFeatures, requestOverride, clientID, defaultTier string) (tier string, source Source, matchedRule *routingconfig.Rule, classifierReason string) {
	if requestOverride != "" {
		return requestOverride, SourceOverride, nil, ""
	}
	if clientID != "" {
		if saved, ok := cfg.Overrides[clientID]; ok && saved != "" {
			return saved, SourceSavedOverride, nil, ""
		}
	}
	if rule, ok := matchRule(cfg.Rules, features); ok {
		return rule.Tier, SourceRule, rule, ""
	}
	tierName, reason := classify(features, cfg.ComplexityUpgrade)
	if _, exists := cfg.Tiers[tierName]; exists {
		return tierName, SourceClassifier, nil, reason
	}
	return defaultTier, SourceDefault, nil, ""
}

// matchRule returns the first rule whose predicate is satisfied by
// features. Evaluation order is the order rules appear in the config
// (first match wins, per spec.md §4.4 step 2).
func matchRule(rules []routingconfig.Rule, f RequestFeatures) (*routingconfig.Rule, bool) {
	for i := range rules {
		r := rules[i]
		if ruleMatches(r.Match, f) {
			return &r, true
		}
	}
	return nil, false
}

func ruleMatches(m routingconfig.RuleMatch, f RequestFeatures) bool {
	if m.Model != "" && m.Model != f.Model {
		return false
	}
	if m.MaxTokensGte != nil && f.MaxTokens < *m.MaxTokensGte {
		return false
	}
	if m.MessageCountGte != nil && f.MessageCount < *m.MessageCountGte {
		return false
	}
	if m.SystemLengthGte != nil && f.SystemLength < *m.SystemLengthGte {
		return false
	}
	if m.HasTools != nil && *m.HasTools != f.HasTools {
		return false
	}
	if m.HasVision != nil && *m.HasVision != f.HasVision {
		return false
	}
	return true
}
