package router

import (
	"log/slog"
	"sync"
	"time"

	"github.com/vitaliisemenov/llm-key-proxy/internal/routingconfig"
)

// defaultFallbackTier is used when resolution reaches spec.md §4.4 step 4
// (no override, no rule match, and the classifier's tier isn't actually
// configured) and no more specific default is available. See DESIGN.md's
// Open Question decisions.
const defaultFallbackTier = "medium"

// tierDowngradeOrder lists tiers from heaviest to lightest; downgrading
// always moves one step right.
var tierDowngradeOrder = []string{"heavy", "medium", "light"}

func nextLowerTier(tier string) (string, bool) {
	for i, t := range tierDowngradeOrder {
		if t == tier && i+1 < len(tierDowngradeOrder) {
			return tierDowngradeOrder[i+1], true
		}
	}
	return "", false
}

// Router resolves requests to a concrete model: tier resolution, within-
// tier candidate ordering, downgrade-on-exhaustion, and the GLM-5
// shadow-mode override.
type Router struct {
	mu     sync.RWMutex
	cfg    routingconfig.Config
	models map[string]ModelInfo
	avail  Availability
	logger *slog.Logger

	glm5Model string
	downgrade *downgradeTracker
}

// NewRouter builds a Router over a normalized routing config, a model
// catalog (static metadata per spec.md §3 Model), an Availability view
// onto the Key Manager, and the model GLM-5 shadow-routes to when it
// wins its split.
func NewRouter(cfg routingconfig.Config, models map[string]ModelInfo, avail Availability, glm5Model string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cfg:       cfg,
		models:    models,
		avail:     avail,
		logger:    logger,
		glm5Model: glm5Model,
		downgrade: newDowngradeTracker(DefaultDowngradeBudget()),
	}
}

// SetConfig atomically swaps in a newly normalized/reloaded routing
// config (e.g. after a PUT /model-routing call).
func (r *Router) SetConfig(cfg routingconfig.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg
}

// SetDowngradeBudget overrides the default downgrade budget/window.
func (r *Router) SetDowngradeBudget(b DowngradeBudget) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.downgrade = newDowngradeTracker(b)
}

func (r *Router) configSnapshot() routingconfig.Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// Config returns the live routing config snapshot, for the
// export/overrides endpoints that need to read it outside of a Route
// call.
func (r *Router) Config() routingconfig.Config {
	return r.configSnapshot()
}

// Route resolves one request to a model, consuming downgrade budget and
// the GLM-5 split as real side effects.
func (r *Router) Route(req RequestFeatures, requestID, requestOverride, clientID string) Decision {
	return r.route(req, requestID, requestOverride, clientID, false)
}

// Explain runs the identical resolution logic without consuming
// downgrade budget, for the introspection endpoint (spec.md §4.4
// explain()).
func (r *Router) Explain(req RequestFeatures, requestID, requestOverride, clientID string) Decision {
	return r.route(req, requestID, requestOverride, clientID, true)
}

func (r *Router) route(req RequestFeatures, requestID, requestOverride, clientID string, dryRun bool) Decision {
	cfg := r.configSnapshot()

	tierName, source, matchedRule, classifierReason := resolveTier(cfg, req, requestOverride, clientID, defaultFallbackTier)

	decision := Decision{
		Tier:             tierName,
		Source:           source,
		MatchedRule:      matchedRule,
		ClassifierResult: classifierReason,
		Features:         req,
	}

	selected, ranked, cooldownReasons, fallbackReason := r.resolveWithinTier(cfg, tierName, dryRun)
	decision.ScoringTable = ranked
	decision.CooldownReasons = cooldownReasons
	decision.FallbackReason = fallbackReason

	if selected == "" {
		decision.Reason = "no_capacity"
		return decision
	}

	decision.SelectedModel = selected
	decision.Strategy = cfg.Tiers[tierName].Strategy
	decision.Reason = string(source)

	if r.glm5Model != "" {
		eligible := r.glm5Eligible(selected, cfg)
		decision.GLM5Eligible = eligible
		if eligible && cfg.GLM5.PreferencePercent > 0 && glm5Decide(requestID, cfg.GLM5.PreferencePercent, eligible) {
			decision.GLM5Routed = true
			decision.SelectedModel = r.glm5Model
		}
	}

	return decision
}

// resolveWithinTier ranks tierName's candidates and, if none have spare
// capacity, walks the downgrade chain (heavy→medium→light) as long as
// budget allows, per spec.md §4.4 step 5 and §9's downgrade budget.
func (r *Router) resolveWithinTier(cfg routingconfig.Config, tierName string, dryRun bool) (selected string, ranked []ScoreEntry, cooldownReasons []string, fallbackReason string) {
	tier := tierName
	for {
		t, ok := cfg.Tiers[tier]
		if !ok {
			return "", ranked, cooldownReasons, "tier_not_configured"
		}
		infos := r.modelInfos(t.Models)
		entries := rankCandidates(infos, r.avail, string(t.Strategy))
		if tier == tierName {
			ranked = entries
		}
		if pick := bestAvailable(entries); pick != "" {
			return pick, ranked, cooldownReasons, fallbackReason
		}
		for _, m := range t.Models {
			if reason := r.avail.CooldownReason(m); reason != "" {
				cooldownReasons = append(cooldownReasons, reason)
			}
		}

		lower, hasLower := nextLowerTier(tier)
		if !hasLower {
			return "", ranked, cooldownReasons, "exhausted_all_tiers"
		}
		allowed := dryRun
		if !dryRun {
			allowed = r.downgrade.allow(time.Now())
		}
		if !allowed {
			return "", ranked, cooldownReasons, "downgrade_budget_exhausted"
		}
		fallbackReason = "downgraded_from_" + tier
		tier = lower
	}
}

func (r *Router) modelInfos(ids []string) []ModelInfo {
	infos := make([]ModelInfo, 0, len(ids))
	for _, id := range ids {
		if info, ok := r.models[id]; ok {
			infos = append(infos, info)
		}
	}
	return infos
}

// glm5Eligible requires the glm5 model to be part of the catalog and
// currently have spare capacity; the preference percentage alone never
// routes to a model that can't serve the request.
func (r *Router) glm5Eligible(selected string, cfg routingconfig.Config) bool {
	if selected == r.glm5Model {
		return false
	}
	if _, ok := r.models[r.glm5Model]; !ok {
		return false
	}
	return r.avail.Available(r.glm5Model) > 0
}
