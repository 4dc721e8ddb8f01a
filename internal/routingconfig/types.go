// Package routingconfig implements the Config Normalizer: idempotent
// rewriting of the routing configuration from its legacy (v1) shape into
// the current (v2) shape, plus the content-hash marker protocol that
// makes persistence write-once per distinct config.
package routingconfig

// Strategy names a candidate-ordering rule within a tier (spec.md §4.4).
type Strategy string

const (
	StrategyQuality    Strategy = "quality"
	StrategyThroughput Strategy = "throughput"
	StrategyBalanced   Strategy = "balanced"
	StrategyPool       Strategy = "pool"
)

func validStrategy(s Strategy) bool {
	switch s {
	case StrategyQuality, StrategyThroughput, StrategyBalanced, StrategyPool:
		return true
	default:
		return false
	}
}

// Tier is the normalized (v2) shape of a routing tier: an ordered model
// list and a selection strategy. It never carries the legacy
// targetModel/fallbackModels/failoverModel fields.
type Tier struct {
	Models            []string               `json:"models"`
	Strategy          Strategy               `json:"strategy"`
	Label             string                 `json:"label,omitempty"`
	ClientModelPolicy map[string]interface{} `json:"clientModelPolicy,omitempty"`
}

// RuleMatch is the predicate half of a routing Rule (spec.md §4.4 step 2).
type RuleMatch struct {
	Model           string `json:"model,omitempty"`
	MaxTokensGte    *int   `json:"maxTokensGte,omitempty"`
	MessageCountGte *int   `json:"messageCountGte,omitempty"`
	SystemLengthGte *int   `json:"systemLengthGte,omitempty"`
	HasTools        *bool  `json:"hasTools,omitempty"`
	HasVision       *bool  `json:"hasVision,omitempty"`
}

// Rule maps a request-feature predicate to a target tier; rules are
// evaluated in order, first match wins.
type Rule struct {
	Match RuleMatch `json:"match"`
	Tier  string    `json:"tier"`
}

// ComplexityUpgrade configures the classifier thresholds used when no
// override or rule matches (spec.md §4.4 step 3).
type ComplexityUpgrade struct {
	Thresholds []int `json:"thresholds,omitempty"`
}

// GLM5Config controls the GLM-5 shadow-mode routing split.
type GLM5Config struct {
	PreferencePercent int `json:"preferencePercent" validate:"gte=0,lte=100"`
}

// RequiredTiers are synthesized in Full mode when absent from the input.
var RequiredTiers = []string{"light", "medium", "heavy"}

// Config is the normalized (v2) routing configuration.
type Config struct {
	Version           string          `json:"version"`
	Enabled           bool            `json:"enabled"`
	Tiers             map[string]Tier `json:"tiers"`
	Rules             []Rule          `json:"rules,omitempty"`
	Overrides         map[string]string `json:"overrides,omitempty"`
	ComplexityUpgrade ComplexityUpgrade `json:"complexityUpgrade"`
	GLM5              GLM5Config        `json:"glm5"`
}

// CurrentVersion is the version tag stamped on every normalized config.
const CurrentVersion = "2.0"

// rawTier is the loosely-typed intake shape that accepts both v1 and v2
// tier fields simultaneously, so Normalize can detect which shape (or
// both) the caller supplied.
type rawTier struct {
	Models            []string               `json:"models,omitempty"`
	Strategy          string                 `json:"strategy,omitempty"`
	Label             string                 `json:"label,omitempty"`
	ClientModelPolicy map[string]interface{} `json:"clientModelPolicy,omitempty"`
	TargetModel       string                 `json:"targetModel,omitempty"`
	FallbackModels    []string               `json:"fallbackModels,omitempty"`
	FailoverModel     string                 `json:"failoverModel,omitempty"`
}

// rawConfig is the loosely-typed intake shape for the whole document.
type rawConfig struct {
	Version           string             `json:"version,omitempty"`
	Enabled           *bool              `json:"enabled,omitempty"`
	Tiers             map[string]rawTier `json:"tiers,omitempty"`
	Rules             []Rule             `json:"rules,omitempty"`
	Overrides         map[string]string  `json:"overrides,omitempty"`
	ComplexityUpgrade *ComplexityUpgrade `json:"complexityUpgrade,omitempty"`
	GLM5              *GLM5Config        `json:"glm5,omitempty"`
}

func (t rawTier) isV1() bool {
	return t.TargetModel != "" || len(t.FallbackModels) > 0 || t.FailoverModel != ""
}

func (t rawTier) isV2() bool {
	return len(t.Models) > 0
}
