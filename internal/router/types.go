// Package router implements the Model Router: tier resolution for an
// inbound request (override → rule → classifier → default), candidate
// ordering within a tier under a configured strategy, downgrade budget
// tracking, and GLM-5 shadow-mode routing.
package router

import "github.com/vitaliisemenov/llm-key-proxy/internal/routingconfig"

// RequestFeatures are the shallow, non-content-inspecting signals the
// classifier and rules operate on (spec.md §1 Non-goals: "any form of
// content inspection beyond shallow classification features").
type RequestFeatures struct {
	Model        string
	MaxTokens    int
	MessageCount int
	SystemLength int
	HasTools     bool
	HasVision    bool
}

// ModelInfo is static metadata about a routable model (spec.md §3
// Model).
type ModelInfo struct {
	ID                 string
	HomeTier           string
	CostInputPerM      float64
	CostOutputPerM     float64
	MaxConcurrency     int
	SupportsVision     bool
	SupportsStreaming  bool
	ContextLength      int
}

// Source names which resolution step picked the tier or model.
type Source string

const (
	SourceOverride      Source = "override"
	SourceSavedOverride Source = "saved-override"
	SourceRule          Source = "rule"
	SourceClassifier    Source = "classifier"
	SourceDefault       Source = "default"
)

// ScoreEntry is one candidate's standing in a strategy's ordering,
// exposed for the explain() introspection endpoint.
type ScoreEntry struct {
	Model          string
	Available      int
	CostPerM       float64
	MaxConcurrency int
	Position       int
	Score          float64
}

// Decision is the full result of routing one request, matching the
// fields spec.md §4.4's explain() call must expose.
type Decision struct {
	SelectedModel    string
	Tier             string
	Strategy         routingconfig.Strategy
	Source           Source
	Reason           string
	ScoringTable     []ScoreEntry
	CooldownReasons  []string
	MatchedRule      *routingconfig.Rule
	ClassifierResult string
	Features         RequestFeatures
	FallbackReason   string
	GLM5Eligible     bool
	GLM5Routed       bool
}

// Availability abstracts the Key Manager's view of per-model slot
// availability so this package does not import internal/keymanager
// directly; the pipeline wires a concrete adapter at construction time.
type Availability interface {
	// Available returns the number of free, non-cooled slots across all
	// keys eligible to serve model.
	Available(model string) int
	// CooldownReason returns a human-readable reason if model has no
	// available slots because its keys are cooled/open, or "" if it has
	// capacity.
	CooldownReason(model string) string
}
