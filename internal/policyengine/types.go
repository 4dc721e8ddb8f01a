// Package policyengine implements the Route Policy Manager: matching an
// inbound request to the highest-priority enabled policy whose match
// predicate fits, deep-merged over a default policy, with file-watched
// hot reload.
package policyengine

// MatchSpec is the predicate half of a Policy. Absent (empty) slices are
// wildcards — any value satisfies that criterion.
type MatchSpec struct {
	Paths   []string `json:"paths,omitempty" yaml:"paths,omitempty"`
	Methods []string `json:"methods,omitempty" yaml:"methods,omitempty"`
	Models  []string `json:"models,omitempty" yaml:"models,omitempty"`
}

// PacingConfig bounds the admission token bucket applied to requests
// matching this policy. Nil means no pacing override.
type PacingConfig struct {
	RatePerSecond float64 `json:"ratePerSecond" yaml:"ratePerSecond"`
	Burst         int     `json:"burst" yaml:"burst"`
}

// TracingConfig controls span sampling and body capture for this policy.
type TracingConfig struct {
	SampleRate  int  `json:"sampleRate" yaml:"sampleRate" validate:"gte=0,lte=100"`
	IncludeBody bool `json:"includeBody" yaml:"includeBody"`
	MaxBodySize int  `json:"maxBodySize" yaml:"maxBodySize"`
}

// TelemetryMode selects how request events are reported for a policy.
type TelemetryMode string

const (
	TelemetryNormal TelemetryMode = "normal"
	TelemetryDrop   TelemetryMode = "drop"
	TelemetrySample TelemetryMode = "sample"
)

// TelemetryConfig wraps the telemetry mode; kept as a struct (rather than
// a bare string field) to leave room for a future sample rate without
// breaking the on-disk schema.
type TelemetryConfig struct {
	Mode TelemetryMode `json:"mode" yaml:"mode"`
}

// Policy is a single route policy (spec.md §3 Policy).
type Policy struct {
	Name         string           `json:"name" yaml:"name" validate:"required"`
	Match        *MatchSpec       `json:"match,omitempty" yaml:"match,omitempty"`
	RetryBudget  int              `json:"retryBudget" yaml:"retryBudget" validate:"gte=0"`
	MaxQueueTime int              `json:"maxQueueTime" yaml:"maxQueueTime" validate:"gte=0"`
	Pacing       *PacingConfig    `json:"pacing,omitempty" yaml:"pacing,omitempty"`
	Tracing      TracingConfig    `json:"tracing" yaml:"tracing"`
	Telemetry    TelemetryConfig  `json:"telemetry" yaml:"telemetry"`
	Priority     int              `json:"priority" yaml:"priority"`
	Enabled      bool             `json:"enabled" yaml:"enabled"`
}

// Request is the fixed subset of an inbound request the policy engine
// matches against (spec.md §9 "a fixed RequestContext" redesign note).
type Request struct {
	Path   string
	Method string
	Model  string
}

// DefaultPolicy is merged under every match result, and used verbatim
// when no enabled policy matches.
func DefaultPolicy() Policy {
	return Policy{
		Name:         "default",
		RetryBudget:  3,
		MaxQueueTime: 30000,
		Tracing:      TracingConfig{SampleRate: 100, IncludeBody: false, MaxBodySize: 65536},
		Telemetry:    TelemetryConfig{Mode: TelemetryNormal},
		Priority:     0,
		Enabled:      true,
	}
}

// ReloadReport is passed to a Manager's onReload callback after every
// hot-reload attempt.
type ReloadReport struct {
	Success        bool
	PoliciesLoaded int
	Errors         []string
}

// Document is the on-disk shape of the policy file (spec.md §6
// "Policy file — JSON {policies: [...]}").
type Document struct {
	Policies []Policy `json:"policies" yaml:"policies"`
}
