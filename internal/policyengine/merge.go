package policyengine

// mergeOver deep-merges p over base: nested objects (Pacing, Tracing,
// Telemetry) are merged field-by-field when p sets them, scalar zero
// values in p fall back to base, and slice-valued fields (match lists
// live on MatchSpec, not on the merged result) are replaced wholesale
// when present — spec.md §4.2 "deep-merged over the default policy
// (nested objects merged; arrays replaced)".
func mergeOver(base, p Policy) Policy {
	merged := base

	merged.Name = p.Name
	merged.Match = p.Match
	merged.Priority = p.Priority
	merged.Enabled = p.Enabled

	if p.RetryBudget != 0 {
		merged.RetryBudget = p.RetryBudget
	}
	if p.MaxQueueTime != 0 {
		merged.MaxQueueTime = p.MaxQueueTime
	}
	if p.Pacing != nil {
		merged.Pacing = p.Pacing
	}

	merged.Tracing = mergeTracing(base.Tracing, p.Tracing)
	merged.Telemetry = mergeTelemetry(base.Telemetry, p.Telemetry)

	return merged
}

func mergeTracing(base, override TracingConfig) TracingConfig {
	merged := base
	if override.SampleRate != 0 {
		merged.SampleRate = override.SampleRate
	}
	if override.MaxBodySize != 0 {
		merged.MaxBodySize = override.MaxBodySize
	}
	// IncludeBody has no unset sentinel; an explicit override always wins
	// once the caller sets it, so zero-value overrides carrying `false`
	// over a `true` base are legitimate overrides, not "not set".
	merged.IncludeBody = override.IncludeBody
	return merged
}

func mergeTelemetry(base, override TelemetryConfig) TelemetryConfig {
	if override.Mode != "" {
		return TelemetryConfig{Mode: override.Mode}
	}
	return base
}
