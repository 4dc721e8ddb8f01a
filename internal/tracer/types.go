// Package tracer implements the Request Tracer & Trace Store: a
// per-request span tree across retry attempts, held in a bounded
// ring-buffer store indexed by requestId for fast lookup and query.
package tracer

import "time"

// SpanKind names one of the fixed phases an attempt can record (spec.md
// §4.6/§4.5).
type SpanKind string

const (
	SpanQueued        SpanKind = "queued"
	SpanKeyAcquired   SpanKind = "key_acquired"
	SpanUpstreamStart SpanKind = "upstream_start"
	SpanFirstByte     SpanKind = "first_byte"
	SpanStreaming     SpanKind = "streaming"
	SpanComplete      SpanKind = "complete"
	SpanError         SpanKind = "error"
	SpanRetry         SpanKind = "retry"
	SpanTimeout       SpanKind = "timeout"
	SpanCancelled     SpanKind = "cancelled"
	SpanAdmissionHold SpanKind = "admission_hold"
)

// Span is one timed sub-phase of an attempt. End is zero while the span
// is still open.
type Span struct {
	Kind   SpanKind
	Start  time.Time
	End    time.Time
	Detail string
}

// Outcome is an attempt's terminal state.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeRetried Outcome = "retried"
)

// Attempt is one try at serving a request, possibly on a different key
// or model than a prior attempt on the same trace.
type Attempt struct {
	Index    int
	KeyID    string
	Model    string
	Spans    []Span
	Outcome  Outcome
	ErrorMsg string
	Started  time.Time
	Ended    time.Time
}

// Duration reports how long the attempt ran. Zero if it hasn't ended.
func (a Attempt) Duration() time.Duration {
	if a.Ended.IsZero() {
		return 0
	}
	return a.Ended.Sub(a.Started)
}

// Trace is the full record for one inbound request: its attempts and a
// phase summary derived from them.
type Trace struct {
	TraceID   string
	RequestID string
	StartTime time.Time
	EndTime   time.Time
	Attempts  []Attempt
}

// Duration reports the trace's wall-clock span. Zero while still open.
func (t Trace) Duration() time.Duration {
	if t.EndTime.IsZero() {
		return 0
	}
	return t.EndTime.Sub(t.StartTime)
}

// Succeeded reports whether the final attempt completed successfully.
func (t Trace) Succeeded() bool {
	if len(t.Attempts) == 0 {
		return false
	}
	return t.Attempts[len(t.Attempts)-1].Outcome == OutcomeSuccess
}

// HasRetries reports whether the trace needed more than one attempt.
func (t Trace) HasRetries() bool {
	return len(t.Attempts) > 1
}

// FinalModel returns the model of the last attempt, or "" if none.
func (t Trace) FinalModel() string {
	if len(t.Attempts) == 0 {
		return ""
	}
	return t.Attempts[len(t.Attempts)-1].Model
}

// Filter narrows a recent()/query() call (spec.md §4.6).
type Filter struct {
	Success     *bool
	Model       string
	MinDuration time.Duration
	HasRetries  *bool
	Since       time.Time
}

func (f Filter) matches(t Trace) bool {
	if f.Success != nil && t.Succeeded() != *f.Success {
		return false
	}
	if f.Model != "" && t.FinalModel() != f.Model {
		return false
	}
	if f.MinDuration > 0 && t.Duration() < f.MinDuration {
		return false
	}
	if f.HasRetries != nil && t.HasRetries() != *f.HasRetries {
		return false
	}
	if !f.Since.IsZero() && t.StartTime.Before(f.Since) {
		return false
	}
	return true
}
