// Package pipeline orchestrates one request end to end: policy lookup,
// admission pacing, model routing, key acquisition, the upstream call,
// and the terminal trace/stats/replay/webhook bookkeeping (spec.md
// §4.5).
package pipeline

import (
	"context"

	"github.com/vitaliisemenov/llm-key-proxy/internal/resilience"
	"github.com/vitaliisemenov/llm-key-proxy/internal/tracer"
)

// Request is the fixed set of signals the pipeline and its collaborators
// read from an inbound call (spec.md §9: "a fixed RequestContext with an
// explicit extension map for truly optional diagnostic fields").
type Request struct {
	RequestID    string
	TraceID      string
	ClientID     string
	Path         string
	Method       string
	Model        string
	MaxTokens    int
	MessageCount int
	SystemLength int
	HasTools     bool
	HasVision    bool

	// RequestOverrideTier, if non-empty, wins outright over every other
	// tier-resolution step (spec.md §4.4).
	RequestOverrideTier string

	Body       []byte
	Headers    map[string]string
	Extensions map[string]string
}

// Result is what the pipeline hands back to the HTTP surface once a
// trace is complete.
type Result struct {
	Success      bool
	StatusCode   int
	Model        string
	KeyID        string
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
	Attempts     int
	ErrorKind    resilience.Kind
	ErrorMessage string
	Trace        tracer.Trace
}

// UpstreamRequest is what the pipeline hands to the upstream client for
// one attempt.
type UpstreamRequest struct {
	Model   string
	Body    []byte
	Headers map[string]string
}

// UpstreamResult is the upstream client's report of one completed call.
// Token counts are the provider-supplied counters when available; the
// pipeline falls back to byte-counting only when both are zero.
type UpstreamResult struct {
	StatusCode   int
	InputTokens  int64
	OutputTokens int64
}

// UpstreamClient performs the actual call to the remote LLM provider.
// Rewriting that provider's wire semantics is explicitly out of scope
// (spec.md §1 Non-goals), so only the interface lives in this package;
// a real implementation is supplied by the caller at construction time.
// onFirstByte fires once, on the first byte of the response; onChunk
// fires per streamed body chunk so the pipeline can derive a
// byte-counted token fallback when the provider gives no counters.
type UpstreamClient interface {
	Do(ctx context.Context, req UpstreamRequest, onFirstByte func(), onChunk func(chunk []byte)) (UpstreamResult, error)
}

// PricingTable looks up cost-per-million-tokens for a model. Pricing
// values themselves are opaque inputs (spec.md §1 Non-goals); this
// interface only shapes how the pipeline consumes them.
type PricingTable interface {
	CostPerM(model string) (inputPerM, outputPerM float64)
}

// estimateTokensFromBytes is the byte-counted fallback used only when
// the provider supplies no token counters (spec.md §4.5 step 5). It is
// a rough heuristic (4 bytes per token), not a tokenizer.
func estimateTokensFromBytes(n int) int64 {
	if n <= 0 {
		return 0
	}
	return int64(n) / 4
}
