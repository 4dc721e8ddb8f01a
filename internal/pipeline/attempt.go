package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/vitaliisemenov/llm-key-proxy/internal/resilience"
	"github.com/vitaliisemenov/llm-key-proxy/internal/router"
	"github.com/vitaliisemenov/llm-key-proxy/internal/tracer"
)

type attemptOutcome int

const (
	attemptSucceeded attemptOutcome = iota
	attemptRetryable
	attemptTerminalFailure
	attemptCancelled
)

// attemptResult carries what one attempt produced, whether or not it
// ultimately succeeded, so the caller can both retry and build a final
// Result without redoing the bookkeeping. attemptIdx lets the caller
// finalize the attempt's tracer outcome (retried vs. failed) once it
// knows whether any retry budget remains.
type attemptResult struct {
	attemptIdx   int
	model        string
	keyID        string
	statusCode   int
	inputTokens  int64
	outputTokens int64
	costUSD      float64
	errKind      resilience.Kind
	errMsg       string
}

// runAttempt performs one upstream call on keyID/decision.SelectedModel,
// recording spans, releasing the key slot, and classifying any failure
// (spec.md §4.5 steps 4-7).
func (p *Pipeline) runAttempt(ctx context.Context, rec *tracer.Recorder, req Request, decision router.Decision, keyID string) (attemptOutcome, attemptResult) {
	model := decision.SelectedModel
	attemptStart := time.Now()
	idx := rec.StartAttempt(attemptStart, keyID, model)
	rec.AddSpan(idx, tracer.SpanKeyAcquired, attemptStart, "")
	rec.AddSpan(idx, tracer.SpanUpstreamStart, time.Now(), "")

	key, _ := p.keys.Get(keyID)

	firstByteOnce := false
	var bytesSeen int
	onFirstByte := func() {
		if !firstByteOnce {
			firstByteOnce = true
			rec.AddSpan(idx, tracer.SpanFirstByte, time.Now(), "")
			rec.AddSpan(idx, tracer.SpanStreaming, time.Now(), "")
		}
	}
	onChunk := func(chunk []byte) {
		bytesSeen += len(chunk)
	}

	upRes, err := p.upstream.Do(ctx, UpstreamRequest{Model: model, Body: req.Body, Headers: req.Headers}, onFirstByte, onChunk)
	rec.EndSpan(idx, tracer.SpanStreaming, time.Now())
	latency := time.Since(attemptStart)

	if key != nil {
		key.Release(latency)
	}

	result := attemptResult{attemptIdx: idx, model: model, keyID: keyID}

	if err != nil {
		kind := resilience.Classify(p.checker, err)
		result.errKind = kind
		result.errMsg = err.Error()

		if ctx.Err() != nil && kind == resilience.KindClientDisconnect {
			rec.AddSpan(idx, tracer.SpanCancelled, time.Now(), "")
			rec.EndAttempt(idx, tracer.OutcomeFailure, result.errMsg, time.Now())
			p.recordStats(model, keyID, false, kind.String(), latency, 0, 0)
			p.recordRequestMetrics(decision, 0, 0)
			return attemptCancelled, result
		}

		if kind == resilience.KindTimeout {
			rec.AddSpan(idx, tracer.SpanTimeout, time.Now(), "")
		} else {
			rec.AddSpan(idx, tracer.SpanError, time.Now(), result.errMsg)
		}

		if key != nil && kind.AffectsBreaker() {
			key.MarkFailure(kind, time.Now())
		}
		if key != nil && kind == resilience.KindRateLimit {
			var retryAfter time.Duration
			var classified *resilience.Error
			if errors.As(err, &classified) {
				retryAfter = time.Duration(classified.RetryAfterMs) * time.Millisecond
			}
			key.MarkRateLimit(retryAfter, result.errMsg, time.Now())
		}

		p.recordStats(model, keyID, false, kind.String(), latency, 0, 0)
		p.recordRequestMetrics(decision, 0, 0)

		// The attempt is left open here: the caller finalizes it with
		// either MarkRetry (budget remains) or EndAttempt/failure (it
		// doesn't), since only the caller knows the remaining budget.
		if kind.Retryable() {
			return attemptRetryable, result
		}
		return attemptTerminalFailure, result
	}

	if key != nil {
		key.MarkSuccess()
	}

	input, output := upRes.InputTokens, upRes.OutputTokens
	if input == 0 && output == 0 && bytesSeen > 0 {
		output = estimateTokensFromBytes(bytesSeen)
	}
	result.statusCode = upRes.StatusCode
	result.inputTokens = input
	result.outputTokens = output
	result.costUSD = p.costFor(model, input, output)

	rec.AddSpan(idx, tracer.SpanComplete, time.Now(), "")
	rec.EndAttempt(idx, tracer.OutcomeSuccess, "", time.Now())
	p.recordStats(model, keyID, true, "", latency, input, output)
	p.recordRequestMetrics(decision, input, output)

	return attemptSucceeded, result
}

// recordRequestMetrics reports one attempt's routing outcome to the
// Prometheus registry (spec.md §6 counter schema), a no-op when
// instrumentation is disabled.
func (p *Pipeline) recordRequestMetrics(decision router.Decision, input, output int64) {
	if p.metrics == nil {
		return
	}
	rm := p.metrics.Requests()
	rm.RequestsTotal.WithLabelValues(decision.Tier, string(decision.Source)).Inc()
	if input > 0 {
		rm.TokensTotal.WithLabelValues(decision.Tier, decision.SelectedModel, "input").Add(float64(input))
	}
	if output > 0 {
		rm.TokensTotal.WithLabelValues(decision.Tier, decision.SelectedModel, "output").Add(float64(output))
	}
	if decision.FallbackReason != "" {
		rm.FallbackTotal.WithLabelValues(decision.FallbackReason).Inc()
	}
	if decision.GLM5Routed {
		rm.UpgradeTotal.WithLabelValues("glm5_shadow_route").Inc()
	}
}

func (p *Pipeline) costFor(model string, input, output int64) float64 {
	if p.pricing == nil {
		return 0
	}
	inPerM, outPerM := p.pricing.CostPerM(model)
	return (float64(input)/1_000_000)*inPerM + (float64(output)/1_000_000)*outPerM
}
