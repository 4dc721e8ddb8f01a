package pipeline

import (
	"context"
	"time"

	"github.com/vitaliisemenov/llm-key-proxy/internal/resilience"
	"github.com/vitaliisemenov/llm-key-proxy/internal/stats"
	"github.com/vitaliisemenov/llm-key-proxy/internal/tracer"
	"github.com/vitaliisemenov/llm-key-proxy/internal/webhook"
)

func (p *Pipeline) recordStats(model, keyID string, success bool, errKind string, latency time.Duration, input, output int64) {
	if p.statsAgg == nil {
		return
	}
	p.statsAgg.RecordRequest(stats.RequestEvent{
		KeyID:     keyID,
		Model:     model,
		Success:   success,
		ErrorKind: errKind,
		LatencyMs: float64(latency.Milliseconds()),
		Input:     input,
		Output:    output,
		At:        time.Now(),
	})
}

func (p *Pipeline) completeSuccess(rec *tracer.Recorder, req Request, r attemptResult) Result {
	trace := rec.Complete(time.Now())
	return Result{
		Success:      true,
		StatusCode:   r.statusCode,
		Model:        r.model,
		KeyID:        r.keyID,
		InputTokens:  r.inputTokens,
		OutputTokens: r.outputTokens,
		CostUSD:      r.costUSD,
		Attempts:     len(trace.Attempts),
		Trace:        trace,
	}
}

func (p *Pipeline) completeFailure(rec *tracer.Recorder, req Request, r attemptResult) Result {
	trace := rec.Complete(time.Now())
	p.enqueueReplay(req, r)
	p.emitFailureWebhook(req, r)
	if p.spikeDetector != nil {
		p.spikeDetector.RecordFailure(time.Now())
	}
	return Result{
		Success:      false,
		StatusCode:   r.statusCode,
		Model:        r.model,
		KeyID:        r.keyID,
		Attempts:     len(trace.Attempts),
		ErrorKind:    r.errKind,
		ErrorMessage: r.errMsg,
		Trace:        trace,
	}
}

func (p *Pipeline) completeAdmissionTimeout(rec *tracer.Recorder, req Request, reason string) Result {
	trace := rec.Complete(time.Now())
	p.recordStats(req.Model, "", false, resilience.KindAdmissionTimeout.String(), 0, 0, 0)
	return Result{
		Success:      false,
		Model:        req.Model,
		Attempts:     len(trace.Attempts),
		ErrorKind:    resilience.KindAdmissionTimeout,
		ErrorMessage: reason,
		Trace:        trace,
	}
}

func (p *Pipeline) completeCancelled(rec *tracer.Recorder, req Request) Result {
	trace := rec.Complete(time.Now())
	return Result{
		Success:      false,
		Model:        req.Model,
		Attempts:     len(trace.Attempts),
		ErrorKind:    resilience.KindClientDisconnect,
		ErrorMessage: "client disconnected",
		Trace:        trace,
	}
}

// enqueueReplay offers a terminally-failed trace to the Replay Queue so
// an operator can retry it later (spec.md §4.7). A nil queue skips
// enqueueing, and a full queue evicts its oldest entry rather than
// failing. Enqueue errors are logged, not surfaced, since replay is a
// best-effort safety net, not the request's own success path.
func (p *Pipeline) enqueueReplay(req Request, r attemptResult) {
	if p.replayQueue == nil {
		return
	}
	request := map[string]interface{}{
		"path":   req.Path,
		"method": req.Method,
		"model":  req.Model,
		"body":   string(req.Body),
	}
	if err := p.replayQueue.Enqueue(req.TraceID, request, req.Headers, r.errMsg, time.Now()); err != nil {
		p.logger.Warn("replay enqueue failed", "traceId", req.TraceID, "error", err)
	}
}

// emitFailureWebhook notifies the configured webhook URL of a
// terminally-failed request, deduped per (eventType, traceId) within the
// emitter's own window.
func (p *Pipeline) emitFailureWebhook(req Request, r attemptResult) {
	if p.webhooks == nil {
		return
	}
	event := webhook.Event{
		ID:        req.RequestID,
		Type:      "request.failed",
		Timestamp: time.Now(),
		DedupeKey: req.TraceID,
		Payload: map[string]interface{}{
			"traceId": req.TraceID,
			"model":   r.model,
			"keyId":   r.keyID,
			"reason":  r.errKind.String(),
		},
	}
	p.webhooks.Emit(context.Background(), event)
}
