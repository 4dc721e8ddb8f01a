package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/vitaliisemenov/llm-key-proxy/internal/keymanager"
	"github.com/vitaliisemenov/llm-key-proxy/internal/policyengine"
	"github.com/vitaliisemenov/llm-key-proxy/internal/replay"
	"github.com/vitaliisemenov/llm-key-proxy/internal/resilience"
	"github.com/vitaliisemenov/llm-key-proxy/internal/router"
	"github.com/vitaliisemenov/llm-key-proxy/internal/stats"
	"github.com/vitaliisemenov/llm-key-proxy/internal/tracer"
	"github.com/vitaliisemenov/llm-key-proxy/internal/webhook"
	"github.com/vitaliisemenov/llm-key-proxy/pkg/metrics"
)

// admissionHoldPollInterval bounds how often a trace with no available
// key re-checks the Key Manager while inside an admission hold (spec.md
// §4.5 step 3). Short enough that a key freeing up is noticed quickly,
// long enough not to spin the CPU on a saturated pool.
const admissionHoldPollInterval = 25 * time.Millisecond

// Pipeline wires the Policy Engine, Model Router, Key Manager, Request
// Tracer, Replay Queue, Stats Aggregator, and Webhook Emitter into the
// per-request flow spec.md §4.5 describes. It holds no per-request
// state of its own; everything below is read from or written to the
// collaborators it composes.
type Pipeline struct {
	policies  *policyengine.Manager
	router    *router.Router
	keys      *keymanager.Manager
	modelKeys map[string][]string

	tracerStore *tracer.Store
	replayQueue *replay.Queue // nil disables replay enqueueing
	statsAgg    *stats.Aggregator
	webhooks    *webhook.Emitter // nil disables webhook notifications
	metrics     *metrics.Registry // nil disables Prometheus instrumentation

	upstream UpstreamClient
	pricing  PricingTable
	checker  resilience.ErrorChecker

	spikeDetector *webhook.ErrorSpikeDetector // nil disables error-spike tracking

	admission *admissionRegistry
	logger    *slog.Logger
}

// Config gathers Pipeline's collaborators. Policies, Router, Keys,
// ModelKeys, TracerStore, Stats, and Upstream are required; ReplayQueue,
// Webhooks, Metrics, Pricing, Checker, and Logger are optional.
type Config struct {
	Policies    *policyengine.Manager
	Router      *router.Router
	Keys        *keymanager.Manager
	ModelKeys   map[string][]string
	TracerStore *tracer.Store
	ReplayQueue *replay.Queue
	Stats       *stats.Aggregator
	Webhooks    *webhook.Emitter
	Metrics     *metrics.Registry
	Upstream    UpstreamClient
	Pricing     PricingTable
	Checker     resilience.ErrorChecker
	Logger      *slog.Logger

	// SpikeDetector, when set, is fed one RecordFailure call per
	// terminally-failed request so cmd/proxyserver's window monitor can
	// raise an error_spike webhook on a sustained failure rate.
	SpikeDetector *webhook.ErrorSpikeDetector
}

// New builds a Pipeline from cfg.
func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	checker := cfg.Checker
	if checker == nil {
		checker = resilience.DefaultErrorChecker{}
	}
	return &Pipeline{
		policies:    cfg.Policies,
		router:      cfg.Router,
		keys:        cfg.Keys,
		modelKeys:   cfg.ModelKeys,
		tracerStore: cfg.TracerStore,
		replayQueue: cfg.ReplayQueue,
		statsAgg:    cfg.Stats,
		webhooks:    cfg.Webhooks,
		metrics:     cfg.Metrics,
		upstream:      cfg.Upstream,
		pricing:       cfg.Pricing,
		checker:       checker,
		spikeDetector: cfg.SpikeDetector,
		admission:     newAdmissionRegistry(),
		logger:        logger,
	}
}

// Process runs one request through the full pipeline, blocking until it
// reaches a terminal outcome (success, exhausted retries, admission
// timeout, or cancellation).
func (p *Pipeline) Process(ctx context.Context, req Request) Result {
	started := time.Now()

	policy := p.policies.Match(policyengine.Request{Path: req.Path, Method: req.Method, Model: req.Model})
	maxQueueTime := time.Duration(policy.MaxQueueTime) * time.Millisecond

	rec := tracer.NewRecorder(req.TraceID, req.RequestID, started)
	p.tracerStore.Start(rec)

	var ratePerSecond float64
	var burst int
	if policy.Pacing != nil {
		ratePerSecond = policy.Pacing.RatePerSecond
		burst = policy.Pacing.Burst
	}
	if err := p.admission.wait(ctx, ratePerSecond, burst, maxQueueTime); err != nil {
		return p.completeAdmissionTimeout(rec, req, "admission bucket wait expired")
	}

	features := router.RequestFeatures{
		Model:        req.Model,
		MaxTokens:    req.MaxTokens,
		MessageCount: req.MessageCount,
		SystemLength: req.SystemLength,
		HasTools:     req.HasTools,
		HasVision:    req.HasVision,
	}

	holdDeadline := time.Now().Add(maxQueueTime)
	retriesRemaining := policy.RetryBudget
	if retriesRemaining < 0 {
		retriesRemaining = 0
	}

	var holdSpanIdx int = -1
	for {
		if err := ctx.Err(); err != nil {
			return p.completeCancelled(rec, req)
		}

		decision := p.router.Route(features, req.RequestID, req.RequestOverrideTier, req.ClientID)

		var keyID string
		var acquired bool
		if decision.SelectedModel != "" {
			keyID, acquired = p.tryAcquire(decision.SelectedModel)
		}

		if !acquired {
			if time.Now().After(holdDeadline) {
				return p.completeAdmissionTimeout(rec, req, "no key became available within maxQueueTime")
			}
			if holdSpanIdx < 0 {
				holdSpanIdx = rec.StartAttempt(time.Now(), "", req.Model)
				rec.AddSpan(holdSpanIdx, tracer.SpanAdmissionHold, time.Now(), "waiting for key capacity")
			}
			select {
			case <-ctx.Done():
				return p.completeCancelled(rec, req)
			case <-time.After(admissionHoldPollInterval):
			}
			continue
		}
		if holdSpanIdx >= 0 {
			rec.EndAttempt(holdSpanIdx, tracer.OutcomeRetried, "capacity freed", time.Now())
			holdSpanIdx = -1
		}

		outcome, result := p.runAttempt(ctx, rec, req, decision, keyID)
		switch outcome {
		case attemptSucceeded:
			return p.completeSuccess(rec, req, result)
		case attemptCancelled:
			return p.completeCancelled(rec, req)
		case attemptRetryable:
			if retriesRemaining <= 0 {
				rec.EndAttempt(result.attemptIdx, tracer.OutcomeFailure, result.errMsg, time.Now())
				return p.completeFailure(rec, req, result)
			}
			retriesRemaining--
			rec.MarkRetry(result.attemptIdx, result.errKind.String(), time.Now())
			continue
		default: // attemptTerminalFailure
			rec.EndAttempt(result.attemptIdx, tracer.OutcomeFailure, result.errMsg, time.Now())
			return p.completeFailure(rec, req, result)
		}
	}
}

func (p *Pipeline) tryAcquire(model string) (string, bool) {
	now := time.Now()
	candidates := p.keys.Candidates(p.modelKeys[model], now)
	return p.keys.AcquireFirst(candidates, now)
}
