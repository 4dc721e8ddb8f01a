package webhook

import (
	"context"
	"log/slog"
	"time"
)

// Emitter signs and delivers webhook notifications, enforcing the dedup
// window before every send.
type Emitter struct {
	secret      string
	url         string
	dedup       DedupStore
	dedupWindow time.Duration
	deliver     Deliverer
	logger      *slog.Logger
}

// NewEmitter builds an Emitter. url is the configured destination;
// secret signs every payload; dedup/dedupWindow enforce at-most-one
// delivery per (eventType, dedupeKey) within the window (spec.md §5).
func NewEmitter(url, secret string, dedup DedupStore, dedupWindow time.Duration, deliver Deliverer, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		secret:      secret,
		url:         url,
		dedup:       dedup,
		dedupWindow: dedupWindow,
		deliver:     deliver,
		logger:      logger,
	}
}

// Emit signs event and delivers it, unless an equivalent
// (eventType, dedupeKey) pair already fired within the dedup window.
func (e *Emitter) Emit(ctx context.Context, event Event) Delivery {
	compositeKey := event.Type + ":" + event.DedupeKey
	if event.DedupeKey != "" {
		dup, err := e.dedup.SeenRecently(ctx, compositeKey, e.dedupWindow, event.Timestamp)
		if err != nil {
			e.logger.Warn("webhook dedup check failed, delivering anyway", "error", err)
		} else if dup {
			return Delivery{Event: event, Deduped: true}
		}
	}

	body, headers, err := sign(event, e.secret)
	if err != nil {
		return Delivery{Event: event, Err: err}
	}

	status, err := e.deliver.Deliver(e.url, body, headers)
	if err != nil {
		e.logger.Error("webhook delivery failed", "type", event.Type, "error", err)
		return Delivery{Event: event, Err: err, StatusCode: status}
	}

	delivered := status >= 200 && status < 300
	if !delivered {
		e.logger.Warn("webhook delivery rejected", "type", event.Type, "status", status)
	}
	return Delivery{Event: event, Delivered: delivered, StatusCode: status}
}
