// Package webhook implements the Webhook Emitter: HMAC-signed delivery
// notifications with a dedup window and error-spike detection (spec.md
// §4.8/§6).
package webhook

import "time"

// Event is one outbound notification before signing. Payload is
// sanitized (sensitive keys stripped) before the signature is computed.
type Event struct {
	ID        string
	Type      string
	Timestamp time.Time
	Payload   map[string]interface{}
	DedupeKey string
}

// sensitiveKeys lists the payload keys stripped before signing (spec.md
// §6): "key", "secret", "password", "token", "authorization", "apiKey".
var sensitiveKeys = map[string]struct{}{
	"key":           {},
	"secret":        {},
	"password":      {},
	"token":         {},
	"authorization": {},
	"apiKey":        {},
}

// sanitize returns a copy of payload with every sensitive key removed,
// recursively through nested objects.
func sanitize(payload map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		if _, blocked := sensitiveKeys[k]; blocked {
			continue
		}
		if nested, ok := v.(map[string]interface{}); ok {
			out[k] = sanitize(nested)
			continue
		}
		out[k] = v
	}
	return out
}

// Delivery is the result of one delivery attempt.
type Delivery struct {
	Event      Event
	Delivered  bool
	StatusCode int
	Err        error
	Deduped    bool
}

// Deliverer is the out-of-scope-by-spec transport: the receiving
// dashboard/webhook endpoint is an external collaborator, so this
// package only needs its interface (spec.md §1 Non-goals: "webhook
// delivery wiring"). httpDeliverer (deliverer.go) is the real HTTP
// implementation used outside tests.
type Deliverer interface {
	Deliver(url string, body []byte, headers map[string]string) (statusCode int, err error)
}
