// Package resilience classifies failures from the upstream LLM provider and
// drives retry/backoff decisions from that classification. It is adapted
// from the alert-history-service's resilience package, generalized from a
// binary retryable/non-retryable check to the closed error taxonomy the
// proxy's Key Manager and Request Pipeline both need (spec §7).
package resilience

// Kind is the closed taxonomy of failure categories from spec.md §7. It is
// the single source of truth consumed by both the retry executor (does
// this warrant another attempt?) and the Key Manager (does this affect the
// key's circuit breaker or cooldown?).
type Kind int

const (
	// KindUnknown is the zero value; never assigned to a real error.
	KindUnknown Kind = iota

	// KindUpstream covers HTTP 5xx responses and malformed bodies.
	// Retryable, breaker-affecting.
	KindUpstream

	// KindRateLimit covers HTTP 429 and provider-specific rate-limit
	// signals. Sets a cooldown (bounded by the advertised retry-after);
	// never counts toward the breaker, however often it repeats.
	KindRateLimit

	// KindTimeout covers deadline-exceeded errors. Retryable for as long
	// as the caller's retry budget lasts (not capped at one retry); every
	// occurrence counts toward the key's breaker failure threshold.
	KindTimeout

	// KindTransport covers DNS, TLS, connection-refused, broken-pipe,
	// premature-close, parse, and socket-hangup faults. Retryable with
	// capped backoff; recorded in connection-health.
	KindTransport

	// KindAuth covers HTTP 401/403. Non-retryable: the request fails
	// without another attempt. The key's breaker and cooldown state are
	// left unchanged; nothing marks the key unhealthy.
	KindAuth

	// KindClientDisconnect is the cancellation path: no retry, no
	// breaker effect.
	KindClientDisconnect

	// KindAdmissionTimeout means no key became available within the
	// admission window.
	KindAdmissionTimeout

	// KindValidation covers rejected configuration or policy input.
	// Never mutates state.
	KindValidation

	// KindInternal covers unexpected state violations. Logged with full
	// context, surfaced generically to the client.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindUpstream:
		return "upstream"
	case KindRateLimit:
		return "rate_limit"
	case KindTimeout:
		return "timeout"
	case KindTransport:
		return "transport"
	case KindAuth:
		return "auth"
	case KindClientDisconnect:
		return "client_disconnect"
	case KindAdmissionTimeout:
		return "admission_timeout"
	case KindValidation:
		return "validation"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Retryable reports whether an error of this kind should ever trigger
// another attempt, independent of how many attempts remain.
func (k Kind) Retryable() bool {
	switch k {
	case KindUpstream, KindRateLimit, KindTimeout, KindTransport:
		return true
	default:
		return false
	}
}

// AffectsBreaker reports whether a single occurrence of this kind counts
// toward the Key Manager's failure threshold (see keymanager.Key.MarkFailure).
// Upstream, Timeout, and Transport count on every occurrence; RateLimit
// never counts, however often it repeats.
func (k Kind) AffectsBreaker() bool {
	switch k {
	case KindUpstream, KindTimeout, KindTransport:
		return true
	default:
		return false
	}
}

// Error wraps an underlying error with its classified Kind and, for
// KindRateLimit, the provider-advertised retry-after duration in
// milliseconds (0 if not advertised).
type Error struct {
	Kind          Kind
	RetryAfterMs  int
	Reason        string
	Err           error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Reason
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a classified Error.
func NewError(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}
