package pipeline

import (
	"time"

	"github.com/vitaliisemenov/llm-key-proxy/internal/keymanager"
)

// ModelAvailability adapts the Key Manager's per-key state into the
// Model Router's Availability interface: the router reasons about
// models, the key manager reasons about credentials, and this type is
// the only place that knows the mapping between the two (spec.md §4.4's
// Availability interface exists precisely so neither package imports
// the other). Construct it once at startup and pass it to
// router.NewRouter.
type ModelAvailability struct {
	keys      *keymanager.Manager
	modelKeys map[string][]string
	now       func() time.Time
}

// NewModelAvailability builds an Availability view over keys, where
// modelKeys maps a model ID to the ordered key IDs eligible to serve it.
func NewModelAvailability(keys *keymanager.Manager, modelKeys map[string][]string) *ModelAvailability {
	return &ModelAvailability{keys: keys, modelKeys: modelKeys, now: time.Now}
}

func (a *ModelAvailability) Available(model string) int {
	return len(a.keys.Candidates(a.modelKeys[model], a.now()))
}

func (a *ModelAvailability) CooldownReason(model string) string {
	now := a.now()
	ids := a.modelKeys[model]
	if len(ids) == 0 {
		return "no keys configured for model"
	}
	for _, id := range ids {
		k, ok := a.keys.Get(id)
		if !ok {
			continue
		}
		snap := k.Report(now)
		switch {
		case snap.Circuit == keymanager.StateOpen:
			return "circuit open"
		case snap.RateLimit.InCooldown:
			return snap.RateLimit.Reason
		case snap.InFlight >= snap.MaxConcurrency:
			return "at concurrency limit"
		}
	}
	return "no eligible keys"
}
