package routingconfig

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var structValidator = validator.New()

// Validate checks a normalized Config against the shape rules spec.md §3
// states as invariants: a known strategy per tier and a bounded GLM-5
// preference percentage. Tier model/strategy well-formedness is already
// guaranteed by Normalize; this is the boundary check for configs that
// arrive pre-normalized (e.g. loaded from disk at startup).
func Validate(cfg Config) error {
	if err := structValidator.Struct(cfg.GLM5); err != nil {
		return fmt.Errorf("glm5: %w", err)
	}
	for name, tier := range cfg.Tiers {
		if !validStrategy(tier.Strategy) {
			return fmt.Errorf("tier %s: invalid strategy %q", name, tier.Strategy)
		}
	}
	return nil
}
