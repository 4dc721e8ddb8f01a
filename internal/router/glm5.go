package router

import (
	"hash/fnv"
)

// glm5Decide applies the GLM-5 shadow-mode split: a deterministic
// percentage of eligible requests are routed to glm5Model instead of the
// strategy's own pick, keyed by requestID so repeated requests (retries)
// land on the same side of the split instead of flapping.
//
// eligible is the precondition Router.glm5Eligible establishes before
// calling this (glm5Model is in the model catalog, is not already the
// selected model, and currently has spare capacity); glm5Decide itself
// only decides the percentage split, not availability.
func glm5Decide(requestID string, preferencePercent int, eligible bool) (routed bool) {
	if !eligible || preferencePercent <= 0 {
		return false
	}
	if preferencePercent >= 100 {
		return true
	}
	return bucket(requestID) < preferencePercent
}

// bucket maps a request ID onto [0, 100) deterministically.
func bucket(requestID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(requestID))
	return int(h.Sum32() % 100)
}
