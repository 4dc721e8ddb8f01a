package router

import "sort"

// rankCandidates orders the models of a tier under the given strategy,
// producing the same ScoreEntry table explain() surfaces. Unavailable
// models (available == 0) are still scored but sort last, so callers can
// see why they were skipped.
//
// The throughput, pool, and balanced strategies break ties on the model
// name ascending (spec.md §8 scenario 4: two candidates with identical
// available/cost/concurrency are always ordered the same way regardless
// of map iteration order). The quality strategy keeps the tier's
// declaration order among models of equal availability.
func rankCandidates(models []ModelInfo, avail Availability, strategy string) []ScoreEntry {
	entries := make([]ScoreEntry, len(models))
	for i, m := range models {
		entries[i] = ScoreEntry{
			Model:          m.ID,
			Available:      avail.Available(m.ID),
			CostPerM:       m.CostInputPerM,
			MaxConcurrency: m.MaxConcurrency,
		}
	}

	switch strategy {
	case "quality":
		// Declaration order in the tier's model list IS the quality
		// preference; only availability can reorder it.
		sort.SliceStable(entries, func(i, j int) bool {
			if (entries[i].Available > 0) != (entries[j].Available > 0) {
				return entries[i].Available > 0
			}
			return false
		})
	case "throughput", "pool":
		sort.SliceStable(entries, func(i, j int) bool {
			a, b := entries[i], entries[j]
			if a.Available != b.Available {
				return a.Available > b.Available
			}
			if a.CostPerM != b.CostPerM {
				return a.CostPerM < b.CostPerM
			}
			if a.MaxConcurrency != b.MaxConcurrency {
				return a.MaxConcurrency > b.MaxConcurrency
			}
			return a.Model < b.Model
		})
	default: // "balanced"
		sort.SliceStable(entries, func(i, j int) bool {
			a, b := entries[i], entries[j]
			sa, sb := balancedScore(a), balancedScore(b)
			if sa != sb {
				return sa > sb
			}
			return a.Model < b.Model
		})
	}

	for i := range entries {
		entries[i].Position = i
		if strategy == "balanced" {
			entries[i].Score = balancedScore(entries[i])
		}
	}
	return entries
}

// balancedScore weighs availability against cost: cheaper, more
// available models score higher. Cost enters as a penalty so a model
// with zero spare capacity never outranks one that has it.
func balancedScore(e ScoreEntry) float64 {
	if e.Available <= 0 {
		return -1
	}
	costPenalty := e.CostPerM
	if costPenalty <= 0 {
		costPenalty = 0.01
	}
	return float64(e.Available) / costPenalty
}

// bestAvailable returns the top-ranked model that actually has spare
// capacity, or "" if none do.
func bestAvailable(ranked []ScoreEntry) string {
	for _, e := range ranked {
		if e.Available > 0 {
			return e.Model
		}
	}
	return ""
}
