package router

import "github.com/vitaliisemenov/llm-key-proxy/internal/routingconfig"

// tierLevel gives light/medium/heavy a total order so classify can take
// the maximum across independent signals.
type tierLevel int

const (
	levelLight tierLevel = iota
	levelMedium
	levelHeavy
)

func (l tierLevel) name() string {
	switch l {
	case levelHeavy:
		return "heavy"
	case levelMedium:
		return "medium"
	default:
		return "light"
	}
}

// messageCountMediumThreshold, messageCountHeavyThreshold,
// systemLengthMediumThreshold, and systemLengthHeavyThreshold are the
// classifier's built-in defaults for signals not covered by
// complexityUpgrade.thresholds (which only bounds max token count). See
// DESIGN.md's Open Question decisions for why these specific values.
const (
	messageCountMediumThreshold = 20
	messageCountHeavyThreshold  = 50
	systemLengthMediumThreshold = 2000
	systemLengthHeavyThreshold  = 8000
)

// classify computes the tier for a request that reached neither an
// override nor a rule match, per spec.md §4.4 step 3. Each signal maps
// independently to a minimum tier; the final tier is the maximum across
// all signals that apply (has_tools, has_vision, max_tokens,
// message_count, system_length — the precedence order spec.md lists).
func classify(f RequestFeatures, cu routingconfig.ComplexityUpgrade) (string, string) {
	level := levelLight
	var reasons []string

	if f.HasTools {
		level = max(level, levelMedium)
		reasons = append(reasons, "has_tools")
	}
	if f.HasVision {
		level = max(level, levelHeavy)
		reasons = append(reasons, "has_vision")
	}
	if tokenLevel := tokenThresholdLevel(f.MaxTokens, cu.Thresholds); tokenLevel > levelLight {
		level = max(level, tokenLevel)
		reasons = append(reasons, "max_tokens")
	}
	if f.MessageCount >= messageCountHeavyThreshold {
		level = max(level, levelHeavy)
		reasons = append(reasons, "message_count")
	} else if f.MessageCount >= messageCountMediumThreshold {
		level = max(level, levelMedium)
		reasons = append(reasons, "message_count")
	}
	if f.SystemLength >= systemLengthHeavyThreshold {
		level = max(level, levelHeavy)
		reasons = append(reasons, "system_length")
	} else if f.SystemLength >= systemLengthMediumThreshold {
		level = max(level, levelMedium)
		reasons = append(reasons, "system_length")
	}

	reason := "default_light"
	if len(reasons) > 0 {
		reason = reasons[0]
	}
	return level.name(), reason
}

func tokenThresholdLevel(tokens int, thresholds []int) tierLevel {
	if len(thresholds) >= 2 && tokens >= thresholds[1] {
		return levelHeavy
	}
	if len(thresholds) >= 1 && tokens >= thresholds[0] {
		return levelMedium
	}
	return levelLight
}

func max(a, b tierLevel) tierLevel {
	if a > b {
		return a
	}
	return b
}
