package swarm

import (
	"strings"

	"polyswarm/internal/model"
)

// ParseDecision extracts a trading decision from free-text model output.
// Markers are matched against the upper-cased reply in priority order: YES
// (including "DECISION: YES") wins first; NO_TRADE anywhere beats a bare NO;
// no recognized marker defaults to NO_TRADE. Ambiguous or off-format output
// is never coerced into a tradeable decision.
func ParseDecision(text string) model.Decision {
	upper := strings.ToUpper(text)

	switch {
	case strings.Contains(upper, "YES"):
		return model.DecisionYes
	case strings.Contains(upper, "NO_TRADE"):
		return model.DecisionNoTrade
	case strings.Contains(upper, "NO"):
		return model.DecisionNo
	default:
		return model.DecisionNoTrade
	}
}
