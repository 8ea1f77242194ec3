package confidence

import (
	"fmt"
	"strings"

	"github.com/tallyfin/tallyfin/internal/model"
)

// Coarse fallback messages keyed by confidence buckets, used when no factor
// breakdown is available.
const (
	explanationHigh    = "Categorized with high confidence based on learned patterns"
	explanationNeutral = "Categorized based on partial pattern evidence"
	explanationLow     = "Low confidence match; review suggested"
)

// ExplainFactors renders a human-readable explanation from a factor
// breakdown, one templated phrase per present factor at rounded-percentage
// granularity.
func ExplainFactors(factors map[string]float64) string {
	if len(factors) == 0 {
		return ""
	}

	var phrases []string
	if v, ok := factors[model.FactorTextMatch]; ok {
		phrases = append(phrases, fmt.Sprintf("pattern match strength %d%%", roundPercent(v)))
	}
	if v, ok := factors[model.FactorHistoricalSuccess]; ok {
		phrases = append(phrases, fmt.Sprintf("historical success rate %d%%", roundPercent(v)))
	}
	if v, ok := factors[model.FactorAmountSimilarity]; ok {
		phrases = append(phrases, fmt.Sprintf("amount fits history %d%%", roundPercent(v)))
	}
	if v, ok := factors[model.FactorTemporalPattern]; ok {
		phrases = append(phrases, fmt.Sprintf("usual time of day %d%%", roundPercent(v)))
	}

	return "Matched on " + strings.Join(phrases, ", ")
}

// ExplainScore renders a coarse explanation for results without a factor
// breakdown.
func ExplainScore(score float64) string {
	switch {
	case score >= 0.85:
		return explanationHigh
	case score < 0.5:
		return explanationLow
	default:
		return explanationNeutral
	}
}

// Explain prefers the factor breakdown when present and falls back to the
// coarse bucketed message.
func Explain(result model.CategorizationResult) string {
	if len(result.Factors) > 0 {
		return ExplainFactors(result.Factors)
	}
	return ExplainScore(result.Confidence)
}

func roundPercent(v float64) int {
	return int(v*100 + 0.5)
}
