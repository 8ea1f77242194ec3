package confidence

import (
	"math"

	"github.com/tallyfin/tallyfin/internal/model"
)

// stdDevFloor avoids dividing by a degenerate standard deviation when a
// pattern has only ever seen a single amount.
const stdDevFloor = 0.01

// textMatchFactor derives the text factor from the raw similarity score.
// A weakened pattern (confidence weight below the 1.0 baseline) scales the
// factor down proportionally; weight above baseline never inflates it past
// the raw similarity.
func textMatchFactor(similarity, confidenceWeight float64) float64 {
	factor := similarity
	if confidenceWeight < 1.0 && confidenceWeight >= 0 {
		factor *= confidenceWeight
	}
	return clamp01(factor)
}

// historicalSuccessFactor shrinks the observed success rate toward a 0.5
// prior when the sample size is small. Absent until the pattern has been
// used at least once.
func historicalSuccessFactor(pattern *model.Pattern) (float64, bool) {
	rate, ok := pattern.SuccessRate()
	if !ok {
		return 0, false
	}

	n := float64(pattern.UsageCount)
	factor := rate*n/(n+shrinkageSamples) + 0.5*shrinkageSamples/(n+shrinkageSamples)
	return clamp01(factor), true
}

// amountSimilarityFactor maps how many standard deviations the transaction
// amount sits from the pattern's historical mean onto a Gaussian-decaying
// similarity. Absent when the stats are missing or malformed.
func amountSimilarityFactor(txn *model.Transaction, pattern *model.Pattern) (float64, bool) {
	if pattern.Metadata == nil || !pattern.Metadata.AmountStats.WellFormed() {
		return 0, false
	}

	stats := pattern.Metadata.AmountStats
	stdDev := stats.StdDev
	if stdDev < stdDevFloor {
		stdDev = stdDevFloor
	}

	z := math.Abs(math.Abs(txn.Amount)-math.Abs(stats.Mean)) / stdDev
	return clamp01(math.Exp(-z * z / 2)), true
}

// temporalFactor compares the transaction hour against the pattern's hour
// distribution. Only temporal patterns carry this factor, regardless of the
// record's timestamp.
func temporalFactor(txn *model.Transaction, pattern *model.Pattern) (float64, bool) {
	if pattern.Type != model.PatternTypeTime {
		return 0, false
	}
	if pattern.Metadata == nil || pattern.Metadata.TemporalStats == nil ||
		pattern.Metadata.TemporalStats.HourDistribution == nil {
		return 0, false
	}

	dist := pattern.Metadata.TemporalStats.HourDistribution
	maxCount := 0
	for _, count := range dist {
		if count > maxCount {
			maxCount = count
		}
	}
	if maxCount == 0 {
		return 0, true
	}

	return clamp01(float64(dist[txn.Date.Hour()]) / float64(maxCount)), true
}
