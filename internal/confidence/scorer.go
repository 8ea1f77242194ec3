// Package confidence implements multi-factor confidence scoring for
// pattern-based categorization, with memoization and metrics.
package confidence

import (
	"fmt"
	"math"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tallyfin/tallyfin/internal/model"
)

// Default factor weights. Renormalized to sum to 1 over whichever factors
// are present for a given calculation.
const (
	DefaultWeightTextMatch         = 0.45
	DefaultWeightHistoricalSuccess = 0.25
	DefaultWeightAmountSimilarity  = 0.20
	DefaultWeightTemporalPattern   = 0.10
)

// shrinkageSamples is the pseudo-count pulling low-usage success rates
// toward a neutral 0.5 prior.
const shrinkageSamples = 5.0

// DefaultCacheSize bounds the memoization cache.
const DefaultCacheSize = 4096

// Weights configures the per-factor weighting.
type Weights struct {
	TextMatch         float64
	HistoricalSuccess float64
	AmountSimilarity  float64
	TemporalPattern   float64
}

// DefaultWeights returns the default factor weights.
func DefaultWeights() Weights {
	return Weights{
		TextMatch:         DefaultWeightTextMatch,
		HistoricalSuccess: DefaultWeightHistoricalSuccess,
		AmountSimilarity:  DefaultWeightAmountSimilarity,
		TemporalPattern:   DefaultWeightTemporalPattern,
	}
}

// Config configures a Scorer.
type Config struct {
	Weights   Weights
	CacheSize int
	// BasicMetrics selects the counter-only metrics collector instead of
	// the full one with factor presence and latency percentiles.
	BasicMetrics bool
}

// DefaultConfig returns the default scorer configuration.
func DefaultConfig() Config {
	return Config{
		Weights:   DefaultWeights(),
		CacheSize: DefaultCacheSize,
	}
}

// Input carries the text-match evidence into a calculation: either a raw
// similarity score or a full match result the score is extracted from.
type Input struct {
	result *model.MatchResult
	score  float64
	direct bool
}

// ScoreInput wraps a raw similarity score.
func ScoreInput(score float64) Input {
	return Input{score: score, direct: true}
}

// ResultInput wraps a match result; the scorer extracts the score recorded
// for the pattern under evaluation.
func ResultInput(result *model.MatchResult) Input {
	return Input{result: result}
}

func (in Input) scoreFor(patternID string) float64 {
	if in.direct {
		return in.score
	}
	if in.result == nil {
		return 0
	}
	if score, ok := in.result.ScoreFor(patternID); ok {
		return score
	}
	return 0
}

// Scorer combines text-match, historical, amount and temporal evidence into
// a single confidence score. Safe for concurrent use.
type Scorer struct {
	cache   *lru.Cache[string, model.ConfidenceResult]
	metrics collector
	weights Weights
}

// NewScorer creates a scorer with the given configuration.
func NewScorer(cfg Config) (*Scorer, error) {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}

	cache, err := lru.New[string, model.ConfidenceResult](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create confidence cache: %w", err)
	}

	var coll collector = newMetrics()
	if cfg.BasicMetrics {
		coll = newBasicMetrics()
	}

	return &Scorer{
		cache:   cache,
		weights: cfg.Weights,
		metrics: coll,
	}, nil
}

// Calculate scores one (transaction, pattern) pair. Nil inputs produce an
// invalid result rather than a panic; malformed pattern metadata drops the
// affected factor and computation continues.
func (s *Scorer) Calculate(txn *model.Transaction, pattern *model.Pattern, input Input) model.ConfidenceResult {
	start := time.Now()

	if txn == nil || pattern == nil {
		s.metrics.recordInvalid(time.Since(start))
		return model.ConfidenceResult{Valid: false, Level: model.ConfidenceLow}
	}

	key := cacheKey(txn, pattern, input)
	if cached, ok := s.cache.Get(key); ok {
		s.metrics.recordHit(cached, time.Since(start))
		return cached
	}

	result := s.compute(txn, pattern, input)
	s.cache.Add(key, result)
	s.metrics.record(result, time.Since(start))

	return result
}

func (s *Scorer) compute(txn *model.Transaction, pattern *model.Pattern, input Input) model.ConfidenceResult {
	factors := make(map[string]float64, 4)

	factors[model.FactorTextMatch] = textMatchFactor(input.scoreFor(pattern.ID), pattern.ConfidenceWeight)

	if hist, ok := historicalSuccessFactor(pattern); ok {
		factors[model.FactorHistoricalSuccess] = hist
	}
	if amt, ok := amountSimilarityFactor(txn, pattern); ok {
		factors[model.FactorAmountSimilarity] = amt
	}
	if temp, ok := temporalFactor(txn, pattern); ok {
		factors[model.FactorTemporalPattern] = temp
	}

	score, dominant := s.combine(factors)

	return model.ConfidenceResult{
		Score:          clamp01(score),
		Factors:        factors,
		DominantFactor: dominant,
		Level:          LevelForScore(score),
		Valid:          true,
	}
}

// combine computes the weighted sum over present factors, renormalizing
// weights to sum to 1 over the present subset, and identifies the dominant
// factor by weighted contribution.
func (s *Scorer) combine(factors map[string]float64) (float64, string) {
	weightFor := map[string]float64{
		model.FactorTextMatch:         s.weights.TextMatch,
		model.FactorHistoricalSuccess: s.weights.HistoricalSuccess,
		model.FactorAmountSimilarity:  s.weights.AmountSimilarity,
		model.FactorTemporalPattern:   s.weights.TemporalPattern,
	}

	var totalWeight float64
	for name := range factors {
		totalWeight += weightFor[name]
	}
	if totalWeight <= 0 {
		return 0, ""
	}

	var score float64
	var dominant string
	var dominantContribution float64

	// Iterate in fixed order so dominant-factor ties resolve
	// deterministically.
	for _, name := range []string{
		model.FactorTextMatch,
		model.FactorHistoricalSuccess,
		model.FactorAmountSimilarity,
		model.FactorTemporalPattern,
	} {
		value, ok := factors[name]
		if !ok {
			continue
		}
		contribution := value * weightFor[name] / totalWeight
		score += contribution
		if contribution > dominantContribution {
			dominantContribution = contribution
			dominant = name
		}
	}

	return score, dominant
}

// LevelForScore buckets a score into a confidence level. Buckets are
// monotonic in score, and any score above 0.8 is at least high.
func LevelForScore(score float64) model.ConfidenceLevel {
	switch {
	case score >= 0.85:
		return model.ConfidenceVeryHigh
	case score >= 0.70:
		return model.ConfidenceHigh
	case score >= 0.40:
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}

// ClearCache drops all memoized results. Only hit/miss bookkeeping is
// affected; returned scores are identical either way.
func (s *Scorer) ClearCache() {
	s.cache.Purge()
}

// Metrics returns a snapshot of scorer activity to date.
func (s *Scorer) Metrics() MetricsSnapshot {
	return s.metrics.snapshot()
}

// cacheKey identifies a calculation by the full input snapshot. The pattern
// counters participate so a mutated pattern never serves a stale score.
func cacheKey(txn *model.Transaction, pattern *model.Pattern, input Input) string {
	return fmt.Sprintf("%s|%s|%d|%d|%.6f|%.6f",
		txn.ID, pattern.ID,
		pattern.UsageCount, pattern.SuccessCount,
		pattern.ConfidenceWeight,
		input.scoreFor(pattern.ID))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
