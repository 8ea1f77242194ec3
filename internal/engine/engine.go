// Package engine implements the categorization orchestrator: candidate
// retrieval behind a circuit breaker, fuzzy matching, confidence scoring,
// and online learning, always returning a structured result.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tallyfin/tallyfin/internal/breaker"
	"github.com/tallyfin/tallyfin/internal/common"
	"github.com/tallyfin/tallyfin/internal/confidence"
	"github.com/tallyfin/tallyfin/internal/learning"
	"github.com/tallyfin/tallyfin/internal/match"
	"github.com/tallyfin/tallyfin/internal/model"
	"github.com/tallyfin/tallyfin/internal/patterncache"
	"github.com/tallyfin/tallyfin/internal/service"
)

// Config holds the engine's runtime configuration. It is published as an
// immutable snapshot; concurrent categorize calls observe either the old
// or the new configuration in full.
type Config struct {
	// MinConfidence is the score below which a match is reported as
	// no_match.
	MinConfidence float64
	// AutoCategorizeThreshold separates direct assignment from
	// suggestion in the application policy.
	AutoCategorizeThreshold float64
	// MaxResults bounds how many fuzzy matches are scored per call.
	MaxResults int
	// FailureThreshold trips the circuit breaker after this many
	// consecutive pattern store failures.
	FailureThreshold int32
	// BreakerTimeout is how long the breaker stays open before allowing
	// a trial call.
	BreakerTimeout time.Duration
	// CacheSize bounds the pattern candidate cache.
	CacheSize int
	// ScorerCacheSize bounds the confidence memoization cache.
	ScorerCacheSize int
	// BasicScorerMetrics selects counter-only scorer metrics, skipping
	// factor presence and latency percentiles.
	BasicScorerMetrics bool
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		MinConfidence:           0.5,
		AutoCategorizeThreshold: 0.7,
		MaxResults:              5,
		FailureThreshold:        breaker.DefaultFailureThreshold,
		BreakerTimeout:          breaker.DefaultTimeout,
		CacheSize:               patterncache.DefaultCapacity,
		ScorerCacheSize:         confidence.DefaultCacheSize,
	}
}

// Validate checks configuration bounds.
func (c Config) Validate() error {
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("%w: min confidence must be in [0,1], got %v", common.ErrInvalidConfig, c.MinConfidence)
	}
	if c.AutoCategorizeThreshold < 0 || c.AutoCategorizeThreshold > 1 {
		return fmt.Errorf("%w: auto categorize threshold must be in [0,1], got %v", common.ErrInvalidConfig, c.AutoCategorizeThreshold)
	}
	if c.MaxResults < 0 {
		return fmt.Errorf("%w: max results must be non-negative, got %d", common.ErrInvalidConfig, c.MaxResults)
	}
	return nil
}

// Engine wires the pattern cache, fuzzy matcher, confidence scorer and
// learner behind a circuit breaker. All public methods are safe for
// concurrent use and never panic on dependency failure.
type Engine struct {
	cfg        atomic.Pointer[Config]
	cache      *patterncache.Cache
	scorer     *confidence.Scorer
	learner    *learning.Learner
	breaker    *breaker.Breaker
	categories service.CategoryStore

	categorizations atomic.Uint64
	successes       atomic.Uint64
	noMatches       atomic.Uint64
	failures        atomic.Uint64
}

// New constructs the engine and its sub-components from the two consumed
// repositories. Everything is dependency-injected here once; no global
// state.
func New(patterns service.PatternStore, categories service.CategoryStore, cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cache, err := patterncache.New(patterns, cfg.CacheSize)
	if err != nil {
		return nil, err
	}

	scorer, err := confidence.NewScorer(confidence.Config{
		CacheSize:    cfg.ScorerCacheSize,
		BasicMetrics: cfg.BasicScorerMetrics,
	})
	if err != nil {
		return nil, err
	}

	learner, err := learning.New(patterns, cache, learning.DefaultConfig())
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cache:      cache,
		scorer:     scorer,
		learner:    learner,
		breaker:    breaker.New(cfg.FailureThreshold, cfg.BreakerTimeout),
		categories: categories,
	}
	e.cfg.Store(&cfg)

	return e, nil
}

// Categorize resolves a category for one transaction. Every call returns a
// structured result; dependency failures surface as an error status, never
// as a panic or returned error.
func (e *Engine) Categorize(ctx context.Context, txn model.Transaction) (result model.CategorizationResult) {
	start := time.Now()
	e.categorizations.Add(1)

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Recovered panic in categorize",
				"transaction_id", txn.ID,
				"panic", r)
			// A panicking dependency is a failure; without this a
			// half-open trial that panics would leave the breaker
			// stuck rejecting everything.
			e.breaker.RecordFailure()
			e.failures.Add(1)
			result = e.errorResult(start, fmt.Sprintf("internal error: %v", r))
		}
	}()

	cfg := e.cfg.Load()

	if txn.DisplayName() == "" {
		e.failures.Add(1)
		return e.errorResult(start, "transaction has no matchable text")
	}

	if !e.breaker.Allow() {
		e.failures.Add(1)
		return e.errorResult(start, common.ErrCircuitOpen.Error())
	}

	candidates, err := e.cache.GetCandidates(ctx, txn)
	if err != nil {
		e.breaker.RecordFailure()
		e.failures.Add(1)
		return e.errorResult(start, err.Error())
	}
	e.breaker.RecordSuccess()

	matchResult := match.MatchPatterns(txn.DisplayName(), candidates, cfg.MinConfidence, cfg.MaxResults)
	if !matchResult.Success {
		e.noMatches.Add(1)
		return model.CategorizationResult{
			Status:   model.StatusNoMatch,
			Method:   model.MethodNone,
			Duration: time.Since(start),
		}
	}

	// Score every surviving match and keep the best. Matches arrive in
	// stable order, so ties resolve identically across concurrent calls.
	var bestConf model.ConfidenceResult
	var bestMatch *model.PatternMatch
	patternIDs := make([]string, 0, len(matchResult.Matches))

	for i := range matchResult.Matches {
		m := &matchResult.Matches[i]
		patternIDs = append(patternIDs, m.Pattern.ID)

		conf := e.scorer.Calculate(&txn, m.Pattern, confidence.ScoreInput(m.Score))
		if !conf.Valid {
			continue
		}
		if bestMatch == nil || conf.Score > bestConf.Score {
			bestConf = conf
			bestMatch = m
		}
	}

	if bestMatch == nil || bestConf.Score < cfg.MinConfidence {
		e.noMatches.Add(1)
		result := model.CategorizationResult{
			Status:   model.StatusNoMatch,
			Method:   model.MethodNone,
			Duration: time.Since(start),
		}
		if bestMatch != nil {
			result.Confidence = bestConf.Score
			result.Factors = bestConf.Factors
			result.PatternIDs = patternIDs
		}
		return result
	}

	method := model.MethodFuzzyPattern
	if bestMatch.Score >= 1.0 {
		method = model.MethodMerchantExact
	}

	categoryID := bestMatch.Pattern.CategoryID
	categoryName := e.resolveCategoryName(ctx, categoryID)

	e.successes.Add(1)
	return model.CategorizationResult{
		Status:     model.StatusSuccess,
		CategoryID: &categoryID,
		Category:   categoryName,
		Confidence: bestConf.Score,
		Method:     method,
		PatternIDs: patternIDs,
		Factors:    bestConf.Factors,
		Duration:   time.Since(start),
	}
}

// BatchCategorize returns one result per input in the same order, never
// aborting early on individual failures.
func (e *Engine) BatchCategorize(ctx context.Context, txns []model.Transaction) []model.CategorizationResult {
	results := make([]model.CategorizationResult, len(txns))
	for i := range txns {
		results[i] = e.Categorize(ctx, txns[i])
	}
	return results
}

// LearnFromCorrection feeds a user correction to the pattern learner.
func (e *Engine) LearnFromCorrection(ctx context.Context, txn model.Transaction, correctCategoryID int, predictedCategoryID *int) model.LearningResult {
	return e.learner.LearnFromCorrection(ctx, txn, correctCategoryID, predictedCategoryID)
}

// BatchLearn feeds a batch of corrections to the pattern learner.
func (e *Engine) BatchLearn(ctx context.Context, corrections []model.Correction) model.BatchLearningResult {
	return e.learner.BatchLearn(ctx, corrections)
}

// DecayUnusedPatterns delegates to the learner's decay pass.
func (e *Engine) DecayUnusedPatterns(ctx context.Context, inactivityThreshold time.Duration, decayFactor float64) (model.DecayResult, error) {
	return e.learner.DecayUnusedPatterns(ctx, inactivityThreshold, decayFactor)
}

// Learner exposes the learner for the application policy's feedback path.
func (e *Engine) Learner() *learning.Learner {
	return e.learner
}

// Configure atomically replaces the runtime configuration. In-flight calls
// finish against the snapshot they already captured.
func (e *Engine) Configure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	current := e.cfg.Load()
	// Structural settings are fixed at construction; carry them over so
	// a reconfigure can't silently resize caches or report breaker
	// settings the running breaker never saw.
	cfg.CacheSize = current.CacheSize
	cfg.ScorerCacheSize = current.ScorerCacheSize
	cfg.FailureThreshold = current.FailureThreshold
	cfg.BreakerTimeout = current.BreakerTimeout
	cfg.BasicScorerMetrics = current.BasicScorerMetrics
	if cfg.MaxResults == 0 {
		cfg.MaxResults = current.MaxResults
	}

	e.cfg.Store(&cfg)
	slog.Info("Engine reconfigured",
		"min_confidence", cfg.MinConfidence,
		"auto_threshold", cfg.AutoCategorizeThreshold)

	return nil
}

// Config returns the active configuration snapshot.
func (e *Engine) Config() Config {
	return *e.cfg.Load()
}

// Reset clears caches, counters and breaker state. In-flight calls
// complete against whichever state they already captured.
func (e *Engine) Reset() {
	e.scorer.ClearCache()
	e.cache.Clear()
	e.breaker.Reset()
	e.categorizations.Store(0)
	e.successes.Store(0)
	e.noMatches.Store(0)
	e.failures.Store(0)
}

// Healthy reports whether the engine can reach its dependencies. Read-only
// and safe to call concurrently with everything else.
func (e *Engine) Healthy() bool {
	return e.breaker.State() != breaker.StateOpen
}

func (e *Engine) errorResult(start time.Time, message string) model.CategorizationResult {
	return model.CategorizationResult{
		Status:   model.StatusError,
		Method:   model.MethodNone,
		Error:    message,
		Duration: time.Since(start),
	}
}

// resolveCategoryName looks up the display name for a category. Failures
// degrade to an empty name rather than failing the categorization.
func (e *Engine) resolveCategoryName(ctx context.Context, categoryID int) string {
	if e.categories == nil {
		return ""
	}
	category, err := e.categories.GetCategoryByID(ctx, categoryID)
	if err != nil || category == nil {
		slog.Debug("Failed to resolve category name",
			"category_id", categoryID,
			"error", err)
		return ""
	}
	return category.Name
}
