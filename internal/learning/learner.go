// Package learning implements online pattern learning from user
// corrections: reinforcement, weakening, decay, and opportunistic merging
// of duplicate patterns.
package learning

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tallyfin/tallyfin/internal/match"
	"github.com/tallyfin/tallyfin/internal/model"
	"github.com/tallyfin/tallyfin/internal/patterncache"
	"github.com/tallyfin/tallyfin/internal/service"
)

// Config holds the learner's tuning constants.
type Config struct {
	// WeakenFactor multiplies the weight of wrongly predicted patterns.
	WeakenFactor float64
	// BoostFactor multiplies the weight of reinforced patterns, capped
	// at WeightCap.
	BoostFactor float64
	// WeightCap bounds multiplicative reinforcement.
	WeightCap float64
	// BaselineWeight is the weight of a newly created pattern.
	BaselineWeight float64
	// ReinforcedWeight is the starting weight when the new pattern
	// corrects a wrong prediction.
	ReinforcedWeight float64
	// MergeThreshold is the value similarity above which two patterns of
	// the same type and category are merge candidates.
	MergeThreshold float64
	// DecayFactor is the default multiplier applied to stale patterns.
	DecayFactor float64
	// WeakenMatchFloor is the minimum similarity between the record text
	// and a pattern value for the pattern to be weakened.
	WeakenMatchFloor float64
	// ReinforceMatchFloor is the minimum similarity for an existing
	// pattern to be reinforced instead of creating a new one.
	ReinforceMatchFloor float64
}

// DefaultConfig returns the default learner configuration.
func DefaultConfig() Config {
	return Config{
		WeakenFactor:        0.8,
		BoostFactor:         1.15,
		WeightCap:           5.0,
		BaselineWeight:      1.0,
		ReinforcedWeight:    1.2,
		MergeThreshold:      0.92,
		DecayFactor:         0.9,
		WeakenMatchFloor:    0.5,
		ReinforceMatchFloor: 0.8,
	}
}

// Learner mutates pattern state from corrections. Safe for concurrent use:
// candidates are read inside the store transaction that writes them back,
// so corrections touching the same pattern serialize on the store's
// transaction layer instead of overwriting each other's counters.
type Learner struct {
	patterns service.PatternStore
	cache    *patterncache.Cache
	metrics  *learnerMetrics
	cfg      Config
}

// New creates a learner over the given pattern store and cache.
func New(patterns service.PatternStore, cache *patterncache.Cache, cfg Config) (*Learner, error) {
	if patterns == nil {
		return nil, fmt.Errorf("pattern store is required")
	}
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	return &Learner{
		patterns: patterns,
		cache:    cache,
		cfg:      cfg,
		metrics:  newLearnerMetrics(),
	}, nil
}

// LearnFromCorrection applies one user correction: weakens patterns behind
// a wrong prediction, reinforces or creates the pattern for the correct
// category, and records the correction event. All mutations commit
// atomically; any failure rolls back everything.
func (l *Learner) LearnFromCorrection(ctx context.Context, txn model.Transaction, correctCategoryID int, predictedCategoryID *int) model.LearningResult {
	start := time.Now()

	if correctCategoryID <= 0 {
		return l.failure(start, fmt.Errorf("correct category is required"))
	}
	if txn.DisplayName() == "" {
		return l.failure(start, fmt.Errorf("transaction has no matchable text"))
	}

	sig := model.NewSignature(txn)
	result, muts := l.learnOne(ctx, txn, sig, correctCategoryID, predictedCategoryID)
	result.Duration = time.Since(start)

	if result.Success {
		l.metrics.recordCorrection(result)
		l.invalidateMutation(sig, muts)
		l.mergeOpportunistically(ctx, sig, correctCategoryID)
	}

	return result
}

// mutation records which patterns one correction touched, for cache
// invalidation beyond the correcting signature's own key.
type mutation struct {
	patternIDs []string
	created    bool
}

// learnOne runs the mutation phase for a single correction. Candidates are
// read through the open transaction, so the counters written back are
// increments over the latest committed state rather than over a stale
// snapshot taken before the transaction began.
func (l *Learner) learnOne(ctx context.Context, txn model.Transaction, sig model.Signature, correctCategoryID int, predictedCategoryID *int) (model.LearningResult, mutation) {
	tx, err := l.patterns.BeginTx(ctx)
	if err != nil {
		return model.LearningResult{Error: fmt.Sprintf("failed to begin transaction: %v", err)}, mutation{}
	}

	candidates, err := tx.FindActivePatterns(ctx, sig)
	if err != nil {
		return l.rollback(tx, fmt.Errorf("failed to load candidate patterns: %w", err)), mutation{}
	}

	var result model.LearningResult
	var muts mutation
	text := txn.DisplayName()
	now := time.Now()

	// 1. Weaken the patterns that backed a wrong prediction. The success
	// count stays put so the success rate drops.
	if predictedCategoryID != nil && *predictedCategoryID != correctCategoryID {
		for i := range candidates {
			p := candidates[i]
			if p.CategoryID != *predictedCategoryID {
				continue
			}
			if match.Similarity(text, p.Value) < l.cfg.WeakenMatchFloor {
				continue
			}
			p.ConfidenceWeight *= l.cfg.WeakenFactor
			p.UsageCount++
			p.LastUpdated = now
			if err := tx.SavePattern(ctx, &p); err != nil {
				return l.rollback(tx, fmt.Errorf("failed to weaken pattern %s: %w", p.ID, err)), mutation{}
			}
			result.PatternsWeakened++
			muts.patternIDs = append(muts.patternIDs, p.ID)
		}
	}

	// 2. Reinforce the best existing pattern under the correct category,
	// or create a fresh one for this signature.
	reinforced := false
	bestIdx, bestScore := -1, 0.0
	for i := range candidates {
		if candidates[i].CategoryID != correctCategoryID {
			continue
		}
		if score := match.Similarity(text, candidates[i].Value); score > bestScore {
			bestIdx, bestScore = i, score
		}
	}

	if bestIdx >= 0 && bestScore >= l.cfg.ReinforceMatchFloor {
		p := candidates[bestIdx]
		p.UsageCount++
		p.SuccessCount++
		p.ConfidenceWeight = min(p.ConfidenceWeight*l.cfg.BoostFactor, l.cfg.WeightCap)
		p.RecordAmount(txn.Amount)
		p.RecordHour(txn.Date.Hour())
		p.LastUpdated = now
		if err := tx.SavePattern(ctx, &p); err != nil {
			return l.rollback(tx, fmt.Errorf("failed to reinforce pattern %s: %w", p.ID, err)), mutation{}
		}
		result.PatternsUpdated++
		muts.patternIDs = append(muts.patternIDs, p.ID)
		reinforced = true
	}

	if !reinforced {
		weight := l.cfg.BaselineWeight
		if predictedCategoryID != nil && *predictedCategoryID != correctCategoryID {
			// Correcting a wrong prediction is stronger evidence than a
			// cold assignment.
			weight = l.cfg.ReinforcedWeight
		}

		created := model.Pattern{
			ID:               uuid.NewString(),
			Type:             model.PatternTypeMerchant,
			Value:            model.NormalizeText(text),
			CategoryID:       correctCategoryID,
			ConfidenceWeight: weight,
			UsageCount:       1,
			SuccessCount:     1,
			IsActive:         true,
			UserCreated:      true,
			CreatedAt:        now,
			LastUpdated:      now,
		}
		created.RecordAmount(txn.Amount)
		created.RecordHour(txn.Date.Hour())

		if err := tx.SavePattern(ctx, &created); err != nil {
			return l.rollback(tx, fmt.Errorf("failed to create pattern: %w", err)), mutation{}
		}
		result.PatternsCreated++
		muts.created = true
	}

	// 3. The correction's audit record commits with the mutations; a sink
	// failure aborts the whole correction.
	event := model.CorrectionEvent{
		ID:                  uuid.NewString(),
		TransactionID:       txn.ID,
		CorrectCategoryID:   correctCategoryID,
		PredictedCategoryID: predictedCategoryID,
		CreatedAt:           now,
	}
	if err := tx.AppendCorrectionEvent(ctx, &event); err != nil {
		return l.rollback(tx, fmt.Errorf("failed to record correction event: %w", err)), mutation{}
	}

	if err := tx.Commit(); err != nil {
		return model.LearningResult{Error: fmt.Sprintf("failed to commit correction: %v", err)}, mutation{}
	}

	slog.Debug("Applied correction",
		"transaction_id", txn.ID,
		"correct_category", correctCategoryID,
		"weakened", result.PatternsWeakened,
		"created", result.PatternsCreated,
		"signature", sig.Key())

	result.Success = true
	return result, muts
}

// BatchLearn processes corrections one transaction each; every correction
// reads its candidates through its own store transaction, so a correction
// sees the counters its predecessors committed. Successful + Failed always
// equals Total.
func (l *Learner) BatchLearn(ctx context.Context, corrections []model.Correction) model.BatchLearningResult {
	result := model.BatchLearningResult{Total: len(corrections)}

	for _, c := range corrections {
		if c.CorrectCategoryID <= 0 || c.Transaction.DisplayName() == "" {
			result.Failed++
			continue
		}

		sig := model.NewSignature(c.Transaction)
		start := time.Now()
		one, muts := l.learnOne(ctx, c.Transaction, sig, c.CorrectCategoryID, c.PredictedCategoryID)
		one.Duration = time.Since(start)

		if one.Success {
			result.Successful++
			result.PatternsCreated += one.PatternsCreated
			l.metrics.recordCorrection(one)
			l.invalidateMutation(sig, muts)
		} else {
			result.Failed++
			slog.Warn("Batch learn correction failed",
				"transaction_id", c.Transaction.ID,
				"error", one.Error)
		}
	}

	return result
}

// invalidateMutation drops every cache entry the correction could have
// staled: the correcting signature itself, any signature holding a
// weakened or reinforced pattern, and, when a pattern was created, every
// signature sharing the merchant token.
func (l *Learner) invalidateMutation(sig model.Signature, muts mutation) {
	if l.cache == nil {
		return
	}
	l.cache.Invalidate(sig)
	l.cache.InvalidatePatterns(muts.patternIDs...)
	if muts.created {
		l.cache.InvalidateMerchant(sig.MerchantToken)
	}
}

func (l *Learner) rollback(tx service.Tx, err error) model.LearningResult {
	if rbErr := tx.Rollback(); rbErr != nil {
		slog.Warn("Rollback failed after learning error", "error", rbErr)
	}
	return model.LearningResult{Error: err.Error()}
}

func (l *Learner) failure(start time.Time, err error) model.LearningResult {
	return model.LearningResult{
		Error:    err.Error(),
		Duration: time.Since(start),
	}
}
