package learning

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tallyfin/tallyfin/internal/match"
	"github.com/tallyfin/tallyfin/internal/model"
)

// MergeDuplicates combines active patterns of the same type and category
// whose values are near-duplicates: counts are summed, the surviving weight
// is the usage-weighted average, and the duplicate is deactivated. Merging
// is best-effort; failures are logged and skipped, never fatal.
func (l *Learner) MergeDuplicates(ctx context.Context) (int, error) {
	patterns, err := l.patterns.ListAllPatterns(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list patterns: %w", err)
	}

	type groupKey struct {
		ptype      model.PatternType
		categoryID int
	}
	groups := make(map[groupKey][]int)
	for i := range patterns {
		if !patterns[i].IsActive {
			continue
		}
		key := groupKey{patterns[i].Type, patterns[i].CategoryID}
		groups[key] = append(groups[key], i)
	}

	merged := 0
	consumed := make(map[int]bool)

	for _, indices := range groups {
		for a := 0; a < len(indices); a++ {
			for b := a + 1; b < len(indices); b++ {
				i, j := indices[a], indices[b]
				if consumed[i] || consumed[j] {
					continue
				}
				if match.Similarity(patterns[i].Value, patterns[j].Value) < l.cfg.MergeThreshold {
					continue
				}

				survivor, dup := i, j
				if patterns[j].UsageCount > patterns[i].UsageCount {
					survivor, dup = j, i
				}

				if l.mergePair(ctx, &patterns[survivor], &patterns[dup]) {
					consumed[dup] = true
					merged++
				}
			}
		}
	}

	if merged > 0 && l.cache != nil {
		l.cache.Clear()
	}

	return merged, nil
}

// mergePair folds dup into survivor and deactivates dup. Returns false and
// leaves both patterns alone when persistence fails.
func (l *Learner) mergePair(ctx context.Context, survivor, dup *model.Pattern) bool {
	totalUsage := survivor.UsageCount + dup.UsageCount
	if totalUsage > 0 {
		survivor.ConfidenceWeight = (survivor.ConfidenceWeight*float64(survivor.UsageCount) +
			dup.ConfidenceWeight*float64(dup.UsageCount)) / float64(totalUsage)
	}
	survivor.UsageCount = totalUsage
	survivor.SuccessCount += dup.SuccessCount
	survivor.LastUpdated = time.Now()

	dup.IsActive = false
	dup.LastUpdated = survivor.LastUpdated

	if err := l.patterns.SavePattern(ctx, survivor); err != nil {
		slog.Warn("Failed to persist merge survivor",
			"pattern_id", survivor.ID,
			"error", err)
		return false
	}
	if err := l.patterns.SavePattern(ctx, dup); err != nil {
		slog.Warn("Failed to deactivate merged duplicate",
			"pattern_id", dup.ID,
			"error", err)
		return false
	}

	slog.Debug("Merged duplicate patterns",
		"survivor", survivor.ID,
		"duplicate", dup.ID,
		"value", survivor.Value)

	return true
}

// mergeOpportunistically scans only the patterns behind the current
// correction's signature for near-duplicates under the corrected category.
// Best-effort; callers never depend on a merge occurring. The candidates are
// refetched so the just-committed counters are merged, not the
// pre-correction snapshot.
func (l *Learner) mergeOpportunistically(ctx context.Context, sig model.Signature, categoryID int) {
	candidates, err := l.patterns.FindActivePatterns(ctx, sig)
	if err != nil {
		slog.Debug("Skipping opportunistic merge", "error", err)
		return
	}

	var own []model.Pattern
	for i := range candidates {
		if candidates[i].IsActive && candidates[i].CategoryID == categoryID {
			own = append(own, candidates[i])
		}
	}
	if len(own) < 2 {
		return
	}

	for i := 0; i < len(own); i++ {
		for j := i + 1; j < len(own); j++ {
			if own[i].Type != own[j].Type {
				continue
			}
			if match.Similarity(own[i].Value, own[j].Value) < l.cfg.MergeThreshold {
				continue
			}

			survivor, dup := &own[i], &own[j]
			if dup.UsageCount > survivor.UsageCount {
				survivor, dup = dup, survivor
			}
			if l.mergePair(ctx, survivor, dup) {
				l.invalidateMutation(sig, mutation{patternIDs: []string{survivor.ID, dup.ID}})
			}
			return
		}
	}
}
