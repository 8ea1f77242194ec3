package learning

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tallyfin/tallyfin/internal/model"
)

// DecayUnusedPatterns multiplies the weight of every active pattern whose
// last update is older than the inactivity threshold by decayFactor,
// exactly once per call. LastUpdated stays untouched, so a pattern that
// remains unused keeps decaying on subsequent runs.
func (l *Learner) DecayUnusedPatterns(ctx context.Context, inactivityThreshold time.Duration, decayFactor float64) (model.DecayResult, error) {
	if decayFactor <= 0 || decayFactor >= 1 {
		decayFactor = l.cfg.DecayFactor
	}

	patterns, err := l.patterns.ListAllPatterns(ctx)
	if err != nil {
		return model.DecayResult{}, fmt.Errorf("failed to list patterns: %w", err)
	}

	cutoff := time.Now().Add(-inactivityThreshold)
	result := model.DecayResult{}

	for i := range patterns {
		p := patterns[i]
		if !p.IsActive {
			continue
		}
		result.Examined++

		if !p.LastUpdated.Before(cutoff) {
			continue
		}

		p.ConfidenceWeight *= decayFactor
		if err := l.patterns.SavePattern(ctx, &p); err != nil {
			slog.Warn("Failed to decay pattern",
				"pattern_id", p.ID,
				"error", err)
			continue
		}
		result.Decayed++
	}

	if result.Decayed > 0 && l.cache != nil {
		l.cache.Clear()
	}

	slog.Info("Pattern decay complete",
		"examined", result.Examined,
		"decayed", result.Decayed,
		"decay_factor", decayFactor)

	return result, nil
}
