package learning

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tallyfin/tallyfin/internal/model"
)

// MetricsSnapshot summarizes learner activity and the pattern population.
type MetricsSnapshot struct {
	CorrectionsProcessed  uint64
	PatternsCreated       uint64
	TotalPatterns         int
	ActivePatterns        int
	PatternsPerCorrection float64
	AverageLatency        time.Duration
}

type learnerMetrics struct {
	mu           sync.Mutex
	corrections  uint64
	created      uint64
	totalLatency time.Duration
}

func newLearnerMetrics() *learnerMetrics {
	return &learnerMetrics{}
}

func (m *learnerMetrics) recordCorrection(result model.LearningResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.corrections++
	m.created += uint64(result.PatternsCreated)
	m.totalLatency += result.Duration
}

// Metrics returns cumulative learning metrics plus current pattern
// population statistics read from the store.
func (l *Learner) Metrics(ctx context.Context) (MetricsSnapshot, error) {
	patterns, err := l.patterns.ListAllPatterns(ctx)
	if err != nil {
		return MetricsSnapshot{}, fmt.Errorf("failed to list patterns: %w", err)
	}

	l.metrics.mu.Lock()
	snap := MetricsSnapshot{
		CorrectionsProcessed: l.metrics.corrections,
		PatternsCreated:      l.metrics.created,
	}
	if l.metrics.corrections > 0 {
		snap.PatternsPerCorrection = float64(l.metrics.created) / float64(l.metrics.corrections)
		snap.AverageLatency = l.metrics.totalLatency / time.Duration(l.metrics.corrections)
	}
	l.metrics.mu.Unlock()

	snap.TotalPatterns = len(patterns)
	for i := range patterns {
		if patterns[i].IsActive {
			snap.ActivePatterns++
		}
	}

	return snap, nil
}
