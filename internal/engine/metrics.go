package engine

import (
	"context"

	"github.com/tallyfin/tallyfin/internal/confidence"
	"github.com/tallyfin/tallyfin/internal/learning"
)

// Metrics is a read-only snapshot of engine activity, safe to collect
// concurrently with categorization and learning.
type Metrics struct {
	Confidence      confidence.MetricsSnapshot
	Learning        learning.MetricsSnapshot
	BreakerState    string
	Categorizations uint64
	Successes       uint64
	NoMatches       uint64
	Failures        uint64
	CachedPatterns  int
}

// Metrics snapshots the engine counters and sub-component metrics. The
// learning population query is best-effort; a store failure leaves those
// fields zeroed.
func (e *Engine) Metrics(ctx context.Context) Metrics {
	m := Metrics{
		Categorizations: e.categorizations.Load(),
		Successes:       e.successes.Load(),
		NoMatches:       e.noMatches.Load(),
		Failures:        e.failures.Load(),
		BreakerState:    e.breaker.State().String(),
		CachedPatterns:  e.cache.Len(),
		Confidence:      e.scorer.Metrics(),
	}

	if snap, err := e.learner.Metrics(ctx); err == nil {
		m.Learning = snap
	}

	return m
}
