package confidence

import (
	"sync"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/tallyfin/tallyfin/internal/model"
)

// latencySampleCap bounds the latency window used for percentiles.
const latencySampleCap = 2048

// collector records scorer activity. Two implementations exist: the full
// collector with factor presence and latency percentiles, and a basic
// counter-only collector for hot paths where the sampling overhead is
// unwanted. The choice is made once at scorer construction.
type collector interface {
	record(result model.ConfidenceResult, elapsed time.Duration)
	recordHit(result model.ConfidenceResult, elapsed time.Duration)
	recordInvalid(elapsed time.Duration)
	snapshot() MetricsSnapshot
}

// MetricsSnapshot is a point-in-time view of scorer activity.
type MetricsSnapshot struct {
	FactorPresence map[string]float64
	Calculations   uint64
	CacheHits      uint64
	CacheHitRate   float64
	TotalLatency   time.Duration
	P50Latency     time.Duration
	P95Latency     time.Duration
	P99Latency     time.Duration
}

type metrics struct {
	mu           sync.Mutex
	factorCounts map[string]uint64
	latencies    []float64 // milliseconds, bounded ring
	latencyNext  int
	calculations uint64
	cacheHits    uint64
	totalLatency time.Duration
}

func newMetrics() *metrics {
	return &metrics{
		factorCounts: make(map[string]uint64, 4),
		latencies:    make([]float64, 0, latencySampleCap),
	}
}

func (m *metrics) record(result model.ConfidenceResult, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calculations++
	m.observeLatency(elapsed)
	for name := range result.Factors {
		m.factorCounts[name]++
	}
}

func (m *metrics) recordHit(result model.ConfidenceResult, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calculations++
	m.cacheHits++
	m.observeLatency(elapsed)
	for name := range result.Factors {
		m.factorCounts[name]++
	}
}

func (m *metrics) recordInvalid(elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calculations++
	m.observeLatency(elapsed)
}

// observeLatency must be called with the lock held.
func (m *metrics) observeLatency(elapsed time.Duration) {
	m.totalLatency += elapsed
	ms := float64(elapsed.Microseconds()) / 1000.0

	if len(m.latencies) < latencySampleCap {
		m.latencies = append(m.latencies, ms)
		return
	}
	m.latencies[m.latencyNext] = ms
	m.latencyNext = (m.latencyNext + 1) % latencySampleCap
}

func (m *metrics) snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := MetricsSnapshot{
		Calculations:   m.calculations,
		CacheHits:      m.cacheHits,
		TotalLatency:   m.totalLatency,
		FactorPresence: make(map[string]float64, len(m.factorCounts)),
	}

	if m.calculations > 0 {
		snap.CacheHitRate = float64(m.cacheHits) / float64(m.calculations)
		for name, count := range m.factorCounts {
			snap.FactorPresence[name] = float64(count) / float64(m.calculations)
		}
	}

	if len(m.latencies) > 0 {
		samples := make(stats.Float64Data, len(m.latencies))
		copy(samples, m.latencies)

		snap.P50Latency = percentileDuration(samples, 50)
		snap.P95Latency = percentileDuration(samples, 95)
		snap.P99Latency = percentileDuration(samples, 99)
	}

	return snap
}

func percentileDuration(samples stats.Float64Data, p float64) time.Duration {
	value, err := stats.Percentile(samples, p)
	if err != nil {
		return 0
	}
	return time.Duration(value * float64(time.Millisecond))
}

// basicMetrics counts calculations and cache hits without latency sampling
// or factor tracking.
type basicMetrics struct {
	mu           sync.Mutex
	calculations uint64
	cacheHits    uint64
	totalLatency time.Duration
}

func newBasicMetrics() *basicMetrics {
	return &basicMetrics{}
}

func (m *basicMetrics) record(_ model.ConfidenceResult, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calculations++
	m.totalLatency += elapsed
}

func (m *basicMetrics) recordHit(_ model.ConfidenceResult, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calculations++
	m.cacheHits++
	m.totalLatency += elapsed
}

func (m *basicMetrics) recordInvalid(elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calculations++
	m.totalLatency += elapsed
}

func (m *basicMetrics) snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := MetricsSnapshot{
		Calculations: m.calculations,
		CacheHits:    m.cacheHits,
		TotalLatency: m.totalLatency,
	}
	if m.calculations > 0 {
		snap.CacheHitRate = float64(m.cacheHits) / float64(m.calculations)
	}
	return snap
}
