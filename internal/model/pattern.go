package model

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// PatternType represents what aspect of a transaction a pattern matches.
type PatternType string

// Pattern type constants.
const (
	PatternTypeMerchant    PatternType = "merchant"
	PatternTypeKeyword     PatternType = "keyword"
	PatternTypeAmountRange PatternType = "amount_range"
	PatternTypeTime        PatternType = "time"
)

// AmountStats holds running statistics over the amounts of transactions
// that matched a pattern.
type AmountStats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
}

// WellFormed reports whether the stats are usable for scoring.
func (a *AmountStats) WellFormed() bool {
	return a != nil && a.Count > 0 && a.StdDev >= 0
}

// TemporalStats holds the hour-of-day distribution of matching transactions.
type TemporalStats struct {
	HourDistribution map[int]int `json:"hour_distribution"`
}

// PatternMetadata carries optional per-pattern statistics used by the
// confidence scorer. Either section may be absent.
type PatternMetadata struct {
	AmountStats   *AmountStats   `json:"amount_stats,omitempty"`
	TemporalStats *TemporalStats `json:"temporal_stats,omitempty"`
}

// Pattern represents a learned rule for matching transactions to a category.
type Pattern struct {
	LastUpdated      time.Time
	CreatedAt        time.Time
	Metadata         *PatternMetadata
	ID               string
	Value            string
	Type             PatternType
	CategoryID       int
	ConfidenceWeight float64
	UsageCount       int
	SuccessCount     int
	IsActive         bool
	UserCreated      bool
}

// SuccessRate returns the pattern's historical success rate. The second
// return value is false when the pattern has never been used.
func (p *Pattern) SuccessRate() (float64, bool) {
	if p.UsageCount <= 0 {
		return 0, false
	}
	return float64(p.SuccessCount) / float64(p.UsageCount), true
}

// Validate ensures the pattern satisfies its structural invariants.
func (p *Pattern) Validate() error {
	if p.Value == "" {
		return fmt.Errorf("pattern value is required")
	}
	switch p.Type {
	case PatternTypeMerchant, PatternTypeKeyword, PatternTypeAmountRange, PatternTypeTime:
	default:
		return fmt.Errorf("invalid pattern type %q", p.Type)
	}
	if p.CategoryID <= 0 {
		return fmt.Errorf("pattern category is required")
	}
	if p.ConfidenceWeight < 0 {
		return fmt.Errorf("confidence weight must be non-negative")
	}
	if p.UsageCount < 0 || p.SuccessCount < 0 {
		return fmt.Errorf("pattern counts must be non-negative")
	}
	if p.SuccessCount > p.UsageCount {
		return fmt.Errorf("success count %d exceeds usage count %d", p.SuccessCount, p.UsageCount)
	}
	return nil
}

// MetadataJSON serializes the pattern metadata for database storage.
// Returns nil for patterns without metadata.
func (p *Pattern) MetadataJSON() ([]byte, error) {
	if p.Metadata == nil {
		return nil, nil
	}
	data, err := json.Marshal(p.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal pattern metadata: %w", err)
	}
	return data, nil
}

// ParseMetadata deserializes metadata previously stored with MetadataJSON.
// Corrupt metadata is reported as an error so callers can decide to drop it.
func ParseMetadata(data []byte) (*PatternMetadata, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var meta PatternMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pattern metadata: %w", err)
	}
	return &meta, nil
}

// RecordAmount folds a newly observed amount into the running amount stats,
// creating them on first use. Uses Welford's online update for the variance.
func (p *Pattern) RecordAmount(amount float64) {
	if p.Metadata == nil {
		p.Metadata = &PatternMetadata{}
	}
	stats := p.Metadata.AmountStats
	if stats == nil {
		p.Metadata.AmountStats = &AmountStats{Count: 1, Mean: amount, StdDev: 0}
		return
	}

	count := float64(stats.Count)
	delta := amount - stats.Mean
	newMean := stats.Mean + delta/(count+1)
	// Recover the aggregate M2 from the stored std dev, then fold in the
	// new observation.
	m2 := stats.StdDev * stats.StdDev * count
	m2 += delta * (amount - newMean)

	stats.Count++
	stats.Mean = newMean
	if stats.Count > 1 {
		variance := m2 / float64(stats.Count)
		if variance > 0 {
			stats.StdDev = math.Sqrt(variance)
		} else {
			stats.StdDev = 0
		}
	}
}

// RecordHour folds an observed transaction hour into the temporal stats.
func (p *Pattern) RecordHour(hour int) {
	if hour < 0 || hour > 23 {
		return
	}
	if p.Metadata == nil {
		p.Metadata = &PatternMetadata{}
	}
	if p.Metadata.TemporalStats == nil {
		p.Metadata.TemporalStats = &TemporalStats{HourDistribution: make(map[int]int)}
	}
	if p.Metadata.TemporalStats.HourDistribution == nil {
		p.Metadata.TemporalStats.HourDistribution = make(map[int]int)
	}
	p.Metadata.TemporalStats.HourDistribution[hour]++
}
