package model

import "time"

// PatternMatch pairs a pattern with its text similarity score.
type PatternMatch struct {
	Pattern *Pattern
	Score   float64
}

// MatchResult holds the outcome of fuzzy-matching a transaction against a
// candidate pattern set. Ephemeral, produced per call.
type MatchResult struct {
	Matches   []PatternMatch
	BestScore float64
	Success   bool
}

// Best returns the highest scoring match, or nil when nothing matched.
func (m *MatchResult) Best() *PatternMatch {
	if len(m.Matches) == 0 {
		return nil
	}
	return &m.Matches[0]
}

// ScoreFor returns the similarity score recorded for a specific pattern.
func (m *MatchResult) ScoreFor(patternID string) (float64, bool) {
	for _, match := range m.Matches {
		if match.Pattern != nil && match.Pattern.ID == patternID {
			return match.Score, true
		}
	}
	return 0, false
}

// ConfidenceLevel buckets a confidence score for display and policy decisions.
type ConfidenceLevel string

// Confidence level constants, ordered low to very high.
const (
	ConfidenceLow      ConfidenceLevel = "low"
	ConfidenceMedium   ConfidenceLevel = "medium"
	ConfidenceHigh     ConfidenceLevel = "high"
	ConfidenceVeryHigh ConfidenceLevel = "very_high"
)

// Rank returns a numeric ordering for level comparisons.
func (l ConfidenceLevel) Rank() int {
	switch l {
	case ConfidenceVeryHigh:
		return 3
	case ConfidenceHigh:
		return 2
	case ConfidenceMedium:
		return 1
	default:
		return 0
	}
}

// Factor names contributing to a confidence score.
const (
	FactorTextMatch         = "text_match"
	FactorHistoricalSuccess = "historical_success"
	FactorAmountSimilarity  = "amount_similarity"
	FactorTemporalPattern   = "temporal_pattern"
)

// ConfidenceResult is the scorer's combined verdict for one (transaction,
// pattern) pair. Ephemeral.
type ConfidenceResult struct {
	Factors        map[string]float64
	DominantFactor string
	Level          ConfidenceLevel
	Score          float64
	Valid          bool
}

// CategorizationStatus indicates the outcome of a categorize call.
type CategorizationStatus string

// Categorization status constants.
const (
	StatusSuccess CategorizationStatus = "success"
	StatusNoMatch CategorizationStatus = "no_match"
	StatusError   CategorizationStatus = "error"
)

// Categorization method tags.
const (
	MethodMerchantExact = "merchant_exact"
	MethodFuzzyPattern  = "fuzzy_pattern"
	MethodNone          = "none"
)

// CategorizationResult is returned to the caller for every categorize call,
// including failures. Ephemeral.
type CategorizationResult struct {
	Factors    map[string]float64
	CategoryID *int
	Category   string
	Method     string
	Error      string
	PatternIDs []string
	Confidence float64
	Duration   time.Duration
	Status     CategorizationStatus
}

// Failed reports whether the call ended in an error status.
func (r *CategorizationResult) Failed() bool {
	return r.Status == StatusError
}

// Correction pairs a transaction with the category the user chose for it.
type Correction struct {
	Transaction         Transaction
	CorrectCategoryID   int
	PredictedCategoryID *int
}

// CorrectionEvent is the append-only audit record for one learning call.
type CorrectionEvent struct {
	CreatedAt           time.Time
	ID                  string
	TransactionID       string
	PredictedCategoryID *int
	CorrectCategoryID   int
}

// LearningResult reports the outcome of a single correction.
type LearningResult struct {
	Error            string
	PatternsCreated  int
	PatternsUpdated  int
	PatternsWeakened int
	Duration         time.Duration
	Success          bool
}

// BatchLearningResult aggregates outcomes over a batch of corrections.
// Successful + Failed always equals Total.
type BatchLearningResult struct {
	Total           int
	Successful      int
	Failed          int
	PatternsCreated int
}

// DecayResult reports the outcome of a decay pass over stored patterns.
type DecayResult struct {
	Examined int
	Decayed  int
}
