// Package apply decides how a categorization result lands on a transaction:
// direct assignment above the confidence threshold, a reviewable suggestion
// below it, and the accept/reject flow for suggestions.
package apply

import (
	"context"
	"log/slog"

	"github.com/tallyfin/tallyfin/internal/confidence"
	"github.com/tallyfin/tallyfin/internal/model"
)

// DefaultHighThreshold separates direct assignment from suggestion.
const DefaultHighThreshold = 0.7

// Learner is the slice of the pattern learner the policy needs to feed
// rejections back as corrections.
type Learner interface {
	LearnFromCorrection(ctx context.Context, txn model.Transaction, correctCategoryID int, predictedCategoryID *int) model.LearningResult
}

// Policy applies categorization results to target records.
type Policy struct {
	learner       Learner
	highThreshold float64
}

// New creates a policy. The learner may be nil when rejection feedback is
// handled elsewhere.
func New(highThreshold float64, learner Learner) *Policy {
	if highThreshold <= 0 || highThreshold > 1 {
		highThreshold = DefaultHighThreshold
	}
	return &Policy{highThreshold: highThreshold, learner: learner}
}

// Apply writes a categorization result onto the transaction. High
// confidence assigns the category directly; lower confidence records a
// suggestion instead. Non-successful results mutate nothing and return
// false.
func (p *Policy) Apply(result model.CategorizationResult, txn *model.Transaction) bool {
	if txn == nil || result.Status != model.StatusSuccess || result.CategoryID == nil {
		return false
	}

	conf := result.Confidence
	txn.MLConfidence = &conf
	txn.MLConfidenceExplanation = confidence.Explain(result)

	if result.Confidence >= p.highThreshold {
		categoryID := *result.CategoryID
		txn.CategoryID = &categoryID
		txn.MLSuggestedCategoryID = nil
		txn.CategorizationMethod = result.Method
		return true
	}

	suggestedID := *result.CategoryID
	txn.MLSuggestedCategoryID = &suggestedID
	return true
}

// ApplyMLSuggestion promotes a pending suggestion to the actual category
// and marks it user-confirmed. Returns false when no suggestion exists;
// repeat calls are no-ops.
func (p *Policy) ApplyMLSuggestion(txn *model.Transaction) bool {
	if txn == nil || txn.MLSuggestedCategoryID == nil {
		return false
	}

	categoryID := *txn.MLSuggestedCategoryID
	txn.CategoryID = &categoryID
	txn.MLSuggestedCategoryID = nil
	confirmed := 1.0
	txn.MLConfidence = &confirmed

	return true
}

// RejectMLSuggestion replaces a suggestion with the user's category,
// counts the correction, and feeds the rejection back to the learner with
// the old suggestion as the predicted category. Returns false without
// mutating when no correct category is supplied.
func (p *Policy) RejectMLSuggestion(ctx context.Context, txn *model.Transaction, correctCategoryID *int) bool {
	if txn == nil || correctCategoryID == nil {
		return false
	}

	predicted := txn.MLSuggestedCategoryID

	categoryID := *correctCategoryID
	txn.CategoryID = &categoryID
	txn.MLSuggestedCategoryID = nil
	confirmed := 1.0
	txn.MLConfidence = &confirmed
	txn.MLCorrectionCount++

	if p.learner != nil {
		learned := p.learner.LearnFromCorrection(ctx, *txn, categoryID, predicted)
		if !learned.Success {
			slog.Warn("Rejection feedback failed",
				"transaction_id", txn.ID,
				"error", learned.Error)
		}
	}

	return true
}
