package model

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// Transaction represents a single financial transaction from any source.
// The engine reads the descriptive fields and writes the ML fields; the
// record itself is persisted by the external transaction store.
type Transaction struct {
	Date         time.Time
	ID           string
	Name         string // Raw transaction description
	MerchantName string // Cleaned merchant name
	AccountID    string
	Hash         string
	Amount       float64

	// Fields written by the categorization engine.
	CategoryID              *int
	MLConfidence            *float64
	MLSuggestedCategoryID   *int
	MLConfidenceExplanation string
	CategorizationMethod    string
	MLCorrectionCount       int
}

// DisplayName returns the merchant name, falling back to the raw description.
func (t *Transaction) DisplayName() string {
	if t.MerchantName != "" {
		return t.MerchantName
	}
	return t.Name
}

// GenerateHash creates a unique hash for duplicate detection.
func (t *Transaction) GenerateHash() string {
	data := fmt.Sprintf("%s:%.2f:%s:%s",
		t.Date.Format("2006-01-02"),
		t.Amount,
		t.MerchantName,
		t.AccountID)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}
