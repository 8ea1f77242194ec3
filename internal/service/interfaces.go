// Package service defines the interfaces the engine consumes from its
// collaborators: pattern, category and transaction persistence plus the
// audit event sink.
package service

import (
	"context"
	"time"

	"github.com/tallyfin/tallyfin/internal/model"
)

// PatternStore is the engine's contract with pattern persistence. The
// engine never hard-deletes patterns; it only deactivates or merges them.
type PatternStore interface {
	FindActivePatterns(ctx context.Context, sig model.Signature) ([]model.Pattern, error)
	ListAllPatterns(ctx context.Context) ([]model.Pattern, error)
	SavePattern(ctx context.Context, pattern *model.Pattern) error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx scopes pattern mutations and the correction audit record to a single
// atomic unit. Either everything commits or nothing does. Reads through the
// transaction observe the committed state at the time the transaction
// acquired the store, so read-modify-write sequences on pattern counters
// serialize instead of overwriting each other.
type Tx interface {
	EventSink
	FindActivePatterns(ctx context.Context, sig model.Signature) ([]model.Pattern, error)
	SavePattern(ctx context.Context, pattern *model.Pattern) error
	Commit() error
	Rollback() error
}

// CategoryStore resolves categories by identifier or name.
type CategoryStore interface {
	GetCategories(ctx context.Context) ([]model.Category, error)
	GetCategoryByID(ctx context.Context, id int) (*model.Category, error)
	GetCategoryByName(ctx context.Context, name string) (*model.Category, error)
	CreateCategory(ctx context.Context, name, description string) (*model.Category, error)
}

// TransactionStore persists target records. Save semantics are atomic per
// record from the caller's storage layer.
type TransactionStore interface {
	SaveTransactions(ctx context.Context, transactions []model.Transaction) error
	SaveTransaction(ctx context.Context, txn *model.Transaction) error
	GetTransactionByID(ctx context.Context, id string) (*model.Transaction, error)
	GetUncategorized(ctx context.Context, limit int) ([]model.Transaction, error)
}

// EventSink accepts append-only correction events for auditing. A sink
// failure aborts the whole correction.
type EventSink interface {
	AppendCorrectionEvent(ctx context.Context, event *model.CorrectionEvent) error
}

// RetryOptions configures retry behavior for transient failures.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
