package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/tallyfin/tallyfin/internal/common"
	"github.com/tallyfin/tallyfin/internal/model"
)

// Validation errors. Lookup failures and bad parameters wrap the shared
// sentinels so callers can branch with errors.Is across packages.
var (
	ErrNilContext       = fmt.Errorf("%w: context cannot be nil", common.ErrInvalidInput)
	ErrEmptyString      = fmt.Errorf("%w: string parameter cannot be empty", common.ErrInvalidInput)
	ErrNilParameter     = fmt.Errorf("%w: parameter cannot be nil", common.ErrInvalidInput)
	ErrCategoryNotFound = fmt.Errorf("category %w", common.ErrNotFound)
	ErrPatternNotFound  = fmt.Errorf("pattern %w", common.ErrNotFound)
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validatePattern validates a pattern before persistence.
func validatePattern(pattern *model.Pattern) error {
	if pattern == nil {
		return fmt.Errorf("%w: pattern", ErrNilParameter)
	}
	if pattern.ID == "" {
		return fmt.Errorf("%w: pattern ID", ErrEmptyString)
	}
	return pattern.Validate()
}

// validateCorrectionEvent validates an audit event before persistence.
func validateCorrectionEvent(event *model.CorrectionEvent) error {
	if event == nil {
		return fmt.Errorf("%w: event", ErrNilParameter)
	}
	if event.ID == "" {
		return fmt.Errorf("%w: event ID", ErrEmptyString)
	}
	if event.CorrectCategoryID <= 0 {
		return fmt.Errorf("correction event requires a correct category")
	}
	return nil
}

// validateTransaction validates a transaction before persistence.
func validateTransaction(txn *model.Transaction) error {
	if txn == nil {
		return fmt.Errorf("%w: transaction", ErrNilParameter)
	}
	if txn.ID == "" {
		return fmt.Errorf("%w: transaction ID", ErrEmptyString)
	}
	if txn.Name == "" && txn.MerchantName == "" {
		return fmt.Errorf("transaction requires a name or merchant name")
	}
	return nil
}
