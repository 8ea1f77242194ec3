package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tallyfin/tallyfin/internal/common"
	"github.com/tallyfin/tallyfin/internal/model"
)

const transactionColumns = `id, hash, date, name, merchant_name, account_id,
	amount, category_id, ml_confidence, ml_suggested_category_id,
	ml_confidence_explanation, categorization_method, ml_correction_count`

// SaveTransactions persists a batch of transactions, ignoring duplicates
// by hash.
func (s *SQLiteStorage) SaveTransactions(ctx context.Context, transactions []model.Transaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	for i := range transactions {
		if err := validateTransaction(&transactions[i]); err != nil {
			_ = tx.Rollback()
			return err
		}
		if transactions[i].Hash == "" {
			transactions[i].Hash = transactions[i].GenerateHash()
		}
		if err := saveTransaction(ctx, tx, &transactions[i], true); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transactions: %w", err)
	}
	return nil
}

// SaveTransaction upserts a single transaction, including the ML fields
// the engine writes. Atomic per record.
func (s *SQLiteStorage) SaveTransaction(ctx context.Context, txn *model.Transaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateTransaction(txn); err != nil {
		return err
	}
	if txn.Hash == "" {
		txn.Hash = txn.GenerateHash()
	}
	return saveTransaction(ctx, s.db, txn, false)
}

// GetTransactionByID retrieves one transaction.
func (s *SQLiteStorage) GetTransactionByID(ctx context.Context, id string) (*model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE id = ?`, transactionColumns)
	txn, err := scanTransaction(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("transaction %s %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return txn, nil
}

// GetUncategorized returns transactions with no category and no pending
// suggestion, oldest first.
func (s *SQLiteStorage) GetUncategorized(ctx context.Context, limit int) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1 // SQLite: negative LIMIT means no limit
	}

	query := fmt.Sprintf(`
		SELECT %s FROM transactions
		WHERE category_id IS NULL AND ml_suggested_category_id IS NULL
		ORDER BY date
		LIMIT ?
	`, transactionColumns)

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query uncategorized transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var transactions []model.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, *txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transaction iteration failed: %w", err)
	}

	return transactions, nil
}

func saveTransaction(ctx context.Context, db execer, txn *model.Transaction, ignoreDuplicates bool) error {
	conflict := `
		ON CONFLICT(id) DO UPDATE SET
			category_id = excluded.category_id,
			ml_confidence = excluded.ml_confidence,
			ml_suggested_category_id = excluded.ml_suggested_category_id,
			ml_confidence_explanation = excluded.ml_confidence_explanation,
			categorization_method = excluded.categorization_method,
			ml_correction_count = excluded.ml_correction_count`
	if ignoreDuplicates {
		conflict = ` ON CONFLICT(hash) DO NOTHING`
	}

	query := `
		INSERT INTO transactions (
			id, hash, date, name, merchant_name, account_id, amount,
			category_id, ml_confidence, ml_suggested_category_id,
			ml_confidence_explanation, categorization_method, ml_correction_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)` + conflict

	if _, err := db.ExecContext(ctx, query,
		txn.ID, txn.Hash, txn.Date, txn.Name, txn.MerchantName, txn.AccountID,
		txn.Amount, txn.CategoryID, txn.MLConfidence, txn.MLSuggestedCategoryID,
		nullableString(txn.MLConfidenceExplanation),
		nullableString(txn.CategorizationMethod),
		txn.MLCorrectionCount,
	); err != nil {
		return fmt.Errorf("failed to save transaction %s: %w", txn.ID, err)
	}

	return nil
}

func scanTransaction(row rowScanner) (*model.Transaction, error) {
	var t model.Transaction
	var merchantName, accountID, explanation, method sql.NullString
	var categoryID, suggestedID sql.NullInt64
	var confidence sql.NullFloat64

	if err := row.Scan(
		&t.ID, &t.Hash, &t.Date, &t.Name, &merchantName, &accountID,
		&t.Amount, &categoryID, &confidence, &suggestedID,
		&explanation, &method, &t.MLCorrectionCount,
	); err != nil {
		return nil, err
	}

	t.MerchantName = merchantName.String
	t.AccountID = accountID.String
	t.MLConfidenceExplanation = explanation.String
	t.CategorizationMethod = method.String

	if categoryID.Valid {
		id := int(categoryID.Int64)
		t.CategoryID = &id
	}
	if suggestedID.Valid {
		id := int(suggestedID.Int64)
		t.MLSuggestedCategoryID = &id
	}
	if confidence.Valid {
		c := confidence.Float64
		t.MLConfidence = &c
	}

	return &t, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
