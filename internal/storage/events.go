package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/tallyfin/tallyfin/internal/model"
)

// AppendCorrectionEvent records one correction in the append-only audit
// log.
func (s *SQLiteStorage) AppendCorrectionEvent(ctx context.Context, event *model.CorrectionEvent) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateCorrectionEvent(event); err != nil {
		return err
	}
	return appendCorrectionEvent(ctx, s.db, event)
}

// CountCorrectionEvents returns the total number of recorded corrections.
func (s *SQLiteStorage) CountCorrectionEvents(ctx context.Context) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM correction_events`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count correction events: %w", err)
	}
	return count, nil
}

func appendCorrectionEvent(ctx context.Context, db execer, event *model.CorrectionEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO correction_events (
			id, transaction_id, correct_category_id, predicted_category_id, created_at
		) VALUES (?, ?, ?, ?, ?)
	`, event.ID, event.TransactionID, event.CorrectCategoryID,
		event.PredictedCategoryID, event.CreatedAt,
	); err != nil {
		return fmt.Errorf("failed to append correction event: %w", err)
	}

	return nil
}
