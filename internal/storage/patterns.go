package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tallyfin/tallyfin/internal/model"
)

const patternColumns = `id, type, value, category_id, confidence_weight,
	usage_count, success_count, metadata, is_active, user_created,
	created_at, last_updated`

// FindActivePatterns returns the active patterns whose values relate to the
// signature: merchant and keyword patterns containing the merchant token or
// a keyword, plus all active amount and time patterns for the signature's
// category candidates. Results come back in insertion order so downstream
// tie-breaking is stable.
func (s *SQLiteStorage) FindActivePatterns(ctx context.Context, sig model.Signature) ([]model.Pattern, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return findActivePatterns(ctx, s.db, sig)
}

func findActivePatterns(ctx context.Context, db execer, sig model.Signature) ([]model.Pattern, error) {
	var conditions []string
	var args []any

	if sig.MerchantToken != "" {
		conditions = append(conditions, `value LIKE ?`)
		args = append(args, "%"+sig.MerchantToken+"%")
	}
	for _, kw := range sig.Keywords {
		conditions = append(conditions, `value LIKE ?`)
		args = append(args, "%"+kw+"%")
	}

	textMatch := "0"
	if len(conditions) > 0 {
		textMatch = "(" + strings.Join(conditions, " OR ") + ")"
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM patterns
		WHERE is_active = 1
		  AND (
			(type IN ('merchant', 'keyword') AND %s)
			OR type IN ('amount_range', 'time')
		  )
		ORDER BY created_at, id
	`, patternColumns, textMatch)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query patterns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanPatterns(rows)
}

// ListAllPatterns returns every pattern, active or not, in insertion order.
func (s *SQLiteStorage) ListAllPatterns(ctx context.Context) ([]model.Pattern, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT %s FROM patterns ORDER BY created_at, id`, patternColumns)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query patterns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanPatterns(rows)
}

// SavePattern upserts a pattern by ID.
func (s *SQLiteStorage) SavePattern(ctx context.Context, pattern *model.Pattern) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validatePattern(pattern); err != nil {
		return err
	}
	return savePattern(ctx, s.db, pattern)
}

// GetPattern retrieves a single pattern by ID.
func (s *SQLiteStorage) GetPattern(ctx context.Context, id string) (*model.Pattern, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT %s FROM patterns WHERE id = ?`, patternColumns)
	row := s.db.QueryRowContext(ctx, query, id)

	pattern, err := scanPattern(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrPatternNotFound
		}
		return nil, fmt.Errorf("failed to get pattern: %w", err)
	}
	return pattern, nil
}

func savePattern(ctx context.Context, db execer, pattern *model.Pattern) error {
	metadata, err := pattern.MetadataJSON()
	if err != nil {
		return err
	}

	if pattern.CreatedAt.IsZero() {
		pattern.CreatedAt = time.Now()
	}
	if pattern.LastUpdated.IsZero() {
		pattern.LastUpdated = pattern.CreatedAt
	}

	query := `
		INSERT INTO patterns (
			id, type, value, category_id, confidence_weight,
			usage_count, success_count, metadata, is_active, user_created,
			created_at, last_updated
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			value = excluded.value,
			category_id = excluded.category_id,
			confidence_weight = excluded.confidence_weight,
			usage_count = excluded.usage_count,
			success_count = excluded.success_count,
			metadata = excluded.metadata,
			is_active = excluded.is_active,
			user_created = excluded.user_created,
			last_updated = excluded.last_updated
	`

	var metadataArg any
	if metadata != nil {
		metadataArg = string(metadata)
	}

	if _, err := db.ExecContext(ctx, query,
		pattern.ID, string(pattern.Type), pattern.Value, pattern.CategoryID,
		pattern.ConfidenceWeight, pattern.UsageCount, pattern.SuccessCount,
		metadataArg, pattern.IsActive, pattern.UserCreated,
		pattern.CreatedAt, pattern.LastUpdated,
	); err != nil {
		return fmt.Errorf("failed to save pattern: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPattern(row rowScanner) (*model.Pattern, error) {
	var p model.Pattern
	var patternType string
	var metadata sql.NullString

	if err := row.Scan(
		&p.ID, &patternType, &p.Value, &p.CategoryID, &p.ConfidenceWeight,
		&p.UsageCount, &p.SuccessCount, &metadata, &p.IsActive, &p.UserCreated,
		&p.CreatedAt, &p.LastUpdated,
	); err != nil {
		return nil, err
	}

	p.Type = model.PatternType(patternType)

	if metadata.Valid {
		meta, err := model.ParseMetadata([]byte(metadata.String))
		if err != nil {
			// Corrupt metadata drops the stats, never the pattern.
			slog.Warn("Dropping corrupt pattern metadata",
				"pattern_id", p.ID,
				"error", err)
		} else {
			p.Metadata = meta
		}
	}

	return &p, nil
}

func scanPatterns(rows *sql.Rows) ([]model.Pattern, error) {
	var patterns []model.Pattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pattern: %w", err)
		}
		patterns = append(patterns, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pattern iteration failed: %w", err)
	}
	return patterns, nil
}
