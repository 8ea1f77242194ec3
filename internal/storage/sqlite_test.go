package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyfin/tallyfin/internal/common"
	"github.com/tallyfin/tallyfin/internal/model"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedCategory(t *testing.T, store *SQLiteStorage, name string) *model.Category {
	t.Helper()
	category, err := store.CreateCategory(context.Background(), name, "")
	require.NoError(t, err)
	return category
}

func testPattern(categoryID int, value string) model.Pattern {
	now := time.Now().UTC().Truncate(time.Second)
	return model.Pattern{
		ID:               "pat-" + value,
		Type:             model.PatternTypeMerchant,
		Value:            value,
		CategoryID:       categoryID,
		ConfidenceWeight: 1.5,
		UsageCount:       10,
		SuccessCount:     8,
		IsActive:         true,
		UserCreated:      true,
		CreatedAt:        now,
		LastUpdated:      now,
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	store := newTestStorage(t)
	require.NoError(t, store.Migrate(context.Background()))
}

func TestPatternRoundtrip(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	category := seedCategory(t, store, "Coffee")

	pattern := testPattern(category.ID, "starbucks")
	pattern.Metadata = &model.PatternMetadata{
		AmountStats:   &model.AmountStats{Count: 10, Mean: 5.75, StdDev: 1.2},
		TemporalStats: &model.TemporalStats{HourDistribution: map[int]int{9: 7, 14: 3}},
	}
	require.NoError(t, store.SavePattern(ctx, &pattern))

	got, err := store.GetPattern(ctx, pattern.ID)
	require.NoError(t, err)
	assert.Equal(t, pattern.Value, got.Value)
	assert.Equal(t, pattern.Type, got.Type)
	assert.Equal(t, pattern.CategoryID, got.CategoryID)
	assert.InDelta(t, 1.5, got.ConfidenceWeight, 1e-9)
	assert.Equal(t, 10, got.UsageCount)
	assert.Equal(t, 8, got.SuccessCount)
	assert.True(t, got.IsActive)
	assert.True(t, got.UserCreated)

	require.NotNil(t, got.Metadata)
	require.NotNil(t, got.Metadata.AmountStats)
	assert.InDelta(t, 5.75, got.Metadata.AmountStats.Mean, 1e-9)
	require.NotNil(t, got.Metadata.TemporalStats)
	assert.Equal(t, 7, got.Metadata.TemporalStats.HourDistribution[9])
}

func TestSavePattern_Upsert(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	category := seedCategory(t, store, "Coffee")

	pattern := testPattern(category.ID, "starbucks")
	require.NoError(t, store.SavePattern(ctx, &pattern))

	pattern.ConfidenceWeight = 2.5
	pattern.UsageCount = 11
	require.NoError(t, store.SavePattern(ctx, &pattern))

	got, err := store.GetPattern(ctx, pattern.ID)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, got.ConfidenceWeight, 1e-9)
	assert.Equal(t, 11, got.UsageCount)

	all, err := store.ListAllPatterns(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSavePattern_Validation(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	invalid := testPattern(1, "")
	assert.Error(t, store.SavePattern(ctx, &invalid))

	badCounts := testPattern(1, "starbucks")
	badCounts.SuccessCount = badCounts.UsageCount + 1
	assert.Error(t, store.SavePattern(ctx, &badCounts))
}

func TestGetPattern_NotFound(t *testing.T) {
	store := newTestStorage(t)
	_, err := store.GetPattern(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrPatternNotFound)
}

func TestCorruptMetadataDropsStatsNotPattern(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	category := seedCategory(t, store, "Coffee")

	pattern := testPattern(category.ID, "starbucks")
	require.NoError(t, store.SavePattern(ctx, &pattern))

	_, err := store.db.ExecContext(ctx,
		`UPDATE patterns SET metadata = '{not json' WHERE id = ?`, pattern.ID)
	require.NoError(t, err)

	got, err := store.GetPattern(ctx, pattern.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Metadata)
	assert.Equal(t, pattern.Value, got.Value)
}

func TestFindActivePatterns(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	coffee := seedCategory(t, store, "Coffee")
	shopping := seedCategory(t, store, "Shopping")

	starbucks := testPattern(coffee.ID, "starbucks")
	amazon := testPattern(shopping.ID, "amazon")
	inactive := testPattern(coffee.ID, "starbucks reserve")
	inactive.ID = "pat-inactive"
	inactive.IsActive = false
	timePattern := testPattern(coffee.ID, "morning coffee")
	timePattern.ID = "pat-time"
	timePattern.Type = model.PatternTypeTime

	for _, p := range []*model.Pattern{&starbucks, &amazon, &inactive, &timePattern} {
		require.NoError(t, store.SavePattern(ctx, p))
	}

	sig := model.NewSignature(model.Transaction{
		ID:           "t1",
		Date:         time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		Name:         "STARBUCKS STORE #123",
		MerchantName: "Starbucks",
		Amount:       5.75,
	})

	found, err := store.FindActivePatterns(ctx, sig)
	require.NoError(t, err)

	ids := make(map[string]bool, len(found))
	for _, p := range found {
		ids[p.ID] = true
	}
	assert.True(t, ids[starbucks.ID], "merchant pattern matching the token")
	assert.True(t, ids[timePattern.ID], "time patterns always come back")
	assert.False(t, ids[amazon.ID], "unrelated merchant excluded")
	assert.False(t, ids["pat-inactive"], "inactive patterns excluded")
}

func TestTxAtomicity(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	category := seedCategory(t, store, "Coffee")

	t.Run("rollback discards everything", func(t *testing.T) {
		tx, err := store.BeginTx(ctx)
		require.NoError(t, err)

		pattern := testPattern(category.ID, "starbucks")
		require.NoError(t, tx.SavePattern(ctx, &pattern))
		require.NoError(t, tx.AppendCorrectionEvent(ctx, &model.CorrectionEvent{
			ID:                "evt-1",
			TransactionID:     "txn-1",
			CorrectCategoryID: category.ID,
		}))
		require.NoError(t, tx.Rollback())

		_, err = store.GetPattern(ctx, pattern.ID)
		assert.ErrorIs(t, err, ErrPatternNotFound)

		count, err := store.CountCorrectionEvents(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})

	t.Run("commit persists everything", func(t *testing.T) {
		tx, err := store.BeginTx(ctx)
		require.NoError(t, err)

		pattern := testPattern(category.ID, "peets")
		require.NoError(t, tx.SavePattern(ctx, &pattern))
		predicted := 99
		require.NoError(t, tx.AppendCorrectionEvent(ctx, &model.CorrectionEvent{
			ID:                  "evt-2",
			TransactionID:       "txn-2",
			CorrectCategoryID:   category.ID,
			PredictedCategoryID: &predicted,
		}))
		require.NoError(t, tx.Commit())

		got, err := store.GetPattern(ctx, pattern.ID)
		require.NoError(t, err)
		assert.Equal(t, "peets", got.Value)

		count, err := store.CountCorrectionEvents(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("reads go through the open transaction", func(t *testing.T) {
		tx, err := store.BeginTx(ctx)
		require.NoError(t, err)

		pattern := testPattern(category.ID, "philz")
		require.NoError(t, tx.SavePattern(ctx, &pattern))

		sig := model.NewSignature(model.Transaction{
			ID:           "txn-3",
			Date:         time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
			Name:         "PHILZ COFFEE",
			MerchantName: "Philz Coffee",
			Amount:       6.25,
		})
		found, err := tx.FindActivePatterns(ctx, sig)
		require.NoError(t, err)

		ids := make(map[string]bool, len(found))
		for _, p := range found {
			ids[p.ID] = true
		}
		assert.True(t, ids[pattern.ID], "the uncommitted write is visible inside the transaction")

		require.NoError(t, tx.Rollback())
	})
}

func TestCategories(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	coffee, err := store.CreateCategory(ctx, "Coffee", "Caffeine habit")
	require.NoError(t, err)
	assert.Greater(t, coffee.ID, 0)

	_, err = store.CreateCategory(ctx, "Coffee", "duplicate")
	assert.ErrorIs(t, err, common.ErrDuplicateEntry, "category names are unique")

	byName, err := store.GetCategoryByName(ctx, "Coffee")
	require.NoError(t, err)
	assert.Equal(t, coffee.ID, byName.ID)

	byID, err := store.GetCategoryByID(ctx, coffee.ID)
	require.NoError(t, err)
	assert.Equal(t, "Coffee", byID.Name)
	assert.Equal(t, "Caffeine habit", byID.Description)

	_, err = store.GetCategoryByID(ctx, 9999)
	assert.ErrorIs(t, err, ErrCategoryNotFound)
	assert.ErrorIs(t, err, common.ErrNotFound)

	all, err := store.GetCategories(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func testTransaction(id, hash string) model.Transaction {
	return model.Transaction{
		ID:           id,
		Hash:         hash,
		Date:         time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		Name:         "STARBUCKS STORE #123",
		MerchantName: "Starbucks",
		Amount:       5.75,
		AccountID:    "acc-1",
	}
}

func TestTransactions(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	t.Run("batch save dedupes on hash", func(t *testing.T) {
		batch := []model.Transaction{
			testTransaction("t1", "hash-1"),
			testTransaction("t2", "hash-2"),
		}
		require.NoError(t, store.SaveTransactions(ctx, batch))

		// Same hash under a different ID is a duplicate import.
		require.NoError(t, store.SaveTransactions(ctx, []model.Transaction{
			testTransaction("t3", "hash-1"),
		}))

		uncategorized, err := store.GetUncategorized(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, uncategorized, 2)
	})

	t.Run("ML fields roundtrip", func(t *testing.T) {
		txn := testTransaction("t10", "hash-10")
		categoryID := 4
		confidence := 0.87
		txn.CategoryID = &categoryID
		txn.MLConfidence = &confidence
		txn.MLConfidenceExplanation = "Matched on pattern match strength 95%"
		txn.CategorizationMethod = model.MethodFuzzyPattern
		txn.MLCorrectionCount = 2
		require.NoError(t, store.SaveTransaction(ctx, &txn))

		got, err := store.GetTransactionByID(ctx, "t10")
		require.NoError(t, err)
		require.NotNil(t, got.CategoryID)
		assert.Equal(t, 4, *got.CategoryID)
		require.NotNil(t, got.MLConfidence)
		assert.InDelta(t, 0.87, *got.MLConfidence, 1e-9)
		assert.Equal(t, model.MethodFuzzyPattern, got.CategorizationMethod)
		assert.Equal(t, 2, got.MLCorrectionCount)
		assert.Nil(t, got.MLSuggestedCategoryID)
	})

	t.Run("uncategorized excludes assigned transactions", func(t *testing.T) {
		uncategorized, err := store.GetUncategorized(ctx, 0)
		require.NoError(t, err)
		for _, txn := range uncategorized {
			assert.Nil(t, txn.CategoryID)
		}
	})

	t.Run("limit bounds the result", func(t *testing.T) {
		uncategorized, err := store.GetUncategorized(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, uncategorized, 1)
	})

	t.Run("missing transaction", func(t *testing.T) {
		_, err := store.GetTransactionByID(ctx, "missing")
		assert.ErrorIs(t, err, common.ErrNotFound)
	})
}
