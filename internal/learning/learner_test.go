package learning

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallyfin/tallyfin/internal/model"
	"github.com/tallyfin/tallyfin/internal/patterncache"
	"github.com/tallyfin/tallyfin/internal/service"
)

// mockStore is an in-memory pattern store whose transactions buffer writes
// until commit, so rollback behavior is observable. Like the SQLite store's
// single-connection pool, a transaction holds the store exclusively from
// BeginTx until it ends.
type mockStore struct {
	mu         sync.Mutex
	txMu       sync.Mutex
	patterns   map[string]model.Pattern
	events     []model.CorrectionEvent
	findErr    error
	txSaveErr  error
	txEventErr error
	beginDelay time.Duration
	rollbacks  int
}

func newMockStore(patterns ...model.Pattern) *mockStore {
	s := &mockStore{patterns: make(map[string]model.Pattern)}
	for _, p := range patterns {
		s.patterns[p.ID] = p
	}
	return s
}

func (s *mockStore) FindActivePatterns(_ context.Context, _ model.Signature) ([]model.Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	var out []model.Pattern
	for _, p := range s.patterns {
		if p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *mockStore) ListAllPatterns(_ context.Context) ([]model.Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Pattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		out = append(out, p)
	}
	return out, nil
}

func (s *mockStore) SavePattern(_ context.Context, pattern *model.Pattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patterns[pattern.ID] = *pattern
	return nil
}

func (s *mockStore) BeginTx(_ context.Context) (service.Tx, error) {
	if s.beginDelay > 0 {
		time.Sleep(s.beginDelay)
	}
	s.txMu.Lock()
	return &mockTx{store: s}, nil
}

func (s *mockStore) get(id string) (model.Pattern, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patterns[id]
	return p, ok
}

func (s *mockStore) byCategory(categoryID int) []model.Pattern {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Pattern
	for _, p := range s.patterns {
		if p.CategoryID == categoryID {
			out = append(out, p)
		}
	}
	return out
}

type mockTx struct {
	store  *mockStore
	saves  []model.Pattern
	events []model.CorrectionEvent
}

func (t *mockTx) FindActivePatterns(ctx context.Context, sig model.Signature) ([]model.Pattern, error) {
	return t.store.FindActivePatterns(ctx, sig)
}

func (t *mockTx) SavePattern(_ context.Context, pattern *model.Pattern) error {
	if t.store.txSaveErr != nil {
		return t.store.txSaveErr
	}
	t.saves = append(t.saves, *pattern)
	return nil
}

func (t *mockTx) AppendCorrectionEvent(_ context.Context, event *model.CorrectionEvent) error {
	if t.store.txEventErr != nil {
		return t.store.txEventErr
	}
	t.events = append(t.events, *event)
	return nil
}

func (t *mockTx) Commit() error {
	t.store.mu.Lock()
	for _, p := range t.saves {
		t.store.patterns[p.ID] = p
	}
	t.store.events = append(t.store.events, t.events...)
	t.store.mu.Unlock()
	t.store.txMu.Unlock()
	return nil
}

func (t *mockTx) Rollback() error {
	t.store.mu.Lock()
	t.store.rollbacks++
	t.store.mu.Unlock()
	t.store.txMu.Unlock()
	return nil
}

func newTestLearner(t *testing.T, store *mockStore) *Learner {
	t.Helper()
	learner, err := New(store, nil, DefaultConfig())
	require.NoError(t, err)
	return learner
}

func amazonTransaction() model.Transaction {
	return model.Transaction{
		ID:           "txn-amz",
		Date:         time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC),
		Name:         "AMAZON MARKETPLACE PMTS",
		MerchantName: "Amazon",
		Amount:       45.99,
		AccountID:    "acc-1",
	}
}

func intPtr(v int) *int { return &v }

func TestLearner_CorrectionWeakensWrongAndCreatesNew(t *testing.T) {
	// "amazon" was predicting Food (1); the user says Shopping (2).
	wrong := model.Pattern{
		ID:               "pat-amazon-food",
		Type:             model.PatternTypeMerchant,
		Value:            "amazon",
		CategoryID:       1,
		ConfidenceWeight: 2.0,
		UsageCount:       10,
		SuccessCount:     7,
		IsActive:         true,
		LastUpdated:      time.Now().Add(-24 * time.Hour),
	}
	store := newMockStore(wrong)
	learner := newTestLearner(t, store)

	result := learner.LearnFromCorrection(context.Background(), amazonTransaction(), 2, intPtr(1))
	require.True(t, result.Success, "error: %s", result.Error)
	assert.Equal(t, 1, result.PatternsWeakened)
	assert.Equal(t, 1, result.PatternsCreated)
	assert.Equal(t, 0, result.PatternsUpdated)

	weakened, ok := store.get("pat-amazon-food")
	require.True(t, ok)
	assert.Less(t, weakened.ConfidenceWeight, 2.0)
	assert.InDelta(t, 1.6, weakened.ConfidenceWeight, 1e-9)
	assert.Equal(t, 11, weakened.UsageCount)
	assert.Equal(t, 7, weakened.SuccessCount, "weakening must not award a success")
	rate, ok := weakened.SuccessRate()
	require.True(t, ok)
	assert.Less(t, rate, 0.7)

	created := store.byCategory(2)
	require.Len(t, created, 1)
	assert.GreaterOrEqual(t, created[0].ConfidenceWeight, 1.2,
		"correcting a wrong prediction starts above baseline weight")
	assert.Equal(t, 1, created[0].UsageCount)
	assert.Equal(t, 1, created[0].SuccessCount)
	assert.True(t, created[0].UserCreated)
	assert.True(t, created[0].IsActive)

	require.Len(t, store.events, 1)
	assert.Equal(t, "txn-amz", store.events[0].TransactionID)
	assert.Equal(t, 2, store.events[0].CorrectCategoryID)
}

func TestLearner_SameCategoryReinforcesWithoutWeakening(t *testing.T) {
	existing := model.Pattern{
		ID:               "pat-amazon-shop",
		Type:             model.PatternTypeMerchant,
		Value:            "amazon",
		CategoryID:       2,
		ConfidenceWeight: 1.0,
		UsageCount:       4,
		SuccessCount:     4,
		IsActive:         true,
	}
	store := newMockStore(existing)
	learner := newTestLearner(t, store)

	result := learner.LearnFromCorrection(context.Background(), amazonTransaction(), 2, intPtr(2))
	require.True(t, result.Success, "error: %s", result.Error)
	assert.Equal(t, 0, result.PatternsWeakened)
	assert.Equal(t, 0, result.PatternsCreated)
	assert.Equal(t, 1, result.PatternsUpdated)

	reinforced, ok := store.get("pat-amazon-shop")
	require.True(t, ok)
	assert.Equal(t, 5, reinforced.UsageCount)
	assert.Equal(t, 5, reinforced.SuccessCount)
	assert.InDelta(t, 1.15, reinforced.ConfidenceWeight, 1e-9)
	require.NotNil(t, reinforced.Metadata)
	require.NotNil(t, reinforced.Metadata.AmountStats)
	assert.Equal(t, 1, reinforced.Metadata.AmountStats.Count)
}

func TestLearner_WeightCapBoundsReinforcement(t *testing.T) {
	existing := model.Pattern{
		ID:               "pat-capped",
		Type:             model.PatternTypeMerchant,
		Value:            "amazon",
		CategoryID:       2,
		ConfidenceWeight: 4.9,
		UsageCount:       50,
		SuccessCount:     48,
		IsActive:         true,
	}
	store := newMockStore(existing)
	learner := newTestLearner(t, store)

	result := learner.LearnFromCorrection(context.Background(), amazonTransaction(), 2, nil)
	require.True(t, result.Success)

	capped, ok := store.get("pat-capped")
	require.True(t, ok)
	assert.InDelta(t, 5.0, capped.ConfidenceWeight, 1e-9)
}

func TestLearner_DissimilarPatternNotWeakened(t *testing.T) {
	unrelated := model.Pattern{
		ID:               "pat-grocer",
		Type:             model.PatternTypeMerchant,
		Value:            "whole foods market",
		CategoryID:       1,
		ConfidenceWeight: 1.5,
		UsageCount:       8,
		SuccessCount:     8,
		IsActive:         true,
	}
	store := newMockStore(unrelated)
	learner := newTestLearner(t, store)

	result := learner.LearnFromCorrection(context.Background(), amazonTransaction(), 2, intPtr(1))
	require.True(t, result.Success)
	assert.Equal(t, 0, result.PatternsWeakened)

	untouched, ok := store.get("pat-grocer")
	require.True(t, ok)
	assert.InDelta(t, 1.5, untouched.ConfidenceWeight, 1e-9)
	assert.Equal(t, 8, untouched.UsageCount)
}

func TestLearner_InvalidInput(t *testing.T) {
	store := newMockStore()
	learner := newTestLearner(t, store)
	ctx := context.Background()

	t.Run("missing category", func(t *testing.T) {
		result := learner.LearnFromCorrection(ctx, amazonTransaction(), 0, nil)
		assert.False(t, result.Success)
		assert.NotEmpty(t, result.Error)
	})

	t.Run("no matchable text", func(t *testing.T) {
		result := learner.LearnFromCorrection(ctx, model.Transaction{ID: "t"}, 2, nil)
		assert.False(t, result.Success)
	})
}

func TestLearner_ConcurrentCorrectionsLoseNoCounterUpdates(t *testing.T) {
	existing := model.Pattern{
		ID:               "pat-amazon-shop",
		Type:             model.PatternTypeMerchant,
		Value:            "amazon",
		CategoryID:       2,
		ConfidenceWeight: 1.0,
		UsageCount:       10,
		SuccessCount:     10,
		IsActive:         true,
	}
	store := newMockStore(existing)
	// Latency before the transaction acquires the store, so overlapping
	// corrections would all read the same snapshot if reads happened
	// outside the transaction.
	store.beginDelay = 2 * time.Millisecond
	learner := newTestLearner(t, store)

	const workers = 20
	results := make([]model.LearningResult, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = learner.LearnFromCorrection(context.Background(), amazonTransaction(), 2, nil)
		}(i)
	}
	wg.Wait()

	for i, r := range results {
		require.True(t, r.Success, "correction %d: %s", i, r.Error)
		assert.Equal(t, 1, r.PatternsUpdated)
	}

	// Every increment must land; overlapping read-modify-writes must not
	// overwrite each other.
	final, ok := store.get("pat-amazon-shop")
	require.True(t, ok)
	assert.Equal(t, 30, final.UsageCount)
	assert.Equal(t, 30, final.SuccessCount)
	assert.InDelta(t, 5.0, final.ConfidenceWeight, 1e-9, "weight reinforced to the cap")
	assert.Len(t, store.byCategory(2), 1, "no duplicate pattern created")
	assert.Len(t, store.events, workers)
}

func TestLearner_CorrectionInvalidatesSiblingSignatures(t *testing.T) {
	existing := model.Pattern{
		ID:               "pat-amazon-shop",
		Type:             model.PatternTypeMerchant,
		Value:            "amazon",
		CategoryID:       2,
		ConfidenceWeight: 1.0,
		UsageCount:       4,
		SuccessCount:     4,
		IsActive:         true,
	}
	store := newMockStore(existing)
	cache, err := patterncache.New(store, 16)
	require.NoError(t, err)
	learner, err := New(store, cache, DefaultConfig())
	require.NoError(t, err)
	ctx := context.Background()

	// A sibling signature: same merchant, different amount bucket.
	sibling := amazonTransaction()
	sibling.ID = "txn-amz-big"
	sibling.Amount = 450.99

	warm, err := cache.GetCandidates(ctx, sibling)
	require.NoError(t, err)
	require.Len(t, warm, 1)
	require.InDelta(t, 1.0, warm[0].ConfidenceWeight, 1e-9)

	result := learner.LearnFromCorrection(ctx, amazonTransaction(), 2, nil)
	require.True(t, result.Success, "error: %s", result.Error)

	// The sibling's cache entry must not keep serving the pre-correction
	// weight.
	after, err := cache.GetCandidates(ctx, sibling)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.InDelta(t, 1.15, after[0].ConfidenceWeight, 1e-9)
	assert.Equal(t, 5, after[0].UsageCount)
}

func TestLearner_EventFailureRollsBackEverything(t *testing.T) {
	existing := model.Pattern{
		ID:               "pat-amazon-food",
		Type:             model.PatternTypeMerchant,
		Value:            "amazon",
		CategoryID:       1,
		ConfidenceWeight: 2.0,
		UsageCount:       10,
		SuccessCount:     7,
		IsActive:         true,
	}
	store := newMockStore(existing)
	store.txEventErr = errors.New("events table unavailable")
	learner := newTestLearner(t, store)

	result := learner.LearnFromCorrection(context.Background(), amazonTransaction(), 2, intPtr(1))
	assert.False(t, result.Success)
	assert.Equal(t, 1, store.rollbacks)

	// Pattern mutations and events must not have landed.
	unchanged, ok := store.get("pat-amazon-food")
	require.True(t, ok)
	assert.InDelta(t, 2.0, unchanged.ConfidenceWeight, 1e-9)
	assert.Equal(t, 10, unchanged.UsageCount)
	assert.Empty(t, store.byCategory(2))
	assert.Empty(t, store.events)
}

func TestLearner_BatchLearn(t *testing.T) {
	t.Run("empty batch", func(t *testing.T) {
		store := newMockStore()
		learner := newTestLearner(t, store)
		result := learner.BatchLearn(context.Background(), nil)
		assert.Equal(t, 0, result.Total)
		assert.Equal(t, 0, result.Successful)
		assert.Equal(t, 0, result.Failed)
	})

	t.Run("mixed outcomes keep the totals invariant", func(t *testing.T) {
		store := newMockStore()
		learner := newTestLearner(t, store)

		corrections := []model.Correction{
			{Transaction: amazonTransaction(), CorrectCategoryID: 2},
			{Transaction: model.Transaction{ID: "bad"}, CorrectCategoryID: 2}, // no text
			{Transaction: amazonTransaction(), CorrectCategoryID: 2},
		}

		result := learner.BatchLearn(context.Background(), corrections)
		assert.Equal(t, 3, result.Total)
		assert.Equal(t, 2, result.Successful)
		assert.Equal(t, 1, result.Failed)
		assert.Equal(t, result.Total, result.Successful+result.Failed)
		// The second identical correction reinforces the pattern the first
		// one created.
		assert.Equal(t, 1, result.PatternsCreated)
	})

	t.Run("store failure fails the group", func(t *testing.T) {
		store := newMockStore()
		store.findErr = errors.New("db gone")
		learner := newTestLearner(t, store)

		result := learner.BatchLearn(context.Background(), []model.Correction{
			{Transaction: amazonTransaction(), CorrectCategoryID: 2},
		})
		assert.Equal(t, 1, result.Total)
		assert.Equal(t, 1, result.Failed)
	})
}

func TestLearner_DecayUnusedPatterns(t *testing.T) {
	now := time.Now()
	stale := model.Pattern{
		ID: "pat-stale", Type: model.PatternTypeMerchant, Value: "old merchant",
		CategoryID: 1, ConfidenceWeight: 2.0, IsActive: true,
		LastUpdated: now.Add(-120 * 24 * time.Hour),
	}
	fresh := model.Pattern{
		ID: "pat-fresh", Type: model.PatternTypeMerchant, Value: "new merchant",
		CategoryID: 1, ConfidenceWeight: 2.0, IsActive: true,
		LastUpdated: now.Add(-time.Hour),
	}
	inactive := model.Pattern{
		ID: "pat-dead", Type: model.PatternTypeMerchant, Value: "dead merchant",
		CategoryID: 1, ConfidenceWeight: 2.0, IsActive: false,
		LastUpdated: now.Add(-120 * 24 * time.Hour),
	}
	store := newMockStore(stale, fresh, inactive)
	learner := newTestLearner(t, store)

	result, err := learner.DecayUnusedPatterns(context.Background(), 90*24*time.Hour, 0.9)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Examined, "inactive patterns are not examined")
	assert.Equal(t, 1, result.Decayed)

	decayed, _ := store.get("pat-stale")
	assert.InDelta(t, 1.8, decayed.ConfidenceWeight, 1e-3)
	assert.Equal(t, stale.LastUpdated, decayed.LastUpdated,
		"decay must not refresh the inactivity clock")

	untouched, _ := store.get("pat-fresh")
	assert.InDelta(t, 2.0, untouched.ConfidenceWeight, 1e-9)

	dead, _ := store.get("pat-dead")
	assert.InDelta(t, 2.0, dead.ConfidenceWeight, 1e-9)
}

func TestLearner_DecayRepeatsWhileUnused(t *testing.T) {
	stale := model.Pattern{
		ID: "pat-stale", Type: model.PatternTypeMerchant, Value: "old merchant",
		CategoryID: 1, ConfidenceWeight: 2.0, IsActive: true,
		LastUpdated: time.Now().Add(-120 * 24 * time.Hour),
	}
	store := newMockStore(stale)
	learner := newTestLearner(t, store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := learner.DecayUnusedPatterns(ctx, 90*24*time.Hour, 0.9)
		require.NoError(t, err)
	}

	decayed, _ := store.get("pat-stale")
	assert.InDelta(t, 2.0*0.9*0.9*0.9, decayed.ConfidenceWeight, 1e-3)
}

func TestLearner_MergeDuplicates(t *testing.T) {
	a := model.Pattern{
		ID: "pat-a", Type: model.PatternTypeMerchant, Value: "starbucks store",
		CategoryID: 1, ConfidenceWeight: 2.0, UsageCount: 10, SuccessCount: 9,
		IsActive: true,
	}
	b := model.Pattern{
		ID: "pat-b", Type: model.PatternTypeMerchant, Value: "starbucks stores",
		CategoryID: 1, ConfidenceWeight: 1.0, UsageCount: 2, SuccessCount: 2,
		IsActive: true,
	}
	other := model.Pattern{
		ID: "pat-c", Type: model.PatternTypeMerchant, Value: "home depot",
		CategoryID: 1, ConfidenceWeight: 1.0, UsageCount: 3, SuccessCount: 3,
		IsActive: true,
	}
	store := newMockStore(a, b, other)
	learner := newTestLearner(t, store)

	merged, err := learner.MergeDuplicates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, merged)

	survivor, _ := store.get("pat-a")
	assert.True(t, survivor.IsActive)
	assert.Equal(t, 12, survivor.UsageCount)
	assert.Equal(t, 11, survivor.SuccessCount)
	// Usage-weighted average stays within the bounds of the two weights.
	assert.GreaterOrEqual(t, survivor.ConfidenceWeight, 1.0)
	assert.LessOrEqual(t, survivor.ConfidenceWeight, 2.0)
	assert.InDelta(t, (2.0*10+1.0*2)/12.0, survivor.ConfidenceWeight, 1e-9)

	dup, _ := store.get("pat-b")
	assert.False(t, dup.IsActive)

	untouched, _ := store.get("pat-c")
	assert.True(t, untouched.IsActive)
	assert.Equal(t, 3, untouched.UsageCount)
}

func TestLearner_MergeRespectsCategoryBoundary(t *testing.T) {
	a := model.Pattern{
		ID: "pat-a", Type: model.PatternTypeMerchant, Value: "starbucks",
		CategoryID: 1, ConfidenceWeight: 1.0, UsageCount: 5, SuccessCount: 5,
		IsActive: true,
	}
	b := model.Pattern{
		ID: "pat-b", Type: model.PatternTypeMerchant, Value: "starbucks",
		CategoryID: 2, ConfidenceWeight: 1.0, UsageCount: 5, SuccessCount: 5,
		IsActive: true,
	}
	store := newMockStore(a, b)
	learner := newTestLearner(t, store)

	merged, err := learner.MergeDuplicates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, merged, "different categories never merge")
}
