// Package patterncache maintains a bounded, thread-safe index of active
// patterns keyed by transaction signature, backed by the pattern store as
// the source of truth.
package patterncache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tallyfin/tallyfin/internal/common"
	"github.com/tallyfin/tallyfin/internal/model"
	"github.com/tallyfin/tallyfin/internal/service"
)

// DefaultCapacity bounds the number of cached signatures.
const DefaultCapacity = 1024

// Cache is an LRU map from signature keys to candidate pattern sets. Two
// reverse indexes track which keys hold which pattern IDs and merchant
// tokens, so a mutation can invalidate every signature a pattern appears
// under, not just the one that triggered it.
type Cache struct {
	store service.PatternStore

	mu        sync.Mutex
	lru       *lru.Cache[string, []model.Pattern]
	byPattern map[string]map[string]struct{}
	byToken   map[string]map[string]struct{}
}

// New creates a cache over the given pattern store.
func New(store service.PatternStore, capacity int) (*Cache, error) {
	if store == nil {
		return nil, fmt.Errorf("pattern store is required")
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	c := &Cache{
		store:     store,
		byPattern: make(map[string]map[string]struct{}),
		byToken:   make(map[string]map[string]struct{}),
	}
	cache, err := lru.NewWithEvict[string, []model.Pattern](capacity, c.unindex)
	if err != nil {
		return nil, fmt.Errorf("failed to create pattern cache: %w", err)
	}
	c.lru = cache

	return c, nil
}

// GetCandidates returns the active patterns matching the transaction's
// signature, consulting the store on a miss.
func (c *Cache) GetCandidates(ctx context.Context, txn model.Transaction) ([]model.Pattern, error) {
	sig := model.NewSignature(txn)
	key := sig.Key()

	c.mu.Lock()
	if patterns, ok := c.lru.Get(key); ok {
		c.mu.Unlock()
		return patterns, nil
	}
	c.mu.Unlock()

	patterns, err := c.store.FindActivePatterns(ctx, sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrStoreUnavailable, err)
	}

	c.mu.Lock()
	// Replace any entry a concurrent miss raced in so the indexes track
	// exactly one value per key.
	c.lru.Remove(key)
	c.lru.Add(key, patterns)
	c.index(key, sig.MerchantToken, patterns)
	c.mu.Unlock()

	slog.Debug("Pattern cache miss",
		"signature", key,
		"candidates", len(patterns))

	return patterns, nil
}

// Invalidate drops the cached candidates for one signature.
func (c *Cache) Invalidate(sig model.Signature) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(sig.Key())
}

// InvalidatePatterns drops every cached signature whose candidate set
// contains any of the given patterns. Called by the learner after
// weakening or reinforcing, so sibling signatures never serve the
// pre-mutation counters.
func (c *Cache) InvalidatePatterns(patternIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range patternIDs {
		for _, key := range keysOf(c.byPattern[id]) {
			c.lru.Remove(key)
		}
	}
}

// InvalidateMerchant drops every cached signature sharing the merchant
// token. Called when a freshly created pattern would be a candidate for
// signatures cached before it existed.
func (c *Cache) InvalidateMerchant(token string) {
	if token == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keysOf(c.byToken[token]) {
		c.lru.Remove(key)
	}
}

// Clear drops every cached entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Len returns the number of cached signatures.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// index must be called with mu held.
func (c *Cache) index(key, token string, patterns []model.Pattern) {
	if token != "" {
		addKey(c.byToken, token, key)
	}
	for i := range patterns {
		addKey(c.byPattern, patterns[i].ID, key)
	}
}

// unindex runs as the LRU eviction callback, always under mu because every
// evicting operation holds it.
func (c *Cache) unindex(key string, patterns []model.Pattern) {
	token, _, _ := strings.Cut(key, "|")
	dropKey(c.byToken, token, key)
	for i := range patterns {
		dropKey(c.byPattern, patterns[i].ID, key)
	}
}

func addKey(index map[string]map[string]struct{}, id, key string) {
	keys := index[id]
	if keys == nil {
		keys = make(map[string]struct{})
		index[id] = keys
	}
	keys[key] = struct{}{}
}

func dropKey(index map[string]map[string]struct{}, id, key string) {
	keys := index[id]
	if keys == nil {
		return
	}
	delete(keys, key)
	if len(keys) == 0 {
		delete(index, id)
	}
}

func keysOf(keys map[string]struct{}) []string {
	out := make([]string, 0, len(keys))
	for key := range keys {
		out = append(out, key)
	}
	return out
}
