package checkout

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

const defaultQuoteTTL = 5 * time.Minute

// PriceCalculationCache memoizes calculated shipping quotes so that re-renders
// of the shipping step do not re-issue a burst of quote calls. Keys encode the
// cart id plus the exact set of calculated option ids, so any change to either
// produces a fresh key and the stale entry simply ages out.
type PriceCalculationCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	clock   func() time.Time
	entries map[string]quoteEntry
}

type quoteEntry struct {
	cartID   string
	amounts  map[string]int64
	storedAt time.Time
}

// PriceCacheDeps configures a PriceCalculationCache.
type PriceCacheDeps struct {
	// TTL bounds entry freshness; defaults to five minutes.
	TTL time.Duration
	// Clock supplies current time and defaults to time.Now (UTC normalized).
	Clock func() time.Time
}

// NewPriceCalculationCache constructs the cache.
func NewPriceCalculationCache(deps PriceCacheDeps) *PriceCalculationCache {
	ttl := deps.TTL
	if ttl <= 0 {
		ttl = defaultQuoteTTL
	}
	clock := deps.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &PriceCalculationCache{
		ttl:     ttl,
		clock:   clock,
		entries: make(map[string]quoteEntry),
	}
}

// QuoteKey derives the deterministic cache key for a batch of calculated
// options against one cart. Option ids are sorted so ordering never changes
// the key.
func QuoteKey(cartID string, optionIDs []string) string {
	ids := make([]string, 0, len(optionIDs))
	for _, id := range optionIDs {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}
	sort.Strings(ids)
	sum := sha256.Sum256([]byte(strings.TrimSpace(cartID) + "|" + strings.Join(ids, ",")))
	return hex.EncodeToString(sum[:])
}

// GetOrCompute returns the cached quote batch for the cart/options pair, or
// invokes compute and stores the result. A compute that fails for any option
// writes nothing, so the next render retries the whole batch.
func (c *PriceCalculationCache) GetOrCompute(ctx context.Context, cartID string, optionIDs []string, compute func(context.Context, []string) (map[string]int64, error)) (map[string]int64, error) {
	if c == nil {
		return nil, errors.New("checkout: price cache not initialised")
	}
	key := QuoteKey(cartID, optionIDs)
	if amounts, ok := c.lookup(key); ok {
		return amounts, nil
	}
	if compute == nil {
		return nil, errors.New("checkout: quote compute func is required")
	}
	amounts, err := compute(ctx, optionIDs)
	if err != nil {
		return nil, err
	}
	c.store(key, cartID, amounts)
	return cloneAmounts(amounts), nil
}

// InvalidateCart drops every cached batch recorded for the cart. Used after a
// shipping method is removed, since the removal changes downstream totals.
func (c *PriceCalculationCache) InvalidateCart(cartID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.entries {
		if entry.cartID == cartID {
			delete(c.entries, key)
		}
	}
}

func (c *PriceCalculationCache) lookup(key string) (map[string]int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.clock().Sub(entry.storedAt) > c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return cloneAmounts(entry.amounts), true
}

func (c *PriceCalculationCache) store(key, cartID string, amounts map[string]int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = quoteEntry{
		cartID:   cartID,
		amounts:  cloneAmounts(amounts),
		storedAt: c.clock(),
	}
}

func cloneAmounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for id, amount := range in {
		out[id] = amount
	}
	return out
}
