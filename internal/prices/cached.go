package prices

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Cached memoizes lookups in memory. The arbitrage scanner prices the same
// symbols on every chain each cycle; points younger than MaxPriceAge are
// served without another feed round trip. Errors are never cached.
type Cached struct {
	inner Lookup
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]pricePoint
}

type pricePoint struct {
	price     float64
	fetchedAt time.Time
}

func NewCached(inner Lookup) *Cached {
	return &Cached{
		inner:   inner,
		ttl:     MaxPriceAge,
		now:     time.Now,
		entries: make(map[string]pricePoint),
	}
}

func (c *Cached) SpotUSD(ctx context.Context, chainID int64, tokenAddress string) (float64, error) {
	key := fmt.Sprintf("addr|%d|%s", chainID, strings.ToLower(tokenAddress))
	return c.lookup(key, func() (float64, error) {
		return c.inner.SpotUSD(ctx, chainID, tokenAddress)
	})
}

func (c *Cached) SymbolUSD(ctx context.Context, chainID int64, symbol string) (float64, error) {
	key := fmt.Sprintf("sym|%d|%s", chainID, strings.ToUpper(symbol))
	return c.lookup(key, func() (float64, error) {
		return c.inner.SymbolUSD(ctx, chainID, symbol)
	})
}

func (c *Cached) lookup(key string, fetch func() (float64, error)) (float64, error) {
	c.mu.Lock()
	if entry, ok := c.entries[key]; ok && c.now().Sub(entry.fetchedAt) <= c.ttl {
		c.mu.Unlock()
		return entry.price, nil
	}
	c.mu.Unlock()

	price, err := fetch()
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.entries[key] = pricePoint{price: price, fetchedAt: c.now()}
	c.mu.Unlock()
	return price, nil
}

var _ Lookup = (*Cached)(nil)
