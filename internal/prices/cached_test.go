package prices

import (
	"context"
	"errors"
	"testing"
	"time"
)

type countingLookup struct {
	calls int
	price float64
	err   error
}

func (c *countingLookup) SpotUSD(context.Context, int64, string) (float64, error) {
	c.calls++
	return c.price, c.err
}

func (c *countingLookup) SymbolUSD(context.Context, int64, string) (float64, error) {
	c.calls++
	return c.price, c.err
}

func TestCachedServesRepeatLookupsFromMemory(t *testing.T) {
	inner := &countingLookup{price: 2000}
	cached := NewCached(inner)

	first, err := cached.SymbolUSD(context.Background(), 1, "WETH")
	if err != nil {
		t.Fatalf("SymbolUSD failed: %v", err)
	}
	// Symbol casing must not split the cache key.
	second, err := cached.SymbolUSD(context.Background(), 1, "weth")
	if err != nil {
		t.Fatalf("SymbolUSD failed: %v", err)
	}

	if first != 2000 || second != 2000 {
		t.Fatalf("expected 2000 both times, got %v and %v", first, second)
	}
	if inner.calls != 1 {
		t.Fatalf("expected a single upstream call, got %d", inner.calls)
	}
}

func TestCachedRefetchesAfterMaxPriceAge(t *testing.T) {
	inner := &countingLookup{price: 2000}
	cached := NewCached(inner)

	if _, err := cached.SpotUSD(context.Background(), 1, "0xabc"); err != nil {
		t.Fatalf("SpotUSD failed: %v", err)
	}

	cached.now = func() time.Time { return time.Now().Add(MaxPriceAge + time.Second) }
	inner.price = 2100
	price, err := cached.SpotUSD(context.Background(), 1, "0xABC")
	if err != nil {
		t.Fatalf("SpotUSD failed: %v", err)
	}
	if price != 2100 {
		t.Fatalf("stale point must be refetched, got %v", price)
	}
	if inner.calls != 2 {
		t.Fatalf("expected a refetch, got %d upstream calls", inner.calls)
	}
}

func TestCachedNeverCachesErrors(t *testing.T) {
	inner := &countingLookup{err: errors.New("feed down")}
	cached := NewCached(inner)

	if _, err := cached.SymbolUSD(context.Background(), 1, "WETH"); err == nil {
		t.Fatal("upstream error must surface")
	}

	inner.err = nil
	inner.price = 1
	price, err := cached.SymbolUSD(context.Background(), 1, "WETH")
	if err != nil {
		t.Fatalf("recovered lookup failed: %v", err)
	}
	if price != 1 {
		t.Fatalf("expected the fresh price, got %v", price)
	}
	if inner.calls != 2 {
		t.Fatalf("expected two upstream calls, got %d", inner.calls)
	}
}
