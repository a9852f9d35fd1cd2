// Package prices adapts the external spot-price feed. Lookups that fail
// fall back to the registry's conservative fixed table so a dead feed never
// aborts a snapshot.
package prices

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	cperr "github.com/ggonzalez94/chainpilot/internal/errors"
	"github.com/ggonzalez94/chainpilot/internal/httpx"
	"github.com/ggonzalez94/chainpilot/internal/registry"
)

const defaultBaseURL = "https://coins.llama.fi"

type Client struct {
	http    *httpx.Client
	baseURL string
}

func New(httpClient *httpx.Client) *Client {
	return &Client{http: httpClient, baseURL: defaultBaseURL}
}

// SetBaseURL points the client at a different endpoint; tests use it to
// target a local fake.
func (c *Client) SetBaseURL(u string) { c.baseURL = strings.TrimRight(u, "/") }

type priceEnvelope struct {
	Coins map[string]struct {
		Price  float64 `json:"price"`
		Symbol string  `json:"symbol"`
	} `json:"coins"`
}

// SpotUSD returns the USD price for a token address on a chain.
func (c *Client) SpotUSD(ctx context.Context, chainID int64, tokenAddress string) (float64, error) {
	chain, ok := registry.ChainByID(chainID)
	if !ok {
		return 0, cperr.New(cperr.CodeUsage, fmt.Sprintf("unknown chain id %d", chainID))
	}
	coin := fmt.Sprintf("%s:%s", chain.Slug, strings.ToLower(tokenAddress))
	u := c.baseURL + "/prices/current/" + url.PathEscape(coin)

	var env priceEnvelope
	if err := c.http.GetJSON(ctx, u, nil, &env); err != nil {
		return 0, err
	}
	entry, ok := env.Coins[coin]
	if !ok || entry.Price <= 0 {
		return 0, cperr.New(cperr.CodeUnavailable, fmt.Sprintf("no price for %s", coin))
	}
	return entry.Price, nil
}

// SymbolUSD resolves a symbol on a chain and prices it, falling back to the
// registry table when the feed cannot answer.
func (c *Client) SymbolUSD(ctx context.Context, chainID int64, symbol string) (float64, error) {
	if token, ok := registry.TokenBySymbol(chainID, symbol); ok {
		if price, err := c.SpotUSD(ctx, chainID, token.Address); err == nil {
			return price, nil
		}
	}
	if price, ok := registry.FallbackPrice(symbol); ok {
		return price, nil
	}
	return 0, cperr.New(cperr.CodeUnavailable, fmt.Sprintf("no price source for symbol %s", symbol))
}

// Lookup is the capability the aggregator and planners consume; *Client and
// test fakes both satisfy it.
type Lookup interface {
	SpotUSD(ctx context.Context, chainID int64, tokenAddress string) (float64, error)
	SymbolUSD(ctx context.Context, chainID int64, symbol string) (float64, error)
}

var _ Lookup = (*Client)(nil)

// Staleness guard for cached price points used by the arbitrage scanner.
const MaxPriceAge = 2 * time.Minute
