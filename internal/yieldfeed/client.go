// Package yieldfeed adapts the external yield-pool feed and applies the
// client-side sanity filters: chain allow-list, token allow-list, minimum
// TVL and an APY ceiling that excludes inflated listings.
package yieldfeed

import (
	"context"
	"sort"
	"strings"
	"time"

	cperr "github.com/ggonzalez94/chainpilot/internal/errors"
	"github.com/ggonzalez94/chainpilot/internal/httpx"
	"github.com/ggonzalez94/chainpilot/internal/model"
	"github.com/ggonzalez94/chainpilot/internal/registry"
)

const defaultBaseURL = "https://yields.llama.fi"

type Client struct {
	http    *httpx.Client
	baseURL string
	now     func() time.Time
}

func New(httpClient *httpx.Client) *Client {
	return &Client{http: httpClient, baseURL: defaultBaseURL, now: time.Now}
}

func (c *Client) SetBaseURL(u string) { c.baseURL = strings.TrimRight(u, "/") }

// Filter bounds which pools an opportunity scan will consider.
type Filter struct {
	ChainIDs   []int64
	Symbols    []string
	MinTVLUSD  float64
	APYCeiling float64
}

type poolsEnvelope struct {
	Status string      `json:"status"`
	Data   []poolEntry `json:"data"`
}

type poolEntry struct {
	Pool       string   `json:"pool"`
	Chain      string   `json:"chain"`
	Project    string   `json:"project"`
	Symbol     string   `json:"symbol"`
	APY        *float64 `json:"apy"`
	TVLUSD     *float64 `json:"tvlUsd"`
	Stablecoin bool     `json:"stablecoin"`
	URL        string   `json:"url"`
}

// Opportunities fetches the pool list and returns the filtered set ranked by
// APY descending.
func (c *Client) Opportunities(ctx context.Context, filter Filter) ([]model.YieldOpportunity, error) {
	var env poolsEnvelope
	if err := c.http.GetJSON(ctx, c.baseURL+"/pools", nil, &env); err != nil {
		return nil, err
	}
	if len(env.Data) == 0 {
		return nil, cperr.New(cperr.CodeUnavailable, "yield feed returned no pools")
	}

	allowedChains := make(map[int64]bool, len(filter.ChainIDs))
	chainByName := make(map[string]int64)
	for _, id := range filter.ChainIDs {
		allowedChains[id] = true
		if chain, ok := registry.ChainByID(id); ok {
			chainByName[strings.ToLower(chain.Name)] = id
		}
	}
	allowedSymbols := make(map[string]bool, len(filter.Symbols))
	for _, s := range filter.Symbols {
		allowedSymbols[strings.ToUpper(s)] = true
	}

	fetched := c.now().UTC()
	out := make([]model.YieldOpportunity, 0)
	for _, p := range env.Data {
		chainID, ok := chainByName[strings.ToLower(p.Chain)]
		if !ok || !allowedChains[chainID] {
			continue
		}
		symbol := strings.ToUpper(strings.TrimSpace(p.Symbol))
		if len(allowedSymbols) > 0 && !allowedSymbols[symbol] {
			continue
		}
		apy := deref(p.APY)
		tvl := deref(p.TVLUSD)
		if tvl < filter.MinTVLUSD {
			continue
		}
		if filter.APYCeiling > 0 && apy > filter.APYCeiling {
			continue
		}
		if apy <= 0 {
			continue
		}
		out = append(out, model.YieldOpportunity{
			Pool:      p.Pool,
			Project:   p.Project,
			Chain:     chainID,
			Symbol:    symbol,
			APY:       apy,
			TVLUSD:    tvl,
			URL:       p.URL,
			Stable:    p.Stablecoin,
			FetchedAt: fetched,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].APY > out[j].APY })
	return out, nil
}

// Feed is the capability planners consume.
type Feed interface {
	Opportunities(ctx context.Context, filter Filter) ([]model.YieldOpportunity, error)
}

var _ Feed = (*Client)(nil)

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
