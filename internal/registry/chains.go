// Package registry holds the static chain, token and protocol data every
// other component is scoped by. Pure data, no behavior beyond lookups.
package registry

import (
	"fmt"
	"strings"
)

type Chain struct {
	ID             int64
	Name           string
	Slug           string
	NativeSymbol   string
	NativeDecimals int
	RPCURLs        []string // primary first, fallbacks in order
}

var chainsByID = map[int64]Chain{
	1: {
		ID: 1, Name: "Ethereum", Slug: "ethereum", NativeSymbol: "ETH", NativeDecimals: 18,
		RPCURLs: []string{"https://eth.llamarpc.com", "https://rpc.ankr.com/eth", "https://cloudflare-eth.com"},
	},
	10: {
		ID: 10, Name: "Optimism", Slug: "optimism", NativeSymbol: "ETH", NativeDecimals: 18,
		RPCURLs: []string{"https://mainnet.optimism.io", "https://rpc.ankr.com/optimism"},
	},
	137: {
		ID: 137, Name: "Polygon", Slug: "polygon", NativeSymbol: "MATIC", NativeDecimals: 18,
		RPCURLs: []string{"https://polygon-rpc.com", "https://rpc.ankr.com/polygon"},
	},
	8453: {
		ID: 8453, Name: "Base", Slug: "base", NativeSymbol: "ETH", NativeDecimals: 18,
		RPCURLs: []string{"https://mainnet.base.org", "https://base.llamarpc.com"},
	},
	42161: {
		ID: 42161, Name: "Arbitrum", Slug: "arbitrum", NativeSymbol: "ETH", NativeDecimals: 18,
		RPCURLs: []string{"https://arb1.arbitrum.io/rpc", "https://rpc.ankr.com/arbitrum"},
	},
	43114: {
		ID: 43114, Name: "Avalanche", Slug: "avalanche", NativeSymbol: "AVAX", NativeDecimals: 18,
		RPCURLs: []string{"https://api.avax.network/ext/bc/C/rpc", "https://rpc.ankr.com/avalanche"},
	},
}

var chainsBySlug = func() map[string]Chain {
	out := make(map[string]Chain, len(chainsByID))
	for _, c := range chainsByID {
		out[c.Slug] = c
	}
	out["mainnet"] = out["ethereum"]
	return out
}()

func ChainByID(id int64) (Chain, bool) {
	c, ok := chainsByID[id]
	return c, ok
}

func ParseChain(input string) (Chain, error) {
	norm := strings.ToLower(strings.TrimSpace(input))
	if norm == "" {
		return Chain{}, fmt.Errorf("chain is required")
	}
	if c, ok := chainsBySlug[norm]; ok {
		return c, nil
	}
	return Chain{}, fmt.Errorf("unsupported chain: %s", input)
}

// SupportedChainIDs returns every configured chain id in ascending order.
func SupportedChainIDs() []int64 {
	out := make([]int64, 0, len(chainsByID))
	for id := range chainsByID {
		out = append(out, id)
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

// ResolveRPCURLs returns the RPC endpoints for a chain, with an optional
// override taking priority over the defaults.
func ResolveRPCURLs(override string, chainID int64) ([]string, error) {
	if strings.TrimSpace(override) != "" {
		return []string{strings.TrimSpace(override)}, nil
	}
	chain, ok := ChainByID(chainID)
	if !ok || len(chain.RPCURLs) == 0 {
		return nil, fmt.Errorf("no rpc configured for chain id %d", chainID)
	}
	return chain.RPCURLs, nil
}
