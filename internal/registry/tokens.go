package registry

import "strings"

type Token struct {
	Symbol   string
	Address  string
	Decimals int
}

// NativePlaceholder is the conventional address used for a chain's native
// asset in routing requests.
const NativePlaceholder = "0x0000000000000000000000000000000000000000"

// Tracked tokens per chain. The aggregator values exactly these plus the
// native asset; anything else is out of scope for snapshots.
var tokensByChain = map[int64][]Token{
	1: {
		{Symbol: "USDC", Address: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", Decimals: 6},
		{Symbol: "USDT", Address: "0xdac17f958d2ee523a2206206994597c13d831ec7", Decimals: 6},
		{Symbol: "DAI", Address: "0x6b175474e89094c44da98b954eedeac495271d0f", Decimals: 18},
		{Symbol: "WETH", Address: "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2", Decimals: 18},
	},
	10: {
		{Symbol: "USDC", Address: "0x0b2c639c533813f4aa9d7837caf62653d097ff85", Decimals: 6},
		{Symbol: "USDT", Address: "0x94b008aa00579c1307b0ef2c499ad98a8ce58e58", Decimals: 6},
		{Symbol: "DAI", Address: "0xda10009cbd5d07dd0cecc66161fc93d7c9000da1", Decimals: 18},
		{Symbol: "WETH", Address: "0x4200000000000000000000000000000000000006", Decimals: 18},
	},
	137: {
		{Symbol: "USDC", Address: "0x3c499c542cef5e3811e1192ce70d8cc03d5c3359", Decimals: 6},
		{Symbol: "USDT", Address: "0xc2132d05d31c914a87c6611c10748aeb04b58e8f", Decimals: 6},
		{Symbol: "DAI", Address: "0x8f3cf7ad23cd3cadbd9735aff958023239c6a063", Decimals: 18},
		{Symbol: "WETH", Address: "0x7ceb23fd6bc0add59e62ac25578270cff1b9f619", Decimals: 18},
	},
	8453: {
		{Symbol: "USDC", Address: "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913", Decimals: 6},
		{Symbol: "DAI", Address: "0x50c5725949a6f0c72e6c4a641f24049a917db0cb", Decimals: 18},
		{Symbol: "WETH", Address: "0x4200000000000000000000000000000000000006", Decimals: 18},
	},
	42161: {
		{Symbol: "USDC", Address: "0xaf88d065e77c8cc2239327c5edb3a432268e5831", Decimals: 6},
		{Symbol: "USDT", Address: "0xfd086bc7cd5c481dcc9c85ebe478a1c0b69fcbb9", Decimals: 6},
		{Symbol: "DAI", Address: "0xda10009cbd5d07dd0cecc66161fc93d7c9000da1", Decimals: 18},
		{Symbol: "WETH", Address: "0x82af49447d8a07e3bd95bd0d56f35241523fbab1", Decimals: 18},
	},
	43114: {
		{Symbol: "USDC", Address: "0xb97ef9ef8734c71904d8002f8b6bc66dd9c48a6e", Decimals: 6},
		{Symbol: "USDT", Address: "0x9702230a8ea53601f5cd2dc00fdbc13d4df4a8c7", Decimals: 6},
		{Symbol: "DAI", Address: "0xd586e7f844cea2f87f50152665bcbc2c279d8d70", Decimals: 18},
	},
}

func TrackedTokens(chainID int64) []Token {
	return tokensByChain[chainID]
}

func TokenBySymbol(chainID int64, symbol string) (Token, bool) {
	for _, t := range tokensByChain[chainID] {
		if strings.EqualFold(t.Symbol, symbol) {
			return t, true
		}
	}
	return Token{}, false
}

func TokenByAddress(chainID int64, address string) (Token, bool) {
	for _, t := range tokensByChain[chainID] {
		if strings.EqualFold(t.Address, address) {
			return t, true
		}
	}
	return Token{}, false
}

// StableQuoteToken is the stable token rebalance proceeds settle into when a
// sell has no matching buy in the same cycle.
const StableQuoteToken = "USDC"

var stableSymbols = map[string]bool{
	"USDC": true,
	"USDT": true,
	"DAI":  true,
}

func IsStable(symbol string) bool {
	return stableSymbols[strings.ToUpper(strings.TrimSpace(symbol))]
}
