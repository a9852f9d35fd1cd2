package registry

import "strings"

// Routing-service endpoints. The quote endpoint returns the best general
// route; the status endpoint tracks cross-chain settlement.
const (
	RoutingQuoteBaseURL  = "https://li.quest/v1"
	RoutingStatusBaseURL = "https://li.quest/v1/status"
)

// Per-token bridge minimums in whole-token units. Requests below these fail
// before reaching the routing service.
var bridgeMinimumByToken = map[string]float64{
	"USDC": 10,
	"USDT": 10,
	"DAI":  10,
	"WETH": 0.005,
	"ETH":  0.005,
}

func BridgeMinimum(symbol string) (float64, bool) {
	v, ok := bridgeMinimumByToken[strings.ToUpper(strings.TrimSpace(symbol))]
	return v, ok
}

// Native burn/mint hub coverage: like-for-like stable transfers between
// these chains could settle through the hub. Recorded as routing metadata
// only; the general routing service still picks the actual route.
const HubName = "cctp"

var hubChains = map[int64]bool{
	1:     true,
	10:    true,
	137:   true,
	8453:  true,
	42161: true,
	43114: true,
}

var hubTokens = map[string]bool{
	"USDC": true,
}

// HubEligible reports whether a like-for-like transfer of symbol between the
// two chains could have used the burn/mint hub.
func HubEligible(fromChain, toChain int64, fromSymbol, toSymbol string) bool {
	if fromChain == toChain {
		return false
	}
	if !hubChains[fromChain] || !hubChains[toChain] {
		return false
	}
	if !strings.EqualFold(fromSymbol, toSymbol) {
		return false
	}
	return hubTokens[strings.ToUpper(strings.TrimSpace(fromSymbol))]
}
