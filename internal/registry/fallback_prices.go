package registry

import "strings"

// Conservative fallback USD prices for well-known symbols so a failed price
// lookup never aborts a whole snapshot. Stables pin to 1.0; majors use a
// deliberately low fixed estimate.
var fallbackPriceBySymbol = map[string]float64{
	"USDC":  1.0,
	"USDT":  1.0,
	"DAI":   1.0,
	"ETH":   2000,
	"WETH":  2000,
	"MATIC": 0.5,
	"AVAX":  20,
}

func FallbackPrice(symbol string) (float64, bool) {
	v, ok := fallbackPriceBySymbol[strings.ToUpper(strings.TrimSpace(symbol))]
	return v, ok
}
