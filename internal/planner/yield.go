package planner

import (
	"fmt"
	"sort"

	"github.com/ggonzalez94/chainpilot/internal/model"
)

// ProposeYieldRotation compares each held symbol against the best filtered
// opportunity for that symbol and proposes a move only when the APY edge
// clears the minimum improvement. currentAPY carries the APY the funds earn
// today; a missing entry means idle capital at 0%.
func ProposeYieldRotation(snapshot model.PortfolioSnapshot, opportunities []model.YieldOpportunity, currentAPY map[string]float64, cfg Config) []model.ProposedAction {
	bestBySymbol := make(map[string]model.YieldOpportunity)
	for _, opp := range opportunities {
		if existing, ok := bestBySymbol[opp.Symbol]; !ok || opp.APY > existing.APY {
			bestBySymbol[opp.Symbol] = opp
		}
	}

	valueBySymbol := make(map[string]float64)
	for _, p := range snapshot.Positions {
		valueBySymbol[p.Symbol] += p.ValueUSD
	}

	symbols := make([]string, 0, len(valueBySymbol))
	for symbol := range valueBySymbol {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	var actions []model.ProposedAction
	priority := 0
	for _, symbol := range symbols {
		held := valueBySymbol[symbol]
		if held <= cfg.MinTradeValueUSD {
			continue
		}
		opp, ok := bestBySymbol[symbol]
		if !ok {
			continue
		}
		improvement := opp.APY - currentAPY[symbol]
		if improvement <= cfg.YieldMinImprovementPct {
			continue
		}
		fromChain, price := largestPosition(snapshot, symbol)
		priority++
		actions = append(actions, model.ProposedAction{
			Kind:        model.ActionYield,
			Token:       symbol,
			FromChain:   fromChain,
			ToChain:     opp.Chain,
			FromToken:   symbol,
			ToToken:     symbol,
			AmountUSD:   held,
			AmountToken: tokenAmount(held, price),
			Reason: fmt.Sprintf("%s on %s pays %.2f%% APY, %.2f%% above the current position",
				symbol, opp.Project, opp.APY, improvement),
			Priority: priority,
		})
	}
	return actions
}
