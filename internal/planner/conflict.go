package planner

import (
	"sort"

	"github.com/ggonzalez94/chainpilot/internal/model"
)

// Conflict records a token that independent planners tried to buy and sell
// in the same cycle. Both sides are dropped rather than netted into a trade
// neither planner asked for.
type Conflict struct {
	Token   string  `json:"token"`
	BuyUSD  float64 `json:"buy_usd"`
	SellUSD float64 `json:"sell_usd"`
	Dropped int     `json:"dropped"`
}

// ReconcileActions removes per-token buy/sell collisions across the merged
// proposals of one cycle. Actions without an explicit side (yield moves,
// arbitrage bridges of the same token) pass through untouched.
func ReconcileActions(actions []model.ProposedAction) ([]model.ProposedAction, []Conflict) {
	buyUSD := make(map[string]float64)
	sellUSD := make(map[string]float64)
	for _, a := range actions {
		switch a.Side {
		case model.SideBuy:
			buyUSD[a.Token] += a.AmountUSD
		case model.SideSell:
			sellUSD[a.Token] += a.AmountUSD
		}
	}

	conflicted := make(map[string]*Conflict)
	for token, buy := range buyUSD {
		if sell, ok := sellUSD[token]; ok {
			conflicted[token] = &Conflict{Token: token, BuyUSD: buy, SellUSD: sell}
		}
	}
	if len(conflicted) == 0 {
		return actions, nil
	}

	kept := make([]model.ProposedAction, 0, len(actions))
	for _, a := range actions {
		if a.Side != "" {
			if c, ok := conflicted[a.Token]; ok {
				c.Dropped++
				continue
			}
		}
		kept = append(kept, a)
	}

	conflicts := make([]Conflict, 0, len(conflicted))
	for _, c := range conflicted {
		conflicts = append(conflicts, *c)
	}
	sort.Slice(conflicts, func(i, j int) bool { return conflicts[i].Token < conflicts[j].Token })
	return kept, conflicts
}
