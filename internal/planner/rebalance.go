// Package planner turns observed state into proposed actions. All three
// algorithms (rebalance, yield rotation, arbitrage) are read-only over the
// portfolio snapshot; they propose, never execute.
package planner

import (
	"fmt"
	"math"
	"sort"

	"github.com/ggonzalez94/chainpilot/internal/model"
	"github.com/ggonzalez94/chainpilot/internal/registry"
)

type Config struct {
	// RebalanceThresholdPct is the minimum |drift| before an action fires.
	RebalanceThresholdPct float64
	// MinTradeValueUSD guards against dust trades and boundary flapping.
	MinTradeValueUSD float64
	// YieldMinImprovementPct is the APY edge a rotation must clear.
	YieldMinImprovementPct float64
	// ArbMinSpreadPct is the gross cross-chain spread floor.
	ArbMinSpreadPct float64
	// ArbFeePct approximates combined DEX plus bridge cost.
	ArbFeePct float64
	// ArbNotionalUSD sizes arbitrage proposals before execution planning.
	ArbNotionalUSD float64
}

func DefaultConfig() Config {
	return Config{
		RebalanceThresholdPct:  5.0,
		MinTradeValueUSD:       50,
		YieldMinImprovementPct: 2.0,
		ArbMinSpreadPct:        0.5,
		ArbFeePct:              0.3,
		ArbNotionalUSD:         500,
	}
}

// ComputeDrift reports, per allocation target, how far the current mix is
// from the target mix. Positions are grouped by symbol across chains.
func ComputeDrift(snapshot model.PortfolioSnapshot, targets []model.AllocationTarget) []model.DriftReport {
	total := snapshot.TotalValueUSD
	valueBySymbol := make(map[string]float64)
	for _, p := range snapshot.Positions {
		valueBySymbol[p.Symbol] += p.ValueUSD
	}

	reports := make([]model.DriftReport, 0, len(targets))
	for _, target := range targets {
		current := valueBySymbol[target.TokenSymbol]
		currentPct := 0.0
		if total > 0 {
			currentPct = current / total * 100
		}
		targetValue := total * target.TargetPercent / 100
		reports = append(reports, model.DriftReport{
			TokenSymbol:     target.TokenSymbol,
			CurrentPercent:  currentPct,
			TargetPercent:   target.TargetPercent,
			DriftPercent:    currentPct - target.TargetPercent,
			CurrentValueUSD: current,
			TargetValueUSD:  targetValue,
			AdjustmentUSD:   targetValue - current,
		})
	}
	return reports
}

type imbalance struct {
	report    model.DriftReport
	remaining float64
}

// ProposeRebalance emits at most one action per over/under pair. Sells come
// from the single largest same-token position to keep transaction count
// down, and are matched to pending buys of the same cycle before falling
// back to the stable quote token.
func ProposeRebalance(snapshot model.PortfolioSnapshot, targets []model.AllocationTarget, cfg Config) []model.ProposedAction {
	drifts := ComputeDrift(snapshot, targets)

	var sells, buys []imbalance
	for _, d := range drifts {
		if math.Abs(d.DriftPercent) <= cfg.RebalanceThresholdPct || math.Abs(d.AdjustmentUSD) <= cfg.MinTradeValueUSD {
			continue
		}
		entry := imbalance{report: d, remaining: math.Abs(d.AdjustmentUSD)}
		if d.AdjustmentUSD < 0 {
			sells = append(sells, entry)
		} else {
			buys = append(buys, entry)
		}
	}
	sort.Slice(sells, func(i, j int) bool { return sells[i].remaining > sells[j].remaining })
	sort.Slice(buys, func(i, j int) bool { return buys[i].remaining > buys[j].remaining })

	actions := make([]model.ProposedAction, 0, len(sells)+len(buys))
	priority := 0

	for si := range sells {
		sell := &sells[si]
		fromChain, price := largestPosition(snapshot, sell.report.TokenSymbol)
		for bi := range buys {
			buy := &buys[bi]
			if sell.remaining <= 0 {
				break
			}
			if buy.remaining <= 0 {
				continue
			}
			amount := min(sell.remaining, buy.remaining)
			toChain, _ := largestPosition(snapshot, buy.report.TokenSymbol)
			if toChain == 0 {
				toChain = fromChain
			}
			priority++
			actions = append(actions, model.ProposedAction{
				Kind:        model.ActionRebalance,
				Side:        model.SideSell,
				Token:       sell.report.TokenSymbol,
				FromChain:   fromChain,
				ToChain:     toChain,
				FromToken:   sell.report.TokenSymbol,
				ToToken:     buy.report.TokenSymbol,
				AmountUSD:   amount,
				AmountToken: tokenAmount(amount, price),
				Reason: fmt.Sprintf("%s is %.1f%% over target; routing $%.2f into %s",
					sell.report.TokenSymbol, sell.report.DriftPercent, amount, buy.report.TokenSymbol),
				Priority: priority,
			})
			sell.remaining -= amount
			buy.remaining -= amount
		}
		if sell.remaining > cfg.MinTradeValueUSD {
			priority++
			actions = append(actions, model.ProposedAction{
				Kind:        model.ActionRebalance,
				Side:        model.SideSell,
				Token:       sell.report.TokenSymbol,
				FromChain:   fromChain,
				ToChain:     fromChain,
				FromToken:   sell.report.TokenSymbol,
				ToToken:     registry.StableQuoteToken,
				AmountUSD:   sell.remaining,
				AmountToken: tokenAmount(sell.remaining, price),
				Reason: fmt.Sprintf("%s is %.1f%% over target; parking $%.2f in %s",
					sell.report.TokenSymbol, sell.report.DriftPercent, sell.remaining, registry.StableQuoteToken),
				Priority: priority,
			})
			sell.remaining = 0
		}
	}

	for _, buy := range buys {
		if buy.remaining <= cfg.MinTradeValueUSD {
			continue
		}
		fromChain, _ := largestPosition(snapshot, registry.StableQuoteToken)
		toChain, _ := largestPosition(snapshot, buy.report.TokenSymbol)
		if toChain == 0 {
			toChain = fromChain
		}
		priority++
		actions = append(actions, model.ProposedAction{
			Kind:      model.ActionRebalance,
			Side:      model.SideBuy,
			Token:     buy.report.TokenSymbol,
			FromChain: fromChain,
			ToChain:   toChain,
			FromToken: registry.StableQuoteToken,
			ToToken:   buy.report.TokenSymbol,
			AmountUSD: buy.remaining,
			Reason: fmt.Sprintf("%s is %.1f%% under target; buying $%.2f with %s",
				buy.report.TokenSymbol, buy.report.DriftPercent, buy.remaining, registry.StableQuoteToken),
			Priority: priority,
		})
	}

	return actions
}

// largestPosition finds the chain holding the biggest slice of a symbol and
// the spot price observed there.
func largestPosition(snapshot model.PortfolioSnapshot, symbol string) (chainID int64, priceUSD float64) {
	best := -1.0
	for _, p := range snapshot.Positions {
		if p.Symbol == symbol && p.ValueUSD > best {
			best = p.ValueUSD
			chainID = p.ChainID
			priceUSD = p.PriceUSD
		}
	}
	return chainID, priceUSD
}

func tokenAmount(usd, price float64) float64 {
	if price <= 0 {
		return 0
	}
	return usd / price
}
