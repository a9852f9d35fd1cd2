package planner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ggonzalez94/chainpilot/internal/model"
)

func snapshotSplit(ethValue, usdcValue float64) model.PortfolioSnapshot {
	ethPrice := 2000.0
	return model.PortfolioSnapshot{
		Address: "0x1111111111111111111111111111111111111111",
		Positions: []model.TokenPosition{
			{
				ChainID:          1,
				Symbol:           "ETH",
				FormattedBalance: ethValue / ethPrice,
				PriceUSD:         ethPrice,
				ValueUSD:         ethValue,
			},
			{
				ChainID:          8453,
				Symbol:           "USDC",
				FormattedBalance: usdcValue,
				PriceUSD:         1,
				ValueUSD:         usdcValue,
			},
		},
		TotalValueUSD: ethValue + usdcValue,
	}
}

func fiftyFiftyTargets() []model.AllocationTarget {
	return []model.AllocationTarget{
		{TokenSymbol: "ETH", TargetPercent: 50},
		{TokenSymbol: "USDC", TargetPercent: 50},
	}
}

func TestProposeRebalanceEmitsSingleMatchedSell(t *testing.T) {
	snapshot := snapshotSplit(6000, 4000) // 60/40 on $10k
	actions := ProposeRebalance(snapshot, fiftyFiftyTargets(), DefaultConfig())

	require.Len(t, actions, 1)
	action := actions[0]
	require.Equal(t, model.ActionRebalance, action.Kind)
	require.Equal(t, model.SideSell, action.Side)
	require.Equal(t, "ETH", action.Token)
	require.Equal(t, "ETH", action.FromToken)
	require.Equal(t, "USDC", action.ToToken)
	require.InDelta(t, 1000, action.AmountUSD, 0.01)
	require.InDelta(t, 0.5, action.AmountToken, 0.0001)
	require.Equal(t, int64(1), action.FromChain)
	require.Equal(t, int64(8453), action.ToChain)
}

func TestProposeRebalanceStaysQuietBelowThreshold(t *testing.T) {
	snapshot := snapshotSplit(5300, 4700) // 53/47, drift 3% < 5%
	actions := ProposeRebalance(snapshot, fiftyFiftyTargets(), DefaultConfig())
	require.Empty(t, actions)
}

func TestProposeRebalanceSkipsDustAdjustments(t *testing.T) {
	// 56/44 on $500: drift 6% crosses the threshold but the $30 adjustment
	// is under the minimum trade value.
	snapshot := snapshotSplit(280, 220)
	actions := ProposeRebalance(snapshot, fiftyFiftyTargets(), DefaultConfig())
	require.Empty(t, actions)
}

func TestProposeRebalancePartialTargetsLeaveResidualAlone(t *testing.T) {
	// Only ETH is targeted; the USDC holding is untargeted "other" and must
	// not be bought into. The overweight slice parks in the stable quote.
	snapshot := snapshotSplit(6000, 4000)
	targets := []model.AllocationTarget{{TokenSymbol: "ETH", TargetPercent: 50}}
	actions := ProposeRebalance(snapshot, targets, DefaultConfig())

	require.Len(t, actions, 1)
	require.Equal(t, model.SideSell, actions[0].Side)
	require.Equal(t, "ETH", actions[0].FromToken)
	require.Equal(t, "USDC", actions[0].ToToken)
	require.InDelta(t, 1000, actions[0].AmountUSD, 0.01)
}

func TestComputeDriftReports(t *testing.T) {
	snapshot := snapshotSplit(6000, 4000)
	reports := ComputeDrift(snapshot, fiftyFiftyTargets())

	require.Len(t, reports, 2)
	byToken := map[string]model.DriftReport{}
	for _, r := range reports {
		byToken[r.TokenSymbol] = r
	}
	eth := byToken["ETH"]
	require.InDelta(t, 60, eth.CurrentPercent, 0.001)
	require.InDelta(t, 10, eth.DriftPercent, 0.001)
	require.InDelta(t, -1000, eth.AdjustmentUSD, 0.01)

	usdc := byToken["USDC"]
	require.InDelta(t, -10, usdc.DriftPercent, 0.001)
	require.InDelta(t, 1000, usdc.AdjustmentUSD, 0.01)
}

func TestProposeRebalanceFallsBackToStableQuote(t *testing.T) {
	// Overweight ETH with every underweight counterpart below the minimum
	// trade value: proceeds park in the stable quote token instead.
	snapshot := model.PortfolioSnapshot{
		Positions: []model.TokenPosition{
			{ChainID: 1, Symbol: "ETH", FormattedBalance: 0.5, PriceUSD: 2000, ValueUSD: 1000},
		},
		TotalValueUSD: 1000,
	}
	targets := []model.AllocationTarget{
		{TokenSymbol: "ETH", TargetPercent: 90},
		{TokenSymbol: "WETH", TargetPercent: 4},
		{TokenSymbol: "DAI", TargetPercent: 3},
		{TokenSymbol: "USDT", TargetPercent: 3},
	}
	actions := ProposeRebalance(snapshot, targets, DefaultConfig())

	require.Len(t, actions, 1)
	require.Equal(t, model.SideSell, actions[0].Side)
	require.Equal(t, "USDC", actions[0].ToToken)
	require.InDelta(t, 100, actions[0].AmountUSD, 0.01)
}
