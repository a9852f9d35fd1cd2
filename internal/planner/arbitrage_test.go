package planner

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ggonzalez94/chainpilot/internal/model"
)

type fakeLookup struct {
	bySymbolChain map[string]float64
}

func (f *fakeLookup) SpotUSD(_ context.Context, chainID int64, tokenAddress string) (float64, error) {
	return 0, fmt.Errorf("unused in test")
}

func (f *fakeLookup) SymbolUSD(_ context.Context, chainID int64, symbol string) (float64, error) {
	price, ok := f.bySymbolChain[fmt.Sprintf("%s/%d", symbol, chainID)]
	if !ok {
		return 0, fmt.Errorf("no price for %s on %d", symbol, chainID)
	}
	return price, nil
}

func scanWETH(t *testing.T, lowPrice, highPrice float64) []model.ProposedAction {
	t.Helper()
	lookup := &fakeLookup{bySymbolChain: map[string]float64{
		"WETH/1":  lowPrice,
		"WETH/10": highPrice,
	}}
	scanner := NewArbitrageScanner(lookup, DefaultConfig(), zerolog.Nop())
	actions, err := scanner.Scan(context.Background(), "WETH", []int64{1, 10})
	require.NoError(t, err)
	return actions
}

func TestArbitrageConfidenceBands(t *testing.T) {
	// ~1.5% gross spread nets 1.2% after the 0.3% fee: high confidence.
	actions := scanWETH(t, 2000, 2030.30)
	require.Len(t, actions, 1)
	require.Equal(t, model.ConfidenceHigh, actions[0].Confidence)
	require.Equal(t, int64(1), actions[0].FromChain)
	require.Equal(t, int64(10), actions[0].ToChain)

	// ~0.8% gross spread nets 0.5%: medium confidence.
	actions = scanWETH(t, 2000, 2016.06)
	require.Len(t, actions, 1)
	require.Equal(t, model.ConfidenceMedium, actions[0].Confidence)

	// ~0.4% gross spread sits under the 0.5% minimum: excluded entirely.
	actions = scanWETH(t, 2000, 2008.01)
	require.Empty(t, actions)
}

func TestArbitrageSkipsUnpriceableChains(t *testing.T) {
	lookup := &fakeLookup{bySymbolChain: map[string]float64{
		"WETH/1": 2000,
		// chain 10 missing: fewer than two points, nothing to compare.
	}}
	scanner := NewArbitrageScanner(lookup, DefaultConfig(), zerolog.Nop())
	actions, err := scanner.Scan(context.Background(), "WETH", []int64{1, 10})
	require.NoError(t, err)
	require.Empty(t, actions)
}

func TestArbitrageProposalSizedByNotional(t *testing.T) {
	actions := scanWETH(t, 2000, 2030.30)
	require.Len(t, actions, 1)
	require.InDelta(t, DefaultConfig().ArbNotionalUSD, actions[0].AmountUSD, 0.001)
	require.InDelta(t, DefaultConfig().ArbNotionalUSD/2000, actions[0].AmountToken, 0.0001)
}
