package portfolio

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ggonzalez94/chainpilot/internal/model"
)

type fakeReader struct {
	native map[int64]*big.Int
	tokens map[string]*big.Int // "chainID/address"
	fail   map[int64]error
}

func (f *fakeReader) NativeBalance(_ context.Context, chainID int64, _ string) (*big.Int, error) {
	if err := f.fail[chainID]; err != nil {
		return nil, err
	}
	if b, ok := f.native[chainID]; ok {
		return b, nil
	}
	return big.NewInt(0), nil
}

func (f *fakeReader) TokenBalance(_ context.Context, chainID int64, tokenAddress, _ string) (*big.Int, error) {
	key := tokenKey(chainID, tokenAddress)
	if b, ok := f.tokens[key]; ok {
		return b, nil
	}
	return big.NewInt(0), nil
}

func tokenKey(chainID int64, address string) string {
	return strings.ToLower(address) + "@" + big.NewInt(chainID).String()
}

type fakePrices struct {
	bySymbol map[string]float64
}

func (f *fakePrices) SpotUSD(_ context.Context, _ int64, _ string) (float64, error) {
	return 0, errors.New("spot feed disabled in tests")
}

func (f *fakePrices) SymbolUSD(_ context.Context, _ int64, symbol string) (float64, error) {
	if p, ok := f.bySymbol[symbol]; ok {
		return p, nil
	}
	return 0, errors.New("no price for " + symbol)
}

// Two ETH on mainnet plus 500 USDC, with Optimism unreachable.
func testAggregator() (*Aggregator, *fakeReader) {
	reader := &fakeReader{
		native: map[int64]*big.Int{
			1: new(big.Int).Mul(big.NewInt(2), big.NewInt(1e18)),
		},
		tokens: map[string]*big.Int{
			tokenKey(1, "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"): big.NewInt(500_000_000),
		},
		fail: map[int64]error{10: errors.New("rpc timeout")},
	}
	lookup := &fakePrices{bySymbol: map[string]float64{"ETH": 2000, "USDC": 1}}
	return NewAggregator(reader, lookup, nil, zerolog.Nop()), reader
}

func TestSnapshotTagsUnreachableChainAndKeepsTheRest(t *testing.T) {
	agg, _ := testAggregator()

	snapshot, err := agg.Snapshot(context.Background(), "0xabc", []int64{1, 10})
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	if len(snapshot.Chains) != 2 {
		t.Fatalf("expected a result per requested chain, got %d", len(snapshot.Chains))
	}
	byChain := map[int64]model.ChainResult{}
	for _, c := range snapshot.Chains {
		byChain[c.ChainID] = c
	}
	if byChain[1].Status != model.ChainOK {
		t.Fatalf("mainnet should be ok, got %+v", byChain[1])
	}
	if byChain[10].Status != model.ChainUnavailable || byChain[10].Reason == "" {
		t.Fatalf("optimism should be tagged unavailable with a reason, got %+v", byChain[10])
	}

	if len(snapshot.Positions) != 2 {
		t.Fatalf("expected ETH and USDC positions, got %+v", snapshot.Positions)
	}
	if snapshot.TotalValueUSD != 4500 {
		t.Fatalf("expected total 4500, got %v", snapshot.TotalValueUSD)
	}
	if !snapshot.Consistent() {
		t.Fatal("total must equal the sum of position values")
	}
}

func TestSnapshotRejectsUnsupportedChain(t *testing.T) {
	agg, _ := testAggregator()
	snapshot, err := agg.Snapshot(context.Background(), "0xabc", []int64{999})
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(snapshot.Chains) != 1 || snapshot.Chains[0].Status != model.ChainUnavailable {
		t.Fatalf("unknown chain must be tagged unavailable, got %+v", snapshot.Chains)
	}
	if snapshot.TotalValueUSD != 0 {
		t.Fatalf("no positions expected, got total %v", snapshot.TotalValueUSD)
	}
}

func TestSnapshotSkipsDustBalances(t *testing.T) {
	agg, reader := testAggregator()
	// One wei of ETH formats to well below the dust threshold.
	reader.native[1] = big.NewInt(1)
	delete(reader.tokens, tokenKey(1, "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"))

	snapshot, err := agg.Snapshot(context.Background(), "0xabc", []int64{1})
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(snapshot.Positions) != 0 {
		t.Fatalf("dust must be skipped, got %+v", snapshot.Positions)
	}
}

func TestSnapshotValuesUnpriceableSymbolsAtZero(t *testing.T) {
	agg, reader := testAggregator()
	// 100 DAI held, but the fake lookup has no DAI price.
	reader.tokens[tokenKey(1, "0x6b175474e89094c44da98b954eedeac495271d0f")] =
		new(big.Int).Mul(big.NewInt(100), big.NewInt(1e18))

	snapshot, err := agg.Snapshot(context.Background(), "0xabc", []int64{1})
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	var dai *model.TokenPosition
	for i := range snapshot.Positions {
		if snapshot.Positions[i].Symbol == "DAI" {
			dai = &snapshot.Positions[i]
		}
	}
	if dai == nil {
		t.Fatalf("DAI position should survive a missing price, got %+v", snapshot.Positions)
	}
	if dai.PriceUSD != 0 || dai.ValueUSD != 0 {
		t.Fatalf("unpriceable position must be valued at zero, got %+v", dai)
	}
	if dai.FormattedBalance != 100 {
		t.Fatalf("balance must still be reported, got %v", dai.FormattedBalance)
	}
}

func TestLastValueWithoutHistoryIsAbsent(t *testing.T) {
	agg, _ := testAggregator()
	_, _, ok, err := agg.LastValue("0xabc")
	if err != nil {
		t.Fatalf("LastValue failed: %v", err)
	}
	if ok {
		t.Fatal("no history store means no stored value point")
	}
}
