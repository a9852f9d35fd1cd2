// Package portfolio builds unified cross-chain snapshots. A chain that
// cannot be reached contributes zero positions but is tagged unavailable in
// the result, so planners can tell "confirmed empty" from "unknown".
package portfolio

import (
	"context"
	"math"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ggonzalez94/chainpilot/internal/history"
	"github.com/ggonzalez94/chainpilot/internal/model"
	"github.com/ggonzalez94/chainpilot/internal/prices"
	"github.com/ggonzalez94/chainpilot/internal/registry"
)

// Positions below this formatted balance are dust and skipped.
const dustEpsilon = 1e-6

// ChainReader fetches raw balances for one chain. The EVM implementation
// lives in reader.go; tests use fakes.
type ChainReader interface {
	NativeBalance(ctx context.Context, chainID int64, address string) (*big.Int, error)
	TokenBalance(ctx context.Context, chainID int64, tokenAddress, address string) (*big.Int, error)
}

type Aggregator struct {
	reader  ChainReader
	prices  prices.Lookup
	history *history.Store // optional
	logger  zerolog.Logger
	now     func() time.Time
}

func NewAggregator(reader ChainReader, lookup prices.Lookup, historyStore *history.Store, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		reader:  reader,
		prices:  lookup,
		history: historyStore,
		logger:  logger,
		now:     time.Now,
	}
}

type chainOutcome struct {
	result    model.ChainResult
	positions []model.TokenPosition
}

// Snapshot fans balance reads out across chains. Per-token failures degrade
// to a skipped position; per-chain failures degrade to an unavailable tag.
// The wallet's total value is persisted (overwritten, not appended) for
// later profit/loss deltas.
func (a *Aggregator) Snapshot(ctx context.Context, address string, chainIDs []int64) (model.PortfolioSnapshot, error) {
	outcomes := make([]chainOutcome, len(chainIDs))
	var wg sync.WaitGroup
	for i, chainID := range chainIDs {
		wg.Add(1)
		go func(i int, chainID int64) {
			defer wg.Done()
			outcomes[i] = a.collectChain(ctx, chainID, address)
		}(i, chainID)
	}
	wg.Wait()

	snapshot := model.PortfolioSnapshot{
		Address: address,
		TakenAt: a.now().UTC(),
	}
	for _, outcome := range outcomes {
		snapshot.Chains = append(snapshot.Chains, outcome.result)
		snapshot.Positions = append(snapshot.Positions, outcome.positions...)
	}
	sort.Slice(snapshot.Positions, func(i, j int) bool {
		if snapshot.Positions[i].ChainID != snapshot.Positions[j].ChainID {
			return snapshot.Positions[i].ChainID < snapshot.Positions[j].ChainID
		}
		return snapshot.Positions[i].ValueUSD > snapshot.Positions[j].ValueUSD
	})
	for _, p := range snapshot.Positions {
		snapshot.TotalValueUSD += p.ValueUSD
	}

	if a.history != nil {
		if err := a.history.SetPortfolioValue(address, snapshot.TotalValueUSD, snapshot.TakenAt); err != nil {
			a.logger.Warn().Err(err).Msg("persist portfolio value point")
		}
	}
	return snapshot, nil
}

func (a *Aggregator) collectChain(ctx context.Context, chainID int64, address string) chainOutcome {
	chain, ok := registry.ChainByID(chainID)
	if !ok {
		return chainOutcome{result: model.ChainResult{
			ChainID: chainID,
			Status:  model.ChainUnavailable,
			Reason:  "unsupported chain",
		}}
	}

	var positions []model.TokenPosition

	nativeRaw, err := a.reader.NativeBalance(ctx, chainID, address)
	if err != nil {
		a.logger.Warn().Int64("chain", chainID).Err(err).Msg("chain unreachable")
		return chainOutcome{result: model.ChainResult{
			ChainID: chainID,
			Status:  model.ChainUnavailable,
			Reason:  err.Error(),
		}}
	}
	if pos, ok := a.position(ctx, chainID, registry.NativePlaceholder, chain.NativeSymbol, chain.NativeDecimals, nativeRaw); ok {
		positions = append(positions, pos)
	}

	for _, token := range registry.TrackedTokens(chainID) {
		raw, err := a.reader.TokenBalance(ctx, chainID, token.Address, address)
		if err != nil {
			a.logger.Warn().
				Int64("chain", chainID).
				Str("token", token.Symbol).
				Err(err).
				Msg("skipping unreadable token balance")
			continue
		}
		if pos, ok := a.position(ctx, chainID, token.Address, token.Symbol, token.Decimals, raw); ok {
			positions = append(positions, pos)
		}
	}

	return chainOutcome{
		result:    model.ChainResult{ChainID: chainID, Status: model.ChainOK},
		positions: positions,
	}
}

// position formats and prices one raw balance. A failed spot lookup falls
// back to the fixed table; only a completely unpriceable symbol yields a
// zero-value position.
func (a *Aggregator) position(ctx context.Context, chainID int64, tokenAddress, symbol string, decimals int, raw *big.Int) (model.TokenPosition, bool) {
	if raw == nil || raw.Sign() == 0 {
		return model.TokenPosition{}, false
	}
	formatted := formatUnits(raw, decimals)
	if formatted < dustEpsilon {
		return model.TokenPosition{}, false
	}

	price, err := a.prices.SymbolUSD(ctx, chainID, symbol)
	if err != nil {
		a.logger.Warn().Str("symbol", symbol).Int64("chain", chainID).Err(err).
			Msg("no price source, valuing at zero")
		price = 0
	}

	return model.TokenPosition{
		ChainID:          chainID,
		TokenAddress:     tokenAddress,
		Symbol:           symbol,
		Decimals:         decimals,
		RawBalance:       raw.String(),
		FormattedBalance: formatted,
		PriceUSD:         price,
		ValueUSD:         formatted * price,
	}, true
}

func formatUnits(raw *big.Int, decimals int) float64 {
	f := new(big.Float).SetInt(raw)
	f.Quo(f, new(big.Float).SetFloat64(math.Pow10(decimals)))
	out, _ := f.Float64()
	return out
}

// LastValue reads the stored value point for a wallet. Callers computing a
// profit/loss delta must read it before Snapshot, which overwrites it.
func (a *Aggregator) LastValue(address string) (valueUSD float64, takenAt time.Time, ok bool, err error) {
	if a.history == nil {
		return 0, time.Time{}, false, nil
	}
	return a.history.PortfolioValue(address)
}
