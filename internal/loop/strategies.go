package loop

import (
	"context"
	"fmt"

	"github.com/ggonzalez94/chainpilot/internal/intent"
	"github.com/ggonzalez94/chainpilot/internal/logging"
	"github.com/ggonzalez94/chainpilot/internal/model"
	"github.com/ggonzalez94/chainpilot/internal/planner"
	"github.com/ggonzalez94/chainpilot/internal/portfolio"
	"github.com/ggonzalez94/chainpilot/internal/yieldfeed"
)

// Snapshotter is the aggregator capability strategies monitor through.
type Snapshotter interface {
	Snapshot(ctx context.Context, address string, chainIDs []int64) (model.PortfolioSnapshot, error)
}

var _ Snapshotter = (*portfolio.Aggregator)(nil)

// RebalanceStrategy watches allocation drift against fixed targets.
type RebalanceStrategy struct {
	snapshots Snapshotter
	wallet    string
	chainIDs  []int64
	targets   []model.AllocationTarget
	cfg       planner.Config
}

func NewRebalanceStrategy(snapshots Snapshotter, wallet string, chainIDs []int64, targets []model.AllocationTarget, cfg planner.Config) *RebalanceStrategy {
	return &RebalanceStrategy{snapshots: snapshots, wallet: wallet, chainIDs: chainIDs, targets: targets, cfg: cfg}
}

func (s *RebalanceStrategy) Role() string { return intent.RoleRebalancer }

func (s *RebalanceStrategy) Evaluate(ctx context.Context) ([]model.ProposedAction, string, error) {
	snapshot, err := s.snapshots.Snapshot(ctx, s.wallet, s.chainIDs)
	if err != nil {
		return nil, "", err
	}
	if unavailable := unavailableChains(snapshot); len(unavailable) > 0 {
		// Planning against a false zero could sell holdings the snapshot
		// simply failed to see.
		logger := logging.FromContext(ctx)
		logger.Warn().
			Ints64("chains", unavailable).
			Msg("refusing to rebalance against partial balances")
		return nil, fmt.Sprintf("%d chain(s) unreachable; refusing to plan against partial balances", len(unavailable)), nil
	}
	actions := planner.ProposeRebalance(snapshot, s.targets, s.cfg)
	if len(actions) == 0 {
		return nil, fmt.Sprintf("all targets within %.1f%% drift threshold", s.cfg.RebalanceThresholdPct), nil
	}
	return actions, "", nil
}

// YieldStrategy compares held assets against the filtered yield feed.
type YieldStrategy struct {
	snapshots  Snapshotter
	feed       yieldfeed.Feed
	wallet     string
	chainIDs   []int64
	currentAPY map[string]float64
	filter     yieldfeed.Filter
	cfg        planner.Config
}

func NewYieldStrategy(snapshots Snapshotter, feed yieldfeed.Feed, wallet string, chainIDs []int64, currentAPY map[string]float64, filter yieldfeed.Filter, cfg planner.Config) *YieldStrategy {
	return &YieldStrategy{
		snapshots:  snapshots,
		feed:       feed,
		wallet:     wallet,
		chainIDs:   chainIDs,
		currentAPY: currentAPY,
		filter:     filter,
		cfg:        cfg,
	}
}

func (s *YieldStrategy) Role() string { return intent.RoleYield }

func (s *YieldStrategy) Evaluate(ctx context.Context) ([]model.ProposedAction, string, error) {
	snapshot, err := s.snapshots.Snapshot(ctx, s.wallet, s.chainIDs)
	if err != nil {
		return nil, "", err
	}
	opportunities, err := s.feed.Opportunities(ctx, s.filter)
	if err != nil {
		return nil, "", err
	}
	actions := planner.ProposeYieldRotation(snapshot, opportunities, s.currentAPY, s.cfg)
	if len(actions) == 0 {
		return nil, fmt.Sprintf("no pool beats current APY by %.1f%%", s.cfg.YieldMinImprovementPct), nil
	}
	return actions, "", nil
}

// ArbitrageStrategy scans tracked symbols for cross-chain price gaps.
type ArbitrageStrategy struct {
	scanner  *planner.ArbitrageScanner
	symbols  []string
	chainIDs []int64
}

func NewArbitrageStrategy(scanner *planner.ArbitrageScanner, symbols []string, chainIDs []int64) *ArbitrageStrategy {
	return &ArbitrageStrategy{scanner: scanner, symbols: symbols, chainIDs: chainIDs}
}

func (s *ArbitrageStrategy) Role() string { return intent.RoleArbitrage }

func (s *ArbitrageStrategy) Evaluate(ctx context.Context) ([]model.ProposedAction, string, error) {
	var actions []model.ProposedAction
	for _, symbol := range s.symbols {
		found, err := s.scanner.Scan(ctx, symbol, s.chainIDs)
		if err != nil {
			return nil, "", err
		}
		actions = append(actions, found...)
	}
	if len(actions) == 0 {
		return nil, "no profitable spread across tracked symbols", nil
	}
	return actions, "", nil
}

// PortfolioWatchStrategy reports value movement beyond a percentage band.
// It proposes nothing; discoveries surface through the cycle reason.
type PortfolioWatchStrategy struct {
	snapshots    Snapshotter
	lastValue    func(address string) (float64, bool, error)
	wallet       string
	chainIDs     []int64
	alertBandPct float64
}

func NewPortfolioWatchStrategy(agg *portfolio.Aggregator, wallet string, chainIDs []int64, alertBandPct float64) *PortfolioWatchStrategy {
	return &PortfolioWatchStrategy{
		snapshots: agg,
		lastValue: func(address string) (float64, bool, error) {
			value, _, ok, err := agg.LastValue(address)
			return value, ok, err
		},
		wallet:       wallet,
		chainIDs:     chainIDs,
		alertBandPct: alertBandPct,
	}
}

func (s *PortfolioWatchStrategy) Role() string { return intent.RoleMonitor }

func (s *PortfolioWatchStrategy) Evaluate(ctx context.Context) ([]model.ProposedAction, string, error) {
	// The stored value point is read before Snapshot overwrites it.
	prior, hadPrior, err := s.lastValue(s.wallet)
	if err != nil {
		return nil, "", err
	}
	snapshot, err := s.snapshots.Snapshot(ctx, s.wallet, s.chainIDs)
	if err != nil {
		return nil, "", err
	}
	if !hadPrior {
		return nil, "first observation recorded; no prior value point", nil
	}
	if prior <= 0 {
		return nil, "prior value point unusable", nil
	}
	delta := snapshot.TotalValueUSD - prior
	movedPct := delta / prior * 100
	if movedPct >= s.alertBandPct || movedPct <= -s.alertBandPct {
		return nil, fmt.Sprintf("portfolio moved %+.2f%% ($%+.2f) since last observation", movedPct, delta), nil
	}
	return nil, fmt.Sprintf("portfolio within %.1f%% band (%+.2f%%)", s.alertBandPct, movedPct), nil
}

func unavailableChains(snapshot model.PortfolioSnapshot) []int64 {
	var out []int64
	for _, c := range snapshot.Chains {
		if c.Status == model.ChainUnavailable {
			out = append(out, c.ChainID)
		}
	}
	return out
}
