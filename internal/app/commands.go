package app

import (
	"fmt"
	"math"
	"math/big"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	cperr "github.com/ggonzalez94/chainpilot/internal/errors"
	"github.com/ggonzalez94/chainpilot/internal/execution"
	"github.com/ggonzalez94/chainpilot/internal/gateway"
	"github.com/ggonzalez94/chainpilot/internal/intent"
	"github.com/ggonzalez94/chainpilot/internal/loop"
	"github.com/ggonzalez94/chainpilot/internal/model"
	"github.com/ggonzalez94/chainpilot/internal/planner"
	"github.com/ggonzalez94/chainpilot/internal/registry"
	"github.com/ggonzalez94/chainpilot/internal/version"
)

func (s *runtimeState) newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(s.runner.stdout, version.Long())
			return err
		},
	}
}

func (s *runtimeState) newSnapshotCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Aggregate balances across chains into one valued snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			wallet, err := s.requireWallet()
			if err != nil {
				return err
			}
			chainIDs, err := s.resolveChains()
			if err != nil {
				return err
			}

			prior, priorAt, hadPrior, _ := s.aggregator.LastValue(wallet)
			snapshot, err := s.aggregator.Snapshot(cmd.Context(), wallet, chainIDs)
			if err != nil {
				return err
			}

			out := struct {
				Snapshot model.PortfolioSnapshot `json:"snapshot"`
				DeltaUSD *float64                `json:"delta_usd,omitempty"`
				Since    string                  `json:"since,omitempty"`
			}{Snapshot: snapshot}
			if hadPrior {
				delta := snapshot.TotalValueUSD - prior
				out.DeltaUSD = &delta
				out.Since = priorAt.Format("2006-01-02T15:04:05Z07:00")
			}
			return s.writeJSON(out)
		},
	}
}

func (s *runtimeState) newClassifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <text>",
		Short: "Map free text onto a workflow and the roles it activates",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			analysis := intent.Classify(strings.Join(args, " "))
			return s.writeJSON(analysis)
		},
	}
}

func (s *runtimeState) newPlanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Produce proposed actions from observed state",
	}
	cmd.AddCommand(s.newPlanRebalanceCommand(), s.newPlanYieldCommand(), s.newPlanArbCommand())
	return cmd
}

func (s *runtimeState) newPlanRebalanceCommand() *cobra.Command {
	var targetsFlag string
	cmd := &cobra.Command{
		Use:   "rebalance",
		Short: "Propose trades that close allocation drift",
		RunE: func(cmd *cobra.Command, args []string) error {
			wallet, err := s.requireWallet()
			if err != nil {
				return err
			}
			chainIDs, err := s.resolveChains()
			if err != nil {
				return err
			}
			targets, err := parseTargets(targetsFlag)
			if err != nil {
				return err
			}

			snapshot, err := s.aggregator.Snapshot(cmd.Context(), wallet, chainIDs)
			if err != nil {
				return err
			}
			reports := planner.ComputeDrift(snapshot, targets)
			actions := planner.ProposeRebalance(snapshot, targets, s.plannerConfig())
			return s.writeJSON(struct {
				Drift   []model.DriftReport    `json:"drift"`
				Actions []model.ProposedAction `json:"actions"`
			}{Drift: reports, Actions: actions})
		},
	}
	cmd.Flags().StringVar(&targetsFlag, "targets", "", `allocation targets, e.g. "ETH=50,USDC=50"`)
	_ = cmd.MarkFlagRequired("targets")
	return cmd
}

func (s *runtimeState) newPlanYieldCommand() *cobra.Command {
	var apyFlag string
	cmd := &cobra.Command{
		Use:   "yield",
		Short: "Propose rotations into better-paying pools",
		RunE: func(cmd *cobra.Command, args []string) error {
			wallet, err := s.requireWallet()
			if err != nil {
				return err
			}
			chainIDs, err := s.resolveChains()
			if err != nil {
				return err
			}
			currentAPY, err := parseAPYMap(apyFlag)
			if err != nil {
				return err
			}

			snapshot, err := s.aggregator.Snapshot(cmd.Context(), wallet, chainIDs)
			if err != nil {
				return err
			}
			opportunities, err := s.yields.Opportunities(cmd.Context(), s.yieldFilter(chainIDs))
			if err != nil {
				return err
			}
			actions := planner.ProposeYieldRotation(snapshot, opportunities, currentAPY, s.plannerConfig())
			return s.writeJSON(struct {
				Opportunities []model.YieldOpportunity `json:"opportunities"`
				Actions       []model.ProposedAction   `json:"actions"`
			}{Opportunities: opportunities, Actions: actions})
		},
	}
	cmd.Flags().StringVar(&apyFlag, "current-apy", "", `APY of current positions, e.g. "USDC=3.1" (unset: idle at 0%)`)
	return cmd
}

func (s *runtimeState) newPlanArbCommand() *cobra.Command {
	var symbolsFlag string
	cmd := &cobra.Command{
		Use:   "arb",
		Short: "Scan chains for cross-chain price dislocations",
		RunE: func(cmd *cobra.Command, args []string) error {
			chainIDs, err := s.resolveChains()
			if err != nil {
				return err
			}
			symbols := splitList(symbolsFlag)
			if len(symbols) == 0 {
				symbols = []string{"WETH", "USDC"}
			}

			scanner := planner.NewArbitrageScanner(s.priceLookup, s.plannerConfig(), s.logger)
			var actions []model.ProposedAction
			for _, symbol := range symbols {
				found, err := scanner.Scan(cmd.Context(), strings.ToUpper(symbol), chainIDs)
				if err != nil {
					return err
				}
				actions = append(actions, found...)
			}
			return s.writeJSON(struct {
				Actions []model.ProposedAction `json:"actions"`
			}{Actions: actions})
		},
	}
	cmd.Flags().StringVar(&symbolsFlag, "symbols", "", "comma-separated symbols to scan")
	return cmd
}

func (s *runtimeState) newCycleCommand() *cobra.Command {
	var (
		targetsFlag string
		apyFlag     string
		symbolsFlag string
		watchPct    float64
	)
	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run one monitor->decide->act cycle for every role",
		RunE: func(cmd *cobra.Command, args []string) error {
			wallet, err := s.requireWallet()
			if err != nil {
				return err
			}
			chainIDs, err := s.resolveChains()
			if err != nil {
				return err
			}
			cfg := s.plannerConfig()

			var runners []*loop.Runner
			if targetsFlag != "" {
				targets, err := parseTargets(targetsFlag)
				if err != nil {
					return err
				}
				strategy := loop.NewRebalanceStrategy(s.aggregator, wallet, chainIDs, targets, cfg)
				runners = append(runners, loop.NewRunner(strategy, s.planner, s.phraser, s.notifier, wallet, s.logger))
			}

			currentAPY, err := parseAPYMap(apyFlag)
			if err != nil {
				return err
			}
			yieldStrategy := loop.NewYieldStrategy(s.aggregator, s.yields, wallet, chainIDs, currentAPY, s.yieldFilter(chainIDs), cfg)
			runners = append(runners, loop.NewRunner(yieldStrategy, s.planner, s.phraser, s.notifier, wallet, s.logger))

			symbols := splitList(symbolsFlag)
			if len(symbols) == 0 {
				symbols = []string{"WETH", "USDC"}
			}
			scanner := planner.NewArbitrageScanner(s.priceLookup, cfg, s.logger)
			arbStrategy := loop.NewArbitrageStrategy(scanner, symbols, chainIDs)
			runners = append(runners, loop.NewRunner(arbStrategy, s.planner, s.phraser, s.notifier, wallet, s.logger))

			watchStrategy := loop.NewPortfolioWatchStrategy(s.aggregator, wallet, chainIDs, watchPct)
			runners = append(runners, loop.NewRunner(watchStrategy, nil, s.phraser, s.notifier, wallet, s.logger))

			coordinator := loop.NewCoordinator(s.logger, runners...)
			report := coordinator.RunCycle(cmd.Context())
			return s.writeJSON(report)
		},
	}
	cmd.Flags().StringVar(&targetsFlag, "targets", "", `allocation targets, e.g. "ETH=50,USDC=50" (unset: skip rebalancing)`)
	cmd.Flags().StringVar(&apyFlag, "current-apy", "", `APY of current positions, e.g. "USDC=3.1"`)
	cmd.Flags().StringVar(&symbolsFlag, "symbols", "", "symbols the arbitrage scanner checks")
	cmd.Flags().Float64Var(&watchPct, "watch-band-pct", 5.0, "portfolio movement that triggers a monitor alert")
	return cmd
}

func (s *runtimeState) quoteRequestFlags(cmd *cobra.Command, req *quoteFlags) {
	cmd.Flags().StringVar(&req.fromChain, "from-chain", "", "source chain name or id")
	cmd.Flags().StringVar(&req.toChain, "to-chain", "", "destination chain name or id")
	cmd.Flags().StringVar(&req.fromToken, "from-token", "", "source token symbol")
	cmd.Flags().StringVar(&req.toToken, "to-token", "", "destination token symbol")
	cmd.Flags().StringVar(&req.amount, "amount", "", "token amount in whole units, e.g. 25.5")
	for _, name := range []string{"from-chain", "to-chain", "from-token", "to-token", "amount"} {
		_ = cmd.MarkFlagRequired(name)
	}
}

type quoteFlags struct {
	fromChain string
	toChain   string
	fromToken string
	toToken   string
	amount    string
}

func (s *runtimeState) newQuoteCommand() *cobra.Command {
	var flags quoteFlags
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Fetch a route quote through the rate-limited gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			wallet, err := s.requireWallet()
			if err != nil {
				return err
			}
			req, err := buildQuoteRequest(flags, wallet)
			if err != nil {
				return err
			}
			quote, err := s.gateway.GetQuote(cmd.Context(), req)
			if err != nil {
				return err
			}
			return s.writeJSON(quote)
		},
	}
	s.quoteRequestFlags(cmd, &flags)
	return cmd
}

func (s *runtimeState) newExecuteCommand() *cobra.Command {
	var (
		flags   quoteFlags
		confirm bool
	)
	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Prepare and, on confirmation, submit a route",
		RunE: func(cmd *cobra.Command, args []string) error {
			wallet, err := s.requireWallet()
			if err != nil {
				return err
			}
			req, err := buildQuoteRequest(flags, wallet)
			if err != nil {
				return err
			}
			quote, err := s.gateway.GetQuote(cmd.Context(), req)
			if err != nil {
				return err
			}
			plan := execution.ScoreQuote(quote, s.runner.now().UTC())

			if !confirm {
				return s.writeJSON(struct {
					Plan model.ExecutionPlan `json:"plan"`
					Note string              `json:"note"`
				}{Plan: plan, Note: "dry run; pass --yes to submit"})
			}

			plan, err = s.planner.EnsureFresh(cmd.Context(), plan)
			if err != nil {
				return err
			}
			signer, err := s.loadSigner(req.FromChain)
			if err != nil {
				return err
			}
			result, err := s.executor.Execute(cmd.Context(), plan, signer)
			if err != nil {
				return err
			}
			return s.writeJSON(result)
		},
	}
	s.quoteRequestFlags(cmd, &flags)
	cmd.Flags().BoolVar(&confirm, "yes", false, "submit the route instead of printing the plan")
	return cmd
}

func (s *runtimeState) newStatusCommand() *cobra.Command {
	var query gateway.StatusQuery
	var fromChain, toChain string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Poll settlement status for a submitted route",
		RunE: func(cmd *cobra.Command, args []string) error {
			if fromChain != "" {
				chain, err := resolveChainArg(fromChain)
				if err != nil {
					return err
				}
				query.FromChain = chain
			}
			if toChain != "" {
				chain, err := resolveChainArg(toChain)
				if err != nil {
					return err
				}
				query.ToChain = chain
			}
			detail, err := s.status.Status(cmd.Context(), query)
			if err != nil {
				return err
			}
			return s.writeJSON(detail)
		},
	}
	cmd.Flags().StringVar(&query.TxHash, "tx-hash", "", "transaction hash to poll")
	cmd.Flags().StringVar(&query.Bridge, "bridge", "", "bridge tool that carried the transfer")
	cmd.Flags().StringVar(&fromChain, "from-chain", "", "source chain name or id")
	cmd.Flags().StringVar(&toChain, "to-chain", "", "destination chain name or id")
	_ = cmd.MarkFlagRequired("tx-hash")
	return cmd
}

func (s *runtimeState) newHistoryCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded transactions for a wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			wallet, err := s.requireWallet()
			if err != nil {
				return err
			}
			if s.history == nil {
				return cperr.New(cperr.CodeUnavailable, "history store is not available")
			}
			records, err := s.history.List(wallet, limit)
			if err != nil {
				return err
			}
			return s.writeJSON(struct {
				Transactions []model.TransactionRecord `json:"transactions"`
			}{Transactions: records})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum records to return")
	return cmd
}

func (s *runtimeState) requireWallet() (string, error) {
	wallet := strings.TrimSpace(s.wallet)
	if wallet == "" {
		wallet = strings.TrimSpace(os.Getenv("CHAINPILOT_WALLET"))
	}
	if wallet == "" {
		return "", cperr.New(cperr.CodeWalletNotConnected, "no wallet address provided").
			WithHint("pass --wallet or set CHAINPILOT_WALLET")
	}
	return wallet, nil
}

func (s *runtimeState) resolveChains() ([]int64, error) {
	if strings.TrimSpace(s.chainsFlag) == "" {
		return registry.SupportedChainIDs(), nil
	}
	var out []int64
	for _, part := range splitList(s.chainsFlag) {
		id, err := resolveChainArg(part)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func (s *runtimeState) loadSigner(chainID int64) (execution.Signer, error) {
	key := strings.TrimSpace(os.Getenv("CHAINPILOT_PRIVATE_KEY"))
	if key == "" {
		return nil, cperr.New(cperr.CodeWalletNotConnected, "no signing key available").
			WithHint("set CHAINPILOT_PRIVATE_KEY to submit transactions")
	}
	return execution.NewLocalSigner(key, chainID, s.settings.RPCOverrides)
}

func resolveChainArg(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if _, ok := registry.ChainByID(id); !ok {
			return 0, cperr.New(cperr.CodeUsage, fmt.Sprintf("unsupported chain id %d", id))
		}
		return id, nil
	}
	chain, err := registry.ParseChain(raw)
	if err != nil {
		return 0, cperr.New(cperr.CodeUsage, fmt.Sprintf("unknown chain %q", raw))
	}
	return chain.ID, nil
}

func buildQuoteRequest(flags quoteFlags, wallet string) (model.QuoteRequest, error) {
	fromChain, err := resolveChainArg(flags.fromChain)
	if err != nil {
		return model.QuoteRequest{}, err
	}
	toChain, err := resolveChainArg(flags.toChain)
	if err != nil {
		return model.QuoteRequest{}, err
	}
	fromToken, ok := registry.TokenBySymbol(fromChain, strings.ToUpper(flags.fromToken))
	if !ok {
		return model.QuoteRequest{}, cperr.New(cperr.CodeUsage,
			fmt.Sprintf("token %s is not tracked on chain %d", flags.fromToken, fromChain))
	}
	toToken, ok := registry.TokenBySymbol(toChain, strings.ToUpper(flags.toToken))
	if !ok {
		return model.QuoteRequest{}, cperr.New(cperr.CodeUsage,
			fmt.Sprintf("token %s is not tracked on chain %d", flags.toToken, toChain))
	}
	amount, err := strconv.ParseFloat(strings.TrimSpace(flags.amount), 64)
	if err != nil || amount <= 0 {
		return model.QuoteRequest{}, cperr.New(cperr.CodeUsage, "amount must be a positive number")
	}
	return model.QuoteRequest{
		FromChain:   fromChain,
		ToChain:     toChain,
		FromToken:   fromToken.Address,
		ToToken:     toToken.Address,
		FromAmount:  toSmallestUnits(amount, fromToken.Decimals),
		FromAddress: wallet,
	}, nil
}

func toSmallestUnits(amount float64, decimals int) string {
	scaled := new(big.Float).SetFloat64(amount)
	scaled.Mul(scaled, new(big.Float).SetFloat64(math.Pow10(decimals)))
	out, _ := scaled.Int(nil)
	return out.String()
}

func parseTargets(raw string) ([]model.AllocationTarget, error) {
	parts := splitList(raw)
	if len(parts) == 0 {
		return nil, cperr.New(cperr.CodeUsage, "no allocation targets provided")
	}
	targets := make([]model.AllocationTarget, 0, len(parts))
	total := 0.0
	for _, part := range parts {
		symbol, value, found := strings.Cut(part, "=")
		if !found {
			return nil, cperr.New(cperr.CodeUsage, fmt.Sprintf("malformed target %q, expected SYMBOL=PERCENT", part))
		}
		pct, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil || pct < 0 {
			return nil, cperr.New(cperr.CodeUsage, fmt.Sprintf("malformed target percentage %q", value))
		}
		targets = append(targets, model.AllocationTarget{
			TokenSymbol:   strings.ToUpper(strings.TrimSpace(symbol)),
			TargetPercent: pct,
		})
		total += pct
	}
	// Targets need not cover the whole portfolio; the unallocated residual
	// is implicitly "other". Only an over-allocation is a mistake.
	if total > 100.01 {
		return nil, cperr.New(cperr.CodeUsage,
			fmt.Sprintf("allocation targets sum to %.2f%%, cannot exceed 100%%", total))
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].TokenSymbol < targets[j].TokenSymbol })
	return targets, nil
}

func parseAPYMap(raw string) (map[string]float64, error) {
	out := make(map[string]float64)
	for _, part := range splitList(raw) {
		symbol, value, found := strings.Cut(part, "=")
		if !found {
			return nil, cperr.New(cperr.CodeUsage, fmt.Sprintf("malformed APY entry %q, expected SYMBOL=APY", part))
		}
		apy, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, cperr.New(cperr.CodeUsage, fmt.Sprintf("malformed APY value %q", value))
		}
		out[strings.ToUpper(strings.TrimSpace(symbol))] = apy
	}
	return out, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
