// Package app wires the CLI: configuration, logging, stores, clients and
// the command tree.
package app

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ggonzalez94/chainpilot/internal/cache"
	"github.com/ggonzalez94/chainpilot/internal/config"
	cperr "github.com/ggonzalez94/chainpilot/internal/errors"
	"github.com/ggonzalez94/chainpilot/internal/execution"
	"github.com/ggonzalez94/chainpilot/internal/gateway"
	"github.com/ggonzalez94/chainpilot/internal/history"
	"github.com/ggonzalez94/chainpilot/internal/httpx"
	"github.com/ggonzalez94/chainpilot/internal/logging"
	"github.com/ggonzalez94/chainpilot/internal/notify"
	"github.com/ggonzalez94/chainpilot/internal/phrase"
	"github.com/ggonzalez94/chainpilot/internal/planner"
	"github.com/ggonzalez94/chainpilot/internal/portfolio"
	"github.com/ggonzalez94/chainpilot/internal/prices"
	"github.com/ggonzalez94/chainpilot/internal/version"
	"github.com/ggonzalez94/chainpilot/internal/yieldfeed"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{stdout: stdout, stderr: stderr, now: time.Now}
}

type runtimeState struct {
	runner   *Runner
	settings config.Settings
	logger   zerolog.Logger

	configPath string
	wallet     string
	chainsFlag string

	cache   *cache.Store
	history *history.Store

	httpClient  *httpx.Client
	prices      *prices.Client
	priceLookup prices.Lookup
	yields      *yieldfeed.Client
	gateway     *gateway.Gateway
	status      *gateway.StatusClient
	planner     *execution.Planner
	executor    *execution.Executor
	aggregator  *portfolio.Aggregator
	phraser     phrase.Phraser
	notifier    notify.Emitter
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r}
	root := state.newRootCommand()
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	state.close()
	if err == nil {
		return 0
	}
	state.renderError(err)
	return cperr.ExitCode(err)
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Cross-chain capital allocation engine",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "version" {
				return nil
			}
			return s.bootstrap()
		},
	}
	cmd.PersistentFlags().StringVar(&s.configPath, "config", "", "path to config file")
	cmd.PersistentFlags().StringVar(&s.wallet, "wallet", "", "wallet address")
	cmd.PersistentFlags().StringVar(&s.chainsFlag, "chains", "", "comma-separated chain names or ids (default: all supported)")

	cmd.AddCommand(
		s.newVersionCommand(),
		s.newSnapshotCommand(),
		s.newClassifyCommand(),
		s.newPlanCommand(),
		s.newCycleCommand(),
		s.newQuoteCommand(),
		s.newExecuteCommand(),
		s.newStatusCommand(),
		s.newHistoryCommand(),
	)
	return cmd
}

// bootstrap resolves configuration and builds the shared component graph.
// Commands that never touch a component pay nothing extra: everything here
// is cheap until first use except the store opens.
func (s *runtimeState) bootstrap() error {
	settings, err := config.Load(s.configPath)
	if err != nil {
		return cperr.Wrap(cperr.CodeUsage, "load configuration", err)
	}
	s.settings = settings

	logCfg := logging.DefaultConfig()
	logCfg.Level = settings.LogLevel
	logCfg.FilePath = settings.LogFile
	s.logger = logging.New(logCfg)

	cacheStore, err := cache.Open(settings.CachePath, settings.CacheLockPath)
	if err != nil {
		s.logger.Warn().Err(err).Msg("cache unavailable, running without quote cache")
	} else {
		s.cache = cacheStore
		_ = cacheStore.Prune()
	}

	historyStore, err := history.Open(settings.HistoryPath, settings.HistoryLock)
	if err != nil {
		s.logger.Warn().Err(err).Msg("history store unavailable, running without transaction log")
	} else {
		s.history = historyStore
	}

	s.httpClient = httpx.New(settings.Timeout, settings.Retries)
	s.prices = prices.New(s.httpClient)
	s.priceLookup = prices.NewCached(s.prices)
	s.yields = yieldfeed.New(s.httpClient)

	routing := gateway.NewHTTPRoutingClient(s.httpClient, settings.RoutingAPIKey)
	s.gateway = gateway.New(routing, s.cache, gateway.Options{
		MinInterval:    settings.QuoteInterval(),
		MaxRetries:     settings.QuoteMaxRetries,
		RetryBaseDelay: settings.QuoteRetryBaseDelay,
		HasCredential:  settings.RoutingAPIKey != "",
	}, s.logger)
	s.status = gateway.NewStatusClient(s.httpClient)

	s.planner = execution.NewPlanner(s.gateway, execution.PlannerConfig{
		QuoteStaleness:      settings.QuoteStaleness,
		RequoteTolerancePct: settings.RequoteTolerancePct,
	}, s.logger)
	s.executor = execution.NewExecutor(s.history, s.logger)

	reader, err := portfolio.NewEVMReader(settings.RPCOverrides)
	if err != nil {
		return cperr.Wrap(cperr.CodeInternal, "initialize chain reader", err)
	}
	s.aggregator = portfolio.NewAggregator(reader, s.prices, s.history, s.logger)

	s.phraser = phrase.New(settings.OpenAIAPIKey, settings.OpenAIModel, s.cache, s.logger)
	s.notifier = notify.NewLogEmitter(s.logger)
	if settings.NotifyWebhookURL != "" {
		s.notifier = notify.Fanout{
			notify.NewLogEmitter(s.logger),
			notify.NewWebhookEmitter(s.httpClient, settings.NotifyWebhookURL),
		}
	}
	return nil
}

func (s *runtimeState) close() {
	if s.gateway != nil {
		s.gateway.Close()
	}
	if s.cache != nil {
		_ = s.cache.Close()
	}
	if s.history != nil {
		_ = s.history.Close()
	}
}

func (s *runtimeState) plannerConfig() planner.Config {
	return planner.Config{
		RebalanceThresholdPct:  s.settings.RebalanceThresholdPct,
		MinTradeValueUSD:       s.settings.MinTradeValueUSD,
		YieldMinImprovementPct: s.settings.YieldMinImprovement,
		ArbMinSpreadPct:        s.settings.ArbMinSpreadPct,
		ArbFeePct:              s.settings.ArbFeePct,
		ArbNotionalUSD:         s.settings.ArbNotionalUSD,
	}
}

func (s *runtimeState) yieldFilter(chainIDs []int64) yieldfeed.Filter {
	return yieldfeed.Filter{
		ChainIDs:   chainIDs,
		MinTVLUSD:  s.settings.YieldMinTVLUSD,
		APYCeiling: s.settings.YieldAPYCeiling,
	}
}

func (s *runtimeState) writeJSON(v any) error {
	enc := json.NewEncoder(s.runner.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Hint    string `json:"hint,omitempty"`
	} `json:"error"`
}

func (s *runtimeState) renderError(err error) {
	var env errorEnvelope
	env.Error.Code = cperr.CodeOf(err).String()
	env.Error.Message = err.Error()
	env.Error.Hint = cperr.Hint(err)
	enc := json.NewEncoder(s.runner.stderr)
	enc.SetIndent("", "  ")
	_ = enc.Encode(env)
}
