// Package execution turns a proposed action into a scored, gated plan and
// submits gated plans through a wallet signer.
package execution

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/rs/zerolog"

	cperr "github.com/ggonzalez94/chainpilot/internal/errors"
	"github.com/ggonzalez94/chainpilot/internal/model"
	"github.com/ggonzalez94/chainpilot/internal/registry"
)

// Risk heuristic constants. The scorer is a fixed heuristic: deterministic
// given the same quote.
const (
	highSlippagePct   = 5.0
	highGasETH        = 0.01
	maxRouteSteps     = 3
	maxBridgeTools    = 2
	readyScoreCeiling = 50
	readyWarningLimit = 3
)

// QuoteSource is the gateway capability the planner consumes.
type QuoteSource interface {
	GetQuote(ctx context.Context, req model.QuoteRequest) (model.Quote, error)
}

type PlannerConfig struct {
	// QuoteStaleness bounds how old a quote may be at execution time.
	QuoteStaleness time.Duration
	// RequoteTolerancePct is the output deviation a silent re-quote may
	// absorb; beyond it the caller must reconfirm.
	RequoteTolerancePct float64
}

type Planner struct {
	quotes QuoteSource
	cfg    PlannerConfig
	now    func() time.Time
	logger zerolog.Logger
}

func NewPlanner(quotes QuoteSource, cfg PlannerConfig, logger zerolog.Logger) *Planner {
	if cfg.QuoteStaleness <= 0 {
		cfg.QuoteStaleness = 30 * time.Second
	}
	if cfg.RequoteTolerancePct <= 0 {
		cfg.RequoteTolerancePct = 1.0
	}
	return &Planner{quotes: quotes, cfg: cfg, now: time.Now, logger: logger}
}

// Prepare quotes one proposed action and scores the result. A failed quote
// means no plan; the planner never fabricates one.
func (p *Planner) Prepare(ctx context.Context, action model.ProposedAction, wallet string) (model.ExecutionPlan, error) {
	req, err := buildQuoteRequest(action, wallet)
	if err != nil {
		return model.ExecutionPlan{}, err
	}
	quote, err := p.quotes.GetQuote(ctx, req)
	if err != nil {
		return model.ExecutionPlan{}, err
	}
	plan := ScoreQuote(quote, p.now().UTC())
	plan.SourceActionKind = action.Kind
	plan.SourceActionToken = action.Token
	p.logger.Debug().
		Int("risk_score", plan.RiskScore).
		Int("warnings", len(plan.Warnings)).
		Bool("ready", plan.ReadyToExecute).
		Msg("execution plan scored")
	return plan, nil
}

// EnsureFresh re-quotes a stale plan. If the refreshed output deviates from
// the original beyond the tolerance, the plan is rejected so the caller can
// reconfirm with the new numbers.
func (p *Planner) EnsureFresh(ctx context.Context, plan model.ExecutionPlan) (model.ExecutionPlan, error) {
	now := p.now().UTC()
	if plan.Quote.Age(now) <= p.cfg.QuoteStaleness {
		return plan, nil
	}

	fresh, err := p.quotes.GetQuote(ctx, plan.Quote.Request)
	if err != nil {
		return model.ExecutionPlan{}, cperr.Wrap(cperr.CodeStale, "stale quote could not be refreshed", err)
	}
	deviation := outputDeviationPct(plan.Quote.EstimatedOutUSD, fresh.EstimatedOutUSD)
	if deviation > p.cfg.RequoteTolerancePct {
		return model.ExecutionPlan{}, cperr.New(cperr.CodeStale,
			fmt.Sprintf("re-quoted output moved %.2f%% (tolerance %.2f%%)", deviation, p.cfg.RequoteTolerancePct)).
			WithHint("review the new quote and confirm again")
	}

	refreshed := ScoreQuote(fresh, now)
	refreshed.SourceActionKind = plan.SourceActionKind
	refreshed.SourceActionToken = plan.SourceActionToken
	return refreshed, nil
}

// ScoreQuote applies the 100-point risk heuristic:
// +30 any step slippage over 5%, +20 gas above a fixed ETH threshold,
// +15 more than 3 steps, +10 more than 2 distinct bridge tools.
func ScoreQuote(quote model.Quote, preparedAt time.Time) model.ExecutionPlan {
	score := 0
	var warnings []string

	worstSlippage := 0.0
	for _, step := range quote.IncludedSteps {
		if step.SlippageFeePct > worstSlippage {
			worstSlippage = step.SlippageFeePct
		}
	}
	if worstSlippage > highSlippagePct {
		score += 30
		warnings = append(warnings, fmt.Sprintf("step slippage %.2f%% exceeds %.0f%%", worstSlippage, highSlippagePct))
	} else if worstSlippage > highSlippagePct/2 {
		warnings = append(warnings, fmt.Sprintf("step slippage %.2f%% is elevated", worstSlippage))
	}

	ethPrice, _ := registry.FallbackPrice("ETH")
	gasETH := 0.0
	if ethPrice > 0 {
		gasETH = quote.Fees.GasFeeUSD / ethPrice
	}
	if gasETH > highGasETH {
		score += 20
		warnings = append(warnings, fmt.Sprintf("gas cost %.4f ETH exceeds %.2f ETH", gasETH, highGasETH))
	}

	if len(quote.IncludedSteps) > maxRouteSteps {
		score += 15
		warnings = append(warnings, fmt.Sprintf("route has %d steps", len(quote.IncludedSteps)))
	}

	tools := make(map[string]bool)
	for _, step := range quote.IncludedSteps {
		if step.Tool != "" {
			tools[step.Tool] = true
		}
	}
	if len(tools) > maxBridgeTools {
		score += 10
		warnings = append(warnings, fmt.Sprintf("route crosses %d distinct bridge tools", len(tools)))
	}

	return model.ExecutionPlan{
		Quote:           quote,
		RiskScore:       score,
		Steps:           buildSteps(quote),
		EstimatedOutUSD: quote.EstimatedOutUSD,
		GasCostUSD:      quote.Fees.GasFeeUSD,
		NetValueUSD:     quote.EstimatedOutUSD - quote.Fees.TotalFeeUSD,
		Warnings:        warnings,
		ReadyToExecute:  ReadinessGate(score, len(warnings)),
		PreparedAt:      preparedAt,
	}
}

// ReadinessGate is the boolean decision of whether a plan may proceed to
// signing. Both conditions block independently.
func ReadinessGate(riskScore, warningCount int) bool {
	return riskScore < readyScoreCeiling && warningCount < readyWarningLimit
}

func buildSteps(quote model.Quote) []model.ExecutionStep {
	steps := make([]model.ExecutionStep, 0, len(quote.IncludedSteps)+1)
	if quote.TransactionTo != "" {
		steps = append(steps, model.ExecutionStep{
			Description: "submit route transaction",
			ChainID:     quote.Request.FromChain,
			Target:      quote.TransactionTo,
			Data:        quote.TransactionData,
			Value:       quote.TransactionValue,
		})
	}
	for _, s := range quote.IncludedSteps {
		steps = append(steps, model.ExecutionStep{
			Description: fmt.Sprintf("%s via %s (chain %d -> %d)", s.Type, s.Tool, s.FromChain, s.ToChain),
			ChainID:     s.FromChain,
			Tool:        s.Tool,
		})
	}
	return steps
}

func buildQuoteRequest(action model.ProposedAction, wallet string) (model.QuoteRequest, error) {
	if strings.TrimSpace(wallet) == "" {
		return model.QuoteRequest{}, cperr.New(cperr.CodeWalletNotConnected, "execution planning requires a wallet address")
	}
	fromToken, ok := registry.TokenBySymbol(action.FromChain, action.FromToken)
	if !ok {
		return model.QuoteRequest{}, cperr.New(cperr.CodeUsage,
			fmt.Sprintf("token %s is not tracked on chain %d", action.FromToken, action.FromChain))
	}
	toToken, ok := registry.TokenBySymbol(action.ToChain, action.ToToken)
	if !ok {
		return model.QuoteRequest{}, cperr.New(cperr.CodeUsage,
			fmt.Sprintf("token %s is not tracked on chain %d", action.ToToken, action.ToChain))
	}
	amountToken := action.AmountToken
	if amountToken <= 0 && registry.IsStable(action.FromToken) {
		amountToken = action.AmountUSD
	}
	if amountToken <= 0 {
		return model.QuoteRequest{}, cperr.New(cperr.CodeUsage, "proposed action has no token amount to quote")
	}
	return model.QuoteRequest{
		FromChain:   action.FromChain,
		ToChain:     action.ToChain,
		FromToken:   fromToken.Address,
		ToToken:     toToken.Address,
		FromAmount:  amountInUnits(amountToken, fromToken.Decimals),
		FromAddress: wallet,
	}, nil
}

// amountInUnits converts a decimal token amount to an integer string in the
// token's smallest unit, truncating sub-unit dust.
func amountInUnits(amount float64, decimals int) string {
	scaled := new(big.Float).SetFloat64(amount)
	scaled.Mul(scaled, new(big.Float).SetFloat64(math.Pow10(decimals)))
	out, _ := scaled.Int(nil)
	if out.Sign() < 0 {
		return "0"
	}
	return out.String()
}

func outputDeviationPct(oldUSD, newUSD float64) float64 {
	if oldUSD <= 0 {
		return 0
	}
	return math.Abs(newUSD-oldUSD) / oldUSD * 100
}
