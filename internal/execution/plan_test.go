package execution

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	cperr "github.com/ggonzalez94/chainpilot/internal/errors"
	"github.com/ggonzalez94/chainpilot/internal/model"
)

func TestReadinessGateBlocksOnEitherCondition(t *testing.T) {
	cases := []struct {
		name     string
		score    int
		warnings int
		want     bool
	}{
		{"high score blocks regardless of warnings", 55, 0, false},
		{"low score with many warnings blocks", 10, 4, false},
		{"boundary score blocks", 50, 0, false},
		{"boundary warning count blocks", 0, 3, false},
		{"low score and few warnings pass", 49, 2, true},
		{"clean plan passes", 0, 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ReadinessGate(tc.score, tc.warnings); got != tc.want {
				t.Fatalf("ReadinessGate(%d, %d) = %v, want %v", tc.score, tc.warnings, got, tc.want)
			}
		})
	}
}

func TestScoreQuoteAccumulatesHeuristics(t *testing.T) {
	quote := model.Quote{
		Request:         model.QuoteRequest{FromChain: 1, ToChain: 8453},
		EstimatedOutUSD: 980,
		Fees: model.FeeBreakdown{
			GasFeeUSD:   60, // 0.03 ETH at the $2000 fallback, over the 0.01 ETH line
			TotalFeeUSD: 75,
		},
		IncludedSteps: []model.RouteStep{
			{Tool: "across", Type: "cross", SlippageFeePct: 6},
			{Tool: "stargate", Type: "cross"},
			{Tool: "hop", Type: "cross"},
			{Tool: "uniswap", Type: "swap"},
		},
		FetchedAt: time.Now(),
	}

	plan := ScoreQuote(quote, time.Now().UTC())

	// +30 slippage, +20 gas, +15 steps, +10 tools.
	if plan.RiskScore != 75 {
		t.Fatalf("expected risk score 75, got %d", plan.RiskScore)
	}
	if plan.ReadyToExecute {
		t.Fatal("plan with score 75 must not be ready")
	}
	if len(plan.Warnings) < 3 {
		t.Fatalf("expected warnings for each triggered heuristic, got %v", plan.Warnings)
	}
	if plan.NetValueUSD != 980-75 {
		t.Fatalf("unexpected net value: %v", plan.NetValueUSD)
	}
}

func TestScoreQuoteCleanRouteIsReady(t *testing.T) {
	quote := model.Quote{
		Request:         model.QuoteRequest{FromChain: 1, ToChain: 8453},
		EstimatedOutUSD: 1000,
		Fees:            model.FeeBreakdown{GasFeeUSD: 4, TotalFeeUSD: 5},
		IncludedSteps: []model.RouteStep{
			{Tool: "across", Type: "cross", SlippageFeePct: 0.1},
		},
		FetchedAt: time.Now(),
	}
	plan := ScoreQuote(quote, time.Now().UTC())
	if plan.RiskScore != 0 {
		t.Fatalf("expected risk score 0, got %d", plan.RiskScore)
	}
	if !plan.ReadyToExecute {
		t.Fatalf("clean plan should be ready, warnings: %v", plan.Warnings)
	}
}

type scriptedQuotes struct {
	quotes []model.Quote
	errs   []error
	calls  int
}

func (s *scriptedQuotes) GetQuote(context.Context, model.QuoteRequest) (model.Quote, error) {
	i := s.calls
	s.calls++
	if i >= len(s.quotes) {
		i = len(s.quotes) - 1
	}
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return s.quotes[i], err
}

func freshQuote(outUSD float64, fetchedAt time.Time) model.Quote {
	return model.Quote{
		Request:         model.QuoteRequest{FromChain: 1, ToChain: 8453},
		EstimatedOutUSD: outUSD,
		Fees:            model.FeeBreakdown{GasFeeUSD: 2, TotalFeeUSD: 3},
		FetchedAt:       fetchedAt,
	}
}

func TestEnsureFreshKeepsYoungQuotes(t *testing.T) {
	source := &scriptedQuotes{quotes: []model.Quote{freshQuote(1000, time.Now())}}
	p := NewPlanner(source, PlannerConfig{QuoteStaleness: 30 * time.Second, RequoteTolerancePct: 1}, zerolog.Nop())

	plan := ScoreQuote(freshQuote(1000, time.Now()), time.Now().UTC())
	got, err := p.EnsureFresh(context.Background(), plan)
	if err != nil {
		t.Fatalf("EnsureFresh failed: %v", err)
	}
	if source.calls != 0 {
		t.Fatal("young quote must not be re-fetched")
	}
	if got.Quote.EstimatedOutUSD != 1000 {
		t.Fatalf("plan changed unexpectedly: %+v", got)
	}
}

func TestEnsureFreshRefreshesWithinTolerance(t *testing.T) {
	source := &scriptedQuotes{quotes: []model.Quote{freshQuote(1004, time.Now())}}
	p := NewPlanner(source, PlannerConfig{QuoteStaleness: 30 * time.Second, RequoteTolerancePct: 1}, zerolog.Nop())

	stale := ScoreQuote(freshQuote(1000, time.Now().Add(-2*time.Minute)), time.Now().UTC())
	got, err := p.EnsureFresh(context.Background(), stale)
	if err != nil {
		t.Fatalf("EnsureFresh failed: %v", err)
	}
	if source.calls != 1 {
		t.Fatalf("expected one re-quote, got %d", source.calls)
	}
	if got.Quote.EstimatedOutUSD != 1004 {
		t.Fatalf("expected refreshed quote, got %+v", got.Quote)
	}
}

func TestEnsureFreshRejectsDeviatingRequote(t *testing.T) {
	source := &scriptedQuotes{quotes: []model.Quote{freshQuote(950, time.Now())}}
	p := NewPlanner(source, PlannerConfig{QuoteStaleness: 30 * time.Second, RequoteTolerancePct: 1}, zerolog.Nop())

	stale := ScoreQuote(freshQuote(1000, time.Now().Add(-2*time.Minute)), time.Now().UTC())
	_, err := p.EnsureFresh(context.Background(), stale)
	if got := cperr.CodeOf(err); got != cperr.CodeStale {
		t.Fatalf("expected stale code, got %v (%v)", got, err)
	}
	if cperr.Hint(err) == "" {
		t.Fatal("expected a reconfirmation hint")
	}
}
