package phrase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/ggonzalez94/chainpilot/internal/model"
)

func TestNewWithoutKeyReturnsTemplate(t *testing.T) {
	p := New("", "gpt-4o-mini", nil, zerolog.Nop())
	if _, ok := p.(Template); !ok {
		t.Fatalf("expected the template phraser, got %T", p)
	}
}

func TestTemplateCommentaryNeverEmpty(t *testing.T) {
	outcomes := []model.CycleOutcome{
		{Role: "monitor", Reason: "value moved 0.2%, below the 5.0% band"},
		{Role: "rebalancer", Acted: true, Proposals: []model.ProposedAction{
			{Kind: model.ActionRebalance, Token: "ETH", AmountUSD: 1000, Reason: "drift 8.0%"},
		}},
		{Role: "yield-scanner", Acted: true, Proposals: []model.ProposedAction{
			{Kind: model.ActionYield, Token: "USDC", ToChain: 8453},
		}},
		{Role: "arbitrage-scanner", Acted: true, Proposals: []model.ProposedAction{
			{Kind: model.ActionArbitrage, Token: "WETH", FromChain: 10, ToChain: 1},
		}},
	}
	for _, outcome := range outcomes {
		text := Template{}.Commentary(context.Background(), outcome)
		if strings.TrimSpace(text) == "" {
			t.Fatalf("empty commentary for %+v", outcome)
		}
		if !strings.Contains(text, outcome.Role) {
			t.Fatalf("commentary should name the role, got %q", text)
		}
	}
}

type failingCompletion struct{}

func (failingCompletion) CreateChatCompletion(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return openai.ChatCompletionResponse{}, errors.New("service unavailable")
}

func TestEnhancedFallsBackWhenServiceFails(t *testing.T) {
	e := &Enhanced{client: failingCompletion{}, model: "gpt-4o-mini", logger: zerolog.Nop()}
	outcome := model.CycleOutcome{Role: "monitor", Reason: "no threshold crossed"}

	got := e.Commentary(context.Background(), outcome)
	want := Template{}.Commentary(context.Background(), outcome)
	if got != want {
		t.Fatalf("expected the template fallback %q, got %q", want, got)
	}
}

type cannedCompletion struct {
	text string
}

func (c cannedCompletion) CreateChatCompletion(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: c.text}},
		},
	}, nil
}

func TestEnhancedUsesCompletionText(t *testing.T) {
	e := &Enhanced{client: cannedCompletion{text: "Nothing moved enough to act on."}, model: "gpt-4o-mini", logger: zerolog.Nop()}
	got := e.Commentary(context.Background(), model.CycleOutcome{Role: "monitor", Reason: "no threshold crossed"})
	if got != "Nothing moved enough to act on." {
		t.Fatalf("unexpected commentary %q", got)
	}
}

func TestEnhancedRejectsEmptyCompletion(t *testing.T) {
	e := &Enhanced{client: cannedCompletion{text: "   "}, model: "gpt-4o-mini", logger: zerolog.Nop()}
	outcome := model.CycleOutcome{Role: "monitor", Reason: "no threshold crossed"}
	got := e.Commentary(context.Background(), outcome)
	if got != (Template{}).Commentary(context.Background(), outcome) {
		t.Fatalf("blank completion must degrade to the template, got %q", got)
	}
}
