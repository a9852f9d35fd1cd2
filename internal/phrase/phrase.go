// Package phrase renders human-readable commentary for decisions. The
// generative layer is an optional decorator: it never decides anything, and
// every call site works with it disabled via deterministic templates.
package phrase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/ggonzalez94/chainpilot/internal/cache"
	"github.com/ggonzalez94/chainpilot/internal/model"
)

// Phraser turns a cycle outcome into a sentence or two for humans. It must
// not fail: a degraded phrasing is still a phrasing.
type Phraser interface {
	Commentary(ctx context.Context, outcome model.CycleOutcome) string
}

// Template is the rule-based fallback and the baseline every enhanced
// phrasing must be able to degrade to.
type Template struct{}

func (Template) Commentary(_ context.Context, outcome model.CycleOutcome) string {
	if !outcome.Acted {
		return fmt.Sprintf("%s: no action taken. %s", outcome.Role, outcome.Reason)
	}
	parts := make([]string, 0, len(outcome.Proposals))
	for _, p := range outcome.Proposals {
		switch p.Kind {
		case model.ActionRebalance:
			parts = append(parts, fmt.Sprintf("rebalance %s for $%.2f (%s)", p.Token, p.AmountUSD, p.Reason))
		case model.ActionYield:
			parts = append(parts, fmt.Sprintf("rotate %s to chain %d for better yield", p.Token, p.ToChain))
		case model.ActionArbitrage:
			parts = append(parts, fmt.Sprintf("arbitrage %s from chain %d to chain %d", p.Token, p.FromChain, p.ToChain))
		default:
			parts = append(parts, p.Reason)
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%s: acted. %s", outcome.Role, outcome.Reason)
	}
	return fmt.Sprintf("%s: %s", outcome.Role, strings.Join(parts, "; "))
}

// CompletionClient is the slice of the OpenAI client the decorator uses.
type CompletionClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Enhanced tries the generative service and falls back to the template on
// any failure. Answers are cached briefly so repeated cycles with the same
// outcome do not burn completion tokens.
type Enhanced struct {
	client   CompletionClient
	model    string
	fallback Template
	store    *cache.Store // optional
	ttl      time.Duration
	logger   zerolog.Logger
}

// New returns the template phraser when no API key is configured;
// capability is checked at construction, not per call.
func New(apiKey, completionModel string, store *cache.Store, logger zerolog.Logger) Phraser {
	if strings.TrimSpace(apiKey) == "" {
		return Template{}
	}
	return &Enhanced{
		client: openai.NewClient(apiKey),
		model:  completionModel,
		store:  store,
		ttl:    10 * time.Minute,
		logger: logger,
	}
}

func (e *Enhanced) Commentary(ctx context.Context, outcome model.CycleOutcome) string {
	key := phrasingKey(outcome)
	if e.store != nil {
		var cached string
		if ok, err := e.store.GetJSON(key, &cached); err == nil && ok {
			return cached
		}
	}

	text, err := e.complete(ctx, outcome)
	if err != nil {
		e.logger.Debug().Err(err).Msg("phrasing service unavailable, using template")
		return e.fallback.Commentary(ctx, outcome)
	}
	if e.store != nil {
		_ = e.store.PutJSON(key, text, e.ttl)
	}
	return text
}

func (e *Enhanced) complete(ctx context.Context, outcome model.CycleOutcome) (string, error) {
	prompt := e.fallback.Commentary(ctx, outcome)
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     e.model,
		MaxTokens: 120,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleSystem,
				Content: "You rewrite terse portfolio-automation status lines into one or two friendly " +
					"sentences. Never change figures, token symbols or chain ids. Never invent actions.",
			},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("completion returned empty text")
	}
	return text, nil
}

func phrasingKey(outcome model.CycleOutcome) string {
	raw := fmt.Sprintf("phrase|%s|%t|%s|%d", outcome.Role, outcome.Acted, outcome.Reason, len(outcome.Proposals))
	sum := sha1.Sum([]byte(raw))
	return "phrase:" + hex.EncodeToString(sum[:])
}

var _ Phraser = (*Enhanced)(nil)
