// Package gateway serializes access to the external routing service. The
// service enforces a strict per-window call budget (far tighter without a
// credential), so exactly one quote request is in flight at a time,
// process-wide, behind a FIFO queue with a minimum inter-request interval.
//
// A Gateway is constructed once and passed by reference to every caller;
// there is no package-level singleton, so tests instantiate independent
// gateways freely.
package gateway

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ggonzalez94/chainpilot/internal/cache"
	cperr "github.com/ggonzalez94/chainpilot/internal/errors"
	"github.com/ggonzalez94/chainpilot/internal/model"
	"github.com/ggonzalez94/chainpilot/internal/registry"
)

// RoutingClient is the transport that actually talks to the routing service.
type RoutingClient interface {
	FetchQuote(ctx context.Context, req model.QuoteRequest) (model.Quote, error)
}

type Options struct {
	// MinInterval spaces outbound quote requests. Callers queue behind it
	// in FIFO order.
	MinInterval time.Duration
	// MaxRetries is the total attempt ceiling for rate-limited failures.
	MaxRetries int
	// RetryBaseDelay doubles per attempt.
	RetryBaseDelay time.Duration
	// HasCredential changes only the hint attached to rate-limit errors;
	// interval selection is the caller's concern.
	HasCredential bool
	// CacheTTL bounds how long an identical request may be answered from
	// cache. Zero disables caching.
	CacheTTL time.Duration
}

func DefaultOptions() Options {
	return Options{
		MinInterval:    30 * time.Second,
		MaxRetries:     3,
		RetryBaseDelay: 2 * time.Second,
		CacheTTL:       20 * time.Second,
	}
}

type pendingRequest struct {
	ctx   context.Context
	req   model.QuoteRequest
	reply chan quoteReply
}

type quoteReply struct {
	quote model.Quote
	err   error
}

type Gateway struct {
	client  RoutingClient
	opts    Options
	limiter *rate.Limiter
	queue   chan pendingRequest
	store   *cache.Store // optional
	logger  zerolog.Logger
	sleep   func(context.Context, time.Duration) error
	done    chan struct{}
}

// New starts the gateway's single worker goroutine. Close releases it.
func New(client RoutingClient, store *cache.Store, opts Options, logger zerolog.Logger) *Gateway {
	if opts.MinInterval <= 0 {
		opts.MinInterval = DefaultOptions().MinInterval
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultOptions().MaxRetries
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = DefaultOptions().RetryBaseDelay
	}
	g := &Gateway{
		client:  client,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Every(opts.MinInterval), 1),
		queue:   make(chan pendingRequest, 64),
		store:   store,
		logger:  logger,
		sleep:   sleepCtx,
		done:    make(chan struct{}),
	}
	go g.run()
	return g
}

func (g *Gateway) Close() { close(g.done) }

// GetQuote validates the request, then queues it behind the rate gate.
// Amounts below the bridge minimum fail here and never reach the service.
func (g *Gateway) GetQuote(ctx context.Context, req model.QuoteRequest) (model.Quote, error) {
	if err := validateRequest(req); err != nil {
		return model.Quote{}, err
	}
	if g.store != nil && g.opts.CacheTTL > 0 {
		var cached model.Quote
		if ok, err := g.store.GetJSON(requestKey(req), &cached); err == nil && ok {
			if time.Since(cached.FetchedAt) <= g.opts.CacheTTL {
				return cached, nil
			}
		}
	}

	pending := pendingRequest{ctx: ctx, req: req, reply: make(chan quoteReply, 1)}
	select {
	case g.queue <- pending:
	case <-ctx.Done():
		return model.Quote{}, cperr.Wrap(cperr.CodeUnavailable, "quote request cancelled before queueing", ctx.Err())
	}

	select {
	case reply := <-pending.reply:
		return reply.quote, reply.err
	case <-ctx.Done():
		return model.Quote{}, cperr.Wrap(cperr.CodeUnavailable, "quote request cancelled while queued", ctx.Err())
	}
}

func (g *Gateway) run() {
	for {
		select {
		case <-g.done:
			return
		case pending := <-g.queue:
			quote, err := g.fetchWithRetry(pending.ctx, pending.req)
			pending.reply <- quoteReply{quote: quote, err: err}
		}
	}
}

func (g *Gateway) fetchWithRetry(ctx context.Context, req model.QuoteRequest) (model.Quote, error) {
	var lastErr error
	for attempt := 1; attempt <= g.opts.MaxRetries; attempt++ {
		if err := g.limiter.Wait(ctx); err != nil {
			return model.Quote{}, cperr.Wrap(cperr.CodeUnavailable, "quote request cancelled at rate gate", err)
		}

		quote, err := g.client.FetchQuote(ctx, req)
		if err == nil {
			// Hub eligibility is accounting metadata only; the service
			// already picked whatever route it considered best.
			hubOK := registry.HubEligible(req.FromChain, req.ToChain,
				symbolFor(req.FromChain, req.FromToken), symbolFor(req.ToChain, req.ToToken))
			quote.Routing = model.RoutingMetadata{HubEligible: hubOK}
			if hubOK {
				quote.Routing.HubName = registry.HubName
			}
			if g.store != nil && g.opts.CacheTTL > 0 {
				_ = g.store.PutJSON(requestKey(req), quote, g.opts.CacheTTL)
			}
			return quote, nil
		}

		lastErr = err
		if !cperr.IsRetryable(err) {
			return model.Quote{}, err
		}
		g.logger.Warn().
			Int("attempt", attempt).
			Int("max_attempts", g.opts.MaxRetries).
			Err(err).
			Msg("quote attempt failed, backing off")

		if attempt < g.opts.MaxRetries {
			delay := g.opts.RetryBaseDelay * time.Duration(1<<uint(attempt-1))
			if err := g.sleep(ctx, delay); err != nil {
				return model.Quote{}, cperr.Wrap(cperr.CodeUnavailable, "quote retry cancelled", err)
			}
		}
	}

	wrapped := cperr.Wrap(cperr.CodeRateLimited, "quote attempts exhausted", lastErr)
	if g.opts.HasCredential {
		return model.Quote{}, wrapped.WithHint("the routing service is throttling requests; retry shortly")
	}
	return model.Quote{}, wrapped.WithHint("likely rate limited; configure a routing API key to raise the call budget")
}

func validateRequest(req model.QuoteRequest) error {
	if req.FromAddress == "" {
		return cperr.New(cperr.CodeWalletNotConnected, "quote request requires a sender address").
			WithHint("connect a wallet before requesting quotes")
	}
	amount, ok := new(big.Int).SetString(req.FromAmount, 10)
	if !ok || amount.Sign() <= 0 {
		return cperr.New(cperr.CodeUsage, "from amount must be a positive integer in smallest units")
	}
	symbol := symbolFor(req.FromChain, req.FromToken)
	minimum, hasMin := registry.BridgeMinimum(symbol)
	if !hasMin || req.FromChain == req.ToChain {
		return nil
	}
	token, ok := registry.TokenBySymbol(req.FromChain, symbol)
	if !ok {
		return nil
	}
	scaled := new(big.Float).SetInt(amount)
	scaled.Quo(scaled, decimalsFactor(token.Decimals))
	whole, _ := scaled.Float64()
	if whole < minimum {
		return cperr.New(cperr.CodeInsufficientAmount,
			fmt.Sprintf("amount %.6f %s is below the bridge minimum of %g", whole, symbol, minimum)).
			WithHint(fmt.Sprintf("resubmit with at least %g %s", minimum, symbol))
	}
	return nil
}

func symbolFor(chainID int64, tokenAddress string) string {
	if token, ok := registry.TokenByAddress(chainID, tokenAddress); ok {
		return token.Symbol
	}
	return ""
}

func decimalsFactor(decimals int) *big.Float {
	f := big.NewFloat(1)
	ten := big.NewFloat(10)
	for i := 0; i < decimals; i++ {
		f.Mul(f, ten)
	}
	return f
}

func requestKey(req model.QuoteRequest) string {
	raw := fmt.Sprintf("quote|%d|%d|%s|%s|%s|%s|%s",
		req.FromChain, req.ToChain, req.FromToken, req.ToToken, req.FromAmount, req.FromAddress, req.ToAddress)
	sum := sha1.Sum([]byte(raw))
	return "quote:" + hex.EncodeToString(sum[:])
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
