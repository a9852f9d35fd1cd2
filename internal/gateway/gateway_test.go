package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	cperr "github.com/ggonzalez94/chainpilot/internal/errors"
	"github.com/ggonzalez94/chainpilot/internal/model"
)

type fakeRoutingClient struct {
	mu    sync.Mutex
	calls []time.Time
	fn    func(req model.QuoteRequest) (model.Quote, error)
}

func (f *fakeRoutingClient) FetchQuote(_ context.Context, req model.QuoteRequest) (model.Quote, error) {
	f.mu.Lock()
	f.calls = append(f.calls, time.Now())
	f.mu.Unlock()
	return f.fn(req)
}

func (f *fakeRoutingClient) callTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Time, len(f.calls))
	copy(out, f.calls)
	return out
}

func validRequest() model.QuoteRequest {
	return model.QuoteRequest{
		FromChain:   1,
		ToChain:     8453,
		FromToken:   "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
		ToToken:     "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913",
		FromAmount:  "25000000", // 25 USDC
		FromAddress: "0x1111111111111111111111111111111111111111",
	}
}

func TestGetQuoteSpacesConcurrentRequestsFIFO(t *testing.T) {
	interval := 150 * time.Millisecond
	fake := &fakeRoutingClient{fn: func(model.QuoteRequest) (model.Quote, error) {
		return model.Quote{EstimatedOutput: "1", FetchedAt: time.Now()}, nil
	}}
	g := New(fake, nil, Options{MinInterval: interval, MaxRetries: 1, RetryBaseDelay: time.Millisecond}, zerolog.Nop())
	defer g.Close()

	const n = 4
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Stagger submissions so queue order is deterministic.
			time.Sleep(time.Duration(i) * 10 * time.Millisecond)
			_, errs[i] = g.GetQuote(context.Background(), validRequest())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
	}
	calls := fake.callTimes()
	if len(calls) != n {
		t.Fatalf("expected %d upstream calls, got %d", n, len(calls))
	}
	for i := 1; i < len(calls); i++ {
		gap := calls[i].Sub(calls[i-1])
		// Allow a small scheduling tolerance below the configured interval.
		if gap < interval-20*time.Millisecond {
			t.Fatalf("calls %d and %d only %v apart, want >= %v", i-1, i, gap, interval)
		}
	}
}

func TestGetQuoteRetriesExactlyMaxAttemptsWithGrowingDelays(t *testing.T) {
	rateLimited := cperr.New(cperr.CodeRateLimited, "routing service throttled")
	fake := &fakeRoutingClient{fn: func(model.QuoteRequest) (model.Quote, error) {
		return model.Quote{}, rateLimited
	}}
	g := New(fake, nil, Options{
		MinInterval:    time.Millisecond,
		MaxRetries:     3,
		RetryBaseDelay: 10 * time.Millisecond,
	}, zerolog.Nop())
	defer g.Close()

	var delays []time.Duration
	g.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	_, err := g.GetQuote(context.Background(), validRequest())
	if err == nil {
		t.Fatal("expected failure after retry exhaustion")
	}
	if got := cperr.CodeOf(err); got != cperr.CodeRateLimited {
		t.Fatalf("expected rate-limited code, got %v", got)
	}
	typed, ok := cperr.As(err)
	if !ok || typed.Cause == nil {
		t.Fatalf("expected wrapped last error, got %v", err)
	}
	if cperr.CodeOf(typed.Cause) != cperr.CodeRateLimited {
		t.Fatalf("expected last underlying error wrapped, got %v", typed.Cause)
	}

	if len(fake.callTimes()) != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", len(fake.callTimes()))
	}
	// Backoff sleeps happen between attempts, so attempts-1 of them.
	if len(delays) != 2 {
		t.Fatalf("expected 2 backoff sleeps, got %d", len(delays))
	}
	for i := 1; i < len(delays); i++ {
		if delays[i] <= delays[i-1] {
			t.Fatalf("delays not strictly increasing: %v", delays)
		}
	}
}

func TestGetQuoteDoesNotRetryTerminalErrors(t *testing.T) {
	fake := &fakeRoutingClient{fn: func(model.QuoteRequest) (model.Quote, error) {
		return model.Quote{}, cperr.New(cperr.CodeNoRoute, "no route found")
	}}
	g := New(fake, nil, Options{MinInterval: time.Millisecond, MaxRetries: 3, RetryBaseDelay: time.Millisecond}, zerolog.Nop())
	defer g.Close()

	_, err := g.GetQuote(context.Background(), validRequest())
	if got := cperr.CodeOf(err); got != cperr.CodeNoRoute {
		t.Fatalf("expected no-route code, got %v", got)
	}
	if len(fake.callTimes()) != 1 {
		t.Fatalf("terminal error must not retry, got %d attempts", len(fake.callTimes()))
	}
}

func TestGetQuoteRejectsBelowBridgeMinimumBeforeTransport(t *testing.T) {
	fake := &fakeRoutingClient{fn: func(model.QuoteRequest) (model.Quote, error) {
		t.Fatal("transport must not be reached")
		return model.Quote{}, nil
	}}
	g := New(fake, nil, Options{MinInterval: time.Millisecond, MaxRetries: 1, RetryBaseDelay: time.Millisecond}, zerolog.Nop())
	defer g.Close()

	req := validRequest()
	req.FromAmount = "5000000" // 5 USDC, bridge minimum is 10

	_, err := g.GetQuote(context.Background(), req)
	if got := cperr.CodeOf(err); got != cperr.CodeInsufficientAmount {
		t.Fatalf("expected insufficient-amount code, got %v (%v)", got, err)
	}
	if cperr.Hint(err) == "" {
		t.Fatal("expected a corrective hint on the minimum-amount error")
	}
	if len(fake.callTimes()) != 0 {
		t.Fatal("below-minimum request reached the transport")
	}
}

func TestGetQuoteRequiresSenderAddress(t *testing.T) {
	fake := &fakeRoutingClient{fn: func(model.QuoteRequest) (model.Quote, error) {
		return model.Quote{}, nil
	}}
	g := New(fake, nil, Options{MinInterval: time.Millisecond, MaxRetries: 1, RetryBaseDelay: time.Millisecond}, zerolog.Nop())
	defer g.Close()

	req := validRequest()
	req.FromAddress = ""
	_, err := g.GetQuote(context.Background(), req)
	if got := cperr.CodeOf(err); got != cperr.CodeWalletNotConnected {
		t.Fatalf("expected wallet-not-connected code, got %v", got)
	}
}

func TestGetQuoteAttachesHubMetadata(t *testing.T) {
	fake := &fakeRoutingClient{fn: func(model.QuoteRequest) (model.Quote, error) {
		return model.Quote{EstimatedOutput: "1", FetchedAt: time.Now()}, nil
	}}
	g := New(fake, nil, Options{MinInterval: time.Millisecond, MaxRetries: 1, RetryBaseDelay: time.Millisecond}, zerolog.Nop())
	defer g.Close()

	// USDC -> USDC across chains is hub eligible.
	quote, err := g.GetQuote(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("GetQuote failed: %v", err)
	}
	if !quote.Routing.HubEligible || quote.Routing.HubName == "" {
		t.Fatalf("expected hub-eligible metadata, got %+v", quote.Routing)
	}
}
