// Package notify carries discovery events out of the decision loops.
// Delivery mechanics (email, push) live outside this process; the core only
// emits {title, body, payload} events.
package notify

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/ggonzalez94/chainpilot/internal/httpx"
)

type Event struct {
	Title   string      `json:"title"`
	Body    string      `json:"body"`
	Payload interface{} `json:"payload,omitempty"`
}

// Emitter is the delivery boundary. Implementations must not block a
// decision cycle; drop rather than stall.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}

// LogEmitter writes events to the structured log, the default sink when no
// external delivery is wired.
type LogEmitter struct {
	logger zerolog.Logger
}

func NewLogEmitter(logger zerolog.Logger) *LogEmitter {
	return &LogEmitter{logger: logger}
}

func (e *LogEmitter) Emit(_ context.Context, event Event) error {
	e.logger.Info().
		Str("title", event.Title).
		Str("body", event.Body).
		Interface("payload", event.Payload).
		Msg("notification")
	return nil
}

var _ Emitter = (*LogEmitter)(nil)

// WebhookEmitter POSTs each event as JSON to a configured endpoint. The
// receiver's response body is discarded; only the status matters.
type WebhookEmitter struct {
	http *httpx.Client
	url  string
}

func NewWebhookEmitter(client *httpx.Client, url string) *WebhookEmitter {
	return &WebhookEmitter{http: client, url: url}
}

func (e *WebhookEmitter) Emit(ctx context.Context, event Event) error {
	return e.http.PostJSON(ctx, e.url, event, nil, nil)
}

var _ Emitter = (*WebhookEmitter)(nil)

// Fanout emits to every sink, keeping the first error but never stopping
// early.
type Fanout []Emitter

func (f Fanout) Emit(ctx context.Context, event Event) error {
	var firstErr error
	for _, emitter := range f {
		if err := emitter.Emit(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
