// Package loop runs the per-role monitor -> decide -> act cycle. A cycle
// never throws: any failure during decide or act degrades to "no action,
// reason recorded" and the caller always receives a structured outcome.
package loop

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ggonzalez94/chainpilot/internal/execution"
	"github.com/ggonzalez94/chainpilot/internal/logging"
	"github.com/ggonzalez94/chainpilot/internal/model"
	"github.com/ggonzalez94/chainpilot/internal/notify"
	"github.com/ggonzalez94/chainpilot/internal/phrase"
)

// Strategy is one role's monitor and decide stages fused: pull fresh state,
// score it against the role's numeric gates, and either return proposals or
// a reason why nothing fired. The numeric gate is authoritative; phrasing is
// layered on afterwards and never decides.
type Strategy interface {
	Role() string
	Evaluate(ctx context.Context) ([]model.ProposedAction, string, error)
}

// Runner owns one role's cycle. Act prepares an execution plan for the top
// proposal but never submits it; submission requires an explicit caller
// confirmation through the executor.
type Runner struct {
	strategy Strategy
	planner  *execution.Planner
	phraser  phrase.Phraser
	notifier notify.Emitter
	wallet   string
	logger   zerolog.Logger
	now      func() time.Time
}

func NewRunner(strategy Strategy, planner *execution.Planner, phraser phrase.Phraser, notifier notify.Emitter, wallet string, logger zerolog.Logger) *Runner {
	return &Runner{
		strategy: strategy,
		planner:  planner,
		phraser:  phraser,
		notifier: notifier,
		wallet:   wallet,
		logger:   logging.WithRole(logger, strategy.Role()),
		now:      time.Now,
	}
}

func (r *Runner) Role() string { return r.strategy.Role() }

// Cycle runs one monitor -> decide -> act pass. The role-tagged logger is
// scoped into the context so strategies without a logger of their own can
// still report through it.
func (r *Runner) Cycle(ctx context.Context) (outcome model.CycleOutcome) {
	ctx = logging.WithLogger(ctx, r.logger)
	outcome = model.CycleOutcome{
		Role:      r.strategy.Role(),
		StartedAt: r.now().UTC(),
	}
	defer func() {
		if rec := recover(); rec != nil {
			outcome.Acted = false
			outcome.Plan = nil
			outcome.Reason = fmt.Sprintf("cycle panicked: %v", rec)
			r.logger.Error().Interface("panic", rec).Msg("cycle recovered from panic")
		}
		outcome.FinishedAt = r.now().UTC()
		if r.phraser != nil {
			outcome.Commentary = r.phraser.Commentary(ctx, outcome)
		}
	}()

	proposals, reason, err := r.strategy.Evaluate(ctx)
	if err != nil {
		outcome.Reason = fmt.Sprintf("evaluation failed: %v", err)
		r.logger.Warn().Err(err).Msg("cycle evaluation failed")
		return outcome
	}
	if len(proposals) == 0 {
		if reason == "" {
			reason = "no threshold crossed"
		}
		outcome.Reason = reason
		return outcome
	}

	outcome.Proposals = proposals
	r.announce(ctx, proposals)

	if r.planner == nil {
		outcome.Acted = true
		outcome.Reason = "proposals recorded; no execution planner attached"
		return outcome
	}

	plan, err := r.planner.Prepare(ctx, proposals[0], r.wallet)
	if err != nil {
		outcome.Reason = fmt.Sprintf("planning failed: %v", err)
		r.logger.Warn().Err(err).Msg("cycle planning failed")
		return outcome
	}

	outcome.Acted = true
	outcome.Plan = &plan
	if plan.ReadyToExecute {
		outcome.Reason = "plan prepared; awaiting execution confirmation"
	} else {
		outcome.Reason = fmt.Sprintf("plan prepared but blocked by readiness gate (score %d, %d warnings)",
			plan.RiskScore, len(plan.Warnings))
	}
	return outcome
}

// announce pushes yield and arbitrage discoveries to the notification
// boundary; rebalances are routine and stay in the log.
func (r *Runner) announce(ctx context.Context, proposals []model.ProposedAction) {
	if r.notifier == nil {
		return
	}
	for _, p := range proposals {
		var title string
		switch p.Kind {
		case model.ActionYield:
			title = fmt.Sprintf("Yield opportunity for %s", p.Token)
		case model.ActionArbitrage:
			title = fmt.Sprintf("Arbitrage opportunity for %s", p.Token)
		default:
			continue
		}
		event := notify.Event{Title: title, Body: p.Reason, Payload: p}
		if err := r.notifier.Emit(ctx, event); err != nil {
			r.logger.Warn().Err(err).Msg("notification emit failed")
		}
	}
}
