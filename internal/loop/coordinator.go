package loop

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ggonzalez94/chainpilot/internal/model"
	"github.com/ggonzalez94/chainpilot/internal/planner"
)

// Coordinator runs independent role loops and reconciles their merged
// proposals. Roles do not see each other's state, so two of them can ask to
// buy and sell the same token in one window; the reconciliation pass drops
// both sides of such a collision instead of inventing a netted trade.
type Coordinator struct {
	runners []*Runner
	logger  zerolog.Logger
}

func NewCoordinator(logger zerolog.Logger, runners ...*Runner) *Coordinator {
	return &Coordinator{runners: runners, logger: logger}
}

type CycleReport struct {
	Outcomes  []model.CycleOutcome   `json:"outcomes"`
	Actions   []model.ProposedAction `json:"actions,omitempty"`
	Conflicts []planner.Conflict     `json:"conflicts,omitempty"`
}

// RunCycle executes every role concurrently and returns the reconciled
// action list alongside each role's structured outcome.
func (c *Coordinator) RunCycle(ctx context.Context) CycleReport {
	outcomes := make([]model.CycleOutcome, len(c.runners))
	var wg sync.WaitGroup
	for i, runner := range c.runners {
		wg.Add(1)
		go func(i int, runner *Runner) {
			defer wg.Done()
			outcomes[i] = runner.Cycle(ctx)
		}(i, runner)
	}
	wg.Wait()

	var merged []model.ProposedAction
	for _, outcome := range outcomes {
		merged = append(merged, outcome.Proposals...)
	}
	kept, conflicts := planner.ReconcileActions(merged)
	for _, conflict := range conflicts {
		c.logger.Warn().
			Str("token", conflict.Token).
			Float64("buy_usd", conflict.BuyUSD).
			Float64("sell_usd", conflict.SellUSD).
			Int("dropped", conflict.Dropped).
			Msg("conflicting proposals dropped")
	}

	return CycleReport{Outcomes: outcomes, Actions: kept, Conflicts: conflicts}
}
