package execution

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	cperr "github.com/ggonzalez94/chainpilot/internal/errors"
	"github.com/ggonzalez94/chainpilot/internal/history"
	"github.com/ggonzalez94/chainpilot/internal/model"
)

// Executor submits gated plans. Submissions are single-flight per signer:
// one account cannot originate two in-flight routes because transactions
// from one account need strictly ordered nonces, and nonce management is
// left to the wallet.
type Executor struct {
	history *history.Store // optional
	logger  zerolog.Logger
	now     func() time.Time

	mu    sync.Mutex
	inUse map[string]*sync.Mutex
}

func NewExecutor(historyStore *history.Store, logger zerolog.Logger) *Executor {
	return &Executor{
		history: historyStore,
		logger:  logger,
		now:     time.Now,
		inUse:   make(map[string]*sync.Mutex),
	}
}

// Execute refuses plans that failed the readiness gate, switches chains when
// the signer sits on the wrong network, submits the route transaction, and
// returns pending with the first observed hash. Final settlement is the
// status poller's job.
func (e *Executor) Execute(ctx context.Context, plan model.ExecutionPlan, signer Signer) (model.ExecutionResult, error) {
	if !plan.ReadyToExecute {
		return model.ExecutionResult{}, cperr.New(cperr.CodeUsage,
			fmt.Sprintf("plan is not ready to execute (risk score %d, %d warnings)", plan.RiskScore, len(plan.Warnings))).
			WithHint("resolve the plan warnings or lower the route risk, then re-prepare")
	}

	lock := e.signerLock(signer.Address())
	lock.Lock()
	defer lock.Unlock()

	targetChain := plan.Quote.Request.FromChain
	current, err := signer.ChainID(ctx)
	if err != nil {
		return model.ExecutionResult{}, cperr.Wrap(cperr.CodeUnavailable, "read signer chain", err)
	}
	if current != targetChain {
		switcher, ok := signer.(ChainSwitcher)
		if !ok {
			return model.ExecutionResult{}, cperr.New(cperr.CodeChainMismatch,
				fmt.Sprintf("signer is on chain %d but the route starts on chain %d", current, targetChain)).
				WithHint("switch the wallet network and retry")
		}
		if err := switcher.SwitchChain(ctx, targetChain); err != nil {
			return model.ExecutionResult{}, cperr.Wrap(cperr.CodeChainMismatch, "chain switch failed", err)
		}
	}

	recordID := uuid.NewString()
	e.appendRecord(recordID, signer.Address(), plan)

	submit, ok := submissionStep(plan)
	if !ok {
		result := model.ExecutionResult{Status: model.StatusFailed, Error: "plan carries no submittable transaction"}
		e.markFailed(recordID, result.Error)
		return result, cperr.New(cperr.CodeUsage, result.Error)
	}

	hash, err := signer.SendTransaction(ctx, Transaction{
		ChainID: targetChain,
		To:      submit.Target,
		Data:    submit.Data,
		Value:   parseValue(submit.Value),
	})
	if err != nil {
		// Surface the wallet/revert reason verbatim; it is the only
		// actionable detail the user has.
		reason := err.Error()
		e.markFailed(recordID, reason)
		return model.ExecutionResult{Status: model.StatusFailed, Error: reason},
			cperr.Wrap(cperr.CodeExecutionFailed, "route submission failed", err)
	}

	e.logger.Info().
		Str("tx_hash", hash).
		Int64("chain", targetChain).
		Str("signer", signer.Address()).
		Msg("route transaction submitted")
	if e.history != nil {
		if err := e.history.UpdateStatus(recordID, model.StatusPending, hash, ""); err != nil {
			e.logger.Warn().Err(err).Msg("record transaction hash")
		}
	}
	return model.ExecutionResult{Status: model.StatusPending, TxHash: hash}, nil
}

func (e *Executor) signerLock(address string) *sync.Mutex {
	key := strings.ToLower(address)
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.inUse[key]
	if !ok {
		lock = &sync.Mutex{}
		e.inUse[key] = lock
	}
	return lock
}

func (e *Executor) appendRecord(id, wallet string, plan model.ExecutionPlan) {
	if e.history == nil {
		return
	}
	now := e.now().UTC()
	err := e.history.Append(model.TransactionRecord{
		ID:          id,
		Wallet:      wallet,
		Kind:        plan.SourceActionKind,
		Token:       plan.SourceActionToken,
		FromChain:   plan.Quote.Request.FromChain,
		ToChain:     plan.Quote.Request.ToChain,
		AmountUSD:   plan.EstimatedOutUSD,
		Status:      model.StatusPending,
		SubmittedAt: now,
		LastUpdated: now,
	})
	if err != nil {
		e.logger.Warn().Err(err).Msg("append transaction record")
	}
}

func (e *Executor) markFailed(id, reason string) {
	if e.history == nil {
		return
	}
	if err := e.history.UpdateStatus(id, model.StatusFailed, "", reason); err != nil {
		e.logger.Warn().Err(err).Msg("record transaction failure")
	}
}

// submissionStep finds the one step carrying an actual on-chain target; the
// rest of the plan's steps are descriptive.
func submissionStep(plan model.ExecutionPlan) (model.ExecutionStep, bool) {
	for _, step := range plan.Steps {
		if step.Target != "" {
			return step, true
		}
	}
	return model.ExecutionStep{}, false
}

func parseValue(raw string) *big.Int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return big.NewInt(0)
	}
	if strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		if v, ok := new(big.Int).SetString(raw[2:], 16); ok {
			return v
		}
		return big.NewInt(0)
	}
	if v, ok := new(big.Int).SetString(raw, 10); ok {
		return v
	}
	return big.NewInt(0)
}
