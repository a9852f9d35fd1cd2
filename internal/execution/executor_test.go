package execution

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	cperr "github.com/ggonzalez94/chainpilot/internal/errors"
	"github.com/ggonzalez94/chainpilot/internal/model"
)

type fakeSigner struct {
	address  string
	chainID  int64
	sendErr  error
	sent     []Transaction
	switched []int64
}

func (f *fakeSigner) Address() string { return f.address }

func (f *fakeSigner) ChainID(context.Context) (int64, error) { return f.chainID, nil }

func (f *fakeSigner) SignMessage(_ context.Context, message []byte) ([]byte, error) {
	return message, nil
}

func (f *fakeSigner) SendTransaction(_ context.Context, tx Transaction) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, tx)
	return "0xsubmitted", nil
}

type switchingSigner struct {
	fakeSigner
}

func (s *switchingSigner) SwitchChain(_ context.Context, chainID int64) error {
	s.switched = append(s.switched, chainID)
	s.chainID = chainID
	return nil
}

func readyPlan() model.ExecutionPlan {
	return model.ExecutionPlan{
		Quote: model.Quote{
			Request: model.QuoteRequest{FromChain: 1, ToChain: 8453},
		},
		Steps: []model.ExecutionStep{
			{Description: "submit route transaction", ChainID: 1, Target: "0xrouter", Data: "0xdeadbeef", Value: "0x0"},
		},
		ReadyToExecute: true,
	}
}

func TestExecuteRefusesGatedPlans(t *testing.T) {
	e := NewExecutor(nil, zerolog.Nop())
	plan := readyPlan()
	plan.ReadyToExecute = false
	plan.RiskScore = 65

	_, err := e.Execute(context.Background(), plan, &fakeSigner{address: "0xabc", chainID: 1})
	if got := cperr.CodeOf(err); got != cperr.CodeUsage {
		t.Fatalf("expected usage error, got %v (%v)", got, err)
	}
	if cperr.Hint(err) == "" {
		t.Fatal("gated refusal should explain how to proceed")
	}
}

func TestExecuteSubmitsAndReturnsPending(t *testing.T) {
	e := NewExecutor(nil, zerolog.Nop())
	signer := &fakeSigner{address: "0xabc", chainID: 1}

	result, err := e.Execute(context.Background(), readyPlan(), signer)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.Status != model.StatusPending || result.TxHash != "0xsubmitted" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(signer.sent) != 1 {
		t.Fatalf("expected one submission, got %d", len(signer.sent))
	}
	tx := signer.sent[0]
	if tx.ChainID != 1 || tx.To != "0xrouter" || tx.Data != "0xdeadbeef" {
		t.Fatalf("transaction fields lost: %+v", tx)
	}
	if tx.Value == nil || tx.Value.Sign() != 0 {
		t.Fatalf("hex zero value should parse to 0, got %v", tx.Value)
	}
}

func TestExecuteSwitchesChainWhenSignerSupportsIt(t *testing.T) {
	e := NewExecutor(nil, zerolog.Nop())
	signer := &switchingSigner{fakeSigner: fakeSigner{address: "0xabc", chainID: 8453}}

	result, err := e.Execute(context.Background(), readyPlan(), signer)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(signer.switched) != 1 || signer.switched[0] != 1 {
		t.Fatalf("expected a switch to chain 1, got %v", signer.switched)
	}
	if result.Status != model.StatusPending {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestExecuteRejectsWrongChainWithoutSwitcher(t *testing.T) {
	e := NewExecutor(nil, zerolog.Nop())
	signer := &fakeSigner{address: "0xabc", chainID: 8453}

	_, err := e.Execute(context.Background(), readyPlan(), signer)
	if got := cperr.CodeOf(err); got != cperr.CodeChainMismatch {
		t.Fatalf("expected chain mismatch, got %v (%v)", got, err)
	}
}

func TestExecuteSurfacesFailureReasonVerbatim(t *testing.T) {
	e := NewExecutor(nil, zerolog.Nop())
	signer := &fakeSigner{address: "0xabc", chainID: 1, sendErr: errors.New("execution reverted: insufficient allowance")}

	result, err := e.Execute(context.Background(), readyPlan(), signer)
	if got := cperr.CodeOf(err); got != cperr.CodeExecutionFailed {
		t.Fatalf("expected execution_failed, got %v (%v)", got, err)
	}
	if result.Status != model.StatusFailed {
		t.Fatalf("expected failed status, got %+v", result)
	}
	if result.Error != "execution reverted: insufficient allowance" {
		t.Fatalf("revert reason must be passed through untouched, got %q", result.Error)
	}
}

func TestExecuteFailsPlansWithoutSubmittableStep(t *testing.T) {
	e := NewExecutor(nil, zerolog.Nop())
	plan := readyPlan()
	plan.Steps = []model.ExecutionStep{{Description: "swap via uniswap", ChainID: 1}}

	result, err := e.Execute(context.Background(), plan, &fakeSigner{address: "0xabc", chainID: 1})
	if err == nil {
		t.Fatal("a plan with no transaction target cannot be executed")
	}
	if result.Status != model.StatusFailed {
		t.Fatalf("unexpected result: %+v", result)
	}
}
