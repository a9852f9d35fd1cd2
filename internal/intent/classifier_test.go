package intent

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/ggonzalez94/chainpilot/internal/model"
)

func TestClassifyCategories(t *testing.T) {
	cases := []struct {
		name string
		text string
		want model.IntentType
	}{
		{"portfolio check", "what is my balance across chains?", model.IntentPortfolioCheck},
		{"portfolio wins over rebalance keywords", "show my portfolio and its drift", model.IntentPortfolioCheck},
		{"vague swap", "swap some of my tokens please", model.IntentVagueSwap},
		{"specific swap", "swap 100 usdc from ethereum to base", model.IntentSwapBridge},
		{"bridge", "bridge 0.5 weth from arbitrum to optimism", model.IntentSwapBridge},
		{"hedge", "hedge my exposure before the announcement", model.IntentHedge},
		{"borrow", "borrow against my collateral", model.IntentBorrow},
		{"dca", "dca 500 usdc on base every week", model.IntentDCA},
		{"vault", "deposit into the morpho vault on base with 200 usdc", model.IntentVaultDeposit},
		{"execute", "go ahead and do it", model.IntentExecute},
		{"monitor", "keep an eye on my positions", model.IntentMonitor},
		{"yield", "where can i earn the best rate on stables?", model.IntentYield},
		{"arbitrage", "is usdc cheaper on polygon than mainnet?", model.IntentArbitrage},
		{"rebalance", "rebalance toward my target mix", model.IntentRebalance},
		{"fallback", "tell me something interesting", model.IntentGeneral},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.text)
			if got.IntentType != tc.want {
				t.Fatalf("Classify(%q) = %v, want %v", tc.text, got.IntentType, tc.want)
			}
		})
	}
}

func TestVagueSwapShortCircuitsWithNoRoles(t *testing.T) {
	got := Classify("convert my tokens")
	if !got.NeedsClarification {
		t.Fatal("expected a clarification request")
	}
	if len(got.RequiredRoles) != 0 || len(got.RoleGraph) != 0 {
		t.Fatalf("vague swap must trigger no roles, got %+v", got)
	}
}

func TestGeneralFallbackActivatesEveryRoleFullyConnected(t *testing.T) {
	got := Classify("hello there")
	if got.IntentType != model.IntentGeneral {
		t.Fatalf("expected general intent, got %v", got.IntentType)
	}
	if len(got.RequiredRoles) != len(allRoles) {
		t.Fatalf("expected %d roles, got %d", len(allRoles), len(got.RequiredRoles))
	}
	wantEdges := len(allRoles) * (len(allRoles) - 1)
	if len(got.RoleGraph) != wantEdges {
		t.Fatalf("expected %d edges in a fully connected graph, got %d", wantEdges, len(got.RoleGraph))
	}
}

func TestClassifyNormalizesCase(t *testing.T) {
	lower := Classify("rebalance toward my target mix")
	upper := Classify("  REBALANCE TOWARD MY TARGET MIX ")
	if !reflect.DeepEqual(lower, upper) {
		t.Fatalf("case/whitespace variants classified differently:\n%+v\n%+v", lower, upper)
	}
}

func TestClassifyIsIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)
	properties.Property("classify(text) == classify(text)", prop.ForAll(
		func(text string) bool {
			return reflect.DeepEqual(Classify(text), Classify(text))
		},
		gen.AnyString(),
	))
	properties.TestingRun(t)
}
