// Package intent maps free text onto a workflow and the computation roles it
// needs. Classification is pure and deterministic: an ordered rule table is
// evaluated first-match-wins, so category priority is data, not control flow.
package intent

import (
	"regexp"
	"strings"

	"github.com/ggonzalez94/chainpilot/internal/model"
)

// Known computation roles a workflow can activate.
const (
	RolePortfolio  = "portfolio"
	RoleRebalancer = "rebalancer"
	RoleYield      = "yield-scanner"
	RoleArbitrage  = "arbitrage-scanner"
	RoleQuoter     = "quoter"
	RoleExecutor   = "executor"
	RoleMonitor    = "monitor"
)

var allRoles = []string{
	RolePortfolio, RoleRebalancer, RoleYield, RoleArbitrage, RoleQuoter, RoleExecutor, RoleMonitor,
}

type rule struct {
	match func(string) bool
	build func(string) model.IntentAnalysis
}

// Ordered by specificity: ambiguous text lands on the first category whose
// keywords match, so more specific categories must come earlier.
var rules = []rule{
	{matchAny("balance", "portfolio", "holdings", "how much do i have", "what do i own"), analysis(model.IntentPortfolioCheck, "Report current holdings across chains", RolePortfolio)},
	{isVagueSwap, vagueSwap},
	{matchAny("hedge", "protect against", "downside protection"), analysis(model.IntentHedge, "Hedge exposure against a downturn", RolePortfolio, RoleQuoter)},
	{matchAny("borrow", "loan", "leverage up", "collateral"), analysis(model.IntentBorrow, "Borrow against existing collateral", RolePortfolio, RoleQuoter)},
	{matchAny("dca", "dollar cost", "every week", "every month", "staged deposit"), analysis(model.IntentDCA, "Deposit in staged tranches over time", RolePortfolio, RoleQuoter, RoleExecutor)},
	{matchAny("vault", "deposit into", "deposit to"), analysis(model.IntentVaultDeposit, "Deposit into a vault, bridging first if needed", RoleQuoter, RoleExecutor)},
	{matchAny("swap", "bridge", "convert", "move my", "transfer to"), analysis(model.IntentSwapBridge, "Swap or bridge a specific amount", RoleQuoter, RoleExecutor)},
	{matchAny("execute", "confirm", "go ahead", "do it", "proceed"), analysis(model.IntentExecute, "Execute the pending prepared action", RoleExecutor)},
	{matchAny("watch", "monitor", "alert me", "notify me", "keep an eye"), analysis(model.IntentMonitor, "Monitor positions and notify on movement", RoleMonitor)},
	{matchAny("yield", "apy", "earn the most", "best rate", "interest"), analysis(model.IntentYield, "Find and rotate into better yield", RolePortfolio, RoleYield, RoleQuoter)},
	{matchAny("arbitrage", "price difference", "price gap", "cheaper on"), analysis(model.IntentArbitrage, "Scan chains for price dislocations", RoleArbitrage, RoleQuoter)},
	{matchAny("rebalance", "allocation", "drift", "target mix"), analysis(model.IntentRebalance, "Rebalance holdings toward target allocation", RolePortfolio, RoleRebalancer, RoleQuoter)},
}

// Classify maps text to a workflow. Calling it twice on the same input
// yields an identical result.
func Classify(text string) model.IntentAnalysis {
	norm := strings.ToLower(strings.TrimSpace(text))
	for _, r := range rules {
		if r.match(norm) {
			return r.build(norm)
		}
	}
	return general()
}

// matchAny treats single-word keywords as whole words ("balance" must not
// fire on "rebalance") and multi-word phrases as plain substrings.
func matchAny(keywords ...string) func(string) bool {
	type matcher struct {
		phrase string
		word   *regexp.Regexp
	}
	matchers := make([]matcher, len(keywords))
	for i, kw := range keywords {
		if strings.ContainsRune(kw, ' ') {
			matchers[i] = matcher{phrase: kw}
			continue
		}
		matchers[i] = matcher{word: regexp.MustCompile(`\b` + regexp.QuoteMeta(kw) + `\b`)}
	}
	return func(text string) bool {
		for _, m := range matchers {
			if m.word != nil {
				if m.word.MatchString(text) {
					return true
				}
			} else if strings.Contains(text, m.phrase) {
				return true
			}
		}
		return false
	}
}

func analysis(kind model.IntentType, description string, roles ...string) func(string) model.IntentAnalysis {
	return func(string) model.IntentAnalysis {
		return model.IntentAnalysis{
			IntentType:    kind,
			RequiredRoles: append([]string(nil), roles...),
			RoleGraph:     chainGraph(roles),
			Description:   description,
		}
	}
}

var (
	amountPattern = regexp.MustCompile(`\d`)
	tokenPattern  = regexp.MustCompile(`\b(usdc|usdt|dai|eth|weth|matic|avax)\b`)
	chainPattern  = regexp.MustCompile(`\b(ethereum|mainnet|base|arbitrum|optimism|polygon|avalanche)\b`)
)

// A swap request missing a quantity, token or chain cannot be quoted; it
// short-circuits into a clarification with no roles triggered.
func isVagueSwap(text string) bool {
	if !strings.Contains(text, "swap") && !strings.Contains(text, "bridge") && !strings.Contains(text, "convert") {
		return false
	}
	return !amountPattern.MatchString(text) || !tokenPattern.MatchString(text) || !chainPattern.MatchString(text)
}

func vagueSwap(string) model.IntentAnalysis {
	return model.IntentAnalysis{
		IntentType:         model.IntentVagueSwap,
		Description:        "Need the amount, token and chain before quoting",
		NeedsClarification: true,
	}
}

// The fallback activates every role with a fully connected graph.
func general() model.IntentAnalysis {
	edges := make([]model.RoleEdge, 0, len(allRoles)*(len(allRoles)-1))
	for _, src := range allRoles {
		for _, dst := range allRoles {
			if src != dst {
				edges = append(edges, model.RoleEdge{Source: src, Target: dst})
			}
		}
	}
	return model.IntentAnalysis{
		IntentType:    model.IntentGeneral,
		RequiredRoles: append([]string(nil), allRoles...),
		RoleGraph:     edges,
		Description:   "General request; all roles active",
	}
}

func chainGraph(roles []string) []model.RoleEdge {
	if len(roles) < 2 {
		return nil
	}
	edges := make([]model.RoleEdge, 0, len(roles)-1)
	for i := 0; i < len(roles)-1; i++ {
		edges = append(edges, model.RoleEdge{Source: roles[i], Target: roles[i+1]})
	}
	return edges
}
