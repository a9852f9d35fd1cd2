package model

import (
	"math"
	"time"
)

// TokenPosition is an immutable point-in-time valuation of one token holding
// on one chain. Positions are recomputed on every snapshot, never mutated.
type TokenPosition struct {
	ChainID          int64   `json:"chain_id"`
	TokenAddress     string  `json:"token_address"`
	Symbol           string  `json:"symbol"`
	Decimals         int     `json:"decimals"`
	RawBalance       string  `json:"raw_balance"`
	FormattedBalance float64 `json:"formatted_balance"`
	PriceUSD         float64 `json:"price_usd"`
	ValueUSD         float64 `json:"value_usd"`
}

// ChainStatus tags a per-chain aggregation result so callers can tell a
// confirmed-empty chain apart from an unreachable one.
type ChainStatus string

const (
	ChainOK          ChainStatus = "ok"
	ChainUnavailable ChainStatus = "unavailable"
)

type ChainResult struct {
	ChainID int64       `json:"chain_id"`
	Status  ChainStatus `json:"status"`
	Reason  string      `json:"reason,omitempty"`
}

type PortfolioSnapshot struct {
	Address       string          `json:"address"`
	Positions     []TokenPosition `json:"positions"`
	TotalValueUSD float64         `json:"total_value_usd"`
	Chains        []ChainResult   `json:"chains"`
	TakenAt       time.Time       `json:"taken_at"`
}

// Consistent reports whether the snapshot total equals the position sum
// within floating-point tolerance.
func (s PortfolioSnapshot) Consistent() bool {
	sum := 0.0
	for _, p := range s.Positions {
		sum += p.ValueUSD
	}
	return math.Abs(sum-s.TotalValueUSD) < 1e-6*math.Max(1, math.Abs(sum))
}

type AllocationTarget struct {
	TokenSymbol   string  `json:"token_symbol"`
	TargetPercent float64 `json:"target_percent"`
}

type DriftReport struct {
	TokenSymbol     string  `json:"token_symbol"`
	CurrentPercent  float64 `json:"current_percent"`
	TargetPercent   float64 `json:"target_percent"`
	DriftPercent    float64 `json:"drift_percent"`
	CurrentValueUSD float64 `json:"current_value_usd"`
	TargetValueUSD  float64 `json:"target_value_usd"`
	AdjustmentUSD   float64 `json:"adjustment_usd"`
}

// ActionKind tags the planner algorithm that produced a proposal.
type ActionKind string

const (
	ActionRebalance ActionKind = "rebalance"
	ActionYield     ActionKind = "yield"
	ActionArbitrage ActionKind = "arbitrage"
)

type ActionSide string

const (
	SideBuy  ActionSide = "buy"
	SideSell ActionSide = "sell"
)

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// ProposedAction is the single output type shared by the rebalance, yield
// and arbitrage planners. Consumed, never mutated, by the execution planner.
type ProposedAction struct {
	Kind        ActionKind `json:"kind"`
	Side        ActionSide `json:"side,omitempty"`
	Token       string     `json:"token"`
	FromChain   int64      `json:"from_chain"`
	ToChain     int64      `json:"to_chain"`
	FromToken   string     `json:"from_token"`
	ToToken     string     `json:"to_token"`
	AmountUSD   float64    `json:"amount_usd"`
	AmountToken float64    `json:"amount_token"`
	Reason      string     `json:"reason"`
	Priority    int        `json:"priority"`
	Confidence  Confidence `json:"confidence,omitempty"`
}

// IntentType enumerates the workflows the classifier can map text onto.
type IntentType string

const (
	IntentPortfolioCheck IntentType = "portfolio_check"
	IntentVagueSwap      IntentType = "vague_swap"
	IntentHedge          IntentType = "hedge"
	IntentBorrow         IntentType = "borrow"
	IntentDCA            IntentType = "dca"
	IntentVaultDeposit   IntentType = "vault_deposit"
	IntentSwapBridge     IntentType = "swap_bridge"
	IntentExecute        IntentType = "execute"
	IntentMonitor        IntentType = "monitor"
	IntentYield          IntentType = "yield"
	IntentArbitrage      IntentType = "arbitrage"
	IntentRebalance      IntentType = "rebalance"
	IntentGeneral        IntentType = "general"
)

type RoleEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// IntentAnalysis is the pure result of one classification call. It has no
// lifecycle beyond that call.
type IntentAnalysis struct {
	IntentType         IntentType `json:"intent_type"`
	RequiredRoles      []string   `json:"required_roles"`
	RoleGraph          []RoleEdge `json:"role_graph,omitempty"`
	Description        string     `json:"description"`
	NeedsClarification bool       `json:"needs_clarification"`
}

// QuoteRequest addresses the external routing service. FromAmount is an
// integer string in the token's smallest unit.
type QuoteRequest struct {
	FromChain   int64  `json:"from_chain"`
	ToChain     int64  `json:"to_chain"`
	FromToken   string `json:"from_token"`
	ToToken     string `json:"to_token"`
	FromAmount  string `json:"from_amount"`
	FromAddress string `json:"from_address"`
	ToAddress   string `json:"to_address,omitempty"`
}

type RouteStep struct {
	Tool           string  `json:"tool"`
	Type           string  `json:"type"`
	FromChain      int64   `json:"from_chain"`
	ToChain        int64   `json:"to_chain"`
	EstimatedOut   string  `json:"estimated_out"`
	SlippageFeePct float64 `json:"slippage_fee_pct"`
}

type FeeBreakdown struct {
	ProtocolFeeUSD float64 `json:"protocol_fee_usd"`
	GasFeeUSD      float64 `json:"gas_fee_usd"`
	TotalFeeUSD    float64 `json:"total_fee_usd"`
}

// RoutingMetadata records, for accounting only, whether the request was
// eligible for the native burn/mint liquidity hub. The gateway never forces
// that route.
type RoutingMetadata struct {
	HubEligible bool   `json:"hub_eligible"`
	HubName     string `json:"hub_name,omitempty"`
}

// Quote is time-bound: price and gas move, so a quote older than the
// caller's staleness window must be refreshed before execution.
type Quote struct {
	Request          QuoteRequest    `json:"request"`
	EstimatedOutput  string          `json:"estimated_output"`
	OutputDecimals   int             `json:"output_decimals"`
	EstimatedOutUSD  float64         `json:"estimated_out_usd"`
	Fees             FeeBreakdown    `json:"fees"`
	IncludedSteps    []RouteStep     `json:"included_steps"`
	Routing          RoutingMetadata `json:"routing"`
	TransactionTo    string          `json:"transaction_to,omitempty"`
	TransactionData  string          `json:"transaction_data,omitempty"`
	TransactionValue string          `json:"transaction_value,omitempty"`
	FetchedAt        time.Time       `json:"fetched_at"`
}

// Age returns how long ago the quote was fetched.
func (q Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.FetchedAt)
}

type ExecutionStep struct {
	Description string `json:"description"`
	ChainID     int64  `json:"chain_id"`
	Target      string `json:"target"`
	Data        string `json:"data"`
	Value       string `json:"value"`
	Tool        string `json:"tool,omitempty"`
}

// ExecutionPlan scores one quote. ReadyToExecute is derived from the score
// and warning count at build time; rebuild the plan rather than caching it.
type ExecutionPlan struct {
	Quote             Quote           `json:"quote"`
	RiskScore         int             `json:"risk_score"`
	Steps             []ExecutionStep `json:"steps"`
	EstimatedOutUSD   float64         `json:"estimated_out_usd"`
	GasCostUSD        float64         `json:"gas_cost_usd"`
	NetValueUSD       float64         `json:"net_value_usd"`
	Warnings          []string        `json:"warnings,omitempty"`
	ReadyToExecute    bool            `json:"ready_to_execute"`
	PreparedAt        time.Time       `json:"prepared_at"`
	SourceActionKind  ActionKind      `json:"source_action_kind,omitempty"`
	SourceActionToken string          `json:"source_action_token,omitempty"`
}

type ExecutionStatus string

const (
	StatusPending    ExecutionStatus = "pending"
	StatusConfirming ExecutionStatus = "confirming"
	StatusCompleted  ExecutionStatus = "completed"
	StatusFailed     ExecutionStatus = "failed"
)

// ExecutionResult tracks one submission. Transitions are forward-only:
// pending -> confirming -> completed|failed.
type ExecutionResult struct {
	Status ExecutionStatus `json:"status"`
	TxHash string          `json:"tx_hash,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// TransactionRecord is an append-only history entry. Once completed or
// failed it is immutable except for later-arriving cost/profit annotations.
type TransactionRecord struct {
	ID           string          `json:"id"`
	Wallet       string          `json:"wallet"`
	Kind         ActionKind      `json:"kind"`
	Token        string          `json:"token"`
	FromChain    int64           `json:"from_chain"`
	ToChain      int64           `json:"to_chain"`
	AmountUSD    float64         `json:"amount_usd"`
	Status       ExecutionStatus `json:"status"`
	TxHash       string          `json:"tx_hash,omitempty"`
	CostUSD      *float64        `json:"cost_usd,omitempty"`
	ProfitUSD    *float64        `json:"profit_usd,omitempty"`
	SubmittedAt  time.Time       `json:"submitted_at"`
	LastUpdated  time.Time       `json:"last_updated"`
	FailedReason string          `json:"failed_reason,omitempty"`
}

type YieldOpportunity struct {
	Pool      string    `json:"pool"`
	Project   string    `json:"project"`
	Chain     int64     `json:"chain"`
	Symbol    string    `json:"symbol"`
	APY       float64   `json:"apy"`
	TVLUSD    float64   `json:"tvl_usd"`
	URL       string    `json:"url,omitempty"`
	Stable    bool      `json:"stable"`
	FetchedAt time.Time `json:"fetched_at"`
}

// CycleOutcome is the structured result of one decision-loop cycle. Loops
// always return an outcome; they never propagate panics or raw errors.
type CycleOutcome struct {
	Role       string           `json:"role"`
	Acted      bool             `json:"acted"`
	Proposals  []ProposedAction `json:"proposals,omitempty"`
	Plan       *ExecutionPlan   `json:"plan,omitempty"`
	Reason     string           `json:"reason"`
	Commentary string           `json:"commentary,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
}
