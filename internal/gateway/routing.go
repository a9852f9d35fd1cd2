package gateway

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	cperr "github.com/ggonzalez94/chainpilot/internal/errors"
	"github.com/ggonzalez94/chainpilot/internal/httpx"
	"github.com/ggonzalez94/chainpilot/internal/model"
	"github.com/ggonzalez94/chainpilot/internal/registry"
)

// HTTPRoutingClient talks to the routing service's quote endpoint.
type HTTPRoutingClient struct {
	http    *httpx.Client
	baseURL string
	apiKey  string
	now     func() time.Time
}

func NewHTTPRoutingClient(httpClient *httpx.Client, apiKey string) *HTTPRoutingClient {
	return &HTTPRoutingClient{
		http:    httpClient,
		baseURL: registry.RoutingQuoteBaseURL,
		apiKey:  apiKey,
		now:     time.Now,
	}
}

// SetBaseURL points the client at a different endpoint; tests use it to
// target a local fake.
func (c *HTTPRoutingClient) SetBaseURL(u string) { c.baseURL = strings.TrimRight(u, "/") }

type quoteResponse struct {
	Estimate struct {
		ToAmount string `json:"toAmount"`
		FeeCosts []struct {
			AmountUSD string `json:"amountUSD"`
		} `json:"feeCosts"`
		GasCosts []struct {
			AmountUSD string `json:"amountUSD"`
		} `json:"gasCosts"`
		ToAmountUSD string `json:"toAmountUSD"`
	} `json:"estimate"`
	Action struct {
		ToToken struct {
			Decimals int `json:"decimals"`
		} `json:"toToken"`
	} `json:"action"`
	IncludedSteps []struct {
		Tool   string `json:"tool"`
		Type   string `json:"type"`
		Action struct {
			FromChainID int64 `json:"fromChainId"`
			ToChainID   int64 `json:"toChainId"`
		} `json:"action"`
		Estimate struct {
			ToAmount string `json:"toAmount"`
			FeeCosts []struct {
				Percentage string `json:"percentage"`
			} `json:"feeCosts"`
		} `json:"estimate"`
	} `json:"includedSteps"`
	TransactionRequest struct {
		To    string `json:"to"`
		Data  string `json:"data"`
		Value string `json:"value"`
	} `json:"transactionRequest"`
	Message string `json:"message"`
}

func (c *HTTPRoutingClient) FetchQuote(ctx context.Context, req model.QuoteRequest) (model.Quote, error) {
	vals := url.Values{}
	vals.Set("fromChain", strconv.FormatInt(req.FromChain, 10))
	vals.Set("toChain", strconv.FormatInt(req.ToChain, 10))
	vals.Set("fromToken", strings.ToLower(req.FromToken))
	vals.Set("toToken", strings.ToLower(req.ToToken))
	vals.Set("fromAmount", req.FromAmount)
	vals.Set("fromAddress", req.FromAddress)
	if req.ToAddress != "" {
		vals.Set("toAddress", req.ToAddress)
	}

	headers := map[string]string{}
	if c.apiKey != "" {
		headers["x-lifi-api-key"] = c.apiKey
	}

	var resp quoteResponse
	if err := c.http.GetJSON(ctx, c.baseURL+"/quote?"+vals.Encode(), headers, &resp); err != nil {
		return model.Quote{}, classifyRoutingError(err)
	}
	if resp.Estimate.ToAmount == "" {
		msg := strings.ToLower(resp.Message)
		if strings.Contains(msg, "amount") && (strings.Contains(msg, "low") || strings.Contains(msg, "minimum")) {
			return model.Quote{}, cperr.New(cperr.CodeInsufficientAmount, "routing service rejected the amount").
				WithHint("amount below typical bridge minimum; resubmit with a larger amount")
		}
		return model.Quote{}, cperr.New(cperr.CodeNoRoute, "no route found for the requested pair")
	}

	fees := model.FeeBreakdown{}
	for _, item := range resp.Estimate.FeeCosts {
		fees.ProtocolFeeUSD += parseFloat(item.AmountUSD)
	}
	for _, item := range resp.Estimate.GasCosts {
		fees.GasFeeUSD += parseFloat(item.AmountUSD)
	}
	fees.TotalFeeUSD = fees.ProtocolFeeUSD + fees.GasFeeUSD

	steps := make([]model.RouteStep, 0, len(resp.IncludedSteps))
	for _, s := range resp.IncludedSteps {
		step := model.RouteStep{
			Tool:         s.Tool,
			Type:         s.Type,
			FromChain:    s.Action.FromChainID,
			ToChain:      s.Action.ToChainID,
			EstimatedOut: s.Estimate.ToAmount,
		}
		for _, fc := range s.Estimate.FeeCosts {
			step.SlippageFeePct += parseFloat(fc.Percentage) * 100
		}
		steps = append(steps, step)
	}

	return model.Quote{
		Request:          req,
		EstimatedOutput:  resp.Estimate.ToAmount,
		OutputDecimals:   resp.Action.ToToken.Decimals,
		EstimatedOutUSD:  parseFloat(resp.Estimate.ToAmountUSD),
		Fees:             fees,
		IncludedSteps:    steps,
		TransactionTo:    resp.TransactionRequest.To,
		TransactionData:  resp.TransactionRequest.Data,
		TransactionValue: resp.TransactionRequest.Value,
		FetchedAt:        c.now().UTC(),
	}, nil
}

// classifyRoutingError narrows generic 4xx transport failures using
// whatever message the service managed to return.
func classifyRoutingError(err error) error {
	if cperr.CodeOf(err) != cperr.CodeUsage {
		return err
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no route"), strings.Contains(msg, "not found"):
		return cperr.New(cperr.CodeNoRoute, "no route found for the requested pair")
	case strings.Contains(msg, "amount"):
		return cperr.New(cperr.CodeInsufficientAmount, "routing service rejected the amount").
			WithHint("amount below typical bridge minimum; resubmit with a larger amount")
	default:
		return err
	}
}

func parseFloat(v string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0
	}
	return f
}

var _ RoutingClient = (*HTTPRoutingClient)(nil)

// StatusClient polls the routing service's settlement tracker.
type StatusClient struct {
	http    *httpx.Client
	baseURL string
}

func NewStatusClient(httpClient *httpx.Client) *StatusClient {
	return &StatusClient{http: httpClient, baseURL: registry.RoutingStatusBaseURL}
}

func (c *StatusClient) SetBaseURL(u string) { c.baseURL = strings.TrimRight(u, "/") }

type StatusQuery struct {
	TxHash    string
	Bridge    string
	FromChain int64
	ToChain   int64
}

type StatusDetail struct {
	Status          model.ExecutionStatus `json:"status"`
	ConfirmedTxHash string                `json:"confirmed_tx_hash,omitempty"`
	Substatus       string                `json:"substatus,omitempty"`
}

type statusResponse struct {
	Status    string `json:"status"`
	Substatus string `json:"substatus"`
	Receiving struct {
		TxHash string `json:"txHash"`
	} `json:"receiving"`
}

func (c *StatusClient) Status(ctx context.Context, query StatusQuery) (StatusDetail, error) {
	if strings.TrimSpace(query.TxHash) == "" {
		return StatusDetail{}, cperr.New(cperr.CodeUsage, "status query requires a transaction hash")
	}
	vals := url.Values{}
	vals.Set("txHash", query.TxHash)
	if query.Bridge != "" {
		vals.Set("bridge", query.Bridge)
	}
	if query.FromChain != 0 {
		vals.Set("fromChain", strconv.FormatInt(query.FromChain, 10))
	}
	if query.ToChain != 0 {
		vals.Set("toChain", strconv.FormatInt(query.ToChain, 10))
	}
	var resp statusResponse
	if err := c.http.GetJSON(ctx, c.baseURL+"?"+vals.Encode(), nil, &resp); err != nil {
		return StatusDetail{}, err
	}
	detail := StatusDetail{ConfirmedTxHash: resp.Receiving.TxHash, Substatus: resp.Substatus}
	switch strings.ToUpper(resp.Status) {
	case "DONE":
		detail.Status = model.StatusCompleted
	case "FAILED":
		detail.Status = model.StatusFailed
	case "PENDING":
		detail.Status = model.StatusConfirming
	default:
		detail.Status = model.StatusPending
	}
	return detail, nil
}
