// Package defindex wraps DeFindex yield vaults. Deposits and withdrawals
// are built by the partner API, which returns an unsigned envelope that is
// finished through the invoke pipeline; vault discovery degrades to the
// static strategy catalog when the API is down.
package defindex

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

const defaultEndpoint = "https://api.defindex.io"

// Static strategy catalog used when the vault API cannot be reached. The
// read path still answers with an OK status; entries are labeled
// FALLBACK_DATA so callers know they are not live.
var fallbackStrategies = []model.VaultInfo{
	{Name: "XLM Conservative", Asset: "XLM", Strategy: "blend-fixed"},
	{Name: "USDC Yield", Asset: "USDC", Strategy: "blend-fixed"},
	{Name: "XLM/USDC LP", Asset: "XLM", Strategy: "soroswap-lp"},
}

type Client struct {
	http     *httpx.Client
	pipeline *execution.Pipeline
	network  registry.Network
	endpoint string
	apiKey   string
	log      *zap.Logger
	now      func() time.Time
}

func New(httpClient *httpx.Client, pipeline *execution.Pipeline, network registry.Network, apiKey string, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		http:     httpClient,
		pipeline: pipeline,
		network:  network,
		endpoint: defaultEndpoint,
		apiKey:   apiKey,
		log:      log,
		now:      time.Now,
	}
}

func (c *Client) Name() string { return "defindex" }

type buildResponse struct {
	XDR   string `json:"xdr"`
	Error string `json:"error,omitempty"`
}

// buildTx asks the partner API to assemble an unsigned vault transaction.
// This is a write path, so API failures propagate instead of degrading.
func (c *Client) buildTx(ctx context.Context, path string, body map[string]any) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", clierr.Wrap(clierr.CodeInternal, "encode vault request", err)
	}
	url := fmt.Sprintf("%s%s?network=%s", c.endpoint, path, c.network.Name)

	var resp buildResponse
	if _, err := httpx.DoBodyJSON(ctx, c.http, http.MethodPost, url, payload, httpx.BearerHeaders(c.apiKey), &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", clierr.New(clierr.CodeUnavailable, "vault API rejected request: "+resp.Error)
	}
	if resp.XDR == "" {
		return "", clierr.New(clierr.CodeUnavailable, "vault API returned no transaction")
	}
	return resp.XDR, nil
}

func (c *Client) Deposit(ctx context.Context, req providers.DepositRequest, sgn signer.Signer) (model.TransactionOutcome, error) {
	if err := req.Validate(); err != nil {
		return model.TransactionOutcome{}, err
	}
	stroops, _, err := id.NormalizeAmount(0, req.Amount)
	if err != nil {
		return model.TransactionOutcome{}, err
	}
	unsigned, err := c.buildTx(ctx, "/vault/"+req.VaultID+"/deposit", map[string]any{
		"from":    req.UserAddress,
		"amounts": []string{strconv.FormatInt(stroops, 10)},
	})
	if err != nil {
		return model.TransactionOutcome{}, err
	}
	return c.pipeline.CompleteEnvelope(ctx, unsigned, sgn, decodeShares)
}

func (c *Client) Withdraw(ctx context.Context, req providers.VaultWithdrawRequest, sgn signer.Signer) (model.TransactionOutcome, error) {
	if err := req.Validate(); err != nil {
		return model.TransactionOutcome{}, err
	}
	stroops, _, err := id.NormalizeAmount(0, req.Amount)
	if err != nil {
		return model.TransactionOutcome{}, err
	}
	unsigned, err := c.buildTx(ctx, "/vault/"+req.VaultID+"/withdraw", map[string]any{
		"from":   req.UserAddress,
		"shares": strconv.FormatInt(stroops, 10),
	})
	if err != nil {
		return model.TransactionOutcome{}, err
	}
	return c.pipeline.CompleteEnvelope(ctx, unsigned, sgn, decodeShares)
}

func (c *Client) CreateVault(ctx context.Context, req providers.CreateVaultRequest, sgn signer.Signer) (model.TransactionOutcome, error) {
	if err := req.Validate(); err != nil {
		return model.TransactionOutcome{}, err
	}
	asset, err := registry.ResolveAssetOrContract(req.Asset, c.network.Name)
	if err != nil {
		return model.TransactionOutcome{}, err
	}
	unsigned, err := c.buildTx(ctx, "/factory/create", map[string]any{
		"caller":   req.UserAddress,
		"name":     req.Name,
		"asset":    asset.ContractID,
		"strategy": req.Strategy,
	})
	if err != nil {
		return model.TransactionOutcome{}, err
	}
	return c.pipeline.CompleteEnvelope(ctx, unsigned, sgn, nil)
}

type vaultListResponse struct {
	Vaults []struct {
		Address  string  `json:"address"`
		Name     string  `json:"name"`
		Asset    string  `json:"asset"`
		Strategy string  `json:"strategy"`
		APY      float64 `json:"apy"`
		TVL      string  `json:"tvl"`
	} `json:"vaults"`
}

// AvailableVaults lists vaults from the partner API, degrading to the
// static strategy catalog with an OK status when the API is unreachable.
func (c *Client) AvailableVaults(ctx context.Context) (model.VaultList, error) {
	fetchedAt := c.now().UTC().Format(time.RFC3339)
	url := fmt.Sprintf("%s/vaults?network=%s", c.endpoint, c.network.Name)

	var resp vaultListResponse
	if _, err := httpx.DoBodyJSON(ctx, c.http, http.MethodGet, url, nil, httpx.BearerHeaders(c.apiKey), &resp); err != nil {
		c.log.Warn("vault API unavailable, serving strategy catalog", zap.Error(err))
		vaults := make([]model.VaultInfo, 0, len(fallbackStrategies))
		for _, v := range fallbackStrategies {
			v.DataSource = model.DataSourceFallback
			v.FetchedAt = fetchedAt
			vaults = append(vaults, v)
		}
		return model.VaultList{Status: "OK", Vaults: vaults, DataSource: model.DataSourceFallback}, nil
	}

	vaults := make([]model.VaultInfo, 0, len(resp.Vaults))
	for _, v := range resp.Vaults {
		vaults = append(vaults, model.VaultInfo{
			VaultID:    v.Address,
			Name:       v.Name,
			Asset:      v.Asset,
			Strategy:   v.Strategy,
			APY:        v.APY,
			TVL:        v.TVL,
			DataSource: model.DataSourceLive,
			FetchedAt:  fetchedAt,
		})
	}
	return model.VaultList{Status: "OK", Vaults: vaults, DataSource: model.DataSourceLive}, nil
}

type balanceResponse struct {
	UnderlyingBalance string `json:"underlyingBalance"`
	VaultShares       string `json:"vaultShares"`
}

// Balance reports the user's stake in one vault. The API is tried first;
// on failure the vault contract's balance entry point is read directly.
func (c *Client) Balance(ctx context.Context, vaultID, userAddress string) (model.Position, error) {
	fetchedAt := c.now().UTC().Format(time.RFC3339)
	url := fmt.Sprintf("%s/vault/%s/balance?from=%s&network=%s", c.endpoint, vaultID, userAddress, c.network.Name)

	var resp balanceResponse
	if _, err := httpx.DoBodyJSON(ctx, c.http, http.MethodGet, url, nil, httpx.BearerHeaders(c.apiKey), &resp); err == nil && resp.UnderlyingBalance != "" {
		stroops, perr := strconv.ParseInt(resp.UnderlyingBalance, 10, 64)
		if perr == nil {
			return model.Position{
				Protocol:      "defindex",
				Asset:         vaultID,
				ContractID:    vaultID,
				Kind:          "vault",
				Amount:        id.FromStroops(stroops),
				AmountStroops: stroops,
				FetchedAt:     fetchedAt,
			}, nil
		}
	}

	return c.balanceFromChain(ctx, vaultID, userAddress, fetchedAt)
}

func (c *Client) balanceFromChain(ctx context.Context, vaultID, userAddress, fetchedAt string) (model.Position, error) {
	userVal, err := execution.AddressVal(userAddress)
	if err != nil {
		return model.Position{}, err
	}
	op, err := execution.InvokeContractOp(vaultID, "balance", []xdr.ScVal{userVal})
	if err != nil {
		return model.Position{}, err
	}
	val, err := c.pipeline.ReadCall(ctx, userAddress, op)
	if err != nil {
		return model.Position{}, err
	}
	stroops, _ := execution.I128ToInt64(val)
	return model.Position{
		Protocol:      "defindex",
		Asset:         vaultID,
		ContractID:    vaultID,
		Kind:          "vault",
		Amount:        id.FromStroops(stroops),
		AmountStroops: stroops,
		FetchedAt:     fetchedAt,
	}, nil
}

// Positions feeds the portfolio aggregator. Without a vault index for the
// user only API-listed vaults are probed; a failing probe skips the vault
// rather than failing the whole read.
func (c *Client) Positions(ctx context.Context, userAddress string) ([]model.Position, error) {
	list, err := c.AvailableVaults(ctx)
	if err != nil {
		return nil, err
	}

	var out []model.Position
	for _, v := range list.Vaults {
		if v.VaultID == "" {
			continue
		}
		pos, err := c.Balance(ctx, v.VaultID, userAddress)
		if err != nil {
			c.log.Debug("vault balance probe failed", zap.String("vault", v.VaultID), zap.Error(err))
			continue
		}
		if pos.AmountStroops == 0 {
			continue
		}
		pos.Asset = v.Name
		out = append(out, pos)
	}
	return out, nil
}

func decodeShares(v *xdr.ScVal) (any, error) {
	if stroops, ok := execution.I128ToInt64(v); ok {
		return id.FromStroops(stroops), nil
	}
	return nil, nil
}
