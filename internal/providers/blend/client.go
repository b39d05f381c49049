// Package blend wraps the Blend lending pool contract: supply, withdraw,
// borrow, repay and emission claims all go through the pool's submit entry
// point; positions and pool metadata are read via simulation.
package blend

import (
	"context"
	"time"

	"github.com/stellar/go/xdr"
	"go.uber.org/zap"

	"github.com/dev-tnsq/verbex/internal/execution"
	"github.com/dev-tnsq/verbex/internal/execution/signer"
	"github.com/dev-tnsq/verbex/internal/id"
	"github.com/dev-tnsq/verbex/internal/model"
	"github.com/dev-tnsq/verbex/internal/providers"
	"github.com/dev-tnsq/verbex/internal/registry"
)

// Request-type codes of the pool contract's submit entry point.
const (
	requestSupply   uint32 = 0
	requestWithdraw uint32 = 1
	requestBorrow   uint32 = 4
	requestRepay    uint32 = 5
)

// Reserve order inside the default pool; reserve indexes in position maps
// refer to this list.
var reserveOrder = []string{"XLM", "USDC"}

type Client struct {
	pipeline *execution.Pipeline
	network  registry.Network
	poolID   string
	log      *zap.Logger
	now      func() time.Time
}

func New(pipeline *execution.Pipeline, network registry.Network, log *zap.Logger) (*Client, error) {
	poolID, err := registry.ProtocolContract("blend.pool.default", network.Name)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		pipeline: pipeline,
		network:  network,
		poolID:   poolID,
		log:      log,
		now:      time.Now,
	}, nil
}

func (c *Client) Name() string { return "blend" }

func (c *Client) Lend(ctx context.Context, req providers.LendRequest, sgn signer.Signer) (model.TransactionOutcome, error) {
	if err := req.Validate(); err != nil {
		return model.TransactionOutcome{}, err
	}
	return c.submit(ctx, req.UserAddress, req.Asset, req.Amount, req.PoolID, requestSupply, sgn)
}

func (c *Client) Withdraw(ctx context.Context, req providers.WithdrawRequest, sgn signer.Signer) (model.TransactionOutcome, error) {
	if err := req.Validate(); err != nil {
		return model.TransactionOutcome{}, err
	}
	return c.submit(ctx, req.UserAddress, req.Asset, req.Amount, req.PoolID, requestWithdraw, sgn)
}

func (c *Client) Borrow(ctx context.Context, req providers.BorrowRequest, sgn signer.Signer) (model.TransactionOutcome, error) {
	if err := req.Validate(); err != nil {
		return model.TransactionOutcome{}, err
	}
	return c.submit(ctx, req.UserAddress, req.Asset, req.Amount, req.PoolID, requestBorrow, sgn)
}

func (c *Client) Repay(ctx context.Context, req providers.RepayRequest, sgn signer.Signer) (model.TransactionOutcome, error) {
	if err := req.Validate(); err != nil {
		return model.TransactionOutcome{}, err
	}
	return c.submit(ctx, req.UserAddress, req.Asset, req.Amount, req.PoolID, requestRepay, sgn)
}

// submit builds the pool's submit(from, spender, to, requests) invocation
// with a single request entry and hands it to the invoke pipeline.
func (c *Client) submit(ctx context.Context, user, assetSymbol, amount, poolOverride string, requestType uint32, sgn signer.Signer) (model.TransactionOutcome, error) {
	asset, err := registry.ResolveAssetOrContract(assetSymbol, c.network.Name)
	if err != nil {
		return model.TransactionOutcome{}, err
	}
	stroops, _, err := id.NormalizeAmount(0, amount)
	if err != nil {
		return model.TransactionOutcome{}, err
	}

	userVal, err := execution.AddressVal(user)
	if err != nil {
		return model.TransactionOutcome{}, err
	}
	assetVal, err := execution.AddressVal(asset.ContractID)
	if err != nil {
		return model.TransactionOutcome{}, err
	}

	request := execution.MapVal(
		execution.MapEntry("address", assetVal),
		execution.MapEntry("amount", execution.I128Val(stroops)),
		execution.MapEntry("request_type", execution.U32Val(requestType)),
	)

	op, err := execution.InvokeContractOp(c.pool(poolOverride), "submit", []xdr.ScVal{
		userVal,
		userVal,
		userVal,
		execution.VecVal(request),
	})
	if err != nil {
		return model.TransactionOutcome{}, err
	}

	return c.pipeline.Invoke(ctx, user, op, sgn, decodeStroops)
}

func (c *Client) Claim(ctx context.Context, req providers.ClaimRequest, sgn signer.Signer) (model.TransactionOutcome, error) {
	if err := req.Validate(); err != nil {
		return model.TransactionOutcome{}, err
	}
	userVal, err := execution.AddressVal(req.UserAddress)
	if err != nil {
		return model.TransactionOutcome{}, err
	}

	// Emission token ids cover both sides of every reserve.
	ids := make([]xdr.ScVal, 0, 2*len(reserveOrder))
	for i := range 2 * len(reserveOrder) {
		ids = append(ids, execution.U32Val(uint32(i)))
	}

	op, err := execution.InvokeContractOp(c.pool(req.PoolID), "claim", []xdr.ScVal{
		userVal,
		execution.VecVal(ids...),
		userVal,
	})
	if err != nil {
		return model.TransactionOutcome{}, err
	}
	return c.pipeline.Invoke(ctx, req.UserAddress, op, sgn, decodeStroops)
}

// Positions reads the user's pool positions via simulation. Reserve indexes
// are mapped to assets through the pool's reserve order.
func (c *Client) Positions(ctx context.Context, userAddress string) ([]model.Position, error) {
	userVal, err := execution.AddressVal(userAddress)
	if err != nil {
		return nil, err
	}
	op, err := execution.InvokeContractOp(c.poolID, "get_positions", []xdr.ScVal{userVal})
	if err != nil {
		return nil, err
	}
	val, err := c.pipeline.ReadCall(ctx, userAddress, op)
	if err != nil {
		return nil, err
	}
	if val == nil {
		return nil, nil
	}

	fetchedAt := c.now().UTC().Format(time.RFC3339)
	var out []model.Position
	out = append(out, c.positionsFromMap(val, "supply", "supply", fetchedAt)...)
	out = append(out, c.positionsFromMap(val, "collateral", "supply", fetchedAt)...)
	out = append(out, c.positionsFromMap(val, "liabilities", "borrow", fetchedAt)...)
	return out, nil
}

func (c *Client) positionsFromMap(positions *xdr.ScVal, field, kind, fetchedAt string) []model.Position {
	entry, ok := execution.MapGet(positions, field)
	if !ok {
		return nil
	}
	var out []model.Position
	for _, pair := range execution.MapEntries(entry) {
		idx, ok := execution.U32FromVal(&pair.Key)
		if !ok || int(idx) >= len(reserveOrder) {
			continue
		}
		stroops, ok := execution.I128ToInt64(&pair.Val)
		if !ok || stroops == 0 {
			continue
		}
		symbol := reserveOrder[idx]
		asset, err := registry.ResolveAsset(symbol, c.network.Name)
		if err != nil {
			continue
		}
		out = append(out, model.Position{
			Protocol:      "blend",
			Asset:         symbol,
			ContractID:    asset.ContractID,
			Kind:          kind,
			Amount:        id.FromStroops(stroops),
			AmountStroops: stroops,
			FetchedAt:     fetchedAt,
		})
	}
	return out
}

// PoolMeta reports the pool's reserves. The reserve list is confirmed
// against the chain when possible; if the read fails the static registry
// configuration is returned instead, labeled as fallback data.
func (c *Client) PoolMeta(ctx context.Context, viewer string) (model.PoolMeta, error) {
	meta := model.PoolMeta{
		PoolID:     c.poolID,
		Name:       "Blend default pool",
		DataSource: model.DataSourceLive,
		FetchedAt:  c.now().UTC().Format(time.RFC3339),
	}
	for _, symbol := range reserveOrder {
		asset, err := registry.ResolveAsset(symbol, c.network.Name)
		if err != nil {
			continue
		}
		meta.Reserves = append(meta.Reserves, model.PoolAsset{
			Asset:      symbol,
			ContractID: asset.ContractID,
		})
	}

	op, err := execution.InvokeContractOp(c.poolID, "get_reserve_list", nil)
	if err != nil {
		return model.PoolMeta{}, err
	}
	if _, err := c.pipeline.ReadCall(ctx, viewer, op); err != nil {
		c.log.Warn("pool reserve read failed, serving static metadata", zap.Error(err))
		meta.DataSource = model.DataSourceFallback
	}
	return meta, nil
}

func (c *Client) pool(override string) string {
	if override != "" {
		return override
	}
	return c.poolID
}

func decodeStroops(v *xdr.ScVal) (any, error) {
	if stroops, ok := execution.I128ToInt64(v); ok {
		return id.FromStroops(stroops), nil
	}
	return nil, nil
}
