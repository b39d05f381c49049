package providers

import (
	"context"
	"strings"

	"github.com/stellar/go/strkey"

	clierr "github.com/dev-tnsq/verbex/internal/errors"
	"github.com/dev-tnsq/verbex/internal/model"
)

// Request is one operation in the tagged union the intent layer dispatches.
// Every variant carries its own strongly-typed parameter record and is
// validated at the boundary before any network call.
type Request interface {
	Protocol() string
	Action() string
	Validate() error
}

func requireAccount(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return clierr.New(clierr.CodeUsage, field+" is required")
	}
	if !strkey.IsValidEd25519PublicKey(value) {
		return clierr.New(clierr.CodeUsage, field+" must be a G... account address")
	}
	return nil
}

func requireAmount(amount string) error {
	if strings.TrimSpace(amount) == "" {
		return clierr.New(clierr.CodeUsage, "amount is required")
	}
	return nil
}

func requireField(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return clierr.New(clierr.CodeUsage, field+" is required")
	}
	return nil
}

func requireSlippage(bps int64) error {
	if bps < 0 || bps > 10_000 {
		return clierr.New(clierr.CodeUsage, "slippageBps must be within [0, 10000]")
	}
	return nil
}

// --- Blend ---

type LendRequest struct {
	UserAddress string
	Asset       string
	Amount      string
	PoolID      string
}

func (LendRequest) Protocol() string { return "blend" }
func (LendRequest) Action() string   { return "lend" }
func (r LendRequest) Validate() error {
	if err := requireAccount("userAddress", r.UserAddress); err != nil {
		return err
	}
	if err := requireField("asset", r.Asset); err != nil {
		return err
	}
	return requireAmount(r.Amount)
}

type WithdrawRequest struct {
	UserAddress string
	Asset       string
	Amount      string
	PoolID      string
}

func (WithdrawRequest) Protocol() string { return "blend" }
func (WithdrawRequest) Action() string   { return "withdraw" }
func (r WithdrawRequest) Validate() error {
	if err := requireAccount("userAddress", r.UserAddress); err != nil {
		return err
	}
	if err := requireField("asset", r.Asset); err != nil {
		return err
	}
	return requireAmount(r.Amount)
}

type BorrowRequest struct {
	UserAddress string
	Asset       string
	Amount      string
	PoolID      string
}

func (BorrowRequest) Protocol() string { return "blend" }
func (BorrowRequest) Action() string   { return "borrow" }
func (r BorrowRequest) Validate() error {
	if err := requireAccount("userAddress", r.UserAddress); err != nil {
		return err
	}
	if err := requireField("asset", r.Asset); err != nil {
		return err
	}
	return requireAmount(r.Amount)
}

type RepayRequest struct {
	UserAddress string
	Asset       string
	Amount      string
	PoolID      string
}

func (RepayRequest) Protocol() string { return "blend" }
func (RepayRequest) Action() string   { return "repay" }
func (r RepayRequest) Validate() error {
	if err := requireAccount("userAddress", r.UserAddress); err != nil {
		return err
	}
	if err := requireField("asset", r.Asset); err != nil {
		return err
	}
	return requireAmount(r.Amount)
}

type ClaimRequest struct {
	UserAddress string
	PoolID      string
}

func (ClaimRequest) Protocol() string { return "blend" }
func (ClaimRequest) Action() string   { return "claim" }
func (r ClaimRequest) Validate() error {
	return requireAccount("userAddress", r.UserAddress)
}

// --- Soroswap ---

type SwapRequest struct {
	UserAddress string
	FromAsset   string
	ToAsset     string
	Amount      string
	SlippageBps int64
}

func (SwapRequest) Protocol() string { return "soroswap" }
func (SwapRequest) Action() string   { return "swap" }
func (r SwapRequest) Validate() error {
	if err := requireAccount("userAddress", r.UserAddress); err != nil {
		return err
	}
	if err := requireField("fromAsset", r.FromAsset); err != nil {
		return err
	}
	if err := requireField("toAsset", r.ToAsset); err != nil {
		return err
	}
	if strings.EqualFold(r.FromAsset, r.ToAsset) {
		return clierr.New(clierr.CodeUsage, "fromAsset and toAsset must differ")
	}
	if err := requireSlippage(r.SlippageBps); err != nil {
		return err
	}
	return requireAmount(r.Amount)
}

type AddLiquidityRequest struct {
	UserAddress string
	AssetA      string
	AssetB      string
	AmountA     string
	AmountB     string
	SlippageBps int64
}

func (AddLiquidityRequest) Protocol() string { return "soroswap" }
func (AddLiquidityRequest) Action() string   { return "addLiquidity" }
func (r AddLiquidityRequest) Validate() error {
	if err := requireAccount("userAddress", r.UserAddress); err != nil {
		return err
	}
	if err := requireField("assetA", r.AssetA); err != nil {
		return err
	}
	if err := requireField("assetB", r.AssetB); err != nil {
		return err
	}
	if err := requireAmount(r.AmountA); err != nil {
		return err
	}
	if strings.TrimSpace(r.AmountB) == "" {
		return clierr.New(clierr.CodeUsage, "amountB is required")
	}
	return requireSlippage(r.SlippageBps)
}

type RemoveLiquidityRequest struct {
	UserAddress string
	AssetA      string
	AssetB      string
	Liquidity   string
	SlippageBps int64
}

func (RemoveLiquidityRequest) Protocol() string { return "soroswap" }
func (RemoveLiquidityRequest) Action() string   { return "removeLiquidity" }
func (r RemoveLiquidityRequest) Validate() error {
	if err := requireAccount("userAddress", r.UserAddress); err != nil {
		return err
	}
	if err := requireField("assetA", r.AssetA); err != nil {
		return err
	}
	if err := requireField("assetB", r.AssetB); err != nil {
		return err
	}
	if err := requireAmount(r.Liquidity); err != nil {
		return err
	}
	return requireSlippage(r.SlippageBps)
}

type QuoteRequest struct {
	FromAsset string
	ToAsset   string
	Amount    string
}

func (QuoteRequest) Protocol() string { return "soroswap" }
func (QuoteRequest) Action() string   { return "quote" }
func (r QuoteRequest) Validate() error {
	if err := requireField("fromAsset", r.FromAsset); err != nil {
		return err
	}
	if err := requireField("toAsset", r.ToAsset); err != nil {
		return err
	}
	return requireAmount(r.Amount)
}

// --- DeFindex ---

type DepositRequest struct {
	UserAddress string
	VaultID     string
	Amount      string
}

func (DepositRequest) Protocol() string { return "defindex" }
func (DepositRequest) Action() string   { return "deposit" }
func (r DepositRequest) Validate() error {
	if err := requireAccount("userAddress", r.UserAddress); err != nil {
		return err
	}
	if err := requireField("vaultId", r.VaultID); err != nil {
		return err
	}
	return requireAmount(r.Amount)
}

type VaultWithdrawRequest struct {
	UserAddress string
	VaultID     string
	Amount      string
}

func (VaultWithdrawRequest) Protocol() string { return "defindex" }
func (VaultWithdrawRequest) Action() string   { return "withdrawVault" }
func (r VaultWithdrawRequest) Validate() error {
	if err := requireAccount("userAddress", r.UserAddress); err != nil {
		return err
	}
	if err := requireField("vaultId", r.VaultID); err != nil {
		return err
	}
	return requireAmount(r.Amount)
}

type CreateVaultRequest struct {
	UserAddress string
	Name        string
	Asset       string
	Strategy    string
}

func (CreateVaultRequest) Protocol() string { return "defindex" }
func (CreateVaultRequest) Action() string   { return "createVault" }
func (r CreateVaultRequest) Validate() error {
	if err := requireAccount("userAddress", r.UserAddress); err != nil {
		return err
	}
	if err := requireField("name", r.Name); err != nil {
		return err
	}
	if err := requireField("asset", r.Asset); err != nil {
		return err
	}
	return requireField("strategy", r.Strategy)
}

// --- Shared read-path contracts ---

// PositionSource is any protocol that can report a user's positions; the
// portfolio aggregator fans out over these.
type PositionSource interface {
	Name() string
	Positions(ctx context.Context, userAddress string) ([]model.Position, error)
}
