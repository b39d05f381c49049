package app

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	clierr "github.com/dev-tnsq/verbex/internal/errors"
	"github.com/dev-tnsq/verbex/internal/execution"
	"github.com/dev-tnsq/verbex/internal/execution/signer"
	"github.com/dev-tnsq/verbex/internal/model"
	"github.com/dev-tnsq/verbex/internal/providers"
)

// resolveSigner loads a local signing key from the environment. No key
// material means deferred signing, so the nil result must stay an untyped
// nil for the pipeline's signer checks.
func (s *runtimeState) resolveSigner() (signer.Signer, error) {
	local, err := signer.NewLocalSignerFromEnv()
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, "load signing key", err)
	}
	if local == nil {
		return nil, nil
	}
	return local, nil
}

func (s *runtimeState) resolveAccount(flag string) string {
	if strings.TrimSpace(flag) != "" {
		return flag
	}
	return s.settings.Account
}

// openPending opens the sqlite store holding unsigned envelopes that wait
// for an external wallet signature.
func (s *runtimeState) openPending() (*execution.Store, error) {
	if s.pending != nil {
		return s.pending, nil
	}
	store, err := execution.OpenStore(s.settings.PendingPath, s.settings.PendingLockPath)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "open pending store", err)
	}
	s.pending = store
	return store, nil
}

// finishWrite renders a write operation's outcome. A NEEDS_SIGNATURE
// outcome is persisted as a pending envelope first so the wallet can sign
// it in a later process.
func (s *runtimeState) finishWrite(cmd *cobra.Command, protocol, action, account string, outcome model.TransactionOutcome, err error) error {
	if err != nil {
		return err
	}
	var warnings []string
	if outcome.Status == model.StatusNeedsSignature {
		id, perr := s.savePending(protocol, action, account, outcome.UnsignedXDR)
		if perr != nil {
			warnings = append(warnings, "pending envelope was not persisted: "+perr.Error())
		} else {
			outcome.PendingID = id
		}
	}
	providerStatus := []model.ProviderStatus{{Name: protocol, Status: "ok"}}
	return s.emitSuccess(trimRootPath(cmd.CommandPath()), outcome, warnings, cacheMetaBypass(), providerStatus, false)
}

func (s *runtimeState) savePending(protocol, action, account, unsignedXDR string) (string, error) {
	store, err := s.openPending()
	if err != nil {
		return "", err
	}
	env := model.PendingEnvelope{
		ID:          execution.NewPendingID(),
		Protocol:    protocol,
		Action:      action,
		Account:     account,
		UnsignedXDR: unsignedXDR,
		Network:     s.settings.Network,
		CreatedAt:   s.runner.now().UTC().Format(time.RFC3339),
	}
	if err := store.Save(env); err != nil {
		return "", err
	}
	s.ceremonies.Put(env)
	return env.ID, nil
}

// blendWriteCommand builds one of the four pool request commands; they share
// the same flag surface.
func (s *runtimeState) blendWriteCommand(use, short string, run func(cmd *cobra.Command, req providers.LendRequest) error) *cobra.Command {
	var from, asset, amount, pool string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := providers.LendRequest{
				UserAddress: s.resolveAccount(from),
				Asset:       asset,
				Amount:      amount,
				PoolID:      pool,
			}
			return run(cmd, req)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Source G... account (defaults to configured account)")
	cmd.Flags().StringVar(&asset, "asset", "", "Asset symbol, e.g. XLM or USDC")
	cmd.Flags().StringVar(&amount, "amount", "", "Amount in whole units, e.g. 100 or 12.5")
	cmd.Flags().StringVar(&pool, "pool", "", "Override the default Blend pool contract")
	_ = cmd.MarkFlagRequired("asset")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func (s *runtimeState) newLendCommand() *cobra.Command {
	return s.blendWriteCommand("lend", "Supply collateral to a Blend pool", func(cmd *cobra.Command, req providers.LendRequest) error {
		sgn, err := s.resolveSigner()
		if err != nil {
			return err
		}
		outcome, err := s.blend.Lend(cmd.Context(), req, sgn)
		return s.finishWrite(cmd, "blend", "lend", req.UserAddress, outcome, err)
	})
}

func (s *runtimeState) newWithdrawCommand() *cobra.Command {
	return s.blendWriteCommand("withdraw", "Withdraw collateral from a Blend pool", func(cmd *cobra.Command, req providers.LendRequest) error {
		sgn, err := s.resolveSigner()
		if err != nil {
			return err
		}
		outcome, err := s.blend.Withdraw(cmd.Context(), providers.WithdrawRequest(req), sgn)
		return s.finishWrite(cmd, "blend", "withdraw", req.UserAddress, outcome, err)
	})
}

func (s *runtimeState) newBorrowCommand() *cobra.Command {
	return s.blendWriteCommand("borrow", "Borrow against collateral in a Blend pool", func(cmd *cobra.Command, req providers.LendRequest) error {
		sgn, err := s.resolveSigner()
		if err != nil {
			return err
		}
		outcome, err := s.blend.Borrow(cmd.Context(), providers.BorrowRequest(req), sgn)
		return s.finishWrite(cmd, "blend", "borrow", req.UserAddress, outcome, err)
	})
}

func (s *runtimeState) newRepayCommand() *cobra.Command {
	return s.blendWriteCommand("repay", "Repay a Blend pool loan", func(cmd *cobra.Command, req providers.LendRequest) error {
		sgn, err := s.resolveSigner()
		if err != nil {
			return err
		}
		outcome, err := s.blend.Repay(cmd.Context(), providers.RepayRequest(req), sgn)
		return s.finishWrite(cmd, "blend", "repay", req.UserAddress, outcome, err)
	})
}

func (s *runtimeState) newClaimCommand() *cobra.Command {
	var from, pool string
	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Claim accrued Blend pool emissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := providers.ClaimRequest{UserAddress: s.resolveAccount(from), PoolID: pool}
			sgn, err := s.resolveSigner()
			if err != nil {
				return err
			}
			outcome, err := s.blend.Claim(cmd.Context(), req, sgn)
			return s.finishWrite(cmd, "blend", "claim", req.UserAddress, outcome, err)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Source G... account (defaults to configured account)")
	cmd.Flags().StringVar(&pool, "pool", "", "Override the default Blend pool contract")
	return cmd
}

func (s *runtimeState) newSwapCommand() *cobra.Command {
	var from, fromAsset, toAsset, amount string
	var slippageBps int64
	cmd := &cobra.Command{
		Use:   "swap",
		Short: "Swap tokens through the Soroswap router",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := providers.SwapRequest{
				UserAddress: s.resolveAccount(from),
				FromAsset:   fromAsset,
				ToAsset:     toAsset,
				Amount:      amount,
				SlippageBps: slippageBps,
			}
			sgn, err := s.resolveSigner()
			if err != nil {
				return err
			}
			outcome, err := s.soroswap.Swap(cmd.Context(), req, sgn)
			return s.finishWrite(cmd, "soroswap", "swap", req.UserAddress, outcome, err)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Source G... account (defaults to configured account)")
	cmd.Flags().StringVar(&fromAsset, "from-asset", "", "Asset to sell")
	cmd.Flags().StringVar(&toAsset, "to-asset", "", "Asset to buy")
	cmd.Flags().StringVar(&amount, "amount", "", "Amount of from-asset in whole units")
	cmd.Flags().Int64Var(&slippageBps, "slippage-bps", 0, "Slippage tolerance in basis points (default 50)")
	_ = cmd.MarkFlagRequired("from-asset")
	_ = cmd.MarkFlagRequired("to-asset")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func (s *runtimeState) newAddLiquidityCommand() *cobra.Command {
	var from, assetA, assetB, amountA, amountB string
	var slippageBps int64
	cmd := &cobra.Command{
		Use:   "add-liquidity",
		Short: "Add liquidity to a Soroswap pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := providers.AddLiquidityRequest{
				UserAddress: s.resolveAccount(from),
				AssetA:      assetA,
				AssetB:      assetB,
				AmountA:     amountA,
				AmountB:     amountB,
				SlippageBps: slippageBps,
			}
			sgn, err := s.resolveSigner()
			if err != nil {
				return err
			}
			outcome, err := s.soroswap.AddLiquidity(cmd.Context(), req, sgn)
			return s.finishWrite(cmd, "soroswap", "addLiquidity", req.UserAddress, outcome, err)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Source G... account (defaults to configured account)")
	cmd.Flags().StringVar(&assetA, "asset-a", "", "First pair asset")
	cmd.Flags().StringVar(&assetB, "asset-b", "", "Second pair asset")
	cmd.Flags().StringVar(&amountA, "amount-a", "", "Desired amount of asset-a")
	cmd.Flags().StringVar(&amountB, "amount-b", "", "Desired amount of asset-b")
	cmd.Flags().Int64Var(&slippageBps, "slippage-bps", 0, "Slippage tolerance in basis points (default 50)")
	_ = cmd.MarkFlagRequired("asset-a")
	_ = cmd.MarkFlagRequired("asset-b")
	_ = cmd.MarkFlagRequired("amount-a")
	_ = cmd.MarkFlagRequired("amount-b")
	return cmd
}

func (s *runtimeState) newRemoveLiquidityCommand() *cobra.Command {
	var from, assetA, assetB, liquidity string
	var slippageBps int64
	cmd := &cobra.Command{
		Use:   "remove-liquidity",
		Short: "Burn Soroswap LP shares back into the pair assets",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := providers.RemoveLiquidityRequest{
				UserAddress: s.resolveAccount(from),
				AssetA:      assetA,
				AssetB:      assetB,
				Liquidity:   liquidity,
				SlippageBps: slippageBps,
			}
			sgn, err := s.resolveSigner()
			if err != nil {
				return err
			}
			outcome, err := s.soroswap.RemoveLiquidity(cmd.Context(), req, sgn)
			return s.finishWrite(cmd, "soroswap", "removeLiquidity", req.UserAddress, outcome, err)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Source G... account (defaults to configured account)")
	cmd.Flags().StringVar(&assetA, "asset-a", "", "First pair asset")
	cmd.Flags().StringVar(&assetB, "asset-b", "", "Second pair asset")
	cmd.Flags().StringVar(&liquidity, "liquidity", "", "LP share amount to burn")
	cmd.Flags().Int64Var(&slippageBps, "slippage-bps", 0, "Slippage tolerance in basis points (default 50)")
	_ = cmd.MarkFlagRequired("asset-a")
	_ = cmd.MarkFlagRequired("asset-b")
	_ = cmd.MarkFlagRequired("liquidity")
	return cmd
}

func (s *runtimeState) newDepositCommand() *cobra.Command {
	var from, vault, amount string
	cmd := &cobra.Command{
		Use:   "deposit",
		Short: "Deposit into a DeFindex vault",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := providers.DepositRequest{
				UserAddress: s.resolveAccount(from),
				VaultID:     vault,
				Amount:      amount,
			}
			sgn, err := s.resolveSigner()
			if err != nil {
				return err
			}
			outcome, err := s.defindex.Deposit(cmd.Context(), req, sgn)
			return s.finishWrite(cmd, "defindex", "deposit", req.UserAddress, outcome, err)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Source G... account (defaults to configured account)")
	cmd.Flags().StringVar(&vault, "vault", "", "Vault contract ID")
	cmd.Flags().StringVar(&amount, "amount", "", "Deposit amount in whole units")
	_ = cmd.MarkFlagRequired("vault")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func (s *runtimeState) newWithdrawVaultCommand() *cobra.Command {
	var from, vault, amount string
	cmd := &cobra.Command{
		Use:   "withdraw-vault",
		Short: "Withdraw shares from a DeFindex vault",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := providers.VaultWithdrawRequest{
				UserAddress: s.resolveAccount(from),
				VaultID:     vault,
				Amount:      amount,
			}
			sgn, err := s.resolveSigner()
			if err != nil {
				return err
			}
			outcome, err := s.defindex.Withdraw(cmd.Context(), req, sgn)
			return s.finishWrite(cmd, "defindex", "withdrawVault", req.UserAddress, outcome, err)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Source G... account (defaults to configured account)")
	cmd.Flags().StringVar(&vault, "vault", "", "Vault contract ID")
	cmd.Flags().StringVar(&amount, "amount", "", "Share amount to withdraw")
	_ = cmd.MarkFlagRequired("vault")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func (s *runtimeState) newCreateVaultCommand() *cobra.Command {
	var from, name, asset, strategy string
	cmd := &cobra.Command{
		Use:   "create-vault",
		Short: "Create a DeFindex vault from a strategy",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := providers.CreateVaultRequest{
				UserAddress: s.resolveAccount(from),
				Name:        name,
				Asset:       asset,
				Strategy:    strategy,
			}
			sgn, err := s.resolveSigner()
			if err != nil {
				return err
			}
			outcome, err := s.defindex.CreateVault(cmd.Context(), req, sgn)
			return s.finishWrite(cmd, "defindex", "createVault", req.UserAddress, outcome, err)
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Source G... account (defaults to configured account)")
	cmd.Flags().StringVar(&name, "name", "", "Vault name")
	cmd.Flags().StringVar(&asset, "asset", "", "Underlying asset symbol")
	cmd.Flags().StringVar(&strategy, "strategy", "", "Strategy identifier, e.g. blend-fixed")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("asset")
	_ = cmd.MarkFlagRequired("strategy")
	return cmd
}

func (s *runtimeState) newSubmitSignedCommand() *cobra.Command {
	var signedXDR, pendingID string
	cmd := &cobra.Command{
		Use:   "submit-signed",
		Short: "Submit an externally signed transaction envelope",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(signedXDR) == "" {
				return clierr.New(clierr.CodeUsage, "--xdr is required")
			}
			outcome, err := s.pipeline.SubmitSigned(cmd.Context(), signedXDR, nil)
			if err != nil {
				return err
			}
			var warnings []string
			if strings.TrimSpace(pendingID) != "" {
				store, perr := s.openPending()
				if perr == nil {
					perr = store.Delete(pendingID)
				}
				if perr != nil {
					warnings = append(warnings, "pending envelope "+pendingID+" was not cleared: "+perr.Error())
				}
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), outcome, warnings, cacheMetaBypass(), nil, false)
		},
	}
	cmd.Flags().StringVar(&signedXDR, "xdr", "", "Signed transaction envelope, base64 XDR")
	cmd.Flags().StringVar(&pendingID, "pending", "", "Pending envelope ID to clear after confirmation")
	return cmd
}

func (s *runtimeState) newPendingCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Manage unsigned envelopes awaiting a wallet signature",
	}
	cmd.AddCommand(s.newPendingListCommand())
	cmd.AddCommand(s.newPendingShowCommand())
	cmd.AddCommand(s.newPendingSweepCommand())
	return cmd
}

func (s *runtimeState) newPendingListCommand() *cobra.Command {
	var account string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending envelopes",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := s.openPending()
			if err != nil {
				return err
			}
			entries, err := store.List(s.resolveAccount(account), limit)
			if err != nil {
				return err
			}
			data := map[string]any{"pending": entries, "count": len(entries)}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil, cacheMetaBypass(), nil, false)
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "Filter by G... account")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum entries to return")
	return cmd
}

func (s *runtimeState) newPendingShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one pending envelope including its unsigned XDR",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := s.openPending()
			if err != nil {
				return err
			}
			env, err := store.Get(args[0])
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), env, nil, cacheMetaBypass(), nil, false)
		},
	}
	return cmd
}

func (s *runtimeState) newPendingSweepCommand() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete pending envelopes older than a cutoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := s.openPending()
			if err != nil {
				return err
			}
			removed, err := store.SweepOlderThan(olderThan)
			if err != nil {
				return err
			}
			data := map[string]any{"removed": removed, "older_than": olderThan.String()}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil, cacheMetaBypass(), nil, false)
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "Age cutoff for deletion")
	return cmd
}
