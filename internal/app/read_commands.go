package app

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dev-tnsq/verbex/internal/cache"
	clierr "github.com/dev-tnsq/verbex/internal/errors"
	"github.com/dev-tnsq/verbex/internal/intent"
	"github.com/dev-tnsq/verbex/internal/model"
	"github.com/dev-tnsq/verbex/internal/portfolio"
	"github.com/dev-tnsq/verbex/internal/providers"
)

func (s *runtimeState) newQuoteCommand() *cobra.Command {
	var fromAsset, toAsset, amount string
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Quote a Soroswap trade without executing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := providers.QuoteRequest{FromAsset: fromAsset, ToAsset: toAsset, Amount: amount}
			if err := req.Validate(); err != nil {
				return err
			}
			path := trimRootPath(cmd.CommandPath())
			key := cacheKey(path+"|"+s.settings.Network, req)
			return s.runCached(path, key, cache.QuoteTTL, func() (any, error) {
				ctx, cancel := context.WithTimeout(cmd.Context(), s.settings.Timeout)
				defer cancel()
				return s.soroswap.Quote(ctx, req)
			})
		},
	}
	cmd.Flags().StringVar(&fromAsset, "from-asset", "", "Asset to sell")
	cmd.Flags().StringVar(&toAsset, "to-asset", "", "Asset to buy")
	cmd.Flags().StringVar(&amount, "amount", "", "Amount of from-asset in whole units")
	_ = cmd.MarkFlagRequired("from-asset")
	_ = cmd.MarkFlagRequired("to-asset")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func (s *runtimeState) newPoolCommand() *cobra.Command {
	var viewer string
	cmd := &cobra.Command{
		Use:   "pool",
		Short: "Show Blend pool reserves and metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := trimRootPath(cmd.CommandPath())
			key := cacheKey(path+"|"+s.settings.Network, nil)
			return s.runCached(path, key, cache.PoolTTL, func() (any, error) {
				ctx, cancel := context.WithTimeout(cmd.Context(), s.settings.Timeout)
				defer cancel()
				return s.blend.PoolMeta(ctx, s.resolveAccount(viewer))
			})
		},
	}
	cmd.Flags().StringVar(&viewer, "viewer", "", "Account used as the simulation source for chain reads")
	return cmd
}

func (s *runtimeState) newVaultsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vaults",
		Short: "List DeFindex vaults or the static strategy catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := trimRootPath(cmd.CommandPath())
			key := cacheKey(path+"|"+s.settings.Network, nil)
			return s.runCached(path, key, cache.VaultTTL, func() (any, error) {
				ctx, cancel := context.WithTimeout(cmd.Context(), s.settings.PartnerTimeout)
				defer cancel()
				return s.defindex.AvailableVaults(ctx)
			})
		},
	}
	return cmd
}

func (s *runtimeState) newPositionsCommand() *cobra.Command {
	var account, protocol string
	cmd := &cobra.Command{
		Use:   "positions",
		Short: "Show a user's positions in one protocol or all of them",
		RunE: func(cmd *cobra.Command, args []string) error {
			user := s.resolveAccount(account)
			if strings.TrimSpace(user) == "" {
				return clierr.New(clierr.CodeUsage, "an account is required; pass --account or configure one")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), s.settings.Timeout)
			defer cancel()

			switch strings.ToLower(protocol) {
			case "", "all":
				data := make([]model.ProtocolPositions, 0, 3)
				for _, source := range s.positionSources() {
					entry := model.ProtocolPositions{Protocol: source.Name(), DataSource: model.DataSourceLive}
					positions, err := source.Positions(ctx, user)
					if err != nil {
						entry.DataSource = model.DataSourceFallback
						entry.Err = err.Error()
					} else {
						entry.Positions = positions
					}
					data = append(data, entry)
				}
				return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil, cacheMetaBypass(), nil, false)
			case "blend", "soroswap", "defindex":
				for _, source := range s.positionSources() {
					if source.Name() != strings.ToLower(protocol) {
						continue
					}
					positions, err := source.Positions(ctx, user)
					if err != nil {
						return err
					}
					entry := model.ProtocolPositions{
						Protocol:   source.Name(),
						Positions:  positions,
						DataSource: model.DataSourceLive,
					}
					return s.emitSuccess(trimRootPath(cmd.CommandPath()), entry, nil, cacheMetaBypass(), nil, false)
				}
				return clierr.New(clierr.CodeInternal, "protocol source not wired: "+protocol)
			default:
				return clierr.New(clierr.CodeUsage, "protocol must be blend, soroswap, defindex or all")
			}
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "G... account to inspect (defaults to configured account)")
	cmd.Flags().StringVar(&protocol, "protocol", "all", "Protocol filter")
	return cmd
}

func (s *runtimeState) newPortfolioCommand() *cobra.Command {
	var account string
	cmd := &cobra.Command{
		Use:   "portfolio",
		Short: "Aggregate positions across protocols into one overview",
		RunE: func(cmd *cobra.Command, args []string) error {
			user := s.resolveAccount(account)
			if strings.TrimSpace(user) == "" {
				return clierr.New(clierr.CodeUsage, "an account is required; pass --account or configure one")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), s.settings.Timeout)
			defer cancel()

			agg := portfolio.New(s.positionSources(), s.log)
			overview, err := agg.Overview(ctx, user)
			if err != nil {
				return err
			}
			partial := len(overview.FailedSources) > 0
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), overview, nil, cacheMetaBypass(), nil, partial)
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "G... account to inspect (defaults to configured account)")
	return cmd
}

func (s *runtimeState) newChatCommand() *cobra.Command {
	var account string
	var interactive bool
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Turn a natural-language message into a DeFi operation",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			parser, err := s.intentParser(cmd.Context())
			if err != nil {
				return err
			}
			user := s.resolveAccount(account)

			if interactive {
				return s.chatLoop(cmd, parser, user)
			}
			message := strings.TrimSpace(strings.Join(args, " "))
			if message == "" {
				return clierr.New(clierr.CodeUsage, "a message is required; pass it as arguments or use --interactive")
			}
			req, err := parser.Parse(cmd.Context(), message, user)
			if err != nil {
				return err
			}
			data, protocol, err := s.dispatch(cmd, req)
			if err != nil {
				return err
			}
			providerStatus := []model.ProviderStatus{{Name: protocol, Status: "ok"}}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil, cacheMetaBypass(), providerStatus, false)
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "G... account operations act on (defaults to configured account)")
	cmd.Flags().BoolVar(&interactive, "interactive", false, "Read messages from stdin until EOF")
	return cmd
}

func (s *runtimeState) intentParser(ctx context.Context) (*intent.Parser, error) {
	classifier := s.classifier
	if classifier == nil {
		if strings.TrimSpace(s.settings.GeminiAPIKey) == "" {
			return nil, clierr.New(clierr.CodeAuth, "a Gemini API key is required for chat; set GEMINI_API_KEY or providers.gemini in the config")
		}
		gc, err := intent.NewGeminiClassifier(ctx, s.settings.GeminiAPIKey, s.settings.GeminiModel)
		if err != nil {
			return nil, err
		}
		classifier = gc
	}
	return intent.NewParser(classifier, s.log), nil
}

// chatLoop drives an interactive session. Deferred-signing ceremonies stay
// in the in-memory store so "sign <id> <signed-xdr>" can complete them
// without leaving the session.
func (s *runtimeState) chatLoop(cmd *cobra.Command, parser *intent.Parser, user string) error {
	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}

		if rest, ok := strings.CutPrefix(line, "sign "); ok {
			if err := s.completeCeremony(cmd, rest); err != nil {
				s.renderError(trimRootPath(cmd.CommandPath()), err)
			}
			continue
		}

		req, err := parser.Parse(cmd.Context(), line, user)
		if err != nil {
			s.renderError(trimRootPath(cmd.CommandPath()), err)
			continue
		}
		data, protocol, err := s.dispatch(cmd, req)
		if err != nil {
			s.renderError(trimRootPath(cmd.CommandPath()), err)
			continue
		}
		providerStatus := []model.ProviderStatus{{Name: protocol, Status: "ok"}}
		if err := s.emitSuccess(trimRootPath(cmd.CommandPath()), data, nil, cacheMetaBypass(), providerStatus, false); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// completeCeremony takes "sign <id> <signed-xdr>", consumes the one-shot
// ceremony record and submits the wallet-signed envelope.
func (s *runtimeState) completeCeremony(cmd *cobra.Command, rest string) error {
	parts := strings.Fields(rest)
	if len(parts) != 2 {
		return clierr.New(clierr.CodeUsage, "usage: sign <pending-id> <signed-xdr>")
	}
	env, err := s.ceremonies.Take(parts[0])
	if err != nil {
		return err
	}
	outcome, err := s.pipeline.SubmitSigned(cmd.Context(), parts[1], nil)
	if err != nil {
		return err
	}
	if store, perr := s.openPending(); perr == nil {
		_ = store.Delete(env.ID)
	}
	providerStatus := []model.ProviderStatus{{Name: env.Protocol, Status: "ok"}}
	return s.emitSuccess(trimRootPath(cmd.CommandPath()), outcome, nil, cacheMetaBypass(), providerStatus, false)
}

// dispatch routes a parsed intent to the owning protocol client. Write
// outcomes that need a wallet signature are persisted before returning.
func (s *runtimeState) dispatch(cmd *cobra.Command, req providers.Request) (any, string, error) {
	ctx := cmd.Context()
	sgn, err := s.resolveSigner()
	if err != nil {
		return nil, req.Protocol(), err
	}

	finish := func(outcome model.TransactionOutcome, err error) (any, string, error) {
		if err != nil {
			return nil, req.Protocol(), err
		}
		if outcome.Status == model.StatusNeedsSignature {
			if id, perr := s.savePending(req.Protocol(), req.Action(), s.accountOf(req), outcome.UnsignedXDR); perr == nil {
				outcome.PendingID = id
			}
		}
		return outcome, req.Protocol(), nil
	}

	switch r := req.(type) {
	case providers.LendRequest:
		return finish(s.blend.Lend(ctx, r, sgn))
	case providers.WithdrawRequest:
		return finish(s.blend.Withdraw(ctx, r, sgn))
	case providers.BorrowRequest:
		return finish(s.blend.Borrow(ctx, r, sgn))
	case providers.RepayRequest:
		return finish(s.blend.Repay(ctx, r, sgn))
	case providers.ClaimRequest:
		return finish(s.blend.Claim(ctx, r, sgn))
	case providers.SwapRequest:
		return finish(s.soroswap.Swap(ctx, r, sgn))
	case providers.AddLiquidityRequest:
		return finish(s.soroswap.AddLiquidity(ctx, r, sgn))
	case providers.RemoveLiquidityRequest:
		return finish(s.soroswap.RemoveLiquidity(ctx, r, sgn))
	case providers.QuoteRequest:
		quote, err := s.soroswap.Quote(ctx, r)
		return quote, "soroswap", err
	case providers.DepositRequest:
		return finish(s.defindex.Deposit(ctx, r, sgn))
	case providers.VaultWithdrawRequest:
		return finish(s.defindex.Withdraw(ctx, r, sgn))
	case providers.CreateVaultRequest:
		return finish(s.defindex.CreateVault(ctx, r, sgn))
	default:
		return nil, req.Protocol(), clierr.New(clierr.CodeUnsupported, fmt.Sprintf("no handler for %s/%s", req.Protocol(), req.Action()))
	}
}

// accountOf extracts the acting account from any write request variant.
func (s *runtimeState) accountOf(req providers.Request) string {
	switch r := req.(type) {
	case providers.LendRequest:
		return r.UserAddress
	case providers.WithdrawRequest:
		return r.UserAddress
	case providers.BorrowRequest:
		return r.UserAddress
	case providers.RepayRequest:
		return r.UserAddress
	case providers.ClaimRequest:
		return r.UserAddress
	case providers.SwapRequest:
		return r.UserAddress
	case providers.AddLiquidityRequest:
		return r.UserAddress
	case providers.RemoveLiquidityRequest:
		return r.UserAddress
	case providers.DepositRequest:
		return r.UserAddress
	case providers.VaultWithdrawRequest:
		return r.UserAddress
	case providers.CreateVaultRequest:
		return r.UserAddress
	default:
		return ""
	}
}
