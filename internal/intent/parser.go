// Package intent turns free-form chat messages into validated protocol
// requests. The LLM only classifies; every decoded request passes the same
// validation as a directly-constructed one before it may dispatch.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	clierr "github.com/dev-tnsq/verbex/internal/errors"
	"github.com/dev-tnsq/verbex/internal/providers"
)

// Classifier produces the raw JSON classification for one message. The
// Gemini client implements it; tests substitute a deterministic stub.
type Classifier interface {
	Classify(ctx context.Context, prompt string) (string, error)
}

type Parser struct {
	classifier Classifier
	log        *zap.Logger
}

func NewParser(classifier Classifier, log *zap.Logger) *Parser {
	if log == nil {
		log = zap.NewNop()
	}
	return &Parser{classifier: classifier, log: log}
}

// classification is the strict JSON shape the model must answer with.
type classification struct {
	Protocol string            `json:"protocol"`
	Action   string            `json:"action"`
	Params   map[string]string `json:"params"`
}

const promptTemplate = `You classify DeFi commands for the Stellar network.
Answer with a single JSON object and nothing else:
{"protocol": "...", "action": "...", "params": {...}}

Protocols and actions:
- blend: lend, withdraw, borrow, repay, claim (params: asset, amount; claim takes none)
- soroswap: swap (params: fromAsset, toAsset, amount), addLiquidity (assetA, assetB, amountA, amountB), removeLiquidity (assetA, assetB, liquidity), quote (fromAsset, toAsset, amount)
- defindex: deposit (vaultId, amount), withdrawVault (vaultId, amount), createVault (name, asset, strategy)

Assets are symbols like XLM or USDC, or C... contract addresses.
Amounts are decimal strings. If the message is not one of these commands,
answer {"protocol": "none", "action": "none", "params": {}}.

Message: %s`

// Parse classifies one message and decodes the result into a typed,
// validated request for the given account.
func (p *Parser) Parse(ctx context.Context, message, userAddress string) (providers.Request, error) {
	if strings.TrimSpace(message) == "" {
		return nil, clierr.New(clierr.CodeUsage, "message is required")
	}

	raw, err := p.classifier.Classify(ctx, fmt.Sprintf(promptTemplate, message))
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "intent classification failed", err)
	}

	var c classification
	if err := json.Unmarshal([]byte(stripFences(raw)), &c); err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "could not understand the request", err)
	}
	p.log.Debug("classified intent",
		zap.String("protocol", c.Protocol),
		zap.String("action", c.Action))

	req, err := buildRequest(c, userAddress)
	if err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// buildRequest maps a classification onto the tagged request union.
func buildRequest(c classification, user string) (providers.Request, error) {
	get := func(key string) string { return c.Params[key] }

	switch c.Protocol + "/" + c.Action {
	case "blend/lend":
		return providers.LendRequest{UserAddress: user, Asset: get("asset"), Amount: get("amount"), PoolID: get("poolId")}, nil
	case "blend/withdraw":
		return providers.WithdrawRequest{UserAddress: user, Asset: get("asset"), Amount: get("amount"), PoolID: get("poolId")}, nil
	case "blend/borrow":
		return providers.BorrowRequest{UserAddress: user, Asset: get("asset"), Amount: get("amount"), PoolID: get("poolId")}, nil
	case "blend/repay":
		return providers.RepayRequest{UserAddress: user, Asset: get("asset"), Amount: get("amount"), PoolID: get("poolId")}, nil
	case "blend/claim":
		return providers.ClaimRequest{UserAddress: user, PoolID: get("poolId")}, nil
	case "soroswap/swap":
		return providers.SwapRequest{UserAddress: user, FromAsset: get("fromAsset"), ToAsset: get("toAsset"), Amount: get("amount")}, nil
	case "soroswap/addLiquidity":
		return providers.AddLiquidityRequest{UserAddress: user, AssetA: get("assetA"), AssetB: get("assetB"), AmountA: get("amountA"), AmountB: get("amountB")}, nil
	case "soroswap/removeLiquidity":
		return providers.RemoveLiquidityRequest{UserAddress: user, AssetA: get("assetA"), AssetB: get("assetB"), Liquidity: get("liquidity")}, nil
	case "soroswap/quote":
		return providers.QuoteRequest{FromAsset: get("fromAsset"), ToAsset: get("toAsset"), Amount: get("amount")}, nil
	case "defindex/deposit":
		return providers.DepositRequest{UserAddress: user, VaultID: get("vaultId"), Amount: get("amount")}, nil
	case "defindex/withdrawVault":
		return providers.VaultWithdrawRequest{UserAddress: user, VaultID: get("vaultId"), Amount: get("amount")}, nil
	case "defindex/createVault":
		return providers.CreateVaultRequest{UserAddress: user, Name: get("name"), Asset: get("asset"), Strategy: get("strategy")}, nil
	case "none/none":
		return nil, clierr.New(clierr.CodeUsage, "message does not describe a supported DeFi command")
	default:
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("unsupported intent %s/%s", c.Protocol, c.Action))
	}
}

// stripFences tolerates models that wrap JSON in a markdown code fence
// despite the instruction.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
