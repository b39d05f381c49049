package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/xdr"
	"go.uber.org/zap"

	clierr "github.com/dev-tnsq/verbex/internal/errors"
	"github.com/dev-tnsq/verbex/internal/soroban"
)

// RPC is the slice of the Soroban client the execution pipeline depends on.
// *soroban.Client satisfies it; tests substitute mocks.
type RPC interface {
	LoadAccount(accountID string) (*horizon.Account, error)
	SimulateTransaction(ctx context.Context, envelopeXDR string) (soroban.SimulateResponse, error)
	SendTransaction(ctx context.Context, envelopeXDR string) (soroban.SendResponse, error)
	GetTransaction(ctx context.Context, hash string) (soroban.GetTransactionResponse, error)
}

// ResultDecoder turns a host function return value into a caller-facing
// result. A nil decoder (or a nil return value) yields a nil result.
type ResultDecoder func(*xdr.ScVal) (any, error)

// SubmitOptions carries the two bounded retry policies of the submission
// path: the send loop retrying transient backpressure and the confirmation
// poll waiting for a terminal ledger state.
type SubmitOptions struct {
	Send    Policy
	Confirm Policy
}

func DefaultSubmitOptions() SubmitOptions {
	return SubmitOptions{
		Send:    Policy{Interval: 2 * time.Second, MaxElapsed: 30 * time.Second},
		Confirm: Policy{Interval: time.Second, MaxElapsed: 60 * time.Second},
	}
}

// SubmitAndConfirm pushes a signed envelope to the network and waits until
// the transaction reaches a terminal ledger state. TRY_AGAIN_LATER responses
// are retried at a fixed interval within the send budget; once the node
// accepts the transaction the confirmation poll runs until the hash leaves
// NOT_FOUND or its own budget expires. A confirmation timeout does not mean
// the transaction failed, and the returned error says so.
func SubmitAndConfirm(ctx context.Context, rpc RPC, signedXDR string, decode ResultDecoder, opts SubmitOptions, log *zap.Logger) (string, any, error) {
	if log == nil {
		log = zap.NewNop()
	}

	var hash string
	err := Poll(ctx, opts.Send, func(ctx context.Context) (bool, error) {
		resp, err := rpc.SendTransaction(ctx, signedXDR)
		if err != nil {
			return false, err
		}
		switch resp.Status {
		case soroban.SendStatusPending, soroban.SendStatusDuplicate:
			hash = resp.Hash
			return true, nil
		case soroban.SendStatusTryAgainLater:
			log.Debug("node backpressure, resubmitting", zap.String("hash", resp.Hash))
			return false, nil
		default:
			return false, clierr.New(clierr.CodeTxFailed, fmt.Sprintf("transaction rejected by network: %s", sendFailureDetail(resp)))
		}
	})
	if err != nil {
		if errors.Is(err, ErrBudgetExhausted) {
			return "", nil, clierr.New(clierr.CodeSubmitTimeout, "network kept responding try-again-later within the submission budget")
		}
		return "", nil, err
	}

	var final soroban.GetTransactionResponse
	err = Poll(ctx, opts.Confirm, func(ctx context.Context) (bool, error) {
		resp, err := rpc.GetTransaction(ctx, hash)
		if err != nil {
			return false, err
		}
		if resp.Status == soroban.TxStatusNotFound {
			return false, nil
		}
		final = resp
		return true, nil
	})
	if err != nil {
		if errors.Is(err, ErrBudgetExhausted) {
			return hash, nil, clierr.New(clierr.CodeTxTimeout, fmt.Sprintf("confirmation timed out for %s; the transaction may still be included", hash))
		}
		return hash, nil, err
	}

	if final.Status != soroban.TxStatusSuccess {
		log.Warn("transaction failed on-chain",
			zap.String("hash", hash),
			zap.String("result_xdr", final.ResultXDR),
		)
		return hash, nil, clierr.New(clierr.CodeTxFailed, fmt.Sprintf("transaction %s failed on-chain (ledger %d)", hash, final.Ledger))
	}

	log.Info("transaction confirmed", zap.String("hash", hash), zap.Uint32("ledger", final.Ledger))

	if decode == nil {
		return hash, nil, nil
	}
	rv, err := final.ReturnValue()
	if err != nil {
		return hash, nil, clierr.Wrap(clierr.CodeInternal, "decode transaction meta", err)
	}
	if rv == nil {
		return hash, nil, nil
	}
	result, err := decode(rv)
	if err != nil {
		return hash, nil, clierr.Wrap(clierr.CodeInternal, "decode return value", err)
	}
	return hash, result, nil
}

func sendFailureDetail(resp soroban.SendResponse) string {
	if resp.ErrorResultXDR != "" {
		return fmt.Sprintf("status %s, result %s", resp.Status, resp.ErrorResultXDR)
	}
	return "status " + resp.Status
}
