package execution

import (
	"context"

	"github.com/stellar/go/txnbuild"
	"github.com/stellar/go/xdr"

	clierr "github.com/dev-tnsq/verbex/internal/errors"
	"github.com/dev-tnsq/verbex/internal/execution/signer"
	"github.com/dev-tnsq/verbex/internal/model"
	"github.com/dev-tnsq/verbex/internal/soroban"
)

// ReadCall executes a read-only contract invocation by simulating it and
// decoding the host function's return value. Nothing is submitted and no
// sequence number is consumed on-chain.
func (p *Pipeline) ReadCall(ctx context.Context, source string, op *txnbuild.InvokeHostFunction) (*xdr.ScVal, error) {
	snapshot, err := p.loadSnapshot(source)
	if err != nil {
		return nil, err
	}
	tx, err := p.buildTx(snapshot, op, p.cfg.BaseFee)
	if err != nil {
		return nil, err
	}
	sim, err := p.simulate(ctx, tx)
	if err != nil {
		return nil, err
	}
	if sim.Outcome() == soroban.SimulationError {
		return nil, clierr.New(clierr.CodeSimulation, "simulation failed: "+sim.Error)
	}
	if len(sim.Results) == 0 || sim.Results[0].XDR == "" {
		return nil, nil
	}
	var val xdr.ScVal
	if err := xdr.SafeUnmarshalBase64(sim.Results[0].XDR, &val); err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "decode read result", err)
	}
	return &val, nil
}

// CompleteEnvelope finishes an operation whose transaction was built
// elsewhere (a partner API's xdr field, or a record from the pending
// store). Without a signer the envelope is surfaced for wallet signing;
// with one it is signed, submitted and confirmed.
func (p *Pipeline) CompleteEnvelope(ctx context.Context, unsignedXDR string, sgn signer.Signer, decode ResultDecoder) (model.TransactionOutcome, error) {
	if unsignedXDR == "" {
		return model.TransactionOutcome{}, clierr.New(clierr.CodeInternal, "missing transaction envelope")
	}
	if sgn == nil {
		return model.TransactionOutcome{Status: model.StatusNeedsSignature, UnsignedXDR: unsignedXDR}, nil
	}

	generic, err := txnbuild.TransactionFromXDR(unsignedXDR)
	if err != nil {
		return model.TransactionOutcome{}, clierr.Wrap(clierr.CodeInternal, "parse transaction envelope", err)
	}
	tx, ok := generic.Transaction()
	if !ok {
		return model.TransactionOutcome{}, clierr.New(clierr.CodeUnsupported, "fee-bump envelopes are not supported here")
	}
	signed, err := sgn.Sign(p.passphrase, tx)
	if err != nil {
		return model.TransactionOutcome{}, clierr.Wrap(clierr.CodeSigner, "sign transaction", err)
	}
	signedXDR, err := signed.Base64()
	if err != nil {
		return model.TransactionOutcome{}, clierr.Wrap(clierr.CodeInternal, "encode signed envelope", err)
	}
	hash, result, err := SubmitAndConfirm(ctx, p.rpc, signedXDR, decode, p.cfg.Submit, p.log)
	if err != nil {
		return model.TransactionOutcome{}, err
	}
	return model.TransactionOutcome{Status: model.StatusSuccess, TxHash: hash, Result: result}, nil
}
