package execution

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stellar/go/txnbuild"
	"github.com/stellar/go/xdr"
	"go.uber.org/zap"

	clierr "github.com/dev-tnsq/verbex/internal/errors"
	"github.com/dev-tnsq/verbex/internal/execution/signer"
	"github.com/dev-tnsq/verbex/internal/model"
	"github.com/dev-tnsq/verbex/internal/soroban"
)

// Config holds the fee and timing knobs of the invoke pipeline.
type Config struct {
	// BaseFee is the inclusion fee in stroops; the Soroban resource fee is
	// added on top from the simulation's estimate.
	BaseFee int64
	// TxTimeout bounds the transaction's validity window (maxTime).
	TxTimeout time.Duration
	Submit    SubmitOptions
}

func DefaultConfig() Config {
	return Config{
		BaseFee:   txnbuild.MinBaseFee,
		TxTimeout: 5 * time.Minute,
		Submit:    DefaultSubmitOptions(),
	}
}

// Pipeline turns one encoded contract invocation into either a confirmed
// on-chain result or a deferred unsigned envelope.
type Pipeline struct {
	rpc        RPC
	passphrase string
	cfg        Config
	log        *zap.Logger
}

func NewPipeline(rpc RPC, networkPassphrase string, cfg Config, log *zap.Logger) *Pipeline {
	if cfg.BaseFee <= 0 {
		cfg.BaseFee = txnbuild.MinBaseFee
	}
	if cfg.TxTimeout <= 0 {
		cfg.TxTimeout = 5 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{rpc: rpc, passphrase: networkPassphrase, cfg: cfg, log: log}
}

// Invoke runs the full build/simulate/restore/assemble sequence for a single
// InvokeHostFunction operation.
//
// The source account is reloaded immediately before building, so the
// sequence number is correct as of this call (not across a multi-step
// workflow). If simulation reports archived contract state, one restore
// sub-transaction is submitted and confirmed, the account is reloaded, and
// the original transaction is rebuilt and re-simulated exactly once; a
// second restore requirement surfaces as the second simulation's error.
//
// With no signer the assembled envelope is returned unsigned under
// NEEDS_SIGNATURE, which is a terminal success path. With a signer the
// transaction is signed, submitted and confirmed.
func (p *Pipeline) Invoke(ctx context.Context, source string, op *txnbuild.InvokeHostFunction, sgn signer.Signer, decode ResultDecoder) (model.TransactionOutcome, error) {
	if strings.TrimSpace(source) == "" {
		return model.TransactionOutcome{}, clierr.New(clierr.CodeUsage, "source account is required")
	}
	if op == nil {
		return model.TransactionOutcome{}, clierr.New(clierr.CodeInternal, "missing contract operation")
	}

	snapshot, err := p.loadSnapshot(source)
	if err != nil {
		return model.TransactionOutcome{}, err
	}

	tx, err := p.buildTx(snapshot, op, p.cfg.BaseFee)
	if err != nil {
		return model.TransactionOutcome{}, err
	}
	sim, err := p.simulate(ctx, tx)
	if err != nil {
		return model.TransactionOutcome{}, err
	}

	if sim.Outcome() == soroban.SimulationNeedsRestore {
		if sgn == nil {
			return model.TransactionOutcome{}, clierr.New(clierr.CodeSigner, "archived contract state must be restored before this operation, which requires a signing key")
		}
		if err := p.restore(ctx, source, *sim.RestorePreamble, sgn); err != nil {
			return model.TransactionOutcome{}, err
		}
		// The restore transaction consumed a sequence number; reload.
		snapshot, err = p.loadSnapshot(source)
		if err != nil {
			return model.TransactionOutcome{}, err
		}
		tx, err = p.buildTx(snapshot, op, p.cfg.BaseFee)
		if err != nil {
			return model.TransactionOutcome{}, err
		}
		sim, err = p.simulate(ctx, tx)
		if err != nil {
			return model.TransactionOutcome{}, err
		}
		if sim.Outcome() == soroban.SimulationNeedsRestore {
			// Restore is attempted once, not looped.
			return model.TransactionOutcome{}, clierr.New(clierr.CodeSimulation, "contract state still archived after restore")
		}
	}

	if sim.Outcome() == soroban.SimulationError {
		return model.TransactionOutcome{}, clierr.New(clierr.CodeSimulation, "simulation failed: "+sim.Error)
	}

	assembled, err := p.assemble(snapshot, op, sim)
	if err != nil {
		return model.TransactionOutcome{}, err
	}

	if sgn == nil {
		unsigned, err := assembled.Base64()
		if err != nil {
			return model.TransactionOutcome{}, clierr.Wrap(clierr.CodeInternal, "encode unsigned envelope", err)
		}
		return model.TransactionOutcome{Status: model.StatusNeedsSignature, UnsignedXDR: unsigned}, nil
	}

	signed, err := sgn.Sign(p.passphrase, assembled)
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

// SubmitSigned pushes an externally signed envelope through the confirmation
// poller; it completes a deferred-signing ceremony.
func (p *Pipeline) SubmitSigned(ctx context.Context, signedXDR string, decode ResultDecoder) (model.TransactionOutcome, error) {
	if strings.TrimSpace(signedXDR) == "" {
		return model.TransactionOutcome{}, clierr.New(clierr.CodeUsage, "signed transaction XDR is required")
	}
	hash, result, err := SubmitAndConfirm(ctx, p.rpc, signedXDR, decode, p.cfg.Submit, p.log)
	if err != nil {
		return model.TransactionOutcome{}, err
	}
	return model.TransactionOutcome{Status: model.StatusSuccess, TxHash: hash, Result: result}, nil
}

type accountSnapshot struct {
	accountID string
	sequence  int64
}

func (p *Pipeline) loadSnapshot(source string) (accountSnapshot, error) {
	account, err := p.rpc.LoadAccount(source)
	if err != nil {
		return accountSnapshot{}, err
	}
	seq, err := account.GetSequenceNumber()
	if err != nil {
		return accountSnapshot{}, clierr.Wrap(clierr.CodeInternal, "read account sequence", err)
	}
	return accountSnapshot{accountID: source, sequence: seq}, nil
}

// buildTx builds from a fresh SimpleAccount copy every time so repeated
// builds against one snapshot all use the same sequence number.
func (p *Pipeline) buildTx(snapshot accountSnapshot, op txnbuild.Operation, baseFee int64) (*txnbuild.Transaction, error) {
	source := txnbuild.SimpleAccount{AccountID: snapshot.accountID, Sequence: snapshot.sequence}
	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        &source,
		IncrementSequenceNum: true,
		Operations:           []txnbuild.Operation{op},
		BaseFee:              baseFee,
		Preconditions: txnbuild.Preconditions{
			TimeBounds: txnbuild.NewTimeout(int64(p.cfg.TxTimeout.Seconds())),
		},
	})
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "build transaction", err)
	}
	return tx, nil
}

func (p *Pipeline) simulate(ctx context.Context, tx *txnbuild.Transaction) (soroban.SimulateResponse, error) {
	envelope, err := tx.Base64()
	if err != nil {
		return soroban.SimulateResponse{}, clierr.Wrap(clierr.CodeInternal, "encode envelope for simulation", err)
	}
	return p.rpc.SimulateTransaction(ctx, envelope)
}

// assemble rebuilds the transaction with the simulation's footprint,
// resource estimate and authorization entries attached.
func (p *Pipeline) assemble(snapshot accountSnapshot, op *txnbuild.InvokeHostFunction, sim soroban.SimulateResponse) (*txnbuild.Transaction, error) {
	sorobanData, err := sim.SorobanData()
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "decode simulation transaction data", err)
	}
	op.Ext = xdr.TransactionExt{V: 1, SorobanData: &sorobanData}

	if len(op.Auth) == 0 && len(sim.Results) > 0 {
		auth, err := decodeAuthEntries(sim.Results[0].Auth)
		if err != nil {
			return nil, err
		}
		op.Auth = auth
	}

	return p.buildTx(snapshot, op, p.cfg.BaseFee)
}

func (p *Pipeline) restore(ctx context.Context, source string, preamble soroban.RestorePreamble, sgn signer.Signer) error {
	snapshot, err := p.loadSnapshot(source)
	if err != nil {
		return err
	}
	restoreData, err := preamble.SorobanData()
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "decode restore preamble", err)
	}

	// Floor-bumped inclusion fee; restore transactions are cheap to get
	// wrong and an underpriced fee rejection would waste the whole call.
	fee := p.cfg.BaseFee + 50_000
	if fee < 100_000 {
		fee = 100_000
	}

	op := &txnbuild.RestoreFootprint{
		Ext: xdr.TransactionExt{V: 1, SorobanData: &restoreData},
	}
	tx, err := p.buildTx(snapshot, op, fee)
	if err != nil {
		return err
	}
	signed, err := sgn.Sign(p.passphrase, tx)
	if err != nil {
		return clierr.Wrap(clierr.CodeSigner, "sign restore transaction", err)
	}
	signedXDR, err := signed.Base64()
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "encode restore envelope", err)
	}

	p.log.Info("restoring archived contract state", zap.String("account", source))
	if _, _, err := SubmitAndConfirm(ctx, p.rpc, signedXDR, nil, p.cfg.Submit, p.log); err != nil {
		return clierr.Wrap(clierr.CodeTxFailed, "restore footprint transaction", err)
	}
	return nil
}

func decodeAuthEntries(encoded []string) ([]xdr.SorobanAuthorizationEntry, error) {
	if len(encoded) == 0 {
		return nil, nil
	}
	out := make([]xdr.SorobanAuthorizationEntry, 0, len(encoded))
	for i, b64 := range encoded {
		var entry xdr.SorobanAuthorizationEntry
		if err := xdr.SafeUnmarshalBase64(b64, &entry); err != nil {
			return nil, clierr.Wrap(clierr.CodeInternal, fmt.Sprintf("decode auth entry %d", i), err)
		}
		out = append(out, entry)
	}
	return out, nil
}
