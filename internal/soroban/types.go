package soroban

import (
	"github.com/stellar/go/xdr"
)

// Wire schemas for the Soroban RPC JSON-RPC 2.0 protocol. Status strings and
// field shapes are the RPC node's contract and are decoded as-is.

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Send statuses reported by sendTransaction.
const (
	SendStatusPending       = "PENDING"
	SendStatusDuplicate     = "DUPLICATE"
	SendStatusTryAgainLater = "TRY_AGAIN_LATER"
	SendStatusError         = "ERROR"
)

// Terminal statuses reported by getTransaction.
const (
	TxStatusNotFound = "NOT_FOUND"
	TxStatusSuccess  = "SUCCESS"
	TxStatusFailed   = "FAILED"
)

type transactionParams struct {
	Transaction string `json:"transaction"`
}

type hashParams struct {
	Hash string `json:"hash"`
}

// RestorePreamble carries the resource estimate for the restore-footprint
// transaction that must land before the simulated one can succeed.
type RestorePreamble struct {
	TransactionData string `json:"transactionData"`
	MinResourceFee  string `json:"minResourceFee"`
}

type SimulateHostResult struct {
	Auth []string `json:"auth,omitempty"`
	XDR  string   `json:"xdr"`
}

// SimulateResponse is the simulateTransaction result. Exactly one of three
// conditions holds: Error is set, RestorePreamble is set, or the simulation
// succeeded and TransactionData/MinResourceFee/Results are usable.
type SimulateResponse struct {
	Error           string               `json:"error,omitempty"`
	TransactionData string               `json:"transactionData,omitempty"`
	MinResourceFee  string               `json:"minResourceFee,omitempty"`
	Events          []string             `json:"events,omitempty"`
	Results         []SimulateHostResult `json:"results,omitempty"`
	RestorePreamble *RestorePreamble     `json:"restorePreamble,omitempty"`
	LatestLedger    uint32               `json:"latestLedger"`
}

// SimulationOutcome is the tri-state branching decision driven by a
// simulateTransaction response.
type SimulationOutcome int

const (
	SimulationSuccess SimulationOutcome = iota
	SimulationError
	SimulationNeedsRestore
)

func (s SimulateResponse) Outcome() SimulationOutcome {
	if s.Error != "" {
		return SimulationError
	}
	if s.RestorePreamble != nil && s.RestorePreamble.TransactionData != "" {
		return SimulationNeedsRestore
	}
	return SimulationSuccess
}

// SorobanData decodes the simulation's resource/footprint estimate.
func (s SimulateResponse) SorobanData() (xdr.SorobanTransactionData, error) {
	var data xdr.SorobanTransactionData
	err := xdr.SafeUnmarshalBase64(s.TransactionData, &data)
	return data, err
}

// RestoreSorobanData decodes the restore preamble's resource estimate.
func (p RestorePreamble) SorobanData() (xdr.SorobanTransactionData, error) {
	var data xdr.SorobanTransactionData
	err := xdr.SafeUnmarshalBase64(p.TransactionData, &data)
	return data, err
}

type SendResponse struct {
	Status                string   `json:"status"`
	Hash                  string   `json:"hash"`
	ErrorResultXDR        string   `json:"errorResultXdr,omitempty"`
	DiagnosticEventsXDR   []string `json:"diagnosticEventsXdr,omitempty"`
	LatestLedger          uint32   `json:"latestLedger"`
	LatestLedgerCloseTime string   `json:"latestLedgerCloseTime,omitempty"`
}

type GetTransactionResponse struct {
	Status           string `json:"status"`
	EnvelopeXDR      string `json:"envelopeXdr,omitempty"`
	ResultXDR        string `json:"resultXdr,omitempty"`
	ResultMetaXDR    string `json:"resultMetaXdr,omitempty"`
	Ledger           uint32 `json:"ledger,omitempty"`
	CreatedAt        string `json:"createdAt,omitempty"`
	ApplicationOrder int32  `json:"applicationOrder,omitempty"`
	LatestLedger     uint32 `json:"latestLedger"`
}

// ReturnValue extracts the host function's return value from the ledger
// meta, when present.
func (g GetTransactionResponse) ReturnValue() (*xdr.ScVal, error) {
	if g.ResultMetaXDR == "" {
		return nil, nil
	}
	var meta xdr.TransactionMeta
	if err := xdr.SafeUnmarshalBase64(g.ResultMetaXDR, &meta); err != nil {
		return nil, err
	}
	if meta.V == 3 && meta.V3 != nil && meta.V3.SorobanMeta != nil {
		rv := meta.V3.SorobanMeta.ReturnValue
		return &rv, nil
	}
	return nil, nil
}

type GetLatestLedgerResponse struct {
	ID              string `json:"id"`
	ProtocolVersion uint32 `json:"protocolVersion"`
	Sequence        uint32 `json:"sequence"`
}
