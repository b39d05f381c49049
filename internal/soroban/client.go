package soroban

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stellar/go/clients/horizonclient"
	"github.com/stellar/go/protocols/horizon"
	"go.uber.org/zap"

	clierr "github.com/dev-tnsq/verbex/internal/errors"
	"github.com/dev-tnsq/verbex/internal/httpx"
	"github.com/dev-tnsq/verbex/internal/registry"
)

// Client speaks JSON-RPC 2.0 to a Soroban RPC node and loads classic
// accounts from Horizon. One client is scoped to one network and is safe
// for concurrent use; the portfolio fan-out drives several protocol reads
// through one instance at once.
type Client struct {
	http      *httpx.Client
	rpcURL    string
	horizon   horizonclient.ClientInterface
	horizonMu sync.Mutex
	network   registry.Network
	log       *zap.Logger
	nextID    atomic.Int64
}

func NewClient(network registry.Network, httpClient *httpx.Client, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		http:   httpClient,
		rpcURL: network.SorobanRPC,
		horizon: &horizonclient.Client{
			HorizonURL: network.HorizonURL,
			HTTP:       &http.Client{Timeout: 30 * time.Second},
		},
		network: network,
		log:     log,
	}
}

// Network reports the network this client is bound to.
func (c *Client) Network() registry.Network { return c.network }

// LoadAccount fetches the account fresh from Horizon so the sequence number
// is current as of this call. The horizon client initializes internal state
// lazily on first use, so calls are serialized.
func (c *Client) LoadAccount(accountID string) (*horizon.Account, error) {
	c.horizonMu.Lock()
	account, err := c.horizon.AccountDetail(horizonclient.AccountRequest{AccountID: accountID})
	c.horizonMu.Unlock()
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("load account %s", accountID), err)
	}
	return &account, nil
}

func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	id := c.nextID.Add(1)
	payload, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return clierr.Wrap(clierr.CodeInternal, "encode rpc request", err)
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if _, err := httpx.DoBodyJSON(ctx, c.http, http.MethodPost, c.rpcURL, payload, nil, &envelope); err != nil {
		return err
	}
	if envelope.Error != nil {
		return clierr.New(clierr.CodeUnavailable, fmt.Sprintf("rpc %s failed (%d): %s", method, envelope.Error.Code, envelope.Error.Message))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return clierr.Wrap(clierr.CodeUnavailable, fmt.Sprintf("decode rpc %s result", method), err)
	}
	return nil
}

// SimulateTransaction dry-runs a built transaction envelope against current
// ledger state. Diagnostic events on failed simulations are logged here so
// contract-level failures stay diagnosable after the error is surfaced.
func (c *Client) SimulateTransaction(ctx context.Context, envelopeXDR string) (SimulateResponse, error) {
	var resp SimulateResponse
	if err := c.call(ctx, "simulateTransaction", transactionParams{Transaction: envelopeXDR}, &resp); err != nil {
		return SimulateResponse{}, err
	}
	if resp.Error != "" {
		c.log.Warn("simulation reported contract failure",
			zap.String("error", resp.Error),
			zap.Strings("diagnostic_events", resp.Events),
		)
	}
	return resp, nil
}

// SendTransaction pushes a signed envelope to the network. The returned
// status may be a transient TRY_AGAIN_LATER; retrying is the caller's job.
func (c *Client) SendTransaction(ctx context.Context, envelopeXDR string) (SendResponse, error) {
	var resp SendResponse
	if err := c.call(ctx, "sendTransaction", transactionParams{Transaction: envelopeXDR}, &resp); err != nil {
		return SendResponse{}, err
	}
	c.log.Debug("sendTransaction",
		zap.String("status", resp.Status),
		zap.String("hash", resp.Hash),
	)
	return resp, nil
}

// GetTransaction fetches the ledger state of a previously submitted hash.
func (c *Client) GetTransaction(ctx context.Context, hash string) (GetTransactionResponse, error) {
	var resp GetTransactionResponse
	if err := c.call(ctx, "getTransaction", hashParams{Hash: hash}, &resp); err != nil {
		return GetTransactionResponse{}, err
	}
	return resp, nil
}

// GetLatestLedger is a cheap liveness and freshness probe.
func (c *Client) GetLatestLedger(ctx context.Context) (GetLatestLedgerResponse, error) {
	var resp GetLatestLedgerResponse
	if err := c.call(ctx, "getLatestLedger", nil, &resp); err != nil {
		return GetLatestLedgerResponse{}, err
	}
	return resp, nil
}
