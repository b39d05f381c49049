package defindex

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
	"github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/strkey"
	"github.com/stellar/go/xdr"
	"github.com/stretchr/testify/require"

	"github.com/dev-tnsq/verbex/internal/execution"
	"github.com/dev-tnsq/verbex/internal/httpx"
	"github.com/dev-tnsq/verbex/internal/model"
	"github.com/dev-tnsq/verbex/internal/providers"
	"github.com/dev-tnsq/verbex/internal/registry"
	"github.com/dev-tnsq/verbex/internal/soroban"
)

type fakeRPC struct {
	mu        sync.Mutex
	simResult func() (soroban.SimulateResponse, error)
	simCalls  int
}

func (f *fakeRPC) LoadAccount(accountID string) (*horizon.Account, error) {
	return &horizon.Account{AccountID: accountID, Sequence: 7}, nil
}

func (f *fakeRPC) SimulateTransaction(context.Context, string) (soroban.SimulateResponse, error) {
	f.mu.Lock()
	f.simCalls++
	f.mu.Unlock()
	return f.simResult()
}

func (f *fakeRPC) SendTransaction(context.Context, string) (soroban.SendResponse, error) {
	return soroban.SendResponse{}, nil
}

func (f *fakeRPC) GetTransaction(context.Context, string) (soroban.GetTransactionResponse, error) {
	return soroban.GetTransactionResponse{}, nil
}

func testClient(t *testing.T, endpoint string, rpc *fakeRPC) *Client {
	t.Helper()
	net, err := registry.ResolveNetwork("testnet")
	require.NoError(t, err)
	if rpc == nil {
		rpc = &fakeRPC{}
	}
	pipeline := execution.NewPipeline(rpc, network.TestNetworkPassphrase, execution.DefaultConfig(), nil)
	c := New(httpx.New(2*time.Second, 0), pipeline, net, "test-key", nil)
	if endpoint != "" {
		c.endpoint = endpoint
	}
	c.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return c
}

func testVaultID(t *testing.T) string {
	t.Helper()
	raw := make([]byte, 32)
	raw[0] = 0x0d
	vaultID, err := strkey.Encode(strkey.VersionByteContract, raw)
	require.NoError(t, err)
	return vaultID
}

func TestDepositDefersSigningWithAPIEnvelope(t *testing.T) {
	user := keypair.MustRandom().Address()
	vaultID := testVaultID(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/vault/"+vaultID+"/deposit", r.URL.Path)
		require.Equal(t, "testnet", r.URL.Query().Get("network"))
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, user, body["from"])
		require.Equal(t, []any{"250000000"}, body["amounts"])

		json.NewEncoder(w).Encode(buildResponse{XDR: "AAAA-unsigned-envelope"})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, nil)
	outcome, err := c.Deposit(context.Background(), providers.DepositRequest{
		UserAddress: user,
		VaultID:     vaultID,
		Amount:      "25",
	}, nil)
	require.NoError(t, err)
	require.Equal(t, model.StatusNeedsSignature, outcome.Status)
	require.Equal(t, "AAAA-unsigned-envelope", outcome.UnsignedXDR)
}

func TestDepositPropagatesAPIFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, nil)
	_, err := c.Deposit(context.Background(), providers.DepositRequest{
		UserAddress: keypair.MustRandom().Address(),
		VaultID:     testVaultID(t),
		Amount:      "25",
	}, nil)
	require.Error(t, err, "write paths must propagate upstream failures, never fall back")
}

func TestCreateVaultSurfacesAPIRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/factory/create", r.URL.Path)
		json.NewEncoder(w).Encode(buildResponse{Error: "unsupported strategy"})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, nil)
	_, err := c.CreateVault(context.Background(), providers.CreateVaultRequest{
		UserAddress: keypair.MustRandom().Address(),
		Name:        "My Vault",
		Asset:       "USDC",
		Strategy:    "blend-fixed",
	}, nil)
	require.ErrorContains(t, err, "unsupported strategy")
}

func TestAvailableVaultsLive(t *testing.T) {
	vaultID := testVaultID(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/vaults", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"vaults": []map[string]any{{
				"address":  vaultID,
				"name":     "USDC Yield",
				"asset":    "USDC",
				"strategy": "blend-fixed",
				"apy":      4.2,
				"tvl":      "1200000",
			}},
		})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, nil)
	list, err := c.AvailableVaults(context.Background())
	require.NoError(t, err)
	require.Equal(t, "OK", list.Status)
	require.Equal(t, model.DataSourceLive, list.DataSource)
	require.Len(t, list.Vaults, 1)
	require.Equal(t, vaultID, list.Vaults[0].VaultID)
	require.Equal(t, 4.2, list.Vaults[0].APY)
}

func TestAvailableVaultsFallsBackToStrategies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL, nil)
	list, err := c.AvailableVaults(context.Background())
	require.NoError(t, err)
	require.Equal(t, "OK", list.Status, "the vault read path answers OK even on fallback")
	require.Equal(t, model.DataSourceFallback, list.DataSource)
	require.Len(t, list.Vaults, len(fallbackStrategies))
	for _, v := range list.Vaults {
		require.Equal(t, model.DataSourceFallback, v.DataSource)
		require.Empty(t, v.VaultID)
	}
}

func TestBalanceFallsBackToChainRead(t *testing.T) {
	user := keypair.MustRandom().Address()
	vaultID := testVaultID(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	resultB64, err := xdr.MarshalBase64(execution.I128Val(75_0000000))
	require.NoError(t, err)
	data, err := xdr.MarshalBase64(xdr.SorobanTransactionData{ResourceFee: 100})
	require.NoError(t, err)
	rpc := &fakeRPC{simResult: func() (soroban.SimulateResponse, error) {
		return soroban.SimulateResponse{
			TransactionData: data,
			MinResourceFee:  "100",
			Results:         []soroban.SimulateHostResult{{XDR: resultB64}},
		}, nil
	}}

	c := testClient(t, srv.URL, rpc)
	pos, err := c.Balance(context.Background(), vaultID, user)
	require.NoError(t, err)
	require.Equal(t, "75", pos.Amount)
	require.Equal(t, int64(75_0000000), pos.AmountStroops)
	require.Equal(t, "defindex", pos.Protocol)
	require.Equal(t, 1, rpc.simCalls)
}

func TestBalancePrefersAPI(t *testing.T) {
	user := keypair.MustRandom().Address()
	vaultID := testVaultID(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(balanceResponse{UnderlyingBalance: "120000000", VaultShares: "110000000"})
	}))
	defer srv.Close()

	rpc := &fakeRPC{}
	c := testClient(t, srv.URL, rpc)
	pos, err := c.Balance(context.Background(), vaultID, user)
	require.NoError(t, err)
	require.Equal(t, "12", pos.Amount)
	require.Equal(t, 0, rpc.simCalls, "chain read must not run when the API answers")
}
