package soroswap

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stellar/go/strkey"
	"github.com/stellar/go/xdr"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dev-tnsq/verbex/internal/execution"
	"github.com/dev-tnsq/verbex/internal/httpx"
	"github.com/dev-tnsq/verbex/internal/id"
	"github.com/dev-tnsq/verbex/internal/model"
	"github.com/dev-tnsq/verbex/internal/providers"
	"github.com/dev-tnsq/verbex/internal/registry"
)

func testClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	network, err := registry.ResolveNetwork("testnet")
	require.NoError(t, err)
	c, err := New(httpx.New(2*time.Second, 0), nil, network, "test-key", zap.NewNop())
	require.NoError(t, err)
	if endpoint != "" {
		c.endpoint = endpoint
	}
	c.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return c
}

func TestQuoteUsesPartnerAPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/quote", r.URL.Path)
		require.Equal(t, "testnet", r.URL.Query().Get("network"))
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "100000000", body["amount"])

		json.NewEncoder(w).Encode(quoteResponse{
			AmountIn:       "100000000",
			AmountOut:      "31500000",
			PriceImpactPct: 0.12,
		})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	quote, err := c.Quote(context.Background(), providers.QuoteRequest{
		FromAsset: "XLM",
		ToAsset:   "USDC",
		Amount:    "10",
	})
	require.NoError(t, err)
	require.Equal(t, "10", quote.AmountIn)
	require.Equal(t, "3.15", quote.AmountOut)
	require.Equal(t, model.DataSourceLive, quote.DataSource)
	require.NotEmpty(t, quote.FetchedAt)
}

func TestQuoteFallsBackWhenAPIDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	quote, err := c.Quote(context.Background(), providers.QuoteRequest{
		FromAsset: "XLM",
		ToAsset:   "USDC",
		Amount:    "10",
	})
	require.NoError(t, err)
	require.Equal(t, model.DataSourceFallback, quote.DataSource)
	require.NotEqual(t, "0", quote.AmountOut)
	require.Greater(t, quote.PriceImpactPct, 0.0)
}

func TestQuoteFallbackUnknownPair(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	raw := make([]byte, 32)
	raw[0] = 0x7f
	unknown, err := strkey.Encode(strkey.VersionByteContract, raw)
	require.NoError(t, err)

	c := testClient(t, srv.URL)
	_, err = c.Quote(context.Background(), providers.QuoteRequest{
		FromAsset: "XLM",
		ToAsset:   unknown,
		Amount:    "10",
	})
	require.Error(t, err)
}

func TestQuoteRejectsInvalidAmount(t *testing.T) {
	c := testClient(t, "")
	_, err := c.Quote(context.Background(), providers.QuoteRequest{
		FromAsset: "XLM",
		ToAsset:   "USDC",
		Amount:    "-5",
	})
	require.Error(t, err)
}

func TestFallbackQuoteConstantProduct(t *testing.T) {
	c := testClient(t, "")
	quote, err := c.fallbackQuote(providers.QuoteRequest{
		FromAsset: "XLM",
		ToAsset:   "USDC",
		Amount:    "100",
	}, 100_0000000)
	require.NoError(t, err)

	// x*y=k with the 0.3% input fee against the synthetic reserves.
	inWithFee := int64(100_0000000) * 997 / 1000
	want := int64(float64(fallbackReserves["USDC"]) * float64(inWithFee) / float64(fallbackReserves["XLM"]+inWithFee))
	got := mustStroops(t, quote.AmountOut)
	require.Equal(t, want, got)
	require.Equal(t, model.DataSourceFallback, quote.DataSource)
}

func TestDecodeAmountVec(t *testing.T) {
	vec := execution.VecVal(execution.I128Val(100_0000000), execution.I128Val(31_5000000))
	out, err := decodeAmountVec(&vec)
	require.NoError(t, err)
	require.Equal(t, []string{"100", "31.5"}, out)

	single := execution.I128Val(25_0000000)
	out, err = decodeAmountVec(&single)
	require.NoError(t, err)
	require.Equal(t, "25", out)

	out, err = decodeAmountVec(nil)
	require.NoError(t, err)
	require.Nil(t, out)

	sym := xdr.ScVal{Type: xdr.ScValTypeScvSymbol}
	out, err = decodeAmountVec(&sym)
	require.NoError(t, err)
	require.Nil(t, out)
}

func mustStroops(t *testing.T, decimal string) int64 {
	t.Helper()
	v, err := id.ToStroops(decimal)
	require.NoError(t, err)
	return v
}
