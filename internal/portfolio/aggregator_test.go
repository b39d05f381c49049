package portfolio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	clierr "github.com/dev-tnsq/verbex/internal/errors"
	"github.com/dev-tnsq/verbex/internal/model"
)

type stubSource struct {
	name      string
	positions []model.Position
	err       error
}

func (s stubSource) Name() string { return s.name }

func (s stubSource) Positions(context.Context, string) ([]model.Position, error) {
	return s.positions, s.err
}

func pos(asset, kind string, stroops int64) model.Position {
	return model.Position{
		Protocol:      "test",
		Asset:         asset,
		Kind:          kind,
		Amount:        "x",
		AmountStroops: stroops,
	}
}

func testAggregator(sources ...stubSource) *Aggregator {
	a := New(nil, nil)
	for _, s := range sources {
		a.sources = append(a.sources, s)
	}
	a.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return a
}

func TestOverviewMergesAllocations(t *testing.T) {
	a := testAggregator(
		stubSource{name: "blend", positions: []model.Position{
			pos("XLM", "supply", 600_0000000),
			pos("USDC", "supply", 300_0000000),
		}},
		stubSource{name: "defindex", positions: []model.Position{
			pos("USDC", "vault", 100_0000000),
		}},
	)

	overview, err := a.Overview(context.Background(), "GACC")
	require.NoError(t, err)
	require.Equal(t, int64(1000_0000000), overview.TotalStroops)
	require.Empty(t, overview.FailedSources)

	require.Len(t, overview.Allocations, 2)
	require.Equal(t, "XLM", overview.Allocations[0].Asset)
	require.InDelta(t, 60.0, overview.Allocations[0].SharePct, 1e-9)
	require.Equal(t, "USDC", overview.Allocations[1].Asset)
	require.InDelta(t, 40.0, overview.Allocations[1].SharePct, 1e-9)

	// 0.6^2 + 0.4^2
	require.InDelta(t, 0.52, overview.HHI, 1e-9)
}

func TestOverviewToleratesOneFailedBranch(t *testing.T) {
	a := testAggregator(
		stubSource{name: "blend", positions: []model.Position{pos("XLM", "supply", 50_0000000)}},
		stubSource{name: "soroswap", err: clierr.New(clierr.CodeUnavailable, "rpc unreachable")},
	)

	overview, err := a.Overview(context.Background(), "GACC")
	require.NoError(t, err, "one failing protocol must not fail the overview")
	require.Equal(t, []string{"soroswap"}, overview.FailedSources)
	require.Equal(t, int64(50_0000000), overview.TotalStroops)

	byName := map[string]model.ProtocolPositions{}
	for _, p := range overview.Protocols {
		byName[p.Protocol] = p
	}
	require.Equal(t, model.DataSourceFallback, byName["soroswap"].DataSource)
	require.Contains(t, byName["soroswap"].Err, "rpc unreachable")
	require.Equal(t, model.DataSourceLive, byName["blend"].DataSource)
}

func TestOverviewExcludesBorrowsFromAllocations(t *testing.T) {
	a := testAggregator(
		stubSource{name: "blend", positions: []model.Position{
			pos("XLM", "supply", 100_0000000),
			pos("USDC", "borrow", 40_0000000),
		}},
	)

	overview, err := a.Overview(context.Background(), "GACC")
	require.NoError(t, err)
	require.Equal(t, int64(100_0000000), overview.TotalStroops)
	require.Len(t, overview.Allocations, 1)
	require.Equal(t, "XLM", overview.Allocations[0].Asset)
	require.InDelta(t, 1.0, overview.HHI, 1e-9)

	// The liability still shows in the protocol breakdown.
	require.Len(t, overview.Protocols[0].Positions, 2)
}

func TestOverviewEmptyPortfolio(t *testing.T) {
	a := testAggregator(stubSource{name: "blend"})

	overview, err := a.Overview(context.Background(), "GACC")
	require.NoError(t, err)
	require.Zero(t, overview.TotalStroops)
	require.Nil(t, overview.Allocations)
	require.Zero(t, overview.HHI)
	require.NotEmpty(t, overview.FetchedAt)
}
