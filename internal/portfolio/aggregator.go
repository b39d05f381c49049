// Package portfolio fans a position query out over every protocol and
// merges the answers into one allocation view.
package portfolio

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dev-tnsq/verbex/internal/model"
	"github.com/dev-tnsq/verbex/internal/providers"
)

// Aggregator queries every registered position source concurrently. One
// protocol failing degrades that branch to an empty, error-annotated entry
// instead of failing the whole overview.
type Aggregator struct {
	sources []providers.PositionSource
	log     *zap.Logger
	now     func() time.Time
}

func New(sources []providers.PositionSource, log *zap.Logger) *Aggregator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Aggregator{sources: sources, log: log, now: time.Now}
}

// Overview builds the merged portfolio for one account. Borrow positions
// are liabilities and are excluded from allocation shares; they still
// appear in the per-protocol breakdown.
func (a *Aggregator) Overview(ctx context.Context, userAddress string) (model.PortfolioOverview, error) {
	results := make([]model.ProtocolPositions, len(a.sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range a.sources {
		g.Go(func() error {
			positions, err := src.Positions(gctx, userAddress)
			entry := model.ProtocolPositions{
				Protocol:   src.Name(),
				Positions:  positions,
				DataSource: model.DataSourceLive,
			}
			if err != nil {
				a.log.Warn("position source failed",
					zap.String("protocol", src.Name()),
					zap.Error(err))
				entry.Positions = nil
				entry.DataSource = model.DataSourceFallback
				entry.Err = err.Error()
			}
			results[i] = entry
			return nil
		})
	}
	// Branch errors are captured per-entry, never returned.
	_ = g.Wait()

	overview := model.PortfolioOverview{
		Protocols: results,
		FetchedAt: a.now().UTC().Format(time.RFC3339),
	}

	totals := map[string]int64{}
	for _, entry := range results {
		if entry.Err != "" {
			overview.FailedSources = append(overview.FailedSources, entry.Protocol)
			continue
		}
		for _, pos := range entry.Positions {
			if pos.Kind == "borrow" {
				continue
			}
			totals[pos.Asset] += pos.AmountStroops
			overview.TotalStroops += pos.AmountStroops
		}
	}

	overview.Allocations = allocate(totals, overview.TotalStroops)
	overview.HHI = herfindahl(overview.Allocations)
	return overview, nil
}

func allocate(totals map[string]int64, total int64) []model.Allocation {
	if total == 0 {
		return nil
	}
	out := make([]model.Allocation, 0, len(totals))
	for asset, stroops := range totals {
		out = append(out, model.Allocation{
			Asset:    asset,
			Stroops:  stroops,
			SharePct: float64(stroops) / float64(total) * 100,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Stroops != out[j].Stroops {
			return out[i].Stroops > out[j].Stroops
		}
		return out[i].Asset < out[j].Asset
	})
	return out
}

// herfindahl sums the squared allocation shares: 1.0 is a single-asset
// portfolio, 1/n is an even split over n assets.
func herfindahl(allocations []model.Allocation) float64 {
	var hhi float64
	for _, a := range allocations {
		share := a.SharePct / 100
		hhi += share * share
	}
	return hhi
}
