package backtest

import (
	"context"
	"fmt"
	"math"
	"time"

	"cascade-trader/internal/database"
)

const (
	// Relative open-interest change that implies forced liquidations.
	syntheticOIDropPct = 0.01
	// Share of the vanished notional assumed to be forced orders.
	syntheticLiqFraction = 0.5
)

// SynthesizeLiquidations derives liquidation events from open-interest
// history. The live liquidation feed cannot be replayed (the exchange
// keeps no forced-order history), so sudden OI contractions stand in:
// when open interest drops more than 1% between snapshots, part of the
// vanished notional is booked as liquidations, sided by the concurrent
// price move.
func SynthesizeLiquidations(ctx context.Context, repo *database.Repository, symbol string) (int, error) {
	snapshots, err := allOISnapshots(ctx, repo, symbol)
	if err != nil {
		return 0, fmt.Errorf("load oi snapshots: %w", err)
	}
	if len(snapshots) < 2 {
		return 0, nil
	}

	klines, err := repo.RecentKlines(ctx, symbol, "5m", 100_000)
	if err != nil {
		return 0, fmt.Errorf("load klines: %w", err)
	}

	created := 0
	for i := 1; i < len(snapshots); i++ {
		prev, cur := snapshots[i-1], snapshots[i]
		if prev.OpenInterest <= 0 {
			continue
		}
		drop := (prev.OpenInterest - cur.OpenInterest) / prev.OpenInterest
		if drop < syntheticOIDropPct {
			continue
		}

		ts, err := time.Parse("2006-01-02T15:04:05Z07:00", cur.CollectedAt)
		if err != nil {
			continue
		}
		tsMs := ts.UnixMilli()

		price := closeAtOrBefore(klines, tsMs)
		prevPrice := closeAtOrBefore(klines, tsMs-3600_000)
		if price <= 0 || prevPrice <= 0 {
			continue
		}

		// Falling price liquidates longs (SELL side), rising price
		// liquidates shorts (BUY side).
		side := "BUY"
		if price < prevPrice {
			side = "SELL"
		}

		qty := (prev.OpenInterest - cur.OpenInterest) * syntheticLiqFraction
		if qty <= 0 {
			continue
		}

		err = repo.InsertLiquidation(ctx, &database.Liquidation{
			Symbol:      symbol,
			Side:        side,
			Price:       price,
			Qty:         math.Round(qty*1000) / 1000,
			TradeTime:   tsMs,
			CollectedAt: cur.CollectedAt,
		})
		if err != nil {
			return created, fmt.Errorf("store synthetic liquidation: %w", err)
		}
		created++
	}
	return created, nil
}

func allOISnapshots(ctx context.Context, repo *database.Repository, symbol string) ([]database.OISnapshot, error) {
	// RecentOI is newest-first; reverse into chronological order.
	rows, err := repo.RecentOI(ctx, symbol, 100_000)
	if err != nil {
		return nil, err
	}
	out := make([]database.OISnapshot, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = r
	}
	return out, nil
}

// closeAtOrBefore scans newest-first klines for the last close at or
// before the cutoff.
func closeAtOrBefore(klines []database.Kline, cutoffMs int64) float64 {
	for _, k := range klines {
		if k.OpenTime <= cutoffMs {
			return k.Close
		}
	}
	return 0
}
