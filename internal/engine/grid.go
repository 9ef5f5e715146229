package engine

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"cascade-trader/internal/clock"
	"cascade-trader/internal/database"
	"cascade-trader/internal/logging"
)

const (
	spoofPriceTolerance = 0.001 // walls within 0.1% across scans count as persistent
	topWallsPerSide     = 10
	gridCountMin        = 10
	gridCountMax        = 15
	gridCountFallback   = 12
	atrFallbackWidth    = 2.0 // price +/- 2*ATR when walls are unusable
)

// Grid sources.
const (
	GridSourceWalls       = "walls"
	GridSourceATRFallback = "atr_fallback"
)

// GridEngine derives a market-making price band from persistent
// order-book walls, filtering walls that vanished between sweeps.
type GridEngine struct {
	repo  *database.Repository
	clock clock.Clock
	log   zerolog.Logger
}

func NewGridEngine(repo *database.Repository, clk clock.Clock) *GridEngine {
	return &GridEngine{repo: repo, clock: clk, log: logging.Component("grid")}
}

// Run computes and stores a grid config for one symbol. Without any wall
// history it falls back to an ATR band; without ATR either, the tick is
// skipped.
func (e *GridEngine) Run(ctx context.Context, symbol string) (*database.GridConfig, error) {
	scans, err := e.repo.LatestWallScans(ctx, symbol, 2)
	if err != nil {
		return nil, fmt.Errorf("load wall scans: %w", err)
	}

	walls, spoofFiltered := confirmWalls(scans)

	lower, upper, ok := wallBounds(walls)
	if !ok {
		return e.atrFallback(ctx, symbol, spoofFiltered)
	}

	atr := e.latestATR(ctx, symbol)
	count := gridCount(upper-lower, atr)
	spacing := (upper - lower) / float64(count)
	mid := (upper + lower) / 2

	cfg := &database.GridConfig{
		Symbol:           symbol,
		LowerBound:       lower,
		UpperBound:       upper,
		GridCount:        count,
		Spacing:          spacing,
		SpacingPct:       spacing / mid * 100,
		Source:           GridSourceWalls,
		SpoofingFiltered: spoofFiltered,
		CalculatedAt:     e.clock.Now().Format(timeLayout),
	}
	if _, err := e.repo.InsertGridConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("store grid: %w", err)
	}

	e.log.Debug().Str("symbol", symbol).Float64("lower", lower).Float64("upper", upper).
		Int("count", count).Int("spoof_filtered", spoofFiltered).Msg("grid updated")
	return cfg, nil
}

// confirmWalls keeps walls from the newest sweep that also appeared (same
// side, price within tolerance) in the previous sweep. With a single
// sweep all walls pass and the filtered count is reported as -1.
func confirmWalls(scans [][]database.OrderbookWall) ([]database.OrderbookWall, int) {
	if len(scans) == 0 {
		return nil, -1
	}
	latest := scans[0]
	if len(scans) < 2 {
		return latest, -1
	}
	prev := scans[1]

	var confirmed []database.OrderbookWall
	filtered := 0
	for _, w := range latest {
		found := false
		for _, p := range prev {
			if p.Side != w.Side || w.Price <= 0 {
				continue
			}
			if math.Abs(p.Price-w.Price)/w.Price < spoofPriceTolerance {
				found = true
				break
			}
		}
		if found {
			confirmed = append(confirmed, w)
		} else {
			filtered++
		}
	}
	return confirmed, filtered
}

// wallBounds returns the qty-weighted mean price of the top bid and ask
// walls. ok is false when either side is empty or the band is inverted.
func wallBounds(walls []database.OrderbookWall) (lower, upper float64, ok bool) {
	var bids, asks []database.OrderbookWall
	for _, w := range walls {
		switch w.Side {
		case "BID":
			bids = append(bids, w)
		case "ASK":
			asks = append(asks, w)
		}
	}
	if len(bids) == 0 || len(asks) == 0 {
		return 0, 0, false
	}

	lower = weightedPrice(topByQty(bids, topWallsPerSide))
	upper = weightedPrice(topByQty(asks, topWallsPerSide))
	if lower >= upper {
		return 0, 0, false
	}
	return lower, upper, true
}

func topByQty(walls []database.OrderbookWall, n int) []database.OrderbookWall {
	sorted := make([]database.OrderbookWall, len(walls))
	copy(sorted, walls)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Quantity > sorted[j].Quantity })
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

func weightedPrice(walls []database.OrderbookWall) float64 {
	var priceQty, qty float64
	for _, w := range walls {
		priceQty += w.Price * w.Quantity
		qty += w.Quantity
	}
	if qty == 0 {
		return 0
	}
	return priceQty / qty
}

func gridCount(bandWidth, atr float64) int {
	if atr <= 0 {
		return gridCountFallback
	}
	count := int(math.Round(bandWidth / atr))
	if count < gridCountMin {
		return gridCountMin
	}
	if count > gridCountMax {
		return gridCountMax
	}
	return count
}

func (e *GridEngine) latestATR(ctx context.Context, symbol string) float64 {
	atr, err := e.repo.LatestATR(ctx, symbol)
	if err != nil {
		return 0
	}
	return atr.ATR
}

// atrFallback builds a fixed 12-grid band around the current price when
// order-book walls are missing or contradictory.
func (e *GridEngine) atrFallback(ctx context.Context, symbol string, spoofFiltered int) (*database.GridConfig, error) {
	atr, err := e.repo.LatestATR(ctx, symbol)
	if err != nil {
		if database.IsNoRows(err) {
			e.log.Debug().Str("symbol", symbol).Msg("no walls and no atr, skipping grid")
			return nil, nil
		}
		return nil, fmt.Errorf("latest atr: %w", err)
	}

	price, err := e.currentPrice(ctx, symbol)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("current price: %w", err)
	}

	lower := price - atrFallbackWidth*atr.ATR
	upper := price + atrFallbackWidth*atr.ATR
	spacing := (upper - lower) / float64(gridCountFallback)

	cfg := &database.GridConfig{
		Symbol:           symbol,
		LowerBound:       lower,
		UpperBound:       upper,
		GridCount:        gridCountFallback,
		Spacing:          spacing,
		SpacingPct:       spacing / price * 100,
		Source:           GridSourceATRFallback,
		SpoofingFiltered: spoofFiltered,
		CalculatedAt:     e.clock.Now().Format(timeLayout),
	}
	if _, err := e.repo.InsertGridConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("store grid: %w", err)
	}
	return cfg, nil
}

func (e *GridEngine) currentPrice(ctx context.Context, symbol string) (float64, error) {
	price, err := e.repo.LatestClose(ctx, symbol, "5m")
	if err == nil {
		return price, nil
	}
	if !database.IsNoRows(err) {
		return 0, err
	}
	return e.repo.LatestClose(ctx, symbol, "1d")
}
