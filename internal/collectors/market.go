package collectors

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"cascade-trader/internal/clock"
	"cascade-trader/config"
	"cascade-trader/internal/database"
	"cascade-trader/internal/logging"
)

const (
	// A depth level is a wall when its quantity reaches this percentile
	// of all levels on its side.
	wallPercentile = 0.90
	// Taker volume buckets fetched per sweep.
	takerFetchLimit = 12
)

const timeLayout = "2006-01-02T15:04:05Z07:00"

// MarketCollector persists Binance futures market data.
type MarketCollector struct {
	client *BinanceClient
	repo   *database.Repository
	clock  clock.Clock
	depth  int
	log    zerolog.Logger
}

func NewMarketCollector(client *BinanceClient, repo *database.Repository, clk clock.Clock, cfg config.CollectorConfig) *MarketCollector {
	depth := cfg.OrderbookDepth
	if depth <= 0 {
		depth = 1000
	}
	return &MarketCollector{
		client: client,
		repo:   repo,
		clock:  clk,
		depth:  depth,
		log:    logging.Component("market_collector"),
	}
}

func (m *MarketCollector) now() string {
	return m.clock.Now().Format(timeLayout)
}

func (m *MarketCollector) CollectOpenInterest(ctx context.Context, symbol string) error {
	oi, err := m.client.OpenInterest(ctx, symbol)
	if err != nil {
		return fmt.Errorf("fetch open interest: %w", err)
	}
	return m.repo.InsertOISnapshot(ctx, &database.OISnapshot{
		Symbol: symbol, OpenInterest: oi, CollectedAt: m.now(),
	})
}

func (m *MarketCollector) CollectFunding(ctx context.Context, symbol string) error {
	info, err := m.client.Funding(ctx, symbol)
	if err != nil {
		return fmt.Errorf("fetch funding: %w", err)
	}
	return m.repo.InsertFundingRate(ctx, &database.FundingRate{
		Symbol:          symbol,
		FundingRate:     info.Rate,
		NextFundingTime: sql.NullInt64{Int64: info.NextFundingTime, Valid: info.NextFundingTime > 0},
		CollectedAt:     m.now(),
	})
}

func (m *MarketCollector) CollectLongShort(ctx context.Context, symbol string) error {
	info, err := m.client.LongShortRatio(ctx, symbol, "1h")
	if err != nil {
		return fmt.Errorf("fetch long/short: %w", err)
	}
	return m.repo.InsertLongShortRatio(ctx, &database.LongShortRatio{
		Symbol:         symbol,
		LongAccount:    info.LongAccount,
		ShortAccount:   info.ShortAccount,
		LongShortRatio: info.LongShortRatio,
		Period:         sql.NullString{String: "1h", Valid: true},
		CollectedAt:    m.now(),
	})
}

// CollectKlines stores the latest candles for the interval. The newest
// (possibly still forming) candle is replaced on every sweep.
func (m *MarketCollector) CollectKlines(ctx context.Context, symbol, interval string, limit int) error {
	klines, err := m.client.Klines(ctx, symbol, interval, limit, 0, 0)
	if err != nil {
		return fmt.Errorf("fetch klines: %w", err)
	}
	for _, k := range klines {
		row := &database.Kline{
			Symbol: symbol, Interval: interval, OpenTime: k.OpenTime,
			Open: k.Open, High: k.High, Low: k.Low, Close: k.Close,
			Volume: k.Volume, CloseTime: k.CloseTime,
		}
		if err := m.repo.UpsertKline(ctx, row); err != nil {
			return fmt.Errorf("store kline: %w", err)
		}
	}
	return nil
}

// CollectOrderbookWalls sweeps the book and stores levels whose quantity
// reaches the 90th percentile of their side as walls, all under one scan
// id so the grid engine can compare consecutive sweeps.
func (m *MarketCollector) CollectOrderbookWalls(ctx context.Context, symbol string) error {
	bids, asks, err := m.client.Depth(ctx, symbol, m.depth)
	if err != nil {
		return fmt.Errorf("fetch depth: %w", err)
	}

	scanID, err := m.repo.NextWallScanID(ctx, symbol)
	if err != nil {
		return fmt.Errorf("next scan id: %w", err)
	}
	now := m.now()

	var walls []database.OrderbookWall
	for _, lvl := range detectWalls(bids) {
		walls = append(walls, database.OrderbookWall{
			Symbol: symbol, Side: "BID", Price: lvl.Price, Quantity: lvl.Quantity,
			ScanID: scanID, CollectedAt: now,
		})
	}
	for _, lvl := range detectWalls(asks) {
		walls = append(walls, database.OrderbookWall{
			Symbol: symbol, Side: "ASK", Price: lvl.Price, Quantity: lvl.Quantity,
			ScanID: scanID, CollectedAt: now,
		})
	}
	if len(walls) == 0 {
		return nil
	}

	if err := m.repo.InsertOrderbookWalls(ctx, walls); err != nil {
		return fmt.Errorf("store walls: %w", err)
	}
	m.log.Debug().Str("symbol", symbol).Int64("scan_id", scanID).
		Int("walls", len(walls)).Msg("orderbook swept")
	return nil
}

// detectWalls returns the levels at or above the quantity percentile.
func detectWalls(levels []DepthLevel) []DepthLevel {
	if len(levels) == 0 {
		return nil
	}

	qtys := make([]float64, len(levels))
	for i, lvl := range levels {
		qtys[i] = lvl.Quantity
	}
	sort.Float64s(qtys)

	idx := int(float64(len(qtys)) * wallPercentile)
	if idx >= len(qtys) {
		idx = len(qtys) - 1
	}
	cutoff := qtys[idx]

	var walls []DepthLevel
	for _, lvl := range levels {
		if lvl.Quantity >= cutoff && lvl.Quantity > 0 {
			walls = append(walls, lvl)
		}
	}
	return walls
}

func (m *MarketCollector) CollectTakerRatio(ctx context.Context, symbol string) error {
	buckets, err := m.client.TakerRatios(ctx, symbol, "1h", takerFetchLimit)
	if err != nil {
		return fmt.Errorf("fetch taker ratios: %w", err)
	}
	for _, b := range buckets {
		row := &database.TakerRatio{
			Symbol: symbol, BuyVol: b.BuyVol, SellVol: b.SellVol,
			BuySellRatio: b.BuySellRatio, Timestamp: b.Timestamp, CollectedAt: m.now(),
		}
		// Re-fetched buckets are deduplicated on (symbol, timestamp).
		if err := m.repo.UpsertTakerRatio(ctx, row); err != nil {
			return fmt.Errorf("store taker ratio: %w", err)
		}
	}
	return nil
}
