package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ============================================================================
// COLLECTOR WRITES
// ============================================================================

// InsertLiquidation appends a forced-order event.
func (r *Repository) InsertLiquidation(ctx context.Context, l *Liquidation) error {
	query := `
		INSERT INTO liquidations (symbol, side, price, qty, trade_time, collected_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Conn.ExecContext(ctx, query, l.Symbol, l.Side, l.Price, l.Qty, l.TradeTime, l.CollectedAt)
	return err
}

func (r *Repository) InsertOISnapshot(ctx context.Context, s *OISnapshot) error {
	query := `INSERT INTO oi_snapshots (symbol, open_interest, collected_at) VALUES (?, ?, ?)`
	_, err := r.db.Conn.ExecContext(ctx, query, s.Symbol, s.OpenInterest, s.CollectedAt)
	return err
}

func (r *Repository) InsertFundingRate(ctx context.Context, f *FundingRate) error {
	query := `
		INSERT INTO funding_rates (symbol, funding_rate, next_funding_time, collected_at)
		VALUES (?, ?, ?, ?)
	`
	_, err := r.db.Conn.ExecContext(ctx, query, f.Symbol, f.FundingRate, f.NextFundingTime, f.CollectedAt)
	return err
}

func (r *Repository) InsertLongShortRatio(ctx context.Context, l *LongShortRatio) error {
	query := `
		INSERT INTO long_short_ratios (symbol, long_account, short_account, long_short_ratio, period, collected_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Conn.ExecContext(ctx, query,
		l.Symbol, l.LongAccount, l.ShortAccount, l.LongShortRatio, l.Period, l.CollectedAt)
	return err
}

// NextWallScanID returns the scan id for a new orderbook sweep.
func (r *Repository) NextWallScanID(ctx context.Context, symbol string) (int64, error) {
	var max sql.NullInt64
	err := r.db.Conn.GetContext(ctx, &max,
		"SELECT MAX(scan_id) FROM orderbook_walls WHERE symbol = ?", symbol)
	if err != nil {
		return 0, err
	}
	return max.Int64 + 1, nil
}

// InsertOrderbookWalls stores one sweep's walls under a shared scan id.
func (r *Repository) InsertOrderbookWalls(ctx context.Context, walls []OrderbookWall) error {
	query := `
		INSERT INTO orderbook_walls (symbol, side, price, quantity, scan_id, collected_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	for _, w := range walls {
		if _, err := r.db.Conn.ExecContext(ctx, query,
			w.Symbol, w.Side, w.Price, w.Quantity, w.ScanID, w.CollectedAt); err != nil {
			return fmt.Errorf("insert wall: %w", err)
		}
	}
	return nil
}

// UpsertKline replaces the candle at (symbol, interval, open_time) so a
// still-forming candle gets overwritten when re-collected.
func (r *Repository) UpsertKline(ctx context.Context, k *Kline) error {
	query := `
		INSERT OR REPLACE INTO klines (symbol, interval, open_time, open, high, low, close, volume, close_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Conn.ExecContext(ctx, query,
		k.Symbol, k.Interval, k.OpenTime, k.Open, k.High, k.Low, k.Close, k.Volume, k.CloseTime)
	return err
}

// InsertKlineIgnore inserts a candle unless one already exists at the same
// (symbol, interval, open_time). Used by the backtest drip feeder.
func (r *Repository) InsertKlineIgnore(ctx context.Context, k *Kline) error {
	query := `
		INSERT OR IGNORE INTO klines (symbol, interval, open_time, open, high, low, close, volume, close_time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Conn.ExecContext(ctx, query,
		k.Symbol, k.Interval, k.OpenTime, k.Open, k.High, k.Low, k.Close, k.Volume, k.CloseTime)
	return err
}

func (r *Repository) InsertFearGreed(ctx context.Context, f *FearGreed) error {
	query := `INSERT INTO fear_greed (value, classification, fg_timestamp, collected_at) VALUES (?, ?, ?, ?)`
	_, err := r.db.Conn.ExecContext(ctx, query, f.Value, f.Classification, f.FGTimestamp, f.CollectedAt)
	return err
}

func (r *Repository) InsertWhaleTransaction(ctx context.Context, w *WhaleTransaction) error {
	query := `
		INSERT INTO whale_transactions (tx_hash, blockchain, symbol, amount, amount_usd, from_type, to_type, tx_timestamp, collected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Conn.ExecContext(ctx, query,
		w.TxHash, w.Blockchain, w.Symbol, w.Amount, w.AmountUSD, w.FromType, w.ToType, w.TxTimestamp, w.CollectedAt)
	return err
}

func (r *Repository) InsertExchangeNetflow(ctx context.Context, n *ExchangeNetflow) error {
	query := `INSERT INTO exchange_netflow (symbol, netflow, collected_at) VALUES (?, ?, ?)`
	_, err := r.db.Conn.ExecContext(ctx, query, n.Symbol, n.Netflow, n.CollectedAt)
	return err
}

func (r *Repository) UpsertOnchainMetric(ctx context.Context, m *OnchainMetric) error {
	query := `
		INSERT INTO onchain_metrics (metric, value, timestamp, collected_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(metric, timestamp) DO UPDATE SET value = excluded.value
	`
	_, err := r.db.Conn.ExecContext(ctx, query, m.Metric, m.Value, m.Timestamp, m.CollectedAt)
	return err
}

func (r *Repository) UpsertTakerRatio(ctx context.Context, t *TakerRatio) error {
	query := `
		INSERT OR IGNORE INTO taker_ratio (symbol, buy_vol, sell_vol, buy_sell_ratio, timestamp, collected_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Conn.ExecContext(ctx, query,
		t.Symbol, t.BuyVol, t.SellVol, t.BuySellRatio, t.Timestamp, t.CollectedAt)
	return err
}

// ============================================================================
// ENGINE READS
// ============================================================================

// RecentKlines returns the latest candles newest-first.
func (r *Repository) RecentKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	var out []Kline
	query := `
		SELECT * FROM klines
		WHERE symbol = ? AND interval = ?
		ORDER BY open_time DESC LIMIT ?
	`
	if err := r.db.Conn.SelectContext(ctx, &out, query, symbol, interval, limit); err != nil {
		return nil, err
	}
	return out, nil
}

// LatestClose returns the most recent close for the interval, or an
// ErrNoRows-wrapped error when no candle exists.
func (r *Repository) LatestClose(ctx context.Context, symbol, interval string) (float64, error) {
	var close float64
	query := `SELECT close FROM klines WHERE symbol = ? AND interval = ? ORDER BY open_time DESC LIMIT 1`
	err := r.db.Conn.GetContext(ctx, &close, query, symbol, interval)
	return close, err
}

// LiquidationTotals returns USD notional liquidated per side since the
// given epoch-ms cutoff. BUY rows are liquidated shorts, SELL rows
// liquidated longs.
func (r *Repository) LiquidationTotals(ctx context.Context, symbol string, sinceMs int64) (buyUSD, sellUSD float64, err error) {
	query := `
		SELECT side, COALESCE(SUM(price * qty), 0) AS total
		FROM liquidations
		WHERE symbol = ? AND trade_time > ?
		GROUP BY side
	`
	rows, err := r.db.Conn.QueryxContext(ctx, query, symbol, sinceMs)
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		var side string
		var total float64
		if err := rows.Scan(&side, &total); err != nil {
			return 0, 0, err
		}
		switch side {
		case "BUY":
			buyUSD = total
		case "SELL":
			sellUSD = total
		}
	}
	return buyUSD, sellUSD, rows.Err()
}

// CountLiquidations counts events since the given epoch-ms cutoff.
func (r *Repository) CountLiquidations(ctx context.Context, symbol string, sinceMs int64) (int64, error) {
	var n int64
	query := `SELECT COUNT(*) FROM liquidations WHERE symbol = ? AND trade_time > ?`
	err := r.db.Conn.GetContext(ctx, &n, query, symbol, sinceMs)
	return n, err
}

func (r *Repository) LatestOI(ctx context.Context, symbol string) (*OISnapshot, error) {
	var s OISnapshot
	query := `SELECT * FROM oi_snapshots WHERE symbol = ? ORDER BY id DESC LIMIT 1`
	if err := r.db.Conn.GetContext(ctx, &s, query, symbol); err != nil {
		return nil, err
	}
	return &s, nil
}

// RecentOI returns the latest snapshots newest-first.
func (r *Repository) RecentOI(ctx context.Context, symbol string, limit int) ([]OISnapshot, error) {
	var out []OISnapshot
	query := `SELECT * FROM oi_snapshots WHERE symbol = ? ORDER BY id DESC LIMIT ?`
	if err := r.db.Conn.SelectContext(ctx, &out, query, symbol, limit); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository) LatestFunding(ctx context.Context, symbol string) (*FundingRate, error) {
	var f FundingRate
	query := `SELECT * FROM funding_rates WHERE symbol = ? ORDER BY id DESC LIMIT 1`
	if err := r.db.Conn.GetContext(ctx, &f, query, symbol); err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *Repository) LatestLongShort(ctx context.Context, symbol string) (*LongShortRatio, error) {
	var l LongShortRatio
	query := `SELECT * FROM long_short_ratios WHERE symbol = ? ORDER BY id DESC LIMIT 1`
	if err := r.db.Conn.GetContext(ctx, &l, query, symbol); err != nil {
		return nil, err
	}
	return &l, nil
}

// LatestWallScans returns the walls of the most recent n sweeps, grouped
// by scan id, newest scan first. Fewer groups are returned when less
// history exists.
func (r *Repository) LatestWallScans(ctx context.Context, symbol string, n int) ([][]OrderbookWall, error) {
	var scanIDs []int64
	query := `SELECT DISTINCT scan_id FROM orderbook_walls WHERE symbol = ? ORDER BY scan_id DESC LIMIT ?`
	if err := r.db.Conn.SelectContext(ctx, &scanIDs, query, symbol, n); err != nil {
		return nil, err
	}

	out := make([][]OrderbookWall, 0, len(scanIDs))
	for _, id := range scanIDs {
		var walls []OrderbookWall
		q := `SELECT * FROM orderbook_walls WHERE symbol = ? AND scan_id = ? ORDER BY id`
		if err := r.db.Conn.SelectContext(ctx, &walls, q, symbol, id); err != nil {
			return nil, err
		}
		out = append(out, walls)
	}
	return out, nil
}

// DailyVolumes returns daily candle volumes newest-first.
func (r *Repository) DailyVolumes(ctx context.Context, symbol string, limit int) ([]float64, error) {
	var out []float64
	query := `SELECT volume FROM klines WHERE symbol = ? AND interval = '1d' ORDER BY open_time DESC LIMIT ?`
	if err := r.db.Conn.SelectContext(ctx, &out, query, symbol, limit); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository) LatestFearGreed(ctx context.Context) (*FearGreed, error) {
	var f FearGreed
	query := `SELECT * FROM fear_greed ORDER BY id DESC LIMIT 1`
	if err := r.db.Conn.GetContext(ctx, &f, query); err != nil {
		return nil, err
	}
	return &f, nil
}

// WhaleTransactionsSince returns transactions newer than the cutoff
// (epoch ms).
func (r *Repository) WhaleTransactionsSince(ctx context.Context, symbol string, sinceMs int64) ([]WhaleTransaction, error) {
	var out []WhaleTransaction
	query := `SELECT * FROM whale_transactions WHERE symbol = ? AND tx_timestamp > ? ORDER BY tx_timestamp DESC`
	if err := r.db.Conn.SelectContext(ctx, &out, query, symbol, sinceMs); err != nil {
		return nil, err
	}
	return out, nil
}

// RecentNetflows returns the latest netflow rows newest-first.
func (r *Repository) RecentNetflows(ctx context.Context, symbol string, limit int) ([]ExchangeNetflow, error) {
	var out []ExchangeNetflow
	query := `SELECT * FROM exchange_netflow WHERE symbol = ? ORDER BY id DESC LIMIT ?`
	if err := r.db.Conn.SelectContext(ctx, &out, query, symbol, limit); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository) LatestOnchainMetric(ctx context.Context, metric string) (*OnchainMetric, error) {
	var m OnchainMetric
	query := `SELECT * FROM onchain_metrics WHERE metric = ? ORDER BY timestamp DESC LIMIT 1`
	if err := r.db.Conn.GetContext(ctx, &m, query, metric); err != nil {
		return nil, err
	}
	return &m, nil
}

// RecentTakerRatios returns the latest buy/sell ratios newest-first.
func (r *Repository) RecentTakerRatios(ctx context.Context, symbol string, limit int) ([]float64, error) {
	var out []float64
	query := `SELECT buy_sell_ratio FROM taker_ratio WHERE symbol = ? ORDER BY timestamp DESC LIMIT ?`
	if err := r.db.Conn.SelectContext(ctx, &out, query, symbol, limit); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository) LatestTakerRatio(ctx context.Context, symbol string) (*TakerRatio, error) {
	var t TakerRatio
	query := `SELECT * FROM taker_ratio WHERE symbol = ? ORDER BY timestamp DESC LIMIT 1`
	if err := r.db.Conn.GetContext(ctx, &t, query, symbol); err != nil {
		return nil, err
	}
	return &t, nil
}

// IsNoRows reports whether err means "no data yet" rather than a real
// failure. Engines treat this as a skipped tick.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
