package database

import "context"

// Drain methods move whole tables into memory for the backtest drip
// feeder: select everything, delete everything. The feeder then
// re-inserts rows as virtual time passes them, so the engines only ever
// see data that would have existed at the simulated instant.

func (r *Repository) DrainLiquidations(ctx context.Context, symbol string) ([]Liquidation, error) {
	var out []Liquidation
	query := `SELECT * FROM liquidations WHERE symbol = ? ORDER BY trade_time ASC`
	if err := r.db.Conn.SelectContext(ctx, &out, query, symbol); err != nil {
		return nil, err
	}
	if _, err := r.db.Conn.ExecContext(ctx, `DELETE FROM liquidations WHERE symbol = ?`, symbol); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository) DrainOISnapshots(ctx context.Context, symbol string) ([]OISnapshot, error) {
	var out []OISnapshot
	query := `SELECT * FROM oi_snapshots WHERE symbol = ? ORDER BY id ASC`
	if err := r.db.Conn.SelectContext(ctx, &out, query, symbol); err != nil {
		return nil, err
	}
	if _, err := r.db.Conn.ExecContext(ctx, `DELETE FROM oi_snapshots WHERE symbol = ?`, symbol); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository) DrainFundingRates(ctx context.Context, symbol string) ([]FundingRate, error) {
	var out []FundingRate
	query := `SELECT * FROM funding_rates WHERE symbol = ? ORDER BY id ASC`
	if err := r.db.Conn.SelectContext(ctx, &out, query, symbol); err != nil {
		return nil, err
	}
	if _, err := r.db.Conn.ExecContext(ctx, `DELETE FROM funding_rates WHERE symbol = ?`, symbol); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository) DrainLongShortRatios(ctx context.Context, symbol string) ([]LongShortRatio, error) {
	var out []LongShortRatio
	query := `SELECT * FROM long_short_ratios WHERE symbol = ? ORDER BY id ASC`
	if err := r.db.Conn.SelectContext(ctx, &out, query, symbol); err != nil {
		return nil, err
	}
	if _, err := r.db.Conn.ExecContext(ctx, `DELETE FROM long_short_ratios WHERE symbol = ?`, symbol); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository) DrainTakerRatios(ctx context.Context, symbol string) ([]TakerRatio, error) {
	var out []TakerRatio
	query := `SELECT * FROM taker_ratio WHERE symbol = ? ORDER BY timestamp ASC`
	if err := r.db.Conn.SelectContext(ctx, &out, query, symbol); err != nil {
		return nil, err
	}
	if _, err := r.db.Conn.ExecContext(ctx, `DELETE FROM taker_ratio WHERE symbol = ?`, symbol); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository) DrainFearGreed(ctx context.Context) ([]FearGreed, error) {
	var out []FearGreed
	query := `SELECT * FROM fear_greed ORDER BY fg_timestamp ASC`
	if err := r.db.Conn.SelectContext(ctx, &out, query); err != nil {
		return nil, err
	}
	if _, err := r.db.Conn.ExecContext(ctx, `DELETE FROM fear_greed`); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository) DrainKlines(ctx context.Context, symbol, interval string) ([]Kline, error) {
	var out []Kline
	query := `SELECT * FROM klines WHERE symbol = ? AND interval = ? ORDER BY open_time ASC`
	if err := r.db.Conn.SelectContext(ctx, &out, query, symbol, interval); err != nil {
		return nil, err
	}
	if _, err := r.db.Conn.ExecContext(ctx, `DELETE FROM klines WHERE symbol = ? AND interval = ?`, symbol, interval); err != nil {
		return nil, err
	}
	return out, nil
}

// Begin/Commit wrap backtest step batches in one SQLite transaction to
// amortize fsync cost across steps.
func (r *Repository) Begin(ctx context.Context) error {
	_, err := r.db.Conn.ExecContext(ctx, "BEGIN")
	return err
}

func (r *Repository) Commit(ctx context.Context) error {
	_, err := r.db.Conn.ExecContext(ctx, "COMMIT")
	return err
}
