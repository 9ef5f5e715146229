package database

import (
	"context"
	"database/sql"
	"errors"
)

// ============================================================================
// L1 FUNDING LEDGER
// ============================================================================

func (r *Repository) InsertPaperL1(ctx context.Context, p *PaperL1Funding) error {
	query := `
		INSERT INTO paper_l1_funding (symbol, funding_rate, funding_pnl_pct, effective_pnl_pct, l1_effective, l2_conflict, collected_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Conn.ExecContext(ctx, query,
		p.Symbol, p.FundingRate, p.FundingPnlPct, p.EffectivePnlPct,
		p.L1Effective, p.L2Conflict, p.CollectedAt, p.RecordedAt)
	return err
}

// LastPaperL1 returns the most recent funding ledger row, or nil when the
// ledger is empty.
func (r *Repository) LastPaperL1(ctx context.Context, symbol string) (*PaperL1Funding, error) {
	var p PaperL1Funding
	query := `SELECT * FROM paper_l1_funding WHERE symbol = ? ORDER BY id DESC LIMIT 1`
	err := r.db.Conn.GetContext(ctx, &p, query, symbol)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// L1Stats aggregates the funding ledger for one symbol.
type L1Stats struct {
	Collections int64   `db:"collections"`
	TotalPnlPct float64 `db:"total_pnl_pct"`
	Conflicts   int64   `db:"conflicts"`
}

func (r *Repository) PaperL1Stats(ctx context.Context, symbol string) (*L1Stats, error) {
	var s L1Stats
	query := `
		SELECT COUNT(*) AS collections,
		       COALESCE(SUM(effective_pnl_pct), 0) AS total_pnl_pct,
		       COALESCE(SUM(l2_conflict), 0) AS conflicts
		FROM paper_l1_funding WHERE symbol = ?
	`
	if err := r.db.Conn.GetContext(ctx, &s, query, symbol); err != nil {
		return nil, err
	}
	return &s, nil
}

// ============================================================================
// L2 PAPER TRADES
// ============================================================================

func (r *Repository) InsertPaperTrade(ctx context.Context, t *PaperTrade) (int64, error) {
	query := `
		INSERT INTO paper_trades (symbol, direction, entry_price, entry_pct, l2_step, stop_loss, status, last_signal_id, opened_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := r.db.Conn.ExecContext(ctx, query,
		t.Symbol, t.Direction, t.EntryPrice, t.EntryPct, t.L2Step, t.StopLoss,
		t.Status, t.LastSignalID, t.OpenedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// OpenPaperTrade returns the open trade for the symbol, or nil when flat.
func (r *Repository) OpenPaperTrade(ctx context.Context, symbol string) (*PaperTrade, error) {
	var t PaperTrade
	query := `SELECT * FROM paper_trades WHERE symbol = ? AND status = 'OPEN' ORDER BY id DESC LIMIT 1`
	err := r.db.Conn.GetContext(ctx, &t, query, symbol)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// LastClosedPaperTrade returns the most recently closed trade, or nil.
func (r *Repository) LastClosedPaperTrade(ctx context.Context, symbol string) (*PaperTrade, error) {
	var t PaperTrade
	query := `SELECT * FROM paper_trades WHERE symbol = ? AND status = 'CLOSED' ORDER BY id DESC LIMIT 1`
	err := r.db.Conn.GetContext(ctx, &t, query, symbol)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdatePaperTradeStep applies an averaging-up step to the open trade.
func (r *Repository) UpdatePaperTradeStep(ctx context.Context, id int64, entryPrice, entryPct float64, step int, stopLoss sql.NullFloat64, lastSignalID int64) error {
	query := `
		UPDATE paper_trades
		SET entry_price = ?, entry_pct = ?, l2_step = ?, stop_loss = ?, last_signal_id = ?
		WHERE id = ?
	`
	_, err := r.db.Conn.ExecContext(ctx, query, entryPrice, entryPct, step, stopLoss, lastSignalID, id)
	return err
}

// ClosePaperTrade marks the trade CLOSED with its final PnL.
func (r *Repository) ClosePaperTrade(ctx context.Context, id int64, exitPrice, pnlPct, pnlWeighted float64, reason string, lastSignalID int64, closedAt string) error {
	query := `
		UPDATE paper_trades
		SET status = 'CLOSED', exit_price = ?, pnl_pct = ?, pnl_weighted = ?, exit_reason = ?, last_signal_id = ?, closed_at = ?
		WHERE id = ?
	`
	_, err := r.db.Conn.ExecContext(ctx, query, exitPrice, pnlPct, pnlWeighted, reason, lastSignalID, closedAt, id)
	return err
}

// L2Stats aggregates closed trades for one symbol.
type L2Stats struct {
	Trades      int64   `db:"trades"`
	Wins        int64   `db:"wins"`
	Losses      int64   `db:"losses"`
	TotalPnl    float64 `db:"total_pnl"`
	BestTrade   float64 `db:"best_trade"`
	WorstTrade  float64 `db:"worst_trade"`
}

func (r *Repository) PaperL2Stats(ctx context.Context, symbol string) (*L2Stats, error) {
	var s L2Stats
	query := `
		SELECT COUNT(*) AS trades,
		       COALESCE(SUM(CASE WHEN pnl_weighted > 0 THEN 1 ELSE 0 END), 0) AS wins,
		       COALESCE(SUM(CASE WHEN pnl_weighted <= 0 THEN 1 ELSE 0 END), 0) AS losses,
		       COALESCE(SUM(pnl_weighted), 0) AS total_pnl,
		       COALESCE(MAX(pnl_weighted), 0) AS best_trade,
		       COALESCE(MIN(pnl_weighted), 0) AS worst_trade
		FROM paper_trades WHERE symbol = ? AND status = 'CLOSED'
	`
	if err := r.db.Conn.GetContext(ctx, &s, query, symbol); err != nil {
		return nil, err
	}
	return &s, nil
}

// SumL2Realized returns the weighted PnL of all closed trades.
func (r *Repository) SumL2Realized(ctx context.Context, symbol string) (float64, error) {
	var sum float64
	query := `SELECT COALESCE(SUM(pnl_weighted), 0) FROM paper_trades WHERE symbol = ? AND status = 'CLOSED'`
	err := r.db.Conn.GetContext(ctx, &sum, query, symbol)
	return sum, err
}

// ============================================================================
// L4 GRID LEDGER
// ============================================================================

func (r *Repository) InsertPaperL4(ctx context.Context, p *PaperL4Grid) error {
	query := `
		INSERT INTO paper_l4_grid (symbol, grid_config_id, grid_level, side, price, pnl_pct, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Conn.ExecContext(ctx, query,
		p.Symbol, p.GridConfigID, p.GridLevel, p.Side, p.Price, p.PnlPct, p.RecordedAt)
	return err
}

// LastPaperL4 returns the most recent grid ledger row, or nil.
func (r *Repository) LastPaperL4(ctx context.Context, symbol string) (*PaperL4Grid, error) {
	var p PaperL4Grid
	query := `SELECT * FROM paper_l4_grid WHERE symbol = ? ORDER BY id DESC LIMIT 1`
	err := r.db.Conn.GetContext(ctx, &p, query, symbol)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// L4Stats aggregates grid fills for one symbol.
type L4Stats struct {
	Fills    int64   `db:"fills"`
	Sells    int64   `db:"sells"`
	TotalPnl float64 `db:"total_pnl"`
}

func (r *Repository) PaperL4Stats(ctx context.Context, symbol string) (*L4Stats, error) {
	var s L4Stats
	query := `
		SELECT COUNT(*) AS fills,
		       COALESCE(SUM(CASE WHEN side = 'SELL' THEN 1 ELSE 0 END), 0) AS sells,
		       COALESCE(SUM(pnl_pct), 0) AS total_pnl
		FROM paper_l4_grid WHERE symbol = ? AND side != 'INIT'
	`
	if err := r.db.Conn.GetContext(ctx, &s, query, symbol); err != nil {
		return nil, err
	}
	return &s, nil
}

// ============================================================================
// DAILY SUMMARY
// ============================================================================

// ApplyTradeToSummary folds a closed trade into the daily summary row.
func (r *Repository) ApplyTradeToSummary(ctx context.Context, symbol, date string, pnlWeighted float64) error {
	win := 0
	loss := 0
	if pnlWeighted > 0 {
		win = 1
	} else {
		loss = 1
	}
	query := `
		INSERT INTO paper_summary (symbol, summary_date, trades_total, wins, losses, total_pnl_weighted, best_trade_pnl, worst_trade_pnl)
		VALUES (?, ?, 1, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, summary_date) DO UPDATE SET
			trades_total = trades_total + 1,
			wins = wins + excluded.wins,
			losses = losses + excluded.losses,
			total_pnl_weighted = total_pnl_weighted + excluded.total_pnl_weighted,
			best_trade_pnl = MAX(COALESCE(best_trade_pnl, excluded.best_trade_pnl), excluded.best_trade_pnl),
			worst_trade_pnl = MIN(COALESCE(worst_trade_pnl, excluded.worst_trade_pnl), excluded.worst_trade_pnl)
	`
	_, err := r.db.Conn.ExecContext(ctx, query, symbol, date, win, loss, pnlWeighted, pnlWeighted, pnlWeighted)
	return err
}

func (r *Repository) PaperSummaries(ctx context.Context, symbol string) ([]PaperSummary, error) {
	var out []PaperSummary
	query := `SELECT * FROM paper_summary WHERE symbol = ? ORDER BY summary_date`
	if err := r.db.Conn.SelectContext(ctx, &out, query, symbol); err != nil {
		return nil, err
	}
	return out, nil
}
