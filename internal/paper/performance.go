package paper

import (
	"context"
	"fmt"
)

// LayerPerformance is the per-symbol rollup across all three layers.
type LayerPerformance struct {
	Symbol string `json:"symbol"`

	L1Collections int64   `json:"l1_collections"`
	L1PnlPct      float64 `json:"l1_pnl_pct"`
	L1Conflicts   int64   `json:"l1_conflicts"`

	L2Trades   int64   `json:"l2_trades"`
	L2Wins     int64   `json:"l2_wins"`
	L2Losses   int64   `json:"l2_losses"`
	L2PnlPct   float64 `json:"l2_pnl_pct"`
	L2Best     float64 `json:"l2_best"`
	L2Worst    float64 `json:"l2_worst"`
	L2OpenSide string  `json:"l2_open_side,omitempty"`

	L4Fills  int64   `json:"l4_fills"`
	L4Sells  int64   `json:"l4_sells"`
	L4PnlPct float64 `json:"l4_pnl_pct"`

	TotalPnlPct float64 `json:"total_pnl_pct"`
}

// Performance aggregates the paper ledgers for one symbol.
func (t *Trader) Performance(ctx context.Context, symbol string) (*LayerPerformance, error) {
	l1, err := t.repo.PaperL1Stats(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("l1 stats: %w", err)
	}
	l2, err := t.repo.PaperL2Stats(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("l2 stats: %w", err)
	}
	l4, err := t.repo.PaperL4Stats(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("l4 stats: %w", err)
	}

	p := &LayerPerformance{
		Symbol:        symbol,
		L1Collections: l1.Collections,
		L1PnlPct:      round2(l1.TotalPnlPct),
		L1Conflicts:   l1.Conflicts,
		L2Trades:      l2.Trades,
		L2Wins:        l2.Wins,
		L2Losses:      l2.Losses,
		L2PnlPct:      round2(l2.TotalPnl),
		L2Best:        l2.BestTrade,
		L2Worst:       l2.WorstTrade,
		L4Fills:       l4.Fills,
		L4Sells:       l4.Sells,
		L4PnlPct:      round2(l4.TotalPnl),
	}
	p.TotalPnlPct = round2(p.L1PnlPct + p.L2PnlPct + p.L4PnlPct)

	if open, err := t.repo.OpenPaperTrade(ctx, symbol); err == nil && open != nil {
		p.L2OpenSide = open.Direction
	}
	return p, nil
}


// Equity returns realized PnL in percent across all layers; the backtest
// harness snapshots it daily.
func (t *Trader) Equity(ctx context.Context, symbol string) (float64, error) {
	l1, err := t.repo.PaperL1Stats(ctx, symbol)
	if err != nil {
		return 0, err
	}
	l2, err := t.repo.SumL2Realized(ctx, symbol)
	if err != nil {
		return 0, err
	}
	l4, err := t.repo.PaperL4Stats(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return round2(l1.TotalPnlPct + l2 + l4.TotalPnl), nil
}
