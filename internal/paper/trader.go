// Package paper simulates fills for the three strategy layers without
// touching an exchange. It is strictly a consumer: the L2 leg replays
// the signal log by id, so a restart resumes exactly where it left off.
package paper

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"cascade-trader/internal/clock"
	"cascade-trader/internal/database"
	"cascade-trader/internal/logging"
)

const timeLayout = "2006-01-02T15:04:05Z07:00"

// Trader is the paper execution layer for one database.
type Trader struct {
	repo  *database.Repository
	clock clock.Clock
	log   zerolog.Logger
}

func NewTrader(repo *database.Repository, clk clock.Clock) *Trader {
	return &Trader{repo: repo, clock: clk, log: logging.Component("paper")}
}

// Run executes one paper tick for a symbol: collect L1 funding, replay
// pending L2 signals, simulate L4 grid fills.
func (t *Trader) Run(ctx context.Context, symbol string) error {
	state, err := t.repo.LatestStrategyState(ctx, symbol)
	if err != nil {
		if database.IsNoRows(err) {
			return nil // strategy has not ticked yet
		}
		return fmt.Errorf("latest state: %w", err)
	}

	if err := t.collectL1(ctx, symbol, state); err != nil {
		return fmt.Errorf("l1 funding: %w", err)
	}
	if err := t.replayL2(ctx, symbol); err != nil {
		return fmt.Errorf("l2 replay: %w", err)
	}
	if err := t.simulateL4(ctx, symbol, state); err != nil {
		return fmt.Errorf("l4 grid: %w", err)
	}
	return nil
}

// ============================================================================
// L1: funding collection
// ============================================================================

// collectL1 books one funding payment per funding snapshot while L1 is
// active. A concurrent L2 SHORT collapses the payment: the short leg of
// the delta-neutral pair doubles as the directional short, so the
// funding it earns is already counted there.
func (t *Trader) collectL1(ctx context.Context, symbol string, state *database.StrategyState) error {
	if !state.L1Active {
		return nil
	}

	funding, err := t.repo.LatestFunding(ctx, symbol)
	if err != nil {
		if database.IsNoRows(err) {
			return nil
		}
		return err
	}

	// One ledger row per funding snapshot.
	last, err := t.repo.LastPaperL1(ctx, symbol)
	if err != nil {
		return err
	}
	if last != nil && last.CollectedAt == funding.CollectedAt {
		return nil
	}

	fundingPnl := funding.FundingRate * 100
	conflict := state.L2Active && state.L2Direction.String == database.DirectionShort

	row := &database.PaperL1Funding{
		Symbol:          symbol,
		FundingRate:     funding.FundingRate,
		FundingPnlPct:   fundingPnl,
		EffectivePnlPct: fundingPnl,
		L1Effective:     1,
		L2Conflict:      conflict,
		CollectedAt:     funding.CollectedAt,
		RecordedAt:      t.clock.Now().Format(timeLayout),
	}
	if conflict {
		row.EffectivePnlPct = 0
		row.L1Effective = 0
	}

	if err := t.repo.InsertPaperL1(ctx, row); err != nil {
		return err
	}
	t.log.Debug().Str("symbol", symbol).Float64("pnl_pct", row.EffectivePnlPct).
		Bool("l2_conflict", conflict).Msg("funding collected")
	return nil
}

// ============================================================================
// L2: signal replay
// ============================================================================

type l2Details struct {
	Price    float64 `json:"price"`
	AvgPrice float64 `json:"avg_price"`
	EntryPct float64 `json:"entry_pct"`
	StopLoss float64 `json:"stop_loss"`
	Reason   string  `json:"reason"`
}

// replayL2 consumes unprocessed L2 signals in id order. The high-water
// mark is the last_signal_id of the open trade, or of the most recently
// closed one when flat.
func (t *Trader) replayL2(ctx context.Context, symbol string) error {
	open, err := t.repo.OpenPaperTrade(ctx, symbol)
	if err != nil {
		return err
	}

	var afterID int64
	if open != nil {
		afterID = open.LastSignalID
	} else {
		closed, err := t.repo.LastClosedPaperTrade(ctx, symbol)
		if err != nil {
			return err
		}
		if closed != nil {
			afterID = closed.LastSignalID
		}
	}

	signals, err := t.repo.SignalsAfter(ctx, symbol, afterID,
		database.SignalL2Step1, database.SignalL2Step2, database.SignalL2Step3, database.SignalL2Exit)
	if err != nil {
		return err
	}

	for _, sig := range signals {
		var d l2Details
		if sig.Details.Valid {
			if err := json.Unmarshal([]byte(sig.Details.String), &d); err != nil {
				t.log.Warn().Err(err).Int64("signal_id", sig.ID).Msg("bad signal details, skipped")
				continue
			}
		}

		switch sig.SignalType {
		case database.SignalL2Step1:
			if open != nil {
				continue // already positioned, out-of-order signal
			}
			id, err := t.repo.InsertPaperTrade(ctx, &database.PaperTrade{
				Symbol:       symbol,
				Direction:    sig.Direction,
				EntryPrice:   d.Price,
				EntryPct:     d.EntryPct,
				L2Step:       1,
				StopLoss:     sql.NullFloat64{Float64: d.StopLoss, Valid: d.StopLoss > 0},
				Status:       database.TradeOpen,
				LastSignalID: sig.ID,
				OpenedAt:     t.clock.Now().Format(timeLayout),
			})
			if err != nil {
				return err
			}
			open, err = t.repo.OpenPaperTrade(ctx, symbol)
			if err != nil {
				return err
			}
			t.log.Info().Str("symbol", symbol).Int64("trade_id", id).
				Str("direction", sig.Direction).Float64("price", d.Price).Msg("paper trade opened")

		case database.SignalL2Step2, database.SignalL2Step3:
			if open == nil {
				continue
			}
			step := 2
			if sig.SignalType == database.SignalL2Step3 {
				step = 3
			}
			stop := sql.NullFloat64{Float64: d.StopLoss, Valid: d.StopLoss > 0}
			if err := t.repo.UpdatePaperTradeStep(ctx, open.ID, d.AvgPrice, d.EntryPct, step, stop, sig.ID); err != nil {
				return err
			}
			open.EntryPrice = d.AvgPrice
			open.EntryPct = d.EntryPct
			open.L2Step = step
			open.LastSignalID = sig.ID

		case database.SignalL2Exit:
			if open == nil {
				continue
			}
			if err := t.closeTrade(ctx, symbol, open, d.Reason, sig.ID); err != nil {
				return err
			}
			open = nil
		}
	}
	return nil
}

func (t *Trader) closeTrade(ctx context.Context, symbol string, trade *database.PaperTrade, reason string, signalID int64) error {
	price, ok := t.currentPrice(ctx, symbol)
	if !ok {
		// No exit price available. Flatten the book at zero rather than
		// leave a trade open against a dead feed.
		t.log.Warn().Str("symbol", symbol).Int64("trade_id", trade.ID).Msg("no exit price, closing flat")
		return t.repo.ClosePaperTrade(ctx, trade.ID, 0, 0, 0, reason, signalID,
			t.clock.Now().Format(timeLayout))
	}

	var pnlPct float64
	if trade.EntryPrice > 0 {
		if trade.Direction == database.DirectionLong {
			pnlPct = (price - trade.EntryPrice) / trade.EntryPrice * 100
		} else {
			pnlPct = (trade.EntryPrice - price) / trade.EntryPrice * 100
		}
	}
	pnlPct = round2(pnlPct)
	pnlWeighted := round2(pnlPct * trade.EntryPct)

	closedAt := t.clock.Now().Format(timeLayout)
	if err := t.repo.ClosePaperTrade(ctx, trade.ID, price, pnlPct, pnlWeighted, reason, signalID, closedAt); err != nil {
		return err
	}
	if err := t.repo.ApplyTradeToSummary(ctx, symbol, t.clock.Today(), pnlWeighted); err != nil {
		return err
	}

	t.log.Info().Str("symbol", symbol).Int64("trade_id", trade.ID).
		Float64("pnl_pct", pnlPct).Float64("pnl_weighted", pnlWeighted).
		Str("reason", reason).Msg("paper trade closed")
	return nil
}

// ============================================================================
// L4: grid fills
// ============================================================================

// simulateL4 books one fill whenever the price crosses into a different
// grid band. An up-cross sells inventory bought below and realizes the
// landed band's yield; a down-cross buys and realizes nothing until
// price comes back.
func (t *Trader) simulateL4(ctx context.Context, symbol string, state *database.StrategyState) error {
	if !state.L4Active || !state.L4GridConfigID.Valid {
		return nil
	}
	grid, err := t.repo.GridConfigByID(ctx, state.L4GridConfigID.Int64)
	if err != nil {
		if database.IsNoRows(err) {
			return nil
		}
		return err
	}
	price, ok := t.currentPrice(ctx, symbol)
	if !ok {
		return nil
	}

	level := gridLevel(grid, price)
	now := t.clock.Now().Format(timeLayout)

	last, err := t.repo.LastPaperL4(ctx, symbol)
	if err != nil {
		return err
	}
	if last == nil || last.GridConfigID != grid.ID {
		// First observation on this grid: record the starting band.
		return t.repo.InsertPaperL4(ctx, &database.PaperL4Grid{
			Symbol: symbol, GridConfigID: grid.ID, GridLevel: level,
			Side: "INIT", Price: price, PnlPct: 0, RecordedAt: now,
		})
	}
	if level == last.GridLevel {
		return nil
	}

	row := &database.PaperL4Grid{
		Symbol: symbol, GridConfigID: grid.ID, GridLevel: level,
		Price: price, RecordedAt: now,
	}
	if level > last.GridLevel {
		row.Side = "SELL"
		row.PnlPct = round4(bandYieldPct(grid, level))
	} else {
		row.Side = "BUY"
		row.PnlPct = 0
	}

	if err := t.repo.InsertPaperL4(ctx, row); err != nil {
		return err
	}
	t.log.Debug().Str("symbol", symbol).Str("side", row.Side).
		Int("level", level).Float64("pnl_pct", row.PnlPct).Msg("grid fill")
	return nil
}

// gridLevel maps a price to its band index, clamped to the grid.
func gridLevel(g *database.GridConfig, price float64) int {
	if g.Spacing <= 0 || g.GridCount <= 0 {
		return 0
	}
	level := int(math.Floor((price - g.LowerBound) / g.Spacing))
	if level < 0 {
		return 0
	}
	if level >= g.GridCount {
		return g.GridCount - 1
	}
	return level
}

// bandYieldPct is the realized profit of selling out of the band at
// level: the band's height over its own lower bound, weighted down by
// the grid count.
func bandYieldPct(g *database.GridConfig, level int) float64 {
	bandLow := g.LowerBound + float64(level)*g.Spacing
	if bandLow <= 0 || g.GridCount <= 0 {
		return 0
	}
	return g.Spacing / bandLow * 100 / float64(g.GridCount)
}

func (t *Trader) currentPrice(ctx context.Context, symbol string) (float64, bool) {
	price, err := t.repo.LatestClose(ctx, symbol, "5m")
	if err == nil {
		return price, true
	}
	price, err = t.repo.LatestClose(ctx, symbol, "1d")
	if err == nil {
		return price, true
	}
	return 0, false
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
