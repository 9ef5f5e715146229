package paper

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"cascade-trader/internal/clock"
	"cascade-trader/internal/database"
)

const testSymbol = "BTCUSDT"

func newTestTrader(t *testing.T, clk clock.Clock) (*Trader, *database.Repository) {
	t.Helper()
	db, err := database.NewDB(database.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.RunMigrations(context.Background()); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	repo := database.NewRepository(db)
	return NewTrader(repo, clk), repo
}

func seedState(t *testing.T, repo *database.Repository, mutate func(*database.StrategyState)) {
	t.Helper()
	s := &database.StrategyState{
		Symbol:          testSymbol,
		State:           database.StateA,
		L2LastResetDate: sql.NullString{String: "2026-01-10", Valid: true},
		UpdatedAt:       "2026-01-10T12:00:00Z",
	}
	if mutate != nil {
		mutate(s)
	}
	if err := repo.InsertStrategyState(context.Background(), s); err != nil {
		t.Fatalf("seed state: %v", err)
	}
}

func seedSignal(t *testing.T, repo *database.Repository, sigType, direction, details string) int64 {
	t.Helper()
	id, err := repo.AppendSignal(context.Background(), &database.Signal{
		Symbol: testSymbol, SignalType: sigType, Direction: direction,
		Details:   sql.NullString{String: details, Valid: details != ""},
		CreatedAt: "2026-01-10T12:00:00Z",
	})
	if err != nil {
		t.Fatalf("seed signal: %v", err)
	}
	return id
}

func seedClose(t *testing.T, repo *database.Repository, openTime int64, close float64) {
	t.Helper()
	err := repo.UpsertKline(context.Background(), &database.Kline{
		Symbol: testSymbol, Interval: "5m", OpenTime: openTime,
		Open: close, High: close, Low: close, Close: close, Volume: 10,
		CloseTime: openTime + 1,
	})
	if err != nil {
		t.Fatalf("seed kline: %v", err)
	}
}

func TestL1FundingCollection(t *testing.T) {
	clk := clock.NewVirtual(time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC))
	tr, repo := newTestTrader(t, clk)
	ctx := context.Background()

	seedState(t, repo, func(s *database.StrategyState) { s.L1Active = true })
	if err := repo.InsertFundingRate(ctx, &database.FundingRate{
		Symbol: testSymbol, FundingRate: 0.0008, CollectedAt: "2026-01-10T08:00:00Z",
	}); err != nil {
		t.Fatalf("seed funding: %v", err)
	}

	if err := tr.Run(ctx, testSymbol); err != nil {
		t.Fatalf("run: %v", err)
	}
	stats, err := repo.PaperL1Stats(ctx, testSymbol)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Collections != 1 {
		t.Fatalf("collections = %d, want 1", stats.Collections)
	}
	if stats.TotalPnlPct != 0.08 {
		t.Errorf("pnl = %.4f%%, want 0.08%%", stats.TotalPnlPct)
	}

	// Same funding snapshot must not be collected twice.
	if err := tr.Run(ctx, testSymbol); err != nil {
		t.Fatalf("run: %v", err)
	}
	stats, _ = repo.PaperL1Stats(ctx, testSymbol)
	if stats.Collections != 1 {
		t.Errorf("collections = %d after replay, want 1", stats.Collections)
	}

	// A fresh snapshot is.
	if err := repo.InsertFundingRate(ctx, &database.FundingRate{
		Symbol: testSymbol, FundingRate: 0.0006, CollectedAt: "2026-01-10T16:00:00Z",
	}); err != nil {
		t.Fatalf("seed funding: %v", err)
	}
	if err := tr.Run(ctx, testSymbol); err != nil {
		t.Fatalf("run: %v", err)
	}
	stats, _ = repo.PaperL1Stats(ctx, testSymbol)
	if stats.Collections != 2 {
		t.Errorf("collections = %d, want 2", stats.Collections)
	}
}

func TestL1ShortConflictCollapsesPnl(t *testing.T) {
	clk := clock.NewVirtual(time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC))
	tr, repo := newTestTrader(t, clk)
	ctx := context.Background()

	seedState(t, repo, func(s *database.StrategyState) {
		s.L1Active = true
		s.State = database.StateB
		s.L2Active = true
		s.L2Direction = sql.NullString{String: database.DirectionShort, Valid: true}
	})
	if err := repo.InsertFundingRate(ctx, &database.FundingRate{
		Symbol: testSymbol, FundingRate: 0.0008, CollectedAt: "2026-01-10T08:00:00Z",
	}); err != nil {
		t.Fatalf("seed funding: %v", err)
	}

	if err := tr.Run(ctx, testSymbol); err != nil {
		t.Fatalf("run: %v", err)
	}
	stats, err := repo.PaperL1Stats(ctx, testSymbol)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Collections != 1 || stats.Conflicts != 1 {
		t.Fatalf("collections=%d conflicts=%d, want 1/1", stats.Collections, stats.Conflicts)
	}
	if stats.TotalPnlPct != 0 {
		t.Errorf("effective pnl = %.4f%%, a SHORT overlap must contribute nothing", stats.TotalPnlPct)
	}

	row, err := repo.LastPaperL1(ctx, testSymbol)
	if err != nil || row == nil {
		t.Fatalf("last l1 row: %v", err)
	}
	if row.FundingPnlPct != 0.08 {
		t.Errorf("raw funding pnl = %.4f%%, the ledger keeps the uncollapsed number", row.FundingPnlPct)
	}
}

func TestL2TradeLifecycle(t *testing.T) {
	clk := clock.NewVirtual(time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC))
	tr, repo := newTestTrader(t, clk)
	ctx := context.Background()

	seedState(t, repo, nil)

	seedSignal(t, repo, database.SignalL2Step1, database.DirectionLong,
		`{"entry_pct":0.30,"price":42500,"stop_loss":41225}`)
	if err := tr.Run(ctx, testSymbol); err != nil {
		t.Fatalf("run: %v", err)
	}
	open, err := repo.OpenPaperTrade(ctx, testSymbol)
	if err != nil || open == nil {
		t.Fatalf("expected an open trade: %v", err)
	}
	if open.EntryPrice != 42500 || open.EntryPct != 0.30 || open.L2Step != 1 {
		t.Errorf("open trade = %+v, want step 1 at 42500 / 30%%", open)
	}

	seedSignal(t, repo, database.SignalL2Step2, database.DirectionLong,
		`{"entry_pct":0.60,"avg_price":42650,"stop_loss":41370}`)
	seedSignal(t, repo, database.SignalL2Step3, database.DirectionLong,
		`{"entry_pct":1.0,"avg_price":42710,"ratio":1.0,"score":4.2,"stop_loss":41428}`)
	if err := tr.Run(ctx, testSymbol); err != nil {
		t.Fatalf("run: %v", err)
	}
	open, _ = repo.OpenPaperTrade(ctx, testSymbol)
	if open.EntryPrice != 42710 || open.EntryPct != 1.0 || open.L2Step != 3 {
		t.Errorf("after steps trade = %+v, want step 3 at 42710 / 100%%", open)
	}

	seedClose(t, repo, 1000, 44000)
	exitID := seedSignal(t, repo, database.SignalL2Exit, database.DirectionLong,
		`{"reason":"new_box_formation","entry_pct":1.0}`)
	if err := tr.Run(ctx, testSymbol); err != nil {
		t.Fatalf("run: %v", err)
	}
	if open, _ = repo.OpenPaperTrade(ctx, testSymbol); open != nil {
		t.Fatal("trade still open after exit signal")
	}

	closed, err := repo.LastClosedPaperTrade(ctx, testSymbol)
	if err != nil || closed == nil {
		t.Fatalf("closed trade: %v", err)
	}
	// (44000 - 42710) / 42710 * 100 = 3.02%
	if closed.PnlPct.Float64 != 3.02 {
		t.Errorf("pnl = %.2f%%, want 3.02%%", closed.PnlPct.Float64)
	}
	if closed.PnlWeighted.Float64 != 3.02 {
		t.Errorf("weighted pnl = %.2f%%, want 3.02%% at full size", closed.PnlWeighted.Float64)
	}
	if closed.LastSignalID != exitID {
		t.Errorf("last_signal_id = %d, want %d", closed.LastSignalID, exitID)
	}
	if closed.ExitReason.String != "new_box_formation" {
		t.Errorf("exit reason = %s", closed.ExitReason.String)
	}

	summaries, err := repo.PaperSummaries(ctx, testSymbol)
	if err != nil || len(summaries) != 1 {
		t.Fatalf("summaries = %v (%v), want one row", summaries, err)
	}
	if summaries[0].Wins != 1 || summaries[0].TotalPnlWeighted != 3.02 {
		t.Errorf("summary = %+v, want one win at 3.02%%", summaries[0])
	}
}

func TestL2ReplayIsIdempotent(t *testing.T) {
	clk := clock.NewVirtual(time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC))
	tr, repo := newTestTrader(t, clk)
	ctx := context.Background()

	seedState(t, repo, nil)
	seedClose(t, repo, 1000, 42000)
	seedSignal(t, repo, database.SignalL2Step1, database.DirectionShort,
		`{"entry_pct":0.30,"price":42000,"stop_loss":44100}`)
	seedSignal(t, repo, database.SignalL2Exit, database.DirectionShort,
		`{"reason":"stop_loss","entry_pct":0.30}`)

	// Run twice: the second pass must find nothing past the high-water mark.
	for i := 0; i < 2; i++ {
		if err := tr.Run(ctx, testSymbol); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	stats, err := repo.PaperL2Stats(ctx, testSymbol)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Trades != 1 {
		t.Errorf("trades = %d after replay, want 1", stats.Trades)
	}
}

func TestL4GridFills(t *testing.T) {
	clk := clock.NewVirtual(time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC))
	tr, repo := newTestTrader(t, clk)
	ctx := context.Background()

	gridID, err := repo.InsertGridConfig(ctx, &database.GridConfig{
		Symbol: testSymbol, LowerBound: 40000, UpperBound: 42000,
		GridCount: 10, Spacing: 200, SpacingPct: 0.49,
		Source: "walls", CalculatedAt: "2026-01-10T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("seed grid: %v", err)
	}
	seedState(t, repo, func(s *database.StrategyState) {
		s.L4Active = true
		s.L4GridConfigID = sql.NullInt64{Int64: gridID, Valid: true}
	})

	// First observation records the starting band, no fill.
	seedClose(t, repo, 1000, 40900) // level 4
	if err := tr.Run(ctx, testSymbol); err != nil {
		t.Fatalf("run: %v", err)
	}
	last, err := repo.LastPaperL4(ctx, testSymbol)
	if err != nil || last == nil {
		t.Fatalf("last l4 row: %v", err)
	}
	if last.Side != "INIT" || last.GridLevel != 4 {
		t.Errorf("first row = %+v, want INIT at level 4", last)
	}

	// Price rises into a higher band: one SELL fill booking the landed
	// band's yield, however many bands were crossed.
	seedClose(t, repo, 2000, 41300) // level 6
	if err := tr.Run(ctx, testSymbol); err != nil {
		t.Fatalf("run: %v", err)
	}
	last, _ = repo.LastPaperL4(ctx, testSymbol)
	if last.Side != "SELL" || last.GridLevel != 6 {
		t.Errorf("fill = %+v, want SELL at level 6", last)
	}
	// Band 6 spans 41200-41400: 200/41200*100/10, rounded to 4 places.
	if last.PnlPct != 0.0485 {
		t.Errorf("sell pnl = %.4f%%, want 0.0485%%", last.PnlPct)
	}

	// Price falls back one band: BUY, no realized profit.
	seedClose(t, repo, 3000, 41100) // level 5
	if err := tr.Run(ctx, testSymbol); err != nil {
		t.Fatalf("run: %v", err)
	}
	last, _ = repo.LastPaperL4(ctx, testSymbol)
	if last.Side != "BUY" || last.PnlPct != 0 {
		t.Errorf("fill = %+v, want BUY with zero pnl", last)
	}

	stats, err := repo.PaperL4Stats(ctx, testSymbol)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Fills != 2 || stats.Sells != 1 {
		t.Errorf("fills=%d sells=%d, want 2/1", stats.Fills, stats.Sells)
	}
}

func TestL4InactiveDoesNothing(t *testing.T) {
	clk := clock.NewVirtual(time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC))
	tr, repo := newTestTrader(t, clk)
	ctx := context.Background()

	seedState(t, repo, nil)
	seedClose(t, repo, 1000, 41000)
	if err := tr.Run(ctx, testSymbol); err != nil {
		t.Fatalf("run: %v", err)
	}
	if last, _ := repo.LastPaperL4(ctx, testSymbol); last != nil {
		t.Error("grid ledger written while the grid layer is paused")
	}
}

func TestPerformanceRollup(t *testing.T) {
	clk := clock.NewVirtual(time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC))
	tr, repo := newTestTrader(t, clk)
	ctx := context.Background()

	if err := repo.InsertPaperL1(ctx, &database.PaperL1Funding{
		Symbol: testSymbol, FundingRate: 0.0008, FundingPnlPct: 0.08,
		EffectivePnlPct: 0.08, L1Effective: 1,
		CollectedAt: "2026-01-10T08:00:00Z", RecordedAt: "2026-01-10T08:00:00Z",
	}); err != nil {
		t.Fatalf("seed l1: %v", err)
	}
	id, err := repo.InsertPaperTrade(ctx, &database.PaperTrade{
		Symbol: testSymbol, Direction: database.DirectionLong,
		EntryPrice: 42000, EntryPct: 0.60, L2Step: 2,
		Status: database.TradeOpen, LastSignalID: 1, OpenedAt: "2026-01-10T10:00:00Z",
	})
	if err != nil {
		t.Fatalf("seed trade: %v", err)
	}
	if err := repo.ClosePaperTrade(ctx, id, 43000, 2.38, 1.43, "stop_loss", 2, "2026-01-10T11:00:00Z"); err != nil {
		t.Fatalf("close trade: %v", err)
	}
	if err := repo.InsertPaperL4(ctx, &database.PaperL4Grid{
		Symbol: testSymbol, GridConfigID: 1, GridLevel: 5, Side: "SELL",
		Price: 41000, PnlPct: 0.5, RecordedAt: "2026-01-10T09:00:00Z",
	}); err != nil {
		t.Fatalf("seed l4: %v", err)
	}

	p, err := tr.Performance(ctx, testSymbol)
	if err != nil {
		t.Fatalf("performance: %v", err)
	}
	if p.L1PnlPct != 0.08 || p.L2PnlPct != 1.43 || p.L4PnlPct != 0.5 {
		t.Errorf("layer pnl = %.2f/%.2f/%.2f, want 0.08/1.43/0.50", p.L1PnlPct, p.L2PnlPct, p.L4PnlPct)
	}
	if p.TotalPnlPct != 2.01 {
		t.Errorf("total = %.2f, want 2.01", p.TotalPnlPct)
	}

	eq, err := tr.Equity(ctx, testSymbol)
	if err != nil {
		t.Fatalf("equity: %v", err)
	}
	if eq != 2.01 {
		t.Errorf("equity = %.2f, want 2.01", eq)
	}
}
