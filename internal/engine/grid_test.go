package engine

import (
	"context"
	"testing"

	"cascade-trader/internal/database"
)

func seedWallScan(t *testing.T, repo *database.Repository, walls []database.OrderbookWall) {
	t.Helper()
	ctx := context.Background()
	scanID, err := repo.NextWallScanID(ctx, testSymbol)
	if err != nil {
		t.Fatalf("next scan id: %v", err)
	}
	for i := range walls {
		walls[i].Symbol = testSymbol
		walls[i].ScanID = scanID
		walls[i].CollectedAt = "2026-01-10T12:00:00Z"
	}
	if err := repo.InsertOrderbookWalls(ctx, walls); err != nil {
		t.Fatalf("seed walls: %v", err)
	}
}

func TestGridFromPersistentWalls(t *testing.T) {
	repo := newEngineRepo(t)
	e := NewGridEngine(repo, testClock())
	ctx := context.Background()

	walls := []database.OrderbookWall{
		{Side: "BID", Price: 40000, Quantity: 10},
		{Side: "BID", Price: 39800, Quantity: 5},
		{Side: "ASK", Price: 42000, Quantity: 10},
		{Side: "ASK", Price: 42200, Quantity: 5},
	}
	seedWallScan(t, repo, append([]database.OrderbookWall(nil), walls...))
	seedWallScan(t, repo, append([]database.OrderbookWall(nil), walls...))

	cfg, err := e.Run(ctx, testSymbol)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if cfg == nil {
		t.Fatal("expected a grid config")
	}
	if cfg.Source != GridSourceWalls {
		t.Errorf("source = %s, want walls", cfg.Source)
	}
	// Qty-weighted bid mean: (40000*10 + 39800*5) / 15.
	wantLower := (40000.0*10 + 39800*5) / 15
	if cfg.LowerBound != wantLower {
		t.Errorf("lower = %.2f, want %.2f", cfg.LowerBound, wantLower)
	}
	if cfg.SpoofingFiltered != 0 {
		t.Errorf("spoof filtered = %d, want 0 for persistent walls", cfg.SpoofingFiltered)
	}
	// No ATR: fixed 12 grids.
	if cfg.GridCount != gridCountFallback {
		t.Errorf("grid count = %d, want %d without atr", cfg.GridCount, gridCountFallback)
	}
}

func TestGridFiltersVanishedWalls(t *testing.T) {
	repo := newEngineRepo(t)
	e := NewGridEngine(repo, testClock())
	ctx := context.Background()

	seedWallScan(t, repo, []database.OrderbookWall{
		{Side: "BID", Price: 40000, Quantity: 10},
		{Side: "ASK", Price: 42000, Quantity: 10},
	})
	seedWallScan(t, repo, []database.OrderbookWall{
		{Side: "BID", Price: 40001, Quantity: 10}, // within 0.1% of the prior bid
		{Side: "BID", Price: 38000, Quantity: 50}, // spoof: new giant bid
		{Side: "ASK", Price: 42001, Quantity: 10},
	})

	cfg, err := e.Run(ctx, testSymbol)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if cfg == nil {
		t.Fatal("expected a grid config")
	}
	if cfg.SpoofingFiltered != 1 {
		t.Errorf("spoof filtered = %d, want 1", cfg.SpoofingFiltered)
	}
	// The spoofed 38000 bid must not drag the lower bound down.
	if cfg.LowerBound != 40001 {
		t.Errorf("lower = %.2f, want 40001", cfg.LowerBound)
	}
}

func TestGridCountScalesWithATR(t *testing.T) {
	repo := newEngineRepo(t)
	e := NewGridEngine(repo, testClock())
	ctx := context.Background()

	if err := repo.InsertATR(ctx, &database.ATRValue{
		Symbol: testSymbol, ATR: 150, ATRPct: 0.37, StopLossPct: 0.55,
		Period: 14, CalculatedAt: "2026-01-10T00:00:00Z",
	}); err != nil {
		t.Fatalf("seed atr: %v", err)
	}
	walls := []database.OrderbookWall{
		{Side: "BID", Price: 40000, Quantity: 10},
		{Side: "ASK", Price: 42000, Quantity: 10},
	}
	seedWallScan(t, repo, append([]database.OrderbookWall(nil), walls...))
	seedWallScan(t, repo, append([]database.OrderbookWall(nil), walls...))

	cfg, err := e.Run(ctx, testSymbol)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// Band 2000 / ATR 150 = 13.3, rounds to 13, inside [10, 15].
	if cfg.GridCount != 13 {
		t.Errorf("grid count = %d, want 13", cfg.GridCount)
	}
}

func TestGridATRFallback(t *testing.T) {
	repo := newEngineRepo(t)
	e := NewGridEngine(repo, testClock())
	ctx := context.Background()

	if err := repo.InsertATR(ctx, &database.ATRValue{
		Symbol: testSymbol, ATR: 500, ATRPct: 1.2, StopLossPct: 1.8,
		Period: 14, CalculatedAt: "2026-01-10T00:00:00Z",
	}); err != nil {
		t.Fatalf("seed atr: %v", err)
	}
	seed5m(t, repo, 1000, 41000)

	cfg, err := e.Run(ctx, testSymbol)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if cfg == nil {
		t.Fatal("expected a fallback grid")
	}
	if cfg.Source != GridSourceATRFallback {
		t.Errorf("source = %s, want atr_fallback", cfg.Source)
	}
	if cfg.LowerBound != 40000 || cfg.UpperBound != 42000 {
		t.Errorf("band = [%.0f, %.0f], want price +/- 2*ATR", cfg.LowerBound, cfg.UpperBound)
	}
	if cfg.GridCount != gridCountFallback {
		t.Errorf("grid count = %d, want %d", cfg.GridCount, gridCountFallback)
	}
}

func TestGridSkipsWithNothing(t *testing.T) {
	repo := newEngineRepo(t)
	e := NewGridEngine(repo, testClock())

	cfg, err := e.Run(context.Background(), testSymbol)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if cfg != nil {
		t.Fatal("expected a skipped tick with no walls and no atr")
	}
}
