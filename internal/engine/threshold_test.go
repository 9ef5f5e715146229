package engine

import (
	"context"
	"testing"

	"cascade-trader/internal/database"
)

func seedLiquidation(t *testing.T, repo *database.Repository, side string, price, qty float64, tradeTime int64) {
	t.Helper()
	err := repo.InsertLiquidation(context.Background(), &database.Liquidation{
		Symbol: testSymbol, Side: side, Price: price, Qty: qty,
		TradeTime: tradeTime, CollectedAt: "2026-01-10T12:00:00Z",
	})
	if err != nil {
		t.Fatalf("seed liquidation: %v", err)
	}
}

func seedOI(t *testing.T, repo *database.Repository, oi float64) {
	t.Helper()
	err := repo.InsertOISnapshot(context.Background(), &database.OISnapshot{
		Symbol: testSymbol, OpenInterest: oi, CollectedAt: "2026-01-10T12:00:00Z",
	})
	if err != nil {
		t.Fatalf("seed oi: %v", err)
	}
}

func TestThresholdSkipsWithoutOI(t *testing.T) {
	repo := newEngineRepo(t)
	e := NewThresholdEngine(repo, testClock())

	sig, err := e.Run(context.Background(), testSymbol)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sig != nil {
		t.Fatal("expected a skipped tick without open interest")
	}
}

func TestThresholdQuietMarket(t *testing.T) {
	repo := newEngineRepo(t)
	clk := testClock()
	e := NewThresholdEngine(repo, clk)

	seedOI(t, repo, 1000)                // 1000 BTC
	seedDaily(t, repo, 0, 100, 110, 90, 100, 1000) // OI worth $100k
	// A tiny liquidation well below 1% of OI.
	seedLiquidation(t, repo, "BUY", 100, 1, clk.Unix()*1000-60_000)

	sig, err := e.Run(context.Background(), testSymbol)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sig.TriggerActive {
		t.Error("trigger active on a quiet market")
	}
	if sig.Direction.Valid {
		t.Error("no direction should be set without a trigger")
	}
}

func TestThresholdShortCascade(t *testing.T) {
	repo := newEngineRepo(t)
	clk := testClock()
	e := NewThresholdEngine(repo, clk)

	seedOI(t, repo, 1000)
	seedDaily(t, repo, 0, 100, 110, 90, 100, 1000)
	nowMs := clk.Unix() * 1000
	// $2000 of BUY liquidations (shorts squeezed) against $100k OI: 2%.
	seedLiquidation(t, repo, "BUY", 100, 15, nowMs-60_000)
	seedLiquidation(t, repo, "SELL", 100, 5, nowMs-120_000)

	sig, err := e.Run(context.Background(), testSymbol)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !sig.TriggerActive {
		t.Fatal("expected an active trigger at 2% of OI")
	}
	if sig.Direction.String != database.CascadeShort {
		t.Errorf("direction = %s, want SHORT_CASCADE when shorts dominate", sig.Direction.String)
	}
	if sig.Liq1hTotal != 2000 {
		t.Errorf("liq total = %.0f, want 2000", sig.Liq1hTotal)
	}
}

func TestThresholdLongCascade(t *testing.T) {
	repo := newEngineRepo(t)
	clk := testClock()
	e := NewThresholdEngine(repo, clk)

	seedOI(t, repo, 1000)
	seedDaily(t, repo, 0, 100, 110, 90, 100, 1000)
	nowMs := clk.Unix() * 1000
	seedLiquidation(t, repo, "SELL", 100, 20, nowMs-60_000)

	sig, err := e.Run(context.Background(), testSymbol)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !sig.TriggerActive || sig.Direction.String != database.CascadeLong {
		t.Errorf("trigger=%v direction=%s, want LONG_CASCADE", sig.TriggerActive, sig.Direction.String)
	}
}

func TestThresholdIgnoresStaleLiquidations(t *testing.T) {
	repo := newEngineRepo(t)
	clk := testClock()
	e := NewThresholdEngine(repo, clk)

	seedOI(t, repo, 1000)
	seedDaily(t, repo, 0, 100, 110, 90, 100, 1000)
	// Large, but two hours old.
	seedLiquidation(t, repo, "BUY", 100, 50, clk.Unix()*1000-7_200_000)

	sig, err := e.Run(context.Background(), testSymbol)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sig.TriggerActive {
		t.Error("liquidations outside the hour window must not trigger")
	}
	if sig.Liq1hTotal != 0 {
		t.Errorf("liq total = %.0f, want 0", sig.Liq1hTotal)
	}
}

func TestLiquidityCoeffClamp(t *testing.T) {
	repo := newEngineRepo(t)
	e := NewThresholdEngine(repo, testClock())
	ctx := context.Background()

	// 29 quiet days and one day at 100x volume: ratio well above the cap.
	for i := 1; i < 30; i++ {
		seedDaily(t, repo, int64(i)*86_400_000, 100, 110, 90, 100, 10)
	}
	seedDaily(t, repo, 30*86_400_000, 100, 110, 90, 100, 10_000)

	if coeff := e.liquidityCoeff(ctx, testSymbol); coeff != liquidityCoeffCeil {
		t.Errorf("coeff = %.2f, want clamped to %.1f", coeff, liquidityCoeffCeil)
	}
}
