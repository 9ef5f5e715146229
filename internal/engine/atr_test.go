package engine

import (
	"context"
	"math"
	"testing"

	"cascade-trader/internal/database"
)

func TestATRSkipsWithoutEnoughHistory(t *testing.T) {
	repo := newEngineRepo(t)
	e := NewATREngine(repo, testClock())

	for i := 0; i < atrPeriod; i++ { // one short of period+1
		seedDaily(t, repo, int64(i)*86_400_000, 100, 110, 90, 105, 1000)
	}

	value, err := e.Run(context.Background(), testSymbol)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if value != nil {
		t.Fatal("expected a skipped tick with insufficient candles")
	}
	if _, err := repo.LatestATR(context.Background(), testSymbol); !database.IsNoRows(err) {
		t.Error("no row should be written on a skipped tick")
	}
}

func TestATRConstantRange(t *testing.T) {
	repo := newEngineRepo(t)
	e := NewATREngine(repo, testClock())

	// Identical candles: TR is always high-low = 20.
	for i := 0; i <= atrPeriod; i++ {
		seedDaily(t, repo, int64(i)*86_400_000, 100, 110, 90, 100, 1000)
	}

	value, err := e.Run(context.Background(), testSymbol)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if value == nil {
		t.Fatal("expected an atr value")
	}
	if value.ATR != 20 {
		t.Errorf("atr = %.2f, want 20", value.ATR)
	}
	if value.ATRPct != 20 {
		t.Errorf("atr_pct = %.2f, want 20%% of a 100 close", value.ATRPct)
	}
	if value.StopLossPct != 30 {
		t.Errorf("stop_loss_pct = %.2f, want atr_pct * 1.5", value.StopLossPct)
	}

	stored, err := repo.LatestATR(context.Background(), testSymbol)
	if err != nil {
		t.Fatalf("latest atr: %v", err)
	}
	if stored.Period != atrPeriod {
		t.Errorf("period = %d, want %d", stored.Period, atrPeriod)
	}
	if stored.CurrentPrice != 100 {
		t.Errorf("current_price = %.2f, want the latest daily close", stored.CurrentPrice)
	}
}

func TestATRUsesGapsInTrueRange(t *testing.T) {
	repo := newEngineRepo(t)
	e := NewATREngine(repo, testClock())

	// Flat candles, then a gap day whose TR comes from the previous close.
	for i := 0; i < atrPeriod; i++ {
		seedDaily(t, repo, int64(i)*86_400_000, 100, 101, 99, 100, 1000)
	}
	// Gap up: high-low = 2, but |high - prevClose| = 21.
	seedDaily(t, repo, int64(atrPeriod)*86_400_000, 120, 121, 119, 120, 1000)

	value, err := e.Run(context.Background(), testSymbol)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// 13 flat days at TR=2 plus the gap day at TR=21.
	want := (13*2.0 + 21.0) / float64(atrPeriod)
	if math.Abs(value.ATR-want) > 1e-9 {
		t.Errorf("atr = %.4f, want %.4f", value.ATR, want)
	}
}
