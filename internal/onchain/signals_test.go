package onchain

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

func newTestAnalyzer(t *testing.T) (*Analyzer, *database.Repository, *clock.Virtual) {
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
	clk := clock.NewVirtual(time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC))
	return NewAnalyzer(repo, clk), repo, clk
}

func seedWhaleTx(t *testing.T, repo *database.Repository, fromType, toType string, usd float64, txMs int64) {
	t.Helper()
	err := repo.InsertWhaleTransaction(context.Background(), &database.WhaleTransaction{
		Symbol: testSymbol, Amount: usd / 40000, AmountUSD: usd,
		FromType:    sql.NullString{String: fromType, Valid: true},
		ToType:      sql.NullString{String: toType, Valid: true},
		TxTimestamp: txMs, CollectedAt: "2026-01-10T12:00:00Z",
	})
	if err != nil {
		t.Fatalf("seed whale tx: %v", err)
	}
}

func TestWhaleDirectionNoData(t *testing.T) {
	a, _, _ := newTestAnalyzer(t)
	sig, err := a.WhaleDirection(context.Background(), testSymbol, 6*time.Hour)
	if err != nil {
		t.Fatalf("whale: %v", err)
	}
	if sig.Direction != "neutral" || sig.TxCount != 0 {
		t.Errorf("signal = %+v, want neutral with zero transactions", sig)
	}
}

func TestWhaleOutflowScoring(t *testing.T) {
	a, repo, clk := newTestAnalyzer(t)
	nowMs := clk.Unix() * 1000

	// $5M leaving an exchange for cold storage.
	seedWhaleTx(t, repo, "exchange", "unknown", 5_000_000, nowMs-60_000)
	// Wallet-to-wallet churn is ignored.
	seedWhaleTx(t, repo, "unknown", "unknown", 50_000_000, nowMs-120_000)

	sig, err := a.WhaleDirection(context.Background(), testSymbol, 6*time.Hour)
	if err != nil {
		t.Fatalf("whale: %v", err)
	}
	if sig.Direction != "exchange_outflow" {
		t.Errorf("direction = %s, want exchange_outflow", sig.Direction)
	}
	if sig.NetFlowUSD != -5_000_000 {
		t.Errorf("net = %.0f, want -5M", sig.NetFlowUSD)
	}
	if sig.Score != 0.5 {
		t.Errorf("score = %.2f, want 5M/10M = 0.5", sig.Score)
	}
}

func TestWhaleSmallNetIsNoise(t *testing.T) {
	a, repo, clk := newTestAnalyzer(t)
	nowMs := clk.Unix() * 1000

	seedWhaleTx(t, repo, "unknown", "exchange", 2_000_000, nowMs-60_000)
	seedWhaleTx(t, repo, "exchange", "unknown", 1_500_000, nowMs-120_000)

	sig, err := a.WhaleDirection(context.Background(), testSymbol, 6*time.Hour)
	if err != nil {
		t.Fatalf("whale: %v", err)
	}
	// Net $500k inflow is below the $1M noise floor.
	if sig.Direction != "neutral" || sig.Score != 0 {
		t.Errorf("signal = %+v, want neutral", sig)
	}
}

func TestWhaleWindowExcludesOldFlow(t *testing.T) {
	a, repo, clk := newTestAnalyzer(t)
	nowMs := clk.Unix() * 1000

	seedWhaleTx(t, repo, "unknown", "exchange", 50_000_000, nowMs-8*3600*1000)

	sig, err := a.WhaleDirection(context.Background(), testSymbol, 6*time.Hour)
	if err != nil {
		t.Fatalf("whale: %v", err)
	}
	if sig.TxCount != 0 {
		t.Errorf("tx count = %d, an 8h-old transfer is outside the 6h window", sig.TxCount)
	}
}

func seedNetflows(t *testing.T, repo *database.Repository, values []float64) {
	t.Helper()
	// Insert oldest first so the latest value ends up with the highest id.
	for i := len(values) - 1; i >= 0; i-- {
		err := repo.InsertExchangeNetflow(context.Background(), &database.ExchangeNetflow{
			Symbol: testSymbol, Netflow: values[i], CollectedAt: "2026-01-10T12:00:00Z",
		})
		if err != nil {
			t.Fatalf("seed netflow: %v", err)
		}
	}
}

func TestNetflowOutflowWithTrend(t *testing.T) {
	a, repo, _ := newTestAnalyzer(t)
	// Newest-first: recent outflows deepening versus the older rows.
	seedNetflows(t, repo, []float64{-500, -400, -450, -100, -50, -80, -60})

	sig, err := a.Netflow(context.Background(), testSymbol)
	if err != nil {
		t.Fatalf("netflow: %v", err)
	}
	if sig.Direction != "outflow" {
		t.Errorf("direction = %s, want outflow", sig.Direction)
	}
	if sig.Trend != "increasing_outflow" {
		t.Errorf("trend = %s, want increasing_outflow", sig.Trend)
	}
	if sig.Score != 1.0 {
		t.Errorf("score = %.2f, direction with trend scores 1.0", sig.Score)
	}
}

func TestNetflowAgainstTrendScoresHalf(t *testing.T) {
	a, repo, _ := newTestAnalyzer(t)
	// Latest inflow while the recent average is falling.
	seedNetflows(t, repo, []float64{100, -400, -450, -100, -50, -80, -60})

	sig, err := a.Netflow(context.Background(), testSymbol)
	if err != nil {
		t.Fatalf("netflow: %v", err)
	}
	if sig.Direction != "inflow" {
		t.Errorf("direction = %s, want inflow", sig.Direction)
	}
	if sig.Score != 0.5 {
		t.Errorf("score = %.2f, want 0.5 against trend", sig.Score)
	}
}

func TestNetflowEmpty(t *testing.T) {
	a, _, _ := newTestAnalyzer(t)
	sig, err := a.Netflow(context.Background(), testSymbol)
	if err != nil {
		t.Fatalf("netflow: %v", err)
	}
	if sig.Direction != "neutral" || sig.Trend != "flat" {
		t.Errorf("signal = %+v, want neutral/flat", sig)
	}
}

func TestMVRVBands(t *testing.T) {
	cases := []struct {
		value  float64
		signal string
		score  float64
	}{
		{4.0, "overheated_bearish", 0.5},
		{0.8, "undervalued_bullish", 0.5},
		{2.8, "elevated", 0.25},
		{1.2, "low", 0.25},
		{2.0, "neutral", 0},
	}
	for _, c := range cases {
		a, repo, _ := newTestAnalyzer(t)
		err := repo.UpsertOnchainMetric(context.Background(), &database.OnchainMetric{
			Metric: "mvrv", Value: c.value, Timestamp: 1767960000, CollectedAt: "2026-01-10T12:00:00Z",
		})
		if err != nil {
			t.Fatalf("seed mvrv: %v", err)
		}
		sig, err := a.MVRV(context.Background())
		if err != nil {
			t.Fatalf("mvrv: %v", err)
		}
		if sig.Signal != c.signal || sig.Score != c.score {
			t.Errorf("mvrv %.1f: got %s/%.2f, want %s/%.2f", c.value, sig.Signal, sig.Score, c.signal, c.score)
		}
	}
}

func TestMVRVNoData(t *testing.T) {
	a, _, _ := newTestAnalyzer(t)
	sig, err := a.MVRV(context.Background())
	if err != nil {
		t.Fatalf("mvrv: %v", err)
	}
	if sig.Signal != "no_data" {
		t.Errorf("signal = %s, want no_data", sig.Signal)
	}
}

func TestTakerPressure(t *testing.T) {
	a, repo, _ := newTestAnalyzer(t)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		err := repo.UpsertTakerRatio(ctx, &database.TakerRatio{
			Symbol: testSymbol, BuyVol: 110, SellVol: 100, BuySellRatio: 1.10,
			Timestamp: int64(i) * 3_600_000, CollectedAt: "2026-01-10T12:00:00Z",
		})
		if err != nil {
			t.Fatalf("seed taker: %v", err)
		}
	}

	sig, err := a.Taker(ctx, testSymbol)
	if err != nil {
		t.Fatalf("taker: %v", err)
	}
	if sig.Direction != "buy_dominant" || sig.Score != 0.5 {
		t.Errorf("signal = %+v, want buy_dominant at 0.5", sig)
	}
}

func TestTakerMixedIsNeutral(t *testing.T) {
	a, repo, _ := newTestAnalyzer(t)
	ctx := context.Background()

	// Latest reading leans buy but the average does not.
	ratios := []float64{1.10, 0.90, 0.85, 0.92, 0.88, 0.95}
	for i, r := range ratios {
		err := repo.UpsertTakerRatio(ctx, &database.TakerRatio{
			Symbol: testSymbol, BuyVol: r * 100, SellVol: 100, BuySellRatio: r,
			Timestamp: int64(len(ratios)-i) * 3_600_000, CollectedAt: "2026-01-10T12:00:00Z",
		})
		if err != nil {
			t.Fatalf("seed taker: %v", err)
		}
	}

	sig, err := a.Taker(ctx, testSymbol)
	if err != nil {
		t.Fatalf("taker: %v", err)
	}
	if sig.Direction != "neutral" {
		t.Errorf("direction = %s, want neutral on mixed pressure", sig.Direction)
	}
}
