package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"cascade-trader/internal/clock"
	"cascade-trader/internal/database"
)

const testSymbol = "BTCUSDT"

func newEngineRepo(t *testing.T) *database.Repository {
	t.Helper()
	db, err := database.NewDB(database.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.RunMigrations(context.Background()); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	return database.NewRepository(db)
}

func testClock() *clock.Virtual {
	return clock.NewVirtual(time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC))
}

func seedDaily(t *testing.T, repo *database.Repository, openTime int64, o, h, l, c, vol float64) {
	t.Helper()
	err := repo.UpsertKline(context.Background(), &database.Kline{
		Symbol: testSymbol, Interval: "1d", OpenTime: openTime,
		Open: o, High: h, Low: l, Close: c, Volume: vol, CloseTime: openTime + 1,
	})
	if err != nil {
		t.Fatalf("seed daily kline: %v", err)
	}
}

func seed5m(t *testing.T, repo *database.Repository, openTime int64, c float64) {
	t.Helper()
	err := repo.UpsertKline(context.Background(), &database.Kline{
		Symbol: testSymbol, Interval: "5m", OpenTime: openTime,
		Open: c, High: c, Low: c, Close: c, Volume: 10, CloseTime: openTime + 1,
	})
	if err != nil {
		t.Fatalf("seed 5m kline: %v", err)
	}
}
