package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"cascade-trader/internal/clock"
	"cascade-trader/internal/database"
	"cascade-trader/internal/logging"
)

const (
	atrPeriod          = 14
	atrStopMultiplier  = 1.5
)

// ATREngine computes a daily Average True Range per symbol and derives
// the stop-loss distance used by the directional layer.
type ATREngine struct {
	repo  *database.Repository
	clock clock.Clock
	log   zerolog.Logger
}

func NewATREngine(repo *database.Repository, clk clock.Clock) *ATREngine {
	return &ATREngine{repo: repo, clock: clk, log: logging.Component("atr")}
}

// Run computes and stores the ATR for one symbol. With fewer than
// period+1 daily candles the tick is skipped and no row is written.
func (e *ATREngine) Run(ctx context.Context, symbol string) (*database.ATRValue, error) {
	rows, err := e.repo.RecentKlines(ctx, symbol, "1d", atrPeriod+1)
	if err != nil {
		return nil, fmt.Errorf("load daily klines: %w", err)
	}
	if len(rows) < atrPeriod+1 {
		e.log.Debug().Str("symbol", symbol).Int("rows", len(rows)).Msg("not enough daily candles")
		return nil, nil
	}

	// rows come newest-first; walk them oldest-first.
	candles := make([]database.Kline, len(rows))
	for i, k := range rows {
		candles[len(rows)-1-i] = k
	}

	var trSum float64
	for i := 1; i < len(candles); i++ {
		prev := candles[i-1]
		cur := candles[i]
		tr := math.Max(cur.High-cur.Low,
			math.Max(math.Abs(cur.High-prev.Close), math.Abs(cur.Low-prev.Close)))
		trSum += tr
	}
	atr := trSum / float64(atrPeriod)

	latestClose := candles[len(candles)-1].Close
	if latestClose <= 0 {
		return nil, nil
	}
	atrPct := atr / latestClose * 100

	value := &database.ATRValue{
		Symbol:       symbol,
		ATR:          atr,
		ATRPct:       atrPct,
		StopLossPct:  atrPct * atrStopMultiplier,
		CurrentPrice: latestClose,
		Period:       atrPeriod,
		CalculatedAt: e.clock.Now().Format(timeLayout),
	}
	if err := e.repo.InsertATR(ctx, value); err != nil {
		return nil, fmt.Errorf("store atr: %w", err)
	}

	e.log.Debug().Str("symbol", symbol).Float64("atr_pct", atrPct).Msg("atr updated")
	return value, nil
}
