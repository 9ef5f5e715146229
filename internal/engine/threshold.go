package engine

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"cascade-trader/internal/clock"
	"cascade-trader/internal/database"
	"cascade-trader/internal/logging"
)

const (
	liqWindowMs          = 3600_000
	triggerPctOfOI       = 0.01
	liquidityCoeffFloor  = 0.1
	liquidityCoeffCeil   = 10.0
	volumeLookbackDays   = 30
)

// ThresholdEngine compares the last hour's liquidation notional against
// open interest to detect cascade conditions.
type ThresholdEngine struct {
	repo  *database.Repository
	clock clock.Clock
	log   zerolog.Logger
}

func NewThresholdEngine(repo *database.Repository, clk clock.Clock) *ThresholdEngine {
	return &ThresholdEngine{repo: repo, clock: clk, log: logging.Component("threshold")}
}

// Run evaluates the cascade trigger for one symbol. Missing OI or price
// history skips the tick.
func (e *ThresholdEngine) Run(ctx context.Context, symbol string) (*database.ThresholdSignal, error) {
	nowMs := e.clock.Unix() * 1000

	buyUSD, sellUSD, err := e.repo.LiquidationTotals(ctx, symbol, nowMs-liqWindowMs)
	if err != nil {
		return nil, fmt.Errorf("liquidation totals: %w", err)
	}
	liq1h := buyUSD + sellUSD

	oi, err := e.repo.LatestOI(ctx, symbol)
	if err != nil {
		if database.IsNoRows(err) {
			e.log.Debug().Str("symbol", symbol).Msg("no open interest yet")
			return nil, nil
		}
		return nil, fmt.Errorf("latest oi: %w", err)
	}

	price, err := e.repo.LatestClose(ctx, symbol, "1d")
	if err != nil {
		if database.IsNoRows(err) {
			e.log.Debug().Str("symbol", symbol).Msg("no daily close yet")
			return nil, nil
		}
		return nil, fmt.Errorf("latest close: %w", err)
	}

	coeff := e.liquidityCoeff(ctx, symbol)

	oiUSD := oi.OpenInterest * price
	var threshold float64
	if oiUSD > 0 {
		threshold = liq1h / oiUSD * coeff
	}

	trigger := oiUSD > 0 && liq1h > oiUSD*triggerPctOfOI

	signal := &database.ThresholdSignal{
		Symbol:         symbol,
		LiqThreshold:   threshold,
		Liq1hTotal:     liq1h,
		OIUSD:          oiUSD,
		LiquidityCoeff: coeff,
		TriggerActive:  trigger,
		CalculatedAt:   e.clock.Now().Format(timeLayout),
	}
	if trigger {
		// BUY liquidations are shorts being squeezed out.
		dir := database.CascadeLong
		if buyUSD > sellUSD {
			dir = database.CascadeShort
		}
		signal.Direction = sql.NullString{String: dir, Valid: true}
	}

	if err := e.repo.InsertThresholdSignal(ctx, signal); err != nil {
		return nil, fmt.Errorf("store threshold: %w", err)
	}

	if trigger {
		e.log.Info().Str("symbol", symbol).Str("direction", signal.Direction.String).
			Float64("liq_1h", liq1h).Msg("cascade trigger active")
	}
	return signal, nil
}

// liquidityCoeff scales the threshold by current volume relative to the
// 30-day average, clamped to [0.1, 10]. Defaults to 1 without history.
func (e *ThresholdEngine) liquidityCoeff(ctx context.Context, symbol string) float64 {
	vols, err := e.repo.DailyVolumes(ctx, symbol, volumeLookbackDays)
	if err != nil || len(vols) == 0 {
		return 1.0
	}

	var sum float64
	for _, v := range vols {
		sum += v
	}
	avg := sum / float64(len(vols))
	if avg <= 0 {
		return 1.0
	}

	coeff := vols[0] / avg
	if coeff < liquidityCoeffFloor {
		return liquidityCoeffFloor
	}
	if coeff > liquidityCoeffCeil {
		return liquidityCoeffCeil
	}
	return coeff
}
