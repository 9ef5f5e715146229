package backtest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"cascade-trader/internal/database"
	"cascade-trader/internal/logging"
)

// feedEvent is one row waiting to become visible, with the instant it
// would have been observed live.
type feedEvent struct {
	availAt int64 // epoch seconds
	insert  func(ctx context.Context) error
}

// Feeder drip-feeds historical rows into the database as virtual time
// advances. At setup it drains the time-sensitive tables into memory;
// daily klines stay in place because the engines need the full warm-up
// history from the first tick.
type Feeder struct {
	repo   *database.Repository
	events []feedEvent
	next   int
	log    zerolog.Logger
}

func NewFeeder(repo *database.Repository) *Feeder {
	return &Feeder{repo: repo, log: logging.Component("backtest_feeder")}
}

// Load drains the drip tables for the given symbols into memory.
func (f *Feeder) Load(ctx context.Context, symbols []string) error {
	for _, symbol := range symbols {
		if err := f.loadSymbol(ctx, symbol); err != nil {
			return fmt.Errorf("load %s: %w", symbol, err)
		}
	}

	fgs, err := f.repo.DrainFearGreed(ctx)
	if err != nil {
		return fmt.Errorf("drain fear/greed: %w", err)
	}
	for _, row := range fgs {
		row := row
		f.add(row.FGTimestamp, func(ctx context.Context) error {
			return f.repo.InsertFearGreed(ctx, &row)
		})
	}

	sort.SliceStable(f.events, func(i, j int) bool { return f.events[i].availAt < f.events[j].availAt })
	f.log.Info().Int("events", len(f.events)).Msg("feed loaded")
	return nil
}

func (f *Feeder) loadSymbol(ctx context.Context, symbol string) error {
	liqs, err := f.repo.DrainLiquidations(ctx, symbol)
	if err != nil {
		return fmt.Errorf("drain liquidations: %w", err)
	}
	for _, row := range liqs {
		row := row
		f.add(row.TradeTime/1000, func(ctx context.Context) error {
			return f.repo.InsertLiquidation(ctx, &row)
		})
	}

	ois, err := f.repo.DrainOISnapshots(ctx, symbol)
	if err != nil {
		return fmt.Errorf("drain oi: %w", err)
	}
	for _, row := range ois {
		row := row
		f.add(timestampToUnix(row.CollectedAt), func(ctx context.Context) error {
			return f.repo.InsertOISnapshot(ctx, &row)
		})
	}

	fundings, err := f.repo.DrainFundingRates(ctx, symbol)
	if err != nil {
		return fmt.Errorf("drain funding: %w", err)
	}
	for _, row := range fundings {
		row := row
		f.add(timestampToUnix(row.CollectedAt), func(ctx context.Context) error {
			return f.repo.InsertFundingRate(ctx, &row)
		})
	}

	ratios, err := f.repo.DrainLongShortRatios(ctx, symbol)
	if err != nil {
		return fmt.Errorf("drain long/short: %w", err)
	}
	for _, row := range ratios {
		row := row
		f.add(timestampToUnix(row.CollectedAt), func(ctx context.Context) error {
			return f.repo.InsertLongShortRatio(ctx, &row)
		})
	}

	takers, err := f.repo.DrainTakerRatios(ctx, symbol)
	if err != nil {
		return fmt.Errorf("drain taker: %w", err)
	}
	for _, row := range takers {
		row := row
		f.add(row.Timestamp/1000, func(ctx context.Context) error {
			return f.repo.UpsertTakerRatio(ctx, &row)
		})
	}

	// A candle becomes visible when it closes.
	klines, err := f.repo.DrainKlines(ctx, symbol, "5m")
	if err != nil {
		return fmt.Errorf("drain 5m klines: %w", err)
	}
	for _, row := range klines {
		row := row
		f.add((row.CloseTime+1)/1000, func(ctx context.Context) error {
			return f.repo.InsertKlineIgnore(ctx, &row)
		})
	}
	return nil
}

func (f *Feeder) add(availAt int64, insert func(ctx context.Context) error) {
	f.events = append(f.events, feedEvent{availAt: availAt, insert: insert})
}

// FeedTo re-inserts every event that would have arrived by t.
func (f *Feeder) FeedTo(ctx context.Context, t time.Time) error {
	cutoff := t.Unix()
	for f.next < len(f.events) && f.events[f.next].availAt <= cutoff {
		if err := f.events[f.next].insert(ctx); err != nil {
			return fmt.Errorf("feed event at %d: %w", f.events[f.next].availAt, err)
		}
		f.next++
	}
	return nil
}

// Remaining reports how many events have not been fed yet.
func (f *Feeder) Remaining() int {
	return len(f.events) - f.next
}

func timestampToUnix(ts string) int64 {
	t, err := time.Parse("2006-01-02T15:04:05Z07:00", ts)
	if err != nil {
		return 0
	}
	return t.Unix()
}
