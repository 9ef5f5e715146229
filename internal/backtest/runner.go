package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"cascade-trader/internal/ai/sentiment"
	"cascade-trader/internal/clock"
	"cascade-trader/internal/collectors"
	"cascade-trader/config"
	"cascade-trader/internal/database"
	"cascade-trader/internal/engine"
	"cascade-trader/internal/logging"
	"cascade-trader/internal/onchain"
	"cascade-trader/internal/paper"
	"cascade-trader/internal/strategy"
)

// EquityPoint is one daily snapshot of realized PnL across all symbols.
type EquityPoint struct {
	Date   string
	Equity float64
}

// Result is the outcome of one backtest run.
type Result struct {
	RunID       string
	Symbols     []string
	Start       time.Time
	End         time.Time
	Steps       int
	EquityCurve []EquityPoint
	Performance map[string]*paper.LayerPerformance
}

// Runner drives the live engines over drip-fed history on a virtual
// clock. The engines, strategy machine and paper trader are the exact
// live implementations; narrative analysis is replaced by the neutral
// stub because LLM calls cannot be replayed.
type Runner struct {
	repo    *database.Repository
	symbols []string
	cfg     config.Config
	log     zerolog.Logger
}

func NewRunner(repo *database.Repository, symbols []string, cfg config.Config) *Runner {
	return &Runner{repo: repo, symbols: symbols, cfg: cfg, log: logging.Component("backtest")}
}

// Run replays [start, end) in virtual steps.
func (r *Runner) Run(ctx context.Context, start, end time.Time) (*Result, error) {
	clk := clock.NewVirtual(start)
	step := time.Duration(r.cfg.BacktestConfig.StepSize) * time.Second
	if step <= 0 {
		step = 5 * time.Minute
	}
	commitEvery := r.cfg.BacktestConfig.CommitEvery
	if commitEvery <= 0 {
		commitEvery = 200
	}

	feeder := NewFeeder(r.repo)
	if err := feeder.Load(ctx, r.symbols); err != nil {
		return nil, fmt.Errorf("load feed: %w", err)
	}

	guard := engine.NewMacroGuard(collectors.EmptyCalendar{}, clk,
		time.Duration(r.cfg.MacroConfig.Tier1LeadSeconds)*time.Second,
		time.Duration(r.cfg.MacroConfig.Tier2LeadSeconds)*time.Second,
		time.Duration(r.cfg.MacroConfig.PostEventCooldown)*time.Second)

	atrEngine := engine.NewATREngine(r.repo, clk)
	thresholdEngine := engine.NewThresholdEngine(r.repo, clk)
	gridEngine := engine.NewGridEngine(r.repo, clk)
	scorer := engine.NewScorer(r.repo, clk, onchain.NewAnalyzer(r.repo, clk), &sentiment.Neutral{})
	manager := strategy.NewManager(r.repo, clk, guard)
	trader := paper.NewTrader(r.repo, clk)

	cadences := newCadenceSet(r.cfg.EngineConfig)

	result := &Result{
		RunID:       uuid.NewString(),
		Symbols:     r.symbols,
		Start:       start,
		End:         end,
		Performance: make(map[string]*paper.LayerPerformance, len(r.symbols)),
	}
	r.log.Info().Str("run_id", result.RunID).Time("start", start).Time("end", end).
		Strs("symbols", r.symbols).Msg("backtest started")

	if err := r.repo.Begin(ctx); err != nil {
		return nil, fmt.Errorf("begin batch: %w", err)
	}
	lastDate := clk.Today()

	for clk.Now().Before(end) {
		if err := ctx.Err(); err != nil {
			r.repo.Commit(ctx)
			return nil, err
		}

		if err := feeder.FeedTo(ctx, clk.Now()); err != nil {
			r.repo.Commit(ctx)
			return nil, fmt.Errorf("step %d: %w", result.Steps, err)
		}

		now := clk.Unix()
		for _, symbol := range r.symbols {
			if cadences.due("atr", now) {
				r.runEngine(ctx, symbol, "atr", func() error {
					_, err := atrEngine.Run(ctx, symbol)
					return err
				})
			}
			if cadences.due("threshold", now) {
				r.runEngine(ctx, symbol, "threshold", func() error {
					_, err := thresholdEngine.Run(ctx, symbol)
					return err
				})
			}
			if cadences.due("grid", now) {
				r.runEngine(ctx, symbol, "grid", func() error {
					_, err := gridEngine.Run(ctx, symbol)
					return err
				})
			}
			if cadences.due("score", now) {
				r.runEngine(ctx, symbol, "score", func() error {
					_, err := scorer.Run(ctx, symbol)
					return err
				})
			}
			if cadences.due("strategy", now) {
				r.runEngine(ctx, symbol, "strategy", func() error {
					_, err := manager.Run(ctx, symbol)
					return err
				})
			}
			if cadences.due("paper", now) {
				r.runEngine(ctx, symbol, "paper", func() error {
					return trader.Run(ctx, symbol)
				})
			}
		}
		cadences.mark(now)

		clk.Advance(step)
		result.Steps++

		if today := clk.Today(); today != lastDate {
			equity, err := r.totalEquity(ctx, trader)
			if err == nil {
				result.EquityCurve = append(result.EquityCurve, EquityPoint{Date: lastDate, Equity: equity})
			}
			lastDate = today
		}

		if result.Steps%commitEvery == 0 {
			if err := r.repo.Commit(ctx); err != nil {
				return nil, fmt.Errorf("commit batch: %w", err)
			}
			if err := r.repo.Begin(ctx); err != nil {
				return nil, fmt.Errorf("begin batch: %w", err)
			}
			r.log.Info().Int("steps", result.Steps).Int("pending_events", feeder.Remaining()).
				Str("date", lastDate).Msg("backtest progress")
		}
	}

	if err := r.repo.Commit(ctx); err != nil {
		return nil, fmt.Errorf("final commit: %w", err)
	}

	// Close the curve with the final state.
	if equity, err := r.totalEquity(ctx, trader); err == nil {
		result.EquityCurve = append(result.EquityCurve, EquityPoint{Date: lastDate, Equity: equity})
	}
	for _, symbol := range r.symbols {
		perf, err := trader.Performance(ctx, symbol)
		if err != nil {
			return nil, fmt.Errorf("performance %s: %w", symbol, err)
		}
		result.Performance[symbol] = perf
	}

	r.log.Info().Str("run_id", result.RunID).Int("steps", result.Steps).Msg("backtest finished")
	return result, nil
}

// runEngine contains a single engine tick: an engine failing on sparse
// historical data must not kill the whole run.
func (r *Runner) runEngine(ctx context.Context, symbol, name string, fn func() error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Str("engine", name).Str("symbol", symbol).
				Interface("panic", rec).Msg("engine panicked")
		}
	}()
	if err := fn(); err != nil {
		r.log.Warn().Err(err).Str("engine", name).Str("symbol", symbol).Msg("engine tick failed")
	}
}

func (r *Runner) totalEquity(ctx context.Context, trader *paper.Trader) (float64, error) {
	var total float64
	for _, symbol := range r.symbols {
		eq, err := trader.Equity(ctx, symbol)
		if err != nil {
			return 0, err
		}
		total += eq
	}
	return total, nil
}

// cadenceSet tracks when each engine last ran against virtual time.
type cadenceSet struct {
	intervals map[string]int64
	lastRun   map[string]int64
	pending   map[string]bool
}

func newCadenceSet(cfg config.EngineConfig) *cadenceSet {
	return &cadenceSet{
		intervals: map[string]int64{
			"atr":       int64(cfg.ATR),
			"threshold": int64(cfg.Threshold),
			"grid":      int64(cfg.Grid),
			"score":     int64(cfg.Score),
			"strategy":  int64(cfg.Strategy),
			"paper":     int64(cfg.Paper),
		},
		lastRun: make(map[string]int64),
		pending: make(map[string]bool),
	}
}

// due reports whether the engine's interval has elapsed at virtual time
// now. The first call for each engine is always due.
func (c *cadenceSet) due(name string, now int64) bool {
	last, ran := c.lastRun[name]
	if ran && now-last < c.intervals[name] {
		return false
	}
	c.pending[name] = true
	return true
}

// mark records the engines that ran this step.
func (c *cadenceSet) mark(now int64) {
	for name := range c.pending {
		c.lastRun[name] = now
		delete(c.pending, name)
	}
}
