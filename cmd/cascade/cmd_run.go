package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"cascade-trader/config"
	"cascade-trader/internal/ai/sentiment"
	"cascade-trader/internal/clock"
	"cascade-trader/internal/collectors"
	"cascade-trader/internal/engine"
	"cascade-trader/internal/logging"
	"cascade-trader/internal/onchain"
	"cascade-trader/internal/paper"
	"cascade-trader/internal/scheduler"
	"cascade-trader/internal/strategy"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the live pipeline (collectors, engines, paper trader)",
	RunE:  runLive,
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logging.Component("run")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, db, err := openStore(ctx, cfg, cfg.DatabaseConfig.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	clk := clock.NewSystem()
	symbols := cfg.SymbolsConfig.Symbols

	cache := collectors.NewResponseCache(cfg.RedisConfig)
	defer cache.Close()
	client := collectors.NewBinanceClient(cfg.BinanceConfig, cache)

	market := collectors.NewMarketCollector(client, repo, clk, cfg.CollectorConfig)
	fearGreed := collectors.NewFearGreedCollector(cfg.ProviderConfig.FearGreedURL, repo, clk)
	whale := collectors.NewWhaleAlertCollector(cfg.ProviderConfig.WhaleAlertAPIKey, symbols, repo, clk)
	santiment := collectors.NewSantimentCollector(cfg.ProviderConfig.SantimentAPIKey, symbols, repo, clk)
	calendar := collectors.NewMacroCalendar(cfg.ProviderConfig.MacroCalendar)

	guard := engine.NewMacroGuard(calendar, clk,
		time.Duration(cfg.MacroConfig.Tier1LeadSeconds)*time.Second,
		time.Duration(cfg.MacroConfig.Tier2LeadSeconds)*time.Second,
		time.Duration(cfg.MacroConfig.PostEventCooldown)*time.Second)

	var narrative sentiment.Analyzer = &sentiment.Neutral{}
	if cfg.SentimentConfig.Enabled && cfg.SentimentConfig.APIKey != "" {
		narrative = sentiment.NewClient(cfg.SentimentConfig, repo, clk)
	} else {
		log.Warn().Msg("narrative analysis disabled, story score stays neutral")
	}

	atrEngine := engine.NewATREngine(repo, clk)
	thresholdEngine := engine.NewThresholdEngine(repo, clk)
	gridEngine := engine.NewGridEngine(repo, clk)
	scorer := engine.NewScorer(repo, clk, onchain.NewAnalyzer(repo, clk), narrative)
	manager := strategy.NewManager(repo, clk, guard)
	trader := paper.NewTrader(repo, clk)

	// Initial pass in dependency order: the engines are useless until the
	// collectors have primed the store at least once.
	initialCollect(ctx, cfg, market, fearGreed, whale, santiment, calendar, symbols)
	forEach(ctx, symbols, "atr", func(ctx context.Context, s string) error {
		_, err := atrEngine.Run(ctx, s)
		return err
	})
	forEach(ctx, symbols, "grid", func(ctx context.Context, s string) error {
		_, err := gridEngine.Run(ctx, s)
		return err
	})

	stream := collectors.NewLiquidationStream(cfg.BinanceConfig, symbols, repo, clk)
	go stream.Run(ctx)

	sched := scheduler.New()
	sched.Add("macro_guard", time.Duration(cfg.EngineConfig.MacroGuard)*time.Second, true, func(ctx context.Context) error {
		if v := guard.Check(ctx); v.Blocked {
			log.Info().Str("event", v.EventName).Str("reason", v.Reason).
				Float64("hours_until", v.HoursUntil).Msg("macro guard blocking entries")
		}
		return nil
	})
	addCollectorJobs(sched, cfg, market, fearGreed, whale, santiment, calendar, symbols)
	addEngineJobs(sched, cfg, symbols,
		atrEngine, thresholdEngine, gridEngine, scorer, manager, trader)

	sched.Start(ctx)
	log.Info().Strs("symbols", symbols).Msg("pipeline running")
	sched.Wait()
	log.Info().Msg("pipeline stopped")
	return nil
}

func initialCollect(ctx context.Context, cfg *config.Config, market *collectors.MarketCollector,
	fearGreed *collectors.FearGreedCollector, whale *collectors.WhaleAlertCollector,
	santiment *collectors.SantimentCollector, calendar *collectors.MacroCalendar, symbols []string) {

	log := logging.Component("run")
	if err := calendar.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("initial macro refresh failed")
	}
	if err := fearGreed.Collect(ctx); err != nil {
		log.Warn().Err(err).Msg("initial fear/greed collection failed")
	}
	if err := whale.Collect(ctx); err != nil {
		log.Warn().Err(err).Msg("initial whale collection failed")
	}
	if err := santiment.Collect(ctx); err != nil {
		log.Warn().Err(err).Msg("initial onchain collection failed")
	}
	for _, symbol := range symbols {
		steps := []struct {
			name string
			fn   func() error
		}{
			{"klines_1d", func() error { return market.CollectKlines(ctx, symbol, "1d", 120) }},
			{"klines_5m", func() error { return market.CollectKlines(ctx, symbol, "5m", 288) }},
			{"open_interest", func() error { return market.CollectOpenInterest(ctx, symbol) }},
			{"funding", func() error { return market.CollectFunding(ctx, symbol) }},
			{"long_short", func() error { return market.CollectLongShort(ctx, symbol) }},
			{"orderbook", func() error { return market.CollectOrderbookWalls(ctx, symbol) }},
			{"taker", func() error { return market.CollectTakerRatio(ctx, symbol) }},
		}
		for _, step := range steps {
			if err := step.fn(); err != nil {
				log.Warn().Err(err).Str("symbol", symbol).Str("step", step.name).
					Msg("initial collection failed")
			}
		}
	}
}

func addCollectorJobs(sched *scheduler.Scheduler, cfg *config.Config, market *collectors.MarketCollector,
	fearGreed *collectors.FearGreedCollector, whale *collectors.WhaleAlertCollector,
	santiment *collectors.SantimentCollector, calendar *collectors.MacroCalendar, symbols []string) {

	cc := cfg.CollectorConfig
	interval := func(seconds int) time.Duration { return time.Duration(seconds) * time.Second }

	sched.Add("open_interest", interval(cc.OpenInterest), false, perSymbol(symbols, market.CollectOpenInterest))
	sched.Add("funding", interval(cc.Funding), false, perSymbol(symbols, market.CollectFunding))
	sched.Add("long_short", interval(cc.LongShort), false, perSymbol(symbols, market.CollectLongShort))
	sched.Add("orderbook", interval(cc.Orderbook), false, perSymbol(symbols, market.CollectOrderbookWalls))
	sched.Add("taker", interval(cc.LongShort), false, perSymbol(symbols, market.CollectTakerRatio))
	sched.Add("klines_1d", interval(cc.KlinesDaily), false, perSymbol(symbols, func(ctx context.Context, s string) error {
		return market.CollectKlines(ctx, s, "1d", 2)
	}))
	sched.Add("klines_5m", interval(cc.Klines5m), false, perSymbol(symbols, func(ctx context.Context, s string) error {
		return market.CollectKlines(ctx, s, "5m", 3)
	}))
	sched.Add("fear_greed", interval(cc.FearGreed), false, fearGreed.Collect)
	sched.Add("whale_alert", interval(cc.Onchain), false, whale.Collect)
	sched.Add("santiment", interval(cc.Onchain), false, santiment.Collect)
	sched.Add("macro_refresh", interval(cc.MacroRefresh), false, calendar.Refresh)
}

func addEngineJobs(sched *scheduler.Scheduler, cfg *config.Config, symbols []string,
	atrEngine *engine.ATREngine, thresholdEngine *engine.ThresholdEngine, gridEngine *engine.GridEngine,
	scorer *engine.Scorer, manager *strategy.Manager, trader *paper.Trader) {

	ec := cfg.EngineConfig
	interval := func(seconds int) time.Duration { return time.Duration(seconds) * time.Second }

	sched.Add("atr", interval(ec.ATR), true, perSymbol(symbols, func(ctx context.Context, s string) error {
		_, err := atrEngine.Run(ctx, s)
		return err
	}))
	sched.Add("threshold", interval(ec.Threshold), true, perSymbol(symbols, func(ctx context.Context, s string) error {
		_, err := thresholdEngine.Run(ctx, s)
		return err
	}))
	sched.Add("grid", interval(ec.Grid), true, perSymbol(symbols, func(ctx context.Context, s string) error {
		_, err := gridEngine.Run(ctx, s)
		return err
	}))
	sched.Add("score", interval(ec.Score), true, perSymbol(symbols, func(ctx context.Context, s string) error {
		_, err := scorer.Run(ctx, s)
		return err
	}))
	sched.Add("strategy", interval(ec.Strategy), true, perSymbol(symbols, func(ctx context.Context, s string) error {
		_, err := manager.Run(ctx, s)
		return err
	}))
	sched.Add("paper", interval(ec.Paper), true, perSymbol(symbols, trader.Run))
}

// perSymbol fans a per-symbol function out over all tracked symbols,
// reporting the first error after trying every symbol.
func perSymbol(symbols []string, fn func(ctx context.Context, symbol string) error) scheduler.JobFunc {
	return func(ctx context.Context) error {
		var first error
		for _, symbol := range symbols {
			if err := fn(ctx, symbol); err != nil && first == nil {
				first = err
			}
		}
		return first
	}
}

func forEach(ctx context.Context, symbols []string, name string, fn func(ctx context.Context, symbol string) error) {
	log := logging.Component("run")
	for _, symbol := range symbols {
		if err := fn(ctx, symbol); err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Str("step", name).Msg("initial engine pass failed")
		}
	}
}
