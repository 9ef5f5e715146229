package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"cascade-trader/internal/backtest"
	"cascade-trader/internal/collectors"
	"cascade-trader/internal/logging"
)

var (
	backtestDays     int
	backtestSymbols  []string
	backtestDownload bool
	backtestSkipDL   bool
	backtestCSV      bool
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Replay history through the live engines on a virtual clock",
	Long: `backtest downloads historical klines, funding and futures statistics
into a separate database, synthesizes liquidation events from open-interest
contractions, then drip-feeds everything to the live engines step by step.
No row is visible before the instant it would have arrived live.`,
	RunE: runBacktest,
}

func init() {
	backtestCmd.Flags().IntVar(&backtestDays, "days", 0, "test window in days (default from config)")
	backtestCmd.Flags().StringSliceVar(&backtestSymbols, "symbol", nil, "symbols to test (default from config)")
	backtestCmd.Flags().BoolVar(&backtestDownload, "download-only", false, "download history and exit")
	backtestCmd.Flags().BoolVar(&backtestSkipDL, "skip-download", false, "reuse already-downloaded history")
	backtestCmd.Flags().BoolVar(&backtestCSV, "csv", false, "write equity and summary CSVs")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logging.Component("backtest_cmd")

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	days := backtestDays
	if days <= 0 {
		days = cfg.BacktestConfig.Days
	}
	symbols := backtestSymbols
	if len(symbols) == 0 {
		symbols = cfg.SymbolsConfig.Symbols
	}

	end := time.Now().UTC().Truncate(time.Minute)
	start := end.AddDate(0, 0, -days)

	// A fresh download starts from an empty store; the drip feeder
	// consumes its tables, so a previous run's leftovers are useless.
	if !backtestSkipDL {
		for _, suffix := range []string{"", "-wal", "-shm"} {
			os.Remove(cfg.DatabaseConfig.BacktestPath + suffix)
		}
	}

	repo, db, err := openStore(ctx, cfg, cfg.DatabaseConfig.BacktestPath)
	if err != nil {
		return err
	}
	defer db.Close()

	if !backtestSkipDL {
		client := collectors.NewBinanceClient(cfg.BinanceConfig, nil)
		downloader := backtest.NewDownloader(client, repo, cfg.BacktestConfig, cfg.ProviderConfig.FearGreedURL)

		for _, symbol := range symbols {
			if err := downloader.Download(ctx, symbol, start, end); err != nil {
				return fmt.Errorf("download %s: %w", symbol, err)
			}
			created, err := backtest.SynthesizeLiquidations(ctx, repo, symbol)
			if err != nil {
				return fmt.Errorf("synthesize %s: %w", symbol, err)
			}
			log.Info().Str("symbol", symbol).Int("events", created).Msg("liquidations synthesized")
		}
		if err := downloader.DownloadShared(ctx, days); err != nil {
			return err
		}
	}
	if backtestDownload {
		log.Info().Msg("download complete")
		return nil
	}

	runner := backtest.NewRunner(repo, symbols, *cfg)
	result, err := runner.Run(ctx, start, end)
	if err != nil {
		return err
	}

	rep := backtest.BuildReport(result)
	fmt.Print(rep.Text())
	for _, symbol := range symbols {
		if perf := result.Performance[symbol]; perf != nil {
			fmt.Printf("%s  L1 %+.2f%%  L2 %+.2f%% (%d trades)  L4 %+.2f%% (%d fills)  total %+.2f%%\n",
				symbol, perf.L1PnlPct, perf.L2PnlPct, perf.L2Trades,
				perf.L4PnlPct, perf.L4Fills, perf.TotalPnlPct)
		}
	}

	if backtestCSV {
		if err := backtest.WriteCSV(cfg.BacktestConfig.CSVDir, result, rep); err != nil {
			return err
		}
		log.Info().Str("dir", cfg.BacktestConfig.CSVDir).Msg("csv written")
	}
	return nil
}
