// Command cascade runs the liquidation-cascade decision engine: a live
// data pipeline with a three-layer paper-trading strategy, plus a
// backtest harness that replays the same engines over history.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"cascade-trader/config"
	"cascade-trader/internal/database"
	"cascade-trader/internal/logging"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "cascade",
	Short: "Liquidation-cascade trading decision engine",
	Long: `cascade collects futures market data, scores liquidation-cascade
setups and paper-trades a three-layer strategy (funding capture, cascade
breakouts, grid scalping). The backtest subcommand replays the identical
engines over downloaded history on a virtual clock.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to JSON config file (env vars override)")
	rootCmd.AddCommand(runCmd, backtestCmd, statusCmd, reportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration and initializes logging.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logging.Setup(cfg.LoggingConfig)
	return cfg, nil
}

// openStore opens the SQLite store at path and applies migrations.
func openStore(ctx context.Context, cfg *config.Config, path string) (*database.Repository, *database.DB, error) {
	db, err := database.NewDB(database.Config{Path: path, BusyTimeout: cfg.DatabaseConfig.BusyTimeout})
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.RunMigrations(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrations: %w", err)
	}
	return database.NewRepository(db), db, nil
}
