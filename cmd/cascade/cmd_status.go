package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"cascade-trader/internal/clock"
	"cascade-trader/internal/status"
)

var (
	statusJSON bool
	reportJSON bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current pipeline state per symbol",
	RunE:  runStatus,
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show paper-trading performance per symbol",
	RunE:  runReport,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "JSON output")
	reportCmd.Flags().BoolVar(&reportJSON, "json", false, "JSON output")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	repo, db, err := openStore(cmd.Context(), cfg, cfg.DatabaseConfig.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	reporter := status.NewReporter(repo, clock.NewSystem())
	overview, err := reporter.Overview(cmd.Context(), cfg.SymbolsConfig.Symbols)
	if err != nil {
		return err
	}

	if statusJSON {
		return printJSON(overview)
	}
	fmt.Print(overview.Text())
	return nil
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	repo, db, err := openStore(cmd.Context(), cfg, cfg.DatabaseConfig.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	reporter := status.NewReporter(repo, clock.NewSystem())
	views, err := reporter.Performance(cmd.Context(), cfg.SymbolsConfig.Symbols)
	if err != nil {
		return err
	}

	if reportJSON {
		return printJSON(views)
	}
	for i := range views {
		fmt.Print(views[i].Text())
	}
	return nil
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
