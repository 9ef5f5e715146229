package backtest

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Report summarizes a finished run.
type Report struct {
	RunID        string
	FinalEquity  float64
	SharpeRatio  float64
	MaxDrawdown  float64
	Monthly      []MonthlyReturn
	DailyReturns []float64
}

// MonthlyReturn is the equity change over one calendar month.
type MonthlyReturn struct {
	Month  string // YYYY-MM
	Return float64
}

// BuildReport computes the performance statistics for a run. Equity is
// cumulative realized PnL in percent points, so returns are simple
// differences rather than ratios.
func BuildReport(result *Result) *Report {
	rep := &Report{RunID: result.RunID}
	curve := result.EquityCurve
	if len(curve) == 0 {
		return rep
	}
	rep.FinalEquity = curve[len(curve)-1].Equity

	for i := 1; i < len(curve); i++ {
		rep.DailyReturns = append(rep.DailyReturns, curve[i].Equity-curve[i-1].Equity)
	}
	rep.SharpeRatio = sharpe(rep.DailyReturns)
	rep.MaxDrawdown = maxDrawdown(curve)
	rep.Monthly = monthlyReturns(curve)
	return rep
}

// sharpe annualizes the mean/stddev of daily returns. Crypto trades
// every day, so the annualization factor is sqrt(365).
func sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	if variance == 0 {
		return 0
	}
	return mean / math.Sqrt(variance) * math.Sqrt(365)
}

// maxDrawdown is the largest peak-to-trough fall of the curve, in the
// same percent-point units as equity.
func maxDrawdown(curve []EquityPoint) float64 {
	peak := curve[0].Equity
	worst := 0.0
	for _, p := range curve[1:] {
		if p.Equity > peak {
			peak = p.Equity
		}
		if dd := peak - p.Equity; dd > worst {
			worst = dd
		}
	}
	return round2(worst)
}

func monthlyReturns(curve []EquityPoint) []MonthlyReturn {
	// Last equity seen in each month, keyed YYYY-MM.
	lastOf := make(map[string]float64)
	var order []string
	for _, p := range curve {
		if len(p.Date) < 7 {
			continue
		}
		month := p.Date[:7]
		if _, seen := lastOf[month]; !seen {
			order = append(order, month)
		}
		lastOf[month] = p.Equity
	}
	sort.Strings(order)

	out := make([]MonthlyReturn, 0, len(order))
	prev := 0.0
	for _, month := range order {
		out = append(out, MonthlyReturn{Month: month, Return: round2(lastOf[month] - prev)})
		prev = lastOf[month]
	}
	return out
}

// WriteCSV writes the equity curve and per-symbol layer breakdown next
// to each other so the run can be inspected in a spreadsheet.
func WriteCSV(dir string, result *Result, rep *Report) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	if err := writeEquityCSV(filepath.Join(dir, fmt.Sprintf("equity_%s.csv", result.RunID)), result); err != nil {
		return err
	}
	return writeSummaryCSV(filepath.Join(dir, fmt.Sprintf("summary_%s.csv", result.RunID)), result, rep)
}

func writeEquityCSV(path string, result *Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"date", "equity_pct"}); err != nil {
		return err
	}
	for _, p := range result.EquityCurve {
		if err := w.Write([]string{p.Date, formatFloat(p.Equity)}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeSummaryCSV(path string, result *Result, rep *Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{"symbol", "l1_pnl_pct", "l2_pnl_pct", "l2_trades", "l4_pnl_pct", "l4_fills", "total_pnl_pct"}
	if err := w.Write(header); err != nil {
		return err
	}

	symbols := make([]string, 0, len(result.Performance))
	for s := range result.Performance {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	for _, s := range symbols {
		perf := result.Performance[s]
		row := []string{
			s,
			formatFloat(perf.L1PnlPct),
			formatFloat(perf.L2PnlPct),
			strconv.FormatInt(perf.L2Trades, 10),
			formatFloat(perf.L4PnlPct),
			strconv.FormatInt(perf.L4Fills, 10),
			formatFloat(perf.TotalPnlPct),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// Text renders the report for terminal output.
func (rep *Report) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s\n", rep.RunID)
	fmt.Fprintf(&b, "Final equity:  %+.2f%%\n", rep.FinalEquity)
	fmt.Fprintf(&b, "Sharpe ratio:  %.2f\n", rep.SharpeRatio)
	fmt.Fprintf(&b, "Max drawdown:  %.2f%%\n", rep.MaxDrawdown)
	if len(rep.Monthly) > 0 {
		b.WriteString("Monthly returns:\n")
		for _, m := range rep.Monthly {
			fmt.Fprintf(&b, "  %s  %+.2f%%\n", m.Month, m.Return)
		}
	}
	return b.String()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
