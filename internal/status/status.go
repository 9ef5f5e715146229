// Package status renders read-only views over the store: per-symbol
// pipeline state for the status command and paper performance for the
// report command. Nothing here writes.
package status

import (
	"context"
	"fmt"
	"math"
	"strings"

	"cascade-trader/internal/clock"
	"cascade-trader/internal/database"
	"cascade-trader/internal/paper"
)

type Reporter struct {
	repo *database.Repository
	clk  clock.Clock
}

func NewReporter(repo *database.Repository, clk clock.Clock) *Reporter {
	return &Reporter{repo: repo, clk: clk}
}

// SymbolStatus is one symbol's pipeline snapshot.
type SymbolStatus struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price,omitempty"`

	State            string  `json:"state"`
	L1Active         bool    `json:"l1_active"`
	L2Active         bool    `json:"l2_active"`
	L2Step           int     `json:"l2_step,omitempty"`
	L2Direction      string  `json:"l2_direction,omitempty"`
	L2EntryPct       float64 `json:"l2_entry_pct,omitempty"`
	L2AvgEntryPrice  float64 `json:"l2_avg_entry_price,omitempty"`
	DirectionChanges int     `json:"direction_changes_today"`
	L4Active         bool    `json:"l4_active"`
	MacroBlocked     bool    `json:"macro_blocked"`
	MacroBlockReason string  `json:"macro_block_reason,omitempty"`
	UpdatedAt        string  `json:"updated_at,omitempty"`

	ATR       *ATRView       `json:"atr,omitempty"`
	Threshold *ThresholdView `json:"threshold,omitempty"`
	Grid      *GridView      `json:"grid,omitempty"`
	Score     *ScoreView     `json:"score,omitempty"`
}

type ATRView struct {
	ATR         float64 `json:"atr"`
	ATRPct      float64 `json:"atr_pct"`
	StopLossPct float64 `json:"stop_loss_pct"`
	At          string  `json:"calculated_at"`
}

type ThresholdView struct {
	Active    bool    `json:"active"`
	Direction string  `json:"direction,omitempty"`
	Liq1h     float64 `json:"liq_1h_usd"`
	Threshold float64 `json:"threshold_usd"`
	At        string  `json:"calculated_at"`
}

type GridView struct {
	Lower  float64 `json:"lower"`
	Upper  float64 `json:"upper"`
	Count  int     `json:"count"`
	Source string  `json:"source"`
	At     string  `json:"calculated_at"`
}

type ScoreView struct {
	Total     float64 `json:"total"`
	Momentum  float64 `json:"momentum"`
	Sentiment float64 `json:"sentiment"`
	Story     float64 `json:"story"`
	Value     float64 `json:"value"`
	Direction string  `json:"direction"`
	At        string  `json:"calculated_at"`
}

type SignalView struct {
	ID        int64  `json:"id"`
	Symbol    string `json:"symbol"`
	Type      string `json:"type"`
	Direction string `json:"direction"`
	Details   string `json:"details,omitempty"`
	At        string `json:"created_at"`
}

// Overview is the full status payload.
type Overview struct {
	GeneratedAt string           `json:"generated_at"`
	Symbols     []SymbolStatus   `json:"symbols"`
	Signals     []SignalView     `json:"recent_signals,omitempty"`
	TableCounts map[string]int64 `json:"table_counts,omitempty"`
}

func (r *Reporter) Overview(ctx context.Context, symbols []string) (*Overview, error) {
	out := &Overview{GeneratedAt: r.clk.Now().UTC().Format("2006-01-02T15:04:05Z07:00")}

	for _, symbol := range symbols {
		st, err := r.symbolStatus(ctx, symbol)
		if err != nil {
			return nil, fmt.Errorf("status %s: %w", symbol, err)
		}
		out.Symbols = append(out.Symbols, *st)
	}

	signals, err := r.repo.RecentSignals(ctx, 10)
	if err != nil {
		return nil, fmt.Errorf("recent signals: %w", err)
	}
	for _, s := range signals {
		out.Signals = append(out.Signals, SignalView{
			ID: s.ID, Symbol: s.Symbol, Type: s.SignalType,
			Direction: s.Direction, Details: s.Details.String, At: s.CreatedAt,
		})
	}

	counts, err := r.repo.TableCounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("table counts: %w", err)
	}
	out.TableCounts = counts
	return out, nil
}

func (r *Reporter) symbolStatus(ctx context.Context, symbol string) (*SymbolStatus, error) {
	st := &SymbolStatus{Symbol: symbol, State: "A"}

	if price, err := r.repo.LatestClose(ctx, symbol, "5m"); err == nil {
		st.Price = price
	} else if price, err := r.repo.LatestClose(ctx, symbol, "1d"); err == nil {
		st.Price = price
	}

	state, err := r.repo.LatestStrategyState(ctx, symbol)
	switch {
	case err == nil:
		st.State = state.State
		st.L1Active = state.L1Active
		st.L2Active = state.L2Active
		st.L2Step = state.L2Step
		st.L2Direction = state.L2Direction.String
		st.L2EntryPct = state.L2EntryPct
		st.L2AvgEntryPrice = state.L2AvgEntryPrice.Float64
		st.DirectionChanges = state.L2DirectionChangesToday
		st.L4Active = state.L4Active
		st.MacroBlocked = state.MacroBlocked
		st.MacroBlockReason = state.MacroBlockReason.String
		st.UpdatedAt = state.UpdatedAt
	case database.IsNoRows(err):
		// Symbol has not been evaluated yet.
	default:
		return nil, err
	}

	if atr, err := r.repo.LatestATR(ctx, symbol); err == nil {
		st.ATR = &ATRView{ATR: atr.ATR, ATRPct: atr.ATRPct, StopLossPct: atr.StopLossPct, At: atr.CalculatedAt}
	}
	if th, err := r.repo.LatestThresholdSignal(ctx, symbol); err == nil {
		st.Threshold = &ThresholdView{
			Active: th.TriggerActive, Direction: th.Direction.String,
			Liq1h: th.Liq1hTotal, Threshold: th.LiqThreshold, At: th.CalculatedAt,
		}
	}
	if grid, err := r.repo.LatestGridConfig(ctx, symbol); err == nil {
		st.Grid = &GridView{
			Lower: grid.LowerBound, Upper: grid.UpperBound,
			Count: grid.GridCount, Source: grid.Source, At: grid.CalculatedAt,
		}
	}
	if score, err := r.repo.LatestSSMScore(ctx, symbol); err == nil {
		st.Score = &ScoreView{
			Total: score.TotalScore, Momentum: score.MomentumScore,
			Sentiment: score.SentimentScore, Story: score.StoryScore,
			Value: score.ValueScore, Direction: score.Direction, At: score.CalculatedAt,
		}
	}
	return st, nil
}

// PerformanceView extends the paper rollup with the floating PnL of the
// open position, if any.
type PerformanceView struct {
	paper.LayerPerformance
	L2FloatingPnl float64 `json:"l2_floating_pnl,omitempty"`
}

func (r *Reporter) Performance(ctx context.Context, symbols []string) ([]PerformanceView, error) {
	trader := paper.NewTrader(r.repo, r.clk)

	out := make([]PerformanceView, 0, len(symbols))
	for _, symbol := range symbols {
		perf, err := trader.Performance(ctx, symbol)
		if err != nil {
			return nil, fmt.Errorf("performance %s: %w", symbol, err)
		}
		view := PerformanceView{LayerPerformance: *perf}
		if perf.L2OpenSide != "" {
			view.L2FloatingPnl = r.floatingPnl(ctx, symbol)
		}
		out = append(out, view)
	}
	return out, nil
}

func (r *Reporter) floatingPnl(ctx context.Context, symbol string) float64 {
	open, err := r.repo.OpenPaperTrade(ctx, symbol)
	if err != nil || open == nil || open.EntryPrice <= 0 {
		return 0
	}
	price, err := r.repo.LatestClose(ctx, symbol, "5m")
	if err != nil {
		price, err = r.repo.LatestClose(ctx, symbol, "1d")
		if err != nil {
			return 0
		}
	}
	pnl := (price - open.EntryPrice) / open.EntryPrice * 100
	if open.Direction == "SHORT" {
		pnl = -pnl
	}
	return math.Round(pnl*open.EntryPct*100) / 100
}

// Text renders the overview for terminal output.
func (o *Overview) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Status at %s\n\n", o.GeneratedAt)

	for _, s := range o.Symbols {
		fmt.Fprintf(&b, "%s  state=%s  price=%.2f\n", s.Symbol, s.State, s.Price)
		fmt.Fprintf(&b, "  L1=%v L2=%v", s.L1Active, s.L2Active)
		if s.L2Active {
			fmt.Fprintf(&b, " (%s step %d, %.0f%% in, avg %.2f)",
				s.L2Direction, s.L2Step, s.L2EntryPct*100, s.L2AvgEntryPrice)
		}
		fmt.Fprintf(&b, " L4=%v changes=%d\n", s.L4Active, s.DirectionChanges)
		if s.MacroBlocked {
			fmt.Fprintf(&b, "  macro blocked: %s\n", s.MacroBlockReason)
		}
		if s.ATR != nil {
			fmt.Fprintf(&b, "  atr=%.2f (%.2f%%) stop=%.2f%%\n", s.ATR.ATR, s.ATR.ATRPct, s.ATR.StopLossPct)
		}
		if s.Threshold != nil {
			fmt.Fprintf(&b, "  cascade trigger=%v dir=%s liq1h=$%.0f vs $%.0f\n",
				s.Threshold.Active, s.Threshold.Direction, s.Threshold.Liq1h, s.Threshold.Threshold)
		}
		if s.Grid != nil {
			fmt.Fprintf(&b, "  grid %.2f-%.2f x%d (%s)\n", s.Grid.Lower, s.Grid.Upper, s.Grid.Count, s.Grid.Source)
		}
		if s.Score != nil {
			fmt.Fprintf(&b, "  score %.1f (m%.1f s%.1f st%.1f v%.1f) %s\n",
				s.Score.Total, s.Score.Momentum, s.Score.Sentiment, s.Score.Story, s.Score.Value, s.Score.Direction)
		}
		b.WriteByte('\n')
	}

	if len(o.Signals) > 0 {
		b.WriteString("Recent signals:\n")
		for _, sig := range o.Signals {
			fmt.Fprintf(&b, "  #%d %s %s %s %s\n", sig.ID, sig.At, sig.Symbol, sig.Type, sig.Direction)
		}
	}
	return b.String()
}

// Text renders one symbol's performance rollup.
func (v *PerformanceView) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  total %+.2f%%\n", v.Symbol, v.TotalPnlPct)
	fmt.Fprintf(&b, "  L1: %d collections, %+.2f%%, %d conflicts\n", v.L1Collections, v.L1PnlPct, v.L1Conflicts)
	fmt.Fprintf(&b, "  L2: %d trades (%dW/%dL), %+.2f%%, best %+.2f%%, worst %+.2f%%\n",
		v.L2Trades, v.L2Wins, v.L2Losses, v.L2PnlPct, v.L2Best, v.L2Worst)
	if v.L2OpenSide != "" {
		fmt.Fprintf(&b, "  L2 open: %s, floating %+.2f%%\n", v.L2OpenSide, v.L2FloatingPnl)
	}
	fmt.Fprintf(&b, "  L4: %d fills (%d sells), %+.2f%%\n", v.L4Fills, v.L4Sells, v.L4PnlPct)
	return b.String()
}
