// Package strategy runs the per-symbol three-layer state machine:
// L1 delta-neutral funding capture, L2 directional scaling and L4 grid
// market-making. It reads engine outputs, appends signals to the signal
// log and versions its state as append-only history.
package strategy

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"cascade-trader/internal/clock"
	"cascade-trader/internal/database"
	"cascade-trader/internal/engine"
	"cascade-trader/internal/logging"
)

const (
	l1FundingEntry = 0.0005
	l1LongEntry    = 0.65
	l1FundingExit  = 0.0001
	l1LongNeutral  = 0.05 // |long - 0.5| below this means positioning normalized

	l2MaxDirectionChanges = 2
	l2Step1Pct            = 0.30
	l2Step2Pct            = 0.30
	l2Step3Pct            = 0.40
	l2Step2Delay          = 15 * time.Minute
	l2Step3Delay          = 30 * time.Minute

	boxPriceTolerance   = 0.02
	boxLiqCountMin      = 10
	oiRecoveryThreshold = 0.80

	fallbackStopPct = 0.05 // flat 5% stop when no volatility estimate exists
)

const timeLayout = "2006-01-02T15:04:05Z07:00"

// Manager drives the state machine for all symbols.
type Manager struct {
	repo  *database.Repository
	clock clock.Clock
	guard *engine.MacroGuard
	log   zerolog.Logger
}

func NewManager(repo *database.Repository, clk clock.Clock, guard *engine.MacroGuard) *Manager {
	return &Manager{repo: repo, clock: clk, guard: guard, log: logging.Component("strategy")}
}

// Run executes one state-machine tick for a symbol. The updated state is
// appended to strategy_state; any emitted signals are already committed
// to signal_log when Run returns.
func (m *Manager) Run(ctx context.Context, symbol string) (*database.StrategyState, error) {
	state, err := m.loadState(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	// Daily reset of the direction-change counter.
	today := m.clock.Today()
	if state.L2LastResetDate.String != today {
		state.L2DirectionChangesToday = 0
		state.L2LastResetDate = sql.NullString{String: today, Valid: true}
	}

	atr := m.latestATR(ctx, symbol)
	grid := m.latestGrid(ctx, symbol)
	score := m.latestScore(ctx, symbol)

	verdict := m.guard.Check(ctx)
	state.MacroBlocked = verdict.Blocked
	if verdict.Blocked {
		state.MacroBlockReason = sql.NullString{String: verdict.Reason + ": " + verdict.EventName, Valid: true}
	} else {
		state.MacroBlockReason = sql.NullString{}
	}

	var emitted []string

	if err := m.checkL1(ctx, symbol, state, &emitted); err != nil {
		return nil, err
	}

	switch state.State {
	case database.StateA:
		if err := m.runStateA(ctx, symbol, state, atr, grid, score, verdict.Blocked, &emitted); err != nil {
			return nil, err
		}
	case database.StateB:
		if err := m.progressL2(ctx, symbol, state, atr, grid, score, &emitted); err != nil {
			return nil, err
		}
	}

	state.PendingSignal = sql.NullString{}
	if len(emitted) > 0 {
		raw, _ := json.Marshal(emitted)
		state.PendingSignal = sql.NullString{String: string(raw), Valid: true}
	}
	state.UpdatedAt = m.clock.Now().Format(timeLayout)

	if err := m.repo.InsertStrategyState(ctx, state); err != nil {
		return nil, fmt.Errorf("save state: %w", err)
	}

	m.log.Info().Str("symbol", symbol).Str("state", state.State).
		Bool("l1", state.L1Active).Bool("l2", state.L2Active).Int("l2_step", state.L2Step).
		Bool("l4", state.L4Active).Bool("macro_blocked", state.MacroBlocked).
		Strs("signals", emitted).Msg("strategy tick")
	return state, nil
}

// ============================================================================
// L1: delta-neutral funding capture
// ============================================================================

// checkL1 evaluates funding-capture entry and exit on every tick,
// independent of the A/B machine.
func (m *Manager) checkL1(ctx context.Context, symbol string, state *database.StrategyState, emitted *[]string) error {
	funding := 0.0
	if fr, err := m.repo.LatestFunding(ctx, symbol); err == nil {
		funding = fr.FundingRate
	}
	longPct := 0.5
	if ls, err := m.repo.LatestLongShort(ctx, symbol); err == nil {
		longPct = ls.LongAccount
	}

	if !state.L1Active {
		if funding >= l1FundingEntry && longPct >= l1LongEntry {
			reason := fmt.Sprintf("funding=%.4f%% long=%.1f%%", funding*100, longPct*100)
			state.L1Active = true
			state.L1EntryReason = sql.NullString{String: reason, Valid: true}
			return m.emit(ctx, symbol, database.SignalL1Entry, database.DirectionNeutral,
				map[string]interface{}{"reason": reason, "funding": funding, "long_pct": longPct}, nil, emitted)
		}
		return nil
	}

	var reason string
	switch {
	case funding < 0:
		reason = fmt.Sprintf("funding turned negative (%.4f%%)", funding*100)
	case funding <= l1FundingExit:
		reason = fmt.Sprintf("funding normalized (%.4f%%)", funding*100)
	case math.Abs(longPct-0.5) < l1LongNeutral:
		reason = fmt.Sprintf("positioning normalized (long %.1f%%)", longPct*100)
	default:
		return nil
	}

	state.L1Active = false
	state.L1EntryReason = sql.NullString{}
	return m.emit(ctx, symbol, database.SignalL1Exit, database.DirectionNeutral,
		map[string]interface{}{"reason": reason, "funding": funding, "long_pct": longPct}, nil, emitted)
}

// ============================================================================
// State A: grid active, waiting for breakout
// ============================================================================

func (m *Manager) runStateA(ctx context.Context, symbol string, state *database.StrategyState,
	atr *database.ATRValue, grid *database.GridConfig, score *database.SSMScore,
	macroBlocked bool, emitted *[]string) error {

	if !state.L4Active && grid != nil {
		state.L4Active = true
		state.L4GridConfigID = sql.NullInt64{Int64: grid.ID, Valid: true}
		if err := m.emit(ctx, symbol, database.SignalL4Set, database.DirectionNeutral,
			map[string]interface{}{
				"grid_config_id": grid.ID, "lower": grid.LowerBound, "upper": grid.UpperBound,
				"count": grid.GridCount,
			}, nil, emitted); err != nil {
			return err
		}
	}

	// Breakout is judged against the grid that was active when L4 was
	// set, not against whatever grid the grid engine produced since.
	activeGrid := grid
	if state.L4Active && state.L4GridConfigID.Valid {
		if g, err := m.repo.GridConfigByID(ctx, state.L4GridConfigID.Int64); err == nil {
			activeGrid = g
		}
	}
	if activeGrid == nil || macroBlocked {
		return nil
	}

	direction, price, detected := m.detectBreakout(ctx, symbol, activeGrid)
	if !detected {
		return nil
	}
	if state.L2DirectionChangesToday >= l2MaxDirectionChanges {
		m.log.Info().Str("symbol", symbol).Msg("direction change limit reached, breakout ignored")
		return nil
	}

	state.State = database.StateB
	state.L2Active = true
	state.L2Step = 1
	state.L2EntryPct = l2Step1Pct
	state.L2Direction = sql.NullString{String: direction, Valid: true}
	state.L2Step1Time = sql.NullString{String: m.clock.Now().Format(timeLayout), Valid: true}
	state.L2AvgEntryPrice = sql.NullFloat64{Float64: price, Valid: true}
	state.L4Active = false

	var scorePtr *float64
	if score != nil {
		scorePtr = &score.TotalScore
	}
	if err := m.emit(ctx, symbol, database.SignalL2Step1, direction,
		map[string]interface{}{
			"entry_pct": l2Step1Pct, "price": price,
			"stop_loss": calcStopLoss(price, atr, direction),
		}, scorePtr, emitted); err != nil {
		return err
	}
	return m.emit(ctx, symbol, database.SignalL4Pause, database.DirectionNeutral, map[string]interface{}{}, nil, emitted)
}

// detectBreakout compares the current price against the grid band.
func (m *Manager) detectBreakout(ctx context.Context, symbol string, grid *database.GridConfig) (string, float64, bool) {
	price, ok := m.currentPrice(ctx, symbol)
	if !ok {
		return "", 0, false
	}
	if price > grid.UpperBound {
		return database.DirectionLong, price, true
	}
	if price < grid.LowerBound {
		return database.DirectionShort, price, true
	}
	return "", price, false
}

// ============================================================================
// State B: directional scaling
// ============================================================================

func (m *Manager) progressL2(ctx context.Context, symbol string, state *database.StrategyState,
	atr *database.ATRValue, grid *database.GridConfig, score *database.SSMScore, emitted *[]string) error {

	if !state.L2Step1Time.Valid {
		return nil
	}
	step1Time, err := time.Parse(timeLayout, state.L2Step1Time.String)
	if err != nil {
		return fmt.Errorf("parse step1 time: %w", err)
	}
	elapsed := m.clock.Now().Sub(step1Time)

	switch state.L2Step {
	case 1:
		if elapsed < l2Step2Delay {
			return nil
		}
		if !m.priceDirectionHolds(ctx, symbol, state.L2Direction.String) {
			return m.exitL2(ctx, symbol, state, "price_reversal_step1", emitted)
		}

		state.L2Step = 2
		state.L2EntryPct = l2Step1Pct + l2Step2Pct
		if price, ok := m.currentPrice(ctx, symbol); ok && state.L2AvgEntryPrice.Valid {
			avg := (state.L2AvgEntryPrice.Float64*l2Step1Pct + price*l2Step2Pct) / (l2Step1Pct + l2Step2Pct)
			state.L2AvgEntryPrice = sql.NullFloat64{Float64: round2(avg), Valid: true}
		}

		var scorePtr *float64
		if score != nil {
			scorePtr = &score.TotalScore
		}
		return m.emit(ctx, symbol, database.SignalL2Step2, state.L2Direction.String,
			map[string]interface{}{
				"entry_pct": state.L2EntryPct, "avg_price": state.L2AvgEntryPrice.Float64,
				"stop_loss": calcStopLoss(state.L2AvgEntryPrice.Float64, atr, state.L2Direction.String),
			}, scorePtr, emitted)

	case 2:
		if elapsed < l2Step3Delay {
			return nil
		}
		total := 0.0
		if score != nil {
			total = score.TotalScore
		}

		if total < 2.0 {
			// Not convinced: hold at 60%, mark step 3, no added size.
			state.L2Step = 3
			state.L2ScoreAtEntry = sql.NullFloat64{Float64: total, Valid: true}
			m.log.Info().Str("symbol", symbol).Float64("score", total).Msg("score below step3 bar, holding 60%")
			return nil
		}

		ratio := scoreToRatio(total)
		remaining := l2Step3Pct * ratio
		prevPct := l2Step1Pct + l2Step2Pct
		state.L2Step = 3
		state.L2EntryPct = prevPct + remaining
		state.L2ScoreAtEntry = sql.NullFloat64{Float64: total, Valid: true}
		if price, ok := m.currentPrice(ctx, symbol); ok && state.L2AvgEntryPrice.Valid {
			avg := (state.L2AvgEntryPrice.Float64*prevPct + price*remaining) / (prevPct + remaining)
			state.L2AvgEntryPrice = sql.NullFloat64{Float64: round2(avg), Valid: true}
		}

		return m.emit(ctx, symbol, database.SignalL2Step3, state.L2Direction.String,
			map[string]interface{}{
				"entry_pct": state.L2EntryPct, "ratio": ratio, "score": total,
				"avg_price": state.L2AvgEntryPrice.Float64,
				"stop_loss": calcStopLoss(state.L2AvgEntryPrice.Float64, atr, state.L2Direction.String),
			}, &total, emitted)

	case 3:
		if m.stopLossHit(ctx, symbol, state, atr) {
			return m.exitL2(ctx, symbol, state, "stop_loss", emitted)
		}
		if m.boxFormed(ctx, symbol) {
			return m.exitL2(ctx, symbol, state, "new_box_formation", emitted)
		}
	}
	return nil
}

// exitL2 unwinds the directional position and returns to State A with
// the grid layer re-armed on the latest grid. A step-1 reversal exit is
// treated as a false start and does not count against the daily
// direction-change budget.
func (m *Manager) exitL2(ctx context.Context, symbol string, state *database.StrategyState, reason string, emitted *[]string) error {
	if err := m.emit(ctx, symbol, database.SignalL2Exit, state.L2Direction.String,
		map[string]interface{}{"reason": reason, "entry_pct": state.L2EntryPct}, nil, emitted); err != nil {
		return err
	}

	state.State = database.StateA
	state.L2Active = false
	state.L2Step = 0
	state.L2EntryPct = 0
	state.L2Direction = sql.NullString{}
	state.L2AvgEntryPrice = sql.NullFloat64{}
	state.L2Step1Time = sql.NullString{}
	state.L2ScoreAtEntry = sql.NullFloat64{}
	if reason != "price_reversal_step1" {
		state.L2DirectionChangesToday++
	}

	state.L4Active = true
	if grid := m.latestGrid(ctx, symbol); grid != nil {
		state.L4GridConfigID = sql.NullInt64{Int64: grid.ID, Valid: true}
	}
	return m.emit(ctx, symbol, database.SignalL4Resume, database.DirectionNeutral, map[string]interface{}{}, nil, emitted)
}

// priceDirectionHolds checks the short-term trend over the last three
// 5m closes (daily fallback). Missing data counts as holding.
func (m *Manager) priceDirectionHolds(ctx context.Context, symbol, direction string) bool {
	rows, err := m.repo.RecentKlines(ctx, symbol, "5m", 3)
	if err != nil || len(rows) < 2 {
		rows, err = m.repo.RecentKlines(ctx, symbol, "1d", 2)
		if err != nil || len(rows) < 2 {
			return true
		}
	}

	current := rows[0].Close
	oldest := rows[len(rows)-1].Close
	if direction == database.DirectionLong {
		return current >= oldest
	}
	return current <= oldest
}

func (m *Manager) stopLossHit(ctx context.Context, symbol string, state *database.StrategyState, atr *database.ATRValue) bool {
	if atr == nil || !state.L2AvgEntryPrice.Valid {
		return false
	}
	price, ok := m.currentPrice(ctx, symbol)
	if !ok {
		return false
	}

	stop := calcStopLoss(state.L2AvgEntryPrice.Float64, atr, state.L2Direction.String)
	if state.L2Direction.String == database.DirectionLong {
		return price <= stop
	}
	return price >= stop
}

// boxFormed checks the three range-formation conditions; two of three
// must hold.
func (m *Manager) boxFormed(ctx context.Context, symbol string) bool {
	met := 0

	// 1: four hours of sideways price (48 5m closes within 2%).
	closes, err := m.repo.RecentKlines(ctx, symbol, "5m", 48)
	if err != nil || len(closes) < 6 {
		closes, _ = m.repo.RecentKlines(ctx, symbol, "1d", 3)
	}
	if len(closes) >= 2 {
		minP, maxP := closes[0].Close, closes[0].Close
		for _, k := range closes[1:] {
			if k.Close < minP {
				minP = k.Close
			}
			if k.Close > maxP {
				maxP = k.Close
			}
		}
		if minP > 0 && (maxP-minP)/minP <= boxPriceTolerance {
			met++
		}
	}

	// 2: a fresh liquidation cluster in the last hour.
	nowMs := m.clock.Unix() * 1000
	if n, err := m.repo.CountLiquidations(ctx, symbol, nowMs-3600_000); err == nil && n >= boxLiqCountMin {
		met++
	}

	// 3: open interest recovered to 80% of its recent peak.
	if ois, err := m.repo.RecentOI(ctx, symbol, 5); err == nil && len(ois) >= 3 {
		current := ois[0].OpenInterest
		peak := current
		for _, o := range ois {
			if o.OpenInterest > peak {
				peak = o.OpenInterest
			}
		}
		if peak > 0 && current >= peak*oiRecoveryThreshold {
			met++
		}
	}

	return met >= 2
}

// ============================================================================
// helpers
// ============================================================================

func calcStopLoss(entryPrice float64, atr *database.ATRValue, direction string) float64 {
	if atr == nil {
		if direction == database.DirectionLong {
			return entryPrice * (1 - fallbackStopPct)
		}
		return entryPrice * (1 + fallbackStopPct)
	}

	distance := entryPrice * atr.StopLossPct / 100
	if direction == database.DirectionLong {
		return round2(entryPrice - distance)
	}
	return round2(entryPrice + distance)
}

func scoreToRatio(total float64) float64 {
	switch {
	case total >= 4.0:
		return 1.00
	case total >= 3.0:
		return 0.60
	case total >= 2.0:
		return 0.30
	default:
		return 0
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func (m *Manager) emit(ctx context.Context, symbol, signalType, direction string,
	details map[string]interface{}, score *float64, emitted *[]string) error {

	raw, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshal signal details: %w", err)
	}
	sig := &database.Signal{
		Symbol:     symbol,
		SignalType: signalType,
		Direction:  direction,
		Details:    sql.NullString{String: string(raw), Valid: true},
		CreatedAt:  m.clock.Now().Format(timeLayout),
	}
	if score != nil {
		sig.SSMScore = sql.NullFloat64{Float64: *score, Valid: true}
	}
	if _, err := m.repo.AppendSignal(ctx, sig); err != nil {
		return fmt.Errorf("append signal %s: %w", signalType, err)
	}
	*emitted = append(*emitted, signalType)
	return nil
}

func (m *Manager) currentPrice(ctx context.Context, symbol string) (float64, bool) {
	price, err := m.repo.LatestClose(ctx, symbol, "5m")
	if err == nil {
		return price, true
	}
	price, err = m.repo.LatestClose(ctx, symbol, "1d")
	if err == nil {
		return price, true
	}
	return 0, false
}

func (m *Manager) loadState(ctx context.Context, symbol string) (*database.StrategyState, error) {
	state, err := m.repo.LatestStrategyState(ctx, symbol)
	if err == nil {
		// History rows carry their own pending signals; a fresh tick
		// starts clean.
		state.ID = 0
		state.PendingSignal = sql.NullString{}
		return state, nil
	}
	if !database.IsNoRows(err) {
		return nil, err
	}

	return &database.StrategyState{
		Symbol:          symbol,
		State:           database.StateA,
		L2LastResetDate: sql.NullString{String: m.clock.Today(), Valid: true},
	}, nil
}

func (m *Manager) latestATR(ctx context.Context, symbol string) *database.ATRValue {
	atr, err := m.repo.LatestATR(ctx, symbol)
	if err != nil {
		return nil
	}
	return atr
}

func (m *Manager) latestGrid(ctx context.Context, symbol string) *database.GridConfig {
	grid, err := m.repo.LatestGridConfig(ctx, symbol)
	if err != nil {
		return nil
	}
	return grid
}

func (m *Manager) latestScore(ctx context.Context, symbol string) *database.SSMScore {
	score, err := m.repo.LatestSSMScore(ctx, symbol)
	if err != nil {
		return nil
	}
	return score
}
