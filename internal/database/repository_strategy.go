package database

import (
	"context"
	"strings"
)

// ============================================================================
// STRATEGY STATE
// ============================================================================

// InsertStrategyState appends a new state row. State history is never
// updated in place; the latest row per symbol is the current state.
func (r *Repository) InsertStrategyState(ctx context.Context, s *StrategyState) error {
	query := `
		INSERT INTO strategy_state (
			symbol, state, l1_active, l1_entry_reason, l2_active, l2_direction, l2_step,
			l2_entry_pct, l2_avg_entry_price, l2_step1_time, l2_score_at_entry,
			l2_direction_changes_today, l2_last_reset_date,
			l4_active, l4_grid_config_id, macro_blocked, macro_block_reason, pending_signal, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Conn.ExecContext(ctx, query,
		s.Symbol, s.State, s.L1Active, s.L1EntryReason, s.L2Active, s.L2Direction, s.L2Step,
		s.L2EntryPct, s.L2AvgEntryPrice, s.L2Step1Time, s.L2ScoreAtEntry,
		s.L2DirectionChangesToday, s.L2LastResetDate,
		s.L4Active, s.L4GridConfigID, s.MacroBlocked, s.MacroBlockReason, s.PendingSignal, s.UpdatedAt)
	return err
}

func (r *Repository) LatestStrategyState(ctx context.Context, symbol string) (*StrategyState, error) {
	var s StrategyState
	query := `SELECT * FROM strategy_state WHERE symbol = ? ORDER BY id DESC LIMIT 1`
	if err := r.db.Conn.GetContext(ctx, &s, query, symbol); err != nil {
		return nil, err
	}
	return &s, nil
}

// ============================================================================
// SIGNAL LOG
// ============================================================================

// AppendSignal appends to the signal log and returns the assigned id.
// The log is append-only; consumers track their own high-water mark.
func (r *Repository) AppendSignal(ctx context.Context, s *Signal) (int64, error) {
	query := `
		INSERT INTO signal_log (symbol, signal_type, direction, details, ssm_score, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	res, err := r.db.Conn.ExecContext(ctx, query,
		s.Symbol, s.SignalType, s.Direction, s.Details, s.SSMScore, s.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// SignalsAfter returns signals with id strictly greater than afterID,
// optionally filtered by type, in ascending id order.
func (r *Repository) SignalsAfter(ctx context.Context, symbol string, afterID int64, types ...string) ([]Signal, error) {
	query := `SELECT * FROM signal_log WHERE symbol = ? AND id > ?`
	args := []interface{}{symbol, afterID}

	if len(types) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(types)), ",")
		query += " AND signal_type IN (" + placeholders + ")"
		for _, t := range types {
			args = append(args, t)
		}
	}
	query += " ORDER BY id ASC"

	var out []Signal
	if err := r.db.Conn.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, err
	}
	return out, nil
}

// RecentSignals returns the latest signals newest-first.
func (r *Repository) RecentSignals(ctx context.Context, limit int) ([]Signal, error) {
	var out []Signal
	query := `SELECT * FROM signal_log ORDER BY id DESC LIMIT ?`
	if err := r.db.Conn.SelectContext(ctx, &out, query, limit); err != nil {
		return nil, err
	}
	return out, nil
}
