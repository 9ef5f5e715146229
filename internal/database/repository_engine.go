package database

import "context"

// ============================================================================
// ATR VALUES
// ============================================================================

func (r *Repository) InsertATR(ctx context.Context, a *ATRValue) error {
	query := `
		INSERT INTO atr_values (symbol, atr, atr_pct, stop_loss_pct, current_price, period, calculated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Conn.ExecContext(ctx, query,
		a.Symbol, a.ATR, a.ATRPct, a.StopLossPct, a.CurrentPrice, a.Period, a.CalculatedAt)
	return err
}

func (r *Repository) LatestATR(ctx context.Context, symbol string) (*ATRValue, error) {
	var a ATRValue
	query := `SELECT * FROM atr_values WHERE symbol = ? ORDER BY id DESC LIMIT 1`
	if err := r.db.Conn.GetContext(ctx, &a, query, symbol); err != nil {
		return nil, err
	}
	return &a, nil
}

// ============================================================================
// THRESHOLD SIGNALS
// ============================================================================

func (r *Repository) InsertThresholdSignal(ctx context.Context, t *ThresholdSignal) error {
	query := `
		INSERT INTO threshold_signals (symbol, liq_threshold, liq_1h_total, oi_usd, liquidity_coeff, trigger_active, direction, calculated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Conn.ExecContext(ctx, query,
		t.Symbol, t.LiqThreshold, t.Liq1hTotal, t.OIUSD, t.LiquidityCoeff, t.TriggerActive, t.Direction, t.CalculatedAt)
	return err
}

func (r *Repository) LatestThresholdSignal(ctx context.Context, symbol string) (*ThresholdSignal, error) {
	var t ThresholdSignal
	query := `SELECT * FROM threshold_signals WHERE symbol = ? ORDER BY id DESC LIMIT 1`
	if err := r.db.Conn.GetContext(ctx, &t, query, symbol); err != nil {
		return nil, err
	}
	return &t, nil
}

// ============================================================================
// GRID CONFIGS
// ============================================================================

func (r *Repository) InsertGridConfig(ctx context.Context, g *GridConfig) (int64, error) {
	query := `
		INSERT INTO grid_configs (symbol, lower_bound, upper_bound, grid_count, spacing, spacing_pct, source, spoofing_filtered, calculated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := r.db.Conn.ExecContext(ctx, query,
		g.Symbol, g.LowerBound, g.UpperBound, g.GridCount, g.Spacing, g.SpacingPct,
		g.Source, g.SpoofingFiltered, g.CalculatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r *Repository) LatestGridConfig(ctx context.Context, symbol string) (*GridConfig, error) {
	var g GridConfig
	query := `SELECT * FROM grid_configs WHERE symbol = ? ORDER BY id DESC LIMIT 1`
	if err := r.db.Conn.GetContext(ctx, &g, query, symbol); err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *Repository) GridConfigByID(ctx context.Context, id int64) (*GridConfig, error) {
	var g GridConfig
	query := `SELECT * FROM grid_configs WHERE id = ?`
	if err := r.db.Conn.GetContext(ctx, &g, query, id); err != nil {
		return nil, err
	}
	return &g, nil
}

// ============================================================================
// SSM SCORES
// ============================================================================

func (r *Repository) InsertSSMScore(ctx context.Context, s *SSMScore) error {
	query := `
		INSERT INTO ssm_scores (symbol, trigger_active, momentum_score, sentiment_score, story_score, value_score, total_score, direction, score_detail, llm_calls_used, calculated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Conn.ExecContext(ctx, query,
		s.Symbol, s.TriggerActive, s.MomentumScore, s.SentimentScore, s.StoryScore, s.ValueScore,
		s.TotalScore, s.Direction, s.ScoreDetail, s.LLMCallsUsed, s.CalculatedAt)
	return err
}

func (r *Repository) LatestSSMScore(ctx context.Context, symbol string) (*SSMScore, error) {
	var s SSMScore
	query := `SELECT * FROM ssm_scores WHERE symbol = ? ORDER BY id DESC LIMIT 1`
	if err := r.db.Conn.GetContext(ctx, &s, query, symbol); err != nil {
		return nil, err
	}
	return &s, nil
}
