package database

import (
	"context"
	"database/sql"
	"errors"
)

// LLMCallsUsed returns the number of LLM calls recorded for the date
// (YYYY-MM-DD). Zero when no row exists.
func (r *Repository) LLMCallsUsed(ctx context.Context, date string) (int, error) {
	var n int
	query := `SELECT calls_count FROM llm_usage WHERE call_date = ?`
	err := r.db.Conn.GetContext(ctx, &n, query, date)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return n, err
}

// RecordLLMCalls adds n calls to the date's usage counter.
func (r *Repository) RecordLLMCalls(ctx context.Context, date string, n int) error {
	query := `
		INSERT INTO llm_usage (call_date, calls_count) VALUES (?, ?)
		ON CONFLICT(call_date) DO UPDATE SET calls_count = calls_count + excluded.calls_count
	`
	_, err := r.db.Conn.ExecContext(ctx, query, date, n)
	return err
}
