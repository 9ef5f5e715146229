package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection. A single connection is enforced: WAL
// mode handles concurrent readers, and every writer table has exactly one
// writing component, so one connection keeps ordering deterministic in
// both live and backtest mode.
type DB struct {
	Conn *sqlx.DB
}

// Config holds database configuration.
type Config struct {
	Path        string
	BusyTimeout int
}

// NewDB opens (creating if needed) the SQLite database at cfg.Path.
func NewDB(cfg Config) (*DB, error) {
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5000
	}
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)",
		cfg.Path, cfg.BusyTimeout,
	)

	conn, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	return &DB{Conn: conn}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.Conn != nil {
		return db.Conn.Close()
	}
	return nil
}

// RunMigrations creates all tables and indexes.
func (db *DB) RunMigrations(ctx context.Context) error {
	migrations := []string{
		// Market data (collectors write, engines read)
		`CREATE TABLE IF NOT EXISTS liquidations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			price REAL NOT NULL,
			qty REAL NOT NULL,
			trade_time INTEGER NOT NULL,
			collected_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_liquidations_symbol_time ON liquidations(symbol, trade_time)`,

		`CREATE TABLE IF NOT EXISTS oi_snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			open_interest REAL NOT NULL,
			collected_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_oi_symbol ON oi_snapshots(symbol, id)`,

		`CREATE TABLE IF NOT EXISTS funding_rates (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			funding_rate REAL NOT NULL,
			next_funding_time INTEGER,
			collected_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_funding_symbol ON funding_rates(symbol, id)`,

		`CREATE TABLE IF NOT EXISTS long_short_ratios (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			long_account REAL NOT NULL,
			short_account REAL NOT NULL,
			long_short_ratio REAL NOT NULL,
			period TEXT,
			collected_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_lsr_symbol ON long_short_ratios(symbol, id)`,

		`CREATE TABLE IF NOT EXISTS orderbook_walls (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			price REAL NOT NULL,
			quantity REAL NOT NULL,
			scan_id INTEGER NOT NULL,
			collected_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_walls_symbol_scan ON orderbook_walls(symbol, scan_id)`,

		`CREATE TABLE IF NOT EXISTS klines (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			interval TEXT NOT NULL,
			open_time INTEGER NOT NULL,
			open REAL NOT NULL,
			high REAL NOT NULL,
			low REAL NOT NULL,
			close REAL NOT NULL,
			volume REAL NOT NULL,
			close_time INTEGER NOT NULL,
			UNIQUE(symbol, interval, open_time)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_klines_lookup ON klines(symbol, interval, open_time)`,

		`CREATE TABLE IF NOT EXISTS fear_greed (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			value INTEGER NOT NULL,
			classification TEXT,
			fg_timestamp INTEGER NOT NULL,
			collected_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS whale_transactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tx_hash TEXT,
			blockchain TEXT,
			symbol TEXT NOT NULL,
			amount REAL NOT NULL,
			amount_usd REAL NOT NULL,
			from_type TEXT,
			to_type TEXT,
			tx_timestamp INTEGER NOT NULL,
			collected_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_whale_symbol_time ON whale_transactions(symbol, tx_timestamp)`,

		`CREATE TABLE IF NOT EXISTS exchange_netflow (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			netflow REAL NOT NULL,
			collected_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS onchain_metrics (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			metric TEXT NOT NULL,
			value REAL NOT NULL,
			timestamp INTEGER NOT NULL,
			collected_at TEXT NOT NULL,
			UNIQUE(metric, timestamp)
		)`,

		`CREATE TABLE IF NOT EXISTS taker_ratio (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			buy_vol REAL NOT NULL,
			sell_vol REAL NOT NULL,
			buy_sell_ratio REAL NOT NULL,
			timestamp INTEGER NOT NULL,
			collected_at TEXT NOT NULL,
			UNIQUE(symbol, timestamp)
		)`,

		// Engine outputs
		`CREATE TABLE IF NOT EXISTS atr_values (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			atr REAL NOT NULL,
			atr_pct REAL NOT NULL,
			stop_loss_pct REAL NOT NULL,
			current_price REAL NOT NULL DEFAULT 0,
			period INTEGER NOT NULL,
			calculated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_atr_symbol ON atr_values(symbol, id)`,

		`CREATE TABLE IF NOT EXISTS threshold_signals (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			liq_threshold REAL NOT NULL,
			liq_1h_total REAL NOT NULL,
			oi_usd REAL NOT NULL,
			liquidity_coeff REAL NOT NULL,
			trigger_active INTEGER NOT NULL,
			direction TEXT,
			calculated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_threshold_symbol ON threshold_signals(symbol, id)`,

		`CREATE TABLE IF NOT EXISTS grid_configs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			lower_bound REAL NOT NULL,
			upper_bound REAL NOT NULL,
			grid_count INTEGER NOT NULL,
			spacing REAL NOT NULL,
			spacing_pct REAL NOT NULL,
			source TEXT NOT NULL,
			spoofing_filtered INTEGER NOT NULL DEFAULT 0,
			calculated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_grid_symbol ON grid_configs(symbol, id)`,

		`CREATE TABLE IF NOT EXISTS ssm_scores (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			trigger_active INTEGER NOT NULL DEFAULT 0,
			momentum_score REAL NOT NULL,
			sentiment_score REAL NOT NULL,
			story_score REAL NOT NULL,
			value_score REAL NOT NULL,
			total_score REAL NOT NULL,
			direction TEXT NOT NULL,
			score_detail TEXT,
			llm_calls_used INTEGER NOT NULL DEFAULT 0,
			calculated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ssm_symbol ON ssm_scores(symbol, id)`,

		// Strategy state machine (strategy manager is the sole writer)
		`CREATE TABLE IF NOT EXISTS strategy_state (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			state TEXT NOT NULL,
			l1_active INTEGER NOT NULL DEFAULT 0,
			l1_entry_reason TEXT,
			l2_active INTEGER NOT NULL DEFAULT 0,
			l2_direction TEXT,
			l2_step INTEGER NOT NULL DEFAULT 0,
			l2_entry_pct REAL NOT NULL DEFAULT 0,
			l2_avg_entry_price REAL,
			l2_step1_time TEXT,
			l2_score_at_entry REAL,
			l2_direction_changes_today INTEGER NOT NULL DEFAULT 0,
			l2_last_reset_date TEXT,
			l4_active INTEGER NOT NULL DEFAULT 0,
			l4_grid_config_id INTEGER,
			macro_blocked INTEGER NOT NULL DEFAULT 0,
			macro_block_reason TEXT,
			pending_signal TEXT,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_state_symbol ON strategy_state(symbol, id)`,

		`CREATE TABLE IF NOT EXISTS signal_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			signal_type TEXT NOT NULL,
			direction TEXT NOT NULL,
			details TEXT,
			ssm_score REAL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signal_symbol ON signal_log(symbol, id)`,

		`CREATE TABLE IF NOT EXISTS llm_usage (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			call_date TEXT NOT NULL UNIQUE,
			calls_count INTEGER NOT NULL DEFAULT 0
		)`,

		// Paper trading (paper trader is the sole writer)
		`CREATE TABLE IF NOT EXISTS paper_trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			direction TEXT NOT NULL,
			entry_price REAL NOT NULL,
			exit_price REAL,
			entry_pct REAL NOT NULL,
			l2_step INTEGER NOT NULL,
			stop_loss REAL,
			status TEXT NOT NULL,
			pnl_pct REAL,
			pnl_weighted REAL,
			exit_reason TEXT,
			last_signal_id INTEGER NOT NULL,
			opened_at TEXT NOT NULL,
			closed_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_paper_trades_symbol ON paper_trades(symbol, id)`,

		`CREATE TABLE IF NOT EXISTS paper_l1_funding (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			funding_rate REAL NOT NULL,
			funding_pnl_pct REAL NOT NULL,
			effective_pnl_pct REAL NOT NULL,
			l1_effective REAL NOT NULL,
			l2_conflict INTEGER NOT NULL DEFAULT 0,
			collected_at TEXT NOT NULL,
			recorded_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_paper_l1_symbol ON paper_l1_funding(symbol, id)`,

		`CREATE TABLE IF NOT EXISTS paper_l4_grid (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			grid_config_id INTEGER NOT NULL,
			grid_level INTEGER NOT NULL,
			side TEXT NOT NULL,
			price REAL NOT NULL,
			pnl_pct REAL NOT NULL DEFAULT 0,
			recorded_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_paper_l4_symbol ON paper_l4_grid(symbol, id)`,

		`CREATE TABLE IF NOT EXISTS paper_summary (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			summary_date TEXT NOT NULL,
			trades_total INTEGER NOT NULL DEFAULT 0,
			wins INTEGER NOT NULL DEFAULT 0,
			losses INTEGER NOT NULL DEFAULT 0,
			total_pnl_weighted REAL NOT NULL DEFAULT 0,
			best_trade_pnl REAL,
			worst_trade_pnl REAL,
			UNIQUE(symbol, summary_date)
		)`,
	}

	for _, m := range migrations {
		if _, err := db.Conn.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
