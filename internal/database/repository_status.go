package database

import (
	"context"
	"fmt"
)

// statusTables is the fixed set reported by the status reader. Table
// names are never user input; they are interpolated because SQLite
// cannot bind identifiers.
var statusTables = []string{
	"liquidations",
	"oi_snapshots",
	"funding_rates",
	"long_short_ratios",
	"orderbook_walls",
	"klines",
	"fear_greed",
	"whale_transactions",
	"exchange_netflow",
	"onchain_metrics",
	"taker_ratio",
	"atr_values",
	"threshold_signals",
	"grid_configs",
	"ssm_scores",
	"strategy_state",
	"signal_log",
	"paper_l1_funding",
	"paper_trades",
	"paper_l4_grid",
	"paper_summary",
}

// TableCounts returns row counts for every table the pipeline writes.
func (r *Repository) TableCounts(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64, len(statusTables))
	for _, table := range statusTables {
		var n int64
		query := fmt.Sprintf("SELECT COUNT(*) FROM %s", table)
		if err := r.db.Conn.GetContext(ctx, &n, query); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		out[table] = n
	}
	return out, nil
}
