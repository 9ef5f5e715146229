package database

import "database/sql"

// Direction values used across signals, scores and trades.
const (
	DirectionBullish = "BULLISH"
	DirectionBearish = "BEARISH"
	DirectionNeutral = "NEUTRAL"
	DirectionLong    = "LONG"
	DirectionShort   = "SHORT"
)

// Cascade directions emitted by the threshold engine.
const (
	CascadeShort = "SHORT_CASCADE"
	CascadeLong  = "LONG_CASCADE"
)

// Signal types appended to signal_log.
const (
	SignalL1Entry = "L1_ENTRY"
	SignalL1Exit  = "L1_EXIT"
	SignalL2Step1 = "L2_STEP1"
	SignalL2Step2 = "L2_STEP2"
	SignalL2Step3 = "L2_STEP3"
	SignalL2Exit  = "L2_EXIT"
	SignalL4Set   = "L4_GRID_SET"
	SignalL4Pause = "L4_PAUSE"
	SignalL4Resume = "L4_RESUME"
)

// Strategy machine states.
const (
	StateA = "A" // grid market-making
	StateB = "B" // directional scaling
)

// Paper trade statuses.
const (
	TradeOpen   = "OPEN"
	TradeClosed = "CLOSED"
)

type Liquidation struct {
	ID          int64   `db:"id"`
	Symbol      string  `db:"symbol"`
	Side        string  `db:"side"` // BUY = shorts liquidated, SELL = longs liquidated
	Price       float64 `db:"price"`
	Qty         float64 `db:"qty"`
	TradeTime   int64   `db:"trade_time"` // epoch ms
	CollectedAt string  `db:"collected_at"`
}

type OISnapshot struct {
	ID           int64   `db:"id"`
	Symbol       string  `db:"symbol"`
	OpenInterest float64 `db:"open_interest"`
	CollectedAt  string  `db:"collected_at"`
}

type FundingRate struct {
	ID              int64         `db:"id"`
	Symbol          string        `db:"symbol"`
	FundingRate     float64       `db:"funding_rate"`
	NextFundingTime sql.NullInt64 `db:"next_funding_time"`
	CollectedAt     string        `db:"collected_at"`
}

type LongShortRatio struct {
	ID             int64          `db:"id"`
	Symbol         string         `db:"symbol"`
	LongAccount    float64        `db:"long_account"`
	ShortAccount   float64        `db:"short_account"`
	LongShortRatio float64        `db:"long_short_ratio"`
	Period         sql.NullString `db:"period"`
	CollectedAt    string         `db:"collected_at"`
}

type OrderbookWall struct {
	ID          int64   `db:"id"`
	Symbol      string  `db:"symbol"`
	Side        string  `db:"side"` // BID or ASK
	Price       float64 `db:"price"`
	Quantity    float64 `db:"quantity"`
	ScanID      int64   `db:"scan_id"`
	CollectedAt string  `db:"collected_at"`
}

type Kline struct {
	ID        int64   `db:"id"`
	Symbol    string  `db:"symbol"`
	Interval  string  `db:"interval"`
	OpenTime  int64   `db:"open_time"` // epoch ms
	Open      float64 `db:"open"`
	High      float64 `db:"high"`
	Low       float64 `db:"low"`
	Close     float64 `db:"close"`
	Volume    float64 `db:"volume"`
	CloseTime int64   `db:"close_time"`
}

type FearGreed struct {
	ID             int64          `db:"id"`
	Value          int            `db:"value"`
	Classification sql.NullString `db:"classification"`
	FGTimestamp    int64          `db:"fg_timestamp"` // epoch seconds
	CollectedAt    string         `db:"collected_at"`
}

type WhaleTransaction struct {
	ID          int64          `db:"id"`
	TxHash      sql.NullString `db:"tx_hash"`
	Blockchain  sql.NullString `db:"blockchain"`
	Symbol      string         `db:"symbol"`
	Amount      float64        `db:"amount"`
	AmountUSD   float64        `db:"amount_usd"`
	FromType    sql.NullString `db:"from_type"`
	ToType      sql.NullString `db:"to_type"`
	TxTimestamp int64          `db:"tx_timestamp"` // epoch ms
	CollectedAt string         `db:"collected_at"`
}

type ExchangeNetflow struct {
	ID          int64   `db:"id"`
	Symbol      string  `db:"symbol"`
	Netflow     float64 `db:"netflow"` // positive = inflow to exchanges
	CollectedAt string  `db:"collected_at"`
}

type OnchainMetric struct {
	ID          int64   `db:"id"`
	Metric      string  `db:"metric"`
	Value       float64 `db:"value"`
	Timestamp   int64   `db:"timestamp"`
	CollectedAt string  `db:"collected_at"`
}

type TakerRatio struct {
	ID           int64   `db:"id"`
	Symbol       string  `db:"symbol"`
	BuyVol       float64 `db:"buy_vol"`
	SellVol      float64 `db:"sell_vol"`
	BuySellRatio float64 `db:"buy_sell_ratio"`
	Timestamp    int64   `db:"timestamp"` // epoch ms
	CollectedAt  string  `db:"collected_at"`
}

type ATRValue struct {
	ID           int64   `db:"id"`
	Symbol       string  `db:"symbol"`
	ATR          float64 `db:"atr"`
	ATRPct       float64 `db:"atr_pct"`
	StopLossPct  float64 `db:"stop_loss_pct"`
	CurrentPrice float64 `db:"current_price"`
	Period       int     `db:"period"`
	CalculatedAt string  `db:"calculated_at"`
}

type ThresholdSignal struct {
	ID             int64          `db:"id"`
	Symbol         string         `db:"symbol"`
	LiqThreshold   float64        `db:"liq_threshold"`
	Liq1hTotal     float64        `db:"liq_1h_total"`
	OIUSD          float64        `db:"oi_usd"`
	LiquidityCoeff float64        `db:"liquidity_coeff"`
	TriggerActive  bool           `db:"trigger_active"`
	Direction      sql.NullString `db:"direction"`
	CalculatedAt   string         `db:"calculated_at"`
}

type GridConfig struct {
	ID               int64   `db:"id"`
	Symbol           string  `db:"symbol"`
	LowerBound       float64 `db:"lower_bound"`
	UpperBound       float64 `db:"upper_bound"`
	GridCount        int     `db:"grid_count"`
	Spacing          float64 `db:"spacing"`
	SpacingPct       float64 `db:"spacing_pct"`
	Source           string  `db:"source"` // walls or atr_fallback
	SpoofingFiltered int     `db:"spoofing_filtered"`
	CalculatedAt     string  `db:"calculated_at"`
}

type SSMScore struct {
	ID             int64          `db:"id"`
	Symbol         string         `db:"symbol"`
	TriggerActive  bool           `db:"trigger_active"`
	MomentumScore  float64        `db:"momentum_score"`
	SentimentScore float64        `db:"sentiment_score"`
	StoryScore     float64        `db:"story_score"`
	ValueScore     float64        `db:"value_score"`
	TotalScore     float64        `db:"total_score"`
	Direction      string         `db:"direction"`
	ScoreDetail    sql.NullString `db:"score_detail"`
	LLMCallsUsed   int            `db:"llm_calls_used"`
	CalculatedAt   string         `db:"calculated_at"`
}

type StrategyState struct {
	ID                      int64           `db:"id"`
	Symbol                  string          `db:"symbol"`
	State                   string          `db:"state"`
	L1Active                bool            `db:"l1_active"`
	L1EntryReason           sql.NullString  `db:"l1_entry_reason"`
	L2Active                bool            `db:"l2_active"`
	L2Direction             sql.NullString  `db:"l2_direction"`
	L2Step                  int             `db:"l2_step"`
	L2EntryPct              float64         `db:"l2_entry_pct"`
	L2AvgEntryPrice         sql.NullFloat64 `db:"l2_avg_entry_price"`
	L2Step1Time             sql.NullString  `db:"l2_step1_time"`
	L2ScoreAtEntry          sql.NullFloat64 `db:"l2_score_at_entry"`
	L2DirectionChangesToday int             `db:"l2_direction_changes_today"`
	L2LastResetDate         sql.NullString  `db:"l2_last_reset_date"`
	L4Active                bool            `db:"l4_active"`
	L4GridConfigID          sql.NullInt64   `db:"l4_grid_config_id"`
	MacroBlocked            bool            `db:"macro_blocked"`
	MacroBlockReason        sql.NullString  `db:"macro_block_reason"`
	PendingSignal           sql.NullString  `db:"pending_signal"`
	UpdatedAt               string          `db:"updated_at"`
}

type Signal struct {
	ID         int64           `db:"id"`
	Symbol     string          `db:"symbol"`
	SignalType string          `db:"signal_type"`
	Direction  string          `db:"direction"`
	Details    sql.NullString  `db:"details"`
	SSMScore   sql.NullFloat64 `db:"ssm_score"`
	CreatedAt  string          `db:"created_at"`
}

type PaperTrade struct {
	ID           int64           `db:"id"`
	Symbol       string          `db:"symbol"`
	Direction    string          `db:"direction"`
	EntryPrice   float64         `db:"entry_price"`
	ExitPrice    sql.NullFloat64 `db:"exit_price"`
	EntryPct     float64         `db:"entry_pct"`
	L2Step       int             `db:"l2_step"`
	StopLoss     sql.NullFloat64 `db:"stop_loss"`
	Status       string          `db:"status"`
	PnlPct       sql.NullFloat64 `db:"pnl_pct"`
	PnlWeighted  sql.NullFloat64 `db:"pnl_weighted"`
	ExitReason   sql.NullString  `db:"exit_reason"`
	LastSignalID int64           `db:"last_signal_id"`
	OpenedAt     string          `db:"opened_at"`
	ClosedAt     sql.NullString  `db:"closed_at"`
}

type PaperL1Funding struct {
	ID              int64   `db:"id"`
	Symbol          string  `db:"symbol"`
	FundingRate     float64 `db:"funding_rate"`
	FundingPnlPct   float64 `db:"funding_pnl_pct"`
	EffectivePnlPct float64 `db:"effective_pnl_pct"`
	L1Effective     float64 `db:"l1_effective"`
	L2Conflict      bool    `db:"l2_conflict"`
	CollectedAt     string  `db:"collected_at"`
	RecordedAt      string  `db:"recorded_at"`
}

type PaperL4Grid struct {
	ID           int64   `db:"id"`
	Symbol       string  `db:"symbol"`
	GridConfigID int64   `db:"grid_config_id"`
	GridLevel    int     `db:"grid_level"`
	Side         string  `db:"side"` // BUY, SELL or INIT
	Price        float64 `db:"price"`
	PnlPct       float64 `db:"pnl_pct"`
	RecordedAt   string  `db:"recorded_at"`
}

type PaperSummary struct {
	ID               int64           `db:"id"`
	Symbol           string          `db:"symbol"`
	SummaryDate      string          `db:"summary_date"`
	TradesTotal      int             `db:"trades_total"`
	Wins             int             `db:"wins"`
	Losses           int             `db:"losses"`
	TotalPnlWeighted float64         `db:"total_pnl_weighted"`
	BestTradePnl     sql.NullFloat64 `db:"best_trade_pnl"`
	WorstTradePnl    sql.NullFloat64 `db:"worst_trade_pnl"`
}
