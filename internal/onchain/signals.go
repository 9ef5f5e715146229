// Package onchain turns persisted whale-transaction, exchange-netflow and
// valuation rows into the {direction, score} signals consumed by the
// composite scorer.
package onchain

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"cascade-trader/internal/clock"
	"cascade-trader/internal/database"
)

const (
	// Transactions below this notional are ignored entirely, and a net
	// flow below it is treated as noise.
	whaleMinUSD = 1_000_000
	// Net flow that maps to a full 1.0 score.
	whaleFullScoreUSD = whaleMinUSD * 10

	netflowLookback = 7
)

// WhaleSignal summarizes exchange-directed whale flow.
type WhaleSignal struct {
	Direction  string // exchange_inflow, exchange_outflow or neutral
	InflowUSD  float64
	OutflowUSD float64
	NetFlowUSD float64
	TxCount    int
	Score      float64
}

// NetflowSignal summarizes recent exchange netflow rows.
type NetflowSignal struct {
	Direction string // inflow, outflow or neutral
	Latest    float64
	Avg       float64
	Trend     string // increasing_inflow, increasing_outflow or flat
	Score     float64
}

// MVRVSignal is the market-value-to-realized-value valuation band.
type MVRVSignal struct {
	MVRV   float64
	Signal string
	Score  float64
}

// TakerSignal is the taker buy/sell pressure read.
type TakerSignal struct {
	Ratio     float64
	Avg       float64
	Direction string // buy_dominant, sell_dominant or neutral
	Score     float64
}

// Analyzer reads persisted provider rows and scores them.
type Analyzer struct {
	repo  *database.Repository
	clock clock.Clock
}

func NewAnalyzer(repo *database.Repository, clk clock.Clock) *Analyzer {
	return &Analyzer{repo: repo, clock: clk}
}

// WhaleDirection nets exchange inflow against outflow over the window.
// A counterparty counts as an exchange when its type label contains
// "exchange"; wallet-to-wallet moves are ignored.
func (a *Analyzer) WhaleDirection(ctx context.Context, symbol string, window time.Duration) (*WhaleSignal, error) {
	cutoffMs := (a.clock.Unix() - int64(window.Seconds())) * 1000
	txs, err := a.repo.WhaleTransactionsSince(ctx, symbol, cutoffMs)
	if err != nil {
		return nil, fmt.Errorf("whale transactions: %w", err)
	}
	if len(txs) == 0 {
		return &WhaleSignal{Direction: "neutral"}, nil
	}

	var inflow, outflow float64
	for _, tx := range txs {
		fromEx := isExchange(tx.FromType.String)
		toEx := isExchange(tx.ToType.String)
		switch {
		case toEx && !fromEx:
			inflow += tx.AmountUSD
		case fromEx && !toEx:
			outflow += tx.AmountUSD
		}
	}

	sig := &WhaleSignal{
		InflowUSD:  inflow,
		OutflowUSD: outflow,
		NetFlowUSD: inflow - outflow,
		TxCount:    len(txs),
	}

	net := sig.NetFlowUSD
	switch {
	case math.Abs(net) < whaleMinUSD:
		sig.Direction = "neutral"
	case net > 0:
		// Coins moving onto exchanges get sold.
		sig.Direction = "exchange_inflow"
		sig.Score = math.Min(1.0, net/whaleFullScoreUSD)
	default:
		sig.Direction = "exchange_outflow"
		sig.Score = math.Min(1.0, math.Abs(net)/whaleFullScoreUSD)
	}
	return sig, nil
}

func isExchange(label string) bool {
	return strings.Contains(strings.ToLower(label), "exchange")
}

// Netflow reads the last rows for the symbol; a direction that agrees
// with its own trend scores 1.0, a direction against trend 0.5.
func (a *Analyzer) Netflow(ctx context.Context, symbol string) (*NetflowSignal, error) {
	rows, err := a.repo.RecentNetflows(ctx, symbol, netflowLookback)
	if err != nil {
		return nil, fmt.Errorf("recent netflows: %w", err)
	}
	if len(rows) == 0 {
		return &NetflowSignal{Direction: "neutral", Trend: "flat"}, nil
	}

	latest := rows[0].Netflow
	var sum float64
	for _, r := range rows {
		sum += r.Netflow
	}

	sig := &NetflowSignal{
		Latest: latest,
		Avg:    sum / float64(len(rows)),
		Trend:  "flat",
	}

	switch {
	case latest > 0:
		sig.Direction = "inflow"
	case latest < 0:
		sig.Direction = "outflow"
	default:
		sig.Direction = "neutral"
	}

	if len(rows) >= 4 {
		var recent, older float64
		for _, r := range rows[:3] {
			recent += r.Netflow
		}
		recent /= 3
		for _, r := range rows[3:] {
			older += r.Netflow
		}
		older /= float64(len(rows) - 3)

		if recent > older {
			sig.Trend = "increasing_inflow"
		} else if recent < older {
			sig.Trend = "increasing_outflow"
		}
	}

	switch {
	case sig.Direction == "neutral":
		sig.Score = 0
	case sig.Direction == "outflow" && sig.Trend == "increasing_outflow",
		sig.Direction == "inflow" && sig.Trend == "increasing_inflow":
		sig.Score = 1.0
	default:
		sig.Score = 0.5
	}
	return sig, nil
}

// MVRV maps the latest mvrv metric into valuation bands.
func (a *Analyzer) MVRV(ctx context.Context) (*MVRVSignal, error) {
	m, err := a.repo.LatestOnchainMetric(ctx, "mvrv")
	if err != nil {
		if database.IsNoRows(err) {
			return &MVRVSignal{Signal: "no_data"}, nil
		}
		return nil, fmt.Errorf("mvrv metric: %w", err)
	}

	v := m.Value
	switch {
	case v > 3.5:
		return &MVRVSignal{MVRV: v, Signal: "overheated_bearish", Score: 0.5}, nil
	case v < 1.0:
		return &MVRVSignal{MVRV: v, Signal: "undervalued_bullish", Score: 0.5}, nil
	case v > 2.5:
		return &MVRVSignal{MVRV: v, Signal: "elevated", Score: 0.25}, nil
	case v < 1.5:
		return &MVRVSignal{MVRV: v, Signal: "low", Score: 0.25}, nil
	default:
		return &MVRVSignal{MVRV: v, Signal: "neutral"}, nil
	}
}

// Taker reads the latest 12 taker buy/sell ratios. Both the latest value
// and the average must lean the same way to signal.
func (a *Analyzer) Taker(ctx context.Context, symbol string) (*TakerSignal, error) {
	ratios, err := a.repo.RecentTakerRatios(ctx, symbol, 12)
	if err != nil {
		return nil, fmt.Errorf("taker ratios: %w", err)
	}
	if len(ratios) == 0 {
		return &TakerSignal{Direction: "neutral"}, nil
	}

	latest := ratios[0]
	var sum float64
	for _, r := range ratios {
		sum += r
	}
	avg := sum / float64(len(ratios))

	sig := &TakerSignal{Ratio: latest, Avg: avg, Direction: "neutral"}
	switch {
	case latest > 1.05 && avg > 1.0:
		sig.Direction = "buy_dominant"
		sig.Score = 0.5
	case latest < 0.95 && avg < 1.0:
		sig.Direction = "sell_dominant"
		sig.Score = 0.5
	}
	return sig, nil
}
