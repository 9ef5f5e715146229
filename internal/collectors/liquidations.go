package collectors

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"cascade-trader/internal/clock"
	"cascade-trader/config"
	"cascade-trader/internal/database"
	"cascade-trader/internal/logging"
)

// LiquidationStream consumes the all-market forced-order WebSocket feed
// and persists events for the tracked symbols. It reconnects on failure:
// a burst of quick retries, then a slow loop so a long exchange outage
// does not spin.
type LiquidationStream struct {
	wsURL      string
	symbols    map[string]bool
	repo       *database.Repository
	clock      clock.Clock
	retries    int
	retryDelay time.Duration
	log        zerolog.Logger
}

func NewLiquidationStream(cfg config.BinanceConfig, symbols []string, repo *database.Repository, clk clock.Clock) *LiquidationStream {
	tracked := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		tracked[strings.ToUpper(s)] = true
	}
	delay := time.Duration(cfg.WSReconnectDelay) * time.Second
	if delay <= 0 {
		delay = 10 * time.Second
	}
	return &LiquidationStream{
		wsURL:      cfg.FuturesWSURL,
		symbols:    tracked,
		repo:       repo,
		clock:      clk,
		retries:    cfg.WSReconnectRetries,
		retryDelay: delay,
		log:        logging.Component("liquidation_ws"),
	}
}

// forceOrderEvent is the payload of the !forceOrder@arr stream.
type forceOrderEvent struct {
	EventType string `json:"e"`
	Order     struct {
		Symbol    string `json:"s"`
		Side      string `json:"S"`
		Price     string `json:"ap"` // average fill price
		Qty       string `json:"q"`
		TradeTime int64  `json:"T"`
	} `json:"o"`
}

// Run blocks until ctx is cancelled, reconnecting as needed.
func (s *LiquidationStream) Run(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		err := s.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		attempt++
		s.log.Warn().Err(err).Int("attempt", attempt).Msg("stream dropped, reconnecting")

		delay := s.retryDelay
		if attempt > s.retries {
			// Slow loop after the quick retries are spent.
			delay = 5 * time.Minute
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (s *LiquidationStream) consume(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	s.log.Info().Str("url", s.wsURL).Msg("liquidation stream connected")

	// Unblock ReadMessage when the context dies.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.handleMessage(ctx, msg)
	}
}

func (s *LiquidationStream) handleMessage(ctx context.Context, msg []byte) {
	// The array stream delivers either a single event or a batch.
	var batch []forceOrderEvent
	if err := json.Unmarshal(msg, &batch); err != nil {
		var single forceOrderEvent
		if err := json.Unmarshal(msg, &single); err != nil {
			s.log.Debug().Err(err).Msg("unparseable stream message")
			return
		}
		batch = []forceOrderEvent{single}
	}

	for _, ev := range batch {
		if ev.EventType != "forceOrder" || !s.symbols[ev.Order.Symbol] {
			continue
		}
		price, err := strconv.ParseFloat(ev.Order.Price, 64)
		if err != nil {
			continue
		}
		qty, err := strconv.ParseFloat(ev.Order.Qty, 64)
		if err != nil {
			continue
		}

		err = s.repo.InsertLiquidation(ctx, &database.Liquidation{
			Symbol:      ev.Order.Symbol,
			Side:        ev.Order.Side,
			Price:       price,
			Qty:         qty,
			TradeTime:   ev.Order.TradeTime,
			CollectedAt: s.clock.Now().Format(timeLayout),
		})
		if err != nil {
			s.log.Error().Err(err).Str("symbol", ev.Order.Symbol).Msg("store liquidation failed")
		}
	}
}
