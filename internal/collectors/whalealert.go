package collectors

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"cascade-trader/internal/clock"
	"cascade-trader/internal/database"
	"cascade-trader/internal/logging"
)

const (
	whaleAlertBaseURL = "https://api.whale-alert.io/v1"
	// Only transfers this large are worth recording.
	whaleAlertMinUSD = 1_000_000
	// How far back each poll looks; overlaps are fine, the rows carry
	// their own transaction timestamps.
	whaleAlertLookback = 6 * time.Hour
)

// WhaleAlertCollector polls the Whale Alert transactions API for large
// transfers of the tracked assets.
type WhaleAlertCollector struct {
	apiKey     string
	symbols    []string
	repo       *database.Repository
	clock      clock.Clock
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	log        zerolog.Logger
}

func NewWhaleAlertCollector(apiKey string, symbols []string, repo *database.Repository, clk clock.Clock) *WhaleAlertCollector {
	return &WhaleAlertCollector{
		apiKey:     apiKey,
		symbols:    symbols,
		repo:       repo,
		clock:      clk,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		breaker:    newProviderBreaker("whale_alert"),
		log:        logging.Component("whale_alert"),
	}
}

type whaleAlertResponse struct {
	Result       string `json:"result"`
	Transactions []struct {
		Hash       string  `json:"hash"`
		Blockchain string  `json:"blockchain"`
		Symbol     string  `json:"symbol"`
		Amount     float64 `json:"amount"`
		AmountUSD  float64 `json:"amount_usd"`
		Timestamp  int64   `json:"timestamp"` // epoch seconds
		From       struct {
			OwnerType string `json:"owner_type"`
		} `json:"from"`
		To struct {
			OwnerType string `json:"owner_type"`
		} `json:"to"`
	} `json:"transactions"`
}

func (c *WhaleAlertCollector) Collect(ctx context.Context) error {
	if c.apiKey == "" {
		return nil // provider not configured
	}

	start := c.clock.Now().Add(-whaleAlertLookback).Unix()
	params := url.Values{
		"api_key":   {c.apiKey},
		"min_value": {strconv.Itoa(whaleAlertMinUSD)},
		"start":     {strconv.FormatInt(start, 10)},
	}
	u := whaleAlertBaseURL + "/transactions?" + params.Encode()

	raw, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("whale alert returned %d", resp.StatusCode)
		}
		return body, nil
	})
	if err != nil {
		return fmt.Errorf("fetch whale transactions: %w", err)
	}

	var parsed whaleAlertResponse
	if err := json.Unmarshal(raw.([]byte), &parsed); err != nil {
		return fmt.Errorf("parse whale transactions: %w", err)
	}

	now := c.clock.Now().Format(timeLayout)
	stored := 0
	for _, tx := range parsed.Transactions {
		symbol := c.matchSymbol(tx.Symbol)
		if symbol == "" {
			continue
		}
		err := c.repo.InsertWhaleTransaction(ctx, &database.WhaleTransaction{
			TxHash:      sql.NullString{String: tx.Hash, Valid: tx.Hash != ""},
			Blockchain:  sql.NullString{String: tx.Blockchain, Valid: tx.Blockchain != ""},
			Symbol:      symbol,
			Amount:      tx.Amount,
			AmountUSD:   tx.AmountUSD,
			FromType:    sql.NullString{String: tx.From.OwnerType, Valid: tx.From.OwnerType != ""},
			ToType:      sql.NullString{String: tx.To.OwnerType, Valid: tx.To.OwnerType != ""},
			TxTimestamp: tx.Timestamp * 1000,
			CollectedAt: now,
		})
		if err != nil {
			return fmt.Errorf("store whale transaction: %w", err)
		}
		stored++
	}

	c.log.Debug().Int("stored", stored).Msg("whale transactions collected")
	return nil
}

// matchSymbol maps a Whale Alert asset symbol (e.g. "btc") to a tracked
// trading pair (e.g. "BTCUSDT").
func (c *WhaleAlertCollector) matchSymbol(asset string) string {
	upper := strings.ToUpper(asset)
	for _, s := range c.symbols {
		if strings.HasPrefix(s, upper) {
			return s
		}
	}
	return ""
}
