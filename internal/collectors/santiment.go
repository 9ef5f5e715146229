package collectors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"cascade-trader/internal/clock"
	"cascade-trader/internal/database"
	"cascade-trader/internal/logging"
)

const santimentGraphQLURL = "https://api.santiment.net/graphql"

// SantimentCollector pulls daily exchange-netflow and MVRV metrics from
// the Santiment GraphQL API.
type SantimentCollector struct {
	apiKey     string
	symbols    []string
	repo       *database.Repository
	clock      clock.Clock
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	log        zerolog.Logger
}

func NewSantimentCollector(apiKey string, symbols []string, repo *database.Repository, clk clock.Clock) *SantimentCollector {
	return &SantimentCollector{
		apiKey:     apiKey,
		symbols:    symbols,
		repo:       repo,
		clock:      clk,
		httpClient: &http.Client{Timeout: 20 * time.Second},
		breaker:    newProviderBreaker("santiment"),
		log:        logging.Component("santiment"),
	}
}

type graphQLRequest struct {
	Query string `json:"query"`
}

type timeseriesResponse struct {
	Data struct {
		GetMetric struct {
			TimeseriesData []struct {
				Datetime string  `json:"datetime"`
				Value    float64 `json:"value"`
			} `json:"timeseriesData"`
		} `json:"getMetric"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Collect fetches netflow per tracked asset and the BTC MVRV ratio.
func (c *SantimentCollector) Collect(ctx context.Context) error {
	if c.apiKey == "" {
		return nil // provider not configured
	}

	for _, symbol := range c.symbols {
		if err := c.collectNetflow(ctx, symbol); err != nil {
			c.log.Warn().Err(err).Str("symbol", symbol).Msg("netflow collection failed")
		}
	}
	if err := c.collectMVRV(ctx); err != nil {
		c.log.Warn().Err(err).Msg("mvrv collection failed")
	}
	return nil
}

func (c *SantimentCollector) collectNetflow(ctx context.Context, symbol string) error {
	slug := assetSlug(symbol)
	if slug == "" {
		return nil
	}

	rows, err := c.timeseries(ctx, "exchange_balance", slug, 7)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	// Only the newest datapoint is new; dedupe is not needed because the
	// netflow analyzer reads a fixed trailing window.
	latest := rows[len(rows)-1]
	return c.repo.InsertExchangeNetflow(ctx, &database.ExchangeNetflow{
		Symbol:      symbol,
		Netflow:     latest,
		CollectedAt: c.clock.Now().Format(timeLayout),
	})
}

func (c *SantimentCollector) collectMVRV(ctx context.Context) error {
	rows, err := c.timeseries(ctx, "mvrv_usd", "bitcoin", 2)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	return c.repo.UpsertOnchainMetric(ctx, &database.OnchainMetric{
		Metric:      "mvrv",
		Value:       rows[len(rows)-1],
		Timestamp:   c.clock.Unix(),
		CollectedAt: c.clock.Now().Format(timeLayout),
	})
}

// timeseries runs a getMetric query and returns the values oldest-first.
func (c *SantimentCollector) timeseries(ctx context.Context, metric, slug string, days int) ([]float64, error) {
	to := c.clock.Now().UTC()
	from := to.Add(-time.Duration(days) * 24 * time.Hour)
	query := fmt.Sprintf(`{
		getMetric(metric: "%s") {
			timeseriesData(slug: "%s", from: "%s", to: "%s", interval: "1d") {
				datetime
				value
			}
		}
	}`, metric, slug, from.Format(time.RFC3339), to.Format(time.RFC3339))

	payload, err := json.Marshal(graphQLRequest{Query: query})
	if err != nil {
		return nil, err
	}
	raw, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, santimentGraphQLURL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Apikey "+c.apiKey)

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
			return nil, fmt.Errorf("%s returned %d", metric, resp.StatusCode)
		}
		return body, nil
	})
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", metric, err)
	}

	var parsed timeseriesResponse
	if err := json.Unmarshal(raw.([]byte), &parsed); err != nil {
		return nil, fmt.Errorf("parse %s: %w", metric, err)
	}
	if len(parsed.Errors) > 0 {
		return nil, fmt.Errorf("%s query error: %s", metric, parsed.Errors[0].Message)
	}

	out := make([]float64, 0, len(parsed.Data.GetMetric.TimeseriesData))
	for _, p := range parsed.Data.GetMetric.TimeseriesData {
		out = append(out, p.Value)
	}
	return out, nil
}

// assetSlug maps a trading pair to the Santiment project slug.
func assetSlug(symbol string) string {
	base := strings.TrimSuffix(strings.ToUpper(symbol), "USDT")
	switch base {
	case "BTC":
		return "bitcoin"
	case "ETH":
		return "ethereum"
	case "SOL":
		return "solana"
	case "BNB":
		return "binance-coin"
	case "XRP":
		return "xrp"
	default:
		return strings.ToLower(base)
	}
}
