// Package collectors pulls market, sentiment and on-chain data from
// external providers into the local database. Every collector is a
// small, independently scheduled job: a failing provider degrades that
// one data stream and nothing else.
package collectors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"cascade-trader/config"
)

// BinanceClient is a read-only client for the Binance USD-M futures
// public market-data endpoints. All calls go through a shared rate
// limiter so the collectors cannot trip the IP ban threshold between
// them.
type BinanceClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      *ResponseCache
}

func NewBinanceClient(cfg config.BinanceConfig, cache *ResponseCache) *BinanceClient {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &BinanceClient{
		baseURL:    cfg.FuturesBaseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		cache:      cache,
	}
}

func (c *BinanceClient) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	if c.cache != nil {
		if raw, ok := c.cache.Get(ctx, u); ok {
			return json.Unmarshal(raw, out)
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, truncate(body, 200))
	}

	if c.cache != nil {
		c.cache.Set(ctx, u, body)
	}
	return json.Unmarshal(body, out)
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

// ==================== OPEN INTEREST ====================

type openInterestResponse struct {
	Symbol       string `json:"symbol"`
	OpenInterest string `json:"openInterest"`
	Time         int64  `json:"time"`
}

func (c *BinanceClient) OpenInterest(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{"symbol": {symbol}}
	var resp openInterestResponse
	if err := c.get(ctx, "/fapi/v1/openInterest", params, &resp); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(resp.OpenInterest, 64)
}

// ==================== FUNDING ====================

type premiumIndexResponse struct {
	Symbol          string `json:"symbol"`
	LastFundingRate string `json:"lastFundingRate"`
	NextFundingTime int64  `json:"nextFundingTime"`
}

// FundingInfo is the current funding rate and its next settlement time.
type FundingInfo struct {
	Rate            float64
	NextFundingTime int64
}

func (c *BinanceClient) Funding(ctx context.Context, symbol string) (*FundingInfo, error) {
	params := url.Values{"symbol": {symbol}}
	var resp premiumIndexResponse
	if err := c.get(ctx, "/fapi/v1/premiumIndex", params, &resp); err != nil {
		return nil, err
	}
	rate, err := strconv.ParseFloat(resp.LastFundingRate, 64)
	if err != nil {
		return nil, fmt.Errorf("parse funding rate: %w", err)
	}
	return &FundingInfo{Rate: rate, NextFundingTime: resp.NextFundingTime}, nil
}

// ==================== LONG/SHORT RATIO ====================

type longShortResponse struct {
	Symbol         string `json:"symbol"`
	LongAccount    string `json:"longAccount"`
	ShortAccount   string `json:"shortAccount"`
	LongShortRatio string `json:"longShortRatio"`
}

// LongShortInfo is the global account long/short positioning snapshot.
type LongShortInfo struct {
	LongAccount    float64
	ShortAccount   float64
	LongShortRatio float64
}

func (c *BinanceClient) LongShortRatio(ctx context.Context, symbol, period string) (*LongShortInfo, error) {
	params := url.Values{"symbol": {symbol}, "period": {period}, "limit": {"1"}}
	var resp []longShortResponse
	if err := c.get(ctx, "/futures/data/globalLongShortAccountRatio", params, &resp); err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, fmt.Errorf("empty long/short response for %s", symbol)
	}

	latest := resp[len(resp)-1]
	long, err := strconv.ParseFloat(latest.LongAccount, 64)
	if err != nil {
		return nil, fmt.Errorf("parse long account: %w", err)
	}
	short, err := strconv.ParseFloat(latest.ShortAccount, 64)
	if err != nil {
		return nil, fmt.Errorf("parse short account: %w", err)
	}
	ratio, err := strconv.ParseFloat(latest.LongShortRatio, 64)
	if err != nil {
		return nil, fmt.Errorf("parse ratio: %w", err)
	}
	return &LongShortInfo{LongAccount: long, ShortAccount: short, LongShortRatio: ratio}, nil
}

// ==================== KLINES ====================

// KlineData is one candle as returned by /fapi/v1/klines.
type KlineData struct {
	OpenTime  int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime int64
}

func (c *BinanceClient) Klines(ctx context.Context, symbol, interval string, limit int, startTime, endTime int64) ([]KlineData, error) {
	params := url.Values{"symbol": {symbol}, "interval": {interval}}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if startTime > 0 {
		params.Set("startTime", strconv.FormatInt(startTime, 10))
	}
	if endTime > 0 {
		params.Set("endTime", strconv.FormatInt(endTime, 10))
	}

	var raw [][]json.RawMessage
	if err := c.get(ctx, "/fapi/v1/klines", params, &raw); err != nil {
		return nil, err
	}

	out := make([]KlineData, 0, len(raw))
	for _, row := range raw {
		if len(row) < 7 {
			continue
		}
		k, err := parseKlineRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, nil
}

func parseKlineRow(row []json.RawMessage) (KlineData, error) {
	var k KlineData
	if err := json.Unmarshal(row[0], &k.OpenTime); err != nil {
		return k, fmt.Errorf("parse open time: %w", err)
	}
	if err := json.Unmarshal(row[6], &k.CloseTime); err != nil {
		return k, fmt.Errorf("parse close time: %w", err)
	}
	fields := []struct {
		idx int
		dst *float64
	}{
		{1, &k.Open}, {2, &k.High}, {3, &k.Low}, {4, &k.Close}, {5, &k.Volume},
	}
	for _, f := range fields {
		var s string
		if err := json.Unmarshal(row[f.idx], &s); err != nil {
			return k, fmt.Errorf("parse kline field %d: %w", f.idx, err)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return k, fmt.Errorf("parse kline field %d: %w", f.idx, err)
		}
		*f.dst = v
	}
	return k, nil
}

// ==================== ORDER BOOK ====================

// DepthLevel is one price level of the order book.
type DepthLevel struct {
	Price    float64
	Quantity float64
}

type depthResponse struct {
	Bids [][]string `json:"bids"`
	Asks [][]string `json:"asks"`
}

// Depth returns the order book bid and ask levels.
func (c *BinanceClient) Depth(ctx context.Context, symbol string, limit int) (bids, asks []DepthLevel, err error) {
	params := url.Values{"symbol": {symbol}, "limit": {strconv.Itoa(limit)}}
	var resp depthResponse
	if err := c.get(ctx, "/fapi/v1/depth", params, &resp); err != nil {
		return nil, nil, err
	}

	bids, err = parseLevels(resp.Bids)
	if err != nil {
		return nil, nil, fmt.Errorf("parse bids: %w", err)
	}
	asks, err = parseLevels(resp.Asks)
	if err != nil {
		return nil, nil, fmt.Errorf("parse asks: %w", err)
	}
	return bids, asks, nil
}

func parseLevels(raw [][]string) ([]DepthLevel, error) {
	out := make([]DepthLevel, 0, len(raw))
	for _, lvl := range raw {
		if len(lvl) < 2 {
			continue
		}
		price, err := strconv.ParseFloat(lvl[0], 64)
		if err != nil {
			return nil, err
		}
		qty, err := strconv.ParseFloat(lvl[1], 64)
		if err != nil {
			return nil, err
		}
		out = append(out, DepthLevel{Price: price, Quantity: qty})
	}
	return out, nil
}

// ==================== TAKER VOLUME ====================

type takerRatioResponse struct {
	BuySellRatio string `json:"buySellRatio"`
	BuyVol       string `json:"buyVol"`
	SellVol      string `json:"sellVol"`
	Timestamp    int64  `json:"timestamp"`
}

// TakerRatioData is one hourly taker buy/sell volume bucket.
type TakerRatioData struct {
	BuyVol       float64
	SellVol      float64
	BuySellRatio float64
	Timestamp    int64
}

func (c *BinanceClient) TakerRatios(ctx context.Context, symbol, period string, limit int) ([]TakerRatioData, error) {
	params := url.Values{"symbol": {symbol}, "period": {period}, "limit": {strconv.Itoa(limit)}}
	var resp []takerRatioResponse
	if err := c.get(ctx, "/futures/data/takerlongshortRatio", params, &resp); err != nil {
		return nil, err
	}

	out := make([]TakerRatioData, 0, len(resp))
	for _, r := range resp {
		buy, err := strconv.ParseFloat(r.BuyVol, 64)
		if err != nil {
			return nil, fmt.Errorf("parse buy vol: %w", err)
		}
		sell, err := strconv.ParseFloat(r.SellVol, 64)
		if err != nil {
			return nil, fmt.Errorf("parse sell vol: %w", err)
		}
		ratio, err := strconv.ParseFloat(r.BuySellRatio, 64)
		if err != nil {
			return nil, fmt.Errorf("parse ratio: %w", err)
		}
		out = append(out, TakerRatioData{BuyVol: buy, SellVol: sell, BuySellRatio: ratio, Timestamp: r.Timestamp})
	}
	return out, nil
}
