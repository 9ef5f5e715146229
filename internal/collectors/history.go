package collectors

import (
	"context"
	"net/url"
	"strconv"
)

// Historical endpoints used by the backtest downloader. The /futures/data
// statistics endpoints only keep roughly 30 days of history, which bounds
// how far back open interest, positioning and taker data can reach.

type fundingHistoryResponse struct {
	Symbol      string `json:"symbol"`
	FundingRate string `json:"fundingRate"`
	FundingTime int64  `json:"fundingTime"`
}

// FundingEvent is one settled funding payment.
type FundingEvent struct {
	Rate float64
	Time int64 // epoch ms
}

// FundingHistory returns settled funding payments between startTime and
// endTime (epoch ms), oldest first.
func (c *BinanceClient) FundingHistory(ctx context.Context, symbol string, startTime, endTime int64, limit int) ([]FundingEvent, error) {
	params := url.Values{"symbol": {symbol}}
	if startTime > 0 {
		params.Set("startTime", strconv.FormatInt(startTime, 10))
	}
	if endTime > 0 {
		params.Set("endTime", strconv.FormatInt(endTime, 10))
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var resp []fundingHistoryResponse
	if err := c.get(ctx, "/fapi/v1/fundingRate", params, &resp); err != nil {
		return nil, err
	}

	out := make([]FundingEvent, 0, len(resp))
	for _, r := range resp {
		rate, err := strconv.ParseFloat(r.FundingRate, 64)
		if err != nil {
			continue
		}
		out = append(out, FundingEvent{Rate: rate, Time: r.FundingTime})
	}
	return out, nil
}

type oiHistResponse struct {
	SumOpenInterest string `json:"sumOpenInterest"`
	Timestamp       int64  `json:"timestamp"`
}

// OIEvent is one historical open-interest point.
type OIEvent struct {
	OpenInterest float64
	Time         int64 // epoch ms
}

// OpenInterestHistory returns open-interest statistics, oldest first.
func (c *BinanceClient) OpenInterestHistory(ctx context.Context, symbol, period string, limit int) ([]OIEvent, error) {
	params := url.Values{"symbol": {symbol}, "period": {period}, "limit": {strconv.Itoa(limit)}}
	var resp []oiHistResponse
	if err := c.get(ctx, "/futures/data/openInterestHist", params, &resp); err != nil {
		return nil, err
	}

	out := make([]OIEvent, 0, len(resp))
	for _, r := range resp {
		oi, err := strconv.ParseFloat(r.SumOpenInterest, 64)
		if err != nil {
			continue
		}
		out = append(out, OIEvent{OpenInterest: oi, Time: r.Timestamp})
	}
	return out, nil
}

type lsHistResponse struct {
	LongAccount    string `json:"longAccount"`
	ShortAccount   string `json:"shortAccount"`
	LongShortRatio string `json:"longShortRatio"`
	Timestamp      int64  `json:"timestamp"`
}

// LongShortEvent is one historical positioning point.
type LongShortEvent struct {
	LongAccount    float64
	ShortAccount   float64
	LongShortRatio float64
	Time           int64 // epoch ms
}

// LongShortHistory returns global account positioning, oldest first.
func (c *BinanceClient) LongShortHistory(ctx context.Context, symbol, period string, limit int) ([]LongShortEvent, error) {
	params := url.Values{"symbol": {symbol}, "period": {period}, "limit": {strconv.Itoa(limit)}}
	var resp []lsHistResponse
	if err := c.get(ctx, "/futures/data/globalLongShortAccountRatio", params, &resp); err != nil {
		return nil, err
	}

	out := make([]LongShortEvent, 0, len(resp))
	for _, r := range resp {
		long, err1 := strconv.ParseFloat(r.LongAccount, 64)
		short, err2 := strconv.ParseFloat(r.ShortAccount, 64)
		ratio, err3 := strconv.ParseFloat(r.LongShortRatio, 64)
		if err1 != nil || err2 != nil || err3 != nil {
			continue
		}
		out = append(out, LongShortEvent{
			LongAccount: long, ShortAccount: short, LongShortRatio: ratio, Time: r.Timestamp,
		})
	}
	return out, nil
}
