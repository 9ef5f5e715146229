// Package backtest replays historical market data through the live
// engines against a separate database. The same engine, strategy and
// paper-trading code runs in both modes; only the clock and the data
// arrival differ.
package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"cascade-trader/internal/collectors"
	"cascade-trader/config"
	"cascade-trader/internal/database"
	"cascade-trader/internal/logging"
)

const (
	klinePageLimit = 1500
	// The /futures/data statistics endpoints cap history at ~30 days.
	statsHistoryLimit = 500
	statsPeriod       = "1h"
)

// Downloader fills the backtest database with historical data.
type Downloader struct {
	client     *collectors.BinanceClient
	repo       *database.Repository
	cfg        config.BacktestConfig
	fgURL      string
	httpClient *http.Client
	log        zerolog.Logger
}

func NewDownloader(client *collectors.BinanceClient, repo *database.Repository, cfg config.BacktestConfig, fearGreedURL string) *Downloader {
	return &Downloader{
		client:     client,
		repo:       repo,
		cfg:        cfg,
		fgURL:      fearGreedURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        logging.Component("backtest_downloader"),
	}
}

// Download fetches everything one symbol needs: daily klines back to the
// warm-up horizon, 5m klines for the test window, funding history, and
// the ~30 days of statistics the exchange still serves.
func (d *Downloader) Download(ctx context.Context, symbol string, start, end time.Time) error {
	warmupStart := start.Add(-time.Duration(d.cfg.WarmupDays) * 24 * time.Hour)

	if err := d.downloadKlines(ctx, symbol, "1d", warmupStart, end); err != nil {
		return fmt.Errorf("daily klines: %w", err)
	}
	if err := d.downloadKlines(ctx, symbol, "5m", start, end); err != nil {
		return fmt.Errorf("5m klines: %w", err)
	}
	if err := d.downloadFunding(ctx, symbol, start, end); err != nil {
		return fmt.Errorf("funding history: %w", err)
	}
	if err := d.downloadOpenInterest(ctx, symbol); err != nil {
		return fmt.Errorf("open interest history: %w", err)
	}
	if err := d.downloadLongShort(ctx, symbol); err != nil {
		return fmt.Errorf("long/short history: %w", err)
	}
	if err := d.downloadTakerRatios(ctx, symbol); err != nil {
		return fmt.Errorf("taker history: %w", err)
	}
	return nil
}

// DownloadShared fetches the symbol-independent feeds.
func (d *Downloader) DownloadShared(ctx context.Context, days int) error {
	if err := d.downloadFearGreed(ctx, days); err != nil {
		return fmt.Errorf("fear/greed history: %w", err)
	}
	return nil
}

func (d *Downloader) downloadKlines(ctx context.Context, symbol, interval string, start, end time.Time) error {
	cursor := start.UnixMilli()
	endMs := end.UnixMilli()
	total := 0

	for cursor < endMs {
		klines, err := d.client.Klines(ctx, symbol, interval, klinePageLimit, cursor, endMs)
		if err != nil {
			return err
		}
		if len(klines) == 0 {
			break
		}

		for _, k := range klines {
			row := &database.Kline{
				Symbol: symbol, Interval: interval, OpenTime: k.OpenTime,
				Open: k.Open, High: k.High, Low: k.Low, Close: k.Close,
				Volume: k.Volume, CloseTime: k.CloseTime,
			}
			if err := d.repo.InsertKlineIgnore(ctx, row); err != nil {
				return err
			}
		}
		total += len(klines)
		cursor = klines[len(klines)-1].CloseTime + 1
	}

	d.log.Info().Str("symbol", symbol).Str("interval", interval).Int("candles", total).Msg("klines downloaded")
	return nil
}

func (d *Downloader) downloadFunding(ctx context.Context, symbol string, start, end time.Time) error {
	cursor := start.UnixMilli()
	endMs := end.UnixMilli()
	total := 0

	for cursor < endMs {
		events, err := d.client.FundingHistory(ctx, symbol, cursor, endMs, 1000)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			break
		}

		for _, ev := range events {
			row := &database.FundingRate{
				Symbol:      symbol,
				FundingRate: ev.Rate,
				CollectedAt: msToTimestamp(ev.Time),
			}
			if err := d.repo.InsertFundingRate(ctx, row); err != nil {
				return err
			}
		}
		total += len(events)
		cursor = events[len(events)-1].Time + 1
	}

	d.log.Info().Str("symbol", symbol).Int("payments", total).Msg("funding history downloaded")
	return nil
}

func (d *Downloader) downloadOpenInterest(ctx context.Context, symbol string) error {
	events, err := d.client.OpenInterestHistory(ctx, symbol, statsPeriod, statsHistoryLimit)
	if err != nil {
		return err
	}
	for _, ev := range events {
		row := &database.OISnapshot{
			Symbol: symbol, OpenInterest: ev.OpenInterest, CollectedAt: msToTimestamp(ev.Time),
		}
		if err := d.repo.InsertOISnapshot(ctx, row); err != nil {
			return err
		}
	}
	d.log.Info().Str("symbol", symbol).Int("points", len(events)).Msg("open interest history downloaded")
	return nil
}

func (d *Downloader) downloadLongShort(ctx context.Context, symbol string) error {
	events, err := d.client.LongShortHistory(ctx, symbol, statsPeriod, statsHistoryLimit)
	if err != nil {
		return err
	}
	for _, ev := range events {
		row := &database.LongShortRatio{
			Symbol: symbol, LongAccount: ev.LongAccount, ShortAccount: ev.ShortAccount,
			LongShortRatio: ev.LongShortRatio, CollectedAt: msToTimestamp(ev.Time),
		}
		if err := d.repo.InsertLongShortRatio(ctx, row); err != nil {
			return err
		}
	}
	d.log.Info().Str("symbol", symbol).Int("points", len(events)).Msg("long/short history downloaded")
	return nil
}

func (d *Downloader) downloadTakerRatios(ctx context.Context, symbol string) error {
	buckets, err := d.client.TakerRatios(ctx, symbol, statsPeriod, statsHistoryLimit)
	if err != nil {
		return err
	}
	for _, b := range buckets {
		row := &database.TakerRatio{
			Symbol: symbol, BuyVol: b.BuyVol, SellVol: b.SellVol,
			BuySellRatio: b.BuySellRatio, Timestamp: b.Timestamp,
			CollectedAt: msToTimestamp(b.Timestamp),
		}
		if err := d.repo.UpsertTakerRatio(ctx, row); err != nil {
			return err
		}
	}
	d.log.Info().Str("symbol", symbol).Int("buckets", len(buckets)).Msg("taker history downloaded")
	return nil
}

type fearGreedHistoryResponse struct {
	Data []struct {
		Value          string `json:"value"`
		Classification string `json:"value_classification"`
		Timestamp      string `json:"timestamp"`
	} `json:"data"`
}

func (d *Downloader) downloadFearGreed(ctx context.Context, days int) error {
	u := fmt.Sprintf("%s?limit=%d", d.fgURL, days)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fear/greed returned %d", resp.StatusCode)
	}

	var parsed fearGreedHistoryResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return err
	}

	for _, entry := range parsed.Data {
		value, err := strconv.Atoi(entry.Value)
		if err != nil {
			continue
		}
		ts, err := strconv.ParseInt(entry.Timestamp, 10, 64)
		if err != nil {
			continue
		}
		row := &database.FearGreed{
			Value:       value,
			FGTimestamp: ts,
			CollectedAt: msToTimestamp(ts * 1000),
		}
		if entry.Classification != "" {
			row.Classification.String = entry.Classification
			row.Classification.Valid = true
		}
		if err := d.repo.InsertFearGreed(ctx, row); err != nil {
			return err
		}
	}

	d.log.Info().Int("days", len(parsed.Data)).Msg("fear/greed history downloaded")
	return nil
}

func msToTimestamp(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05Z07:00")
}
