package sentiment

import (
	"context"
	"fmt"
	"strings"
)

// buildMarketPrompt assembles the market snapshot the LLM is asked to
// judge. Missing data points are simply omitted.
func (c *Client) buildMarketPrompt(ctx context.Context, symbol string) (string, error) {
	var parts []string
	parts = append(parts, fmt.Sprintf("Market Data for %s:\n", symbol))

	if fg, err := c.repo.LatestFearGreed(ctx); err == nil {
		parts = append(parts, fmt.Sprintf("- Fear & Greed Index: %d (%s)", fg.Value, fg.Classification.String))
	}

	if fr, err := c.repo.LatestFunding(ctx, symbol); err == nil {
		parts = append(parts, fmt.Sprintf("- Funding Rate: %.4f%%", fr.FundingRate*100))
	}

	if ls, err := c.repo.LatestLongShort(ctx, symbol); err == nil {
		parts = append(parts, fmt.Sprintf("- Long/Short Ratio: Long %.1f%% / Short %.1f%%",
			ls.LongAccount*100, ls.ShortAccount*100))
	}

	if oi, err := c.repo.LatestOI(ctx, symbol); err == nil {
		parts = append(parts, fmt.Sprintf("- Open Interest: %.0f", oi.OpenInterest))
	}

	if klines, err := c.repo.RecentKlines(ctx, symbol, "1d", 3); err == nil && len(klines) > 0 {
		closes := make([]string, len(klines))
		for i, k := range klines {
			closes[i] = fmt.Sprintf("$%.0f", k.Close)
		}
		parts = append(parts, "- Recent closes: "+strings.Join(closes, ", "))
		if len(klines) >= 2 && klines[1].Close != 0 {
			change := (klines[0].Close - klines[1].Close) / klines[1].Close * 100
			parts = append(parts, fmt.Sprintf("- 24h price change: %+.2f%%", change))
		}
	}

	nowMs := c.clock.Unix() * 1000
	if buy, sell, err := c.repo.LiquidationTotals(ctx, symbol, nowMs-3600_000); err == nil {
		if buy > 0 {
			parts = append(parts, fmt.Sprintf("- Short liquidations (1h): $%.0f", buy))
		}
		if sell > 0 {
			parts = append(parts, fmt.Sprintf("- Long liquidations (1h): $%.0f", sell))
		}
	}

	parts = append(parts, "\nBased on this data, what is the overall market sentiment?")
	return strings.Join(parts, "\n"), nil
}
