package collectors

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"cascade-trader/internal/clock"
	"cascade-trader/internal/database"
	"cascade-trader/internal/logging"
)

// FearGreedCollector polls the alternative.me crypto fear & greed index.
type FearGreedCollector struct {
	url        string
	repo       *database.Repository
	clock      clock.Clock
	httpClient *http.Client
	log        zerolog.Logger
}

func NewFearGreedCollector(url string, repo *database.Repository, clk clock.Clock) *FearGreedCollector {
	return &FearGreedCollector{
		url:        url,
		repo:       repo,
		clock:      clk,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        logging.Component("fear_greed"),
	}
}

type fearGreedResponse struct {
	Data []struct {
		Value          string `json:"value"`
		Classification string `json:"value_classification"`
		Timestamp      string `json:"timestamp"`
	} `json:"data"`
}

func (c *FearGreedCollector) Collect(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch fear/greed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read fear/greed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fear/greed returned %d", resp.StatusCode)
	}

	var parsed fearGreedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("parse fear/greed: %w", err)
	}
	if len(parsed.Data) == 0 {
		return fmt.Errorf("empty fear/greed response")
	}

	latest := parsed.Data[0]
	value, err := strconv.Atoi(latest.Value)
	if err != nil {
		return fmt.Errorf("parse index value: %w", err)
	}
	ts, err := strconv.ParseInt(latest.Timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("parse index timestamp: %w", err)
	}

	if err := c.repo.InsertFearGreed(ctx, &database.FearGreed{
		Value:          value,
		Classification: sql.NullString{String: latest.Classification, Valid: latest.Classification != ""},
		FGTimestamp:    ts,
		CollectedAt:    c.clock.Now().Format(timeLayout),
	}); err != nil {
		return fmt.Errorf("store fear/greed: %w", err)
	}

	c.log.Debug().Int("value", value).Str("class", latest.Classification).Msg("fear/greed collected")
	return nil
}
