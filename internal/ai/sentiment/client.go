// Package sentiment scores market narrative via an LLM. Calls are
// budgeted per day and each verdict is a majority vote over several
// independent completions.
package sentiment

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

	"cascade-trader/config"
	"cascade-trader/internal/clock"
	"cascade-trader/internal/database"
	"cascade-trader/internal/logging"
)

const systemPrompt = `You are a crypto market sentiment analyst. Analyze the given market data and determine the overall sentiment direction.

Respond ONLY with a JSON object in this exact format:
{"sentiment": "bullish" or "bearish" or "neutral", "confidence": 0.0 to 1.0}

Rules:
- "bullish" means you expect prices to rise
- "bearish" means you expect prices to fall
- "neutral" means no clear direction
- confidence is how certain you are (0.0 = no confidence, 1.0 = very confident)
- Consider ALL data points, not just one indicator
- Be conservative: if signals are mixed, lean toward "neutral"`

// MajorityResult is the outcome of a majority-vote analysis.
type MajorityResult struct {
	Sentiment      string         // bullish, bearish or neutral
	Confidence     float64        // mean confidence across calls
	Agreement      float64        // majority votes / total votes
	Votes          map[string]int
	CallsUsed      int
	BudgetExceeded bool
}

// Analyzer is what the scorer depends on. The live client and the
// backtest stub both satisfy it.
type Analyzer interface {
	AnalyzeMajority(ctx context.Context, symbol string, calls int) (*MajorityResult, error)
}

// Client calls a Gemini-style generateContent endpoint.
type Client struct {
	cfg     config.SentimentConfig
	repo    *database.Repository
	clock   clock.Clock
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

func NewClient(cfg config.SentimentConfig, repo *database.Repository, clk clock.Clock) *Client {
	return &Client{
		cfg:   cfg,
		repo:  repo,
		clock: clk,
		http:  &http.Client{Timeout: 15 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "sentiment-llm",
			Timeout: 60 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
		}),
		log: logging.Component("sentiment"),
	}
}

// AnalyzeMajority runs up to calls completions over the same market
// prompt and returns the majority sentiment. When the daily budget would
// be exceeded it returns a neutral result without calling out.
func (c *Client) AnalyzeMajority(ctx context.Context, symbol string, calls int) (*MajorityResult, error) {
	today := c.clock.Today()
	used, err := c.repo.LLMCallsUsed(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("check llm budget: %w", err)
	}
	if used+calls > c.cfg.DailyLimit {
		c.log.Warn().Int("used", used).Int("limit", c.cfg.DailyLimit).Msg("daily llm budget exceeded")
		return &MajorityResult{Sentiment: "neutral", BudgetExceeded: true}, nil
	}

	prompt, err := c.buildMarketPrompt(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("build prompt: %w", err)
	}

	votes := make(map[string]int)
	var confidenceSum float64
	actual := 0
	for i := 0; i < calls; i++ {
		verdict, confidence := c.analyzeOnce(ctx, prompt)
		actual++
		votes[verdict]++
		confidenceSum += confidence
	}

	if err := c.repo.RecordLLMCalls(ctx, today, actual); err != nil {
		return nil, fmt.Errorf("record llm usage: %w", err)
	}

	majority := "neutral"
	majorityCount := 0
	for s, n := range votes {
		if n > majorityCount {
			majority = s
			majorityCount = n
		}
	}

	return &MajorityResult{
		Sentiment:  majority,
		Confidence: confidenceSum / float64(actual),
		Agreement:  float64(majorityCount) / float64(actual),
		Votes:      votes,
		CallsUsed:  actual,
	}, nil
}

// analyzeOnce performs one completion. Any failure degrades to neutral
// with zero confidence; sentiment must never take the engine down.
func (c *Client) analyzeOnce(ctx context.Context, prompt string) (string, float64) {
	raw, err := c.breaker.Execute(func() (interface{}, error) {
		return c.generate(ctx, prompt)
	})
	if err != nil {
		c.log.Warn().Err(err).Msg("llm call failed")
		return "neutral", 0
	}

	verdict, confidence, err := parseVerdict(raw.(string))
	if err != nil {
		c.log.Warn().Err(err).Msg("unparseable llm response")
		return "neutral", 0
	}
	return verdict, confidence
}

type generateRequest struct {
	SystemInstruction *content         `json:"system_instruction,omitempty"`
	Contents          []content        `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	reqBody := generateRequest{
		SystemInstruction: &content{Parts: []part{{Text: systemPrompt}}},
		Contents:          []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig:  generationConfig{Temperature: 0.3, MaxOutputTokens: 100},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.cfg.BaseURL, c.cfg.Model, c.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llm api status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var gr generateResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return "", fmt.Errorf("decode llm response: %w", err)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty llm response")
	}
	return gr.Candidates[0].Content.Parts[0].Text, nil
}

// parseVerdict extracts {"sentiment": ..., "confidence": ...}, tolerating
// a markdown code fence around the JSON.
func parseVerdict(text string) (string, float64, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		parts := strings.SplitN(text, "```", 3)
		if len(parts) >= 2 {
			text = parts[1]
		}
		text = strings.TrimPrefix(text, "json")
		text = strings.TrimSpace(text)
	}

	var v struct {
		Sentiment  string  `json:"sentiment"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return "", 0, err
	}

	switch v.Sentiment {
	case "bullish", "bearish", "neutral":
	default:
		v.Sentiment = "neutral"
	}
	if v.Confidence < 0 {
		v.Confidence = 0
	}
	if v.Confidence > 1 {
		v.Confidence = 1
	}
	return v.Sentiment, v.Confidence, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Neutral is the backtest stand-in: no network, no budget, always a
// weak neutral verdict.
type Neutral struct{}

func (Neutral) AnalyzeMajority(ctx context.Context, symbol string, calls int) (*MajorityResult, error) {
	return &MajorityResult{
		Sentiment: "neutral",
		Agreement: 0.33,
		Votes:     map[string]int{"neutral": 1},
	}, nil
}
