package sentiment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"cascade-trader/config"
	"cascade-trader/internal/clock"
	"cascade-trader/internal/database"
)

func TestParseVerdictPlainJSON(t *testing.T) {
	s, conf, err := parseVerdict(`{"sentiment": "bullish", "confidence": 0.8}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s != "bullish" || conf != 0.8 {
		t.Errorf("Expected bullish/0.8, got %s/%f", s, conf)
	}
}

func TestParseVerdictCodeFence(t *testing.T) {
	text := "```json\n{\"sentiment\": \"bearish\", \"confidence\": 0.6}\n```"
	s, conf, err := parseVerdict(text)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s != "bearish" || conf != 0.6 {
		t.Errorf("Expected bearish/0.6, got %s/%f", s, conf)
	}
}

func TestParseVerdictUnknownSentiment(t *testing.T) {
	s, _, err := parseVerdict(`{"sentiment": "moon", "confidence": 2.5}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s != "neutral" {
		t.Errorf("Expected unknown sentiment coerced to neutral, got %s", s)
	}
}

func newSentimentRepo(t *testing.T) *database.Repository {
	t.Helper()
	db, err := database.NewDB(database.Config{Path: filepath.Join(t.TempDir(), "s.db")})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.RunMigrations(context.Background()); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	return database.NewRepository(db)
}

func TestAnalyzeMajorityVote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"{\"sentiment\": \"bullish\", \"confidence\": 0.9}"}]}}]}`))
	}))
	defer server.Close()

	repo := newSentimentRepo(t)
	clk := clock.NewVirtual(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	client := NewClient(config.SentimentConfig{
		APIKey: "k", Model: "test-model", BaseURL: server.URL, DailyLimit: 25,
	}, repo, clk)

	res, err := client.AnalyzeMajority(context.Background(), "BTCUSDT", 3)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if res.Sentiment != "bullish" {
		t.Errorf("Expected bullish, got %s", res.Sentiment)
	}
	if res.Agreement != 1.0 {
		t.Errorf("Expected full agreement, got %f", res.Agreement)
	}
	if res.CallsUsed != 3 {
		t.Errorf("Expected 3 calls used, got %d", res.CallsUsed)
	}

	used, err := repo.LLMCallsUsed(context.Background(), "2025-03-01")
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if used != 3 {
		t.Errorf("Expected 3 calls recorded, got %d", used)
	}
}

func TestAnalyzeMajorityBudgetExceeded(t *testing.T) {
	repo := newSentimentRepo(t)
	clk := clock.NewVirtual(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	if err := repo.RecordLLMCalls(context.Background(), "2025-03-01", 24); err != nil {
		t.Fatalf("seed usage: %v", err)
	}

	client := NewClient(config.SentimentConfig{
		APIKey: "k", Model: "test-model", BaseURL: "http://127.0.0.1:1", DailyLimit: 25,
	}, repo, clk)

	res, err := client.AnalyzeMajority(context.Background(), "BTCUSDT", 3)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if !res.BudgetExceeded {
		t.Error("Expected budget exceeded")
	}
	if res.Sentiment != "neutral" || res.CallsUsed != 0 {
		t.Errorf("Expected neutral with 0 calls, got %s/%d", res.Sentiment, res.CallsUsed)
	}

	// Counter must be untouched.
	used, _ := repo.LLMCallsUsed(context.Background(), "2025-03-01")
	if used != 24 {
		t.Errorf("Expected usage unchanged at 24, got %d", used)
	}
}

func TestNeutralStub(t *testing.T) {
	res, err := Neutral{}.AnalyzeMajority(context.Background(), "BTCUSDT", 3)
	if err != nil {
		t.Fatalf("stub: %v", err)
	}
	if res.Sentiment != "neutral" || res.Agreement != 0.33 {
		t.Errorf("Unexpected stub result: %+v", res)
	}
}
