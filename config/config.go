package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseConfig  DatabaseConfig  `json:"database"`
	SymbolsConfig   SymbolsConfig   `json:"symbols"`
	BinanceConfig   BinanceConfig   `json:"binance"`
	CollectorConfig CollectorConfig `json:"collectors"`
	EngineConfig    EngineConfig    `json:"engines"`
	SentimentConfig SentimentConfig `json:"sentiment"`
	ProviderConfig  ProviderConfig  `json:"providers"`
	RedisConfig     RedisConfig     `json:"redis"`
	LoggingConfig   LoggingConfig   `json:"logging"`
	BacktestConfig  BacktestConfig  `json:"backtest"`
	MacroConfig     MacroConfig     `json:"macro"`
}

// DatabaseConfig holds the SQLite store locations. Live mode and backtest
// mode use separate files so a backtest never touches live history.
type DatabaseConfig struct {
	Path         string `json:"path"`
	BacktestPath string `json:"backtest_path"`
	BusyTimeout  int    `json:"busy_timeout_ms"`
}

type SymbolsConfig struct {
	Symbols []string `json:"symbols"`
}

type BinanceConfig struct {
	FuturesBaseURL string `json:"futures_base_url"`
	FuturesWSURL   string `json:"futures_ws_url"`
	// Requests per second shared across all REST collectors.
	RateLimit          float64 `json:"rate_limit"`
	RateBurst          int     `json:"rate_burst"`
	TimeoutSeconds     int     `json:"timeout_seconds"`
	WSReconnectRetries int     `json:"ws_reconnect_retries"`
	WSReconnectDelay   int     `json:"ws_reconnect_delay_seconds"`
}

// CollectorConfig holds per-collector poll intervals in seconds.
type CollectorConfig struct {
	OpenInterest   int `json:"open_interest"`
	Funding        int `json:"funding"`
	LongShort      int `json:"long_short"`
	Orderbook      int `json:"orderbook"`
	KlinesDaily    int `json:"klines_daily"`
	Klines5m       int `json:"klines_5m"`
	FearGreed      int `json:"fear_greed"`
	Onchain        int `json:"onchain"`
	MacroRefresh   int `json:"macro_refresh"`
	OrderbookDepth int `json:"orderbook_depth"`
}

// EngineConfig holds per-engine run intervals in seconds.
type EngineConfig struct {
	ATR        int `json:"atr"`
	Threshold  int `json:"threshold"`
	Grid       int `json:"grid"`
	Score      int `json:"score"`
	Strategy   int `json:"strategy"`
	Paper      int `json:"paper"`
	MacroGuard int `json:"macro_guard"`
}

type SentimentConfig struct {
	Enabled    bool   `json:"enabled"`
	APIKey     string `json:"api_key"`
	Model      string `json:"model"`
	BaseURL    string `json:"base_url"`
	DailyLimit int    `json:"daily_limit"`
}

type ProviderConfig struct {
	WhaleAlertAPIKey string `json:"whale_alert_api_key"`
	SantimentAPIKey  string `json:"santiment_api_key"`
	FearGreedURL     string `json:"fear_greed_url"`
	MacroCalendar    string `json:"macro_calendar"`
}

// RedisConfig enables the optional provider-response cache. The engine
// runs fine without it.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	TTL      int    `json:"ttl_seconds"`
}

type LoggingConfig struct {
	Level   string `json:"level"`   // debug, info, warn, error
	Console bool   `json:"console"` // human console output instead of JSON
}

type BacktestConfig struct {
	Days        int    `json:"days"`
	StepSize    int    `json:"step_size_seconds"`
	CommitEvery int    `json:"commit_every_steps"`
	WarmupDays  int    `json:"warmup_days"`
	CSVDir      string `json:"csv_dir"`
}

type MacroConfig struct {
	Tier1LeadSeconds  int `json:"tier1_lead_seconds"`
	Tier2LeadSeconds  int `json:"tier2_lead_seconds"`
	PostEventCooldown int `json:"post_event_cooldown_seconds"`
}

func Default() *Config {
	return &Config{
		DatabaseConfig: DatabaseConfig{
			Path:         "cascade.db",
			BacktestPath: "backtest.db",
			BusyTimeout:  5000,
		},
		SymbolsConfig: SymbolsConfig{
			Symbols: []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"},
		},
		BinanceConfig: BinanceConfig{
			FuturesBaseURL:     "https://fapi.binance.com",
			FuturesWSURL:       "wss://fstream.binance.com/ws/!forceOrder@arr",
			RateLimit:          5,
			RateBurst:          10,
			TimeoutSeconds:     10,
			WSReconnectRetries: 3,
			WSReconnectDelay:   10,
		},
		CollectorConfig: CollectorConfig{
			OpenInterest:   3600,
			Funding:        28800,
			LongShort:      3600,
			Orderbook:      14400,
			KlinesDaily:    86400,
			Klines5m:       300,
			FearGreed:      21600,
			Onchain:        21600,
			MacroRefresh:   3600,
			OrderbookDepth: 1000,
		},
		EngineConfig: EngineConfig{
			ATR:        86400,
			Threshold:  300,
			Grid:       14400,
			Score:      600,
			Strategy:   60,
			Paper:      60,
			MacroGuard: 300,
		},
		SentimentConfig: SentimentConfig{
			Enabled:    true,
			Model:      "gemini-2.5-flash",
			BaseURL:    "https://generativelanguage.googleapis.com/v1beta",
			DailyLimit: 25,
		},
		ProviderConfig: ProviderConfig{
			FearGreedURL:  "https://api.alternative.me/fng/",
			MacroCalendar: "macro_calendar.json",
		},
		RedisConfig: RedisConfig{
			Address: "localhost:6379",
			TTL:     300,
		},
		LoggingConfig: LoggingConfig{
			Level:   "info",
			Console: true,
		},
		BacktestConfig: BacktestConfig{
			Days:        90,
			StepSize:    300,
			CommitEvery: 200,
			WarmupDays:  100,
			CSVDir:      "backtest_results",
		},
		MacroConfig: MacroConfig{
			Tier1LeadSeconds:  14400,
			Tier2LeadSeconds:  7200,
			PostEventCooldown: 3600,
		},
	}
}

// Load reads the given JSON config file if it exists, then applies
// environment variable overrides (which take precedence). A .env file in
// the working directory is honored before the environment is read.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		loaded, err := loadFromFile(path)
		if err == nil {
			cfg = loaded
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.DatabaseConfig.Path = getEnvOrDefault("CASCADE_DB_PATH", cfg.DatabaseConfig.Path)
	cfg.DatabaseConfig.BacktestPath = getEnvOrDefault("CASCADE_BACKTEST_DB_PATH", cfg.DatabaseConfig.BacktestPath)

	if v := os.Getenv("CASCADE_SYMBOLS"); v != "" {
		cfg.SymbolsConfig.Symbols = splitSymbols(v)
	}

	cfg.BinanceConfig.FuturesBaseURL = getEnvOrDefault("BINANCE_FUTURES_BASE_URL", cfg.BinanceConfig.FuturesBaseURL)
	cfg.BinanceConfig.FuturesWSURL = getEnvOrDefault("BINANCE_FUTURES_WS_URL", cfg.BinanceConfig.FuturesWSURL)

	cfg.SentimentConfig.Enabled = getEnvOrDefault("SENTIMENT_ENABLED", boolStr(cfg.SentimentConfig.Enabled)) == "true"
	cfg.SentimentConfig.APIKey = getEnvOrDefault("GEMINI_API_KEY", cfg.SentimentConfig.APIKey)
	cfg.SentimentConfig.Model = getEnvOrDefault("GEMINI_MODEL", cfg.SentimentConfig.Model)
	cfg.SentimentConfig.DailyLimit = getEnvIntOrDefault("GEMINI_DAILY_LIMIT", cfg.SentimentConfig.DailyLimit)

	cfg.ProviderConfig.WhaleAlertAPIKey = getEnvOrDefault("WHALE_ALERT_API_KEY", cfg.ProviderConfig.WhaleAlertAPIKey)
	cfg.ProviderConfig.SantimentAPIKey = getEnvOrDefault("SANTIMENT_API_KEY", cfg.ProviderConfig.SantimentAPIKey)
	cfg.ProviderConfig.MacroCalendar = getEnvOrDefault("MACRO_CALENDAR_PATH", cfg.ProviderConfig.MacroCalendar)

	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", boolStr(cfg.RedisConfig.Enabled)) == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.Console = getEnvOrDefault("LOG_CONSOLE", boolStr(cfg.LoggingConfig.Console)) == "true"

	cfg.BacktestConfig.Days = getEnvIntOrDefault("BACKTEST_DAYS", cfg.BacktestConfig.Days)
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := json.Unmarshal(file, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func splitSymbols(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	return out
}
