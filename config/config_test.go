package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultSymbols(t *testing.T) {
	cfg := Default()

	if len(cfg.SymbolsConfig.Symbols) != 3 {
		t.Fatalf("Expected 3 default symbols, got %d", len(cfg.SymbolsConfig.Symbols))
	}
	if cfg.SymbolsConfig.Symbols[0] != "BTCUSDT" {
		t.Errorf("Expected BTCUSDT first, got %s", cfg.SymbolsConfig.Symbols[0])
	}
}

func TestEnvOverrides(t *testing.T) {
	os.Setenv("CASCADE_SYMBOLS", "btcusdt, ethusdt")
	os.Setenv("GEMINI_DAILY_LIMIT", "50")
	defer os.Unsetenv("CASCADE_SYMBOLS")
	defer os.Unsetenv("GEMINI_DAILY_LIMIT")

	cfg := Default()
	applyEnvOverrides(cfg)

	if len(cfg.SymbolsConfig.Symbols) != 2 {
		t.Fatalf("Expected 2 symbols, got %d", len(cfg.SymbolsConfig.Symbols))
	}
	if cfg.SymbolsConfig.Symbols[0] != "BTCUSDT" {
		t.Errorf("Expected uppercased BTCUSDT, got %s", cfg.SymbolsConfig.Symbols[0])
	}
	if cfg.SentimentConfig.DailyLimit != 50 {
		t.Errorf("Expected daily limit 50, got %d", cfg.SentimentConfig.DailyLimit)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	data := `{"database":{"path":"custom.db"},"backtest":{"days":30}}`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.DatabaseConfig.Path != "custom.db" {
		t.Errorf("Expected custom.db, got %s", cfg.DatabaseConfig.Path)
	}
	if cfg.BacktestConfig.Days != 30 {
		t.Errorf("Expected 30 days, got %d", cfg.BacktestConfig.Days)
	}
	// Fields absent from the file keep defaults.
	if cfg.EngineConfig.Strategy != 60 {
		t.Errorf("Expected default strategy interval 60, got %d", cfg.EngineConfig.Strategy)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load returned error for missing file: %v", err)
	}
	if cfg.DatabaseConfig.Path == "" {
		t.Error("Expected default database path")
	}
}
