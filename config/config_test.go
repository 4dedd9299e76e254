package config

import (
	"strings"
	"testing"
	"time"
)

func setenv(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		t.Setenv(Prefix+"_"+k, v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	setenv(t, map[string]string{"REDIS_ADDR": "localhost:6379"})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Symbol != "BTCUSD" {
		t.Errorf("expected default symbol BTCUSD, got %q", cfg.Symbol)
	}
	if cfg.QuoteKey != "ltp:BTCUSD" {
		t.Errorf("expected derived quote key, got %q", cfg.QuoteKey)
	}
	if cfg.SampleInterval != 250*time.Millisecond {
		t.Errorf("expected 250ms sample interval, got %v", cfg.SampleInterval)
	}
	if cfg.VisibleCandles != 500 {
		t.Errorf("expected 500 visible candles, got %d", cfg.VisibleCandles)
	}
	if cfg.FixedPriceRange() {
		t.Error("price range should not be fixed by default")
	}
}

func TestLoad_Overrides(t *testing.T) {
	setenv(t, map[string]string{
		"SYMBOL":          "ETHUSD",
		"QUOTE_SOURCE":    "ws",
		"QUOTE_URL":       "wss://feed.example/trades",
		"SAMPLE_INTERVAL": "1s",
		"PRICE_MIN":       "1000",
		"PRICE_MAX":       "2000",
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Symbol != "ETHUSD" || cfg.QuoteSource != QuoteWS {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.SampleInterval != time.Second {
		t.Errorf("expected 1s, got %v", cfg.SampleInterval)
	}
	if !cfg.FixedPriceRange() {
		t.Error("expected fixed price range")
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Symbol:         "BTCUSD",
			SQLitePath:     ":memory:",
			QuoteSource:    QuoteNone,
			PriceTop:       0,
			PriceBottom:    600,
			PlotWidth:      1200,
			BarSpacing:     8,
			BarInterval:    time.Minute,
			VisibleCandles: 100,
			QueueSize:      16,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"blank symbol", func(c *Config) { c.Symbol = "  " }, "symbol"},
		{"inverted pixels", func(c *Config) { c.PriceTop, c.PriceBottom = 600, 0 }, "pixel band"},
		{"inverted range", func(c *Config) { c.PriceMin, c.PriceMax = 200, 100 }, "price range"},
		{"zero bar interval", func(c *Config) { c.BarInterval = 0 }, "bar interval"},
		{"unknown quote source", func(c *Config) { c.QuoteSource = "carrier-pigeon" }, "QuoteSource"},
		{"redis without addr", func(c *Config) { c.QuoteSource = QuoteRedis }, "REDIS_ADDR"},
		{"ws without url", func(c *Config) { c.QuoteSource = QuoteWS }, "QUOTE_URL"},
		{"half telegram", func(c *Config) { c.TelegramToken = "tok" }, "telegram"},
		{"bad webhook", func(c *Config) { c.WebhookURL = "not a url" }, "WebhookURL"},
		{"zero visible candles", func(c *Config) { c.VisibleCandles = 0 }, "VisibleCandles"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
