package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is the environment variable prefix, e.g. CHARTD_SYMBOL.
const Prefix = "CHARTD"

// Quote sources understood by the daemon.
const (
	QuoteRedis = "redis"
	QuoteWS    = "ws"
	QuoteNone  = "none"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Symbol   string `envconfig:"SYMBOL" default:"BTCUSD" validate:"required"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Infrastructure
	SQLitePath    string `envconfig:"SQLITE_PATH" default:"data/chart.db" validate:"required"`
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0" validate:"gte=0"`
	HTTPAddr      string `envconfig:"HTTP_ADDR" default:":8080"`
	MetricsAddr   string `envconfig:"METRICS_ADDR" default:":9090"`

	// Last-price source
	QuoteSource    string        `envconfig:"QUOTE_SOURCE" default:"redis" validate:"oneof=redis ws none"`
	QuoteKey       string        `envconfig:"QUOTE_KEY"`
	QuoteURL       string        `envconfig:"QUOTE_URL"`
	SampleInterval time.Duration `envconfig:"SAMPLE_INTERVAL" default:"250ms"`

	// Headless chart geometry
	PriceTop       float64       `envconfig:"PRICE_TOP" default:"0"`
	PriceBottom    float64       `envconfig:"PRICE_BOTTOM" default:"600"`
	PriceMin       float64       `envconfig:"PRICE_MIN"`
	PriceMax       float64       `envconfig:"PRICE_MAX"`
	PlotWidth      float64       `envconfig:"PLOT_WIDTH" default:"1200" validate:"gt=0"`
	BarSpacing     float64       `envconfig:"BAR_SPACING" default:"8" validate:"gt=0"`
	BarInterval    time.Duration `envconfig:"BAR_INTERVAL" default:"1m"`
	VisibleCandles int           `envconfig:"VISIBLE_CANDLES" default:"500" validate:"gt=0"`
	// BuildBars grows candle history from sampled prices instead of the
	// Redis candle channel.
	BuildBars bool `envconfig:"BUILD_BARS" default:"false"`

	// Alerts
	RulesFile    string `envconfig:"RULES_FILE"`
	AlertChannel string `envconfig:"ALERT_CHANNEL" default:"chart:alerts"`
	QueueSize    int    `envconfig:"QUEUE_SIZE" default:"1024" validate:"gt=0"`

	// Sinks
	WebhookURL     string `envconfig:"WEBHOOK_URL" validate:"omitempty,url"`
	TelegramToken  string `envconfig:"TELEGRAM_TOKEN"`
	TelegramChatID string `envconfig:"TELEGRAM_CHAT_ID"`
	KafkaBrokers   string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic     string `envconfig:"KAFKA_TOPIC" default:"chart.alerts"`

	// Overlays, e.g. "SMA:20,EMA:9,BB:20:2,VWAP"
	OverlaySpecs string `envconfig:"OVERLAYS"`
	OverlayCron  string `envconfig:"OVERLAY_CRON" default:"@every 1m"`
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	// .env is optional; the process environment always wins.
	if err := godotenv.Load(); err == nil {
		slog.Debug("loaded .env")
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.QuoteKey == "" {
		cfg.QuoteKey = "ltp:" + cfg.Symbol
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New()

// Validate checks field constraints and the cross-field rules envconfig
// cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if strings.TrimSpace(c.Symbol) == "" {
		return fmt.Errorf("config: symbol is blank")
	}
	if c.PriceBottom <= c.PriceTop {
		return fmt.Errorf("config: price pixel band inverted (top=%v bottom=%v)", c.PriceTop, c.PriceBottom)
	}
	if (c.PriceMin != 0 || c.PriceMax != 0) && c.PriceMax <= c.PriceMin {
		return fmt.Errorf("config: price range inverted (min=%v max=%v)", c.PriceMin, c.PriceMax)
	}
	if c.BarInterval <= 0 {
		return fmt.Errorf("config: bar interval must be positive")
	}
	switch c.QuoteSource {
	case QuoteRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("config: quote source redis needs %s_REDIS_ADDR", Prefix)
		}
	case QuoteWS:
		if c.QuoteURL == "" {
			return fmt.Errorf("config: quote source ws needs %s_QUOTE_URL", Prefix)
		}
	}
	if (c.TelegramToken == "") != (c.TelegramChatID == "") {
		return fmt.Errorf("config: telegram needs both token and chat id")
	}
	return nil
}

// FixedPriceRange reports whether the price axis is pinned by configuration
// rather than fitted to loaded history.
func (c *Config) FixedPriceRange() bool {
	return c.PriceMax > c.PriceMin
}
