package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"chartcore/internal/indicator"
	"chartcore/internal/model"
)

const defaultOverlayTTL = 30 * time.Minute

// Config configures the Redis client.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Client reads last prices and publishes alert events and overlay values.
type Client struct {
	client *goredis.Client
}

// Open creates a Client and pings the server.
func Open(cfg Config) (*Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	slog.Info("redis connected", "addr", cfg.Addr)
	return &Client{client: client}, nil
}

// Raw returns the underlying Redis client for health checks.
func (c *Client) Raw() *goredis.Client { return c.client }

// LastPrice reads the price stored under key. ok is false when the key is
// missing; a malformed value is an error.
func (c *Client) LastPrice(ctx context.Context, key string) (price float64, ok bool, err error) {
	raw, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	price, err = ParsePrice([]byte(raw))
	if err != nil {
		return 0, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return price, true, nil
}

// ParsePrice accepts either a bare number or a JSON object carrying a
// "price" (or "last") field.
func ParsePrice(raw []byte) (float64, error) {
	s := strings.TrimSpace(string(raw))
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, nil
	}
	var msg struct {
		Price *float64 `json:"price"`
		Last  *float64 `json:"last"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return 0, fmt.Errorf("parse price %q: %w", s, err)
	}
	switch {
	case msg.Price != nil:
		return *msg.Price, nil
	case msg.Last != nil:
		return *msg.Last, nil
	}
	return 0, fmt.Errorf("parse price %q: no price field", s)
}

// PublishEvent publishes one alert event as JSON on channel.
func (c *Client) PublishEvent(ctx context.Context, channel string, ev model.AlertEvent) error {
	return c.client.Publish(ctx, channel, ev.JSON()).Err()
}

// WriteOverlays stores the latest value of every overlay line in the hash
// "overlay:{symbol}", field "{overlay}.{line}". Null values are written as
// empty strings.
func (c *Client) WriteOverlays(ctx context.Context, symbol string, overlays []indicator.Overlay) error {
	key := "overlay:" + symbol
	fields := make(map[string]interface{})
	for _, o := range overlays {
		for line, s := range o.Lines {
			v := ""
			if n := len(s); n > 0 && s[n-1].Valid {
				v = strconv.FormatFloat(s[n-1].Float, 'f', -1, 64)
			}
			fields[o.Name+"."+line] = v
		}
	}
	if len(fields) == 0 {
		return nil
	}

	pipe := c.client.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, defaultOverlayTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis write overlays %s: %w", key, err)
	}
	return nil
}

// SubscribeCandles delivers every candle published as JSON on channel
// until ctx is cancelled. Malformed payloads are logged and skipped.
func (c *Client) SubscribeCandles(ctx context.Context, channel string) (<-chan model.Candle, error) {
	pubsub := c.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}

	out := make(chan model.Candle, 64)
	go func() {
		defer close(out)
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var cdl model.Candle
				if err := json.Unmarshal([]byte(msg.Payload), &cdl); err != nil {
					slog.Warn("skipping malformed candle", "channel", channel, "error", err)
					continue
				}
				select {
				case out <- cdl:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Close closes the Redis client.
func (c *Client) Close() error {
	return c.client.Close()
}
