package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

// Trade is the JSON message expected on the feed:
//
//	{"symbol":"BTCUSD","price":64012.5,"ts":"2024-05-06T14:30:00Z"}
type Trade struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	TS     time.Time `json:"ts"`
}

// WSConfig holds configuration for the WebSocket feed.
type WSConfig struct {
	// URL of the trade feed, e.g. "ws://localhost:9001/ws".
	URL string
	// Symbol filters trades; empty accepts every message.
	Symbol string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
}

func (c *WSConfig) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// WSFeed connects to a plain-JSON trade feed and keeps the last price.
type WSFeed struct {
	Latest
	cfg WSConfig

	// Optional hooks
	OnConnect    func()
	OnDisconnect func(err error)
}

// NewWSFeed returns an error if the URL is not a ws:// or wss:// URL.
func NewWSFeed(cfg WSConfig) (*WSFeed, error) {
	cfg.defaults()
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("quote feed: unsupported scheme %q", u.Scheme)
	}
	return &WSFeed{cfg: cfg}, nil
}

// Run connects and reads trades until ctx is cancelled, reconnecting with
// exponential backoff. The backoff resets after every successful connect.
func (f *WSFeed) Run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = f.cfg.ReconnectDelay
	bo.MaxInterval = f.cfg.MaxReconnectDelay
	bo.MaxElapsedTime = 0
	bo.Reset()

	for {
		if ctx.Err() != nil {
			return
		}

		err := f.runOnce(ctx, bo)
		if ctx.Err() != nil {
			return
		}

		delay := bo.NextBackOff()
		slog.Warn("quote feed disconnected", "url", f.cfg.URL, "error", err, "retry_in", delay)
		if f.OnDisconnect != nil {
			f.OnDisconnect(err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// runOnce makes a single connection attempt and reads until disconnect.
func (f *WSFeed) runOnce(ctx context.Context, bo backoff.BackOff) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	bo.Reset()
	slog.Info("quote feed connected", "url", f.cfg.URL)
	if f.OnConnect != nil {
		f.OnConnect()
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"))
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var tr Trade
		if err := json.Unmarshal(raw, &tr); err != nil {
			slog.Debug("quote feed parse error", "error", err, "raw", string(raw))
			continue
		}
		if f.cfg.Symbol != "" && !strings.EqualFold(tr.Symbol, f.cfg.Symbol) {
			continue
		}
		if tr.TS.IsZero() {
			tr.TS = time.Now()
		}
		f.Set(tr.Price, tr.TS)
	}
}
