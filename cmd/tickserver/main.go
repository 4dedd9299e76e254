// cmd/tickserver is a demo trade feed for running chartd without a real
// market connection. It random-walks one price per symbol and
//
//   - broadcasts every trade on ws://ADDR/ws as JSON
//     {"symbol":"BTCUSD","price":64012.5,"ts":"..."} (QUOTE_SOURCE=ws)
//   - when TICK_REDIS_ADDR is set, also keeps ltp:{symbol} current in
//     Redis (QUOTE_SOURCE=redis)
//
// Config (env vars):
//
//	TICK_SERVER_ADDR  listen address (default ":9001")
//	TICK_SYMBOLS      comma-separated SYMBOL:START pairs (default "BTCUSD:64000")
//	TICK_INTERVAL     broadcast interval (default "100ms")
//	TICK_REDIS_ADDR   optional Redis address
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kelseyhightower/envconfig"

	"chartcore/internal/logger"
	"chartcore/internal/quote"
	redisstore "chartcore/internal/store/redis"
)

type settings struct {
	Addr      string        `envconfig:"SERVER_ADDR" default:":9001"`
	Symbols   string        `envconfig:"SYMBOLS" default:"BTCUSD:64000"`
	Interval  time.Duration `envconfig:"INTERVAL" default:"100ms"`
	RedisAddr string        `envconfig:"REDIS_ADDR"`
}

// instrument holds per-symbol simulation state.
type instrument struct {
	Symbol string
	Price  float64
}

// ─── Hub ──────────────────────────────────────────────────────────────────────

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]chan []byte)}
}

func (h *hub) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 256)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.clients {
		select {
		case ch <- msg:
		default: // slow client, drop trade
		}
	}
}

// ─── WebSocket handler ────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("upgrade failed", "error", err)
			return
		}
		slog.Info("client connected", "remote", r.RemoteAddr)

		ch := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			slog.Info("client disconnected", "remote", r.RemoteAddr)
		}()

		for msg := range ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// ─── Trade generator ─────────────────────────────────────────────────────────

// walkPrice applies a random step of at most ±0.1%.
func walkPrice(rng *rand.Rand, price float64) float64 {
	next := price * (1 + (rng.Float64()*0.2-0.1)/100)
	if next < 0.01 {
		next = 0.01
	}
	return next
}

func runGenerator(ctx context.Context, h *hub, rdb *redisstore.Client, instruments []instrument, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for i := range instruments {
			instruments[i].Price = walkPrice(rng, instruments[i].Price)
			tr := quote.Trade{Symbol: instruments[i].Symbol, Price: instruments[i].Price, TS: time.Now().UTC()}
			b, err := json.Marshal(tr)
			if err != nil {
				continue
			}
			h.broadcast(b)

			if rdb != nil {
				key := "ltp:" + tr.Symbol
				if err := rdb.Raw().Set(ctx, key, strconv.FormatFloat(tr.Price, 'f', -1, 64), 0).Err(); err != nil && ctx.Err() == nil {
					slog.Debug("ltp write failed", "key", key, "error", err)
				}
			}
		}
	}
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	logger.Init("tickserver", slog.LevelInfo)

	var s settings
	if err := envconfig.Process("TICK", &s); err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}

	instruments := parseInstruments(s.Symbols)
	if len(instruments) == 0 {
		slog.Error("no instruments configured via TICK_SYMBOLS")
		os.Exit(1)
	}
	slog.Info("starting demo trade feed", "instruments", instruments, "interval", s.Interval)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var rdb *redisstore.Client
	if s.RedisAddr != "" {
		var err error
		rdb, err = redisstore.Open(redisstore.Config{Addr: s.RedisAddr})
		if err != nil {
			slog.Error("redis connect failed", "error", err)
			os.Exit(1)
		}
		defer rdb.Close()
	}

	h := newHub()
	go runGenerator(ctx, h, rdb, instruments, s.Interval)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler(h))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"tickserver"}`)
	})
	srv := &http.Server{Addr: s.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	slog.Info("listening", "addr", s.Addr, "ws", "ws://localhost"+s.Addr+"/ws")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func parseInstruments(s string) []instrument {
	var result []instrument
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		sym, startStr, _ := strings.Cut(part, ":")
		start, err := strconv.ParseFloat(strings.TrimSpace(startStr), 64)
		if err != nil || start <= 0 {
			start = 100
		}
		result = append(result, instrument{Symbol: strings.TrimSpace(sym), Price: start})
	}
	return result
}
