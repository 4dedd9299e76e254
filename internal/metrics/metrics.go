package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the chart analytics daemon.
type Metrics struct {
	// Sampling driver
	SamplesTotal       prometheus.Counter
	QuoteMissing       prometheus.Counter
	MappingUnavailable prometheus.Counter
	BarsClosed         prometheus.Counter

	// Alert evaluation
	AlertsFired   *prometheus.CounterVec // labels: kind
	OrphanAlerts  prometheus.Counter
	EvaluationDur prometheus.Histogram

	// Overlays
	IndicatorComputeDur prometheus.Histogram
	OverlayRefreshTotal *prometheus.CounterVec // labels: result=ok|error

	// Notification fan-out
	SinkFailures         *prometheus.CounterVec // labels: sink
	DispatchDropsTotal   prometheus.Counter
	ChannelSaturationPct *prometheus.GaugeVec // labels: channel_name

	// Quote feed
	WSReconnects prometheus.Counter

	// Storage
	SQLiteCommitDur prometheus.Histogram

	// Circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
}

// NewMetrics registers every metric on the default registry.
func NewMetrics() *Metrics {
	return New(prometheus.DefaultRegisterer)
}

// New creates the metrics and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SamplesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartd_samples_total",
			Help: "Total price sampling ticks",
		}),
		QuoteMissing: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartd_quote_missing_total",
			Help: "Ticks where no last price was available",
		}),
		MappingUnavailable: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartd_mapping_unavailable_total",
			Help: "Ticks skipped because price could not be mapped to pixel space",
		}),
		BarsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartd_bars_closed_total",
			Help: "Bars closed by the sampled-price aggregator",
		}),

		AlertsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chartd_alerts_fired_total",
			Help: "Alert events emitted (by alert kind)",
		}, []string{"kind"}),
		OrphanAlerts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartd_orphan_alerts_skipped_total",
			Help: "Alert evaluations skipped because the drawing no longer exists",
		}),
		EvaluationDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chartd_evaluation_duration_seconds",
			Help:    "Alert evaluation latency per tick",
			Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001},
		}),

		IndicatorComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chartd_indicator_compute_duration_seconds",
			Help:    "Overlay computation latency over the candle history",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		OverlayRefreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chartd_overlay_refresh_total",
			Help: "Scheduled overlay refreshes (by result)",
		}, []string{"result"}),

		SinkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chartd_sink_failures_total",
			Help: "Alert event deliveries that failed (by sink)",
		}, []string{"sink"}),
		DispatchDropsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartd_dispatch_drops_total",
			Help: "Alert events dropped because the dispatch queue was full",
		}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chartd_channel_saturation_pct",
			Help: "Channel fill percentage (len/cap * 100)",
		}, []string{"channel_name"}),

		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartd_ws_reconnects_total",
			Help: "Total quote feed WebSocket reconnection attempts",
		}),

		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "chartd_sqlite_commit_duration_seconds",
			Help:    "SQLite event journal batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chartd_redis_circuit_breaker_state",
			Help: "Redis publish circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chartd_redis_circuit_breaker_trips_total",
			Help: "Times the Redis publish circuit breaker tripped open",
		}),
	}

	reg.MustRegister(
		m.SamplesTotal,
		m.QuoteMissing,
		m.MappingUnavailable,
		m.BarsClosed,
		m.AlertsFired,
		m.OrphanAlerts,
		m.EvaluationDur,
		m.IndicatorComputeDur,
		m.OverlayRefreshTotal,
		m.SinkFailures,
		m.DispatchDropsTotal,
		m.ChannelSaturationPct,
		m.WSReconnects,
		m.SQLiteCommitDur,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
	)

	return m
}

// HealthStatus represents the daemon health.
type HealthStatus struct {
	mu sync.RWMutex

	Symbol         string    `json:"symbol"`
	QuoteConnected bool      `json:"quote_connected"`
	LastSampleTime time.Time `json:"last_sample_time"`
	ChartAttached  bool      `json:"chart_attached"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	ActiveAlerts   int       `json:"active_alerts"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`

	// Redis is optional; when false its probe does not degrade status.
	requireRedis bool
}

// NewHealthStatus returns a default health status.
func NewHealthStatus(symbol string, requireRedis bool) *HealthStatus {
	return &HealthStatus{
		Symbol:       symbol,
		StartedAt:    time.Now(),
		requireRedis: requireRedis,
	}
}

func (h *HealthStatus) SetQuoteConnected(v bool) {
	h.mu.Lock()
	h.QuoteConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastSampleTime(t time.Time) {
	h.mu.Lock()
	h.LastSampleTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetChartAttached(v bool) {
	h.mu.Lock()
	h.ChartAttached = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetActiveAlerts(n int) {
	h.mu.Lock()
	h.ActiveAlerts = n
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Either client may be nil.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	if !h.SQLiteOK || (h.requireRedis && !h.RedisConnected) {
		overallStatus = "unhealthy"
		httpCode = http.StatusServiceUnavailable
	} else if !h.QuoteConnected || !h.ChartAttached {
		overallStatus = "degraded"
	}

	sampleAge := ""
	if !h.LastSampleTime.IsZero() {
		sampleAge = time.Since(h.LastSampleTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Symbol          string  `json:"symbol"`
		Uptime          string  `json:"uptime"`
		QuoteConnected  bool    `json:"quote_connected"`
		ChartAttached   bool    `json:"chart_attached"`
		LastSampleTime  string  `json:"last_sample_time"`
		SampleAge       string  `json:"sample_age"`
		ActiveAlerts    int     `json:"active_alerts"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Symbol:          h.Symbol,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		QuoteConnected:  h.QuoteConnected,
		ChartAttached:   h.ChartAttached,
		LastSampleTime:  h.LastSampleTime.Format(time.RFC3339),
		SampleAge:       sampleAge,
		ActiveAlerts:    h.ActiveAlerts,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz, plus any
// extra routes mounted by the caller.
type Server struct {
	health *HealthStatus
	addr   string
	mux    *http.ServeMux
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		mux:    mux,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handle mounts an additional handler under pattern.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		slog.Info("http server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
