// Package chartd wires the chart analytics daemon: candle history, the
// headless chart, the price sampler, alert evaluation, notification
// fan-out, overlay refresh and the HTTP surfaces.
package chartd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"chartcore/config"
	"chartcore/internal/alert"
	"chartcore/internal/api"
	"chartcore/internal/indicator"
	"chartcore/internal/logger"
	"chartcore/internal/marketdata/agg"
	"chartcore/internal/metrics"
	"chartcore/internal/model"
	"chartcore/internal/notification"
	"chartcore/internal/quote"
	"chartcore/internal/rules"
	"chartcore/internal/sampler"
	"chartcore/internal/scheduler"
	redisstore "chartcore/internal/store/redis"
	sqlitestore "chartcore/internal/store/sqlite"
)

const (
	sendTimeout    = 5 * time.Second
	replaySize     = 500
	journalBuffer  = 1024
	saturationTick = 5 * time.Second
	livenessTick   = 15 * time.Second
)

// Service is the top-level orchestrator for the chart daemon.
// It wires all dependencies, manages lifecycle, and coordinates goroutines.
type Service struct {
	cfg *config.Config

	prom   *metrics.Metrics
	health *metrics.HealthStatus

	store *sqlitestore.Store
	rdb   *redisstore.Client // nil without Redis

	book     *alert.Book
	chart    *headlessChart
	bars     *agg.Aggregator // nil unless BuildBars
	quote    quote.Source
	runQuote func(ctx context.Context) // nil for sources that need no loop

	hub        *api.Hub
	dispatcher *notification.Dispatcher
	journal    chan model.AlertEvent
	sched      *scheduler.Scheduler
	closers    []func() error
}

// New creates a Service from cfg. It opens SQLite and, when configured,
// Redis; metrics are registered on reg.
func New(cfg *config.Config, reg prometheus.Registerer) (*Service, error) {
	svc := &Service{
		cfg:     cfg,
		prom:    metrics.New(reg),
		health:  metrics.NewHealthStatus(cfg.Symbol, cfg.QuoteSource == config.QuoteRedis),
		journal: make(chan model.AlertEvent, journalBuffer),
		hub:     api.NewHub(replaySize),
	}

	// ---- Open SQLite ----
	if cfg.SQLitePath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	var err error
	svc.store, err = sqlitestore.Open(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	svc.store.OnCommit = func(_ int, seconds float64) { svc.prom.SQLiteCommitDur.Observe(seconds) }
	svc.health.SetSQLiteOK(true)

	// ---- Connect to Redis ----
	if cfg.RedisAddr != "" {
		svc.rdb, err = redisstore.Open(redisstore.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			if cfg.QuoteSource == config.QuoteRedis {
				svc.store.Close()
				return nil, err
			}
			slog.Warn("redis unavailable, continuing without it", "error", err)
			svc.rdb = nil
		}
	}

	// ---- Alert book and headless chart ----
	svc.book = alert.NewBook(alert.Evaluator{
		OnOrphan: func(a *model.Alert) {
			svc.prom.OrphanAlerts.Inc()
			slog.Debug("alert drawing missing, skipped", "alert_id", a.ID, "drawing_id", a.DrawingID)
		},
	})
	svc.chart = newHeadlessChart(Geometry{
		PriceTop:       cfg.PriceTop,
		PriceBottom:    cfg.PriceBottom,
		PriceMin:       cfg.PriceMin,
		PriceMax:       cfg.PriceMax,
		PlotWidth:      cfg.PlotWidth,
		BarSpacing:     cfg.BarSpacing,
		BarInterval:    cfg.BarInterval,
		VisibleCandles: cfg.VisibleCandles,
	})

	if cfg.BuildBars {
		svc.bars = agg.New(cfg.BarInterval)
		svc.bars.OnDroppedSample = func(t time.Time) { slog.Debug("late price sample dropped", "time", t) }
	}

	// ---- Last-price source ----
	if err := svc.buildQuote(); err != nil {
		svc.close()
		return nil, err
	}

	// ---- Notification fan-out ----
	journal := &journalSink{symbol: cfg.Symbol, book: svc.book, store: svc.store, events: svc.journal}
	sinks, closers := svc.buildSinks(cfg, journal)
	svc.closers = append(svc.closers, closers...)
	svc.dispatcher = notification.NewDispatcher(cfg.QueueSize, sendTimeout, sinks...)
	svc.dispatcher.OnDrop = func(ev model.AlertEvent) {
		svc.prom.DispatchDropsTotal.Inc()
		slog.Warn("dispatch queue full, dropping event", "event_id", ev.ID, "alert_id", ev.AlertID)
	}
	svc.dispatcher.OnError = func(sink string, _ model.AlertEvent, _ error) {
		svc.prom.SinkFailures.WithLabelValues(sink).Inc()
	}

	// ---- Overlay refresh ----
	engine, err := indicator.NewEngine(indicator.ParseSpecs(cfg.OverlaySpecs))
	if err != nil {
		svc.close()
		return nil, err
	}
	var overlaySink scheduler.OverlaySink
	if svc.rdb != nil {
		overlaySink = svc.rdb
	}
	svc.sched = scheduler.New(scheduler.Config{
		Symbol:  cfg.Symbol,
		Spec:    cfg.OverlayCron,
		History: cfg.VisibleCandles,
	}, engine, svc.store, overlaySink)
	svc.sched.OnRefresh = func(err error, compute time.Duration) {
		result := "ok"
		if err != nil {
			result = "error"
		}
		svc.prom.OverlayRefreshTotal.WithLabelValues(result).Inc()
		svc.prom.IndicatorComputeDur.Observe(compute.Seconds())
	}

	return svc, nil
}

func (svc *Service) buildQuote() error {
	cfg := svc.cfg
	switch cfg.QuoteSource {
	case config.QuoteRedis:
		src := quote.NewRedisSource(svc.rdb, cfg.QuoteKey, cfg.SampleInterval/2)
		src.OnError = func(err error) { slog.Warn("quote read failed", "key", cfg.QuoteKey, "error", err) }
		svc.quote, svc.runQuote = src, src.Run
		svc.health.SetQuoteConnected(true)
	case config.QuoteWS:
		feed, err := quote.NewWSFeed(quote.WSConfig{URL: cfg.QuoteURL, Symbol: cfg.Symbol})
		if err != nil {
			return err
		}
		feed.OnConnect = func() { svc.health.SetQuoteConnected(true) }
		feed.OnDisconnect = func(error) {
			svc.health.SetQuoteConnected(false)
			svc.prom.WSReconnects.Inc()
		}
		svc.quote, svc.runQuote = feed, feed.Run
	default:
		svc.quote = quote.None{}
	}
	return nil
}

// Run starts all subsystems and blocks until ctx is cancelled.
func (svc *Service) Run(ctx context.Context) error {
	cfg := svc.cfg
	slog.Info("starting chart daemon", "symbol", cfg.Symbol, "quote_source", cfg.QuoteSource, "sinks", svc.dispatcher.Sinks())

	// ---- Restore state ----
	if err := svc.restore(ctx); err != nil {
		svc.close()
		return err
	}

	// ---- Notification fan-out and journal ----
	go svc.dispatcher.Run(ctx)
	journalDone := make(chan struct{})
	go func() {
		defer close(journalDone)
		// closed channel ends the loop after the dispatcher drained
		svc.store.RunEvents(context.Background(), cfg.Symbol, svc.journal)
	}()

	// ---- Inputs ----
	if svc.runQuote != nil {
		go svc.runQuote(ctx)
	}
	if svc.rdb != nil && svc.bars == nil {
		if err := svc.startCandleIngest(ctx); err != nil {
			slog.Warn("candle ingest disabled", "error", err)
		}
	}

	// ---- Overlay refresh ----
	if err := svc.sched.Register(ctx); err != nil {
		svc.close()
		return err
	}
	svc.sched.Start()
	go func() {
		if err := svc.sched.RefreshNow(ctx); err != nil {
			slog.Warn("initial overlay refresh failed", "error", err)
		}
	}()

	// ---- Sampling driver ----
	driver, err := svc.newDriver()
	if err != nil {
		svc.close()
		return err
	}
	stopDriver := driver.Start(ctx)

	// ---- HTTP ----
	apiSrv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: api.NewRouter(api.Deps{
			Symbol:   cfg.Symbol,
			Book:     svc.book,
			Store:    svc.store,
			Overlays: svc.sched,
			Mapper:   svc.chart.mapper,
			Stream:   svc.hub,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("api server listening", "addr", cfg.HTTPAddr)
		if err := apiSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("api server error", "error", err)
		}
	}()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, svc.health)
	metricsSrv.Start()

	svc.health.StartLivenessChecker(ctx, svc.rawRedis(), svc.store.DB(), livenessTick)
	go svc.saturationLoop(ctx)

	slog.Info("all systems running",
		"interval", driver.Interval(), "alerts", svc.book.Len(), "drawings", len(svc.book.Drawings()))

	<-ctx.Done()

	// ---- Graceful shutdown ----
	slog.Info("shutdown signal received")
	stopDriver()
	<-driver.Done()
	svc.sched.Stop()

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	apiSrv.Shutdown(shutCtx)
	metricsSrv.Stop(shutCtx)
	svc.flushBars(shutCtx)

	<-svc.dispatcher.Done()
	close(svc.journal)
	<-journalDone

	svc.close()
	slog.Info("shutdown complete")
	return nil
}

// restore loads drawings, alerts and recent candles. The rules file seeds
// an empty store on first start only.
func (svc *Service) restore(ctx context.Context) error {
	sym := svc.cfg.Symbol

	drawings, err := svc.store.LoadDrawings(ctx, sym)
	if err != nil {
		return fmt.Errorf("load drawings: %w", err)
	}
	alerts, err := svc.store.LoadAlerts(ctx, sym)
	if err != nil {
		return fmt.Errorf("load alerts: %w", err)
	}

	if len(drawings) == 0 && len(alerts) == 0 && svc.cfg.RulesFile != "" {
		r, err := rules.LoadFile(svc.cfg.RulesFile)
		if err != nil {
			return err
		}
		for _, d := range r.Drawings {
			if err := svc.store.SaveDrawing(ctx, sym, d); err != nil {
				return err
			}
		}
		for _, a := range r.Alerts {
			if err := svc.store.SaveAlert(ctx, sym, a); err != nil {
				return err
			}
		}
		drawings, alerts = r.Drawings, r.Alerts
		slog.Info("seeded from rules file", "path", svc.cfg.RulesFile, "drawings", len(drawings), "alerts", len(alerts))
	}

	for _, d := range drawings {
		if err := svc.book.UpsertDrawing(d); err != nil {
			return err
		}
	}
	for _, a := range alerts {
		if _, err := svc.book.AddAlert(a); err != nil {
			slog.Warn("skipping stored alert", "alert_id", a.ID, "error", err)
		}
	}
	svc.health.SetActiveAlerts(svc.book.Len())

	candles, err := svc.store.LastCandles(ctx, sym, svc.cfg.VisibleCandles)
	if err != nil {
		return fmt.Errorf("load candles: %w", err)
	}
	if !svc.chart.push(candles...) {
		svc.chart.rebuild()
	}
	if svc.bars != nil && len(candles) > 0 {
		svc.bars.Seed(candles[len(candles)-1])
	}
	svc.health.SetChartAttached(svc.chart.isAttached())
	slog.Info("state restored", "drawings", len(drawings), "alerts", svc.book.Len(), "candles", len(candles))
	return nil
}

func (svc *Service) newDriver() (*sampler.Driver, error) {
	return sampler.New(sampler.Config{
		Symbol:    svc.cfg.Symbol,
		Interval:  svc.cfg.SampleInterval,
		LastPrice: svc.quote.LastPrice,
		Mapper:    svc.chart.mapper,
		OnTick:    svc.onTick,
		OnSample:  svc.onSample,
	})
}

// onTick evaluates every alert against one mapped sample pair and queues
// the resulting events.
func (svc *Service) onTick(ctx context.Context, t sampler.Tick) {
	start := time.Now()
	events := svc.book.Evaluate(alert.Sample{
		PrevY: model.Some(t.PrevY),
		CurrY: model.Some(t.CurrY),
		Price: model.Some(t.Price),
		Now:   t.Now,
	})
	svc.prom.EvaluationDur.Observe(time.Since(start).Seconds())
	if len(events) == 0 {
		return
	}

	for _, ev := range events {
		svc.prom.AlertsFired.WithLabelValues(string(ev.Kind)).Inc()
		slog.Info("alert fired",
			append([]any{"alert_id", ev.AlertID, "kind", string(ev.Kind), "price", t.Price}, logger.LogWithTrace(ctx)...)...)
	}
	svc.dispatcher.Enqueue(ctx, events...)
}

func (svc *Service) onSample(price, y model.NullFloat) {
	svc.prom.SamplesTotal.Inc()
	switch {
	case !price.Valid:
		svc.prom.QuoteMissing.Inc()
	case !y.Valid:
		svc.prom.MappingUnavailable.Inc()
	}
	now := time.Now()
	svc.health.SetLastSampleTime(now)
	svc.health.SetActiveAlerts(svc.book.Len())
	if svc.bars != nil && price.Valid {
		svc.sampleBar(price.Float, now)
	}
}

func (svc *Service) saturationLoop(ctx context.Context) {
	ticker := time.NewTicker(saturationTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, c := svc.dispatcher.QueueStat()
			svc.prom.ChannelSaturationPct.WithLabelValues("dispatch").Set(pct(n, c))
			svc.prom.ChannelSaturationPct.WithLabelValues("journal").Set(pct(len(svc.journal), cap(svc.journal)))
		}
	}
}

func pct(n, c int) float64 {
	if c == 0 {
		return 0
	}
	return float64(n) / float64(c) * 100
}

// close releases sinks and connections.
func (svc *Service) close() {
	svc.hub.Close()
	for _, c := range svc.closers {
		if err := c(); err != nil {
			slog.Warn("close sink", "error", err)
		}
	}
	if svc.rdb != nil {
		svc.rdb.Close()
	}
	if svc.store != nil {
		svc.store.Close()
	}
}
