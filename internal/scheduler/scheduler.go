// Package scheduler recomputes indicator overlays from stored candle
// history on a cron schedule and publishes the latest values.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"chartcore/internal/indicator"
	"chartcore/internal/model"
)

// CandleSource returns the newest n candles of symbol in ascending time order.
type CandleSource interface {
	LastCandles(ctx context.Context, symbol string, n int) ([]model.Candle, error)
}

// OverlaySink receives every successful refresh.
type OverlaySink interface {
	WriteOverlays(ctx context.Context, symbol string, overlays []indicator.Overlay) error
}

// Config configures a Scheduler.
type Config struct {
	Symbol  string
	Spec    string // cron spec with optional seconds field, e.g. "@every 1m" or "0 */5 * * * *"
	History int    // candles fed to the engine per refresh
	Timeout time.Duration
}

// Scheduler manages the overlay refresh task.
type Scheduler struct {
	cron    *cron.Cron
	cfg     Config
	engine  *indicator.Engine
	candles CandleSource
	sink    OverlaySink // optional

	mu       sync.RWMutex
	latest   []indicator.Overlay
	latestAt time.Time
	running  sync.Mutex

	// OnRefresh is called after every refresh with its outcome and the time
	// spent in the engine.
	OnRefresh func(err error, compute time.Duration)
}

// New creates a Scheduler. sink may be nil.
func New(cfg Config, engine *indicator.Engine, candles CandleSource, sink OverlaySink) *Scheduler {
	if cfg.History <= 0 {
		cfg.History = 500
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Spec == "" {
		cfg.Spec = "@every 1m"
	}
	return &Scheduler{
		cron:    cron.New(cron.WithSeconds()),
		cfg:     cfg,
		engine:  engine,
		candles: candles,
		sink:    sink,
	}
}

// Register adds the refresh task to the cron table.
func (s *Scheduler) Register(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.cfg.Spec, func() {
		if err := s.RefreshNow(ctx); err != nil {
			slog.Error("overlay refresh failed", "symbol", s.cfg.Symbol, "error", err)
		}
	}); err != nil {
		return fmt.Errorf("register overlay refresh %q: %w", s.cfg.Spec, err)
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("scheduler started", "spec", s.cfg.Spec)
}

// Stop stops the cron scheduler and waits for a running refresh.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	slog.Info("scheduler stopped")
}

// RefreshNow runs one refresh immediately. A refresh already in progress
// makes this call a no-op.
func (s *Scheduler) RefreshNow(ctx context.Context) (err error) {
	if !s.running.TryLock() {
		slog.Debug("overlay refresh already running, skipping")
		return nil
	}
	defer s.running.Unlock()

	var compute time.Duration
	defer func() {
		if s.OnRefresh != nil {
			s.OnRefresh(err, compute)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	candles, err := s.candles.LastCandles(ctx, s.cfg.Symbol, s.cfg.History)
	if err != nil {
		return fmt.Errorf("load candles: %w", err)
	}

	start := time.Now()
	overlays, err := s.engine.Compute(candles)
	compute = time.Since(start)
	if err != nil {
		return fmt.Errorf("compute overlays: %w", err)
	}

	s.mu.Lock()
	s.latest = overlays
	s.latestAt = time.Now()
	s.mu.Unlock()

	if s.sink != nil {
		if err := s.sink.WriteOverlays(ctx, s.cfg.Symbol, overlays); err != nil {
			return fmt.Errorf("write overlays: %w", err)
		}
	}
	slog.Debug("overlays refreshed", "symbol", s.cfg.Symbol, "candles", len(candles), "overlays", len(overlays))
	return nil
}

// Latest returns the overlays of the last successful computation and when
// it finished. The slice must not be modified.
func (s *Scheduler) Latest() ([]indicator.Overlay, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.latestAt
}
