package chartd

import (
	"context"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"chartcore/internal/model"
)

// CandleChannel returns the pub/sub channel candles for symbol arrive on.
func CandleChannel(symbol string) string { return "candle:" + symbol }

// startCandleIngest subscribes to the candle channel. Every candle updates
// the chart window and is upserted into history.
func (svc *Service) startCandleIngest(ctx context.Context) error {
	ch, err := svc.rdb.SubscribeCandles(ctx, CandleChannel(svc.cfg.Symbol))
	if err != nil {
		return err
	}
	slog.Info("subscribed to candles", "channel", CandleChannel(svc.cfg.Symbol))
	go func() {
		for c := range ch {
			svc.ingestCandle(ctx, c)
		}
	}()
	return nil
}

// ingestCandle applies one candle. Out-of-order candles are dropped.
func (svc *Service) ingestCandle(ctx context.Context, c model.Candle) {
	if !svc.chart.push(c) {
		slog.Debug("dropping stale candle", "time", c.Time)
		return
	}
	svc.health.SetChartAttached(svc.chart.isAttached())

	writeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := svc.store.UpsertCandles(writeCtx, svc.cfg.Symbol, []model.Candle{c}); err != nil {
		slog.Warn("candle upsert failed", "time", c.Time, "error", err)
	}
}

func (svc *Service) rawRedis() *goredis.Client {
	if svc.rdb == nil {
		return nil
	}
	return svc.rdb.Raw()
}

// sampleBar folds a sampled price into the forming bar. The forming bar
// replaces the newest window entry; closed bars are persisted.
func (svc *Service) sampleBar(price float64, now time.Time) {
	forming, closed, ok := svc.bars.Update(price, 0, now)
	if !ok {
		return
	}
	svc.chart.push(forming)
	svc.health.SetChartAttached(svc.chart.isAttached())
	if closed == nil {
		return
	}
	svc.prom.BarsClosed.Inc()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := svc.store.UpsertCandles(ctx, svc.cfg.Symbol, []model.Candle{*closed}); err != nil {
		slog.Warn("bar upsert failed", "time", closed.Time, "error", err)
	}
}

// flushBars persists the forming bar on shutdown.
func (svc *Service) flushBars(ctx context.Context) {
	if svc.bars == nil {
		return
	}
	c, ok := svc.bars.Flush()
	if !ok {
		return
	}
	if err := svc.store.UpsertCandles(ctx, svc.cfg.Symbol, []model.Candle{c}); err != nil {
		slog.Warn("forming bar upsert failed", "time", c.Time, "error", err)
	}
}
