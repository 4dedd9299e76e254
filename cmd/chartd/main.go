package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"chartcore/config"
	"chartcore/internal/chartd"
	"chartcore/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger.Init("chartd", logger.ParseLevel(cfg.LogLevel))
	slog.Info("config loaded", "symbol", cfg.Symbol, "quote_source", cfg.QuoteSource, "interval", cfg.SampleInterval)

	svc, err := chartd.New(cfg, prometheus.DefaultRegisterer)
	if err != nil {
		slog.Error("init failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := svc.Run(ctx); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}
