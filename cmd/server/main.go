// Backtest API server: sessions in, trades/equity/metrics out.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"bandbot/internal/api"
	"bandbot/internal/config"
	"bandbot/internal/notify"
	"bandbot/internal/session"
	"bandbot/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load configuration: %v", err)
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.NewClickHouseStore(ctx, cfg.ClickHouse(), logger)
	if err != nil {
		logger.Fatal("clickhouse init failed", zap.Error(err))
	}
	defer st.Close()

	opts := []session.Option{session.WithBatchSize(cfg.BatchSize)}
	if cfg.PostgresDSN != "" {
		pg, err := store.NewPostgresKlines(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Fatal("postgres init failed", zap.Error(err))
		}
		defer pg.Close()
		opts = append(opts, session.WithKlineSource(pg))
		logger.Info("kline source: postgres warehouse")
	}
	if cfg.NatsURL != "" {
		notifier, err := notify.NewNATSNotifier(cfg.NatsURL, logger)
		if err != nil {
			logger.Fatal("nats init failed", zap.Error(err))
		}
		defer notifier.Close()
		opts = append(opts, session.WithNotifier(notifier))
		logger.Info("completion publishing enabled", zap.String("url", cfg.NatsURL))
	}

	runner := session.NewRunner(st, logger, opts...)
	pool := session.NewPool(ctx, runner, cfg.Workers, cfg.QueueSize, logger)

	server := api.NewServer(runner, pool, st, logger)
	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.Router(),
	}

	go func() {
		logger.Info("http server listening", zap.String("port", cfg.Port))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http serve failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	cancel()
	pool.Shutdown()
	logger.Info("stopped")
}

func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
