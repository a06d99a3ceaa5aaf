package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kabuai/orchestrator/internal/config"
	"github.com/kabuai/orchestrator/internal/httpapi"
	"github.com/kabuai/orchestrator/internal/llm"
	"github.com/kabuai/orchestrator/internal/marketdata"
	"github.com/kabuai/orchestrator/internal/search"
	"github.com/kabuai/orchestrator/internal/streaming"
	"github.com/kabuai/orchestrator/internal/supervisor"
	"github.com/kabuai/orchestrator/internal/workers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Optional durable event history for stream resume.
	var store *streaming.HistoryStore
	if cfg.Streaming.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Streaming.RedisAddr})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis unreachable, event history disabled",
				zap.String("addr", cfg.Streaming.RedisAddr), zap.Error(err))
		} else {
			store = streaming.NewHistoryStore(rdb)
		}
	}
	mgr := streaming.NewManager(cfg.Streaming.RingCapacity, store, logger)

	inference := llm.NewHTTPClient(cfg.LLM, logger.Named("llm"))
	searcher := search.NewHTTPClient(cfg.Search, logger.Named("search"))
	market := marketdata.NewHTTPClient(cfg.MarketData, logger.Named("marketdata"))

	pool := workers.New(workers.Deps{
		LLM:    inference,
		Search: searcher,
		Market: market,
		Logger: logger,
	})
	sup := supervisor.New(inference, logger.Named("supervisor"))
	runner := supervisor.NewRunner(sup, pool, mgr, logger.Named("runner"))

	mux := http.NewServeMux()
	httpapi.NewChatHandler(runner, mgr, cfg.Streaming.SubscriberBuffer, logger).RegisterRoutes(mux)
	httpapi.NewStreamingHandler(mgr, cfg.Streaming.SubscriberBuffer, logger).RegisterRoutes(mux)

	if cfg.Metrics.Enabled {
		go func() {
			metricsMux := http.NewServeMux()
			metricsMux.Handle("/metrics", promhttp.Handler())
			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			logger.Info("metrics server listening", zap.String("addr", addr))
			if err := http.ListenAndServe(addr, metricsMux); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("orchestrator listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
}

func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Logging.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	if lvl, err := zap.ParseAtomicLevel(cfg.Logging.Level); err == nil {
		zcfg.Level = lvl
	}
	return zcfg.Build()
}
