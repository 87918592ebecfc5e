package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/release-approval-gate/internal/connectors"
	"github.com/xela07ax/release-approval-gate/internal/engine"
	"github.com/xela07ax/release-approval-gate/internal/gateway/handler"
	"github.com/xela07ax/release-approval-gate/internal/gateway/server"
	"github.com/xela07ax/release-approval-gate/internal/infra"
	"github.com/xela07ax/release-approval-gate/internal/notify"
	"github.com/xela07ax/release-approval-gate/internal/repository"
	"github.com/xela07ax/release-approval-gate/internal/token"
)

func main() {
	// 1. Конфигурация. Без секретов не стартуем.
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// Контекст жизни процесса: SIGINT/SIGTERM запускают остановку
	appCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Метрики
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := engine.NewMetrics(reg)

	// 3. Оркестратор, обернутый в Circuit Breaker
	orch := newOrchestrator(cfg, logger, metrics)

	// 4. Ядро: stateful (хранилище) или stateless (подписанный токен)
	service, closeStore := newService(appCtx, cfg, orch, metrics, logger)
	defer closeStore()

	// 5. Уведомления
	dispatcher, closeNotify := newDispatcher(cfg, logger)
	dispatcher.Start()

	// 6. HTTP
	approvalH := handler.NewApprovalHandler(service, dispatcher, cfg.Server.PublicURL, logger)
	gw := server.NewGatewayServer(cfg, logger, approvalH, reg)

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      gw,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("release approval gate started",
			zap.String("addr", srv.Addr),
			zap.String("mode", cfg.Approval.Mode),
			zap.String("storage", cfg.Storage.Driver),
			zap.Bool("dry_run", cfg.Orchestrator.DryRun))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	// 7. Graceful Shutdown: сначала HTTP (дожидаемся решений в полете), потом очередь уведомлений
	<-appCtx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	dispatcher.Stop()
	closeNotify()
	logger.Info("server exited properly")
}

func newOrchestrator(cfg *infra.Config, logger *zap.Logger, metrics *engine.Metrics) engine.Orchestrator {
	var next connectors.ExecutionController
	if cfg.Orchestrator.DryRun {
		logger.Warn("orchestrator dry-run: resume/abort calls are only logged")
		next = connectors.NewRecorder(logger)
	} else {
		client, err := connectors.NewRundeckClient(connectors.RundeckConfig{
			BaseURL:    cfg.Orchestrator.BaseURL,
			APIVersion: cfg.Orchestrator.APIVersion,
			Token:      cfg.Orchestrator.Token,
			AuthHeader: cfg.Orchestrator.AuthHeader,
			Timeout:    cfg.Orchestrator.Timeout,
		}, logger)
		if err != nil {
			logger.Fatal("failed to init orchestrator client", zap.Error(err))
		}
		next = client
	}

	return connectors.NewBreaker(next, connectors.BreakerSettings{
		Name:                "rundeck",
		MaxRequests:         cfg.Orchestrator.CBMaxRequests,
		Interval:            cfg.Orchestrator.CBInterval,
		Timeout:             cfg.Orchestrator.CBTimeout,
		ConsecutiveFailures: cfg.Orchestrator.CBFailures,
		RateLimit:           cfg.Orchestrator.RateLimit,
	}, metrics.CircuitBreakerState)
}

func newService(ctx context.Context, cfg *infra.Config, orch engine.Orchestrator, metrics *engine.Metrics, logger *zap.Logger) (engine.ApprovalService, func()) {
	if cfg.Approval.Mode == infra.ModeStateless {
		codec, err := token.NewCodec([]byte(cfg.Approval.TokenSecret), token.WithTTL(cfg.Approval.TokenTTL))
		if err != nil {
			logger.Fatal("failed to init token codec", zap.Error(err))
		}
		return engine.NewTokenEngine(codec, orch, metrics, logger), func() {}
	}

	store, err := repository.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open approval store", zap.Error(err))
	}
	closeStore := func() {
		if err := store.Close(); err != nil {
			logger.Warn("failed to close approval store", zap.Error(err))
		}
	}
	return engine.NewDecisionEngine(store, orch, metrics, logger), closeStore
}

func newDispatcher(cfg *infra.Config, logger *zap.Logger) (*notify.Dispatcher, func()) {
	var sinks []notify.Sink
	closeFn := func() {}

	if cfg.Notify.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(cfg.Notify.WebhookURL, cfg.Notify.WebhookTimeout, logger))
	}
	if cfg.Notify.RedisEnabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		sinks = append(sinks, notify.NewRedisSink(rdb, cfg.Notify.RedisChannel))
		closeFn = func() { _ = rdb.Close() }
	}

	return notify.NewDispatcher(cfg.Notify.BufferSize, logger, sinks...), closeFn
}
