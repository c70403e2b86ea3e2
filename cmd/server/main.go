package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	historyapp "ledger-server/internal/application/history"
	paymentapp "ledger-server/internal/application/payment"
	reconciliationapp "ledger-server/internal/application/reconciliation"
	refundapp "ledger-server/internal/application/refund"
	"ledger-server/internal/infrastructure/config"
	otelinfra "ledger-server/internal/infrastructure/observability/otel"
	grpcserver "ledger-server/internal/presentation/grpc"
	"ledger-server/internal/presentation/rest"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// OpenTelemetryの初期化
	tracerShutdown, err := otelinfra.InitTracer(&cfg.OpenTelemetry)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerShutdown(ctx); err != nil {
			log.Printf("Failed to shutdown tracer: %v", err)
		}
	}()

	meterShutdown, err := otelinfra.InitMeter(&cfg.OpenTelemetry)
	if err != nil {
		log.Fatalf("Failed to initialize meter: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := meterShutdown(ctx); err != nil {
			log.Printf("Failed to shutdown meter: %v", err)
		}
	}()

	// ロガーとメトリクスの初期化
	tracer := otelinfra.Tracer("ledger-server")
	logger := otelinfra.NewLogger(tracer)
	metrics, err := otelinfra.NewMetrics("ledger-server")
	if err != nil {
		log.Fatalf("Failed to create metrics: %v", err)
	}

	ctx := context.Background()

	// 台帳ストアの初期化
	store, err := newStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize ledger store: %v", err)
	}
	defer store.close()

	// ステータスキャッシュとイベント発行の初期化（無効なら何もしない実装）
	deps, err := newDependencies(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize dependencies: %v", err)
	}
	defer deps.close()

	// 決済ゲートウェイの初期化
	gw := newGateway(&cfg.Gateway)

	// アプリケーションサービスの初期化
	paymentAppService := paymentapp.NewPaymentApplicationService(
		store.store,
		gw,
		logger,
		metrics,
		paymentapp.WithStatusCache(deps.cache),
		paymentapp.WithPublisher(deps.publisher),
		paymentapp.WithGatewayTimeout(cfg.Gateway.Timeout),
		paymentapp.WithDefaultCurrency(cfg.Ledger.DefaultCurrency),
	)

	refundAppService := refundapp.NewRefundApplicationService(
		store.store,
		logger,
		metrics,
		refundapp.WithStatusCache(deps.cache),
		refundapp.WithPublisher(deps.publisher),
	)

	historyAppService := historyapp.NewHistoryApplicationService(
		store.store,
		logger,
		metrics,
		historyapp.WithStatusCache(deps.cache),
	)

	reconciliationAppService := reconciliationapp.NewReconciliationApplicationService(
		store.store,
		cfg.Ledger.StuckAfter,
		logger,
	)

	// REST APIルーターの初期化
	router := rest.NewRouter(
		cfg,
		logger,
		metrics,
		paymentAppService,
		refundAppService,
		historyAppService,
		reconciliationAppService,
		store.healthCheck,
	)

	// gRPCサーバーの初期化
	grpcSrv, err := grpcserver.NewServer(cfg, logger, historyAppService)
	if err != nil {
		log.Fatalf("Failed to create gRPC server: %v", err)
	}

	address := fmt.Sprintf(":%d", cfg.Server.Port)

	// グレースフルシャットダウンの設定
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info(ctx, "REST API server starting", map[string]interface{}{
			"address": address,
			"store":   cfg.Ledger.Store,
		})
		if err := router.Start(address); err != nil {
			logger.Warn(ctx, "REST API server stopped", map[string]interface{}{"error": err.Error()})
		}
	}()

	go func() {
		if err := grpcSrv.Start(); err != nil {
			logger.Warn(ctx, "gRPC server stopped", map[string]interface{}{"error": err.Error()})
		}
	}()

	<-quit
	logger.Info(ctx, "Shutting down servers", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := router.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "Error shutting down REST API server", err, nil)
	}
	if err := grpcSrv.Stop(shutdownCtx); err != nil {
		logger.Error(ctx, "Error shutting down gRPC server", err, nil)
	}

	logger.Info(ctx, "Servers stopped", nil)
}
