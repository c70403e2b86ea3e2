package rest

import (
	"context"
	"net/http"

	historyapp "ledger-server/internal/application/history"
	paymentapp "ledger-server/internal/application/payment"
	reconciliationapp "ledger-server/internal/application/reconciliation"
	refundapp "ledger-server/internal/application/refund"
	"ledger-server/internal/infrastructure/config"
	otelinfra "ledger-server/internal/infrastructure/observability/otel"
	"ledger-server/internal/presentation/rest/handler"
	restmiddleware "ledger-server/internal/presentation/rest/middleware"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// HealthCheckFunc 依存先の疎通確認
type HealthCheckFunc func(ctx context.Context) error

// Router REST APIルーター
type Router struct {
	echo                  *echo.Echo
	paymentHandler        *handler.PaymentHandler
	historyHandler        *handler.HistoryHandler
	reconciliationHandler *handler.ReconciliationHandler
}

// NewRouter 新しいRouterを作成
func NewRouter(
	cfg *config.Config,
	logger *otelinfra.Logger,
	metrics *otelinfra.Metrics,
	paymentService *paymentapp.PaymentApplicationService,
	refundService *refundapp.RefundApplicationService,
	historyService *historyapp.HistoryApplicationService,
	reconciliationService *reconciliationapp.ReconciliationApplicationService,
	healthCheck HealthCheckFunc,
) *Router {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.Server.ReadTimeout
	e.Server.WriteTimeout = cfg.Server.WriteTimeout
	e.Server.IdleTimeout = cfg.Server.IdleTimeout

	setupMiddleware(e, logger, metrics)

	r := &Router{
		echo:                  e,
		paymentHandler:        handler.NewPaymentHandler(paymentService, refundService, historyService),
		historyHandler:        handler.NewHistoryHandler(historyService),
		reconciliationHandler: handler.NewReconciliationHandler(reconciliationService),
	}
	r.setupRoutes(healthCheck)

	SetupSwagger(e)

	return r
}

// setupMiddleware ミドルウェアを設定
// エラーハンドラーは最内側に置き、ログ・メトリクス・トレースには変換後のステータスが見えるようにする
func setupMiddleware(e *echo.Echo, logger *otelinfra.Logger, metrics *otelinfra.Metrics) {
	e.Use(middleware.Recover())

	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderXRequestID},
	}))

	e.Use(middleware.RequestID())
	e.Use(restmiddleware.SecurityHeadersMiddleware())
	e.Use(restmiddleware.TracingMiddleware())
	e.Use(restmiddleware.LoggingMiddleware(logger))
	e.Use(restmiddleware.MetricsMiddleware(metrics))
	e.Use(restmiddleware.ErrorHandlerMiddleware(logger))
}

// setupRoutes ルーティングを設定
func (r *Router) setupRoutes(healthCheck HealthCheckFunc) {
	api := r.echo.Group("/api/v1")

	// 決済
	api.POST("/payments", r.paymentHandler.SubmitPayment)
	api.GET("/payments/:payment_id", r.paymentHandler.GetPayment)
	api.GET("/payments/:payment_id/status", r.paymentHandler.GetPaymentStatus)

	// 返金
	api.POST("/payments/:payment_id/refund", r.paymentHandler.RefundPayment)
	api.GET("/payments/:payment_id/refund", r.paymentHandler.GetRefund)

	// 履歴・残高
	api.GET("/users/:user_id/payments", r.historyHandler.GetUserPayments)
	api.GET("/users/:user_id/balance", r.historyHandler.GetBalance)

	// 照合
	api.GET("/reconciliation", r.reconciliationHandler.List)

	r.echo.GET("/health", func(c echo.Context) error {
		if healthCheck != nil {
			if err := healthCheck(c.Request().Context()); err != nil {
				return c.JSON(http.StatusServiceUnavailable, map[string]string{
					"status": "unavailable",
					"error":  err.Error(),
				})
			}
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
}

// Handler http.Handlerとして返す
func (r *Router) Handler() http.Handler {
	return r.echo
}

// Start サーバーを起動
func (r *Router) Start(address string) error {
	return r.echo.Start(address)
}

// Shutdown 処理中のリクエストを待ってからサーバーを停止
func (r *Router) Shutdown(ctx context.Context) error {
	return r.echo.Shutdown(ctx)
}
