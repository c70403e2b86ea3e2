package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	otelinfra "ledger-server/internal/infrastructure/observability/otel"
)

// LoggingMiddleware ログミドルウェア
// 完了ログのレベルはステータスコードで決める（5xxはERROR、4xxはWARN）
func LoggingMiddleware(logger *otelinfra.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			ctx := c.Request().Context()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)

			// リクエスト情報をログに記録
			logger.Debug(ctx, "HTTP request started", map[string]interface{}{
				"method":      c.Request().Method,
				"path":        c.Request().URL.Path,
				"remote_addr": c.RealIP(),
				"user_agent":  c.Request().UserAgent(),
				"request_id":  requestID,
			})

			// 次のハンドラーを実行
			err := next(c)

			// レスポンス情報をログに記録
			status := responseStatus(c, err)
			fields := map[string]interface{}{
				"method":      c.Request().Method,
				"path":        c.Request().URL.Path,
				"route":       c.Path(),
				"status_code": status,
				"duration_ms": time.Since(start).Milliseconds(),
				"request_id":  requestID,
			}

			switch {
			case err != nil || status >= 500:
				logger.Error(ctx, "HTTP request failed", err, fields)
			case status >= 400:
				logger.Warn(ctx, "HTTP request rejected", fields)
			default:
				logger.Info(ctx, "HTTP request completed", fields)
			}

			return err
		}
	}
}
