package middleware

import (
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// スパン属性に写すパスパラメータ
var tracedPathParams = map[string]attribute.Key{
	"payment_id": "ledger.payment_id",
	"user_id":    "ledger.user_id",
}

// TracingMiddleware リクエスト単位のサーバースパンを開始する
// 上流のtraceparentを引き継ぎ、決済IDとユーザーIDをスパン属性に載せる
func TracingMiddleware() echo.MiddlewareFunc {
	tracer := otel.Tracer("ledger-server/rest")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := otel.GetTextMapPropagator().Extract(req.Context(), propagation.HeaderCarrier(req.Header))

			ctx, span := tracer.Start(ctx, req.Method+" "+c.Path(),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.method", req.Method),
					attribute.String("http.url", req.URL.String()),
					attribute.String("http.route", c.Path()),
					attribute.String("http.user_agent", req.UserAgent()),
				),
			)
			defer span.End()

			for _, name := range c.ParamNames() {
				if key, ok := tracedPathParams[name]; ok {
					span.SetAttributes(key.String(c.Param(name)))
				}
			}
			c.SetRequest(req.WithContext(ctx))

			err := next(c)

			res := c.Response()
			span.SetAttributes(attribute.Int("http.status_code", res.Status))
			if id := res.Header().Get(echo.HeaderXRequestID); id != "" {
				span.SetAttributes(attribute.String("http.request_id", id))
			}
			if err != nil {
				span.RecordError(err)
			}
			// 4xxは呼び出し側の誤りなのでスパンはエラーにしない
			if res.Status >= 500 {
				span.SetStatus(otelcodes.Error, "server error")
			}

			return err
		}
	}
}
