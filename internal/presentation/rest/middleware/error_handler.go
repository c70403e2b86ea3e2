package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"ledger-server/internal/domain/account"
	"ledger-server/internal/domain/money"
	"ledger-server/internal/domain/payment"
	"ledger-server/internal/domain/refund"
	otelinfra "ledger-server/internal/infrastructure/observability/otel"
)

// ErrorResponse エラーレスポンス
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	// PaymentID ゲートウェイ処理に失敗した決済のID。照会に使える
	PaymentID string `json:"payment_id,omitempty"`
	Status    string `json:"status,omitempty"`
}

// errorMapping ドメインエラーとHTTPステータスの対応
type errorMapping struct {
	err    error
	status int
	code   string
}

// errorMappings 先頭から順に判定する
var errorMappings = []errorMapping{
	{payment.ErrPaymentNotFound, http.StatusNotFound, "payment_not_found"},
	{refund.ErrRefundNotFound, http.StatusNotFound, "refund_not_found"},
	{payment.ErrIllegalTransition, http.StatusConflict, "illegal_transition"},
	{payment.ErrDuplicateIdempotencyKey, http.StatusConflict, "duplicate_idempotency_key"},
	{payment.ErrConcurrentModification, http.StatusConflict, "concurrent_modification"},
	{payment.ErrGatewayDeclined, http.StatusPaymentRequired, "gateway_declined"},
	{payment.ErrGatewayTransient, http.StatusBadGateway, "gateway_transient"},
	{payment.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{payment.ErrInvalidMethod, http.StatusBadRequest, "invalid_method"},
	{payment.ErrInvalidPayment, http.StatusBadRequest, "invalid_payment"},
	{account.ErrInvalidUserID, http.StatusBadRequest, "invalid_user_id"},
	{account.ErrBalanceOutOfRange, http.StatusUnprocessableEntity, "balance_out_of_range"},
	{money.ErrInvalidFormat, http.StatusBadRequest, "invalid_amount"},
	{money.ErrTooPrecise, http.StatusBadRequest, "invalid_amount"},
	{money.ErrNotPositive, http.StatusBadRequest, "invalid_amount"},
	{money.ErrOutOfRange, http.StatusBadRequest, "invalid_amount"},
}

// ErrorHandlerMiddleware エラーハンドリングミドルウェア
func ErrorHandlerMiddleware(logger *otelinfra.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			// エラーハンドリング
			return handleError(c, err, logger)
		}
	}
}

// handleError エラーを処理して適切なHTTPレスポンスを返す
func handleError(c echo.Context, err error, logger *otelinfra.Logger) error {
	ctx := c.Request().Context()

	// ドメインエラーの判定と処理
	for _, m := range errorMappings {
		if !errors.Is(err, m.err) {
			continue
		}

		resp := ErrorResponse{
			Error:   m.code,
			Message: err.Error(),
		}
		fields := map[string]interface{}{
			"error": err.Error(),
			"code":  m.code,
		}

		var gwErr *payment.GatewayFailureError
		if errors.As(err, &gwErr) && gwErr.Payment != nil {
			resp.PaymentID = gwErr.Payment.PaymentID()
			resp.Status = gwErr.Payment.Status().String()
			fields["payment_id"] = resp.PaymentID
			if gwErr.NeedsReconciliation() {
				fields["reconciliation_required"] = true
			}
		}

		logger.Warn(ctx, "Request failed", fields)
		return c.JSON(m.status, resp)
	}

	// EchoのHTTPエラー
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		logger.Warn(ctx, "HTTP error", map[string]interface{}{
			"status_code": httpErr.Code,
			"message":     httpErr.Message,
		})
		message := ""
		if msg, ok := httpErr.Message.(string); ok {
			message = msg
		} else {
			message = http.StatusText(httpErr.Code)
		}
		return c.JSON(httpErr.Code, ErrorResponse{
			Error:   http.StatusText(httpErr.Code),
			Message: message,
		})
	}

	// 予期しないエラー
	logger.Error(ctx, "Internal server error", err, map[string]interface{}{
		"path": c.Request().URL.Path,
	})
	return c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_server_error",
		Message: "An unexpected error occurred",
	})
}
