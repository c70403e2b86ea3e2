package handler

import (
	"fmt"
	"net/http"

	historyapp "ledger-server/internal/application/history"
	paymentapp "ledger-server/internal/application/payment"
	refundapp "ledger-server/internal/application/refund"
	"ledger-server/internal/domain/money"
	"ledger-server/internal/domain/payment"

	"github.com/labstack/echo/v4"
)

// PaymentHandler 決済関連ハンドラー
type PaymentHandler struct {
	paymentService *paymentapp.PaymentApplicationService
	refundService  *refundapp.RefundApplicationService
	historyService *historyapp.HistoryApplicationService
}

// NewPaymentHandler 新しいPaymentHandlerを作成
func NewPaymentHandler(
	paymentService *paymentapp.PaymentApplicationService,
	refundService *refundapp.RefundApplicationService,
	historyService *historyapp.HistoryApplicationService,
) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
		refundService:  refundService,
		historyService: historyService,
	}
}

// SubmitPayment 決済申請ハンドラー
// @Summary 決済を申請
// @Description ゲートウェイで決済し、成功した場合のみ残高から引き落とします。同じidempotency_keyの再送には既存のレコードを返します
// @Tags payment
// @Accept json
// @Produce json
// @Param request body SubmitPaymentRequest true "決済申請リクエスト"
// @Success 201 {object} PaymentResponse "決済成功、または既存レコード"
// @Failure 400 {object} ErrorResponse "不正なリクエスト"
// @Failure 402 {object} ErrorResponse "ゲートウェイが拒否"
// @Failure 409 {object} ErrorResponse "冪等キーの競合"
// @Failure 502 {object} ErrorResponse "ゲートウェイの結果が不明"
// @Router /payments [post]
func (h *PaymentHandler) SubmitPayment(c echo.Context) error {
	var reqBody SubmitPaymentRequest
	if err := c.Bind(&reqBody); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	amount, err := money.Parse(reqBody.Amount)
	if err != nil {
		return err
	}

	method, err := toMethod(reqBody.Method)
	if err != nil {
		return err
	}

	p, err := h.paymentService.SubmitPayment(c.Request().Context(), &paymentapp.SubmitPaymentRequest{
		UserID:         reqBody.UserID,
		Amount:         amount,
		Currency:       reqBody.Currency,
		Method:         method,
		IdempotencyKey: reqBody.IdempotencyKey,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, newPaymentResponse(p))
}

// GetPayment 決済レコード取得ハンドラー
// @Summary 決済レコードを取得
// @Tags payment
// @Produce json
// @Param payment_id path string true "決済ID"
// @Success 200 {object} PaymentResponse
// @Failure 404 {object} ErrorResponse "決済が存在しない"
// @Router /payments/{payment_id} [get]
func (h *PaymentHandler) GetPayment(c echo.Context) error {
	p, err := h.historyService.GetPayment(c.Request().Context(), c.Param("payment_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newPaymentResponse(p))
}

// GetPaymentStatus 決済ステータス取得ハンドラー
// @Summary 決済ステータスを取得
// @Tags payment
// @Produce json
// @Param payment_id path string true "決済ID"
// @Success 200 {object} PaymentStatusResponse
// @Failure 404 {object} ErrorResponse "決済が存在しない"
// @Router /payments/{payment_id}/status [get]
func (h *PaymentHandler) GetPaymentStatus(c echo.Context) error {
	paymentID := c.Param("payment_id")
	status, err := h.historyService.GetPaymentStatus(c.Request().Context(), paymentID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, PaymentStatusResponse{
		PaymentID: paymentID,
		Status:    status.String(),
	})
}

// RefundPayment 返金ハンドラー
// @Summary 決済を返金
// @Description processed の決済を返金し、残高に戻します。返金は1決済につき1回だけです
// @Tags refund
// @Accept json
// @Produce json
// @Param payment_id path string true "決済ID"
// @Param request body RefundPaymentRequest false "返金リクエスト"
// @Success 201 {object} RefundResponse
// @Failure 400 {object} ErrorResponse "不正な金額"
// @Failure 404 {object} ErrorResponse "決済が存在しない"
// @Failure 409 {object} ErrorResponse "返金できない状態"
// @Router /payments/{payment_id}/refund [post]
func (h *PaymentHandler) RefundPayment(c echo.Context) error {
	var reqBody RefundPaymentRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&reqBody); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}

	var amount int64
	if reqBody.Amount != "" {
		parsed, err := money.Parse(reqBody.Amount)
		if err != nil {
			return err
		}
		amount = parsed
	}

	r, err := h.refundService.RefundPayment(c.Request().Context(), &refundapp.RefundPaymentRequest{
		PaymentID: c.Param("payment_id"),
		Amount:    amount,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, newRefundResponse(r))
}

// GetRefund 返金レコード取得ハンドラー
// @Summary 返金レコードを取得
// @Tags refund
// @Produce json
// @Param payment_id path string true "決済ID"
// @Success 200 {object} RefundResponse
// @Failure 404 {object} ErrorResponse "決済または返金が存在しない"
// @Router /payments/{payment_id}/refund [get]
func (h *PaymentHandler) GetRefund(c echo.Context) error {
	r, err := h.refundService.GetRefund(c.Request().Context(), c.Param("payment_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newRefundResponse(r))
}

func toMethod(req PaymentMethodRequest) (payment.Method, error) {
	switch payment.MethodKind(req.Type) {
	case payment.MethodKindCard:
		return payment.NewCard(req.Number, req.CVV, req.Expiry)
	case payment.MethodKindWallet:
		return payment.NewWallet(req.AccountRef)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", payment.ErrInvalidMethod, req.Type)
	}
}
