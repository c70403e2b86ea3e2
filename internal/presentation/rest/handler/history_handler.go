package handler

import (
	"net/http"
	"strconv"

	historyapp "ledger-server/internal/application/history"
	"ledger-server/internal/domain/money"

	"github.com/labstack/echo/v4"
)

// HistoryHandler 履歴関連ハンドラー
type HistoryHandler struct {
	historyService *historyapp.HistoryApplicationService
}

// NewHistoryHandler 新しいHistoryHandlerを作成
func NewHistoryHandler(historyService *historyapp.HistoryApplicationService) *HistoryHandler {
	return &HistoryHandler{
		historyService: historyService,
	}
}

// GetUserPayments 決済履歴取得ハンドラー
// @Summary ユーザーの決済履歴を取得
// @Description 指定されたユーザーの決済を作成順に返します
// @Tags history
// @Produce json
// @Param user_id path string true "ユーザーID" example(user_123)
// @Param limit query int false "取得件数（デフォルト: 50, 最大: 100)" default(50)
// @Param offset query int false "オフセット（デフォルト: 0)" default(0)
// @Success 200 {object} PaymentHistoryResponse
// @Failure 400 {object} ErrorResponse "不正なリクエスト"
// @Router /users/{user_id}/payments [get]
func (h *HistoryHandler) GetUserPayments(c echo.Context) error {
	limit := 0
	if limitStr := c.QueryParam("limit"); limitStr != "" {
		var err error
		limit, err = strconv.Atoi(limitStr)
		if err != nil || limit < 1 || limit > 100 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit parameter")
		}
	}

	offset := 0
	if offsetStr := c.QueryParam("offset"); offsetStr != "" {
		var err error
		offset, err = strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid offset parameter")
		}
	}

	resp, err := h.historyService.GetUserPayments(c.Request().Context(), &historyapp.GetUserPaymentsRequest{
		UserID: c.Param("user_id"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return err
	}

	payments := make([]PaymentResponse, len(resp.Payments))
	for i, p := range resp.Payments {
		payments[i] = newPaymentResponse(p)
	}

	return c.JSON(http.StatusOK, PaymentHistoryResponse{
		Payments: payments,
		Limit:    resp.Limit,
		Offset:   resp.Offset,
	})
}

// GetBalance 残高取得ハンドラー
// @Summary 残高を取得
// @Tags history
// @Produce json
// @Param user_id path string true "ユーザーID" example(user_123)
// @Success 200 {object} BalanceResponse
// @Failure 400 {object} ErrorResponse "不正なユーザーID"
// @Router /users/{user_id}/balance [get]
func (h *HistoryHandler) GetBalance(c echo.Context) error {
	acc, err := h.historyService.GetBalance(c.Request().Context(), c.Param("user_id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, BalanceResponse{
		UserID:   acc.UserID(),
		Balance:  money.Format(acc.Balance()),
		Negative: acc.IsNegative(),
		Version:  acc.Version(),
	})
}
