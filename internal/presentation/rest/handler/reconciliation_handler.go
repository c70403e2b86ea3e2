package handler

import (
	"net/http"
	"strconv"

	reconciliationapp "ledger-server/internal/application/reconciliation"

	"github.com/labstack/echo/v4"
)

// ReconciliationItem 照合対象
type ReconciliationItem struct {
	Payment PaymentResponse `json:"payment"`
	Reason  string          `json:"reason" example:"gateway_outcome_unknown"`
}

// ReconciliationResponse 照合対象一覧レスポンス
// @Description ゲートウェイの結果が不明な決済と、処理中のまま止まっている決済
type ReconciliationResponse struct {
	Items       []ReconciliationItem `json:"items"`
	StuckBefore string               `json:"stuck_before" example:"2026-01-01T11:55:00Z"`
}

// ReconciliationHandler 照合関連ハンドラー
type ReconciliationHandler struct {
	reconciliationService *reconciliationapp.ReconciliationApplicationService
}

// NewReconciliationHandler 新しいReconciliationHandlerを作成
func NewReconciliationHandler(reconciliationService *reconciliationapp.ReconciliationApplicationService) *ReconciliationHandler {
	return &ReconciliationHandler{
		reconciliationService: reconciliationService,
	}
}

// List 照合対象一覧ハンドラー
// @Summary 照合が必要な決済を取得
// @Tags reconciliation
// @Produce json
// @Param limit query int false "取得件数（デフォルト: 100, 最大: 1000)" default(100)
// @Success 200 {object} ReconciliationResponse
// @Failure 400 {object} ErrorResponse "不正なリクエスト"
// @Router /reconciliation [get]
func (h *ReconciliationHandler) List(c echo.Context) error {
	limit := 0
	if limitStr := c.QueryParam("limit"); limitStr != "" {
		var err error
		limit, err = strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit parameter")
		}
	}

	resp, err := h.reconciliationService.List(c.Request().Context(), &reconciliationapp.ListRequest{Limit: limit})
	if err != nil {
		return err
	}

	items := make([]ReconciliationItem, len(resp.Items))
	for i, item := range resp.Items {
		items[i] = ReconciliationItem{
			Payment: newPaymentResponse(item.Payment),
			Reason:  item.Reason,
		}
	}

	return c.JSON(http.StatusOK, ReconciliationResponse{
		Items:       items,
		StuckBefore: resp.StuckBefore,
	})
}
