package handler

import (
	"time"

	"ledger-server/internal/domain/money"
	"ledger-server/internal/domain/payment"
	"ledger-server/internal/domain/refund"
)

// ErrorResponse エラーレスポンス
// @Description エラーレスポンス
type ErrorResponse struct {
	Error   string `json:"error" example:"payment_not_found"`
	Message string `json:"message" example:"payment not found"`
}

// PaymentMethodRequest 支払い方法
// @Description type が card なら number/cvv/expiry、wallet なら account_ref を指定
type PaymentMethodRequest struct {
	Type       string `json:"type" example:"card"`
	Number     string `json:"number,omitempty" example:"4242424242424242"`
	CVV        string `json:"cvv,omitempty" example:"123"`
	Expiry     string `json:"expiry,omitempty" example:"12/30"`
	AccountRef string `json:"account_ref,omitempty" example:"wallet_abc"`
}

// SubmitPaymentRequest 決済申請リクエスト
// @Description 決済申請リクエスト
type SubmitPaymentRequest struct {
	UserID         string               `json:"user_id" example:"user_123"`
	Amount         string               `json:"amount" example:"12.34"`
	Currency       string               `json:"currency,omitempty" example:"USD"`
	IdempotencyKey string               `json:"idempotency_key,omitempty" example:"order-42"`
	Method         PaymentMethodRequest `json:"method"`
}

// PaymentMethodResponse マスク済みの支払い方法
type PaymentMethodResponse struct {
	Type       string `json:"type" example:"card"`
	Last4      string `json:"last4,omitempty" example:"4242"`
	Expiry     string `json:"expiry,omitempty" example:"12/30"`
	AccountRef string `json:"account_ref,omitempty"`
}

// PaymentResponse 決済レコード
// @Description 決済レコード
type PaymentResponse struct {
	PaymentID           string                `json:"payment_id" example:"pay_0b6f..."`
	UserID              string                `json:"user_id" example:"user_123"`
	Amount              string                `json:"amount" example:"12.34"`
	Currency            string                `json:"currency" example:"USD"`
	Status              string                `json:"status" example:"processed"`
	Method              PaymentMethodResponse `json:"method"`
	IdempotencyKey      string                `json:"idempotency_key,omitempty"`
	FailureReason       string                `json:"failure_reason,omitempty"`
	NeedsReconciliation bool                  `json:"needs_reconciliation"`
	CreatedAt           string                `json:"created_at" example:"2026-01-01T12:00:00Z"`
	UpdatedAt           string                `json:"updated_at" example:"2026-01-01T12:00:00Z"`
	ProcessedAt         string                `json:"processed_at,omitempty"`
}

// PaymentStatusResponse 決済ステータス
type PaymentStatusResponse struct {
	PaymentID string `json:"payment_id" example:"pay_0b6f..."`
	Status    string `json:"status" example:"processed"`
}

// RefundPaymentRequest 返金リクエスト
// @Description amount を省略すると全額返金
type RefundPaymentRequest struct {
	Amount string `json:"amount,omitempty" example:"5.00"`
}

// RefundResponse 返金レコード
type RefundResponse struct {
	RefundID    string `json:"refund_id" example:"refund_pay_0b6f..."`
	PaymentID   string `json:"payment_id" example:"pay_0b6f..."`
	Amount      string `json:"amount" example:"5.00"`
	Status      string `json:"status" example:"processed"`
	CreatedAt   string `json:"created_at"`
	ProcessedAt string `json:"processed_at,omitempty"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func newPaymentMethodResponse(m payment.Method) PaymentMethodResponse {
	switch v := m.(type) {
	case payment.Card:
		return PaymentMethodResponse{Type: v.Kind().String(), Last4: v.Last4(), Expiry: v.Expiry}
	case payment.Wallet:
		return PaymentMethodResponse{Type: v.Kind().String(), AccountRef: v.AccountRef}
	default:
		return PaymentMethodResponse{}
	}
}

func newPaymentResponse(p *payment.Payment) PaymentResponse {
	return PaymentResponse{
		PaymentID:           p.PaymentID(),
		UserID:              p.UserID(),
		Amount:              money.Format(p.Amount()),
		Currency:            p.Currency(),
		Status:              p.Status().String(),
		Method:              newPaymentMethodResponse(p.Method()),
		IdempotencyKey:      p.IdempotencyKey(),
		FailureReason:       p.FailureReason(),
		NeedsReconciliation: p.NeedsReconciliation(),
		CreatedAt:           formatTime(p.CreatedAt()),
		UpdatedAt:           formatTime(p.UpdatedAt()),
		ProcessedAt:         formatTimePtr(p.ProcessedAt()),
	}
}

func newRefundResponse(r *refund.Refund) RefundResponse {
	return RefundResponse{
		RefundID:    r.RefundID(),
		PaymentID:   r.PaymentID(),
		Amount:      money.Format(r.Amount()),
		Status:      r.Status().String(),
		CreatedAt:   formatTime(r.CreatedAt()),
		ProcessedAt: formatTimePtr(r.ProcessedAt()),
	}
}
