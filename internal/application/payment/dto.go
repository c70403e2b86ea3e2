package payment

import (
	"ledger-server/internal/domain/payment"
)

// SubmitPaymentRequest 決済申請リクエスト
type SubmitPaymentRequest struct {
	UserID         string
	Amount         int64 // 補助単位
	Currency       string
	Method         payment.Method
	IdempotencyKey string
}
