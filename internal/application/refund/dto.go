package refund

// RefundPaymentRequest 返金リクエスト
type RefundPaymentRequest struct {
	PaymentID string
	Amount    int64 // 0なら全額
}
