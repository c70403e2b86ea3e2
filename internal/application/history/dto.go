package history

import "ledger-server/internal/domain/payment"

// GetUserPaymentsRequest 決済履歴取得リクエスト
type GetUserPaymentsRequest struct {
	UserID string
	Limit  int
	Offset int
}

// GetUserPaymentsResponse 決済履歴取得レスポンス
type GetUserPaymentsResponse struct {
	Payments []*payment.Payment
	Limit    int
	Offset   int
}
