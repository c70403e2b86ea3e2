package reconciliation

import "ledger-server/internal/domain/payment"

// ListRequest 照合対象一覧の取得リクエスト
type ListRequest struct {
	Limit int
}

// Item 照合対象の決済と対象になった理由
type Item struct {
	Payment *payment.Payment
	Reason  string
}

// ListResponse 照合対象一覧
type ListResponse struct {
	Items       []Item
	StuckBefore string
}
