package handler

// PaymentHistoryResponse 決済履歴レスポンス
// @Description 決済履歴レスポンス（作成順）
type PaymentHistoryResponse struct {
	Payments []PaymentResponse `json:"payments"`
	Limit    int               `json:"limit" example:"50"`
	Offset   int               `json:"offset" example:"0"`
}

// BalanceResponse 残高レスポンス
// @Description 残高レスポンス。負の残高もあり得る
type BalanceResponse struct {
	UserID   string `json:"user_id" example:"user_123"`
	Balance  string `json:"balance" example:"987.66"`
	Negative bool   `json:"negative"`
	Version  int    `json:"version" example:"3"`
}
