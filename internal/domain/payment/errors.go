package payment

import "errors"

var (
	// ErrPaymentNotFound 決済が見つからないエラー
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrIllegalTransition 許可されていない状態遷移エラー
	ErrIllegalTransition = errors.New("illegal status transition")
	// ErrDuplicateIdempotencyKey 冪等キーが有効な決済で使用済み
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	// ErrConcurrentModification 並行更新によって前提状態が変わった
	ErrConcurrentModification = errors.New("concurrent modification")
	// ErrInvalidAmount 金額が無効
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrGatewayDeclined ゲートウェイが決済を拒否した
	ErrGatewayDeclined = errors.New("gateway declined")
	// ErrGatewayTransient ゲートウェイの結果が不明（要照合）
	ErrGatewayTransient = errors.New("gateway transient error")
	// ErrInvalidPayment 決済の入力値が無効
	ErrInvalidPayment = errors.New("invalid payment")
	// ErrInvalidMethod 支払い方法が無効
	ErrInvalidMethod = errors.New("invalid payment method")
)

// GatewayFailureError ゲートウェイ処理が成功しなかった決済を表すエラー
// 決済レコードはfailedで確定済みのため、呼び出し元はPaymentから照会できる
type GatewayFailureError struct {
	Payment *Payment
	Reason  string
	kind    error
}

// NewGatewayFailureError 新しいGatewayFailureErrorを作成
func NewGatewayFailureError(p *Payment, kind error, reason string) *GatewayFailureError {
	return &GatewayFailureError{Payment: p, Reason: reason, kind: kind}
}

func (e *GatewayFailureError) Error() string {
	id := ""
	if e.Payment != nil {
		id = e.Payment.PaymentID()
	}
	return e.kind.Error() + ": payment " + id + ": " + e.Reason
}

// Unwrap ErrGatewayDeclinedまたはErrGatewayTransientを返す
func (e *GatewayFailureError) Unwrap() error {
	return e.kind
}

// NeedsReconciliation 照合が必要な失敗かどうかを返す
func (e *GatewayFailureError) NeedsReconciliation() bool {
	return errors.Is(e.kind, ErrGatewayTransient)
}
