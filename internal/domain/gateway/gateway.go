package gateway

import (
	"context"

	"ledger-server/internal/domain/payment"
)

// Outcome ゲートウェイ呼び出しの結果種別
type Outcome string

const (
	// OutcomeSuccess 課金成功
	OutcomeSuccess Outcome = "success"
	// OutcomeDeclined 確定的な拒否（課金されていない）
	OutcomeDeclined Outcome = "declined"
	// OutcomeTransientError 結果不明（課金された可能性がある）
	OutcomeTransientError Outcome = "transient_error"
)

// String 文字列表現を返す
func (o Outcome) String() string {
	return string(o)
}

// Result ゲートウェイ呼び出しの結果
type Result struct {
	Outcome   Outcome
	Reference string // 外部の取引参照
	Reason    string // 拒否・エラー理由
}

// Success 成功結果を作成
func Success(reference string) Result {
	return Result{Outcome: OutcomeSuccess, Reference: reference}
}

// Declined 拒否結果を作成
func Declined(reason string) Result {
	return Result{Outcome: OutcomeDeclined, Reason: reason}
}

// TransientError 結果不明を作成
func TransientError(reason string) Result {
	return Result{Outcome: OutcomeTransientError, Reason: reason}
}

// Gateway 外部決済レールへの課金
// 呼び出し側は台帳ストアのロックを保持せずに呼ぶこと
// errorを返した場合はTransientErrorとして扱われる
type Gateway interface {
	Charge(ctx context.Context, method payment.Method, amount int64) (Result, error)
}

// Func 関数をGatewayとして扱うアダプタ
type Func func(ctx context.Context, method payment.Method, amount int64) (Result, error)

// Charge fを呼び出す
func (f Func) Charge(ctx context.Context, method payment.Method, amount int64) (Result, error) {
	return f(ctx, method, amount)
}
