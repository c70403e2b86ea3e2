package payment

import (
	"fmt"
)

// Status 決済ステータスを表す値オブジェクト
type Status string

const (
	StatusPending       Status = "pending"        // 作成直後
	StatusProcessing    Status = "processing"     // ゲートウェイ呼び出し中
	StatusProcessed     Status = "processed"      // 決済成功
	StatusFailed        Status = "failed"         // 決済失敗（終端）
	StatusRefundPending Status = "refund_pending" // 返金処理中
	StatusRefunded      Status = "refunded"       // 返金済み（終端）
)

// transitions 許可された遷移の一覧。ここにない遷移はすべて拒否する
var transitions = map[Status][]Status{
	StatusPending:       {StatusProcessing},
	StatusProcessing:    {StatusProcessed, StatusFailed},
	StatusProcessed:     {StatusRefundPending},
	StatusRefundPending: {StatusRefunded},
}

// rank ステータスの進行度。キャッシュが古い値で上書きしないために使う
var rank = map[Status]int{
	StatusPending:       1,
	StatusProcessing:    2,
	StatusProcessed:     3,
	StatusFailed:        3,
	StatusRefundPending: 4,
	StatusRefunded:      5,
}

// NewStatus 新しいStatusを作成
func NewStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("invalid payment status: %s", s)
	}
	return st, nil
}

// String 文字列表現を返す
func (s Status) String() string {
	return string(s)
}

// Valid 有効なステータスかどうかを返す
func (s Status) Valid() bool {
	_, ok := rank[s]
	return ok
}

// IsTerminal 終端状態かどうかを返す
func (s Status) IsTerminal() bool {
	return s == StatusFailed || s == StatusRefunded
}

// Rank ステータスの進行度を返す（無効なステータスは0）
func (s Status) Rank() int {
	return rank[s]
}

// CanTransitionTo 指定したステータスへ遷移可能かどうかを返す
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ValidateTransition 遷移が不正な場合はErrIllegalTransitionを返す
func ValidateTransition(from, to Status) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}
