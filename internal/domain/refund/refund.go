package refund

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRefundNotFound 返金が見つからないエラー
	ErrRefundNotFound = errors.New("refund not found")
	// ErrAlreadyProcessed 返金が既に確定済み
	ErrAlreadyProcessed = errors.New("refund already processed")
	// ErrInvalidRefund 返金の入力値が無効
	ErrInvalidRefund = errors.New("invalid refund")
)

// Status 返金ステータス
type Status string

const (
	StatusPending   Status = "pending"   // 処理中
	StatusProcessed Status = "processed" // 確定済み
)

// String 文字列表現を返す
func (s Status) String() string {
	return string(s)
}

// NewStatus 新しいStatusを作成
func NewStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusProcessed:
		return Status(s), nil
	default:
		return "", fmt.Errorf("invalid refund status: %s", s)
	}
}

// NewRefundID 決済IDから返金IDを導出する
// 1決済につき返金は1件なので決定的に求まる
func NewRefundID(paymentID string) string {
	return "refund_" + paymentID
}

// Refund 返金レコードエンティティ
type Refund struct {
	refundID    string
	paymentID   string
	amount      int64
	status      Status
	createdAt   time.Time
	processedAt *time.Time
}

// NewRefund pendingステータスの返金を作成
func NewRefund(paymentID string, amount int64, createdAt time.Time) (*Refund, error) {
	return Restore(NewRefundID(paymentID), paymentID, amount, StatusPending, createdAt, nil)
}

// Restore 保存済みの値からRefundを再構築
func Restore(refundID, paymentID string, amount int64, status Status, createdAt time.Time, processedAt *time.Time) (*Refund, error) {
	if paymentID == "" || refundID != NewRefundID(paymentID) {
		return nil, fmt.Errorf("%w: refund id %q", ErrInvalidRefund, refundID)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidRefund)
	}
	if status != StatusPending && status != StatusProcessed {
		return nil, fmt.Errorf("%w: status %q", ErrInvalidRefund, status)
	}
	var at *time.Time
	if processedAt != nil {
		t := *processedAt
		at = &t
	}
	return &Refund{
		refundID:    refundID,
		paymentID:   paymentID,
		amount:      amount,
		status:      status,
		createdAt:   createdAt,
		processedAt: at,
	}, nil
}

// RefundID 返金IDを返す
func (r *Refund) RefundID() string {
	return r.refundID
}

// PaymentID 決済IDを返す
func (r *Refund) PaymentID() string {
	return r.paymentID
}

// Amount 返金額を返す
func (r *Refund) Amount() int64 {
	return r.amount
}

// Status ステータスを返す
func (r *Refund) Status() Status {
	return r.status
}

// CreatedAt 作成日時を返す
func (r *Refund) CreatedAt() time.Time {
	return r.createdAt
}

// ProcessedAt 確定日時を返す
func (r *Refund) ProcessedAt() *time.Time {
	if r.processedAt == nil {
		return nil
	}
	t := *r.processedAt
	return &t
}

// Process 返金を確定する
func (r *Refund) Process(at time.Time) error {
	if r.status == StatusProcessed {
		return ErrAlreadyProcessed
	}
	r.status = StatusProcessed
	t := at
	r.processedAt = &t
	return nil
}

// Clone 独立したコピーを返す
func (r *Refund) Clone() *Refund {
	c := *r
	c.processedAt = r.ProcessedAt()
	return &c
}
