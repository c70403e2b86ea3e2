package event

import (
	"context"
	"time"

	"ledger-server/internal/domain/payment"

	"github.com/google/uuid"
)

// Type イベント種別
type Type string

const (
	TypePaymentProcessed              Type = "payment.processed"
	TypePaymentFailed                 Type = "payment.failed"
	TypePaymentReconciliationRequired Type = "payment.reconciliation_required"
	TypePaymentRefunded               Type = "payment.refunded"
)

// Event 決済ライフサイクルイベント
// コミット後に発行され、発行失敗で台帳が巻き戻ることはない
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	PaymentID  string    `json:"payment_id"`
	UserID     string    `json:"user_id"`
	Amount     int64     `json:"amount"`
	Currency   string    `json:"currency"`
	Status     string    `json:"status"`
	RefundID   string    `json:"refund_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher イベント発行
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// NopPublisher 何もしないPublisher
type NopPublisher struct{}

// Publish 何もしない
func (NopPublisher) Publish(context.Context, Event) error { return nil }

// FromPayment 決済レコードの現在の状態からイベントを作成
func FromPayment(t Type, p *payment.Payment, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		PaymentID:  p.PaymentID(),
		UserID:     p.UserID(),
		Amount:     p.Amount(),
		Currency:   p.Currency(),
		Status:     p.Status().String(),
		Reason:     p.FailureReason(),
		OccurredAt: at,
	}
}
