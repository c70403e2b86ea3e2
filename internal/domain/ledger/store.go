package ledger

import (
	"context"
	"errors"
	"iter"
	"time"

	"ledger-server/internal/domain/account"
	"ledger-server/internal/domain/payment"
	"ledger-server/internal/domain/refund"

	"github.com/google/uuid"
)

// ErrStaleState CASの前提ステータスが一致しなかった
var ErrStaleState = errors.New("stale state")

// NewPaymentID 新しい決済IDを採番する
func NewPaymentID() string {
	return "pay_" + uuid.NewString()
}

// CreateSpec 決済レコード作成時の入力
type CreateSpec struct {
	UserID         string
	Amount         int64
	Currency       string
	Method         payment.Method
	IdempotencyKey string
	CreatedAt      time.Time
}

// SideEffect CASと同じ原子単位で口座に適用する変更
type SideEffect func(acc *account.Account) error

// Debit 出金する副作用を返す
func Debit(amount int64) SideEffect {
	return func(acc *account.Account) error {
		return acc.Debit(amount)
	}
}

// Credit 入金する副作用を返す
func Credit(amount int64) SideEffect {
	return func(acc *account.Account) error {
		return acc.Credit(amount)
	}
}

// StatusChange CompareAndSwapStatusの入力
type StatusChange struct {
	PaymentID string
	Expected  payment.Status
	Next      payment.Status
	At        time.Time

	// FailureReason / NeedsReconciliation は空でなければ決済レコードに記録する
	FailureReason       string
	NeedsReconciliation bool

	// Refund 同じ原子単位で保存する返金レコード（任意）
	Refund *refund.Refund
	// SideEffect 決済の所有者の口座への変更（任意）
	SideEffect SideEffect
}

// Commit CAS成功後の状態
type Commit struct {
	Payment *payment.Payment
	// Account SideEffectがある場合のみ設定される
	Account *account.Account
	Refund  *refund.Refund
}

// Store 台帳ストア
// 1件のレコードに対する操作はすべて線形化可能でなければならない
type Store interface {
	// CreatePayment pendingの決済レコードを作成する
	// 同じ(userID, idempotencyKey)でfailed以外のレコードがあればErrDuplicateIdempotencyKey
	CreatePayment(ctx context.Context, spec CreateSpec) (*payment.Payment, error)

	// GetPayment 決済レコードを取得する
	GetPayment(ctx context.Context, paymentID string) (*payment.Payment, error)

	// FindByIdempotencyKey 冪等キーに紐づく有効な決済レコードを取得する
	FindByIdempotencyKey(ctx context.Context, userID, key string) (*payment.Payment, error)

	// CompareAndSwapStatus ステータスの確認、遷移、口座変更を原子的に行う
	// 現在のステータスがExpectedでなければErrStaleState
	CompareAndSwapStatus(ctx context.Context, change StatusChange) (*Commit, error)

	// ListByUser ユーザーの決済レコードを作成順に返す
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*payment.Payment, error)

	// GetAccount 口座を取得する（未作成なら残高0）
	GetAccount(ctx context.Context, userID string) (*account.Account, error)

	// GetRefund 決済に紐づく返金レコードを取得する
	GetRefund(ctx context.Context, paymentID string) (*refund.Refund, error)

	// FindForReconciliation 照合フラグ付き、またはstuckBeforeより前から
	// processing / refund_pending のままのレコードを返す
	FindForReconciliation(ctx context.Context, stuckBefore time.Time, limit int) ([]*payment.Payment, error)
}

// Paginate ListByUserをページ単位で遅延的に読み出すイテレータを返す
func Paginate(ctx context.Context, s Store, userID string, pageSize int) iter.Seq2[*payment.Payment, error] {
	if pageSize <= 0 {
		pageSize = 100
	}
	return func(yield func(*payment.Payment, error) bool) {
		offset := 0
		for {
			page, err := s.ListByUser(ctx, userID, pageSize, offset)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, p := range page {
				if !yield(p, nil) {
					return
				}
			}
			if len(page) < pageSize {
				return
			}
			offset += len(page)
		}
	}
}
