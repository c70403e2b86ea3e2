package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ledger-server/internal/domain/account"
	"ledger-server/internal/domain/ledger"
	"ledger-server/internal/domain/payment"
	"ledger-server/internal/domain/refund"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	var seq atomic.Int64
	opts = append([]Option{WithIDGenerator(func() string {
		return fmt.Sprintf("pay_%d", seq.Add(1))
	})}, opts...)
	s, err := NewStore(opts...)
	require.NoError(t, err)
	return s
}

func spec(userID string, amount int64, key string, offset time.Duration) ledger.CreateSpec {
	return ledger.CreateSpec{
		UserID:         userID,
		Amount:         amount,
		Currency:       "USD",
		Method:         payment.Card{Number: "4111111111111111", CVV: "123", Expiry: "12/27"},
		IdempotencyKey: key,
		CreatedAt:      baseTime.Add(offset),
	}
}

func advance(t *testing.T, s *Store, id string, path ...payment.Status) {
	t.Helper()
	for i := 1; i < len(path); i++ {
		_, err := s.CompareAndSwapStatus(context.Background(), ledger.StatusChange{
			PaymentID: id, Expected: path[i-1], Next: path[i], At: baseTime.Add(time.Minute),
		})
		require.NoError(t, err)
	}
}

func TestStore_CreatePayment(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		setup   func(t *testing.T, s *Store)
		spec    ledger.CreateSpec
		wantID  string
		wantErr error
	}{
		{
			name:   "正常系: 新規作成",
			spec:   spec("user_1", 100, "k1", 0),
			wantID: "pay_1",
		},
		{
			name: "異常系: 有効なレコードと冪等キーが重複",
			setup: func(t *testing.T, s *Store) {
				_, err := s.CreatePayment(ctx, spec("user_1", 100, "k1", 0))
				require.NoError(t, err)
			},
			spec:    spec("user_1", 100, "k1", time.Second),
			wantErr: payment.ErrDuplicateIdempotencyKey,
		},
		{
			name: "正常系: 別ユーザーなら同じキーでも作成できる",
			setup: func(t *testing.T, s *Store) {
				_, err := s.CreatePayment(ctx, spec("user_1", 100, "k1", 0))
				require.NoError(t, err)
			},
			spec:   spec("user_2", 100, "k1", time.Second),
			wantID: "pay_2",
		},
		{
			name: "正常系: failedのレコードのキーは再利用できる",
			setup: func(t *testing.T, s *Store) {
				_, err := s.CreatePayment(ctx, spec("user_1", 100, "k1", 0))
				require.NoError(t, err)
				advance(t, s, "pay_1", payment.StatusPending, payment.StatusProcessing, payment.StatusFailed)
			},
			spec:   spec("user_1", 100, "k1", time.Second),
			wantID: "pay_2",
		},
		{
			name:    "異常系: 金額0",
			spec:    spec("user_1", 0, "", 0),
			wantErr: payment.ErrInvalidAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			if tt.setup != nil {
				tt.setup(t, s)
			}

			got, err := s.CreatePayment(ctx, tt.spec)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, got.PaymentID())
			assert.Equal(t, payment.StatusPending, got.Status())

			stored, err := s.GetPayment(ctx, tt.wantID)
			require.NoError(t, err)
			assert.Equal(t, got.Snapshot(), stored.Snapshot())
		})
	}
}

func TestStore_CreatePayment_ConcurrentSameKey(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	const n = 20
	var wg sync.WaitGroup
	var created, duplicates atomic.Int32
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CreatePayment(ctx, spec("user_1", 100, "same", time.Duration(i)))
			switch {
			case err == nil:
				created.Add(1)
			case errors.Is(err, payment.ErrDuplicateIdempotencyKey):
				duplicates.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load())
	assert.Equal(t, int32(n-1), duplicates.Load())
}

func TestStore_GetPayment_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetPayment(context.Background(), "pay_missing")
	assert.ErrorIs(t, err, payment.ErrPaymentNotFound)
}

func TestStore_FindByIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.CreatePayment(ctx, spec("user_1", 100, "k1", 0))
	require.NoError(t, err)

	got, err := s.FindByIdempotencyKey(ctx, "user_1", "k1")
	require.NoError(t, err)
	assert.Equal(t, "pay_1", got.PaymentID())

	_, err = s.FindByIdempotencyKey(ctx, "user_2", "k1")
	assert.ErrorIs(t, err, payment.ErrPaymentNotFound)

	advance(t, s, "pay_1", payment.StatusPending, payment.StatusProcessing, payment.StatusFailed)
	_, err = s.FindByIdempotencyKey(ctx, "user_1", "k1")
	assert.ErrorIs(t, err, payment.ErrPaymentNotFound)
}

func TestStore_CompareAndSwapStatus(t *testing.T) {
	ctx := context.Background()
	at := baseTime.Add(time.Hour)

	tests := []struct {
		name        string
		seed        map[string]int64
		before      []payment.Status
		change      ledger.StatusChange
		wantErr     error
		wantStatus  payment.Status
		wantBalance int64
	}{
		{
			name:   "正常系: 成功確定と出金",
			seed:   map[string]int64{"user_1": 1000},
			before: []payment.Status{payment.StatusPending, payment.StatusProcessing},
			change: ledger.StatusChange{
				Expected: payment.StatusProcessing, Next: payment.StatusProcessed,
				SideEffect: ledger.Debit(100),
			},
			wantStatus:  payment.StatusProcessed,
			wantBalance: 900,
		},
		{
			name:   "正常系: 未作成の口座は残高0から出金",
			before: []payment.Status{payment.StatusPending, payment.StatusProcessing},
			change: ledger.StatusChange{
				Expected: payment.StatusProcessing, Next: payment.StatusProcessed,
				SideEffect: ledger.Debit(100),
			},
			wantStatus:  payment.StatusProcessed,
			wantBalance: -100,
		},
		{
			name:   "異常系: 前提ステータス不一致",
			seed:   map[string]int64{"user_1": 1000},
			before: []payment.Status{payment.StatusPending},
			change: ledger.StatusChange{
				Expected: payment.StatusProcessing, Next: payment.StatusProcessed,
				SideEffect: ledger.Debit(100),
			},
			wantErr:     ledger.ErrStaleState,
			wantStatus:  payment.StatusPending,
			wantBalance: 1000,
		},
		{
			name:   "異常系: 不正な遷移",
			seed:   map[string]int64{"user_1": 1000},
			before: []payment.Status{payment.StatusPending},
			change: ledger.StatusChange{
				Expected: payment.StatusPending, Next: payment.StatusRefunded,
				SideEffect: ledger.Credit(100),
			},
			wantErr:     payment.ErrIllegalTransition,
			wantStatus:  payment.StatusPending,
			wantBalance: 1000,
		},
		{
			name:   "異常系: 副作用の失敗でステータスも変わらない",
			seed:   map[string]int64{"user_1": account.MinBalance},
			before: []payment.Status{payment.StatusPending, payment.StatusProcessing},
			change: ledger.StatusChange{
				Expected: payment.StatusProcessing, Next: payment.StatusProcessed,
				SideEffect: ledger.Debit(100),
			},
			wantErr:     account.ErrBalanceOutOfRange,
			wantStatus:  payment.StatusProcessing,
			wantBalance: account.MinBalance,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t, WithBalances(tt.seed))
			_, err := s.CreatePayment(ctx, spec("user_1", 100, "", 0))
			require.NoError(t, err)
			advance(t, s, "pay_1", tt.before...)

			change := tt.change
			change.PaymentID = "pay_1"
			change.At = at
			commit, err := s.CompareAndSwapStatus(ctx, change)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, commit)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantStatus, commit.Payment.Status())
				require.NotNil(t, commit.Account)
				assert.Equal(t, tt.wantBalance, commit.Account.Balance())
			}

			stored, err := s.GetPayment(ctx, "pay_1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, stored.Status())

			acc, err := s.GetAccount(ctx, "user_1")
			require.NoError(t, err)
			assert.Equal(t, tt.wantBalance, acc.Balance())
		})
	}
}

func TestStore_CompareAndSwapStatus_Failure(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.CreatePayment(ctx, spec("user_1", 100, "", 0))
	require.NoError(t, err)
	advance(t, s, "pay_1", payment.StatusPending, payment.StatusProcessing)

	at := baseTime.Add(time.Hour)
	commit, err := s.CompareAndSwapStatus(ctx, ledger.StatusChange{
		PaymentID: "pay_1", Expected: payment.StatusProcessing, Next: payment.StatusFailed, At: at,
		FailureReason: "gateway timeout", NeedsReconciliation: true,
	})
	require.NoError(t, err)
	assert.Nil(t, commit.Account)
	assert.Equal(t, "gateway timeout", commit.Payment.FailureReason())
	assert.True(t, commit.Payment.NeedsReconciliation())
	require.NotNil(t, commit.Payment.ProcessedAt())
	assert.Equal(t, at, *commit.Payment.ProcessedAt())
}

func TestStore_CompareAndSwapStatus_ConcurrentRefund(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, WithBalances(map[string]int64{"user_1": 1000}))
	_, err := s.CreatePayment(ctx, spec("user_1", 100, "", 0))
	require.NoError(t, err)
	advance(t, s, "pay_1", payment.StatusPending, payment.StatusProcessing, payment.StatusProcessed)

	const n = 10
	var wg sync.WaitGroup
	var wins, stale atomic.Int32
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CompareAndSwapStatus(ctx, ledger.StatusChange{
				PaymentID: "pay_1", Expected: payment.StatusProcessed, Next: payment.StatusRefundPending,
				At: baseTime, SideEffect: ledger.Credit(100),
			})
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ledger.ErrStaleState):
				stale.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(n-1), stale.Load())
	acc, err := s.GetAccount(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, int64(1100), acc.Balance())
}

func TestStore_CompareAndSwapStatus_ConcurrentDebitsSameUser(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, WithBalances(map[string]int64{"user_1": 1000}))

	const n = 5
	for i := range n {
		p, err := s.CreatePayment(ctx, spec("user_1", 100, "", time.Duration(i)))
		require.NoError(t, err)
		advance(t, s, p.PaymentID(), payment.StatusPending, payment.StatusProcessing)
	}

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CompareAndSwapStatus(ctx, ledger.StatusChange{
				PaymentID: fmt.Sprintf("pay_%d", i+1), Expected: payment.StatusProcessing, Next: payment.StatusProcessed,
				At: baseTime, SideEffect: ledger.Debit(100),
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	acc, err := s.GetAccount(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), acc.Balance())
	assert.Equal(t, n, acc.Version())
}

func TestStore_Refund(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	_, err := s.CreatePayment(ctx, spec("user_1", 100, "", 0))
	require.NoError(t, err)
	advance(t, s, "pay_1", payment.StatusPending, payment.StatusProcessing, payment.StatusProcessed)

	_, err = s.GetRefund(ctx, "pay_1")
	assert.ErrorIs(t, err, refund.ErrRefundNotFound)

	r, err := refund.NewRefund("pay_1", 100, baseTime)
	require.NoError(t, err)
	commit, err := s.CompareAndSwapStatus(ctx, ledger.StatusChange{
		PaymentID: "pay_1", Expected: payment.StatusProcessed, Next: payment.StatusRefundPending,
		At: baseTime, Refund: r,
	})
	require.NoError(t, err)
	assert.Equal(t, "refund_pay_1", commit.Refund.RefundID())

	// 呼び出し元のオブジェクトを変更しても保存済みの値には影響しない
	require.NoError(t, r.Process(baseTime))

	got, err := s.GetRefund(ctx, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, refund.StatusPending, got.Status())

	_, err = s.GetRefund(ctx, "pay_missing")
	assert.ErrorIs(t, err, payment.ErrPaymentNotFound)
}

func TestStore_ListByUser(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for i := range 5 {
		_, err := s.CreatePayment(ctx, spec("user_1", int64(100*(i+1)), "", time.Duration(i)*time.Second))
		require.NoError(t, err)
	}
	_, err := s.CreatePayment(ctx, spec("user_2", 999, "", 0))
	require.NoError(t, err)

	tests := []struct {
		name   string
		limit  int
		offset int
		want   []int64
	}{
		{name: "正常系: 全件", limit: 0, offset: 0, want: []int64{100, 200, 300, 400, 500}},
		{name: "正常系: ページング", limit: 2, offset: 1, want: []int64{200, 300}},
		{name: "正常系: 末尾", limit: 10, offset: 4, want: []int64{500}},
		{name: "正常系: 範囲外", limit: 10, offset: 5, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListByUser(ctx, "user_1", tt.limit, tt.offset)
			require.NoError(t, err)
			var amounts []int64
			for _, p := range got {
				amounts = append(amounts, p.Amount())
			}
			assert.Equal(t, tt.want, amounts)
		})
	}
}

func TestStore_ListByUser_OrderedByCreatedAt(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	// 作成日時の採番と挿入の順序が前後した場合
	for _, offset := range []time.Duration{3 * time.Second, time.Second, 2 * time.Second, time.Second} {
		_, err := s.CreatePayment(ctx, spec("user_1", 100, "", offset))
		require.NoError(t, err)
	}

	got, err := s.ListByUser(ctx, "user_1", 0, 0)
	require.NoError(t, err)
	var ids []string
	for _, p := range got {
		ids = append(ids, p.PaymentID())
	}
	assert.Equal(t, []string{"pay_2", "pay_4", "pay_3", "pay_1"}, ids)

	page, err := s.ListByUser(ctx, "user_1", 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "pay_4", page[0].PaymentID())
	assert.Equal(t, "pay_3", page[1].PaymentID())
}

func TestStore_FindForReconciliation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for i := range 4 {
		_, err := s.CreatePayment(ctx, spec("user_1", 100, "", time.Duration(i)*time.Second))
		require.NoError(t, err)
	}
	// pay_1: 照合フラグ付きの失敗
	advance(t, s, "pay_1", payment.StatusPending, payment.StatusProcessing)
	_, err := s.CompareAndSwapStatus(ctx, ledger.StatusChange{
		PaymentID: "pay_1", Expected: payment.StatusProcessing, Next: payment.StatusFailed,
		At: baseTime.Add(time.Minute), NeedsReconciliation: true, FailureReason: "timeout",
	})
	require.NoError(t, err)
	// pay_2: processingのまま
	advance(t, s, "pay_2", payment.StatusPending, payment.StatusProcessing)
	// pay_3: 通常の拒否
	advance(t, s, "pay_3", payment.StatusPending, payment.StatusProcessing, payment.StatusFailed)
	// pay_4: pendingのまま

	got, err := s.FindForReconciliation(ctx, baseTime.Add(2*time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "pay_1", got[0].PaymentID())
	assert.Equal(t, "pay_2", got[1].PaymentID())

	got, err = s.FindForReconciliation(ctx, baseTime, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "pay_1", got[0].PaymentID())

	got, err = s.FindForReconciliation(ctx, baseTime.Add(2*time.Minute), 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestStore_GetAccount(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, WithBalances(map[string]int64{"user_123": 100000}))

	acc, err := s.GetAccount(ctx, "user_123")
	require.NoError(t, err)
	assert.Equal(t, int64(100000), acc.Balance())

	acc, err = s.GetAccount(ctx, "new_user")
	require.NoError(t, err)
	assert.Equal(t, int64(0), acc.Balance())

	_, err = s.GetAccount(ctx, "bad user")
	assert.ErrorIs(t, err, account.ErrInvalidUserID)
}

func TestNewStore_InvalidSeed(t *testing.T) {
	_, err := NewStore(WithBalances(map[string]int64{"": 1}))
	assert.ErrorIs(t, err, account.ErrInvalidUserID)
}

func TestStore_CanceledContext(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.CreatePayment(ctx, spec("user_1", 100, "", 0))
	assert.ErrorIs(t, err, context.Canceled)
}
